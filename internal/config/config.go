package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidStreamAddress is returned for addresses that cannot be handed to a player or recorder
var ErrInvalidStreamAddress = errors.New("invalid stream address")

type RootConfig struct {
	ActiveProfile string              `mapstructure:"active_profile" yaml:"active_profile"`
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
	Metrics       MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
	Profiles      map[string]*Profile `mapstructure:"profiles" yaml:"profiles"`
}

// Profile is one named set of stream, recording and playback settings
type Profile struct {
	Stream     StreamConfig     `mapstructure:"stream" yaml:"stream"`
	Recordings RecordingsConfig `mapstructure:"recordings" yaml:"recordings"`
	Recorder   RecorderConfig   `mapstructure:"recorder" yaml:"recorder"`
	Player     PlayerConfig     `mapstructure:"player" yaml:"player"`
}

type Config struct {
	Stream     StreamConfig     `mapstructure:"stream" yaml:"stream"`
	Recordings RecordingsConfig `mapstructure:"recordings" yaml:"recordings"`
	Recorder   RecorderConfig   `mapstructure:"recorder" yaml:"recorder"`
	Player     PlayerConfig     `mapstructure:"player" yaml:"player"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`

	// Profile is the name of the profile this config was resolved from
	Profile string `mapstructure:"-" yaml:"profile,omitempty"`

	// Internal field to track inheritance information for config show
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type InheritanceInfo struct {
	Stream struct {
		Address string // "inherited" or "profile-specific"
	}
	Recordings struct {
		Directory string
		Prefix    string
		Extension string
	}
	Recorder struct {
		Backend       string
		FFmpegPath    string
		RTSPTransport string
		StopTimeout   string
	}
	Player struct {
		Command string
	}
}

type StreamConfig struct {
	Address string `mapstructure:"address" yaml:"address"` // optional, applied at session start
}

type RecordingsConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	Extension string `mapstructure:"extension" yaml:"extension"` // "mp4", "mkv", "ts", "mov"
}

type RecorderConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"` // "ffmpeg", "auto"
	FFmpegPath    string        `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	RTSPTransport string        `mapstructure:"rtsp_transport" yaml:"rtsp_transport"` // "tcp", "udp", "http", "udp_multicast"
	StopTimeout   time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	ExtraArgs     []string      `mapstructure:"extra_args" yaml:"extra_args,omitempty"`
}

type PlayerConfig struct {
	Command    string `mapstructure:"command" yaml:"command"` // "auto", "ffplay", "mpv", "vlc"
	LowLatency bool   `mapstructure:"low_latency" yaml:"low_latency"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// MaxPrefixLength keeps <prefix>_<unix-millis>.<ext> within common file name limits
const MaxPrefixLength = 200

var supportedExtensions = []string{"mp4", "mkv", "ts", "mov"}

var supportedSchemes = []string{"rtsp", "rtsps", "rtmp", "rtmps", "http", "https", "srt", "udp", "rtp"}

// Default returns the built-in configuration used when no config file exists
func Default() *Config {
	return &Config{
		Recordings: RecordingsConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Videos", "StreamCapture", "recordings"),
			Prefix:    "recorded",
			Extension: "mp4",
		},
		Recorder: RecorderConfig{
			Backend:       "auto",
			FFmpegPath:    "ffmpeg",
			RTSPTransport: "tcp",
			StopTimeout:   5 * time.Second,
		},
		Player: PlayerConfig{
			Command:    "auto",
			LowLatency: true,
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Profile: "default",
	}
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ReadRootConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	profileName := profile
	if profileName == "" {
		profileName = rootConfig.ActiveProfile
	}
	if profileName == "" {
		profileName = "default"
	}

	selectedProfile, exists := rootConfig.Profiles[profileName]
	if !exists {
		// A file without profiles still carries valid globals
		if profileName != "default" || len(rootConfig.Profiles) > 0 {
			return nil, fmt.Errorf("configuration profile '%s' not found", profileName)
		}
		selectedProfile = &Profile{}
	}

	// Built-in defaults, then the file's default profile, then the selected profile
	resolved := mergeConfigs(Default(), profileToConfig(rootConfig.Profiles["default"]))
	if profileName != "default" {
		resolved = mergeConfigs(resolved, profileToConfig(selectedProfile))
	}

	if rootConfig.Server.Listen != "" {
		resolved.Server.Listen = rootConfig.Server.Listen
	}
	if rootConfig.Log.Level != "" {
		resolved.Log.Level = rootConfig.Log.Level
	}
	resolved.Metrics.Enabled = rootConfig.Metrics.Enabled
	resolved.Profile = profileName

	resolved.Recordings.Directory = expandPath(resolved.Recordings.Directory)

	if err := Validate(resolved); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return resolved, nil
}

// ReadRootConfig reads the configuration file and returns the raw, unresolved content
func ReadRootConfig(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("STREAMCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("metrics.enabled", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for name, p := range rootConfig.Profiles {
		if p == nil {
			return nil, fmt.Errorf("profile '%s' is empty", name)
		}
	}

	return &rootConfig, nil
}

// UpdateActiveProfile updates the active_profile field in the config file
func UpdateActiveProfile(configFile, newActiveProfile string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_profile", newActiveProfile)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

func profileToConfig(p *Profile) *Config {
	if p == nil {
		return nil
	}
	return &Config{
		Stream:     p.Stream,
		Recordings: p.Recordings,
		Recorder:   p.Recorder,
		Player:     p.Player,
	}
}

// mergeConfigs overlays profile on base: every non-zero profile value wins,
// everything else falls back to base. Player.LowLatency always comes from the profile
// when one is given, since a bool cannot express "unset".
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	result.Inheritance = &InheritanceInfo{}

	if base != nil {
		result.Stream = base.Stream
		result.Recordings = base.Recordings
		result.Recorder = base.Recorder
		result.Recorder.ExtraArgs = append([]string(nil), base.Recorder.ExtraArgs...)
		result.Player = base.Player
		result.Server = base.Server
		result.Log = base.Log
		result.Metrics = base.Metrics
		result.Profile = base.Profile

		result.Inheritance.Stream.Address = "inherited"
		result.Inheritance.Recordings.Directory = "inherited"
		result.Inheritance.Recordings.Prefix = "inherited"
		result.Inheritance.Recordings.Extension = "inherited"
		result.Inheritance.Recorder.Backend = "inherited"
		result.Inheritance.Recorder.FFmpegPath = "inherited"
		result.Inheritance.Recorder.RTSPTransport = "inherited"
		result.Inheritance.Recorder.StopTimeout = "inherited"
		result.Inheritance.Player.Command = "inherited"
	}

	if profile == nil {
		return result
	}

	if profile.Stream.Address != "" {
		result.Stream.Address = profile.Stream.Address
		result.Inheritance.Stream.Address = "profile-specific"
	}

	if profile.Recordings.Directory != "" {
		result.Recordings.Directory = profile.Recordings.Directory
		result.Inheritance.Recordings.Directory = "profile-specific"
	}
	if profile.Recordings.Prefix != "" {
		result.Recordings.Prefix = profile.Recordings.Prefix
		result.Inheritance.Recordings.Prefix = "profile-specific"
	}
	if profile.Recordings.Extension != "" {
		result.Recordings.Extension = strings.TrimPrefix(strings.ToLower(profile.Recordings.Extension), ".")
		result.Inheritance.Recordings.Extension = "profile-specific"
	}

	if profile.Recorder.Backend != "" {
		result.Recorder.Backend = profile.Recorder.Backend
		result.Inheritance.Recorder.Backend = "profile-specific"
	}
	if profile.Recorder.FFmpegPath != "" {
		result.Recorder.FFmpegPath = profile.Recorder.FFmpegPath
		result.Inheritance.Recorder.FFmpegPath = "profile-specific"
	}
	if profile.Recorder.RTSPTransport != "" {
		result.Recorder.RTSPTransport = profile.Recorder.RTSPTransport
		result.Inheritance.Recorder.RTSPTransport = "profile-specific"
	}
	if profile.Recorder.StopTimeout != 0 {
		result.Recorder.StopTimeout = profile.Recorder.StopTimeout
		result.Inheritance.Recorder.StopTimeout = "profile-specific"
	}
	if len(profile.Recorder.ExtraArgs) > 0 {
		result.Recorder.ExtraArgs = append([]string(nil), profile.Recorder.ExtraArgs...)
	}

	if profile.Player.Command != "" {
		result.Player.Command = profile.Player.Command
		result.Inheritance.Player.Command = "profile-specific"
	}
	result.Player.LowLatency = profile.Player.LowLatency

	return result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// IsBlank reports whether an address carries nothing but whitespace
func IsBlank(address string) bool {
	return strings.TrimSpace(address) == ""
}

// ValidateStreamAddress checks that address is a URL a player or recorder can open:
// a supported scheme and a non-empty host.
func ValidateStreamAddress(address string) error {
	if IsBlank(address) {
		return fmt.Errorf("%w: address is blank", ErrInvalidStreamAddress)
	}

	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStreamAddress, err)
	}

	if u.Scheme == "" {
		return fmt.Errorf("%w: missing scheme in %q", ErrInvalidStreamAddress, address)
	}
	if !contains(supportedSchemes, strings.ToLower(u.Scheme)) {
		return fmt.Errorf("%w: unsupported scheme %q (supported: %s)", ErrInvalidStreamAddress, u.Scheme, strings.Join(supportedSchemes, ", "))
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host in %q", ErrInvalidStreamAddress, address)
	}

	return nil
}

// Validate checks a resolved configuration
func Validate(cfg *Config) error {
	if cfg.Stream.Address != "" {
		if err := ValidateStreamAddress(cfg.Stream.Address); err != nil {
			return fmt.Errorf("stream.address: %w", err)
		}
	}

	if cfg.Recordings.Directory == "" {
		return fmt.Errorf("recordings.directory is required")
	}
	if cfg.Recordings.Prefix == "" {
		return fmt.Errorf("recordings.prefix is required")
	}
	if len(cfg.Recordings.Prefix) > MaxPrefixLength {
		return fmt.Errorf("recordings.prefix must be at most %d characters, got %d", MaxPrefixLength, len(cfg.Recordings.Prefix))
	}
	if CleanFileName(cfg.Recordings.Prefix) != cfg.Recordings.Prefix {
		return fmt.Errorf("recordings.prefix may only contain letters, numbers, hyphens and underscores, got: %s", cfg.Recordings.Prefix)
	}
	if !contains(supportedExtensions, cfg.Recordings.Extension) {
		return fmt.Errorf("recordings.extension must be one of %s, got: %s", strings.Join(supportedExtensions, ", "), cfg.Recordings.Extension)
	}

	switch strings.ToLower(cfg.Recorder.Backend) {
	case "", "auto", "ffmpeg":
	default:
		return fmt.Errorf("recorder.backend must be 'ffmpeg' or 'auto', got: %s", cfg.Recorder.Backend)
	}
	if cfg.Recorder.FFmpegPath == "" {
		return fmt.Errorf("recorder.ffmpeg_path is required")
	}
	switch cfg.Recorder.RTSPTransport {
	case "", "tcp", "udp", "http", "udp_multicast":
	default:
		return fmt.Errorf("recorder.rtsp_transport must be 'tcp', 'udp', 'http' or 'udp_multicast', got: %s", cfg.Recorder.RTSPTransport)
	}
	if cfg.Recorder.StopTimeout <= 0 {
		return fmt.Errorf("recorder.stop_timeout must be > 0, got: %s", cfg.Recorder.StopTimeout)
	}

	switch strings.ToLower(cfg.Player.Command) {
	case "", "auto", "ffplay", "mpv", "vlc":
	default:
		return fmt.Errorf("player.command must be one of auto, ffplay, mpv, vlc, got: %s", cfg.Player.Command)
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got: %s", cfg.Log.Level)
	}

	return nil
}

// CleanFileName sanitizes a filename
// Allows: letters, numbers, spaces, hyphens, underscores
func CleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
