package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/streamcapture/internal/config"
	"github.com/audiolibrelab/streamcapture/internal/metrics"
	"github.com/audiolibrelab/streamcapture/internal/service"
	"github.com/audiolibrelab/streamcapture/internal/session"
)

const shutdownTimeout = 10 * time.Second

// Server is the web remote for a StreamCapture session
type Server struct {
	service service.Service
	cfg     *config.Config
	router  chi.Router
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// AddressRequest sets the stream address
type AddressRequest struct {
	Address string `json:"address"`
}

// ToggleResponse is returned after a recording toggle
type ToggleResponse struct {
	Success bool           `json:"success"`
	State   string         `json:"state"`
	Status  service.Status `json:"status"`
}

// RecordingsResponse represents the JSON response for the recordings endpoint
type RecordingsResponse struct {
	Recordings          []service.RecordingInfo `json:"recordings"`
	TotalCount          int                     `json:"total_count"`
	RecordingsDirectory string                  `json:"recordings_directory"`
}

// New creates a web server for svc
func New(svc service.Service, cfg *config.Config) *Server {
	s := &Server{
		service: svc,
		cfg:     cfg,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler serving the UI and the API
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestMetrics)

	r.Get("/", s.handleIndex)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/address", s.handleSetAddress)
		r.Post("/recording/toggle", s.handleToggleRecording)
		r.Get("/recordings", s.handleRecordings)
		r.Get("/recordings/{name}", s.handleRecordingDownload)
		r.Get("/recordings/{name}/info", s.handleRecordingInfo)
	})

	if s.cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// Run serves until ctx is cancelled, then shuts the HTTP server down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting StreamCapture Web Server",
		"listen", s.cfg.Server.Listen,
		"local_url", fmt.Sprintf("http://%s%s", getLocalIP(), listenPort(s.cfg.Server.Listen)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Shutting down web server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// handleIndex serves the web remote
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

// handleStatus returns the current session status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status())
}

// handleSetAddress changes the stream address. Accepts JSON or form data.
func (s *Server) handleSetAddress(w http.ResponseWriter, r *http.Request) {
	var req AddressRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "error", err)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form data", "error", err)
			return
		}
		req.Address = r.FormValue("address")
	}

	if err := s.service.SetAddress(req.Address); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, config.ErrInvalidStreamAddress):
			status = http.StatusBadRequest
		case errors.Is(err, session.ErrDisposed):
			status = http.StatusServiceUnavailable
		}
		s.sendErrorResponse(w, status, err.Error(), "address", req.Address)
		return
	}

	message := "Playing " + req.Address
	if config.IsBlank(req.Address) {
		message = "Stream address cleared"
	}
	writeJSON(w, http.StatusOK, GenericResponse{Success: true, Message: message})
}

// handleToggleRecording starts or stops recording
func (s *Server) handleToggleRecording(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.ToggleRecording()
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrNoAddress):
			status = http.StatusConflict
		case errors.Is(err, session.ErrDisposed):
			status = http.StatusServiceUnavailable
		}
		s.sendErrorResponse(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ToggleResponse{
		Success: true,
		State:   state.String(),
		Status:  s.service.Status(),
	})
}

// handleRecordings returns the list of recordings
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	recordings, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list recordings: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, RecordingsResponse{
		Recordings:          recordings,
		TotalCount:          len(recordings),
		RecordingsDirectory: s.service.Status().RecordingsDirectory,
	})
}

// handleRecordingDownload serves a recording file with range support
func (s *Server) handleRecordingDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	path, ok := s.resolveRecording(w, name)
	if !ok {
		return
	}

	file, err := os.Open(path)
	if err != nil {
		http.Error(w, "Error opening file", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
		return
	}

	if contentType := contentTypeFor(name); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), file)
}

// handleRecordingInfo returns ffprobe stream information for a recording
func (s *Server) handleRecordingInfo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.resolveRecording(w, name); !ok {
		return
	}

	analysis, err := s.service.AnalyzeRecording(name)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to analyze recording: %v", err), "recording", name)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) resolveRecording(w http.ResponseWriter, name string) (string, bool) {
	path, err := s.service.RecordingPath(name)
	switch {
	case err == nil:
		return path, true
	case errors.Is(err, service.ErrInvalidRecordingName):
		http.Error(w, "Invalid filename", http.StatusBadRequest)
	case errors.Is(err, service.ErrRecordingNotFound):
		http.Error(w, "File not found", http.StatusNotFound)
	default:
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
	}
	return "", false
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Warn("Sending error response to client", logFields...)
	}

	writeJSON(w, statusCode, GenericResponse{Success: false, Error: errorMsg})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write JSON response", "error", err)
	}
}

// requestMetrics records request latency by matched route
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTPRequest(r.Method, route, status, time.Since(start))
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", status, "duration", time.Since(start))
	})
}

// contentTypeFor maps recording containers to MIME types, falling back to the system table
func contentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if contentType, ok := recordingContentTypes[ext]; ok {
		return contentType
	}
	return mime.TypeByExtension(ext)
}

var recordingContentTypes = map[string]string{
	".mp4": "video/mp4",
	".mkv": "video/x-matroska",
	".ts":  "video/mp2t",
	".mov": "video/quicktime",
}

func listenPort(listen string) string {
	if _, port, err := net.SplitHostPort(listen); err == nil {
		return ":" + port
	}
	return ""
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
