package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/streamcapture/internal/config"
	"github.com/audiolibrelab/streamcapture/internal/service"
	"github.com/audiolibrelab/streamcapture/internal/session"
)

type fakeService struct {
	address    string
	state      session.RecordingState
	dir        string
	setErr     error
	toggleErr  error
	recordings []service.RecordingInfo
}

func (f *fakeService) SetAddress(address string) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.address = address
	return nil
}

func (f *fakeService) ToggleRecording() (session.RecordingState, error) {
	if f.toggleErr != nil {
		return f.state, f.toggleErr
	}
	if f.state == session.StateIdle {
		f.state = session.StateRecording
	} else {
		f.state = session.StateIdle
	}
	return f.state, nil
}

func (f *fakeService) Status() service.Status {
	return service.Status{
		Snapshot: session.Snapshot{
			Address:       f.address,
			State:         f.state.String(),
			Recording:     f.state == session.StateRecording,
			PlaybackState: "idle",
		},
		Profile:             "default",
		RecordingsDirectory: f.dir,
	}
}

func (f *fakeService) ListRecordings() ([]service.RecordingInfo, error) {
	return f.recordings, nil
}

func (f *fakeService) RecordingPath(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", service.ErrInvalidRecordingName
	}
	path := filepath.Join(f.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", service.ErrRecordingNotFound
	}
	return path, nil
}

func (f *fakeService) AnalyzeRecording(name string) (*service.RecordingAnalysis, error) {
	return &service.RecordingAnalysis{Filename: name, StreamCount: 1, Streams: []service.StreamInfo{{CodecType: "video", CodecName: "h264"}}}, nil
}

func (f *fakeService) GetConfig() *config.Config { return config.Default() }

func (f *fakeService) GetLastError() string { return "" }

func (f *fakeService) Close(ctx context.Context) error { return nil }

func newTestServer(t *testing.T) (*Server, *fakeService) {
	t.Helper()
	svc := &fakeService{dir: t.TempDir()}
	return New(svc, config.Default()), svc
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	s, svc := newTestServer(t)
	svc.address = "rtsp://camera.local/live"

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "rtsp://camera.local/live", status["address"])
	assert.Equal(t, "idle", status["state"])
	assert.Equal(t, "default", status["profile"])
}

func TestSetAddressJSON(t *testing.T) {
	s, svc := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/address", strings.NewReader(`{"address":"rtsp://camera.local/live"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(t, s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rtsp://camera.local/live", svc.address)

	var resp GenericResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestSetAddressForm(t *testing.T) {
	s, svc := newTestServer(t)

	form := url.Values{"address": {"rtmp://host/app/key"}}
	req := httptest.NewRequest(http.MethodPost, "/api/address", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := do(t, s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rtmp://host/app/key", svc.address)
}

func TestSetAddressErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		expected int
	}{
		{"malformed json", `{"address":`, nil, http.StatusBadRequest},
		{"invalid address", `{"address":"nope"}`, fmt.Errorf("cannot play stream: %w", config.ErrInvalidStreamAddress), http.StatusBadRequest},
		{"disposed", `{"address":"rtsp://h/s"}`, session.ErrDisposed, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, svc := newTestServer(t)
			svc.setErr = tt.err

			req := httptest.NewRequest(http.MethodPost, "/api/address", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := do(t, s, req)

			assert.Equal(t, tt.expected, rec.Code)
			var resp GenericResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestToggleRecording(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/recording/toggle", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ToggleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "recording", resp.State)
	assert.True(t, resp.Status.Recording)

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/recording/toggle", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "idle", resp.State)
}

func TestToggleRecordingWithoutAddress(t *testing.T) {
	s, svc := newTestServer(t)
	svc.toggleErr = session.ErrNoAddress

	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/recording/toggle", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestToggleRequiresPost(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/recording/toggle", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecordings(t *testing.T) {
	s, svc := newTestServer(t)
	svc.recordings = []service.RecordingInfo{{Name: "recorded_1.mp4", SizeHuman: "1.0 KB"}}

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/recordings", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RecordingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalCount)
	assert.Equal(t, "recorded_1.mp4", resp.Recordings[0].Name)
	assert.Equal(t, svc.dir, resp.RecordingsDirectory)
}

func TestRecordingDownload(t *testing.T) {
	s, svc := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(svc.dir, "recorded_1.mp4"), []byte("0123456789"), 0644))

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/recordings/recorded_1.mp4", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))

	req := httptest.NewRequest(http.MethodGet, "/api/recordings/recorded_1.mp4", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec = do(t, s, req)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "234", rec.Body.String())

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/recordings/recorded_2.mp4", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/recordings/..recorded.mp4", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordingInfo(t *testing.T) {
	s, svc := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(svc.dir, "recorded_1.mp4"), []byte("x"), 0644))

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/recordings/recorded_1.mp4/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var analysis service.RecordingAnalysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysis))
	assert.Equal(t, "recorded_1.mp4", analysis.Filename)
	assert.Equal(t, "h264", analysis.Streams[0].CodecName)
}

func TestIndexAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "StreamCapture")

	do(t, s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "streamcapture_http_request_duration_seconds")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	s := New(&fakeService{dir: t.TempDir()}, cfg)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	s := New(&fakeService{dir: t.TempDir()}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListenPort(t *testing.T) {
	assert.Equal(t, ":8080", listenPort(":8080"))
	assert.Equal(t, ":9000", listenPort("0.0.0.0:9000"))
	assert.Equal(t, "", listenPort("bogus"))
}
