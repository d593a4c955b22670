package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siripipe-io/siripipe/internal/ingest"
)

type staticStats struct {
	stats ingest.Stats
}

func (s staticStats) Stats() ingest.Stats { return s.stats }

func testServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8001,
		Host:            "127.0.0.1",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}
}

func TestHandleHealth(t *testing.T) {
	stats := staticStats{stats: ingest.Stats{
		RecordsProcessed: 1250,
		RecordsFailed:    3,
		BufferedRows:     42,
		ActiveChannels:   4,
	}}

	server := NewServer(testServerConfig(), stats, slog.New(slog.DiscardHandler))
	server.startTime = time.Now().Add(-time.Minute)

	recorder := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var response healthResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))

	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, int64(1250), response.RecordsProcessed)
	assert.Equal(t, int64(3), response.RecordsFailed)
	assert.Equal(t, 42, response.BufferedRows)
	assert.Equal(t, 4, response.ActiveChannels)
	assert.Greater(t, response.UptimeSeconds, 59.0)
	assert.Greater(t, response.MemoryUsageMB, 0.0)
}

func TestHandleHealthWithoutStatsProvider(t *testing.T) {
	server := NewServer(testServerConfig(), nil, slog.New(slog.DiscardHandler))

	recorder := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, recorder.Code)

	var response healthResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, int64(0), response.RecordsProcessed)
}

func TestMetricsEndpoint(t *testing.T) {
	server := NewServer(testServerConfig(), nil, slog.New(slog.DiscardHandler))

	recorder := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "siripipe_")
}

func TestUnknownRoute(t *testing.T) {
	server := NewServer(testServerConfig(), nil, slog.New(slog.DiscardHandler))

	recorder := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestRateLimitExceeded(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit = 1
	cfg.RateBurst = 1

	server := NewServer(cfg, nil, slog.New(slog.DiscardHandler))

	first := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr error
	}{
		{
			name:   "valid",
			mutate: func(*ServerConfig) {},
		},
		{
			name: "port too high",
			mutate: func(c *ServerConfig) {
				c.Port = 70000
			},
			wantErr: ErrInvalidPort,
		},
		{
			name: "port zero",
			mutate: func(c *ServerConfig) {
				c.Port = 0
			},
			wantErr: ErrInvalidPort,
		},
		{
			name: "empty host",
			mutate: func(c *ServerConfig) {
				c.Host = ""
			},
			wantErr: ErrEmptyHost,
		},
		{
			name: "bad read timeout",
			mutate: func(c *ServerConfig) {
				c.ReadTimeout = 0
			},
			wantErr: ErrInvalidReadTimeout,
		},
		{
			name: "bad write timeout",
			mutate: func(c *ServerConfig) {
				c.WriteTimeout = -time.Second
			},
			wantErr: ErrInvalidWriteTimeout,
		},
		{
			name: "bad shutdown timeout",
			mutate: func(c *ServerConfig) {
				c.ShutdownTimeout = 0
			},
			wantErr: ErrInvalidShutdownTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testServerConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
		})
	}
}
