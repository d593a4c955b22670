package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/siripipe-io/siripipe/internal/ingest"
	"github.com/siripipe-io/siripipe/internal/metrics"
)

// healthResponse is the JSON body served by GET /health.
type healthResponse struct {
	Status           string  `json:"status"`
	Timestamp        string  `json:"timestamp"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	RecordsProcessed int64   `json:"records_processed"`
	RecordsFailed    int64   `json:"records_failed"`
	BufferedRows     int     `json:"buffered_rows"`
	ActiveChannels   int     `json:"active_channels"`
	MemoryUsageMB    float64 `json:"memory_usage_mb"`
}

// handleHealth serves a liveness snapshot of the pipeline.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var stats ingest.Stats
	if s.stats != nil {
		stats = s.stats.Stats()
	}

	response := healthResponse{
		Status:           "healthy",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds:    time.Since(s.startTime).Seconds(),
		RecordsProcessed: stats.RecordsProcessed,
		RecordsFailed:    stats.RecordsFailed,
		BufferedRows:     stats.BufferedRows,
		ActiveChannels:   stats.ActiveChannels,
		MemoryUsageMB:    metrics.UpdateMemoryUsage(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode health response", slog.Any("error", err))
	}
}
