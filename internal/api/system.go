package api

import (
	"net/http"
	"runtime"
	"time"
)

// startTime marks process start for the uptime metric.
var startTime = time.Now()

// handleMetrics returns dispatch and runtime statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := s.coordinator.GetStats()

	writeJSON(w, http.StatusOK, map[string]any{
		"dispatch": map[string]any{
			"online_devices":   stats.OnlineDevices,
			"pending_messages": stats.PendingRecords,
		},
		"clients": map[string]any{
			"connections":  s.registry.ConnectionCount(),
			"online_users": len(s.registry.OnlineUserIDs()),
			"ws_clients":   s.hub.ClientCount(),
		},
		"telemetry": map[string]any{
			"tracked_sensors": s.dedup.SensorCount(),
		},
		"runtime": map[string]any{
			"uptime_seconds": int(time.Since(startTime).Seconds()),
			"goroutines":     runtime.NumGoroutine(),
			"heap_alloc_mb":  mem.HeapAlloc / (1 << 20),
			"go_version":     runtime.Version(),
		},
	})
}
