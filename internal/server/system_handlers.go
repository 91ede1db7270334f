package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/heraldlabs/herald/internal/database"
)

// handleLiveness handles GET /health. Always 200 once the listener is up;
// readiness is the stricter probe.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startupTime).Seconds()),
	})
}

// handleReadiness handles GET /health/ready. Not ready while any subsystem
// holds a not-ready mark, after a fatal invariant trip, or when a database
// stops answering.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready, reasons := s.metrics.Ready()

	databases := make(map[string]string, 4)
	for _, db := range []*database.DB{s.registryDB, s.intakeDB, s.ledgerDB, s.cacheDB} {
		if db == nil {
			continue
		}
		if err := db.HealthCheck(r.Context()); err != nil {
			ready = false
			databases[db.Name()] = err.Error()
			continue
		}
		databases[db.Name()] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":    state,
		"reasons":   reasons,
		"databases": databases,
	})
}

// handleMetrics handles GET /api/metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	counters, histograms := s.metrics.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"counters":   counters,
		"histograms": histograms,
	})
}

// handleSystemStats handles GET /api/system/stats.
func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.startupTime).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"subscribers":    s.events.SubscriberCount(),
		"events_dropped": s.events.Dropped(),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		stats["cpu_percent"] = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		stats["memory_percent"] = memStat.UsedPercent
		stats["memory_used_mb"] = memStat.Used / 1024 / 1024
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["heap_alloc_mb"] = memStats.HeapAlloc / 1024 / 1024

	databases := make(map[string]interface{}, 4)
	for _, db := range []*database.DB{s.registryDB, s.intakeDB, s.ledgerDB, s.cacheDB} {
		if db == nil {
			continue
		}
		if dbStats, err := db.GetStats(); err == nil {
			databases[db.Name()] = dbStats
		}
	}
	stats["databases"] = databases

	s.writeJSON(w, http.StatusOK, stats)
}
