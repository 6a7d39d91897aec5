package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/rateintel/internal/database"
	"github.com/aristath/rateintel/internal/di"
	"github.com/aristath/rateintel/internal/scheduler"
)

// SystemStatusResponse is the payload of GET /api/system/status
type SystemStatusResponse struct {
	Status        string          `json:"status"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	CPUPercent    float64         `json:"cpu_percent"`
	MemoryPercent float64         `json:"memory_percent"`
	Goroutines    int             `json:"goroutines"`
	Database      *database.Stats `json:"database,omitempty"`
	Variants      []string        `json:"variants"`
	WorkInFlight  int             `json:"work_in_flight"`
	WorkRetries   int             `json:"work_retry_queue"`
	Timestamp     time.Time       `json:"timestamp"`
}

// SystemHandlers serves host and process status
type SystemHandlers struct {
	container *di.Container
	jobs      *di.JobInstances
	started   time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates the system handlers
func NewSystemHandlers(container *di.Container, jobs *di.JobInstances, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		container: container,
		jobs:      jobs,
		started:   time.Now(),
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// HandleSystemStatus returns host load, database size and work queue state
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	resp := SystemStatusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		Variants:      h.container.ForecastService.Variants(),
		Timestamp:     time.Now(),
	}

	if stats, err := h.container.RatesDB.GetStats(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read database stats")
		resp.Status = "degraded"
	} else {
		resp.Database = stats
	}

	if p := h.container.WorkProcessor; p != nil {
		resp.WorkInFlight = p.InFlight()
		resp.WorkRetries = p.RetryQueueLen()
	}

	writeJSON(h.log, w, http.StatusOK, resp)
}

// HandleDatabaseStats returns the rates database statistics and integrity state
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.container.RatesDB.GetStats(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read database stats")
		writeError(h.log, w, http.StatusInternalServerError, "failed to read database stats")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	healthy := h.container.RatesDB.HealthCheck(ctx) == nil

	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{
		"name":    h.container.RatesDB.Name(),
		"stats":   stats,
		"healthy": healthy,
	})
}

// HandleTriggerRetrain wakes the work processor to retrain stale models
// POST /api/system/jobs/retrain
func (h *SystemHandlers) HandleTriggerRetrain(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, h.jobs.Retrain)
}

// HandleTriggerCheckDatabase runs the database integrity check immediately
// POST /api/system/jobs/check-database
func (h *SystemHandlers) HandleTriggerCheckDatabase(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, h.jobs.CheckDatabase)
}

// HandleTriggerBackup creates, verifies and rotates a database backup immediately
// POST /api/system/jobs/backup
func (h *SystemHandlers) HandleTriggerBackup(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, h.jobs.Backup)
}

// HandleTriggerMaintenance vacuums and analyzes the databases immediately
// POST /api/system/jobs/maintenance
func (h *SystemHandlers) HandleTriggerMaintenance(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, h.jobs.Maintenance)
}

// HandleListBackups lists stored backups, newest first
// GET /api/system/backups
func (h *SystemHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.container.BackupService.ListBackups(r.Context())
	if err != nil {
		writeError(h.log, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{
		"backups": backups,
		"count":   len(backups),
	})
}

func (h *SystemHandlers) runJob(w http.ResponseWriter, job scheduler.Job) {
	if err := h.container.Scheduler.RunNow(job); err != nil {
		h.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
		writeJSON(h.log, w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"job":     job.Name(),
			"message": err.Error(),
		})
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]string{
		"status": "success",
		"job":    job.Name(),
	})
}

// getSystemStats samples CPU over a short window so the endpoint stays responsive
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}

	return cpuPercent[0], memStat.UsedPercent
}
