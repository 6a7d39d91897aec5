package di

import (
	"fmt"

	"github.com/aristath/rateintel/internal/config"
	"github.com/aristath/rateintel/internal/reliability"
	"github.com/aristath/rateintel/internal/scheduler"
	"github.com/rs/zerolog"
)

// JobInstances holds the scheduled jobs for manual triggering via the API
type JobInstances struct {
	Retrain       *scheduler.RetrainJob
	CheckDatabase *scheduler.CheckDatabaseJob
	Backup        *reliability.BackupJob
	Maintenance   *reliability.MaintenanceJob
}

// RegisterJobs creates the jobs and registers them with the scheduler.
// An empty retrain schedule leaves retraining to manual triggers.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	container.Scheduler = scheduler.New(log)

	jobs := &JobInstances{
		Retrain:       scheduler.NewRetrainJob(container.WorkProcessor),
		CheckDatabase: scheduler.NewCheckDatabaseJob(container.RatesDB, log),
		Backup:        reliability.NewBackupJob(container.BackupService, cfg.Backup.RetentionDays, log),
		Maintenance:   reliability.NewMaintenanceJob(cfg.DataDir, log, container.RatesDB),
	}

	if cfg.Retrain.Schedule != "" {
		if err := container.Scheduler.AddJob(cfg.Retrain.Schedule, jobs.Retrain); err != nil {
			return nil, fmt.Errorf("invalid retrain schedule %q: %w", cfg.Retrain.Schedule, err)
		}
	}
	if err := container.Scheduler.AddJob("@daily", jobs.CheckDatabase); err != nil {
		return nil, fmt.Errorf("failed to register database check: %w", err)
	}
	if cfg.Backup.Schedule != "" {
		if err := container.Scheduler.AddJob(cfg.Backup.Schedule, jobs.Backup); err != nil {
			return nil, fmt.Errorf("invalid backup schedule %q: %w", cfg.Backup.Schedule, err)
		}
	}
	if err := container.Scheduler.AddJob("@weekly", jobs.Maintenance); err != nil {
		return nil, fmt.Errorf("failed to register database maintenance: %w", err)
	}

	return jobs, nil
}
