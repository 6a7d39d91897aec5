package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/rateintel/internal/database"
	"github.com/rs/zerolog"
)

// Trigger wakes a background processor.
type Trigger interface {
	Trigger()
}

// RetrainJob wakes the work processor so stale per-hotel training and insight work runs.
// Intervals are enforced by the processor; the schedule only sets how often it looks.
type RetrainJob struct {
	processor Trigger
}

// NewRetrainJob creates a new RetrainJob
func NewRetrainJob(processor Trigger) *RetrainJob {
	return &RetrainJob{processor: processor}
}

// Name returns the job name
func (j *RetrainJob) Name() string {
	return "retrain_models"
}

// Run executes the job
func (j *RetrainJob) Run() error {
	j.processor.Trigger()
	return nil
}

// CheckDatabaseJob verifies the integrity of the rates database and checkpoints its WAL
type CheckDatabaseJob struct {
	db      *database.DB
	timeout time.Duration
	log     zerolog.Logger
}

// NewCheckDatabaseJob creates a new CheckDatabaseJob
func NewCheckDatabaseJob(db *database.DB, log zerolog.Logger) *CheckDatabaseJob {
	return &CheckDatabaseJob{
		db:      db,
		timeout: time.Minute,
		log:     log.With().Str("job", "check_database").Logger(),
	}
}

// Name returns the job name
func (j *CheckDatabaseJob) Name() string {
	return "check_database"
}

// Run executes the check
func (j *CheckDatabaseJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database %s failed integrity check: %w", j.db.Name(), err)
	}

	// PRAGMA wal_checkpoint returns: busy, log, checkpointed
	var busy, walPages, checkpointed int
	err := j.db.Conn().QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &walPages, &checkpointed)
	if err != nil {
		return fmt.Errorf("failed to checkpoint WAL for %s: %w", j.db.Name(), err)
	}

	j.log.Debug().
		Int("busy", busy).
		Int("wal_pages", walPages).
		Int("checkpointed", checkpointed).
		Msg("Database check completed")
	return nil
}
