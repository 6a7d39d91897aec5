package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/rateintel/internal/database"
)

// BackupJob creates a backup, verifies it and rotates backups past retention
type BackupJob struct {
	service       *BackupService
	retentionDays int
	timeout       time.Duration
	log           zerolog.Logger
}

// NewBackupJob creates a new backup job
func NewBackupJob(service *BackupService, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service:       service,
		retentionDays: retentionDays,
		timeout:       10 * time.Minute,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *BackupJob) Name() string {
	return "backup_databases"
}

// Run executes the backup job
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	info, err := j.service.CreateAndUploadBackup(ctx)
	if err != nil {
		return err
	}
	if _, err := j.service.VerifyBackup(ctx, info.Key); err != nil {
		return fmt.Errorf("fresh backup failed verification: %w", err)
	}

	// Rotation failures leave extra backups behind, nothing worse
	if _, err := j.service.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}

// Disk space thresholds in GB
const (
	diskCriticalGB = 0.5
	diskLowGB      = 5.0
)

// MaintenanceJob performs weekly database maintenance: a disk space check, a WAL truncate,
// VACUUM and ANALYZE.
type MaintenanceJob struct {
	databases []*database.DB
	dataDir   string
	usage     func(path string) (*disk.UsageStat, error)
	log       zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(dataDir string, log zerolog.Logger, databases ...*database.DB) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		usage:     disk.Usage,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting database maintenance")
	startTime := time.Now()

	// VACUUM needs room for a full copy of the database
	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	for _, db := range j.databases {
		if _, err := db.Conn().Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			j.log.Warn().Str("database", db.Name()).Err(err).Msg("WAL checkpoint failed")
		}

		if err := j.vacuumDatabase(db); err != nil {
			return err
		}

		if _, err := db.Conn().Exec("ANALYZE"); err != nil {
			j.log.Warn().Str("database", db.Name()).Err(err).Msg("ANALYZE failed")
		}
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Database maintenance completed")
	return nil
}

func (j *MaintenanceJob) checkDiskSpace() error {
	stat, err := j.usage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(stat.Free) / 1e9
	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	if availableGB < diskCriticalGB {
		j.log.Error().Float64("available_gb", availableGB).Msg("Insufficient disk space, skipping maintenance")
		return fmt.Errorf("only %.2f GB free in %s", availableGB, j.dataDir)
	}
	if availableGB < diskLowGB {
		j.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	}
	return nil
}

func (j *MaintenanceJob) vacuumDatabase(db *database.DB) error {
	var before, after int64
	_ = db.Conn().QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").Scan(&before)

	if _, err := db.Conn().Exec("VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum %s: %w", db.Name(), err)
	}

	_ = db.Conn().QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").Scan(&after)
	j.log.Info().
		Str("database", db.Name()).
		Int64("size_before", before).
		Int64("size_after", after).
		Msg("Database vacuumed")
	return nil
}
