package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/aristath/rateintel/internal/database"
	"github.com/aristath/rateintel/internal/modules/registry"
)

const (
	backupPrefix      = "backups/"
	backupNamePrefix  = "rateintel-backup-"
	backupTimeLayout  = "2006-01-02-150405"
	metadataFilename  = "backup-metadata.json"
	minBackupsToKeep  = 3
	backupFormatMajor = "1.0.0"
)

// ErrChecksumMismatch is returned by VerifyBackup when an archived database does not match
// its recorded checksum.
var ErrChecksumMismatch = errors.New("backup checksum mismatch")

// BackupService snapshots databases into tar.gz archives stored in the model blob store
// next to the artifacts, so one bucket (or directory) holds everything needed to restore.
type BackupService struct {
	databases  []*database.DB
	store      registry.BlobStore
	stagingDir string
	now        func() time.Time
	log        zerolog.Logger
}

// BackupMetadata contains metadata about a backup
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Version   string             `json:"version"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata contains metadata about a single database in the backup
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo represents information about a stored backup
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	AgeHours  int64     `json:"age_hours"`
}

// NewBackupService creates a new backup service. Snapshots are staged under stagingDir.
func NewBackupService(store registry.BlobStore, stagingDir string, log zerolog.Logger, databases ...*database.DB) *BackupService {
	return &BackupService{
		databases:  databases,
		store:      store,
		stagingDir: stagingDir,
		now:        time.Now,
		log:        log.With().Str("service", "backup").Logger(),
	}
}

// SetClock overrides the time source (tests).
func (s *BackupService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateAndUploadBackup snapshots every database with VACUUM INTO, archives the snapshots
// with their checksums and stores the archive.
func (s *BackupService) CreateAndUploadBackup(ctx context.Context) (*BackupInfo, error) {
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	stagingDir := filepath.Join(s.stagingDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	timestamp := s.now().UTC().Truncate(time.Second)
	metadata := BackupMetadata{
		Timestamp: timestamp,
		Version:   backupFormatMajor,
		Databases: make([]DatabaseMetadata, 0, len(s.databases)),
	}

	files := make([]string, 0, len(s.databases)+1)
	for _, db := range s.databases {
		filename := db.Name() + ".db"
		dbPath := filepath.Join(stagingDir, filename)

		s.log.Debug().Str("database", db.Name()).Msg("Backing up database")

		if _, err := db.Conn().ExecContext(ctx, "VACUUM INTO ?", dbPath); err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", db.Name(), err)
		}

		info, err := os.Stat(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s backup: %w", db.Name(), err)
		}

		checksum, err := fileChecksum(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate checksum for %s: %w", db.Name(), err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	metaBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stagingDir, metadataFilename), metaBytes, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, metadataFilename)

	archive, err := createArchive(stagingDir, files)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	key := backupKey(timestamp)
	if err := s.store.Put(ctx, key, archive); err != nil {
		return nil, fmt.Errorf("failed to store backup: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("key", key).
		Int("size_bytes", len(archive)).
		Msg("Backup completed successfully")

	return &BackupInfo{Key: key, Timestamp: timestamp, SizeBytes: int64(len(archive))}, nil
}

func backupKey(t time.Time) string {
	return path.Join(strings.TrimSuffix(backupPrefix, "/"), backupNamePrefix+t.Format(backupTimeLayout)+".tar.gz")
}

func parseBackupKey(key string) (time.Time, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, backupNamePrefix) || !strings.HasSuffix(name, ".tar.gz") {
		return time.Time{}, false
	}
	ts := strings.TrimSuffix(strings.TrimPrefix(name, backupNamePrefix), ".tar.gz")
	t, err := time.Parse(backupTimeLayout, ts)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ListBackups lists stored backups, newest first
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	keys, err := s.store.List(ctx, backupPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(keys))
	for _, key := range keys {
		timestamp, ok := parseBackupKey(key)
		if !ok {
			s.log.Warn().Str("key", key).Msg("Skipping unrecognized backup key")
			continue
		}
		backups = append(backups, BackupInfo{
			Key:       key,
			Timestamp: timestamp,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes backups older than the retention period and returns how many
// were removed. The newest three are always kept; retentionDays 0 keeps everything.
func (s *BackupService) RotateOldBackups(ctx context.Context, retentionDays int) (int, error) {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if retentionDays <= 0 || len(backups) <= minBackupsToKeep {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, backup := range backups[minBackupsToKeep:] {
		if !backup.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, backup.Key); err != nil {
			s.log.Error().Err(err).Str("key", backup.Key).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", backup.Key).Time("timestamp", backup.Timestamp).Msg("Deleted old backup")
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")
	return deleted, nil
}

// VerifyBackup reads an archive back and checks every database against its recorded
// checksum.
func (s *BackupService) VerifyBackup(ctx context.Context, key string) (*BackupMetadata, error) {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup %s: %w", key, err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open backup %s: %w", key, err)
	}
	defer gz.Close()

	var metadata *BackupMetadata
	checksums := make(map[string]string)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read backup %s: %w", key, err)
		}
		if hdr.Name == metadataFilename {
			metadata = &BackupMetadata{}
			if err := json.NewDecoder(tr).Decode(metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of %s: %w", key, err)
			}
			continue
		}
		sum, err := readerChecksum(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s in %s: %w", hdr.Name, key, err)
		}
		checksums[hdr.Name] = sum
	}

	if metadata == nil {
		return nil, fmt.Errorf("backup %s has no metadata", key)
	}
	for _, db := range metadata.Databases {
		if checksums[db.Filename] != db.Checksum {
			return nil, fmt.Errorf("%w: %s in %s", ErrChecksumMismatch, db.Filename, key)
		}
	}
	return metadata, nil
}

func fileChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	return readerChecksum(file)
}

func readerChecksum(r io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

// createArchive builds a tar.gz of the named files in sourceDir
func createArchive(sourceDir string, filenames []string) ([]byte, error) {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzipWriter)

	for _, name := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, name), name); err != nil {
			return nil, fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tarWriter, file)
	return err
}
