package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/database"
	"github.com/heraldlabs/herald/internal/events"
	"github.com/heraldlabs/herald/internal/version"
)

const archivePrefix = "herald-backup-"
const archiveTimeLayout = "2006-01-02-150405"

// Store is the object storage surface the backup service needs.
type Store interface {
	Upload(ctx context.Context, name string, body io.Reader) error
	List(ctx context.Context) ([]Object, error)
	Delete(ctx context.Context, key string) error
}

// Metadata describes one backup archive's contents.
type Metadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Version   string             `json:"version"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes a single database inside the archive.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupService snapshots the live databases into a tar.gz archive with a
// checksum manifest and uploads it to object storage. Snapshots use
// VACUUM INTO, which is safe against concurrent writers.
type BackupService struct {
	databases []*database.DB
	store     Store
	keep      int
	dataDir   string
	clock     clock.Clock
	bus       *events.Bus
	log       zerolog.Logger
}

// NewBackupService creates the backup service. keep bounds how many
// archives rotation leaves in the store.
func NewBackupService(databases []*database.DB, store Store, keep int, dataDir string,
	clk clock.Clock, bus *events.Bus, log zerolog.Logger) *BackupService {

	if keep < 1 {
		keep = 7
	}
	return &BackupService{
		databases: databases,
		store:     store,
		keep:      keep,
		dataDir:   dataDir,
		clock:     clk,
		bus:       bus,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// Run creates one archive, uploads it, and rotates old archives. Rotation
// failures are logged, not fatal: the new backup already exists.
func (s *BackupService) Run(ctx context.Context) error {
	start := time.Now()

	archivePath, size, err := s.CreateArchive()
	if err != nil {
		return err
	}
	defer os.RemoveAll(filepath.Dir(archivePath))

	name := filepath.Base(archivePath)
	uploaded := false
	if s.store != nil {
		f, err := os.Open(archivePath)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer f.Close()

		if err := s.store.Upload(ctx, name, f); err != nil {
			return err
		}
		uploaded = true

		if err := s.Rotate(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Backup rotation failed")
		}
	}

	s.log.Info().
		Str("archive", name).
		Int64("size_bytes", size).
		Bool("uploaded", uploaded).
		Dur("duration_ms", time.Since(start)).
		Msg("Backup finished")

	s.bus.Publish("reliability", &events.BackupFinishedData{
		Archive:   name,
		SizeBytes: size,
		Uploaded:  uploaded,
	})
	return nil
}

// CreateArchive snapshots every database into a staging directory and packs
// them with a metadata manifest. Returns the archive path and size; the
// caller owns removing the staging directory.
func (s *BackupService) CreateArchive() (string, int64, error) {
	staging, err := os.MkdirTemp(s.dataDir, "backup-staging-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create staging directory: %w", err)
	}

	meta := Metadata{
		Timestamp: s.clock.Now().UTC(),
		Version:   version.Version,
		Databases: make([]DatabaseMetadata, 0, len(s.databases)),
	}

	files := make([]string, 0, len(s.databases)+1)
	for _, db := range s.databases {
		filename := db.Name() + ".db"
		dst := filepath.Join(staging, filename)

		if _, err := db.Exec("VACUUM INTO ?", dst); err != nil {
			os.RemoveAll(staging)
			return "", 0, fmt.Errorf("failed to snapshot %s: %w", db.Name(), err)
		}

		info, err := os.Stat(dst)
		if err != nil {
			os.RemoveAll(staging)
			return "", 0, fmt.Errorf("failed to stat %s snapshot: %w", db.Name(), err)
		}
		checksum, err := fileChecksum(dst)
		if err != nil {
			os.RemoveAll(staging)
			return "", 0, err
		}

		meta.Databases = append(meta.Databases, DatabaseMetadata{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	metaPath := filepath.Join(staging, "backup-metadata.json")
	if err := writeMetadata(metaPath, meta); err != nil {
		os.RemoveAll(staging)
		return "", 0, err
	}
	files = append(files, "backup-metadata.json")

	name := archivePrefix + meta.Timestamp.Format(archiveTimeLayout) + ".tar.gz"
	archivePath := filepath.Join(staging, name)
	if err := createArchive(archivePath, staging, files); err != nil {
		os.RemoveAll(staging)
		return "", 0, err
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		os.RemoveAll(staging)
		return "", 0, fmt.Errorf("failed to stat archive: %w", err)
	}

	return archivePath, info.Size(), nil
}

// Rotate deletes stored archives beyond the keep budget, newest first by
// the timestamp embedded in the archive name.
func (s *BackupService) Rotate(ctx context.Context) error {
	objects, err := s.store.List(ctx)
	if err != nil {
		return err
	}

	archives := make([]Object, 0, len(objects))
	for _, obj := range objects {
		if ts, ok := ParseArchiveTime(obj.Key); ok {
			obj.LastModified = ts
			archives = append(archives, obj)
		}
	}
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].LastModified.After(archives[j].LastModified)
	})

	deleted := 0
	for _, obj := range archives[min(s.keep, len(archives)):] {
		if err := s.store.Delete(ctx, obj.Key); err != nil {
			s.log.Warn().Str("key", obj.Key).Err(err).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.log.Info().
			Int("deleted", deleted).
			Int("kept", len(archives)-deleted).
			Msg("Backup rotation completed")
	}
	return nil
}

// ParseArchiveTime extracts the timestamp from an archive key, accepting
// prefixed keys ("herald-backups/herald-backup-...").
func ParseArchiveTime(key string) (time.Time, bool) {
	base := filepath.Base(key)
	if !strings.HasPrefix(base, archivePrefix) || !strings.HasSuffix(base, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(base, archivePrefix), ".tar.gz")
	ts, err := time.Parse(archiveTimeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, meta Metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func createArchive(archivePath, sourceDir string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, name := range files {
		if err := addFileToArchive(tw, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, path, nameInArchive string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
