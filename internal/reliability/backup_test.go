package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/database"
	"github.com/heraldlabs/herald/internal/events"
	htesting "github.com/heraldlabs/herald/internal/testing"
)

type fakeStore struct {
	uploads []string
	objects []Object
	deleted []string
	err     error
}

func (f *fakeStore) Upload(_ context.Context, name string, body io.Reader) error {
	if f.err != nil {
		return f.err
	}
	size, err := io.Copy(io.Discard, body)
	if err != nil {
		return err
	}
	f.uploads = append(f.uploads, name)
	f.objects = append(f.objects, Object{Key: name, SizeBytes: size})
	return nil
}

func (f *fakeStore) List(_ context.Context) ([]Object, error) {
	return f.objects, f.err
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func newBackupFixture(t *testing.T, store Store, keep int) (*BackupService, *events.Bus, func()) {
	t.Helper()

	registryDB, registryCleanup := htesting.NewTestDB(t, "registry")
	ledgerDB, ledgerCleanup := htesting.NewTestDB(t, "ledger")

	dataDir, err := os.MkdirTemp("", "herald-backup-test-*")
	require.NoError(t, err)

	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewBus(zerolog.Nop())

	svc := NewBackupService([]*database.DB{registryDB, ledgerDB}, store, keep,
		dataDir, clk, bus, zerolog.Nop())

	cleanup := func() {
		os.RemoveAll(dataDir)
		ledgerCleanup()
		registryCleanup()
	}
	return svc, bus, cleanup
}

func readArchive(t *testing.T, path string) map[string][]byte {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	entries := make(map[string][]byte)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[header.Name] = data
	}
	return entries
}

func TestCreateArchivePacksSnapshotsAndManifest(t *testing.T) {
	svc, _, cleanup := newBackupFixture(t, nil, 7)
	defer cleanup()

	path, size, err := svc.CreateArchive()
	require.NoError(t, err)
	defer os.RemoveAll(path)
	assert.Greater(t, size, int64(0))

	entries := readArchive(t, path)
	require.Contains(t, entries, "registry.db")
	require.Contains(t, entries, "ledger.db")
	require.Contains(t, entries, "backup-metadata.json")

	var meta Metadata
	require.NoError(t, json.Unmarshal(entries["backup-metadata.json"], &meta))
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), meta.Timestamp)
	require.Len(t, meta.Databases, 2)
	for _, db := range meta.Databases {
		assert.Contains(t, entries, db.Filename)
		assert.Equal(t, int64(len(entries[db.Filename])), db.SizeBytes)
		assert.Contains(t, db.Checksum, "sha256:")
	}
}

func TestRunUploadsAndPublishes(t *testing.T) {
	store := &fakeStore{}
	svc, bus, cleanup := newBackupFixture(t, store, 7)
	defer cleanup()

	ch, unsub := bus.Subscribe(4)
	defer unsub()

	require.NoError(t, svc.Run(context.Background()))
	require.Len(t, store.uploads, 1)
	assert.Equal(t, "herald-backup-2026-03-01-120000.tar.gz", store.uploads[0])

	evt := <-ch
	require.Equal(t, events.BackupFinished, evt.Type)
	data := evt.Data.(*events.BackupFinishedData)
	assert.Equal(t, store.uploads[0], data.Archive)
	assert.True(t, data.Uploaded)
	assert.Greater(t, data.SizeBytes, int64(0))
}

func TestRunWithoutStoreStillPublishes(t *testing.T) {
	svc, bus, cleanup := newBackupFixture(t, nil, 7)
	defer cleanup()

	ch, unsub := bus.Subscribe(4)
	defer unsub()

	require.NoError(t, svc.Run(context.Background()))
	evt := <-ch
	data := evt.Data.(*events.BackupFinishedData)
	assert.False(t, data.Uploaded)
}

func TestRotateKeepsNewest(t *testing.T) {
	store := &fakeStore{}
	base := time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("herald-backups/herald-backup-%s.tar.gz",
			base.AddDate(0, 0, i).Format("2006-01-02-150405"))
		store.objects = append(store.objects, Object{Key: name})
	}
	// Non-archive keys are never touched.
	store.objects = append(store.objects, Object{Key: "herald-backups/notes.txt"})

	svc, _, cleanup := newBackupFixture(t, store, 3)
	defer cleanup()

	require.NoError(t, svc.Rotate(context.Background()))
	sort.Strings(store.deleted)
	assert.Equal(t, []string{
		"herald-backups/herald-backup-2026-02-01-030000.tar.gz",
		"herald-backups/herald-backup-2026-02-02-030000.tar.gz",
	}, store.deleted)
}

func TestParseArchiveTime(t *testing.T) {
	ts, ok := ParseArchiveTime("herald-backups/herald-backup-2026-03-01-120000.tar.gz")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), ts)

	_, ok = ParseArchiveTime("herald-backups/backup.tar.gz")
	assert.False(t, ok)
	_, ok = ParseArchiveTime("herald-backup-garbage.tar.gz")
	assert.False(t, ok)
}
