package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"binsync/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupRestoresPendingData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewSQLiteStore(filepath.Join(dir, "binsync.db"), nil)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Set(ctx, "pending:bookings", []byte(`[{"id":"a"}]`)))

	svc := NewBackupService(store, config.BackupConfig{Enabled: true, Dir: filepath.Join(dir, "backups")}, nil)
	path, err := svc.PerformBackup(ctx)
	require.NoError(t, err)

	restored, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer restored.Close()

	got, err := restored.Get(ctx, "pending:bookings")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a"}]`, string(got))

	// same second: refuses to overwrite
	_, err = svc.PerformBackup(ctx)
	assert.Error(t, err)
}

func TestCleanupOldBackups(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "backup_20200101_000000.db")
	fresh := filepath.Join(dir, "backup_20990101_000000.db")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	svc := NewBackupService(nil, config.BackupConfig{Dir: dir, RetentionDays: 7}, nil)
	assert.Equal(t, 1, svc.CleanupOldBackups())

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}
