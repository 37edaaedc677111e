package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_RecordAndRead(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(FileLoggerConfig{Dir: dir})
	require.NoError(t, err)
	defer logger.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, logger.Record(context.Background(), &Entry{
			ActorUserID: int64(i + 1),
			ActionType:  ActionTokenIssued,
			TargetType:  TargetToken,
			TargetID:    "t",
			Status:      StatusSuccess,
		}))
	}

	entries, err := logger.ReadEntries(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(1), entries[0].ActorUserID)
	assert.False(t, entries[0].CreatedAt.IsZero())

	entries, err = logger.ReadEntries(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFileLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(FileLoggerConfig{Dir: dir, MaxSize: 1, MaxFiles: 2})
	require.NoError(t, err)
	defer logger.Close()

	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	logger.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, logger.Record(context.Background(), &Entry{ActorUserID: int64(i), ActionType: "x", Status: StatusSuccess}))
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	require.NoError(t, err)
	assert.Len(t, rotated, 2)

	entries, err := logger.ReadEntries(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(4), entries[0].ActorUserID)
}

func TestFileLogger_Closed(t *testing.T) {
	logger, err := NewFileLogger(FileLoggerConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	assert.Error(t, logger.Record(context.Background(), &Entry{}))
}

func TestNewFileLogger_RequiresDir(t *testing.T) {
	_, err := NewFileLogger(FileLoggerConfig{})
	assert.Error(t, err)
}

func TestFileLogger_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(FileLoggerConfig{Dir: dir})
	require.NoError(t, err)
	defer logger.Close()

	info, err := os.Stat(filepath.Join(dir, currentFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm()&0o640)
}
