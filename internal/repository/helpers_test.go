package repository

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTempDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracking.db")
	db, err := Open(context.Background(), Config{
		Driver:   common.DriverSQLite,
		DSN:      path,
		Attempts: 1,
		Delay:    10 * time.Millisecond,
	}, discardLogger())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(db.Close)
	return db
}

func execSQL(t *testing.T, db *DB, query string, args ...any) {
	t.Helper()
	if args == nil {
		args = []any{}
	}
	require.NoError(t, db.Driver().Exec(context.Background(), query, args, nil))
}
