package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_AppliesMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	sqlDB, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer sqlDB.Close()

	for _, table := range []string{"ledger_entries", "processed_games"} {
		var name string
		err := sqlDB.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	// Reopening must be a no-op for already applied migrations.
	require.NoError(t, sqlDB.Close())
	sqlDB, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}
