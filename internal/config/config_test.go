package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, int64(2), cfg.Ledger.WinXP)
	assert.Equal(t, int64(1), cfg.Ledger.LossXP)
	assert.Equal(t, int64(10), cfg.Ledger.XPPerLevel)
	assert.Equal(t, 100, cfg.Ledger.MaxLevel)
	assert.Equal(t, 30*time.Second, cfg.Leaderboard.CacheTTL)
	assert.Equal(t, 90*time.Second, cfg.Matcher.Timeout)
	assert.Equal(t, 10, cfg.Poller.HistorySize)
	assert.Equal(t, uint64(5000), cfg.Poller.InitialLookbackBlocks)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
database:
  driver: sqlite
  sqlite_path: /tmp/ledger.db
ledger:
  win_xp: 5
matcher:
  timeout: 45s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("LEDGER_LOSS_XP", "3")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.SQLitePath)
	assert.Equal(t, int64(5), cfg.Ledger.WinXP)
	assert.Equal(t, int64(3), cfg.Ledger.LossXP)
	assert.Equal(t, 45*time.Second, cfg.Matcher.Timeout)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestChainConfig_WagerBounds(t *testing.T) {
	c := ChainConfig{MinWager: "0.01", MaxWager: "1"}
	lo, hi, err := c.WagerBounds()
	require.NoError(t, err)
	assert.True(t, lo.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, hi.Equal(decimal.NewFromInt(1)))

	c = ChainConfig{MinWager: "2", MaxWager: "1"}
	_, _, err = c.WagerBounds()
	assert.Error(t, err)

	c = ChainConfig{MinWager: "abc", MaxWager: "1"}
	_, _, err = c.WagerBounds()
	assert.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: 5433, Name: "n"}
	assert.Equal(t, "postgres://u:p@h:5433/n?sslmode=disable", d.DSN())
}
