package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coinflip-game/internal/model"
)

// SQLiteLedgerRepository persists XP ledger entries in an embedded SQLite
// database. processed_games is both the processed-id set and the reward log;
// its primary key is the at-most-once guard.
type SQLiteLedgerRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteLedgerRepository creates a repository over a migrated database
// opened with db.OpenSQLite.
func NewSQLiteLedgerRepository(db *sql.DB) *SQLiteLedgerRepository {
	return &SQLiteLedgerRepository{db: db, now: time.Now}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *SQLiteLedgerRepository) load(ctx context.Context, q querier, address string) (*model.LedgerEntry, error) {
	const query = `
		SELECT address, xp, wins, losses, created_at, updated_at
		FROM ledger_entries
		WHERE address = ?
	`

	var e model.LedgerEntry
	var created, updated int64
	err := q.QueryRowContext(ctx, query, address).Scan(&e.Address, &e.XP, &e.Wins, &e.Losses, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.UpdatedAt = time.UnixMilli(updated).UTC()

	ids, err := r.processedIDs(ctx, q, address)
	if err != nil {
		return nil, err
	}
	e.ProcessedGameIDs = ids
	return &e, nil
}

func (r *SQLiteLedgerRepository) processedIDs(ctx context.Context, q querier, address string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT game_id FROM processed_games WHERE address = ? ORDER BY rowid`, address)
	if err != nil {
		return nil, fmt.Errorf("failed to get processed games: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan processed game: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating processed games: %w", err)
	}
	return ids, nil
}

// GetOrCreate returns the entry for address, inserting a zeroed one if absent.
func (r *SQLiteLedgerRepository) GetOrCreate(ctx context.Context, address string) (*model.LedgerEntry, bool, error) {
	const insert = `
		INSERT INTO ledger_entries (address, xp, wins, losses, created_at, updated_at)
		VALUES (?, 0, 0, 0, ?, ?)
		ON CONFLICT (address) DO NOTHING
	`

	now := r.now().UnixMilli()
	res, err := r.db.ExecContext(ctx, insert, address, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create ledger entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create ledger entry: %w", err)
	}

	entry, err := r.load(ctx, r.db, address)
	if err != nil {
		return nil, false, err
	}
	return entry, n == 1, nil
}

// GetByAddress retrieves the entry for address.
func (r *SQLiteLedgerRepository) GetByAddress(ctx context.Context, address string) (*model.LedgerEntry, error) {
	return r.load(ctx, r.db, address)
}

// ApplyReward adds xp and one win or loss for gameID, at most once per
// (address, gameID). The processed_games insert and the counter increments
// commit in one immediate transaction.
func (r *SQLiteLedgerRepository) ApplyReward(ctx context.Context, address, gameID string, xp int64, won bool) (*model.LedgerEntry, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin reward transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM ledger_entries WHERE address = ?`, address).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrEntryNotFound
		}
		return nil, false, fmt.Errorf("failed to apply reward: %w", err)
	}

	now := r.now().UnixMilli()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO processed_games (address, game_id, xp, won, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (address, game_id) DO NOTHING
	`, address, gameID, xp, won, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record processed game: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to record processed game: %w", err)
	}

	applied := n == 1
	if applied {
		var wins, losses int64
		if won {
			wins = 1
		} else {
			losses = 1
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE ledger_entries
			SET xp = xp + ?, wins = wins + ?, losses = losses + ?, updated_at = ?
			WHERE address = ?
		`, xp, wins, losses, now, address)
		if err != nil {
			return nil, false, fmt.Errorf("failed to apply reward: %w", err)
		}
	}

	entry, err := r.load(ctx, tx, address)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit reward: %w", err)
	}
	return entry, applied, nil
}

// TopByXP retrieves the top N entries by XP.
func (r *SQLiteLedgerRepository) TopByXP(ctx context.Context, limit int) ([]*model.LedgerEntry, error) {
	const query = `
		SELECT address
		FROM ledger_entries
		ORDER BY xp DESC, wins DESC, address ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top entries: %w", err)
	}

	var addresses []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		addresses = append(addresses, addr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	// The store runs on a single connection, so rows must be closed before
	// the per-entry reads below.
	entries := make([]*model.LedgerEntry, 0, len(addresses))
	for _, addr := range addresses {
		entry, err := r.load(ctx, r.db, addr)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RecentRewards retrieves applied rewards for a player, newest first.
func (r *SQLiteLedgerRepository) RecentRewards(ctx context.Context, address string, limit int) ([]*model.RewardEvent, error) {
	const query = `
		SELECT address, game_id, xp, won, created_at
		FROM processed_games
		WHERE address = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get rewards: %w", err)
	}
	defer rows.Close()

	var events []*model.RewardEvent
	for rows.Next() {
		var ev model.RewardEvent
		var created int64
		if err := rows.Scan(&ev.Address, &ev.GameID, &ev.XP, &ev.Won, &created); err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		ev.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rewards: %w", err)
	}
	return events, nil
}

// Ping checks the store connection.
func (r *SQLiteLedgerRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
