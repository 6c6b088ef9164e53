// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coinflip-game/internal/model"
)

// Common errors for repository operations.
var (
	ErrEntryNotFound = errors.New("ledger entry not found")
)

const ledgerColumns = `address, xp, wins, losses, processed_game_ids, created_at, updated_at`

// LedgerRepository persists XP ledger entries in PostgreSQL.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new LedgerRepository instance.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

func scanEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := row.Scan(
		&e.Address,
		&e.XP,
		&e.Wins,
		&e.Losses,
		&e.ProcessedGameIDs,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.ProcessedGameIDs == nil {
		e.ProcessedGameIDs = []string{}
	}
	return &e, nil
}

// GetOrCreate returns the entry for address, inserting a zeroed one if absent.
// The insert never touches an existing row.
func (r *LedgerRepository) GetOrCreate(ctx context.Context, address string) (*model.LedgerEntry, bool, error) {
	const insert = `
		INSERT INTO ledger_entries (address, xp, wins, losses, processed_game_ids, created_at, updated_at)
		VALUES ($1, 0, 0, 0, '{}', NOW(), NOW())
		ON CONFLICT (address) DO NOTHING
		RETURNING ` + ledgerColumns

	entry, err := scanEntry(r.pool.QueryRow(ctx, insert, address))
	if err == nil {
		return entry, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create ledger entry: %w", err)
	}

	entry, err = r.GetByAddress(ctx, address)
	if err != nil {
		return nil, false, err
	}
	return entry, false, nil
}

// GetByAddress retrieves the entry for address.
// Returns ErrEntryNotFound if the player has never been seen.
func (r *LedgerRepository) GetByAddress(ctx context.Context, address string) (*model.LedgerEntry, error) {
	const query = `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE address = $1`

	entry, err := scanEntry(r.pool.QueryRow(ctx, query, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return entry, nil
}

// ApplyReward adds xp and one win or loss for gameID, at most once per
// (address, gameID). The guard and the mutation are one UPDATE statement, so
// concurrent callers with the same gameID serialize on the row lock and all
// but the first see the gameID already present. The reward log row is
// written by the same statement.
//
// applied is false when gameID was already processed; the current entry is
// returned unchanged in that case.
func (r *LedgerRepository) ApplyReward(ctx context.Context, address, gameID string, xp int64, won bool) (*model.LedgerEntry, bool, error) {
	const query = `
		WITH applied AS (
			UPDATE ledger_entries
			SET xp = xp + $3,
			    wins = wins + $4,
			    losses = losses + $5,
			    processed_game_ids = array_append(processed_game_ids, $2::text),
			    updated_at = NOW()
			WHERE address = $1 AND NOT ($2::text = ANY(processed_game_ids))
			RETURNING ` + ledgerColumns + `
		), logged AS (
			INSERT INTO xp_rewards (address, game_id, xp, won, created_at)
			SELECT address, $2::text, $3::bigint, $6::boolean, NOW() FROM applied
		)
		SELECT ` + ledgerColumns + ` FROM applied
	`

	var wins, losses int64
	if won {
		wins = 1
	} else {
		losses = 1
	}

	entry, err := scanEntry(r.pool.QueryRow(ctx, query, address, gameID, xp, wins, losses, won))
	if err == nil {
		return entry, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to apply reward: %w", err)
	}

	// Zero rows: either already processed or the entry does not exist.
	entry, err = r.GetByAddress(ctx, address)
	if err != nil {
		return nil, false, err
	}
	return entry, false, nil
}

// TopByXP retrieves the top N entries by XP.
func (r *LedgerRepository) TopByXP(ctx context.Context, limit int) ([]*model.LedgerEntry, error) {
	const query = `
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		ORDER BY xp DESC, wins DESC, address ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}

// Ping checks the store connection.
func (r *LedgerRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
