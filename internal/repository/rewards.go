package repository

import (
	"context"
	"fmt"

	"coinflip-game/internal/model"
)

// RecentRewards retrieves applied rewards for a player, newest first.
func (r *LedgerRepository) RecentRewards(ctx context.Context, address string, limit int) ([]*model.RewardEvent, error) {
	const query = `
		SELECT address, game_id, xp, won, created_at
		FROM xp_rewards
		WHERE address = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get rewards: %w", err)
	}
	defer rows.Close()

	var events []*model.RewardEvent
	for rows.Next() {
		var ev model.RewardEvent
		err := rows.Scan(
			&ev.Address,
			&ev.GameID,
			&ev.XP,
			&ev.Won,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rewards: %w", err)
	}

	return events, nil
}
