package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"coinflip-game/internal/config"
	"coinflip-game/internal/model"
	"coinflip-game/internal/pkg/cache"
	"coinflip-game/internal/pkg/metrics"
)

const leaderboardCacheKey = "leaderboard"

// LeaderboardService projects the ledger into a ranked, briefly cached view.
type LeaderboardService struct {
	store   LedgerStore
	cache   cache.Cache
	ledger  config.LedgerConfig
	limit   int
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewLeaderboardService creates a new LeaderboardService instance.
// A nil cache disables caching.
func NewLeaderboardService(
	store LedgerStore,
	c cache.Cache,
	ledger config.LedgerConfig,
	cfg config.LeaderboardConfig,
	m *metrics.Metrics,
) *LeaderboardService {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 100
	}
	return &LeaderboardService{
		store:   store,
		cache:   c,
		ledger:  ledger,
		limit:   limit,
		ttl:     cfg.CacheTTL,
		metrics: m,
	}
}

// WinLossRatio formats wins/(wins+losses) with two decimals, "0.00" when no games were played.
func WinLossRatio(wins, losses int64) string {
	total := wins + losses
	if total == 0 {
		return "0.00"
	}
	return decimal.NewFromInt(wins).DivRound(decimal.NewFromInt(total), 2).StringFixed(2)
}

// List returns the leaderboard sorted by xp desc, wins desc, address asc.
// Cache failures degrade to a direct store read.
func (s *LeaderboardService) List(ctx context.Context) ([]model.LeaderboardRow, error) {
	if s.cache != nil && s.ttl > 0 {
		raw, ok, err := s.cache.Get(ctx, leaderboardCacheKey)
		if err != nil {
			log.Warn().Err(err).Msg("Leaderboard cache read failed")
		}
		if ok {
			var rows []model.LeaderboardRow
			if err := json.Unmarshal(raw, &rows); err == nil {
				s.metrics.CacheLookup(true)
				return rows, nil
			}
		}
		s.metrics.CacheLookup(false)
	}

	entries, err := s.store.TopByXP(ctx, s.limit)
	if err != nil {
		s.metrics.StoreError("leaderboard")
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}

	rows := make([]model.LeaderboardRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, model.LeaderboardRow{
			Address:      e.Address,
			Level:        LevelForXP(e.XP, s.ledger.XPPerLevel, s.ledger.MaxLevel),
			XP:           e.XP,
			Wins:         e.Wins,
			Losses:       e.Losses,
			WinLossRatio: WinLossRatio(e.Wins, e.Losses),
		})
	}

	if s.cache != nil && s.ttl > 0 {
		raw, err := json.Marshal(rows)
		if err == nil {
			err = s.cache.Set(ctx, leaderboardCacheKey, raw, s.ttl)
		}
		if err != nil {
			log.Warn().Err(err).Msg("Leaderboard cache write failed")
		}
	}
	return rows, nil
}
