// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"coinflip-game/internal/config"
	"coinflip-game/internal/model"
	"coinflip-game/internal/pkg/metrics"
)

// Common errors for ledger operations.
var (
	ErrMissingGameID = errors.New("gameId is required")
	ErrMissingPlayer = errors.New("player address is required")
)

// LedgerStore is the persistence the ledger service needs.
// Both repository.LedgerRepository and repository.SQLiteLedgerRepository satisfy it.
type LedgerStore interface {
	GetOrCreate(ctx context.Context, address string) (*model.LedgerEntry, bool, error)
	GetByAddress(ctx context.Context, address string) (*model.LedgerEntry, error)
	ApplyReward(ctx context.Context, address, gameID string, xp int64, won bool) (*model.LedgerEntry, bool, error)
	TopByXP(ctx context.Context, limit int) ([]*model.LedgerEntry, error)
	RecentRewards(ctx context.Context, address string, limit int) ([]*model.RewardEvent, error)
	Ping(ctx context.Context) error
}

// ApplyOutcome is the result of ApplyResult.
type ApplyOutcome struct {
	Entry            *model.LedgerEntry
	XPAdded          int64
	AlreadyProcessed bool
}

// LedgerService awards XP exactly once per (player, game).
type LedgerService struct {
	store   LedgerStore
	policy  config.LedgerConfig
	metrics *metrics.Metrics
}

// NewLedgerService creates a new LedgerService instance.
func NewLedgerService(store LedgerStore, policy config.LedgerConfig, m *metrics.Metrics) *LedgerService {
	return &LedgerService{store: store, policy: policy, metrics: m}
}

// LevelForXP returns min(floor(xp/xpPerLevel)+1, maxLevel).
func LevelForXP(xp, xpPerLevel int64, maxLevel int) int {
	if xp < 0 {
		xp = 0
	}
	level := xp/xpPerLevel + 1
	if level > int64(maxLevel) {
		return maxLevel
	}
	return int(level)
}

// NextLevelXP returns the XP threshold of the next level, or nil at the cap.
func (s *LedgerService) NextLevelXP(level int) *int64 {
	if level >= s.policy.MaxLevel {
		return nil
	}
	next := int64(level) * s.policy.XPPerLevel
	return &next
}

func (s *LedgerService) withLevel(e *model.LedgerEntry) *model.LedgerEntry {
	e.Level = LevelForXP(e.XP, s.policy.XPPerLevel, s.policy.MaxLevel)
	return e
}

// GetOrCreate returns the ledger entry for player, creating an empty one on first sight.
func (s *LedgerService) GetOrCreate(ctx context.Context, player string) (*model.LedgerEntry, error) {
	player = model.NormalizeAddress(player)
	if player == "" {
		return nil, ErrMissingPlayer
	}

	entry, created, err := s.store.GetOrCreate(ctx, player)
	if err != nil {
		s.metrics.StoreError("get_or_create")
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	if created {
		log.Info().Str("player", player).Msg("Ledger entry created")
	}
	return s.withLevel(entry), nil
}

// ApplyResult awards the win or loss reward for gameID unless it was already applied.
// Retrying with the same gameID returns the current entry with XPAdded 0.
func (s *LedgerService) ApplyResult(ctx context.Context, player, gameID string, won bool) (*ApplyOutcome, error) {
	player = model.NormalizeAddress(player)
	gameID = strings.TrimSpace(gameID)
	if player == "" {
		return nil, ErrMissingPlayer
	}
	if gameID == "" {
		return nil, ErrMissingGameID
	}

	current, err := s.GetOrCreate(ctx, player)
	if err != nil {
		return nil, err
	}
	if current.HasProcessed(gameID) {
		return s.duplicate(current, gameID), nil
	}

	xp := s.policy.LossXP
	if won {
		xp = s.policy.WinXP
	}

	entry, applied, err := s.store.ApplyReward(ctx, player, gameID, xp, won)
	if err != nil {
		s.metrics.StoreError("apply_result")
		return nil, fmt.Errorf("failed to apply result: %w", err)
	}
	if !applied {
		return s.duplicate(s.withLevel(entry), gameID), nil
	}

	out := &ApplyOutcome{Entry: s.withLevel(entry)}

	out.XPAdded = xp
	s.metrics.RewardApplied(won)
	log.Info().
		Str("player", player).
		Str("game_id", gameID).
		Bool("won", won).
		Int64("xp_added", xp).
		Int64("xp", entry.XP).
		Int("level", entry.Level).
		Msg("Result applied")
	return out, nil
}

func (s *LedgerService) duplicate(entry *model.LedgerEntry, gameID string) *ApplyOutcome {
	s.metrics.RewardDuplicate()
	log.Debug().Str("player", entry.Address).Str("game_id", gameID).Msg("Result already processed")
	return &ApplyOutcome{Entry: entry, AlreadyProcessed: true}
}

// RecentRewards lists the latest reward events of player, newest first.
func (s *LedgerService) RecentRewards(ctx context.Context, player string, limit int) ([]*model.RewardEvent, error) {
	player = model.NormalizeAddress(player)
	if player == "" {
		return nil, ErrMissingPlayer
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	events, err := s.store.RecentRewards(ctx, player, limit)
	if err != nil {
		s.metrics.StoreError("recent_rewards")
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	return events, nil
}

// Ping checks the ledger store.
func (s *LedgerService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
