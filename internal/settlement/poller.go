package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"coinflip-game/internal/chain"
	"coinflip-game/internal/config"
	"coinflip-game/internal/model"
)

// ErrStaleHistory is returned with the cached history when the chain could not be read.
var ErrStaleHistory = errors.New("settlement history is stale")

// LogSource reads settlement events. *chain.Client satisfies it.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SettlementLogs(ctx context.Context, player string, from, to uint64) ([]chain.RawLog, error)
}

// Poller keeps the recent settlement history of each player it is asked about.
type Poller struct {
	source LogSource
	cfg    config.PollerConfig

	mu      sync.Mutex
	history map[string][]model.SettlementRecord
	loaded  map[string]bool

	newBackOff func() backoff.BackOff
}

// NewPoller creates a Poller reading from source.
func NewPoller(source LogSource, cfg config.PollerConfig) *Poller {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 10
	}
	if cfg.LookbackBlocks == 0 {
		cfg.LookbackBlocks = 500
	}
	if cfg.InitialLookbackBlocks < cfg.LookbackBlocks {
		cfg.InitialLookbackBlocks = cfg.LookbackBlocks
	}
	return &Poller{
		source:  source,
		cfg:     cfg,
		history: make(map[string][]model.SettlementRecord),
		loaded:  make(map[string]bool),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// History returns a copy of the cached history of player.
func (p *Poller) History(player string) []model.SettlementRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.SettlementRecord(nil), p.history[model.NormalizeAddress(player)]...)
}

// Refresh reads recent settlements of player from the chain and merges them
// into the cached history. On the first call for a player the block window is
// widened. When every retry fails the cached history is returned together with
// an error wrapping ErrStaleHistory.
func (p *Poller) Refresh(ctx context.Context, player string) ([]model.SettlementRecord, error) {
	player = model.NormalizeAddress(player)

	p.mu.Lock()
	first := !p.loaded[player]
	p.mu.Unlock()

	lookback := p.cfg.LookbackBlocks
	if first {
		lookback = p.cfg.InitialLookbackBlocks
	}

	var raws []chain.RawLog
	op := func() error {
		head, err := p.source.BlockNumber(ctx)
		if err != nil {
			return err
		}
		var from uint64
		if head > lookback {
			from = head - lookback
		}
		raws, err = p.source.SettlementLogs(ctx, player, from, head)
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), p.cfg.MaxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		log.Debug().Err(err).Str("player", player).Dur("retry_in", wait).Msg("Settlement read failed, retrying")
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		log.Warn().Err(err).Str("player", player).Msg("Settlement read failed, serving cached history")
		return p.History(player), fmt.Errorf("%w: %w", ErrStaleHistory, err)
	}

	fresh := make([]model.SettlementRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := Parse(raw)
		if err != nil {
			log.Debug().Err(err).Str("player", player).Interface("tx", raw[chain.KeyTxHash]).Msg("Dropping settlement log")
			continue
		}
		if rec.Player != player {
			log.Debug().Str("player", player).Str("game_id", rec.GameID).Msg("Dropping settlement for another player")
			continue
		}
		fresh = append(fresh, rec)
	}

	p.mu.Lock()
	merged := Merge(p.history[player], fresh, p.cfg.HistorySize)
	p.history[player] = merged
	p.loaded[player] = true
	out := append([]model.SettlementRecord(nil), merged...)
	p.mu.Unlock()

	log.Debug().Str("player", player).Int("fetched", len(raws)).Int("kept", len(out)).Msg("Settlement history refreshed")
	return out, nil
}
