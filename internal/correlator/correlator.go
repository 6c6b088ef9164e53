// Package correlator submits flips and ties each confirmed transaction to the game id the contract assigned.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"coinflip-game/internal/chain"
	"coinflip-game/internal/config"
	"coinflip-game/internal/model"
)

// Common errors for submissions.
var (
	ErrInvalidWager      = errors.New("invalid wager")
	ErrInvalidChoice     = errors.New("invalid choice")
	ErrWalletUnavailable = errors.New("wallet unavailable")
	ErrChainSubmitFailed = errors.New("chain submission failed")
)

// MsgNoGameID is the attempt message when a confirmed transaction carries no game id for the player.
const MsgNoGameID = "transaction confirmed but no game id was found for this wallet; check your recent games"

// Chain is the contract surface the correlator needs. *chain.Client satisfies it.
type Chain interface {
	Account() (string, error)
	WagerBounds(ctx context.Context) (*big.Int, *big.Int, error)
	SubmitFlip(ctx context.Context, choice model.Side, value *big.Int) (*types.Receipt, error)
	RequestedEvents(receipt *types.Receipt) []chain.RequestedEvent
}

// Bounds is the accepted wager range, in ether.
type Bounds struct {
	Min      decimal.Decimal
	Max      decimal.Decimal
	Fallback bool
}

// Contains reports whether wager lies within [Min, Max].
func (b Bounds) Contains(wager decimal.Decimal) bool {
	return wager.GreaterThanOrEqual(b.Min) && wager.LessThanOrEqual(b.Max)
}

// Correlator submits flips on behalf of the wallet.
type Correlator struct {
	chain       Chain
	fallbackMin decimal.Decimal
	fallbackMax decimal.Decimal
	now         func() time.Time
}

// New creates a Correlator. cfg supplies the fallback wager range.
func New(c Chain, cfg config.ChainConfig) (*Correlator, error) {
	lo, hi, err := cfg.WagerBounds()
	if err != nil {
		return nil, err
	}
	return &Correlator{chain: c, fallbackMin: lo, fallbackMax: hi, now: time.Now}, nil
}

// Bounds reads the wager range from the contract, falling back to the configured range.
func (c *Correlator) Bounds(ctx context.Context) Bounds {
	lo, hi, err := c.chain.WagerBounds(ctx)
	if err != nil || lo == nil || hi == nil || lo.Cmp(hi) > 0 {
		log.Warn().Err(err).
			Str("min", c.fallbackMin.String()).
			Str("max", c.fallbackMax.String()).
			Msg("Could not read wager bounds from contract, using configured range")
		return Bounds{Min: c.fallbackMin, Max: c.fallbackMax, Fallback: true}
	}
	return Bounds{Min: chain.FromWei(lo), Max: chain.FromWei(hi)}
}

// Submit validates the wager, sends flip(choice) and waits for inclusion.
//
// The returned attempt is Pending when the receipt carries a GameRequested
// event for the wallet. When it does not, the attempt is Failed with
// MsgNoGameID and nil error: the transaction went through but cannot be
// correlated, so no outcome is guessed.
func (c *Correlator) Submit(ctx context.Context, choice model.Side, wager decimal.Decimal) (*model.GameAttempt, error) {
	if !choice.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChoice, choice)
	}
	if !wager.IsPositive() || !wager.Equal(wager.Truncate(18)) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWager, wager)
	}
	bounds := c.Bounds(ctx)
	if !bounds.Contains(wager) {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidWager, wager, bounds.Min, bounds.Max)
	}

	player, err := c.chain.Account()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWalletUnavailable, err)
	}

	receipt, err := c.chain.SubmitFlip(ctx, choice, chain.ToWei(wager))
	if err != nil {
		if errors.Is(err, chain.ErrNoWallet) {
			return nil, fmt.Errorf("%w: %w", ErrWalletUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrChainSubmitFailed, err)
	}

	attempt := &model.GameAttempt{
		Player:      player,
		WagerAmount: wager,
		Choice:      choice,
		TxHash:      strings.ToLower(receipt.TxHash.Hex()),
		SubmittedAt: c.now(),
	}

	for _, ev := range c.chain.RequestedEvents(receipt) {
		if !chain.SameAddress(ev.Player.Hex(), player) {
			continue
		}
		attempt.GameID = ev.GameID.String()
		attempt.Choice = model.Side(ev.Choice)
		attempt.WagerAmount = chain.FromWei(ev.Wager)
		attempt.Status = model.AttemptPending
		log.Info().
			Str("player", player).
			Str("game_id", attempt.GameID).
			Str("tx", attempt.TxHash).
			Str("choice", attempt.Choice.String()).
			Str("wager", attempt.WagerAmount.String()).
			Msg("Game requested")
		return attempt, nil
	}

	attempt.Status = model.AttemptFailed
	attempt.Message = MsgNoGameID
	log.Warn().Str("player", player).Str("tx", attempt.TxHash).Msg("No GameRequested event for wallet in receipt")
	return attempt, nil
}
