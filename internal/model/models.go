// Package model defines the data models shared by the ledger server and the player client.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is one of the two choices of a coin flip.
type Side uint8

const (
	SideA Side = 0 // heads
	SideB Side = 1 // tails
)

// String returns the display name of the side.
func (s Side) String() string {
	switch s {
	case SideA:
		return "heads"
	case SideB:
		return "tails"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// ParseSide parses a side from user input.
// Accepts a/heads/0 and b/tails/1, case-insensitive.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "a", "heads", "head", "0":
		return SideA, nil
	case "b", "tails", "tail", "1":
		return SideB, nil
	}
	return 0, fmt.Errorf("unknown side %q", v)
}

// AttemptStatus is the lifecycle state of a GameAttempt.
type AttemptStatus string

const (
	AttemptPending  AttemptStatus = "pending"
	AttemptSettled  AttemptStatus = "settled"
	AttemptTimedOut AttemptStatus = "timed_out"
	AttemptFailed   AttemptStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s AttemptStatus) Terminal() bool {
	return s != AttemptPending
}

// GameAttempt is a locally submitted game waiting for its settlement.
// It only lives in the client session.
type GameAttempt struct {
	GameID      string
	Player      string
	WagerAmount decimal.Decimal
	Choice      Side
	TxHash      string
	SubmittedAt time.Time
	Status      AttemptStatus
	Message     string
}

// SettlementRecord is a validated settlement event read from the chain.
type SettlementRecord struct {
	GameID           string
	Player           string
	OutcomeSide      Side
	PayoutAmount     decimal.Decimal
	Won              bool
	SettlementTxHash string
	OracleRequestID  *string
	BlockNumber      uint64
	LogIndex         uint
}

// Outcome is the displayed result of a game.
type Outcome string

const (
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
	OutcomeUnknown Outcome = "unknown"
)

// Result is what the client shows once an attempt reaches a terminal state.
type Result struct {
	GameID  string
	Outcome Outcome
	Side    *Side
	Wagered decimal.Decimal
	Payout  decimal.Decimal
}

// LedgerEntry is a player's XP ledger row.
// Level is derived from XP on read and never stored.
type LedgerEntry struct {
	Address          string    `db:"address"`
	XP               int64     `db:"xp"`
	Level            int       `db:"-"`
	Wins             int64     `db:"wins"`
	Losses           int64     `db:"losses"`
	ProcessedGameIDs []string  `db:"processed_game_ids"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// HasProcessed reports whether gameID already contributed to this entry.
func (e *LedgerEntry) HasProcessed(gameID string) bool {
	for _, id := range e.ProcessedGameIDs {
		if id == gameID {
			return true
		}
	}
	return false
}

// RewardEvent records a single applied reward.
type RewardEvent struct {
	Address   string    `db:"address"`
	GameID    string    `db:"game_id"`
	XP        int64     `db:"xp"`
	Won       bool      `db:"won"`
	CreatedAt time.Time `db:"created_at"`
}

// LeaderboardRow is one line of the leaderboard projection.
type LeaderboardRow struct {
	Address      string `json:"address"`
	Level        int    `json:"level"`
	XP           int64  `json:"xp"`
	Wins         int64  `json:"wins"`
	Losses       int64  `json:"losses"`
	WinLossRatio string `json:"winLossRatio"`
}

// NormalizeAddress lower-cases and trims a player address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
