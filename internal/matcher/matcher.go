// Package matcher joins the pending game attempt against settlement history and owns the timeout policy.
package matcher

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"coinflip-game/internal/model"
	"coinflip-game/internal/settlement"
)

// DefaultTimeout is how long a pending attempt waits for its settlement.
const DefaultTimeout = 90 * time.Second

// lateWindow bounds how long a timed-out game id is watched for a late settlement.
const lateWindow = 2 * time.Hour

// State is the part of the session the matcher reads and transitions.
// Callers must hold the session lock for the whole Evaluate or Expire call.
type State struct {
	Pending  *model.GameAttempt
	TimedOut map[string]time.Time
}

// Evaluation is what one Evaluate call produced.
type Evaluation struct {
	// Result is set when the pending attempt reached a terminal state.
	Result *model.Result
	// Settled is the matching record when Result came from a settlement.
	Settled *model.SettlementRecord
	// Late holds settlements of games that had already timed out. Each is reported once.
	Late []model.SettlementRecord
}

// Matcher evaluates attempts against settlement history.
type Matcher struct {
	timeout time.Duration
}

// New creates a Matcher. A non-positive timeout uses DefaultTimeout.
func New(timeout time.Duration) *Matcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Matcher{timeout: timeout}
}

// Timeout returns the configured timeout.
func (m *Matcher) Timeout() time.Duration {
	return m.timeout
}

// Deadline is when attempt times out.
func (m *Matcher) Deadline(attempt *model.GameAttempt) time.Time {
	return attempt.SubmittedAt.Add(m.timeout)
}

// Evaluate is safe to call on every poll tick. Its only side effects are the
// terminal transition of st.Pending and bookkeeping of timed-out game ids.
func (m *Matcher) Evaluate(st *State, history []model.SettlementRecord, now time.Time) Evaluation {
	var ev Evaluation

	if p := st.Pending; p != nil && p.Status == model.AttemptPending {
		if rec, ok := settlement.Find(history, p.GameID); ok {
			ev.Result = settle(st, rec)
			ev.Settled = &rec
		} else if !now.Before(m.Deadline(p)) {
			ev.Result = expire(st, now)
		}
	}

	for id, at := range st.TimedOut {
		if now.Sub(at) > lateWindow {
			delete(st.TimedOut, id)
		}
	}
	for _, rec := range history {
		if _, ok := st.TimedOut[rec.GameID]; ok {
			delete(st.TimedOut, rec.GameID)
			ev.Late = append(ev.Late, rec)
			log.Info().
				Str("player", rec.Player).
				Str("game_id", rec.GameID).
				Bool("won", rec.Won).
				Msg("Late settlement for timed out game")
		}
	}
	return ev
}

// Expire times out the pending attempt if it is still gameID and still pending.
// It is what a per-attempt timeout task calls when its deadline fires.
func (m *Matcher) Expire(st *State, gameID string, now time.Time) *model.Result {
	p := st.Pending
	if p == nil || p.GameID != gameID || p.Status != model.AttemptPending {
		return nil
	}
	if now.Before(m.Deadline(p)) {
		return nil
	}
	return expire(st, now)
}

func settle(st *State, rec model.SettlementRecord) *model.Result {
	p := st.Pending
	p.Status = model.AttemptSettled
	st.Pending = nil

	outcome := model.OutcomeLoss
	if rec.Won {
		outcome = model.OutcomeWin
	}
	side := rec.OutcomeSide
	log.Info().
		Str("player", p.Player).
		Str("game_id", p.GameID).
		Str("outcome", string(outcome)).
		Str("side", side.String()).
		Str("payout", rec.PayoutAmount.String()).
		Msg("Game settled")
	return &model.Result{
		GameID:  p.GameID,
		Outcome: outcome,
		Side:    &side,
		Wagered: p.WagerAmount,
		Payout:  rec.PayoutAmount,
	}
}

func expire(st *State, now time.Time) *model.Result {
	p := st.Pending
	p.Status = model.AttemptTimedOut
	st.Pending = nil
	if st.TimedOut == nil {
		st.TimedOut = make(map[string]time.Time)
	}
	st.TimedOut[p.GameID] = now

	log.Warn().
		Str("player", p.Player).
		Str("game_id", p.GameID).
		Dur("elapsed", now.Sub(p.SubmittedAt)).
		Msg("Game timed out waiting for settlement")
	return &model.Result{
		GameID:  p.GameID,
		Outcome: model.OutcomeUnknown,
		Wagered: p.WagerAmount,
		Payout:  decimal.Zero,
	}
}
