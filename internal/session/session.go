// Package session runs one player's game session: submission, settlement
// polling, outcome matching, timeouts and XP reporting over one owned state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"coinflip-game/internal/matcher"
	"coinflip-game/internal/model"
	"coinflip-game/internal/pkg/lock"
	"coinflip-game/internal/settlement"
	"coinflip-game/internal/xpclient"
)

// Common errors for session operations.
var (
	ErrSubmissionInFlight = errors.New("a submission is already in flight")
	ErrClosed             = errors.New("session closed")
)

const msgReplaced = "Pending game replaced by a newer one"

// Submitter submits a flip and returns the correlated attempt. *correlator.Correlator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, choice model.Side, wager decimal.Decimal) (*model.GameAttempt, error)
}

// Refresher returns the player's recent settlements. *settlement.Poller satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, player string) ([]model.SettlementRecord, error)
}

// Reporter sends a finished game to the XP ledger. *xpclient.Client satisfies it.
type Reporter interface {
	ReportResult(ctx context.Context, player, gameID string, won bool) (*xpclient.Update, error)
}

// Options configures a Session.
type Options struct {
	Player       string
	PollInterval time.Duration
	// SubmitWait bounds how long a submission waits for an in-progress poll.
	SubmitWait time.Duration
	// ReportTimeout bounds one round of ledger reports. Reports outlive
	// cancellation of the poll context up to this limit.
	ReportTimeout time.Duration
	// OnResult must not call Close.
	OnResult func(model.Result)
	OnLate   func(model.SettlementRecord)
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	ID         string
	Player     string
	Pending    *model.GameAttempt
	History    []model.SettlementRecord
	Watched    []string
	Unreported []string
	Submitting bool
	Last       *model.Result
}

type state struct {
	match      matcher.State
	history    []model.SettlementRecord
	submitting bool
	last       *model.Result
	// unreported holds settled games the ledger has not acknowledged yet.
	unreported map[string]model.SettlementRecord
	reporting  bool
}

// Session owns the state of one player and the tasks that mutate it.
type Session struct {
	id     uuid.UUID
	player string
	opts   Options
	logger zerolog.Logger

	submitter Submitter
	poller    Refresher
	matcher   *matcher.Matcher
	reporter  Reporter
	gate      *lock.PlayerLock
	now       func() time.Time

	mu            sync.Mutex
	st            state
	cancelTimeout context.CancelFunc
	closed        bool

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

// New creates a Session for opts.Player. reporter may be nil.
func New(opts Options, submitter Submitter, poller Refresher, m *matcher.Matcher, reporter Reporter) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 12 * time.Second
	}
	if opts.SubmitWait <= 0 {
		opts.SubmitWait = 30 * time.Second
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = 30 * time.Second
	}
	id := uuid.New()
	player := model.NormalizeAddress(opts.Player)
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		player:    player,
		opts:      opts,
		logger:    log.With().Str("session", id.String()).Str("player", player).Logger(),
		submitter: submitter,
		poller:    poller,
		matcher:   m,
		reporter:  reporter,
		gate:      lock.NewPlayerLock(),
		now:       time.Now,
		st: state{
			match:      matcher.State{TimedOut: make(map[string]time.Time)},
			unreported: make(map[string]model.SettlementRecord),
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id.String()
}

// Submit sends a flip and registers the resulting attempt as the one pending
// attempt, replacing any previous one. Only one submission runs at a time.
func (s *Session) Submit(ctx context.Context, choice model.Side, wager decimal.Decimal) (*model.GameAttempt, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrClosed
	case s.st.submitting:
		s.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	s.st.submitting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.st.submitting = false
		s.mu.Unlock()
	}()

	if err := s.gate.LockContext(ctx, s.player, s.opts.SubmitWait); err != nil {
		return nil, fmt.Errorf("failed to acquire player gate: %w", err)
	}
	defer s.gate.Unlock(s.player)

	attempt, err := s.submitter.Submit(ctx, choice, wager)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Submission failed")
		return nil, err
	}
	if attempt.Status != model.AttemptPending {
		s.logger.Warn().Str("tx", attempt.TxHash).Str("status", string(attempt.Status)).Msg(attempt.Message)
		return attempt, nil
	}
	if err := s.register(attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *Session) register(attempt *model.GameAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if prev := s.st.match.Pending; prev != nil && prev.Status == model.AttemptPending {
		// a replaced game can still settle; watch it like a timed-out one
		s.st.match.TimedOut[prev.GameID] = s.now()
		s.logger.Info().Str("game_id", prev.GameID).Str("replaced_by", attempt.GameID).Msg(msgReplaced)
	}
	if s.cancelTimeout != nil {
		s.cancelTimeout()
	}

	owned := *attempt
	s.st.match.Pending = &owned
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelTimeout = cancel
	s.tasks.Add(1)
	go s.timeoutTask(ctx, owned.GameID, s.matcher.Deadline(&owned))

	s.logger.Info().Str("game_id", attempt.GameID).Time("deadline", s.matcher.Deadline(attempt)).Msg("Game pending")
	return nil
}

// timeoutTask expires gameID at deadline unless ctx is cancelled first.
func (s *Session) timeoutTask(ctx context.Context, gameID string, deadline time.Time) {
	defer s.tasks.Done()

	t := time.NewTimer(deadline.Sub(s.now()))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}

	s.mu.Lock()
	r := s.matcher.Expire(&s.st.match, gameID, s.now())
	if r != nil {
		s.st.last = r
		s.cancelTimeout = nil
	}
	s.mu.Unlock()

	if r != nil {
		s.deliver(*r)
	}
}

// Poll refreshes settlements and evaluates the pending attempt. It returns
// false without doing anything while a submission holds the player gate.
// A stale-history error is returned after evaluation against the cached history.
// Settled games are reported to the ledger before their result is delivered.
func (s *Session) Poll(ctx context.Context) (bool, error) {
	if !s.track() {
		return false, ErrClosed
	}
	defer s.tasks.Done()

	if !s.gate.TryLock(s.player) {
		s.logger.Debug().Msg("Submission in flight, skipping poll")
		return false, nil
	}

	history, refreshErr := s.poller.Refresh(ctx, s.player)
	if refreshErr != nil && !errors.Is(refreshErr, settlement.ErrStaleHistory) {
		s.gate.Unlock(s.player)
		s.flushReports(ctx)
		return true, refreshErr
	}

	s.mu.Lock()
	s.st.history = history
	ev := s.matcher.Evaluate(&s.st.match, history, s.now())
	if ev.Result != nil {
		s.st.last = ev.Result
		if s.cancelTimeout != nil {
			s.cancelTimeout()
			s.cancelTimeout = nil
		}
	}
	if ev.Settled != nil {
		s.queueReport(*ev.Settled)
	}
	for _, late := range ev.Late {
		s.queueReport(late)
	}
	s.mu.Unlock()
	s.gate.Unlock(s.player)

	s.flushReports(ctx)

	if ev.Result != nil {
		s.deliver(*ev.Result)
	}
	if s.opts.OnLate != nil {
		for _, late := range ev.Late {
			s.opts.OnLate(late)
		}
	}
	return true, refreshErr
}

// track registers a running poll so Close can wait for it.
func (s *Session) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.tasks.Add(1)
	return true
}

// Run polls every PollInterval until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	t := time.NewTicker(s.opts.PollInterval)
	defer t.Stop()

	s.logger.Info().Dur("interval", s.opts.PollInterval).Msg("Session polling started")
	for {
		s.pollOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Session polling stopped")
			return nil
		case <-s.ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (s *Session) pollOnce(ctx context.Context) {
	if _, err := s.Poll(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, ErrClosed) {
		s.logger.Warn().Err(err).Msg("Poll degraded")
	}
}

func (s *Session) deliver(r model.Result) {
	if s.opts.OnResult != nil {
		s.opts.OnResult(r)
	}
}

// queueReport must be called with s.mu held.
func (s *Session) queueReport(rec model.SettlementRecord) {
	if s.reporter == nil {
		return
	}
	s.st.unreported[rec.GameID] = rec
}

// flushReports sends every unreported game to the ledger, oldest first.
// Games that fail transiently stay queued for the next poll.
func (s *Session) flushReports(ctx context.Context) {
	s.mu.Lock()
	if s.st.reporting || len(s.st.unreported) == 0 {
		s.mu.Unlock()
		return
	}
	s.st.reporting = true
	batch := make([]model.SettlementRecord, 0, len(s.st.unreported))
	for _, rec := range s.st.unreported {
		batch = append(batch, rec)
	}
	s.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool {
		if batch[i].BlockNumber != batch[j].BlockNumber {
			return batch[i].BlockNumber < batch[j].BlockNumber
		}
		return batch[i].LogIndex < batch[j].LogIndex
	})

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ReportTimeout)
	defer cancel()

	done := make([]string, 0, len(batch))
	for _, rec := range batch {
		if err := s.report(ctx, rec); err == nil || errors.Is(err, xpclient.ErrRejected) {
			done = append(done, rec.GameID)
		}
	}

	s.mu.Lock()
	for _, id := range done {
		delete(s.st.unreported, id)
	}
	s.st.reporting = false
	s.mu.Unlock()
}

func (s *Session) report(ctx context.Context, rec model.SettlementRecord) error {
	update, err := s.reporter.ReportResult(ctx, s.player, rec.GameID, rec.Won)
	switch {
	case err == nil:
		e := s.logger.Info().Str("game_id", rec.GameID)
		if update != nil {
			e = e.Int64("xp_added", update.XPAdded).Bool("already_processed", update.AlreadyProcessed)
		}
		e.Msg("Result reported to ledger")
	case errors.Is(err, xpclient.ErrRejected):
		s.logger.Error().Err(err).Str("game_id", rec.GameID).Msg("Ledger rejected result, dropping it")
	default:
		s.logger.Warn().Err(err).Str("game_id", rec.GameID).Msg("Failed to report result to ledger, will retry")
	}
	return err
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.id.String(),
		Player:     s.player,
		History:    append([]model.SettlementRecord(nil), s.st.history...),
		Submitting: s.st.submitting,
	}
	if p := s.st.match.Pending; p != nil {
		cp := *p
		snap.Pending = &cp
	}
	if s.st.last != nil {
		cp := *s.st.last
		snap.Last = &cp
	}
	for id := range s.st.match.TimedOut {
		snap.Watched = append(snap.Watched, id)
	}
	sort.Strings(snap.Watched)
	for id := range s.st.unreported {
		snap.Unreported = append(snap.Unreported, id)
	}
	sort.Strings(snap.Unreported)
	return snap
}

// Close cancels outstanding timeout tasks and waits for them and any
// running poll, including its ledger reports, to exit.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.cancel()
	s.mu.Unlock()
	s.tasks.Wait()
}
