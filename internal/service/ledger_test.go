package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"coinflip-game/internal/config"
	"coinflip-game/internal/model"
	"coinflip-game/internal/pkg/db"
	"coinflip-game/internal/pkg/metrics"
	"coinflip-game/internal/repository"
)

var testPolicy = config.LedgerConfig{WinXP: 2, LossXP: 1, XPPerLevel: 10, MaxLevel: 100}

func newSQLiteStore(t *testing.T) LedgerStore {
	t.Helper()
	sqlDB, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return repository.NewSQLiteLedgerRepository(sqlDB)
}

func newLedger(t *testing.T) (*LedgerService, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return NewLedgerService(newSQLiteStore(t), testPolicy, m), m
}

func TestLevelForXP_Table(t *testing.T) {
	cases := []struct {
		xp   int64
		want int
	}{
		{0, 1},
		{9, 1},
		{10, 2},
		{19, 2},
		{20, 3},
		{989, 99},
		{990, 100},
		{995, 100},
		{1_000_000, 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LevelForXP(tc.xp, 10, 100), "xp=%d", tc.xp)
	}
}

func TestLevelForXPProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		xp := rapid.Int64Range(0, 1<<40).Draw(t, "xp")
		perLevel := rapid.Int64Range(1, 1000).Draw(t, "perLevel")
		maxLevel := rapid.IntRange(1, 500).Draw(t, "maxLevel")

		level := LevelForXP(xp, perLevel, maxLevel)
		if level < 1 || level > maxLevel {
			t.Fatalf("level %d out of [1,%d]", level, maxLevel)
		}
		if next := LevelForXP(xp+1, perLevel, maxLevel); next < level {
			t.Fatalf("level decreased from %d to %d at xp=%d", level, next, xp+1)
		}
	})
}

func TestNextLevelXP(t *testing.T) {
	s := NewLedgerService(nil, testPolicy, nil)
	next := s.NextLevelXP(1)
	require.NotNil(t, next)
	assert.Equal(t, int64(10), *next)
	assert.Nil(t, s.NextLevelXP(100))
}

func TestLedgerService_GetOrCreate(t *testing.T) {
	s, _ := newLedger(t)
	ctx := context.Background()

	e, err := s.GetOrCreate(ctx, "  0xABCdef  ")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef", e.Address)
	assert.Equal(t, int64(0), e.XP)
	assert.Equal(t, 1, e.Level)
	assert.Empty(t, e.ProcessedGameIDs)

	_, err = s.GetOrCreate(ctx, "   ")
	assert.ErrorIs(t, err, ErrMissingPlayer)
}

func TestLedgerService_ApplyResult(t *testing.T) {
	s, m := newLedger(t)
	ctx := context.Background()

	out, err := s.ApplyResult(ctx, "0xP1", "g1", true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.XPAdded)
	assert.False(t, out.AlreadyProcessed)
	assert.Equal(t, int64(2), out.Entry.XP)
	assert.Equal(t, int64(1), out.Entry.Wins)
	assert.Equal(t, []string{"g1"}, out.Entry.ProcessedGameIDs)

	out, err = s.ApplyResult(ctx, "0xp1", "g1", true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.XPAdded)
	assert.True(t, out.AlreadyProcessed)
	assert.Equal(t, int64(2), out.Entry.XP)

	out, err = s.ApplyResult(ctx, "0xp1", "g2", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.XPAdded)
	assert.Equal(t, int64(3), out.Entry.XP)
	assert.Equal(t, int64(1), out.Entry.Losses)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RewardsApplied.WithLabelValues("win")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RewardsApplied.WithLabelValues("loss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RewardsDuplicate))
}

type countingStore struct {
	LedgerStore
	mu      sync.Mutex
	applies int
}

func (c *countingStore) ApplyReward(ctx context.Context, player, gameID string, xp int64, won bool) (*model.LedgerEntry, bool, error) {
	c.mu.Lock()
	c.applies++
	c.mu.Unlock()
	return c.LedgerStore.ApplyReward(ctx, player, gameID, xp, won)
}

func TestLedgerService_RetrySkipsStoreWrite(t *testing.T) {
	store := &countingStore{LedgerStore: newSQLiteStore(t)}
	s := NewLedgerService(store, testPolicy, nil)
	ctx := context.Background()

	_, err := s.ApplyResult(ctx, "0xp1", "g1", false)
	require.NoError(t, err)
	out, err := s.ApplyResult(ctx, "0xp1", "g1", false)
	require.NoError(t, err)

	assert.True(t, out.AlreadyProcessed)
	assert.Equal(t, int64(1), out.Entry.XP)
	assert.Equal(t, 1, out.Entry.Level)
	assert.Equal(t, 1, store.applies)
}

func TestLedgerService_ApplyResultMissingGameID(t *testing.T) {
	s, _ := newLedger(t)
	_, err := s.ApplyResult(context.Background(), "0xp1", "  ", true)
	assert.ErrorIs(t, err, ErrMissingGameID)
}

func TestLedgerService_ReachesLevelTwo(t *testing.T) {
	s, _ := newLedger(t)
	ctx := context.Background()

	var out *ApplyOutcome
	for i := 0; i < 5; i++ {
		var err error
		out, err = s.ApplyResult(ctx, "0xp1", fmt.Sprintf("g%d", i), true)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(10), out.Entry.XP)
	assert.Equal(t, 2, out.Entry.Level)
}

func TestLedgerService_ConcurrentApplyExactlyOnce(t *testing.T) {
	s, _ := newLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	added := make(chan int64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.ApplyResult(ctx, "0xp1", "g", true)
			if err == nil {
				added <- out.XPAdded
			}
		}()
	}
	wg.Wait()
	close(added)

	var total int64
	var count int
	for a := range added {
		total += a
		count++
	}
	assert.Equal(t, 20, count)
	assert.Equal(t, int64(2), total)

	e, err := s.GetOrCreate(ctx, "0xp1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.XP)
	assert.Equal(t, int64(1), e.Wins)
	assert.Equal(t, int64(0), e.Losses)
	assert.Equal(t, []string{"g"}, e.ProcessedGameIDs)
}

// TestApplyResultIdempotenceProperty replays random sequences of results, with
// repeats, and checks the ledger equals the fold over distinct game ids.
func TestApplyResultIdempotenceProperty(t *testing.T) {
	s, _ := newLedger(t)
	ctx := context.Background()
	var round int

	rapid.Check(t, func(t *rapid.T) {
		round++
		player := fmt.Sprintf("0xplayer%d", round)
		n := rapid.IntRange(1, 30).Draw(t, "n")

		seen := map[string]bool{}
		var wantXP, wantWins, wantLosses int64
		for i := 0; i < n; i++ {
			gameID := fmt.Sprintf("g%d", rapid.IntRange(0, 9).Draw(t, "game"))
			won := rapid.Bool().Draw(t, "won")

			out, err := s.ApplyResult(ctx, player, gameID, won)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if seen[gameID] {
				if out.XPAdded != 0 || !out.AlreadyProcessed {
					t.Fatalf("game %s rewarded twice", gameID)
				}
				continue
			}
			seen[gameID] = true
			if won {
				wantXP += 2
				wantWins++
			} else {
				wantXP++
				wantLosses++
			}
		}

		e, err := s.GetOrCreate(ctx, player)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if e.XP != wantXP || e.Wins != wantWins || e.Losses != wantLosses {
			t.Fatalf("got xp=%d wins=%d losses=%d, want %d/%d/%d",
				e.XP, e.Wins, e.Losses, wantXP, wantWins, wantLosses)
		}
		if int(e.Wins+e.Losses) != len(e.ProcessedGameIDs) {
			t.Fatalf("wins+losses=%d but %d processed ids", e.Wins+e.Losses, len(e.ProcessedGameIDs))
		}
		if e.Level != LevelForXP(e.XP, 10, 100) {
			t.Fatalf("level %d does not match xp %d", e.Level, e.XP)
		}
	})
}

func TestLedgerService_RecentRewards(t *testing.T) {
	s, _ := newLedger(t)
	ctx := context.Background()

	_, err := s.ApplyResult(ctx, "0xp1", "g1", true)
	require.NoError(t, err)
	_, err = s.ApplyResult(ctx, "0xp1", "g2", false)
	require.NoError(t, err)

	events, err := s.RecentRewards(ctx, "0XP1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "g2", events[0].GameID)
	assert.Equal(t, int64(1), events[0].XP)
	assert.Equal(t, "g1", events[1].GameID)
	assert.True(t, events[1].Won)
}

type failingStore struct{ LedgerStore }

var errStoreDown = errors.New("store down")

func (failingStore) GetOrCreate(context.Context, string) (*model.LedgerEntry, bool, error) {
	return nil, false, errStoreDown
}

func (failingStore) TopByXP(context.Context, int) ([]*model.LedgerEntry, error) {
	return nil, errStoreDown
}

func TestLedgerService_StoreFailure(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s := NewLedgerService(failingStore{}, testPolicy, m)

	_, err := s.ApplyResult(context.Background(), "0xp1", "g1", true)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("get_or_create")))
}
