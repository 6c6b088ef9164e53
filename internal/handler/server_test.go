package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinflip-game/internal/config"
	"coinflip-game/internal/pkg/db"
	"coinflip-game/internal/pkg/metrics"
	"coinflip-game/internal/repository"
	"coinflip-game/internal/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	sqlDB, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	store := repository.NewSQLiteLedgerRepository(sqlDB)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	policy := config.LedgerConfig{WinXP: 2, LossXP: 1, XPPerLevel: 10, MaxLevel: 100}

	logger := zerolog.Nop()
	srv := httptest.NewServer(NewRouter(&Dependencies{
		Ledger:      service.NewLedgerService(store, policy, m),
		Leaderboard: service.NewLeaderboardService(store, nil, policy, config.LeaderboardConfig{Limit: 100}, m),
		Gatherer:    reg,
		Logger:      &logger,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func postXP(t *testing.T, srv *httptest.Server, addr, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/users/"+addr+"/update-xp", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp
}

func TestGetUser_CreatesAndLowercases(t *testing.T) {
	srv := newTestServer(t)

	var u UserResponse
	resp := getJSON(t, srv.URL+"/users/0xABCDEF", &u)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "0xabcdef", u.Address)
	assert.Equal(t, int64(0), u.XP)
	assert.Equal(t, 1, u.Level)
	require.NotNil(t, u.NextLevelXP)
	assert.Equal(t, int64(10), *u.NextLevelXP)
	assert.Equal(t, []string{}, u.ProcessedGameIDs)
}

func TestGetUser_LongAddress(t *testing.T) {
	srv := newTestServer(t)

	addr := "0x" + strings.Repeat("AB", 100)
	var u UserResponse
	resp := getJSON(t, srv.URL+"/users/"+addr, &u)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, strings.ToLower(addr), u.Address)
}

func TestUpdateXP_AppliesOnce(t *testing.T) {
	srv := newTestServer(t)

	resp, out := postXP(t, srv, "0xP1", `{"gameId":"42","won":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), out["xpAdded"])
	assert.Equal(t, false, out["alreadyProcessed"])
	assert.Equal(t, float64(2), out["xp"])
	assert.Equal(t, "0xp1", out["address"])

	// same game, numeric id
	resp, out = postXP(t, srv, "0xp1", `{"gameId":42,"won":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), out["xpAdded"])
	assert.Equal(t, true, out["alreadyProcessed"])
	assert.Equal(t, float64(2), out["xp"])
	assert.Equal(t, []any{"42"}, out["processedGameIds"])
}

func TestUpdateXP_BadRequests(t *testing.T) {
	srv := newTestServer(t)

	for name, body := range map[string]string{
		"missing gameId": `{"won":true}`,
		"empty gameId":   `{"gameId":"  ","won":true}`,
		"null gameId":    `{"gameId":null}`,
		"bool gameId":    `{"gameId":true}`,
		"bad json":       `{"gameId":`,
		"not an object":  `[1,2]`,
		"won not bool":   `{"gameId":"1","won":"yes"}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp, out := postXP(t, srv, "0xp1", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestUpdateXP_WrongMethod(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/users/0xp1/update-xp")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/users/0xp1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/users/0xp1/update-xp", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodOptions, srv.URL+"/users/leaderboard", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLeaderboard(t *testing.T) {
	srv := newTestServer(t)

	postXP(t, srv, "0xa", `{"gameId":"1","won":false}`)
	postXP(t, srv, "0xb", `{"gameId":"2","won":true}`)
	postXP(t, srv, "0xb", `{"gameId":"3","won":false}`)

	var rows []map[string]any
	resp := getJSON(t, srv.URL+"/users/leaderboard", &rows)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rows, 2)
	assert.Equal(t, "0xb", rows[0]["address"])
	assert.Equal(t, float64(3), rows[0]["xp"])
	assert.Equal(t, "0.50", rows[0]["winLossRatio"])
	assert.Equal(t, "0xa", rows[1]["address"])
	assert.Equal(t, "0.00", rows[1]["winLossRatio"])
}

func TestLeaderboard_Empty(t *testing.T) {
	srv := newTestServer(t)

	var rows []map[string]any
	resp := getJSON(t, srv.URL+"/users/leaderboard", &rows)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestRewards(t *testing.T) {
	srv := newTestServer(t)

	postXP(t, srv, "0xa", `{"gameId":"1","won":true}`)
	postXP(t, srv, "0xa", `{"gameId":"2","won":false}`)

	var events []RewardResponse
	resp := getJSON(t, srv.URL+"/users/0xA/rewards?limit=1", &events)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, events, 1)
	assert.Equal(t, "2", events[0].GameID)

	resp, err := http.Get(srv.URL + "/users/0xa/rewards?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateXP_ConcurrentSameGame(t *testing.T) {
	srv := newTestServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(srv.URL+"/users/0xp1/update-xp", "application/json",
				strings.NewReader(`{"gameId":"7","won":false}`))
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	var u UserResponse
	getJSON(t, srv.URL+"/users/0xp1", &u)
	assert.Equal(t, int64(1), u.XP)
	assert.Equal(t, int64(1), u.Losses)
	assert.Equal(t, []string{"7"}, u.ProcessedGameIDs)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	var health map[string]string
	resp := getJSON(t, srv.URL+"/healthz", &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])

	postXP(t, srv, "0xa", `{"gameId":"1","won":true}`)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `coinflip_ledger_rewards_applied_total{outcome="win"} 1`)
}

func TestGameIDFromJSON(t *testing.T) {
	cases := map[string]string{
		`"abc"`:  "abc",
		`" 12 "`: "12",
		`12`:     "12",
		`1e3`:    "1e3",
		`null`:   "",
		``:       "",
	}
	for in, want := range cases {
		got, err := gameIDFromJSON(json.RawMessage(in))
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := gameIDFromJSON(json.RawMessage(`{}`))
	assert.Error(t, err)
}
