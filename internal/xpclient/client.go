// Package xpclient calls the XP ledger HTTP API from the player client.
package xpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"coinflip-game/internal/config"
	"coinflip-game/internal/model"
)

// ErrRejected is returned when the ledger answers with a 4xx status. It is not retried.
var ErrRejected = errors.New("request rejected by ledger")

// Profile is a player's ledger projection.
type Profile struct {
	Address          string   `json:"address"`
	XP               int64    `json:"xp"`
	Level            int      `json:"level"`
	Wins             int64    `json:"wins"`
	Losses           int64    `json:"losses"`
	NextLevelXP      *int64   `json:"nextLevelXp"`
	ProcessedGameIDs []string `json:"processedGameIds"`
}

// Update is the ledger's answer to a reported result.
type Update struct {
	Profile
	XPAdded          int64 `json:"xpAdded"`
	AlreadyProcessed bool  `json:"alreadyProcessed"`
}

// Client talks to the ledger server.
type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// New creates a Client from cfg.
func New(cfg config.XPAPIConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = time.Minute
			return b
		},
	}
}

// ReportResult posts the result of gameID. Retrying a report is safe: the
// ledger applies each game at most once.
func (c *Client) ReportResult(ctx context.Context, player, gameID string, won bool) (*Update, error) {
	body, err := json.Marshal(map[string]any{"gameId": gameID, "won": won})
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	var out Update
	if err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(model.NormalizeAddress(player))+"/update-xp", body, &out); err != nil {
		return nil, fmt.Errorf("failed to report result: %w", err)
	}
	log.Info().
		Str("player", out.Address).
		Str("game_id", gameID).
		Int64("xp_added", out.XPAdded).
		Bool("already_processed", out.AlreadyProcessed).
		Int("level", out.Level).
		Msg("Result reported")
	return &out, nil
}

// Profile fetches, creating if needed, the ledger entry of player.
func (c *Client) Profile(ctx context.Context, player string) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(model.NormalizeAddress(player)), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &out, nil
}

// Leaderboard fetches the leaderboard.
func (c *Client) Leaderboard(ctx context.Context) ([]model.LeaderboardRow, error) {
	var out []model.LeaderboardRow
	if err := c.do(ctx, http.MethodGet, "/users/leaderboard", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	op := func() error {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("ledger returned %d: %s", resp.StatusCode, errorMessage(data))
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("%w: %d: %s", ErrRejected, resp.StatusCode, errorMessage(data)))
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		log.Debug().Err(err).Str("path", path).Dur("retry_in", wait).Msg("Ledger request failed, retrying")
	})
}

func errorMessage(data []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(data))
}
