package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"coinflip-game/internal/model"
	"coinflip-game/internal/service"
)

const maxBodyBytes = 1 << 16

// UserHandler serves the /users endpoints.
type UserHandler struct {
	ledger      *service.LedgerService
	leaderboard *service.LeaderboardService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(ledger *service.LedgerService, leaderboard *service.LeaderboardService) *UserHandler {
	return &UserHandler{ledger: ledger, leaderboard: leaderboard}
}

// UserResponse is the ledger projection returned by the user endpoints.
type UserResponse struct {
	Address          string   `json:"address"`
	XP               int64    `json:"xp"`
	Level            int      `json:"level"`
	Wins             int64    `json:"wins"`
	Losses           int64    `json:"losses"`
	NextLevelXP      *int64   `json:"nextLevelXp"`
	ProcessedGameIDs []string `json:"processedGameIds"`
}

// UpdateXPResponse is UserResponse plus the outcome of the reward request.
type UpdateXPResponse struct {
	UserResponse
	XPAdded          int64 `json:"xpAdded"`
	AlreadyProcessed bool  `json:"alreadyProcessed"`
}

// RewardResponse is one line of a player's reward history.
type RewardResponse struct {
	GameID    string `json:"gameId"`
	XP        int64  `json:"xp"`
	Won       bool   `json:"won"`
	CreatedAt string `json:"createdAt"`
}

func (h *UserHandler) project(e *model.LedgerEntry) UserResponse {
	ids := e.ProcessedGameIDs
	if ids == nil {
		ids = []string{}
	}
	return UserResponse{
		Address:          e.Address,
		XP:               e.XP,
		Level:            e.Level,
		Wins:             e.Wins,
		Losses:           e.Losses,
		NextLevelXP:      h.ledger.NextLevelXP(e.Level),
		ProcessedGameIDs: ids,
	}
}

func addressParam(r *http.Request) string {
	return model.NormalizeAddress(chi.URLParam(r, "address"))
}

// HandleGet handles GET /users/{address}.
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	entry, err := h.ledger.GetOrCreate(r.Context(), addressParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.project(entry))
}

// HandleLeaderboard handles GET /users/leaderboard.
func (h *UserHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := h.leaderboard.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.LeaderboardRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// HandleRewards handles GET /users/{address}/rewards?limit=n.
func (h *UserHandler) HandleRewards(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := h.ledger.RecentRewards(r.Context(), addressParam(r), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]RewardResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, RewardResponse{
			GameID:    ev.GameID,
			XP:        ev.XP,
			Won:       ev.Won,
			CreatedAt: ev.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type updateXPRequest struct {
	GameID json.RawMessage `json:"gameId"`
	Won    *bool           `json:"won"`
}

var (
	errBadBody = errors.New("request body must be a JSON object")
	errBadGame = errors.New("gameId must be a string or a number")
)

// gameIDFromJSON accepts "42", 42 or " 42 " and returns "42".
// A missing, null or empty value yields "".
func gameIDFromJSON(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", errBadGame
		}
		return strings.TrimSpace(s), nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", errBadGame
		}
		return n.String(), nil
	}
}

// HandleUpdateXP handles POST /users/{address}/update-xp.
func (h *UserHandler) HandleUpdateXP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, errBadBody.Error())
		return
	}

	var req updateXPRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, errBadBody.Error())
		return
	}
	gameID, err := gameIDFromJSON(req.GameID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	won := req.Won != nil && *req.Won

	out, err := h.ledger.ApplyResult(r.Context(), addressParam(r), gameID, won)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdateXPResponse{
		UserResponse:     h.project(out.Entry),
		XPAdded:          out.XPAdded,
		AlreadyProcessed: out.AlreadyProcessed,
	})
}

func (h *UserHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrMissingGameID), errors.Is(err, service.ErrMissingPlayer):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("Ledger request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
