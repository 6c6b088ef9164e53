package settlement

import (
	"sort"

	"coinflip-game/internal/model"
)

// Merge combines cached and fresh records, keeps one record per gameId,
// orders them newest first and keeps at most limit.
func Merge(cached, fresh []model.SettlementRecord, limit int) []model.SettlementRecord {
	byGame := make(map[string]model.SettlementRecord, len(cached)+len(fresh))
	for _, r := range cached {
		byGame[r.GameID] = r
	}
	for _, r := range fresh {
		byGame[r.GameID] = r
	}

	out := make([]model.SettlementRecord, 0, len(byGame))
	for _, r := range byGame {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber > out[j].BlockNumber
		}
		if out[i].LogIndex != out[j].LogIndex {
			return out[i].LogIndex > out[j].LogIndex
		}
		return out[i].GameID > out[j].GameID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Find returns the record for gameID, if present.
func Find(history []model.SettlementRecord, gameID string) (model.SettlementRecord, bool) {
	for _, r := range history {
		if r.GameID == gameID {
			return r, true
		}
	}
	return model.SettlementRecord{}, false
}
