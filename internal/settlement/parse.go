// Package settlement turns contract settlement events into a bounded, newest-first history.
package settlement

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"coinflip-game/internal/chain"
	"coinflip-game/internal/model"
)

// ErrMalformedLog marks a settlement log that failed validation.
var ErrMalformedLog = errors.New("malformed settlement log")

func malformed(field string, v any) error {
	return fmt.Errorf("%w: %s has unexpected value %v (%T)", ErrMalformedLog, field, v, v)
}

// Parse validates raw and promotes it to a SettlementRecord.
// gameId, player, result, payout and txHash are required; requestId is optional.
func Parse(raw chain.RawLog) (model.SettlementRecord, error) {
	var rec model.SettlementRecord

	gameID, ok := toBig(raw["gameId"])
	if !ok || gameID.Sign() < 0 {
		return rec, malformed("gameId", raw["gameId"])
	}
	player, ok := toAddress(raw["player"])
	if !ok {
		return rec, malformed("player", raw["player"])
	}
	result, ok := toUint(raw["result"])
	if !ok || result > uint64(model.SideB) {
		return rec, malformed("result", raw["result"])
	}
	payout, ok := toBig(raw["payout"])
	if !ok || payout.Sign() < 0 {
		return rec, malformed("payout", raw["payout"])
	}
	txHash, ok := raw[chain.KeyTxHash].(string)
	if !ok || !isTxHash(txHash) {
		return rec, malformed(chain.KeyTxHash, raw[chain.KeyTxHash])
	}

	var block, index uint64
	if v, present := raw[chain.KeyBlockNumber]; present {
		if block, ok = toUint(v); !ok {
			return rec, malformed(chain.KeyBlockNumber, v)
		}
	}
	if v, present := raw[chain.KeyLogIndex]; present {
		if index, ok = toUint(v); !ok {
			return rec, malformed(chain.KeyLogIndex, v)
		}
	}

	rec = model.SettlementRecord{
		GameID:           gameID.String(),
		Player:           player,
		OutcomeSide:      model.Side(result),
		PayoutAmount:     chain.FromWei(payout),
		Won:              payout.Sign() > 0,
		SettlementTxHash: strings.ToLower(txHash),
		BlockNumber:      block,
		LogIndex:         uint(index),
	}
	if reqID, ok := toBig(raw["requestId"]); ok {
		s := reqID.String()
		rec.OracleRequestID = &s
	}
	return rec, nil
}

func toBig(v any) (*big.Int, bool) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil, false
		}
		return x, true
	case string:
		n, ok := new(big.Int).SetString(strings.TrimSpace(x), 0)
		return n, ok
	case uint64:
		return new(big.Int).SetUint64(x), true
	case int64:
		return big.NewInt(x), true
	case int:
		return big.NewInt(int64(x)), true
	}
	return nil, false
}

func toUint(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint8:
		return uint64(x), true
	case uint:
		return uint64(x), true
	case uint64:
		return x, true
	case int:
		return uint64(x), x >= 0
	case int64:
		return uint64(x), x >= 0
	case *big.Int:
		if x == nil || x.Sign() < 0 || !x.IsUint64() {
			return 0, false
		}
		return x.Uint64(), true
	}
	return 0, false
}

func toAddress(v any) (string, bool) {
	switch x := v.(type) {
	case common.Address:
		if x == (common.Address{}) {
			return "", false
		}
		return strings.ToLower(x.Hex()), true
	case string:
		if !common.IsHexAddress(x) {
			return "", false
		}
		return strings.ToLower(common.HexToAddress(x).Hex()), true
	}
	return "", false
}

func isTxHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}
