package settlement

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"coinflip-game/internal/chain"
	"coinflip-game/internal/model"
)

const (
	testPlayer = "0x1111111111111111111111111111111111111111"
	testTx     = "0xAB00000000000000000000000000000000000000000000000000000000000001"
)

func rawSettled(gameID int64, result uint8, payout *big.Int, block uint64, index uint) chain.RawLog {
	return chain.RawLog{
		"gameId":             big.NewInt(gameID),
		"player":             common.HexToAddress(testPlayer),
		"result":             result,
		"payout":             payout,
		"requestId":          big.NewInt(gameID * 10),
		chain.KeyTxHash:      testTx,
		chain.KeyBlockNumber: block,
		chain.KeyLogIndex:    index,
	}
}

func TestParse_Valid(t *testing.T) {
	rec, err := Parse(rawSettled(7, 1, big.NewInt(2e16), 100, 2))
	require.NoError(t, err)

	assert.Equal(t, "7", rec.GameID)
	assert.Equal(t, testPlayer, rec.Player)
	assert.Equal(t, model.SideB, rec.OutcomeSide)
	assert.Equal(t, "0.02", rec.PayoutAmount.String())
	assert.True(t, rec.Won)
	assert.Equal(t, "0xab00000000000000000000000000000000000000000000000000000000000001", rec.SettlementTxHash)
	require.NotNil(t, rec.OracleRequestID)
	assert.Equal(t, "70", *rec.OracleRequestID)
	assert.Equal(t, uint64(100), rec.BlockNumber)
	assert.Equal(t, uint(2), rec.LogIndex)
}

func TestParse_ZeroPayoutIsLoss(t *testing.T) {
	rec, err := Parse(rawSettled(7, 0, big.NewInt(0), 1, 0))
	require.NoError(t, err)
	assert.False(t, rec.Won)
	assert.True(t, rec.PayoutAmount.IsZero())
}

func TestParse_OptionalRequestID(t *testing.T) {
	raw := rawSettled(7, 0, big.NewInt(0), 1, 0)
	delete(raw, "requestId")
	rec, err := Parse(raw)
	require.NoError(t, err)
	assert.Nil(t, rec.OracleRequestID)
}

func TestParse_Malformed(t *testing.T) {
	cases := map[string]func(chain.RawLog){
		"missing gameId":  func(r chain.RawLog) { delete(r, "gameId") },
		"nil gameId":      func(r chain.RawLog) { r["gameId"] = (*big.Int)(nil) },
		"mistyped gameId": func(r chain.RawLog) { r["gameId"] = 1.5 },
		"missing player":  func(r chain.RawLog) { delete(r, "player") },
		"zero player":     func(r chain.RawLog) { r["player"] = common.Address{} },
		"bad player":      func(r chain.RawLog) { r["player"] = "0x123" },
		"missing result":  func(r chain.RawLog) { delete(r, "result") },
		"bad result":      func(r chain.RawLog) { r["result"] = uint8(2) },
		"missing payout":  func(r chain.RawLog) { delete(r, "payout") },
		"negative payout": func(r chain.RawLog) { r["payout"] = big.NewInt(-1) },
		"missing txHash":  func(r chain.RawLog) { delete(r, chain.KeyTxHash) },
		"short txHash":    func(r chain.RawLog) { r[chain.KeyTxHash] = "0xabc" },
		"mistyped txHash": func(r chain.RawLog) { r[chain.KeyTxHash] = common.Hash{} },
		"mistyped block":  func(r chain.RawLog) { r[chain.KeyBlockNumber] = "ten" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			raw := rawSettled(7, 1, big.NewInt(1), 1, 0)
			mutate(raw)
			_, err := Parse(raw)
			assert.True(t, errors.Is(err, ErrMalformedLog), "got %v", err)
		})
	}
}

func TestParse_AcceptsLooseTypes(t *testing.T) {
	raw := chain.RawLog{
		"gameId":        "12",
		"player":        testPlayer,
		"result":        1,
		"payout":        "0x0",
		chain.KeyTxHash: testTx,
	}
	rec, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "12", rec.GameID)
	assert.False(t, rec.Won)
	assert.Equal(t, uint64(0), rec.BlockNumber)
}

// TestParseWonMatchesPayoutProperty checks won is exactly payout > 0.
func TestParseWonMatchesPayoutProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payout := rapid.Uint64().Draw(t, "payout")
		result := rapid.Uint8Range(0, 1).Draw(t, "result")

		rec, err := Parse(rawSettled(1, result, new(big.Int).SetUint64(payout), 1, 0))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if rec.Won != (payout > 0) {
			t.Fatalf("payout=%d won=%v", payout, rec.Won)
		}
		if rec.OutcomeSide != model.Side(result) {
			t.Fatalf("side %v, want %d", rec.OutcomeSide, result)
		}
	})
}
