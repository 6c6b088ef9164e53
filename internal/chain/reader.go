package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
)

// RawLog is a contract event decoded with the ABI into field name -> value,
// plus the txHash, blockNumber and logIndex keys. Values are not validated.
type RawLog map[string]any

// RequestedEvent is a decoded GameRequested event.
type RequestedEvent struct {
	GameID    *big.Int
	Player    common.Address
	Choice    uint8
	Wager     *big.Int
	RequestID *big.Int
}

// BlockNumber returns the current head block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return n, nil
}

// SettlementLogs returns GameSettled events for player within [from, to].
func (c *Client) SettlementLogs(ctx context.Context, player string, from, to uint64) ([]RawLog, error) {
	if !common.IsHexAddress(player) {
		return nil, fmt.Errorf("invalid player address %q", player)
	}
	ev := c.abi.Events[EventGameSettled]

	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.address},
		Topics: [][]common.Hash{
			{ev.ID},
			nil,
			{common.BytesToHash(common.HexToAddress(player).Bytes())},
		},
	}
	logs, err := c.backend.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to filter settlement logs: %w", err)
	}

	out := make([]RawLog, 0, len(logs))
	for _, l := range logs {
		out = append(out, c.decode(ev, l))
	}
	return out, nil
}

// decode unpacks as much of l as it can. Missing keys are left for the caller's validation.
func (c *Client) decode(ev abi.Event, l types.Log) RawLog {
	raw := RawLog{
		KeyTxHash:      l.TxHash.Hex(),
		KeyBlockNumber: l.BlockNumber,
		KeyLogIndex:    l.Index,
	}
	if len(l.Topics) == 0 || l.Topics[0] != ev.ID {
		log.Debug().Str("tx", l.TxHash.Hex()).Msg("Skipping log with unexpected signature")
		return raw
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(raw, indexed, l.Topics[1:]); err != nil {
		log.Debug().Err(err).Str("tx", l.TxHash.Hex()).Msg("Failed to decode log topics")
	}
	if err := c.abi.UnpackIntoMap(raw, ev.Name, l.Data); err != nil {
		log.Debug().Err(err).Str("tx", l.TxHash.Hex()).Msg("Failed to decode log data")
	}
	return raw
}

// RequestedEvents extracts the GameRequested events this contract emitted in receipt.
func (c *Client) RequestedEvents(receipt *types.Receipt) []RequestedEvent {
	if receipt == nil {
		return nil
	}
	ev := c.abi.Events[EventGameRequested]

	var out []RequestedEvent
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.address || len(l.Topics) != 3 || l.Topics[0] != ev.ID {
			continue
		}
		raw := c.decode(ev, *l)
		gameID, ok1 := raw["gameId"].(*big.Int)
		player, ok2 := raw["player"].(common.Address)
		choice, ok3 := raw["choice"].(uint8)
		wager, ok4 := raw["wager"].(*big.Int)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		requestID, _ := raw["requestId"].(*big.Int)
		out = append(out, RequestedEvent{
			GameID:    gameID,
			Player:    player,
			Choice:    choice,
			Wager:     wager,
			RequestID: requestID,
		})
	}
	return out
}

// WagerBounds reads minWager and maxWager from the contract, in wei.
func (c *Client) WagerBounds(ctx context.Context) (*big.Int, *big.Int, error) {
	lo, err := c.callUint(ctx, methodMinWager)
	if err != nil {
		return nil, nil, err
	}
	hi, err := c.callUint(ctx, methodMaxWager)
	if err != nil {
		return nil, nil, err
	}
	return lo, hi, nil
}

func (c *Client) callUint(ctx context.Context, method string) (*big.Int, error) {
	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s output", method)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s output type %T", method, out[0])
	}
	return v, nil
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
