package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"coinflip-game/internal/model"
)

// SubmitFlip sends flip(choice) with value wei from the wallet and waits until it is mined.
// A mined but reverted transaction returns its receipt together with ErrReverted.
func (c *Client) SubmitFlip(ctx context.Context, choice model.Side, value *big.Int) (*types.Receipt, error) {
	if c.key == nil {
		return nil, ErrNoWallet
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx
	opts.Value = value

	tx, err := c.contract.Transact(opts, methodFlip, uint8(choice))
	if err != nil {
		return nil, fmt.Errorf("failed to send flip: %w", err)
	}
	log.Info().
		Str("tx", tx.Hash().Hex()).
		Str("choice", choice.String()).
		Str("value_wei", value.String()).
		Msg("Flip submitted")

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for flip receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("flip %s: %w", tx.Hash().Hex(), ErrReverted)
	}
	return receipt, nil
}
