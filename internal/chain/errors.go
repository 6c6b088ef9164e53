package chain

import "errors"

var (
	ErrNoWallet = errors.New("no wallet configured")
	ErrReverted = errors.New("transaction reverted")
)
