// Package chain reads and writes the coin-flip game contract through go-ethereum.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
)

// Backend is the RPC surface the client needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client is bound to one game contract and, optionally, one wallet key.
type Client struct {
	backend  Backend
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract

	key     *ecdsa.PrivateKey
	account common.Address
	chainID *big.Int
}

// Dial connects to rpcURL and binds the contract at contractAddr.
func Dial(ctx context.Context, rpcURL, contractAddr, privateKey string) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}
	c, err := NewClient(ctx, ec, contractAddr, privateKey)
	if err != nil {
		ec.Close()
		return nil, err
	}
	return c, nil
}

// NewClient binds contractAddr on backend. An empty privateKey yields a
// read-only client whose writes fail with ErrNoWallet.
func NewClient(ctx context.Context, backend Backend, contractAddr, privateKey string) (*Client, error) {
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddr)
	}
	parsed, err := abi.JSON(strings.NewReader(CoinFlipABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract abi: %w", err)
	}

	address := common.HexToAddress(contractAddr)
	c := &Client{
		backend:  backend,
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}

	if privateKey == "" {
		log.Warn().Msg("No wallet key configured, client is read-only")
		return c, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid wallet key: %w", err)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	c.key = key
	c.account = crypto.PubkeyToAddress(key.PublicKey)
	c.chainID = chainID

	log.Info().
		Str("contract", address.Hex()).
		Str("account", c.account.Hex()).
		Str("chain_id", chainID.String()).
		Msg("Chain client ready")
	return c, nil
}

// Account returns the wallet address, lower-cased.
func (c *Client) Account() (string, error) {
	if c.key == nil {
		return "", ErrNoWallet
	}
	return strings.ToLower(c.account.Hex()), nil
}

// ContractAddress returns the bound contract address.
func (c *Client) ContractAddress() common.Address {
	return c.address
}
