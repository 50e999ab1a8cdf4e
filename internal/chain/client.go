// Package chain manages the RPC connections, transaction submission and
// confirmation tracking for every EVM chain the bot talks to.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// receiptPollInterval paces the mined-receipt and confirmation-depth polls.
const receiptPollInterval = 2 * time.Second

// Config describes one chain connection.
type Config struct {
	// Key is the registry alias, e.g. "flare" or "ethereum".
	Key     string
	ChainID uint64
	RPCURL  string

	// Confirmations is the depth a transaction must reach before
	// WaitConfirmed returns. SettleDelay is an extra pause Settle applies
	// afterwards for lagging indexers.
	Confirmations uint16
	SettleDelay   time.Duration

	// GasCeilingGwei makes CheckGasCeiling fail while the suggested gas
	// price is above it. Zero disables the check.
	GasCeilingGwei float64
}

// Client wraps a single chain's RPC connection together with its signing
// parameters and confirmation policy.
type Client struct {
	cfg    Config
	eth    *ethclient.Client
	signer types.Signer
	logger *slog.Logger
}

// Dial connects to the configured RPC endpoint and verifies the chain ID the
// node reports matches the configured one, catching copy-paste mistakes
// before any transaction is signed.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.Key, err)
	}

	id, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain: query chain id for %s: %w", cfg.Key, err)
	}
	if id.Uint64() != cfg.ChainID {
		ec.Close()
		return nil, fmt.Errorf("chain: %s reports chain id %d, config expects %d", cfg.Key, id.Uint64(), cfg.ChainID)
	}

	return &Client{
		cfg:    cfg,
		eth:    ec,
		signer: types.LatestSignerForChainID(new(big.Int).SetUint64(cfg.ChainID)),
		logger: logger.With(slog.String("component", "chain"), slog.String("chain", cfg.Key)),
	}, nil
}

// Key returns the registry alias this client was configured under.
func (c *Client) Key() string { return c.cfg.Key }

// ChainID returns the numeric chain identifier.
func (c *Client) ChainID() uint64 { return c.cfg.ChainID }

// Confirmations returns the configured confirmation depth. The attestation
// client also sends it to the verifier as requiredConfirmations.
func (c *Client) Confirmations() uint16 { return c.cfg.Confirmations }

// Caller exposes the read-only contract call surface of the connection.
func (c *Client) Caller() ethereum.ContractCaller { return c.eth }

// Close tears down the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

// TxOpts carries everything needed to sign and submit one transaction.
type TxOpts struct {
	Key      *ecdsa.PrivateKey
	To       common.Address
	Data     []byte
	Value    *big.Int // nil means zero
	GasLimit uint64   // zero means estimate
}

// SendTx signs and broadcasts a transaction. Legacy (type 0) transactions
// are used throughout; not every supported chain accepts dynamic-fee ones.
func (c *Client) SendTx(ctx context.Context, opts TxOpts) (*types.Transaction, error) {
	from := ethcrypto.PubkeyToAddress(opts.Key.PublicKey)

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("chain: %s nonce for %s: %w", c.cfg.Key, from.Hex(), err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: %s gas price: %w", c.cfg.Key, err)
	}

	value := opts.Value
	if value == nil {
		value = new(big.Int)
	}

	gasLimit := opts.GasLimit
	if gasLimit == 0 {
		gasLimit, err = c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &opts.To,
			Value: value,
			Data:  opts.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("chain: %s estimate gas: %w", c.cfg.Key, err)
		}
		// Headroom for estimation drift between simulation and inclusion.
		gasLimit += gasLimit / 5
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &opts.To,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     opts.Data,
	})

	signed, err := types.SignTx(tx, c.signer, opts.Key)
	if err != nil {
		return nil, fmt.Errorf("chain: %s sign tx: %w", c.cfg.Key, err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("chain: %s send tx: %w", c.cfg.Key, err)
	}

	c.logger.InfoContext(ctx, "transaction sent",
		slog.String("tx", signed.Hash().Hex()),
		slog.String("to", opts.To.Hex()),
		slog.Uint64("nonce", nonce))

	return signed, nil
}

// WaitConfirmed blocks until the transaction is mined and has reached the
// configured confirmation depth. It returns the receipt regardless of the
// receipt status; callers decide how to treat reverts.
func (c *Client) WaitConfirmed(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.waitMined(ctx, hash)
	if err != nil {
		return nil, err
	}

	if c.cfg.Confirmations > 1 {
		target := new(big.Int).Add(receipt.BlockNumber, big.NewInt(int64(c.cfg.Confirmations)-1))
		if err := c.waitHeight(ctx, target); err != nil {
			return nil, err
		}
	}

	return receipt, nil
}

// waitMined polls for the transaction receipt until it exists or the context
// is done.
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("chain: %s receipt %s: %w", c.cfg.Key, hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: %s waiting for %s: %w", c.cfg.Key, hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// waitHeight blocks until the chain head reaches target.
func (c *Client) waitHeight(ctx context.Context, target *big.Int) error {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		head, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("chain: %s block number: %w", c.cfg.Key, err)
		}
		if new(big.Int).SetUint64(head).Cmp(target) >= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("chain: %s waiting for height %s: %w", c.cfg.Key, target, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Settle applies the configured post-confirmation delay, giving verifier
// indexers time to catch up before a transaction is attested.
func (c *Client) Settle(ctx context.Context) error {
	if c.cfg.SettleDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.SettleDelay):
		return nil
	}
}

// Head returns the latest block header. Observation reads pin their state
// queries to the returned number so price, timestamp and block height all
// describe the same block.
func (c *Client) Head(ctx context.Context) (*types.Header, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: %s head: %w", c.cfg.Key, err)
	}
	return header, nil
}

// BlockTime returns the timestamp of the given block.
func (c *Client) BlockTime(ctx context.Context, number *big.Int) (uint64, error) {
	header, err := c.eth.HeaderByNumber(ctx, number)
	if err != nil {
		return 0, fmt.Errorf("chain: %s header %s: %w", c.cfg.Key, number, err)
	}
	return header.Time, nil
}

// CheckGasCeiling returns domain.ErrGasTooHigh (wrapped, with both values)
// while the node's suggested gas price exceeds the configured ceiling.
func (c *Client) CheckGasCeiling(ctx context.Context) error {
	if c.cfg.GasCeilingGwei <= 0 {
		return nil
	}

	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("chain: %s gas price: %w", c.cfg.Key, err)
	}

	gwei := new(big.Float).Quo(new(big.Float).SetInt(price), big.NewFloat(params.GWei))
	if gwei.Cmp(big.NewFloat(c.cfg.GasCeilingGwei)) > 0 {
		return fmt.Errorf("chain: %s gas price %s gwei above ceiling %.2f gwei: %w",
			c.cfg.Key, gwei.Text('f', 2), c.cfg.GasCeilingGwei, domain.ErrGasTooHigh)
	}
	return nil
}

// Balance returns the native token balance of addr at the latest block.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: %s balance of %s: %w", c.cfg.Key, addr.Hex(), err)
	}
	return bal, nil
}
