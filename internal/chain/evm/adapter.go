// Package evm executes payouts on an EVM chain (XDC network by default).
// The native coin moves as a value transfer; tokens move through their
// ERC-20 transfer function. Transactions are signed with the hot wallet and
// the adapter waits for the receipt before returning.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/bountypool/internal/crypto"
	"github.com/alanyoungcy/bountypool/internal/domain"
)

// Client is the subset of ethclient.Client the adapter uses.
type Client interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config holds chain settings.
type Config struct {
	// Tokens maps non-native currencies to their ERC-20 contracts.
	Tokens         map[domain.Currency]common.Address
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// GasBufferPercent is added on top of the gas estimate.
	GasBufferPercent uint64
}

// Adapter implements domain.ChainAdapter over JSON-RPC.
type Adapter struct {
	client Client
	signer *crypto.Signer
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex // serialises nonce use
	nextNonce *uint64
}

// Dial connects to rpcURL and returns an Adapter.
func Dial(ctx context.Context, rpcURL string, signer *crypto.Signer, cfg Config, logger *slog.Logger) (*Adapter, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("evm: chain id: %w", err)
	}
	if chainID.Cmp(signer.ChainID()) != 0 {
		client.Close()
		return nil, nil, fmt.Errorf("evm: rpc chain id %s does not match configured %s", chainID, signer.ChainID())
	}
	return New(client, signer, cfg, logger), client, nil
}

// New wraps an existing client.
func New(client Client, signer *crypto.Signer, cfg Config, logger *slog.Logger) *Adapter {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.GasBufferPercent == 0 {
		cfg.GasBufferPercent = 20
	}
	return &Adapter{
		client: client,
		signer: signer,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "evm_adapter")),
	}
}

// Address returns the hot-wallet address payouts are sent from.
func (a *Adapter) Address() common.Address {
	return a.signer.Address()
}

// Execute sends t and waits for its receipt.
func (a *Adapter) Execute(ctx context.Context, t domain.Transfer) (domain.Receipt, error) {
	if t.Amount == nil || t.Amount.Sign() <= 0 {
		return domain.Receipt{}, &domain.ChainError{Kind: domain.ChainReverted, Err: domain.ErrInvalidAmount}
	}
	recipient, err := domain.NormalizeAddress(t.To)
	if err != nil {
		return domain.Receipt{}, &domain.ChainError{Kind: domain.ChainReverted, Err: err}
	}
	to := common.HexToAddress(recipient)

	value := new(big.Int)
	var data []byte
	if t.Currency.Kind() == domain.KindNative {
		value.Set(t.Amount)
	} else {
		token, ok := a.cfg.Tokens[t.Currency]
		if !ok {
			return domain.Receipt{}, &domain.ChainError{Kind: domain.ChainReverted, Err: fmt.Errorf("no contract configured for %s", t.Currency)}
		}
		if data, err = transferCalldata(to, t.Amount); err != nil {
			return domain.Receipt{}, &domain.ChainError{Kind: domain.ChainReverted, Err: err}
		}
		to = token
	}

	tx, err := a.send(ctx, to, value, data)
	if err != nil {
		return domain.Receipt{}, classify(err)
	}
	a.logger.InfoContext(ctx, "transfer sent",
		slog.String("key", t.Key),
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("nonce", tx.Nonce()),
	)
	return a.waitReceipt(ctx, tx.Hash())
}

// send builds, signs, and broadcasts one transaction.
func (a *Adapter) send(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	from := a.signer.Address()
	if a.nextNonce == nil {
		n, err := a.client.PendingNonceAt(ctx, from)
		if err != nil {
			return nil, fmt.Errorf("pending nonce: %w", err)
		}
		a.nextNonce = &n
	}
	nonce := *a.nextNonce

	gas, err := a.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * a.cfg.GasBufferPercent / 100

	head, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}

	var tx *types.Transaction
	if head.BaseFee != nil {
		tip, err := a.client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas tip: %w", err)
		}
		feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
		feeCap.Add(feeCap, tip)
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   a.signer.ChainID(),
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      data,
		})
	} else {
		price, err := a.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     data,
		})
	}

	signed, err := a.signer.SignTx(tx)
	if err != nil {
		return nil, err
	}
	if err := a.client.SendTransaction(ctx, signed); err != nil {
		if isNonceError(err) {
			a.nextNonce = nil
		}
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	next := nonce + 1
	a.nextNonce = &next
	return signed, nil
}

// waitReceipt polls until the receipt appears or ConfirmTimeout elapses.
func (a *Adapter) waitReceipt(ctx context.Context, hash common.Hash) (domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rcpt, err := a.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if rcpt.Status != types.ReceiptStatusSuccessful {
				return domain.Receipt{}, &domain.ChainError{Kind: domain.ChainReverted, TxHash: hash.Hex()}
			}
			return domain.Receipt{Hash: hash.Hex(), BlockHeight: rcpt.BlockNumber.Uint64()}, nil
		case errors.Is(err, ethereum.NotFound):
		case ctx.Err() == nil:
			a.logger.DebugContext(ctx, "receipt poll failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return domain.Receipt{}, &domain.ChainError{Kind: domain.ChainTimeout, TxHash: hash.Hex(), Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// classify maps RPC errors onto failure kinds. Anything not recognised is
// a Timeout so the engine may retry it; none of these errors mean the
// transaction was mined.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	kind := domain.ChainTimeout
	switch {
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "intrinsic gas too low"),
		strings.Contains(msg, "gas required exceeds allowance"):
		kind = domain.ChainInsufficientGas
	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "invalid opcode"):
		kind = domain.ChainReverted
	}
	return &domain.ChainError{Kind: kind, Err: err}
}

func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") || strings.Contains(msg, "nonce too high")
}

var _ domain.ChainAdapter = (*Adapter)(nil)
