// Package simulated is an in-process chain adapter. It confirms transfers
// immediately (or after a configured latency), keeps per-address totals, and
// can be told to fail upcoming transfers.
package simulated

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// Adapter implements domain.ChainAdapter without a network.
type Adapter struct {
	mu       sync.Mutex
	height   uint64
	latency  time.Duration
	failures []injected
	calls    []domain.Transfer
	received map[domain.Currency]map[string]*big.Int
}

type injected struct {
	match string
	kind  domain.ChainFailureKind
}

// New creates an Adapter starting at block startHeight.
func New(startHeight uint64) *Adapter {
	return &Adapter{
		height:   startHeight,
		received: make(map[domain.Currency]map[string]*big.Int),
	}
}

// WithLatency delays every Execute by d.
func (a *Adapter) WithLatency(d time.Duration) *Adapter {
	a.latency = d
	return a
}

// FailNext queues failures for transfers matching match, consumed in order.
// match is a full transfer key or a leg name such as "payout".
func (a *Adapter) FailNext(match string, kinds ...domain.ChainFailureKind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, k := range kinds {
		a.failures = append(a.failures, injected{match: match, kind: k})
	}
}

// Execute confirms t unless a queued failure matches it.
func (a *Adapter) Execute(ctx context.Context, t domain.Transfer) (domain.Receipt, error) {
	if t.Amount == nil || t.Amount.Sign() <= 0 {
		return domain.Receipt{}, &domain.ChainError{Kind: domain.ChainReverted, Err: domain.ErrInvalidAmount}
	}
	to, err := domain.NormalizeAddress(t.To)
	if err != nil {
		return domain.Receipt{}, &domain.ChainError{Kind: domain.ChainReverted, Err: err}
	}

	if a.latency > 0 {
		timer := time.NewTimer(a.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return domain.Receipt{}, &domain.ChainError{Kind: domain.ChainTimeout, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, t)
	a.height++
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s@%d", t.Key, a.height))).Hex()

	for i, f := range a.failures {
		if t.Key == f.match || strings.HasSuffix(t.Key, "/"+f.match) {
			a.failures = append(a.failures[:i], a.failures[i+1:]...)
			return domain.Receipt{}, &domain.ChainError{Kind: f.kind, TxHash: hash}
		}
	}

	byAddr, ok := a.received[t.Currency]
	if !ok {
		byAddr = make(map[string]*big.Int)
		a.received[t.Currency] = byAddr
	}
	if byAddr[to] == nil {
		byAddr[to] = new(big.Int)
	}
	byAddr[to].Add(byAddr[to], t.Amount)

	return domain.Receipt{Hash: hash, BlockHeight: a.height}, nil
}

// Calls returns every transfer Execute was asked to make, failed ones
// included.
func (a *Adapter) Calls() []domain.Transfer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Transfer(nil), a.calls...)
}

// Received returns the total confirmed to addr in c.
func (a *Adapter) Received(c domain.Currency, addr string) *big.Int {
	norm, err := domain.NormalizeAddress(addr)
	if err != nil {
		return new(big.Int)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if v := a.received[c][norm]; v != nil {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

var _ domain.ChainAdapter = (*Adapter)(nil)
