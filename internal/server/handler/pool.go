package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/alanyoungcy/bountypool/internal/currency"
	"github.com/alanyoungcy/bountypool/internal/domain"
)

// PoolLedger is the part of the ledger the pool endpoints use.
type PoolLedger interface {
	Pool(ctx context.Context, repositoryID string) (domain.Pool, error)
	Funding(ctx context.Context, repositoryID string, opts domain.ListOpts) ([]domain.FundingTx, error)
	DailyCap(c domain.Currency) *big.Int
	RegisterManager(ctx context.Context, repositoryID, manager, actor string) (domain.Pool, error)
	RemoveManager(ctx context.Context, repositoryID, manager, actor string) (domain.Pool, error)
	Fund(ctx context.Context, repositoryID string, c domain.Currency, amount *big.Int, actor string) (domain.FundingReceipt, error)
}

// PoolCacheKey is the SnapshotCache key of a repository's pool view.
func PoolCacheKey(repositoryID string) string {
	return "pool:" + repositoryID
}

// PoolHandler serves pool snapshot, manager, and funding endpoints.
type PoolHandler struct {
	ledger   PoolLedger
	cache    domain.SnapshotCache
	cacheTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(ledger PoolLedger, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		ledger: ledger,
		now:    time.Now,
		logger: logHandler(logger, "pool"),
	}
}

// WithCache serves snapshots through cache for up to ttl.
func (h *PoolHandler) WithCache(cache domain.SnapshotCache, ttl time.Duration) *PoolHandler {
	h.cache = cache
	h.cacheTTL = ttl
	return h
}

// GetPool returns the pool snapshot with display amounts.
// GET /api/pools/{repo}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	repo := pathParam(r, "repo")
	key := PoolCacheKey(repo)

	if h.cache != nil {
		if data, err := h.cache.Get(r.Context(), key); err == nil {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("X-Cache", "hit")
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		} else if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "snapshot cache read failed", slog.String("error", err.Error()))
		}
	}

	p, err := h.ledger.Pool(r.Context(), repo)
	if err != nil {
		writeDomainError(w, r, h.logger, "get pool", err)
		return
	}
	view := newPoolView(p, h.ledger.DailyCap, h.now())

	if h.cache != nil {
		if data, err := json.Marshal(view); err == nil {
			if err := h.cache.Set(r.Context(), key, data, h.cacheTTL); err != nil {
				h.logger.WarnContext(r.Context(), "snapshot cache write failed", slog.String("error", err.Error()))
			}
		}
	}
	writeJSON(w, http.StatusOK, view)
}

type managerRequest struct {
	Manager string `json:"manager"`
}

// RegisterManager adds a manager to the pool, creating the pool if needed.
// POST /api/pools/{repo}/managers
func (h *PoolHandler) RegisterManager(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var req managerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	repo := pathParam(r, "repo")
	p, err := h.ledger.RegisterManager(r.Context(), repo, req.Manager, caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "register manager", err)
		return
	}
	h.invalidate(r.Context(), repo)
	writeJSON(w, http.StatusOK, newPoolView(p, h.ledger.DailyCap, h.now()))
}

// RemoveManager removes a manager from the pool.
// DELETE /api/pools/{repo}/managers/{address}
func (h *PoolHandler) RemoveManager(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	repo := pathParam(r, "repo")
	p, err := h.ledger.RemoveManager(r.Context(), repo, pathParam(r, "address"), caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "remove manager", err)
		return
	}
	h.invalidate(r.Context(), repo)
	writeJSON(w, http.StatusOK, newPoolView(p, h.ledger.DailyCap, h.now()))
}

type amountRequest struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// canonical resolves the currency and converts the display amount.
func (req amountRequest) canonical() (domain.Currency, *big.Int, error) {
	c, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	v, err := currency.ToCanonical(req.Amount, c)
	if err != nil {
		return "", nil, err
	}
	return c, v, nil
}

// Fund adds funds to the pool.
// POST /api/pools/{repo}/fund
func (h *PoolHandler) Fund(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, amount, err := req.canonical()
	if err != nil {
		writeDomainError(w, r, h.logger, "fund", err)
		return
	}
	repo := pathParam(r, "repo")
	rcpt, err := h.ledger.Fund(r.Context(), repo, c, amount, caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "fund", err)
		return
	}
	h.invalidate(r.Context(), repo)
	writeJSON(w, http.StatusOK, newReceiptView(rcpt))
}

type listFundingResponse struct {
	Funding []fundingView `json:"funding"`
}

// ListFunding returns the pool's funding log in sequence order.
// GET /api/pools/{repo}/funding?since=...&until=...&limit=50&offset=0
func (h *PoolHandler) ListFunding(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "list funding", err)
		return
	}
	entries, err := h.ledger.Funding(r.Context(), pathParam(r, "repo"), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list funding", err)
		return
	}
	out := make([]fundingView, 0, len(entries))
	for _, f := range entries {
		out = append(out, newFundingView(f))
	}
	writeJSON(w, http.StatusOK, listFundingResponse{Funding: out})
}

// invalidate drops the cached snapshot after a mutation made through this
// handler. Mutations from other paths are covered by the event listener.
func (h *PoolHandler) invalidate(ctx context.Context, repo string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Delete(ctx, PoolCacheKey(repo)); err != nil {
		h.logger.WarnContext(ctx, "snapshot cache delete failed", slog.String("error", err.Error()))
	}
}
