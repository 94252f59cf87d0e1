package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// IssueLedger is the part of the ledger the issue endpoints use.
type IssueLedger interface {
	Reward(ctx context.Context, repositoryID, issueID string) (domain.IssueReward, error)
	Rewards(ctx context.Context, repositoryID string, opts domain.ListOpts) ([]domain.IssueReward, error)
	Allocate(ctx context.Context, repositoryID, issueID string, c domain.Currency, amount *big.Int, actor string) (domain.IssueReward, error)
	Claim(ctx context.Context, repositoryID, issueID, contributor string) (domain.IssueReward, error)
	Approve(ctx context.Context, repositoryID, issueID, actor string) (domain.IssueReward, error)
	Revoke(ctx context.Context, repositoryID, issueID, actor string) (domain.IssueReward, error)
}

// IssueHandler serves the issue reward lifecycle endpoints.
type IssueHandler struct {
	ledger IssueLedger
	onPool func(ctx context.Context, repositoryID string)
	logger *slog.Logger
}

// NewIssueHandler creates an IssueHandler.
func NewIssueHandler(ledger IssueLedger, logger *slog.Logger) *IssueHandler {
	return &IssueHandler{
		ledger: ledger,
		onPool: func(context.Context, string) {},
		logger: logHandler(logger, "issue"),
	}
}

// OnPoolChange registers fn to run after an operation that changed the
// pool balance (allocate, revoke).
func (h *IssueHandler) OnPoolChange(fn func(ctx context.Context, repositoryID string)) *IssueHandler {
	h.onPool = fn
	return h
}

type listRewardsResponse struct {
	Issues []rewardView `json:"issues"`
}

// ListRewards returns the repository's issue rewards ordered by issue id.
// GET /api/pools/{repo}/issues?limit=50&offset=0
func (h *IssueHandler) ListRewards(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "list issues", err)
		return
	}
	rewards, err := h.ledger.Rewards(r.Context(), pathParam(r, "repo"), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list issues", err)
		return
	}
	out := make([]rewardView, 0, len(rewards))
	for _, rw := range rewards {
		out = append(out, newRewardView(rw))
	}
	writeJSON(w, http.StatusOK, listRewardsResponse{Issues: out})
}

// GetReward returns one issue reward.
// GET /api/pools/{repo}/issues/{issue}
func (h *IssueHandler) GetReward(w http.ResponseWriter, r *http.Request) {
	rw, err := h.ledger.Reward(r.Context(), pathParam(r, "repo"), pathParam(r, "issue"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get issue", err)
		return
	}
	writeJSON(w, http.StatusOK, newRewardView(rw))
}

// Allocate escrows a bounty from the pool onto the issue.
// POST /api/pools/{repo}/issues/{issue}/allocate
func (h *IssueHandler) Allocate(w http.ResponseWriter, r *http.Request) {
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
		writeDomainError(w, r, h.logger, "allocate", err)
		return
	}
	repo := pathParam(r, "repo")
	rw, err := h.ledger.Allocate(r.Context(), repo, pathParam(r, "issue"), c, amount, caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "allocate", err)
		return
	}
	h.onPool(r.Context(), repo)
	writeJSON(w, http.StatusOK, newRewardView(rw))
}

type claimRequest struct {
	Contributor string `json:"contributor"`
}

// Claim assigns the escrowed bounty to a contributor.
// POST /api/pools/{repo}/issues/{issue}/claim
func (h *IssueHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rw, err := h.ledger.Claim(r.Context(), pathParam(r, "repo"), pathParam(r, "issue"), req.Contributor)
	if err != nil {
		writeDomainError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, newRewardView(rw))
}

// Approve marks a claimed bounty ready for distribution.
// POST /api/pools/{repo}/issues/{issue}/approve
func (h *IssueHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	rw, err := h.ledger.Approve(r.Context(), pathParam(r, "repo"), pathParam(r, "issue"), caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, newRewardView(rw))
}

// Revoke cancels a bounty and returns the escrow to the pool.
// POST /api/pools/{repo}/issues/{issue}/revoke
func (h *IssueHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	repo := pathParam(r, "repo")
	rw, err := h.ledger.Revoke(r.Context(), repo, pathParam(r, "issue"), caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "revoke", err)
		return
	}
	h.onPool(r.Context(), repo)
	writeJSON(w, http.StatusOK, newRewardView(rw))
}
