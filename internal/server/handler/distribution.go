package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// Distributor starts payouts and reports on them.
type Distributor interface {
	Submit(ctx context.Context, repositoryID, issueID, actor string) (domain.DistributionJob, error)
	Job(ctx context.Context, id string) (domain.DistributionJob, error)
}

// DistributionHandler serves the asynchronous payout endpoints.
type DistributionHandler struct {
	engine Distributor
	logger *slog.Logger
}

// NewDistributionHandler creates a DistributionHandler.
func NewDistributionHandler(engine Distributor, logger *slog.Logger) *DistributionHandler {
	return &DistributionHandler{
		engine: engine,
		logger: logHandler(logger, "distribution"),
	}
}

// Distribute starts paying out an approved bounty. The work continues after
// the response; poll the returned job id.
// POST /api/pools/{repo}/issues/{issue}/distribute
func (h *DistributionHandler) Distribute(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	job, err := h.engine.Submit(r.Context(), pathParam(r, "repo"), pathParam(r, "issue"), caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "distribute", err)
		return
	}
	w.Header().Set("Location", "/api/distributions/"+job.ID)
	writeJSON(w, http.StatusAccepted, newJobView(job))
}

// GetJob returns a distribution job and, once finished, its result.
// GET /api/distributions/{id}
func (h *DistributionHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.Job(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get distribution", err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}
