package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bountypool/internal/domain"
	"github.com/alanyoungcy/bountypool/internal/service"
)

// CommentHandler applies bounty commands found in comments.
type CommentHandler interface {
	Handle(ctx context.Context, ev service.CommentEvent) (service.CommandResult, error)
}

// CommandHandler serves the comment webhook.
type CommandHandler struct {
	commands CommentHandler
	logger   *slog.Logger
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(commands CommentHandler, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{
		commands: commands,
		logger:   logHandler(logger, "command"),
	}
}

type commandResponse struct {
	Outcome service.Outcome    `json:"outcome"`
	Kind    domain.CommandKind `json:"kind,omitempty"`
	Issue   *rewardView        `json:"issue,omitempty"`
}

// HandleComment parses a comment event and applies any command in it.
// Comments without a command are acknowledged with outcome "ignored".
// POST /api/commands
func (h *CommandHandler) HandleComment(w http.ResponseWriter, r *http.Request) {
	var ev service.CommentEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	res, err := h.commands.Handle(r.Context(), ev)
	if err != nil {
		writeDomainError(w, r, h.logger, "handle comment", err)
		return
	}
	out := commandResponse{Outcome: res.Outcome}
	if res.Command != nil {
		out.Kind = res.Command.Kind
	}
	if res.Reward != nil {
		v := newRewardView(*res.Reward)
		out.Issue = &v
	}
	writeJSON(w, http.StatusOK, out)
}
