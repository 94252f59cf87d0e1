// Package service holds application services that sit between the
// transports and the ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/alanyoungcy/bountypool/internal/currency"
	"github.com/alanyoungcy/bountypool/internal/domain"
	"github.com/alanyoungcy/bountypool/internal/metrics"
)

// CommandParser recognises bounty commands in comment text.
type CommandParser interface {
	Parse(text string) (domain.Command, bool)
}

// CommandLedger is the part of the ledger that comment commands drive.
type CommandLedger interface {
	RequestBounty(ctx context.Context, repositoryID, issueID, actor string) (domain.IssueReward, bool, error)
	Allocate(ctx context.Context, repositoryID, issueID string, c domain.Currency, amount *big.Int, actor string) (domain.IssueReward, error)
}

// CommentEvent is an issue comment delivered by the code host.
type CommentEvent struct {
	CommentID    string `json:"comment_id"`
	RepositoryID string `json:"repository_id"`
	IssueID      string `json:"issue_id"`
	Actor        string `json:"actor"`
	Body         string `json:"body"`
}

// Outcome is what happened to a comment.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRequested Outcome = "requested"
	OutcomeExisting  Outcome = "existing"
	OutcomeAllocated Outcome = "allocated"
	OutcomeRejected  Outcome = "rejected"
)

// CommandResult describes a handled comment. Command and Reward are nil
// when the comment carried no command or was a duplicate.
type CommandResult struct {
	Outcome Outcome
	Command *domain.Command
	Reward  *domain.IssueReward
}

const (
	defaultDedupTTL    = 7 * 24 * time.Hour
	defaultActorLimit  = 20
	defaultActorWindow = time.Minute
)

// CommandService turns comment events into ledger operations.
type CommandService struct {
	parser  CommandParser
	ledger  CommandLedger
	dedup   domain.Deduper
	ttl     time.Duration
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
	logger  *slog.Logger
}

// NewCommandService creates a CommandService. Dedup and rate limiting are
// off until configured.
func NewCommandService(parser CommandParser, ledger CommandLedger, logger *slog.Logger) *CommandService {
	return &CommandService{
		parser: parser,
		ledger: ledger,
		ttl:    defaultDedupTTL,
		limit:  defaultActorLimit,
		window: defaultActorWindow,
		logger: logger.With(slog.String("component", "command_service")),
	}
}

// WithDeduper makes each comment id apply at most once within ttl.
func (s *CommandService) WithDeduper(d domain.Deduper, ttl time.Duration) *CommandService {
	s.dedup = d
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithRateLimit caps the commands one actor may issue per window.
func (s *CommandService) WithRateLimit(l domain.RateLimiter, limit int, window time.Duration) *CommandService {
	s.limiter = l
	if limit > 0 {
		s.limit = limit
	}
	if window > 0 {
		s.window = window
	}
	return s
}

// Handle parses ev.Body and applies the command it carries. Comments with
// no command return OutcomeIgnored and a nil error; they consume neither
// dedup nor rate-limit budget.
func (s *CommandService) Handle(ctx context.Context, ev CommentEvent) (res CommandResult, err error) {
	defer func() {
		switch {
		case err != nil:
			metrics.RecordCommand(string(OutcomeRejected))
		default:
			metrics.RecordCommand(string(res.Outcome))
		}
	}()

	if strings.TrimSpace(ev.RepositoryID) == "" || strings.TrimSpace(ev.IssueID) == "" {
		return res, fmt.Errorf("service: handle comment: %w: repository and issue are required", domain.ErrInvalidInput)
	}

	cmd, ok := s.parser.Parse(ev.Body)
	if !ok {
		res.Outcome = OutcomeIgnored
		return res, nil
	}
	res.Command = &cmd

	if s.dedup != nil && ev.CommentID != "" {
		key := "comment:" + ev.RepositoryID + ":" + ev.CommentID
		seen, derr := s.dedup.Seen(ctx, key, s.ttl)
		if derr != nil {
			return res, fmt.Errorf("service: dedup comment %s: %w", ev.CommentID, derr)
		}
		if seen {
			s.logger.DebugContext(ctx, "duplicate comment skipped",
				slog.String("comment_id", ev.CommentID),
				slog.String("repository_id", ev.RepositoryID),
			)
			res.Outcome = OutcomeDuplicate
			return res, nil
		}
		defer func() {
			if err != nil && redeliverable(err) {
				s.forget(ctx, key)
			}
		}()
	}

	if s.limiter != nil {
		allowed, lerr := s.limiter.Allow(ctx, "commands:"+strings.ToLower(ev.Actor), s.limit, s.window)
		if lerr != nil {
			return res, fmt.Errorf("service: rate limiter: %w", lerr)
		}
		if !allowed {
			return res, fmt.Errorf("service: handle comment: %w", domain.ErrRateLimited)
		}
	}

	switch cmd.Kind {
	case domain.CommandRequest:
		r, created, err := s.ledger.RequestBounty(ctx, ev.RepositoryID, ev.IssueID, ev.Actor)
		if err != nil {
			return res, fmt.Errorf("service: request bounty: %w", err)
		}
		res.Reward = &r
		res.Outcome = OutcomeExisting
		if created {
			res.Outcome = OutcomeRequested
		}

	case domain.CommandAllocate:
		amount, err := currency.ToCanonical(cmd.Amount, cmd.Currency)
		if err != nil {
			return res, fmt.Errorf("service: allocate: %w", err)
		}
		r, err := s.ledger.Allocate(ctx, ev.RepositoryID, ev.IssueID, cmd.Currency, amount, ev.Actor)
		if err != nil {
			return res, fmt.Errorf("service: allocate: %w", err)
		}
		res.Reward = &r
		res.Outcome = OutcomeAllocated

	default:
		return res, fmt.Errorf("service: handle comment: %w: unknown command kind %q", domain.ErrInvalidInput, cmd.Kind)
	}

	s.logger.InfoContext(ctx, "comment command applied",
		slog.String("comment_id", ev.CommentID),
		slog.String("repository_id", ev.RepositoryID),
		slog.String("issue_id", ev.IssueID),
		slog.String("kind", string(cmd.Kind)),
		slog.String("outcome", string(res.Outcome)),
	)
	return res, nil
}

// forget releases a comment id so a redelivery of the comment is applied.
func (s *CommandService) forget(ctx context.Context, key string) {
	if err := s.dedup.Forget(context.WithoutCancel(ctx), key); err != nil {
		s.logger.WarnContext(ctx, "release comment dedup key failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// rejections are outcomes a redelivered comment would meet again. Any other
// error, including rate limiting and store failures, leaves the comment
// eligible for redelivery.
var rejections = []error{
	domain.ErrInvalidInput,
	domain.ErrInvalidAmount,
	domain.ErrInvalidAddress,
	domain.ErrUnauthorized,
	domain.ErrIssueAlreadyFunded,
	domain.ErrDailyCapExceeded,
	domain.ErrInsufficientPoolBalance,
	domain.ErrInvalidState,
	domain.ErrAlreadyClaimed,
	domain.ErrNotFound,
}

func redeliverable(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return false
		}
	}
	return true
}
