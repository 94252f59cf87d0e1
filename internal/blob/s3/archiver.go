package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bountypool/internal/currency"
	"github.com/alanyoungcy/bountypool/internal/domain"
)

// multipartThreshold is the payload size above which uploads go through
// the multipart manager.
const multipartThreshold = 64 * 1024 * 1024

// FundingSource lists funding log entries across repositories.
type FundingSource interface {
	ListFundingBefore(ctx context.Context, before time.Time) ([]domain.FundingTx, error)
}

// AuditPruner is implemented by audit stores that can drop archived rows.
type AuditPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveReport describes one archive run.
type ArchiveReport struct {
	Cutoff       time.Time
	FundingPath  string
	FundingRows  int
	AuditPath    string
	AuditRows    int
	AuditPruned  int64
	SkippedPaths []string
}

// fundingRecord is the archived form of a funding entry. Amounts are kept
// both in canonical units and display form.
type fundingRecord struct {
	RepositoryID string    `json:"repository_id"`
	Sequence     int64     `json:"sequence"`
	Currency     string    `json:"currency"`
	Amount       string    `json:"amount"`
	Display      string    `json:"display_amount"`
	Actor        string    `json:"actor"`
	Timestamp    time.Time `json:"timestamp"`
}

type auditRecord struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Archiver snapshots the funding log and the audit log to object storage as
// JSONL files partitioned by cutoff day. The funding log stays in the
// primary store; audit rows are pruned only when prune is enabled and the
// store supports it.
type Archiver struct {
	writer  domain.BlobWriter
	funding FundingSource
	audit   domain.AuditStore
	prune   bool
	logger  *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, funding FundingSource, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		funding: funding,
		audit:   audit,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// WithPruneAudit enables deleting archived audit rows.
func (a *Archiver) WithPruneAudit(on bool) *Archiver {
	a.prune = on
	return a
}

// Archive writes every funding and audit entry older than before. A file
// that already exists for the cutoff day is left untouched, so reruns for
// the same day are no-ops.
func (a *Archiver) Archive(ctx context.Context, before time.Time) (ArchiveReport, error) {
	before = before.UTC()
	rep := ArchiveReport{Cutoff: before}

	funding, err := a.funding.ListFundingBefore(ctx, before)
	if err != nil {
		return rep, fmt.Errorf("s3blob: archive funding query: %w", err)
	}
	records := make([]fundingRecord, 0, len(funding))
	for _, f := range funding {
		records = append(records, fundingRecord{
			RepositoryID: f.RepositoryID,
			Sequence:     f.Sequence,
			Currency:     string(f.Currency),
			Amount:       f.Amount.String(),
			Display:      currency.ToDisplay(f.Amount, f.Currency),
			Actor:        f.Actor,
			Timestamp:    f.Timestamp,
		})
	}
	path, wrote, err := upload(ctx, a.writer, "funding", before, records)
	if err != nil {
		return rep, err
	}
	if wrote {
		rep.FundingPath, rep.FundingRows = path, len(records)
	} else if path != "" {
		rep.SkippedPaths = append(rep.SkippedPaths, path)
	}

	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return rep, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	audit := make([]auditRecord, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		audit = append(audit, auditRecord{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt})
	}
	path, wrote, err = upload(ctx, a.writer, "audit", before, audit)
	if err != nil {
		return rep, err
	}
	if wrote {
		rep.AuditPath, rep.AuditRows = path, len(audit)
		if pr, ok := a.audit.(AuditPruner); ok && a.prune {
			n, err := pr.DeleteBefore(ctx, before)
			if err != nil {
				return rep, fmt.Errorf("s3blob: prune audit: %w", err)
			}
			rep.AuditPruned = n
		}
	} else if path != "" {
		rep.SkippedPaths = append(rep.SkippedPaths, path)
	}

	a.logger.InfoContext(ctx, "archive complete",
		slog.Time("cutoff", before),
		slog.Int("funding_rows", rep.FundingRows),
		slog.Int("audit_rows", rep.AuditRows),
		slog.Int64("audit_pruned", rep.AuditPruned),
		slog.Int("skipped", len(rep.SkippedPaths)),
	)

	if rep.FundingRows > 0 || rep.AuditRows > 0 {
		if err := a.audit.Log(ctx, "archive.completed", map[string]any{
			"cutoff":       before.Format(time.RFC3339),
			"funding_path": rep.FundingPath,
			"funding_rows": rep.FundingRows,
			"audit_path":   rep.AuditPath,
			"audit_rows":   rep.AuditRows,
		}); err != nil {
			return rep, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return rep, nil
}

// upload writes records to the kind's file for before. It returns an empty
// path when there is nothing to write and wrote=false when the file exists.
func upload[T any](ctx context.Context, w domain.BlobWriter, kind string, before time.Time, records []T) (string, bool, error) {
	if len(records) == 0 {
		return "", false, nil
	}
	path := archivePath(kind, before)
	exists, err := w.Exists(ctx, path)
	if err != nil {
		return path, false, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if exists {
		return path, false, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return path, false, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if len(buf) > multipartThreshold {
		err = w.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = w.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return path, false, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	return path, true, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// UTC day of the cutoff.
//
//	archive/funding/2026-10-19.jsonl
//	archive/audit/2026-10-19.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
