package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bountypool/internal/domain"
	"github.com/alanyoungcy/bountypool/internal/store/memory"
)

type memWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemWriter() *memWriter { return &memWriter{objects: map[string][]byte{}} }

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

func (w *memWriter) Exists(_ context.Context, path string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.objects[path]
	return ok, nil
}

func lines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func seedFunding(t *testing.T, s *memory.LedgerStore, repo string, at time.Time, units int64) {
	t.Helper()
	amount := new(big.Int).Mul(big.NewInt(units), big.NewInt(1e18))
	err := s.WithinRepo(context.Background(), repo, func(tx domain.LedgerTx) error {
		_, err := tx.AppendFunding(context.Background(), domain.FundingTx{
			Currency: domain.CurrencyXDC, Amount: amount, Actor: "0xabc", Timestamp: at,
		})
		return err
	})
	require.NoError(t, err)
}

func TestArchiverWritesFundingAndAudit(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedgerStore()
	audit := memory.NewAuditStore()
	w := newMemWriter()

	cutoff := time.Now().UTC().Add(time.Hour)
	seedFunding(t, ledger, "org/a", cutoff.Add(-48*time.Hour), 5)
	seedFunding(t, ledger, "org/b", cutoff.Add(-24*time.Hour), 7)
	seedFunding(t, ledger, "org/a", cutoff.Add(time.Minute), 9)
	require.NoError(t, audit.Log(ctx, "pool_funded", map[string]any{"repository_id": "org/a"}))
	require.NoError(t, audit.Log(ctx, "bounty_allocated", map[string]any{"repository_id": "org/a"}))

	a := NewArchiver(w, ledger, audit, slog.New(slog.DiscardHandler)).WithPruneAudit(true)
	rep, err := a.Archive(ctx, cutoff)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.FundingRows)
	assert.Equal(t, 2, rep.AuditRows)
	assert.Equal(t, int64(2), rep.AuditPruned)
	assert.Equal(t, archivePath("funding", cutoff), rep.FundingPath)

	funding := lines(t, w.objects[rep.FundingPath])
	require.Len(t, funding, 2)
	assert.Equal(t, "org/a", funding[0]["repository_id"])
	assert.Equal(t, "5000000000000000000", funding[0]["amount"])
	assert.Equal(t, "5", funding[0]["display_amount"])
	assert.Equal(t, "org/b", funding[1]["repository_id"])

	auditLines := lines(t, w.objects[rep.AuditPath])
	require.Len(t, auditLines, 2)
	assert.Equal(t, "pool_funded", auditLines[0]["event"])
	assert.Equal(t, "bounty_allocated", auditLines[1]["event"])

	// Only the completion marker remains after pruning.
	remaining, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "archive.completed", remaining[0].Event)
}

func TestArchiverRerunSkipsExistingFiles(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedgerStore()
	audit := memory.NewAuditStore()
	w := newMemWriter()

	cutoff := time.Now().UTC().Add(time.Hour)
	seedFunding(t, ledger, "org/a", cutoff.Add(-time.Hour), 1)

	a := NewArchiver(w, ledger, audit, slog.New(slog.DiscardHandler))
	first, err := a.Archive(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, 1, first.FundingRows)
	written := append([]byte(nil), w.objects[first.FundingPath]...)

	seedFunding(t, ledger, "org/a", cutoff.Add(-time.Minute), 2)
	second, err := a.Archive(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, second.FundingRows)
	assert.Contains(t, second.SkippedPaths, first.FundingPath)
	assert.Equal(t, written, w.objects[first.FundingPath])
}

func TestArchiverNothingToDo(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w, memory.NewLedgerStore(), memory.NewAuditStore(), slog.New(slog.DiscardHandler))
	rep, err := a.Archive(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, w.objects)
	assert.Empty(t, rep.FundingPath)
	assert.Empty(t, rep.AuditPath)
}

func TestObjectKeyAndEndpoint(t *testing.T) {
	assert.Equal(t, "bounty/archive/x.jsonl", joinKey("bounty", "/archive/x.jsonl"))
	assert.Equal(t, "archive/x.jsonl", joinKey("", "archive/x.jsonl"))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
