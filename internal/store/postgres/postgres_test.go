package postgres

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/bounty?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "bounty"}))
	assert.Equal(t, "postgres://u:p@db:6543/bounty?sslmode=require",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Port: 6543, Database: "bounty", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationFilesOrdered(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
	assert.IsNonDecreasing(t, names)
}

func TestQueryBuilder(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := newQuery(`SELECT 1 FROM t WHERE repository_id = $1`, "org/repo")
	q.window("created_at", domain.ListOpts{Since: &since})
	q.page(domain.ListOpts{Limit: 10, Offset: 5})

	assert.Equal(t, `SELECT 1 FROM t WHERE repository_id = $1 AND created_at >= $2 LIMIT $3 OFFSET $4`, q.sql)
	assert.Equal(t, []any{"org/repo", since, 10, 5}, q.args)
}

func TestNumericRoundTrip(t *testing.T) {
	assert.Nil(t, numeric(nil))
	big1e30, _ := new(big.Int).SetString("1000000000000000000000000000000", 10)
	s := numeric(big1e30)
	v, err := parseNumeric(s)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Cmp(big1e30))

	v, err = parseNumeric(nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	bad := "12.5"
	_, err = parseNumeric(&bad)
	assert.Error(t, err)
}

// openTestDB connects to BOUNTYPOOL_TEST_DATABASE_URL or skips.
func openTestDB(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("BOUNTYPOOL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BOUNTYPOOL_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	_, err = c.RunMigrations(ctx)
	require.NoError(t, err)
	return c
}

func TestLedgerStoreIntegration(t *testing.T) {
	c := openTestDB(t)
	ctx := context.Background()
	s := NewLedgerStore(c.Pool())
	repo := "it/" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)

	amount, _ := new(big.Int).SetString("250000000000000000000", 10)
	err := s.WithinRepo(ctx, repo, func(tx domain.LedgerTx) error {
		_, err := tx.LoadPool(ctx)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, tx.SavePool(ctx, domain.PoolDocument{SchemaVersion: 2, State: []byte(`{"managers":[]}`), UpdatedAt: now}))
		seq, err := tx.AppendFunding(ctx, domain.FundingTx{Currency: domain.CurrencyXDC, Amount: amount, Actor: "0xabc", Timestamp: now})
		require.NoError(t, err)
		assert.Equal(t, int64(1), seq)
		seq, err = tx.AppendFunding(ctx, domain.FundingTx{Currency: domain.CurrencyXDC, Amount: amount, Actor: "0xabc", Timestamp: now})
		require.NoError(t, err)
		assert.Equal(t, int64(2), seq)

		return tx.SaveReward(ctx, domain.IssueReward{
			IssueID: "7", Round: 1, Currency: domain.CurrencyXDC, Amount: amount,
			Status: domain.RewardEscrowed, CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)

	doc, err := s.GetPool(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.SchemaVersion)

	r, err := s.GetReward(ctx, repo, "7")
	require.NoError(t, err)
	assert.Equal(t, 0, r.Amount.Cmp(amount))
	assert.Equal(t, domain.RewardEscrowed, r.Status)

	funding, err := s.ListFunding(ctx, repo, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, funding, 2)

	// A failing callback rolls everything back.
	err = s.WithinRepo(ctx, repo, func(tx domain.LedgerTx) error {
		_, err := tx.AppendFunding(ctx, domain.FundingTx{Currency: domain.CurrencyXDC, Amount: amount, Actor: "0xabc", Timestamp: now})
		require.NoError(t, err)
		return domain.ErrDailyCapExceeded
	})
	assert.ErrorIs(t, err, domain.ErrDailyCapExceeded)
	funding, err = s.ListFunding(ctx, repo, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, funding, 2)
}
