package postgres

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// query accumulates SQL text and positional arguments.
type query struct {
	sql  string
	args []any
}

func newQuery(base string, args ...any) *query {
	return &query{sql: base, args: args}
}

func (q *query) add(s string) { q.sql += s }

// arg appends v and returns its placeholder.
func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// window restricts col to [opts.Since, opts.Until).
func (q *query) window(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.add(" AND " + col + " >= " + q.arg(*opts.Since))
	}
	if opts.Until != nil {
		q.add(" AND " + col + " < " + q.arg(*opts.Until))
	}
}

func (q *query) page(opts domain.ListOpts) {
	if opts.Limit > 0 {
		q.add(" LIMIT " + q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		q.add(" OFFSET " + q.arg(opts.Offset))
	}
}

// numeric renders an amount for a $n::numeric parameter; nil maps to NULL.
func numeric(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// parseNumeric reads an amount scanned from amount::text.
func parseNumeric(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid numeric %q", *s)
	}
	return v, nil
}
