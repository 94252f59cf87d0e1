package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{domain.ErrInvalidAddress, http.StatusBadRequest},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrDailyCapExceeded, http.StatusTooManyRequests},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrInsufficientPoolBalance, http.StatusConflict},
		{domain.ErrIssueAlreadyFunded, http.StatusConflict},
		{domain.ErrInvalidState, http.StatusConflict},
		{domain.ErrAlreadyClaimed, http.StatusConflict},
		{domain.ErrDistributionInProgress, http.StatusConflict},
		{domain.ErrNotFound, http.StatusNotFound},
		{&domain.ChainError{Kind: domain.ChainReverted}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("ledger: op: %w", tt.err)
			assert.Equal(t, tt.want, StatusFor(wrapped))
		})
	}
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?limit=900&offset=3&since=2026-01-02T00:00:00Z", nil)
	opts, err := parseListOpts(r)
	require.NoError(t, err)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 3, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.Equal(t, 2, opts.Since.Day())
	assert.Nil(t, opts.Until)

	r = httptest.NewRequest(http.MethodGet, "/x?until=yesterday", nil)
	_, err = parseListOpts(r)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
