package currency

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

func TestToCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   string
		cur  domain.Currency
		want string
	}{
		{"whole xdc", "10", domain.CurrencyXDC, "10000000000000000000"},
		{"fractional roxn", "10.5", domain.CurrencyROXN, "10500000000000000000"},
		{"smallest xdc unit", "0.000000000000000001", domain.CurrencyXDC, "1"},
		{"whole usdc", "25", domain.CurrencyUSDC, "25000000"},
		{"usdc six digits", "0.000001", domain.CurrencyUSDC, "1"},
		{"leading dot", ".5", domain.CurrencyUSDC, "500000"},
		{"trailing dot", "7.", domain.CurrencyUSDC, "7000000"},
		{"zero", "0", domain.CurrencyXDC, "0"},
		{"leading zeros", "007.50", domain.CurrencyUSDC, "7500000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToCanonical(tt.in, tt.cur)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestToCanonical_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		cur  domain.Currency
	}{
		{"empty", "", domain.CurrencyXDC},
		{"negative", "-1", domain.CurrencyXDC},
		{"explicit plus", "+1", domain.CurrencyXDC},
		{"scientific", "1e18", domain.CurrencyXDC},
		{"scientific upper", "1E2", domain.CurrencyUSDC},
		{"letters", "ten", domain.CurrencyXDC},
		{"spaces", " 1", domain.CurrencyXDC},
		{"comma", "1,000", domain.CurrencyXDC},
		{"two dots", "1.2.3", domain.CurrencyXDC},
		{"lone dot", ".", domain.CurrencyXDC},
		{"too precise usdc", "0.0000001", domain.CurrencyUSDC},
		{"too precise xdc", "1.0000000000000000001", domain.CurrencyXDC},
		{"infinity", "Inf", domain.CurrencyXDC},
		{"unknown currency", "1", domain.Currency("BTC")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToCanonical(tt.in, tt.cur)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		})
	}
}

func TestToDisplay(t *testing.T) {
	assert.Equal(t, "1.5", ToDisplay(big.NewInt(1_500_000), domain.CurrencyUSDC))
	assert.Equal(t, "0.000001", ToDisplay(big.NewInt(1), domain.CurrencyUSDC))
	assert.Equal(t, "0", ToDisplay(big.NewInt(0), domain.CurrencyXDC))
	assert.Equal(t, "0", ToDisplay(nil, domain.CurrencyXDC))
	assert.Equal(t, "1000", ToDisplay(Units(1000, domain.CurrencyXDC), domain.CurrencyXDC))
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		cur  domain.Currency
		want string
	}{
		{"10", domain.CurrencyXDC, "10"},
		{"10.50", domain.CurrencyROXN, "10.5"},
		{"0010.000", domain.CurrencyUSDC, "10"},
		{"0.000000000000000001", domain.CurrencyXDC, "0.000000000000000001"},
		{"123456789.123456", domain.CurrencyUSDC, "123456789.123456"},
		{"0.0", domain.CurrencyUSDC, "0"},
		{"999999999999.999999999999999999", domain.CurrencyROXN, "999999999999.999999999999999999"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ToCanonical(tt.in, tt.cur)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ToDisplay(v, tt.cur))

			norm, err := Normalize(tt.in, tt.cur)
			require.NoError(t, err)
			assert.Equal(t, tt.want, norm)
		})
	}
}
