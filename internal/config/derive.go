package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bountypool/internal/currency"
	"github.com/alanyoungcy/bountypool/internal/domain"
	"github.com/alanyoungcy/bountypool/internal/ledger"
)

// DailyCaps converts Ledger.DailyCaps to canonical units per currency. A
// token currency without an entry but with a Ledger.NativeRates entry is
// capped at the native cap times that rate. Anything left is omitted and
// falls back to the ledger default.
func (c *Config) DailyCaps() (map[domain.Currency]*big.Int, error) {
	out := make(map[domain.Currency]*big.Int, len(domain.Currencies))
	for code, text := range c.Ledger.DailyCaps {
		cur, err := domain.ParseCurrency(code)
		if err != nil {
			return nil, fmt.Errorf("daily_caps: %w", err)
		}
		v, err := currency.ToCanonical(strings.TrimSpace(text), cur)
		if err != nil {
			return nil, fmt.Errorf("daily_caps: %s: %w", cur, err)
		}
		if v.Sign() <= 0 {
			return nil, fmt.Errorf("daily_caps: %s: cap must be positive", cur)
		}
		out[cur] = v
	}

	nativeCap := decimal.NewFromInt(ledger.DefaultDailyCapUnits)
	if v, ok := out[domain.CurrencyXDC]; ok {
		nativeCap = decimal.NewFromBigInt(v, -domain.CurrencyXDC.Decimals())
	}
	for code, text := range c.Ledger.NativeRates {
		cur, err := domain.ParseCurrency(code)
		if err != nil {
			return nil, fmt.Errorf("native_rates: %w", err)
		}
		if cur == domain.CurrencyXDC {
			return nil, fmt.Errorf("native_rates: %s is the native coin", cur)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(text))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("native_rates: %s: rate %q must be a positive decimal", cur, text)
		}
		if _, explicit := out[cur]; explicit {
			continue
		}
		v := nativeCap.Mul(rate).Shift(cur.Decimals()).BigInt()
		if v.Sign() <= 0 {
			return nil, fmt.Errorf("native_rates: %s: cap rounds to zero", cur)
		}
		out[cur] = v
	}
	return out, nil
}

// MaxBounty parses Command.MaxBounty. Empty selects the parser default.
func (c *Config) MaxBounty() (decimal.Decimal, error) {
	text := strings.TrimSpace(c.Command.MaxBounty)
	if text == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("max_bounty %q: %w", text, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("max_bounty must be positive, got %s", text)
	}
	return d, nil
}
