// Package currency converts between user-facing decimal amounts and the
// fixed-point integers the ledger stores.
package currency

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// plainDecimal accepts unsigned decimals only: no exponent, sign, spaces or
// thousands separators.
var plainDecimal = regexp.MustCompile(`^(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)$`)

// ToCanonical parses amountText as a non-negative decimal and scales it to
// c's fixed-point integer representation. Inputs with more fractional digits
// than c supports are rejected rather than rounded.
func ToCanonical(amountText string, c domain.Currency) (*big.Int, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: unsupported currency %q", domain.ErrInvalidAmount, c)
	}
	if !plainDecimal.MatchString(amountText) {
		return nil, fmt.Errorf("%w: %q is not a plain non-negative decimal", domain.ErrInvalidAmount, amountText)
	}
	if i := strings.IndexByte(amountText, '.'); i >= 0 {
		if frac := len(amountText) - i - 1; frac > int(c.Decimals()) {
			return nil, fmt.Errorf("%w: %q has %d fractional digits, %s allows %d",
				domain.ErrInvalidAmount, amountText, frac, c, c.Decimals())
		}
	}

	d, err := decimal.NewFromString(strings.TrimSuffix(amountText, "."))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidAmount, amountText, err)
	}
	return d.Shift(c.Decimals()).BigInt(), nil
}

// ToDisplay renders a fixed-point amount of c as a decimal string with
// trailing fractional zeros removed ("1500000" USDC units → "1.5").
func ToDisplay(amount *big.Int, c domain.Currency) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -c.Decimals()).String()
}

// Normalize returns the canonical display form of amountText, which is what
// ToDisplay(ToCanonical(amountText, c), c) yields.
func Normalize(amountText string, c domain.Currency) (string, error) {
	v, err := ToCanonical(amountText, c)
	if err != nil {
		return "", err
	}
	return ToDisplay(v, c), nil
}

// Units returns n whole units of c in fixed-point form.
func Units(n int64, c domain.Currency) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.Decimals())), nil)
	return scale.Mul(scale, big.NewInt(n))
}
