package domain

import (
	"fmt"
	"strings"
)

// Currency is a supported payout currency, identified by its ticker.
type Currency string

const (
	CurrencyXDC  Currency = "XDC"
	CurrencyROXN Currency = "ROXN"
	CurrencyUSDC Currency = "USDC"
)

// CurrencyKind is the role a currency plays in a pool.
type CurrencyKind string

const (
	KindNative CurrencyKind = "NATIVE"
	KindToken  CurrencyKind = "TOKEN"
	KindStable CurrencyKind = "STABLE"
)

// Currencies lists every supported currency in display order.
var Currencies = []Currency{CurrencyXDC, CurrencyROXN, CurrencyUSDC}

// ParseCurrency resolves a ticker case-insensitively. The kind names
// (NATIVE, TOKEN, STABLE) are accepted as aliases.
func ParseCurrency(s string) (Currency, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "XDC", string(KindNative):
		return CurrencyXDC, nil
	case "ROXN", string(KindToken):
		return CurrencyROXN, nil
	case "USDC", string(KindStable):
		return CurrencyUSDC, nil
	}
	return "", fmt.Errorf("unknown currency %q", s)
}

// Valid reports whether c is one of the supported currencies.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyXDC, CurrencyROXN, CurrencyUSDC:
		return true
	}
	return false
}

// Kind returns the currency's role.
func (c Currency) Kind() CurrencyKind {
	switch c {
	case CurrencyXDC:
		return KindNative
	case CurrencyROXN:
		return KindToken
	case CurrencyUSDC:
		return KindStable
	}
	return ""
}

// Decimals returns the number of fractional digits of the fixed-point
// representation: 18 for the native coin and platform token, 6 for the
// stablecoin.
func (c Currency) Decimals() int32 {
	if c == CurrencyUSDC {
		return 6
	}
	return 18
}
