package engine

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// bpsDenominator is 100% in basis points.
const bpsDenominator = 10_000

// FeeConfig sets the fee rates taken from every payout and where they go.
type FeeConfig struct {
	PlatformFeeBps          int64
	ContributorFeeBps       int64
	PlatformCollector       string
	ContributorFeeCollector string
}

// Normalize checks the rates and checksums the collector addresses. A
// collector is required only when its rate is non-zero.
func (f FeeConfig) Normalize() (FeeConfig, error) {
	if f.PlatformFeeBps < 0 || f.ContributorFeeBps < 0 {
		return f, fmt.Errorf("engine: fees: negative rate")
	}
	if f.PlatformFeeBps+f.ContributorFeeBps > bpsDenominator {
		return f, fmt.Errorf("engine: fees: total rate %d bps exceeds %d", f.PlatformFeeBps+f.ContributorFeeBps, bpsDenominator)
	}
	var err error
	if f.PlatformFeeBps > 0 || f.PlatformCollector != "" {
		if f.PlatformCollector, err = domain.NormalizeAddress(f.PlatformCollector); err != nil {
			return f, fmt.Errorf("engine: fees: platform collector: %w", err)
		}
	}
	if f.ContributorFeeBps > 0 || f.ContributorFeeCollector != "" {
		if f.ContributorFeeCollector, err = domain.NormalizeAddress(f.ContributorFeeCollector); err != nil {
			return f, fmt.Errorf("engine: fees: contributor fee collector: %w", err)
		}
	}
	return f, nil
}

// Split is the division of one reward into fees and net payout.
type Split struct {
	PlatformFee    *big.Int
	ContributorFee *big.Int
	Net            *big.Int
}

// ComputeSplit applies f to amount. Both fees round down so the contributor
// receives any remainder.
func ComputeSplit(amount *big.Int, f FeeConfig) Split {
	platform := bps(amount, f.PlatformFeeBps)
	contrib := bps(amount, f.ContributorFeeBps)
	net := new(big.Int).Sub(amount, platform)
	net.Sub(net, contrib)
	return Split{PlatformFee: platform, ContributorFee: contrib, Net: net}
}

func bps(amount *big.Int, rate int64) *big.Int {
	if amount == nil || rate <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, big.NewInt(rate))
	return out.Quo(out, big.NewInt(bpsDenominator))
}
