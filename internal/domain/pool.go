package domain

import (
	"math/big"
	"slices"
	"time"
)

// secondsPerDay is the length of a UTC calendar day used for daily caps.
const secondsPerDay = 86400

// UTCDay returns the UTC calendar-day index of t (days since the Unix epoch).
// Daily caps reset when this index changes, i.e. at UTC midnight.
func UTCDay(t time.Time) int64 {
	sec := t.UTC().Unix()
	day := sec / secondsPerDay
	if sec < 0 && sec%secondsPerDay != 0 {
		day--
	}
	return day
}

// DailyFunding tracks how much of a currency was funded on a given UTC day.
type DailyFunding struct {
	Amount *big.Int
	Day    int64
}

// Pool is the per-repository reward pool.
type Pool struct {
	RepositoryID  string
	Managers      []string // checksummed, sorted, unique
	Contributors  []string // checksummed, sorted, unique
	Balances      map[Currency]*big.Int
	DailyFunded   map[Currency]DailyFunding
	SchemaVersion int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewPool returns an empty pool for repositoryID.
func NewPool(repositoryID string, now time.Time) Pool {
	return Pool{
		RepositoryID: repositoryID,
		Balances:     make(map[Currency]*big.Int),
		DailyFunded:  make(map[Currency]DailyFunding),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Balance returns a copy of the pool balance in c (zero when never funded).
func (p Pool) Balance(c Currency) *big.Int {
	if b, ok := p.Balances[c]; ok && b != nil {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// FundedOn returns the amount of c funded on the given UTC day.
func (p Pool) FundedOn(c Currency, day int64) *big.Int {
	if d, ok := p.DailyFunded[c]; ok && d.Day == day && d.Amount != nil {
		return new(big.Int).Set(d.Amount)
	}
	return new(big.Int)
}

// HasManager reports whether addr is a registered pool manager.
func (p Pool) HasManager(addr string) bool {
	_, found := slices.BinarySearch(p.Managers, addr)
	return found
}

// AddManager registers addr and reports whether it was newly added.
func (p *Pool) AddManager(addr string) bool {
	var added bool
	p.Managers, added = insertSorted(p.Managers, addr)
	return added
}

// RemoveManager unregisters addr and reports whether it was present.
func (p *Pool) RemoveManager(addr string) bool {
	i, found := slices.BinarySearch(p.Managers, addr)
	if !found {
		return false
	}
	p.Managers = slices.Delete(p.Managers, i, i+1)
	return true
}

// AddContributor records addr as having been paid from this pool.
func (p *Pool) AddContributor(addr string) {
	p.Contributors, _ = insertSorted(p.Contributors, addr)
}

// Clone returns a deep copy of p.
func (p Pool) Clone() Pool {
	out := p
	out.Managers = slices.Clone(p.Managers)
	out.Contributors = slices.Clone(p.Contributors)
	out.Balances = make(map[Currency]*big.Int, len(p.Balances))
	for c, b := range p.Balances {
		out.Balances[c] = new(big.Int).Set(b)
	}
	out.DailyFunded = make(map[Currency]DailyFunding, len(p.DailyFunded))
	for c, d := range p.DailyFunded {
		out.DailyFunded[c] = DailyFunding{Amount: new(big.Int).Set(d.Amount), Day: d.Day}
	}
	return out
}

func insertSorted(set []string, v string) ([]string, bool) {
	i, found := slices.BinarySearch(set, v)
	if found {
		return set, false
	}
	return slices.Insert(set, i, v), true
}
