package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// CurrentSchemaVersion is the pool document version written by this build.
//
// Version 1 predates multi-currency pools: it held a single native-coin
// balance and no daily funding counters. Version 2 keys balances and daily
// counters by currency.
const CurrentSchemaVersion = 2

// migrations upgrade a pool document from the key version to the next one.
var migrations = map[int]func(state []byte) ([]byte, error){
	1: migrateV1ToV2,
}

type poolStateV1 struct {
	Managers     []string  `json:"managers"`
	Contributors []string  `json:"contributors"`
	Balance      string    `json:"balance"`
	CreatedAt    time.Time `json:"created_at"`
}

type poolStateV2 struct {
	Managers     []string                         `json:"managers"`
	Contributors []string                         `json:"contributors"`
	Balances     map[domain.Currency]string       `json:"balances"`
	DailyFunded  map[domain.Currency]dailyStateV2 `json:"daily_funded"`
	CreatedAt    time.Time                        `json:"created_at"`
}

type dailyStateV2 struct {
	Amount string `json:"amount"`
	Day    int64  `json:"day"`
}

func migrateV1ToV2(state []byte) ([]byte, error) {
	var v1 poolStateV1
	if err := json.Unmarshal(state, &v1); err != nil {
		return nil, fmt.Errorf("decode v1: %w", err)
	}
	managers, err := normalizeAddresses(v1.Managers)
	if err != nil {
		return nil, fmt.Errorf("managers: %w", err)
	}
	contributors, err := normalizeAddresses(v1.Contributors)
	if err != nil {
		return nil, fmt.Errorf("contributors: %w", err)
	}
	v2 := poolStateV2{
		Managers:     managers,
		Contributors: contributors,
		Balances:     map[domain.Currency]string{},
		DailyFunded:  map[domain.Currency]dailyStateV2{},
		CreatedAt:    v1.CreatedAt,
	}
	if v1.Balance != "" && v1.Balance != "0" {
		v2.Balances[domain.CurrencyXDC] = v1.Balance
	}
	return json.Marshal(v2)
}

// normalizeAddresses checksums addrs and returns them sorted without
// duplicates, the form pool membership lookups expect. v1 documents stored
// addresses as submitted.
func normalizeAddresses(addrs []string) ([]string, error) {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		n, err := domain.NormalizeAddress(a)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// decodePool upgrades doc to CurrentSchemaVersion and decodes it. The
// boolean reports whether any migration ran.
func decodePool(doc domain.PoolDocument) (domain.Pool, bool, error) {
	version, state := doc.SchemaVersion, doc.State
	if version < 1 || version > CurrentSchemaVersion {
		return domain.Pool{}, false, fmt.Errorf("ledger: pool %s: unsupported schema version %d", doc.RepositoryID, version)
	}

	upgraded := false
	for version < CurrentSchemaVersion {
		migrate, ok := migrations[version]
		if !ok {
			return domain.Pool{}, false, fmt.Errorf("ledger: pool %s: no migration from version %d", doc.RepositoryID, version)
		}
		next, err := migrate(state)
		if err != nil {
			return domain.Pool{}, false, fmt.Errorf("ledger: pool %s: migrate v%d: %w", doc.RepositoryID, version, err)
		}
		state = next
		version++
		upgraded = true
	}

	var s poolStateV2
	if err := json.Unmarshal(state, &s); err != nil {
		return domain.Pool{}, false, fmt.Errorf("ledger: pool %s: decode: %w", doc.RepositoryID, err)
	}

	p := domain.NewPool(doc.RepositoryID, s.CreatedAt)
	p.UpdatedAt = doc.UpdatedAt
	p.SchemaVersion = CurrentSchemaVersion
	for _, m := range s.Managers {
		p.AddManager(m)
	}
	for _, c := range s.Contributors {
		p.AddContributor(c)
	}
	for c, v := range s.Balances {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok || n.Sign() < 0 {
			return domain.Pool{}, false, fmt.Errorf("ledger: pool %s: bad %s balance %q", doc.RepositoryID, c, v)
		}
		p.Balances[c] = n
	}
	for c, d := range s.DailyFunded {
		n, ok := new(big.Int).SetString(d.Amount, 10)
		if !ok {
			return domain.Pool{}, false, fmt.Errorf("ledger: pool %s: bad %s daily amount %q", doc.RepositoryID, c, d.Amount)
		}
		p.DailyFunded[c] = domain.DailyFunding{Amount: n, Day: d.Day}
	}
	return p, upgraded, nil
}

// encodePool renders p at CurrentSchemaVersion.
func encodePool(p domain.Pool) (domain.PoolDocument, error) {
	s := poolStateV2{
		Managers:     p.Managers,
		Contributors: p.Contributors,
		Balances:     make(map[domain.Currency]string, len(p.Balances)),
		DailyFunded:  make(map[domain.Currency]dailyStateV2, len(p.DailyFunded)),
		CreatedAt:    p.CreatedAt,
	}
	if s.Managers == nil {
		s.Managers = []string{}
	}
	if s.Contributors == nil {
		s.Contributors = []string{}
	}
	for c, b := range p.Balances {
		s.Balances[c] = b.String()
	}
	for c, d := range p.DailyFunded {
		s.DailyFunded[c] = dailyStateV2{Amount: d.Amount.String(), Day: d.Day}
	}
	state, err := json.Marshal(s)
	if err != nil {
		return domain.PoolDocument{}, fmt.Errorf("ledger: pool %s: encode: %w", p.RepositoryID, err)
	}
	return domain.PoolDocument{
		RepositoryID:  p.RepositoryID,
		SchemaVersion: CurrentSchemaVersion,
		State:         state,
		UpdatedAt:     p.UpdatedAt,
	}, nil
}
