// Package command recognises bounty commands in free-form comment text.
//
// Two forms are understood, each with an optional "<amount> <CODE>" suffix:
//
//	/bounty [<amount> <CODE>]
//	@<bot> bounty [<amount> <CODE>]
//
// A command carrying an amount is an allocation; a bare command is a request.
// Text that looks like an allocation but names an unknown currency, a zero
// amount, or an amount above the ceiling is ignored, not reported: comments
// are free text and may mention "/bounty" incidentally.
package command

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// DefaultBotName is the mention handle used when Options.BotName is empty.
const DefaultBotName = "roxonn"

// DefaultMaxBounty is the largest single bounty, in whole units, accepted
// when Options.MaxBounty is zero.
var DefaultMaxBounty = decimal.NewFromInt(1_000_000)

const amountPattern = `([0-9]+(?:\.[0-9]+)?)\s+([A-Za-z]+)\b`

// Options configures a Parser.
type Options struct {
	BotName   string
	MaxBounty decimal.Decimal
}

type rule struct {
	re         *regexp.Regexp
	withAmount bool
}

// Parser is immutable after construction and safe for concurrent use.
type Parser struct {
	rules []rule
	max   decimal.Decimal
}

// New compiles a Parser. Rules are tried in a fixed order: slash form with
// amount, bare slash form, mention form with amount, bare mention form.
func New(opts Options) *Parser {
	bot := strings.TrimPrefix(strings.TrimSpace(opts.BotName), "@")
	if bot == "" {
		bot = DefaultBotName
	}
	ceiling := opts.MaxBounty
	if !ceiling.IsPositive() {
		ceiling = DefaultMaxBounty
	}

	slash := `(?i)(?:^|\s)/bounty`
	mention := `(?i)(?:^|[^\w])@` + regexp.QuoteMeta(bot) + `\s+bounty`

	return &Parser{
		rules: []rule{
			{re: regexp.MustCompile(slash + `\s+` + amountPattern), withAmount: true},
			{re: regexp.MustCompile(slash + `\b`)},
			{re: regexp.MustCompile(mention + `\s+` + amountPattern), withAmount: true},
			{re: regexp.MustCompile(mention + `\b`)},
		},
		max: ceiling,
	}
}

// Parse returns the first command found in text. The boolean is false when
// text holds no valid command.
func (p *Parser) Parse(text string) (domain.Command, bool) {
	for _, r := range p.rules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if !r.withAmount {
			return domain.Command{Kind: domain.CommandRequest}, true
		}
		return p.allocation(m[1], m[2])
	}
	return domain.Command{}, false
}

func (p *Parser) allocation(amountText, code string) (domain.Command, bool) {
	cur := domain.Currency(strings.ToUpper(code))
	if !cur.Valid() {
		return domain.Command{}, false
	}
	amount, err := decimal.NewFromString(amountText)
	if err != nil || !amount.IsPositive() || amount.GreaterThan(p.max) {
		return domain.Command{}, false
	}
	return domain.Command{
		Kind:     domain.CommandAllocate,
		Amount:   amountText,
		Currency: cur,
	}, true
}

var defaultParser = New(Options{})

// Parse runs the default parser (bot "roxonn", ceiling 1,000,000).
func Parse(text string) (domain.Command, bool) {
	return defaultParser.Parse(text)
}
