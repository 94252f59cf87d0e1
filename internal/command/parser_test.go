package command

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want domain.Command
		ok   bool
	}{
		{"slash xdc", "/bounty 10 XDC", domain.Command{Kind: domain.CommandAllocate, Amount: "10", Currency: domain.CurrencyXDC}, true},
		{"slash fractional roxn", "/bounty 10.5 ROXN", domain.Command{Kind: domain.CommandAllocate, Amount: "10.5", Currency: domain.CurrencyROXN}, true},
		{"slash bare", "/bounty", domain.Command{Kind: domain.CommandRequest}, true},
		{"over ceiling", "/bounty 2000000 XDC", domain.Command{}, false},
		{"regular comment", "Regular comment", domain.Command{}, false},
		{"lowercase code normalised", "/bounty 5 usdc", domain.Command{Kind: domain.CommandAllocate, Amount: "5", Currency: domain.CurrencyUSDC}, true},
		{"keyword case insensitive", "/BOUNTY 1 xdc", domain.Command{Kind: domain.CommandAllocate, Amount: "1", Currency: domain.CurrencyXDC}, true},
		{"embedded in sentence", "Thanks! /bounty 25 ROXN for this fix", domain.Command{Kind: domain.CommandAllocate, Amount: "25", Currency: domain.CurrencyROXN}, true},
		{"unknown code ignored", "/bounty 10 BTC", domain.Command{}, false},
		{"zero ignored", "/bounty 0 XDC", domain.Command{}, false},
		{"exact ceiling", "/bounty 1000000 XDC", domain.Command{Kind: domain.CommandAllocate, Amount: "1000000", Currency: domain.CurrencyXDC}, true},
		{"bare with trailing text", "/bounty please", domain.Command{Kind: domain.CommandRequest}, true},
		{"mention with amount", "@roxonn bounty 3 USDC", domain.Command{Kind: domain.CommandAllocate, Amount: "3", Currency: domain.CurrencyUSDC}, true},
		{"mention bare", "hey @Roxonn Bounty?", domain.Command{Kind: domain.CommandRequest}, true},
		{"mention other bot", "@someone bounty 3 USDC", domain.Command{}, false},
		{"mention longer handle", "@roxonnbot bounty", domain.Command{}, false},
		{"slash inside url", "see https://example.com/bounty for details", domain.Command{}, false},
		{"slash prefix of word", "/bountyhunter", domain.Command{}, false},
		{"slash wins over mention", "@roxonn bounty 1 XDC and /bounty 2 ROXN", domain.Command{Kind: domain.CommandAllocate, Amount: "2", Currency: domain.CurrencyROXN}, true},
		{"slash bare wins over mention amount", "/bounty then @roxonn bounty 2 XDC", domain.Command{Kind: domain.CommandRequest}, true},
		{"multiline", "Looks good.\n/bounty 7.25 usdc\nThanks", domain.Command{Kind: domain.CommandAllocate, Amount: "7.25", Currency: domain.CurrencyUSDC}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Idempotent(t *testing.T) {
	const text = "/bounty 10.5 ROXN"
	first, ok1 := Parse(text)
	second, ok2 := Parse(text)
	assert.True(t, ok1)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
}

func TestNew_Options(t *testing.T) {
	p := New(Options{BotName: "@paybot", MaxBounty: decimal.NewFromInt(100)})

	cmd, ok := p.Parse("@paybot bounty 50 XDC")
	assert.True(t, ok)
	assert.Equal(t, "50", cmd.Amount)

	_, ok = p.Parse("@paybot bounty 101 XDC")
	assert.False(t, ok)

	_, ok = p.Parse("@roxonn bounty")
	assert.False(t, ok)
}
