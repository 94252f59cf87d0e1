package notify

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// FormatAmount renders a display amount with thousands separators, e.g.
// "1234567.5" → "1,234,567.5". Unparseable input is returned unchanged.
func FormatAmount(display string) string {
	d, err := decimal.NewFromString(display)
	if err != nil {
		return display
	}
	whole := d.Truncate(0)
	out := humanize.Comma(whole.IntPart())
	if frac := d.Sub(whole).Abs(); !frac.IsZero() {
		out += strings.TrimPrefix(frac.String(), "0")
	}
	if d.IsNegative() && whole.IsZero() {
		out = "-" + out
	}
	return out
}

// DistributionFailed builds the operator alert for a failed payout leg.
func DistributionFailed(repositoryID, issueID, leg, amount, currency, kind string, err error) (string, string) {
	title := "Bounty payout failed"
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n", repositoryID)
	fmt.Fprintf(&b, "Issue: %s\n", issueID)
	fmt.Fprintf(&b, "Leg: %s (%s %s)\n", leg, FormatAmount(amount), currency)
	fmt.Fprintf(&b, "Failure: %s\n", kind)
	if err != nil {
		fmt.Fprintf(&b, "Error: %v\n", err)
	}
	b.WriteString("The issue stays APPROVED until the payout is retried.")
	return title, b.String()
}

// FormatEvent renders a ledger event as a title and message.
func FormatEvent(ev domain.LedgerEvent) (string, string) {
	var title string
	switch ev.Type {
	case domain.EventPoolFunded:
		title = "Pool funded"
	case domain.EventBountyAllocated:
		title = "Bounty allocated"
	case domain.EventBountyRequested:
		title = "Bounty requested"
	case domain.EventBountyClaimed:
		title = "Bounty claimed"
	case domain.EventBountyApproved:
		title = "Bounty approved"
	case domain.EventBountyRevoked:
		title = "Bounty revoked"
	case domain.EventBountyPaid:
		title = "Bounty paid"
	case domain.EventManagerAdded:
		title = "Pool manager added"
	case domain.EventManagerRemoved:
		title = "Pool manager removed"
	default:
		title = string(ev.Type)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s", ev.RepositoryID)
	if ev.IssueID != "" {
		fmt.Fprintf(&b, "\nIssue: %s", ev.IssueID)
	}
	if ev.Amount != "" {
		fmt.Fprintf(&b, "\nAmount: %s %s", FormatAmount(ev.Amount), ev.Currency)
	}
	if ev.Actor != "" {
		fmt.Fprintf(&b, "\nBy: %s", ev.Actor)
	}
	if ev.Detail != "" {
		fmt.Fprintf(&b, "\nDetail: %s", ev.Detail)
	}
	fmt.Fprintf(&b, "\n%s", humanize.Time(ev.Timestamp))
	return title, b.String()
}
