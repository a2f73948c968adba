package notify

import (
	"fmt"
	"strconv"
	"strings"

	"futures-signal-bot-go/internal/exchange"
	"futures-signal-bot-go/internal/sizing"
	"futures-signal-bot-go/internal/trade"
)

// OrderOpened describes an accepted bracket.
func OrderOpened(venue trade.Venue, order sizing.SizedOrder, placed exchange.BracketOrder, dryRun bool) string {
	var sb strings.Builder
	if dryRun {
		sb.WriteString("[DRY RUN] ")
	}
	fmt.Fprintf(&sb, "%s position opened: %s\n", venue, order.Proposal.Symbol)
	fmt.Fprintf(&sb, "Side: %s\n", order.Proposal.Side)
	fmt.Fprintf(&sb, "Lev: %dx\n", order.Leverage)
	fmt.Fprintf(&sb, "Qty: %s\n", trimFloat(placed.Quantity))
	fmt.Fprintf(&sb, "Price: %s\n", trimFloat(placed.LivePrice))
	fmt.Fprintf(&sb, "TP trigger: %s (MARKET)\n", trimFloat(placed.TakeProfit))
	fmt.Fprintf(&sb, "SL trigger: %s (MARKET)\n", trimFloat(placed.StopLoss))
	fmt.Fprintf(&sb, "Notional: %.2f\n", order.Notional)
	fmt.Fprintf(&sb, "Orders: entry=%s tp=%s sl=%s", placed.EntryOrderID, placed.TakeProfitID, placed.StopLossID)
	return sb.String()
}

// OrderRejected describes a bracket the venue refused.
func OrderRejected(venue trade.Venue, order sizing.SizedOrder, err error) string {
	return fmt.Sprintf("%s order rejected: %s %s qty=%s\nReason: %v",
		venue, order.Proposal.Symbol, order.Proposal.Side, trimFloat(order.Quantity), err)
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
