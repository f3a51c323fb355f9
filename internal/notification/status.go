package notification

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"futures-agent/internal/state"
)

// FormatStatus renders a cycle snapshot for chat
func FormatStatus(snap state.Snapshot) string {
	var sb strings.Builder
	mode := "LIVE"
	if snap.PaperTrading {
		mode = "PAPER"
	}
	fmt.Fprintf(&sb, "*Agent status* (%s)\n", mode)
	fmt.Fprintf(&sb, "Cycle %d, %s ago\n", snap.Cycle, time.Since(snap.Timestamp).Round(time.Second))
	fmt.Fprintf(&sb, "Balance: %.2f (available %.2f)\n", snap.Balance, snap.AvailableBalance)
	fmt.Fprintf(&sb, "Session P&L: %.2f | Drawdown: %.2f%%\n", snap.RealizedPnL, snap.Drawdown*100)
	fmt.Fprintf(&sb, "Sentiment: %.0f%% bullish\n", snap.Sentiment*100)
	if snap.Halted {
		fmt.Fprintf(&sb, "🛑 HALTED: %s\n", snap.HaltReason)
	}

	symbols := make([]string, 0, len(snap.Positions))
	for sym := range snap.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	fmt.Fprintf(&sb, "\nPositions: %d\n", len(symbols))
	for _, sym := range symbols {
		p := snap.Positions[sym]
		side := "LONG"
		if p.Size < 0 {
			side = "SHORT"
		}
		fmt.Fprintf(&sb, "%s %s %.6g @ %.6g, P&L %.2f\n", sym, side, p.Size, p.EntryPrice, p.UnrealizedPnL)
	}
	if n := len(snap.Blacklist); n > 0 {
		fmt.Fprintf(&sb, "\nBlacklisted: %d\n", n)
	}
	return sb.String()
}
