package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

func network(testnet bool) string {
	if testnet {
		return "TESTNET"
	}
	return "MAINNET"
}

// StartupMessage announces a new run.
func StartupMessage(symbol string, testnet bool, runID string) (string, string) {
	return "Bot Started", fmt.Sprintf("Symbol: %s\nNetwork: %s\nRun: %s\nStatus: Running",
		symbol, network(testnet), runID)
}

// ShutdownMessage announces a clean stop.
func ShutdownMessage(symbol string) (string, string) {
	return "Bot Stopped", "Symbol: " + symbol
}

// ErrorMessage reports a fatal error.
func ErrorMessage(symbol string, err error) (string, string) {
	return "Error", fmt.Sprintf("Symbol: %s\nError: %v", symbol, err)
}

// ValidationMessage reports a change of validation verdict.
func ValidationMessage(symbol, from, to string, stats domain.BookStats) (string, string) {
	if from == "" {
		from = "none"
	}
	return "Validation " + to, fmt.Sprintf("Symbol: %s\n%s -> %s\nSpread: %.4f%%\nLatency: %dms\nUpdates: %d",
		symbol, from, to, stats.SpreadPct*100, stats.LatencyMs, stats.Updates)
}

// AlertMessage reports threshold breaches found by the monitor.
func AlertMessage(symbol string, alerts []string) (string, string) {
	return "Alert " + symbol, strings.Join(alerts, "\n")
}

// SummaryMessage renders the periodic book summary.
func SummaryMessage(stats domain.BookStats, liquidityDepth int) (string, string) {
	return "Summary", fmt.Sprintf(
		"Symbol: %s\nBid: %.2f\nAsk: %.2f\nSpread: %.4f%%\nImbalance: %.3f\nLiquidity: %.2f\nLatency: %dms\nUpdates: %d\nValidation: %s",
		stats.Symbol, stats.BestBid, stats.BestAsk, stats.SpreadPct*100,
		stats.Imbalance[liquidityDepth], stats.Liquidity[liquidityDepth],
		stats.LatencyMs, stats.Updates, stats.Validation,
	)
}
