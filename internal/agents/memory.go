// Trade history: the last few completed trades each agent remembers.
package agents

// RecordTrade appends a trade outcome, dropping the oldest once the history
// holds MaxTradeHistory entries.
func RecordTrade(a *Agent, o TradeOutcome) {
	a.History = append(a.History, o)
	if len(a.History) > MaxTradeHistory {
		a.History = append(a.History[:0], a.History[len(a.History)-MaxTradeHistory:]...)
	}
	a.TradeCount++
}

// RecentTrades returns up to count outcomes, newest first.
func RecentTrades(a *Agent, count int) []TradeOutcome {
	n := len(a.History)
	if count > n {
		count = n
	}
	out := make([]TradeOutcome, 0, count)
	for i := n - 1; i >= n-count; i-- {
		out = append(out, a.History[i])
	}
	return out
}

// AverageProfit is the mean real-value profit over the remembered trades.
func AverageProfit(a *Agent) float64 {
	if len(a.History) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range a.History {
		sum += o.Profit
	}
	return sum / float64(len(a.History))
}

// LossStreak counts consecutive losing trades ending with the most recent one.
func LossStreak(a *Agent) int {
	n := 0
	for i := len(a.History) - 1; i >= 0; i-- {
		if a.History[i].Profit >= 0 {
			break
		}
		n++
	}
	return n
}
