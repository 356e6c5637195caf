package call

import (
	"github.com/callguardhq/callguard/internal/protocol"
)

// RiskWindow is a bounded sliding window of the most recent verdicts.
// Oldest entries are evicted first. Not safe for concurrent use on its
// own; Context serializes access.
type RiskWindow struct {
	verdicts []protocol.Verdict
	size     int
}

// NewRiskWindow creates a window with the given capacity (default 10 for
// non-positive values).
func NewRiskWindow(size int) *RiskWindow {
	if size <= 0 {
		size = 10
	}
	return &RiskWindow{size: size}
}

// Add appends a verdict, evicting the oldest once capacity is exceeded.
func (w *RiskWindow) Add(v protocol.Verdict) {
	w.verdicts = append(w.verdicts, v)
	if len(w.verdicts) > w.size {
		w.verdicts = w.verdicts[1:]
	}
}

// Len returns the number of verdicts currently held.
func (w *RiskWindow) Len() int {
	return len(w.verdicts)
}

// Recent returns the most recent n verdicts, oldest first. Fewer are
// returned when the window holds fewer.
func (w *RiskWindow) Recent(n int) []protocol.Verdict {
	if n <= 0 || len(w.verdicts) == 0 {
		return nil
	}
	if n > len(w.verdicts) {
		n = len(w.verdicts)
	}
	out := make([]protocol.Verdict, n)
	copy(out, w.verdicts[len(w.verdicts)-n:])
	return out
}

// Trend compares the mean risk ordinal of the most recent five verdicts
// against everything earlier in the window (zero when empty): more than
// 0.5 above is escalating, more than 0.5 below is improving, anything
// else is stable. Fewer than two verdicts is always stable.
func (w *RiskWindow) Trend() Trend {
	if len(w.verdicts) < 2 {
		return TrendStable
	}

	split := len(w.verdicts) - 5
	if split < 0 {
		split = 0
	}
	recent := w.verdicts[split:]
	earlier := w.verdicts[:split]

	avgRecent := meanRisk(recent)
	avgEarlier := 0.0
	if len(earlier) > 0 {
		avgEarlier = meanRisk(earlier)
	}

	switch {
	case avgRecent > avgEarlier+0.5:
		return TrendEscalating
	case avgRecent < avgEarlier-0.5:
		return TrendImproving
	default:
		return TrendStable
	}
}

// MaxRisk returns the highest risk level observed in the current window.
func (w *RiskWindow) MaxRisk() protocol.RiskLevel {
	max := protocol.RiskNone
	for _, v := range w.verdicts {
		if v.RiskLevel.Ordinal() > max.Ordinal() {
			max = v.RiskLevel
		}
	}
	return max
}

func meanRisk(verdicts []protocol.Verdict) float64 {
	if len(verdicts) == 0 {
		return 0
	}
	sum := 0
	for _, v := range verdicts {
		sum += v.RiskLevel.Ordinal()
	}
	return float64(sum) / float64(len(verdicts))
}
