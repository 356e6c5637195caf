package call

import (
	"testing"

	"github.com/callguardhq/callguard/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func verdictAt(risk protocol.RiskLevel, safe bool) protocol.Verdict {
	return protocol.Verdict{Safe: safe, RiskLevel: risk, Action: protocol.ActionContinue}
}

func fill(w *RiskWindow, levels ...protocol.RiskLevel) {
	for _, l := range levels {
		w.Add(verdictAt(l, l == protocol.RiskNone))
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewRiskWindow(3)
	fill(w, protocol.RiskCritical, protocol.RiskNone, protocol.RiskNone, protocol.RiskNone)

	assert.Equal(t, 3, w.Len())
	// The critical verdict fell out, so it no longer dominates MaxRisk.
	assert.Equal(t, protocol.RiskNone, w.MaxRisk())
}

func TestTrendEscalating(t *testing.T) {
	w := NewRiskWindow(10)
	fill(w,
		protocol.RiskNone, protocol.RiskNone, protocol.RiskNone, protocol.RiskNone, protocol.RiskNone,
		protocol.RiskCritical, protocol.RiskCritical, protocol.RiskCritical, protocol.RiskCritical, protocol.RiskCritical,
	)
	assert.Equal(t, TrendEscalating, w.Trend())
}

func TestTrendImproving(t *testing.T) {
	w := NewRiskWindow(10)
	fill(w,
		protocol.RiskCritical, protocol.RiskCritical, protocol.RiskCritical, protocol.RiskCritical, protocol.RiskCritical,
		protocol.RiskNone, protocol.RiskNone, protocol.RiskNone, protocol.RiskNone, protocol.RiskNone,
	)
	assert.Equal(t, TrendImproving, w.Trend())
}

func TestTrendStableAllEqual(t *testing.T) {
	w := NewRiskWindow(10)
	fill(w,
		protocol.RiskMedium, protocol.RiskMedium, protocol.RiskMedium, protocol.RiskMedium, protocol.RiskMedium,
		protocol.RiskMedium, protocol.RiskMedium, protocol.RiskMedium,
	)
	assert.Equal(t, TrendStable, w.Trend())
}

func TestTrendNeedsTwoVerdicts(t *testing.T) {
	w := NewRiskWindow(10)
	assert.Equal(t, TrendStable, w.Trend())

	fill(w, protocol.RiskCritical)
	assert.Equal(t, TrendStable, w.Trend())

	fill(w, protocol.RiskCritical)
	// Two verdicts: still within the recent half, earlier half empty.
	assert.Equal(t, TrendEscalating, w.Trend())
}

func TestMaxRiskTracksWindowNotHistory(t *testing.T) {
	w := NewRiskWindow(2)
	fill(w, protocol.RiskHigh)
	assert.Equal(t, protocol.RiskHigh, w.MaxRisk())

	fill(w, protocol.RiskLow, protocol.RiskLow)
	assert.Equal(t, protocol.RiskLow, w.MaxRisk())
}

func TestRecent(t *testing.T) {
	w := NewRiskWindow(10)
	fill(w, protocol.RiskNone, protocol.RiskLow, protocol.RiskHigh)

	recent := w.Recent(2)
	assert.Len(t, recent, 2)
	assert.Equal(t, protocol.RiskLow, recent[0].RiskLevel)
	assert.Equal(t, protocol.RiskHigh, recent[1].RiskLevel)

	assert.Len(t, w.Recent(99), 3)
	assert.Nil(t, w.Recent(0))
}
