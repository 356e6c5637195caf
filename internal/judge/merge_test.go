package judge

import (
	"testing"

	"github.com/callguardhq/callguard/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func v(safe bool, risk protocol.RiskLevel, action protocol.Action, reasoning, corrective string) protocol.Verdict {
	return protocol.Verdict{
		Safe:                  safe,
		RiskLevel:             risk,
		Action:                action,
		Reasoning:             reasoning,
		CorrectiveInstruction: corrective,
	}
}

func TestMergeEmpty(t *testing.T) {
	merged := MergeVerdicts(nil)
	assert.True(t, merged.Safe)
	assert.Equal(t, protocol.RiskNone, merged.RiskLevel)
	assert.Equal(t, protocol.ActionContinue, merged.Action)
	assert.Equal(t, "No judges ran.", merged.Reasoning)
}

func TestMergeSingleUnchanged(t *testing.T) {
	in := v(false, protocol.RiskHigh, protocol.ActionBlock, "dosage overclaim", "correct the dosage")
	assert.Equal(t, in, MergeVerdicts([]protocol.Verdict{in}))
}

func TestMergeWorstCase(t *testing.T) {
	verdicts := []protocol.Verdict{
		v(true, protocol.RiskLow, protocol.ActionContinue, "fine", ""),
		v(false, protocol.RiskCritical, protocol.ActionModify, "dangerous advice", "soften it"),
		v(false, protocol.RiskMedium, protocol.ActionBlock, "off policy", "replace it"),
	}
	merged := MergeVerdicts(verdicts)

	assert.False(t, merged.Safe)
	assert.Equal(t, protocol.RiskCritical, merged.RiskLevel)
	assert.Equal(t, protocol.ActionBlock, merged.Action)
	// Corrective text follows the max-action verdict, not the max-risk one.
	assert.Equal(t, "replace it", merged.CorrectiveInstruction)
	assert.Equal(t, "[critical] dangerous advice | [medium] off policy", merged.Reasoning)
}

func TestMergeRiskNeverDecreases(t *testing.T) {
	verdicts := []protocol.Verdict{
		v(true, protocol.RiskMedium, protocol.ActionContinue, "a", ""),
		v(true, protocol.RiskLow, protocol.ActionContinue, "b", ""),
		v(false, protocol.RiskHigh, protocol.ActionModify, "c", "fix"),
	}
	merged := MergeVerdicts(verdicts)
	for _, in := range verdicts {
		assert.GreaterOrEqual(t, merged.RiskLevel.Ordinal(), in.RiskLevel.Ordinal())
	}
}

func TestMergeSafeIffAllSafe(t *testing.T) {
	allSafe := []protocol.Verdict{
		v(true, protocol.RiskLow, protocol.ActionContinue, "ok", ""),
		v(true, protocol.RiskNone, protocol.ActionContinue, "ok too", ""),
	}
	assert.True(t, MergeVerdicts(allSafe).Safe)
	// Every input safe: reasoning falls back to the first input's.
	assert.Equal(t, "ok", MergeVerdicts(allSafe).Reasoning)

	oneUnsafe := append(allSafe, v(false, protocol.RiskLow, protocol.ActionContinue, "nope", ""))
	assert.False(t, MergeVerdicts(oneUnsafe).Safe)
}

func TestMergeTieBreakIsOrderSensitive(t *testing.T) {
	a := v(false, protocol.RiskHigh, protocol.ActionBlock, "judge A", "say A instead")
	b := v(false, protocol.RiskHigh, protocol.ActionBlock, "judge B", "say B instead")

	ab := MergeVerdicts([]protocol.Verdict{a, b})
	ba := MergeVerdicts([]protocol.Verdict{b, a})

	// Equal ordinals keep the first occurrence, so order decides whose
	// corrective wording the caller hears.
	assert.Equal(t, "say A instead", ab.CorrectiveInstruction)
	assert.Equal(t, "say B instead", ba.CorrectiveInstruction)
	assert.NotEqual(t, ab.CorrectiveInstruction, ba.CorrectiveInstruction)
}
