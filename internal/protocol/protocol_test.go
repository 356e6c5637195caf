package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskLevelOrdering(t *testing.T) {
	ordered := []RiskLevel{RiskNone, RiskLow, RiskMedium, RiskHigh, RiskCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Ordinal() <= ordered[i-1].Ordinal() {
			t.Errorf("expected %s > %s", ordered[i], ordered[i-1])
		}
	}
	// Unknown levels rank lowest so a garbled judge response never escalates.
	assert.Equal(t, 0, RiskLevel("bogus").Ordinal())
}

func TestActionOrdering(t *testing.T) {
	ordered := []Action{ActionContinue, ActionModify, ActionBlock, ActionEscalate}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Ordinal() <= ordered[i-1].Ordinal() {
			t.Errorf("expected %s > %s", ordered[i], ordered[i-1])
		}
	}
}

func TestParseRiskLevel(t *testing.T) {
	r, err := ParseRiskLevel("high")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, r)

	_, err = ParseRiskLevel("severe")
	assert.Error(t, err)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("block")
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, a)

	_, err = ParseAction("halt")
	assert.Error(t, err)
}

func TestSafeVerdict(t *testing.T) {
	v := SafeVerdict()
	assert.True(t, v.Safe)
	assert.Equal(t, RiskNone, v.RiskLevel)
	assert.Equal(t, ActionContinue, v.Action)
	assert.Empty(t, v.CorrectiveInstruction)
}

func TestWsMessageRoundTrip(t *testing.T) {
	msg := NewWsMessage(WsVerdict, Verdict{Safe: false, RiskLevel: RiskHigh, Action: ActionBlock, Reasoning: "dosage overclaim"})
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	parsed, err := ParseWsMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, WsVerdict, parsed.Type)

	var v Verdict
	require.NoError(t, json.Unmarshal(parsed.Payload, &v))
	assert.Equal(t, RiskHigh, v.RiskLevel)
	assert.Equal(t, ActionBlock, v.Action)
}

func TestParseWsMessageRejectsGarbage(t *testing.T) {
	_, err := ParseWsMessage([]byte("not json"))
	assert.Error(t, err)

	_, err = ParseWsMessage([]byte(`{"payload":{}}`))
	assert.Error(t, err, "missing type must be rejected")
}
