package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectivePrompt(t *testing.T) {
	p := &Policy{JudgePrompt: "Judge for refund accuracy."}
	assert.Equal(t, "Judge for refund accuracy.", p.EffectivePrompt())

	p.KnowledgeBase = "Refund window is 30 days."
	got := p.EffectivePrompt()
	assert.Contains(t, got, "Judge for refund accuracy.")
	assert.Contains(t, got, "--- KNOWLEDGE BASE ---")
	assert.Contains(t, got, "Refund window is 30 days.")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: medical-triage
name: Medical Triage
domain: healthcare
judge_prompt: "Flag any dosage or diagnosis talk."
regulatory_refs:
  - HIPAA
escalation:
  max_consecutive_flags: 2
  auto_escalate_on_critical: true
`), 0o644))

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "medical-triage", p.ID)
	assert.Equal(t, "Medical Triage", p.Name)
	assert.Equal(t, "1.0", p.Version, "default version applied")
	assert.Equal(t, []string{"HIPAA"}, p.RegulatoryRefs)
	require.NotNil(t, p.Escalation)
	assert.Equal(t, 2, p.Escalation.MaxConsecutiveFlags)
	assert.True(t, p.Escalation.AutoEscalateOnCritical)
}

func TestLoadFileRejectsMissingName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("judge_prompt: whatever\n"), 0o644))

	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "missing name")
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "policies.db"))
	require.NoError(t, err)
	defer store.Close()

	p := &Policy{
		ID: "medical-triage", Name: "Medical Triage", Domain: "healthcare",
		JudgePrompt: "Flag any dosage talk.", Version: "2.1",
		Escalation: &EscalationConfig{MaxConsecutiveFlags: 2},
	}
	require.NoError(t, store.Save(p))

	got, err := store.Load("medical-triage")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = store.Load("nope")
	assert.Error(t, err)
}

func TestStoreSaveFallsBackToName(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "policies.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(&Policy{Name: "Billing"}))
	got, err := store.Load("Billing")
	require.NoError(t, err)
	assert.Equal(t, "Billing", got.Name)

	assert.Error(t, store.Save(&Policy{}), "no id and no name")
}

func TestStoreListAndDelete(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "policies.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(&Policy{ID: "a", Name: "A"}))
	require.NoError(t, store.Save(&Policy{ID: "b", Name: "B"}))

	all, err := store.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Delete("a"))
	all, err = store.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID)

	assert.NoError(t, store.Delete("missing"))
}
