package judge

import (
	"fmt"
	"strings"

	"github.com/callguardhq/callguard/internal/protocol"
)

// MergeVerdicts combines member verdicts using worst-case logic: maximum
// risk level, maximum action, safe only if everyone agreed. Ties on the
// ordinals keep the first occurrence, so the corrective wording of the
// earliest-registered judge wins — register the most authoritative judge
// first if its phrasing should prevail.
func MergeVerdicts(verdicts []protocol.Verdict) protocol.Verdict {
	if len(verdicts) == 0 {
		return protocol.Verdict{
			Safe:      true,
			RiskLevel: protocol.RiskNone,
			Action:    protocol.ActionContinue,
			Reasoning: "No judges ran.",
		}
	}
	if len(verdicts) == 1 {
		return verdicts[0]
	}

	worstRisk := verdicts[0]
	worstAction := verdicts[0]
	safe := true
	var reasons []string

	for _, v := range verdicts {
		if v.RiskLevel.Ordinal() > worstRisk.RiskLevel.Ordinal() {
			worstRisk = v
		}
		if v.Action.Ordinal() > worstAction.Action.Ordinal() {
			worstAction = v
		}
		if !v.Safe {
			safe = false
			reasons = append(reasons, fmt.Sprintf("[%s] %s", v.RiskLevel, v.Reasoning))
		}
	}

	if len(reasons) == 0 {
		reasons = []string{verdicts[0].Reasoning}
	}

	return protocol.Verdict{
		Safe:                  safe,
		RiskLevel:             worstRisk.RiskLevel,
		Action:                worstAction.Action,
		Reasoning:             strings.Join(reasons, " | "),
		CorrectiveInstruction: worstAction.CorrectiveInstruction,
	}
}
