package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/callguardhq/callguard/internal/judge"
	"github.com/callguardhq/callguard/internal/llm"
	"github.com/callguardhq/callguard/internal/policy"
	"github.com/callguardhq/callguard/internal/protocol"
)

// Result is the outcome of one case. Caught means the judge flagged the
// input; Correct means the judge agreed with the label.
type Result struct {
	Case          TestCase
	Caught        bool
	Correct       bool
	VerdictRisk   protocol.RiskLevel
	VerdictAction protocol.Action
	Latency       time.Duration
}

// Report aggregates a suite run against one policy.
type Report struct {
	PolicyName string
	SuiteName  string
	Results    []Result
	RunAt      time.Time
}

func (r *Report) Total() int {
	return len(r.Results)
}

func (r *Report) CorrectCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Correct {
			n++
		}
	}
	return n
}

func (r *Report) Accuracy() float64 {
	if len(r.Results) == 0 {
		return 0
	}
	return float64(r.CorrectCount()) / float64(len(r.Results))
}

// TruePositives counts unsafe inputs correctly caught.
func (r *Report) TruePositives() int {
	return r.count(func(res Result) bool { return !res.Case.ExpectedSafe && res.Caught })
}

// FalseNegatives counts unsafe inputs that slipped through — the most
// dangerous failure mode.
func (r *Report) FalseNegatives() int {
	return r.count(func(res Result) bool { return !res.Case.ExpectedSafe && !res.Caught })
}

// TrueNegatives counts safe inputs correctly passed.
func (r *Report) TrueNegatives() int {
	return r.count(func(res Result) bool { return res.Case.ExpectedSafe && !res.Caught })
}

// FalsePositives counts safe inputs incorrectly flagged.
func (r *Report) FalsePositives() int {
	return r.count(func(res Result) bool { return res.Case.ExpectedSafe && res.Caught })
}

func (r *Report) Precision() float64 {
	tp, fp := r.TruePositives(), r.FalsePositives()
	if tp+fp == 0 {
		return 1.0
	}
	return float64(tp) / float64(tp+fp)
}

func (r *Report) Recall() float64 {
	tp, fn := r.TruePositives(), r.FalseNegatives()
	if tp+fn == 0 {
		return 1.0
	}
	return float64(tp) / float64(tp+fn)
}

func (r *Report) F1() float64 {
	p, rec := r.Precision(), r.Recall()
	if p+rec == 0 {
		return 0
	}
	return 2 * p * rec / (p + rec)
}

// CategoryAccuracy returns per-category accuracy, sorted by name.
func (r *Report) CategoryAccuracy() []CategoryScore {
	totals := make(map[string]*CategoryScore)
	for _, res := range r.Results {
		cat := res.Case.Category
		if cat == "" {
			cat = "uncategorized"
		}
		score, ok := totals[cat]
		if !ok {
			score = &CategoryScore{Category: cat}
			totals[cat] = score
		}
		score.Total++
		if res.Correct {
			score.Correct++
		}
	}
	out := make([]CategoryScore, 0, len(totals))
	for _, s := range totals {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

type CategoryScore struct {
	Category string
	Total    int
	Correct  int
}

func (r *Report) count(pred func(Result) bool) int {
	n := 0
	for _, res := range r.Results {
		if pred(res) {
			n++
		}
	}
	return n
}

// Summary renders the human-readable report.
func (r *Report) Summary() string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(&b, "\n%s\n", rule)
	fmt.Fprintf(&b, "  EVAL: %s vs %s\n", r.PolicyName, r.SuiteName)
	fmt.Fprintf(&b, "%s\n", rule)
	fmt.Fprintf(&b, "  Total cases:     %d\n", r.Total())
	fmt.Fprintf(&b, "  Accuracy:        %.1f%%\n", r.Accuracy()*100)
	fmt.Fprintf(&b, "  Precision:       %.1f%%\n", r.Precision()*100)
	fmt.Fprintf(&b, "  Recall:          %.1f%%\n", r.Recall()*100)
	fmt.Fprintf(&b, "  F1 Score:        %.1f%%\n", r.F1()*100)
	fmt.Fprintf(&b, "  True Positives:  %d\n", r.TruePositives())
	fmt.Fprintf(&b, "  False Negatives: %d  <- DANGEROUS (missed unsafe)\n", r.FalseNegatives())
	fmt.Fprintf(&b, "  True Negatives:  %d\n", r.TrueNegatives())
	fmt.Fprintf(&b, "  False Positives: %d\n", r.FalsePositives())

	for _, score := range r.CategoryAccuracy() {
		fmt.Fprintf(&b, "  [%s] %d/%d correct\n", score.Category, score.Correct, score.Total)
	}

	if r.FalseNegatives() > 0 {
		b.WriteString("\n  MISSED UNSAFE CASES:\n")
		for _, res := range r.Results {
			if !res.Case.ExpectedSafe && !res.Caught {
				fmt.Fprintf(&b, "    - [%s] %s\n", res.Case.Category, res.Case.Description)
				fmt.Fprintf(&b, "      Input: %q\n", clip(res.Case.Input, 80))
			}
		}
	}
	if r.FalsePositives() > 0 {
		b.WriteString("\n  FALSE ALARMS:\n")
		for _, res := range r.Results {
			if res.Case.ExpectedSafe && res.Caught {
				fmt.Fprintf(&b, "    - [%s] %s\n", res.Case.Category, res.Case.Description)
				fmt.Fprintf(&b, "      Input: %q\n", clip(res.Case.Input, 80))
			}
		}
	}
	fmt.Fprintf(&b, "%s\n", rule)
	return b.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Harness runs suites through the LLM judge.
type Harness struct {
	client llm.ChatClient
	logger *slog.Logger
}

func NewHarness(client llm.ChatClient) *Harness {
	return &Harness{
		client: client,
		logger: slog.Default().With("component", "compliance"),
	}
}

// Run judges every case in the suite under the policy's effective prompt.
// The judge fails open, so a broken provider shows up as missed unsafe
// cases rather than an error.
func (h *Harness) Run(ctx context.Context, pol *policy.Policy, suite *TestSuite) (*Report, error) {
	if pol == nil {
		return nil, fmt.Errorf("compliance run requires a policy")
	}
	if suite == nil || len(suite.Cases) == 0 {
		return nil, fmt.Errorf("compliance run requires a non-empty suite")
	}

	j := judge.NewJudge(h.client, judge.Config{
		Name:         "compliance",
		SystemPrompt: pol.EffectivePrompt(),
		// No speculative pass during batch evaluation.
		EvalThresholdChars: 1 << 20,
	}, nil)

	report := &Report{PolicyName: pol.Name, SuiteName: suite.Name, RunAt: time.Now()}
	for i, c := range suite.Cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		j.StartEvaluation(uuid.NewString(), nil)
		j.FeedChunk(c.Input)
		verdict := j.Finalize(ctx)
		elapsed := time.Since(start)

		caught := !verdict.Safe
		correct := (!c.ExpectedSafe && caught) || (c.ExpectedSafe && !caught)
		report.Results = append(report.Results, Result{
			Case:          c,
			Caught:        caught,
			Correct:       correct,
			VerdictRisk:   verdict.RiskLevel,
			VerdictAction: verdict.Action,
			Latency:       elapsed,
		})
		h.logger.Debug("compliance case judged",
			"case", i, "category", c.Category, "caught", caught, "correct", correct)
	}
	return report, nil
}
