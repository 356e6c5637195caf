package judge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/callguardhq/callguard/internal/llm"
	"github.com/callguardhq/callguard/internal/protocol"
	"golang.org/x/sync/errgroup"
)

// Panel runs several judges over the same turn and merges their verdicts
// worst-case. Members typically carry distinct prompts covering distinct
// concerns (medical safety, tone, compliance). A member failure is
// isolated: it is logged, excluded from the merge, and never cancels its
// siblings.
type Panel struct {
	mu       sync.RWMutex
	judges   []*Judge
	observer VerdictObserver
	logger   *slog.Logger
}

// NewPanel wraps already-built judges. Member order is significant: the
// merge tie-break favors earlier members.
func NewPanel(judges []*Judge, observer VerdictObserver) *Panel {
	return &Panel{
		judges:   judges,
		observer: observer,
		logger:   slog.Default().With("component", "panel"),
	}
}

// CreatePanel builds one judge per config, all sharing one client.
// Members get no individual observer; only the merged verdict is
// observed.
func CreatePanel(client llm.ChatClient, configs []Config, observer VerdictObserver) *Panel {
	judges := make([]*Judge, 0, len(configs))
	for _, cfg := range configs {
		judges = append(judges, NewJudge(client, cfg, nil))
	}
	return NewPanel(judges, observer)
}

// Size returns the member count.
func (p *Panel) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.judges)
}

// StartEvaluation fans out to every member.
func (p *Panel) StartEvaluation(turnID string, history []llm.Message) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, j := range p.judges {
		j.StartEvaluation(turnID, history)
	}
}

// FeedChunk fans out to every member unconditionally.
func (p *Panel) FeedChunk(text string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, j := range p.judges {
		j.FeedChunk(text)
	}
}

// Seal seals every member's current turn and returns a Finalizer that
// evaluates those snapshots. Member order is preserved for the merge
// tie-break.
func (p *Panel) Seal() Finalizer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	turn := &panelTurn{panel: p, turns: make([]Finalizer, 0, len(p.judges)), names: make([]string, 0, len(p.judges))}
	for _, j := range p.judges {
		turn.turns = append(turn.turns, j.Seal())
		turn.names = append(turn.names, j.Name())
	}
	return turn
}

// Finalize seals and evaluates the current turn in one step.
func (p *Panel) Finalize(ctx context.Context) protocol.Verdict {
	return p.Seal().Finalize(ctx)
}

// panelTurn holds every member's sealed turn.
type panelTurn struct {
	panel *Panel
	turns []Finalizer
	names []string
}

// Finalize runs every sealed member concurrently, merges the survivors,
// and notifies the observer. A member that panics is excluded from the
// merge; its siblings and the panel call are unaffected.
func (pt *panelTurn) Finalize(ctx context.Context) protocol.Verdict {
	results := make([]protocol.Verdict, len(pt.turns))
	ok := make([]bool, len(pt.turns))

	var g errgroup.Group
	for i, t := range pt.turns {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					pt.panel.logger.Error("panel member failed during finalize",
						"judge", pt.names[i], "panic", r)
				}
			}()
			results[i] = t.Finalize(ctx)
			ok[i] = true
			return nil
		})
	}
	g.Wait()

	var verdicts []protocol.Verdict
	for i := range results {
		if ok[i] {
			verdicts = append(verdicts, results[i])
		}
	}

	merged := MergeVerdicts(verdicts)
	pt.panel.notify(merged)
	return merged
}

// Cancel aborts every member's in-flight work.
func (p *Panel) Cancel() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, j := range p.judges {
		j.Cancel()
	}
}

// UpdatePrompt hot-swaps one member's evaluation prompt without touching
// the in-flight state of the others. Out-of-range indices are ignored.
func (p *Panel) UpdatePrompt(index int, prompt string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if index < 0 || index >= len(p.judges) {
		return
	}
	p.judges[index].UpdateSystemPrompt(prompt)
}

func (p *Panel) notify(verdict protocol.Verdict) {
	if p.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("verdict observer panicked", "panic", r)
		}
	}()
	p.observer.OnVerdict(verdict)
}
