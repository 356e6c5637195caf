package supervisor

import (
	"sync"
)

// guidanceFallback is spoken when no operator answers in time.
const guidanceFallback = "I wasn't able to get additional information on that. Let me help you with what I know."

// guidanceSlot is a single-resolution rendezvous between the waiting turn
// and the operator. Resolve wins at most once; later attempts are no-ops.
type guidanceSlot struct {
	once sync.Once
	ch   chan string
}

func newGuidanceSlot() *guidanceSlot {
	return &guidanceSlot{ch: make(chan string, 1)}
}

// resolve delivers the response exactly once. Returns false on duplicate
// resolution.
func (s *guidanceSlot) resolve(response string) bool {
	delivered := false
	s.once.Do(func() {
		s.ch <- response
		delivered = true
	})
	return delivered
}

// guidanceTable tracks pending guidance slots by request id.
type guidanceTable struct {
	mu    sync.Mutex
	slots map[string]*guidanceSlot
}

func newGuidanceTable() *guidanceTable {
	return &guidanceTable{slots: make(map[string]*guidanceSlot)}
}

func (t *guidanceTable) create(requestID string) *guidanceSlot {
	slot := newGuidanceSlot()
	t.mu.Lock()
	t.slots[requestID] = slot
	t.mu.Unlock()
	return slot
}

// resolve completes a pending request. Unknown or already-resolved ids
// return false.
func (t *guidanceTable) resolve(requestID, response string) bool {
	t.mu.Lock()
	slot := t.slots[requestID]
	t.mu.Unlock()
	if slot == nil {
		return false
	}
	return slot.resolve(response)
}

// remove drops the slot. Called on every exit path of the waiting turn so
// the table never leaks entries.
func (t *guidanceTable) remove(requestID string) {
	t.mu.Lock()
	delete(t.slots, requestID)
	t.mu.Unlock()
}

func (t *guidanceTable) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
