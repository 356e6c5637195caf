// Package recorder persists session events to JSONL for replay and
// offline analysis. One file per session; every line is one event with a
// relative offset from session start.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/callguardhq/callguard/internal/protocol"

	cgerrors "github.com/callguardhq/callguard/internal/errors"
)

// Event is one recorded line: T is seconds since session start, Ts is the
// absolute unix timestamp.
type Event struct {
	T       float64         `json:"t"`
	Ts      float64         `json:"ts"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Recorder appends session events to a JSONL file. Safe for concurrent
// use; writes are flushed per event so a crash loses at most the event in
// flight.
type Recorder struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	w       *bufio.Writer
	started time.Time
	logger  *slog.Logger
}

// New creates a recorder that will write to path once started.
func New(path string) *Recorder {
	return &Recorder{
		path:   path,
		logger: slog.Default().With("component", "recorder"),
	}
}

// Start opens the output file and writes the session_start marker.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityMedium, "failed to create recording directory", err)
	}
	f, err := os.Create(r.path)
	if err != nil {
		return cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityMedium, "failed to open recording file", err)
	}
	r.file = f
	r.w = bufio.NewWriter(f)
	r.started = time.Now()
	r.writeLocked("session_start", struct{}{})
	r.logger.Info("recording started", "path", r.path)
	return nil
}

// Stop writes the session_end marker and closes the file. Safe to call
// more than once.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	r.writeLocked("session_end", struct{}{})
	r.w.Flush()
	err := r.file.Close()
	r.file = nil
	r.w = nil
	r.logger.Info("recording saved", "path", r.path)
	return err
}

func (r *Recorder) RecordTranscript(ev protocol.TranscriptEvent) {
	r.record("transcript", ev)
}

func (r *Recorder) RecordVerdict(v protocol.Verdict, callID string) {
	r.record("verdict", struct {
		protocol.Verdict
		CallID string `json:"call_id"`
	}{Verdict: v, CallID: callID})
}

func (r *Recorder) RecordCallStarted(callID, label string) {
	r.record("call_started", map[string]string{"call_id": callID, "label": label})
}

func (r *Recorder) RecordCallEnded(callID string) {
	r.record("call_ended", map[string]string{"call_id": callID})
}

func (r *Recorder) RecordAgentState(state, mode, callID string) {
	r.record("agent_state", map[string]string{"state": state, "mode": mode, "call_id": callID})
}

func (r *Recorder) RecordGuidanceRequest(req protocol.GuidanceRequest) {
	r.record("guidance_request", req)
}

func (r *Recorder) RecordGuidanceResponse(requestID, response, callID string) {
	r.record("guidance_response", map[string]string{
		"request_id": requestID, "response": response, "call_id": callID,
	})
}

// RecordOperatorCommand records a raw operator command under an
// operator_<command> event type.
func (r *Recorder) RecordOperatorCommand(command string, payload any) {
	r.record("operator_"+command, payload)
}

func (r *Recorder) record(eventType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeLocked(eventType, payload)
}

func (r *Recorder) writeLocked(eventType string, payload any) {
	if r.w == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("dropping unencodable event", "type", eventType, "error", err)
		return
	}
	now := time.Now()
	ev := Event{
		T:       math.Round(now.Sub(r.started).Seconds()*1000) / 1000,
		Ts:      float64(now.UnixNano()) / 1e9,
		Type:    eventType,
		Payload: raw,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	r.w.Write(line)
	r.w.WriteByte('\n')
	r.w.Flush()
}

// LoadRecording reads a JSONL recording back into events. Blank lines are
// skipped; a malformed line fails the whole load.
func LoadRecording(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityLow, "failed to open recording", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityLow, "malformed recording line", err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityLow, "failed to read recording", err)
	}
	return events, nil
}

// Summary condenses a recording for the replay command.
type Summary struct {
	Path     string
	Duration float64
	Events   int
	Calls    map[string]string
	Safe     int
	Unsafe   int
	Blocks   int
}

// Summarize computes the replay summary for a recording file.
func Summarize(path string) (Summary, error) {
	events, err := LoadRecording(path)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{Path: path, Events: len(events), Calls: make(map[string]string)}
	for _, ev := range events {
		switch ev.Type {
		case "call_started":
			var p struct {
				CallID string `json:"call_id"`
				Label  string `json:"label"`
			}
			if json.Unmarshal(ev.Payload, &p) == nil && p.CallID != "" {
				label := p.Label
				if label == "" {
					label = p.CallID
				}
				s.Calls[p.CallID] = label
			}
		case "verdict":
			var v protocol.Verdict
			if json.Unmarshal(ev.Payload, &v) == nil {
				if v.Safe {
					s.Safe++
				} else {
					s.Unsafe++
				}
				if v.Action == protocol.ActionBlock {
					s.Blocks++
				}
			}
		}
	}
	if len(events) > 0 {
		s.Duration = events[len(events)-1].T
	}
	return s, nil
}

// String renders the summary in the replay command's text format.
func (s Summary) String() string {
	out := fmt.Sprintf("Recording: %s\n  Duration: %.1fs\n  Events: %d\n  Calls: %d\n",
		s.Path, s.Duration, s.Events, len(s.Calls))
	for id, label := range s.Calls {
		out += fmt.Sprintf("    - %s (%s)\n", label, id)
	}
	out += fmt.Sprintf("  Verdicts: %d safe, %d unsafe\n  Blocks: %d\n", s.Safe, s.Unsafe, s.Blocks)
	return out
}
