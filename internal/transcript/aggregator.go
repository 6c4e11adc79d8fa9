// Package transcript merges the streamed partial and final transcript
// fragments of a conversation into a deduplicated ordered log.
//
// The two directions follow different upstream conventions. User speech
// recognition arrives as latest-full-text-so-far snapshots: each event
// replaces the mutable partial wholesale, and the partial is committed when
// its finished flag is set with non-blank text, or when a turn completes, an
// interruption occurs, or the session closes — whichever happens first.
// Agent text arrives as successive deltas; a delta that starts with the
// accumulated text is a superseding longer prefix and replaces the
// accumulator, anything else is appended — tolerating upstream delta
// restarts.
//
// Dedup happens at commit time: an entry identical (after whitespace
// normalisation) to the immediately preceding entry of the same role is
// dropped, and agent entries are additionally checked against the last four
// agent entries to guard against duplicate re-emissions that arrive out of
// strict immediate sequence.
package transcript

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Role identifies the originator of a log entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleEvent Role = "event"
)

// agentDedupWindow is how many recent agent entries a new agent entry is
// compared against.
const agentDedupWindow = 4

// Entry is one committed line of the transcript log.
type Entry struct {
	ID   string
	Role Role
	Text string
}

// Aggregator maintains the ordered log, the mutable user partial, and the
// agent delta accumulator. Safe for concurrent use.
type Aggregator struct {
	mu          sync.Mutex
	entries     []Entry
	userPartial string
	agentAccum  string
	onCommit    func(Entry) // optional notification, invoked outside the lock
}

// New creates an empty Aggregator. onCommit, when non-nil, is invoked for
// every entry that survives dedup.
func New(onCommit func(Entry)) *Aggregator {
	return &Aggregator{onCommit: onCommit}
}

// UserTranscript records one user speech recognition event. text replaces
// the current partial wholesale; finished with non-blank text commits it.
func (a *Aggregator) UserTranscript(text string, finished bool) {
	a.mu.Lock()
	a.userPartial = text
	var committed *Entry
	if finished && strings.TrimSpace(text) != "" {
		committed = a.commitUserLocked()
	}
	a.mu.Unlock()

	a.notify(committed)
}

// AgentDelta records one agent text delta.
func (a *Aggregator) AgentDelta(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if strings.HasPrefix(text, a.agentAccum) && a.agentAccum != "" {
		// Superseding longer prefix: upstream re-sent the accumulated text
		// plus more.
		a.agentAccum = text
		return
	}
	a.agentAccum += text
}

// TurnComplete commits the pending user partial and the accumulated agent
// text, in that order.
func (a *Aggregator) TurnComplete() {
	a.flushBoth()
}

// Interrupted commits whatever partial content exists; a barge-in means the
// turn will never complete.
func (a *Aggregator) Interrupted() {
	a.flushBoth()
}

// SessionClosed commits pending partial content and appends an event entry
// when reason is non-blank.
func (a *Aggregator) SessionClosed(reason string) {
	a.flushBoth()
	if strings.TrimSpace(reason) != "" {
		a.Event("session closed: " + reason)
	}
}

// Event appends an entry with [RoleEvent], subject to the same dedup rule.
func (a *Aggregator) Event(text string) {
	a.mu.Lock()
	committed := a.appendLocked(RoleEvent, text)
	a.mu.Unlock()

	a.notify(committed)
}

// Entries returns a snapshot of the committed log.
func (a *Aggregator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *Aggregator) flushBoth() {
	a.mu.Lock()
	user := a.commitUserLocked()
	agent := a.commitAgentLocked()
	a.mu.Unlock()

	a.notify(user)
	a.notify(agent)
}

// commitUserLocked appends the user partial (if non-blank) and clears the
// buffer. Returns the committed entry or nil.
func (a *Aggregator) commitUserLocked() *Entry {
	text := a.userPartial
	a.userPartial = ""
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return a.appendLocked(RoleUser, text)
}

// commitAgentLocked appends the accumulated agent text (if non-blank) and
// clears the accumulator. Returns the committed entry or nil.
func (a *Aggregator) commitAgentLocked() *Entry {
	text := a.agentAccum
	a.agentAccum = ""
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return a.appendLocked(RoleAgent, text)
}

// appendLocked applies the dedup invariant and appends. Returns nil when the
// entry was dropped as a duplicate.
func (a *Aggregator) appendLocked(role Role, text string) *Entry {
	norm := normalise(text)

	// Identical to the immediately preceding entry of the same role.
	if n := len(a.entries); n > 0 {
		prev := a.entries[n-1]
		if prev.Role == role && normalise(prev.Text) == norm {
			return nil
		}
	}

	// Agent entries also match against the last few agent entries, guarding
	// against duplicate re-emission arriving out of strict sequence.
	if role == RoleAgent {
		seen := 0
		for i := len(a.entries) - 1; i >= 0 && seen < agentDedupWindow; i-- {
			if a.entries[i].Role != RoleAgent {
				continue
			}
			if normalise(a.entries[i].Text) == norm {
				return nil
			}
			seen++
		}
	}

	e := Entry{ID: uuid.NewString(), Role: role, Text: text}
	a.entries = append(a.entries, e)
	return &e
}

func (a *Aggregator) notify(e *Entry) {
	if e != nil && a.onCommit != nil {
		a.onCommit(*e)
	}
}

// normalise collapses all whitespace runs to single spaces and trims the
// ends, so dedup compares text content rather than formatting.
func normalise(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
