// Package activity holds the in-memory per-session counters. Every durable
// write is deferred to session end: a session can record thousands of
// increments, and flushing each one would be pure write-amplification.
package activity

import "sync"

// Counts is a snapshot of one session's accumulated activity.
type Counts struct {
	InputTokens     int64 `json:"inputTokens"`
	OutputTokens    int64 `json:"outputTokens"`
	TotalTokens     int64 `json:"totalTokens"`
	TasksCreated    int64 `json:"tasksCreated"`
	TasksUpdated    int64 `json:"tasksUpdated"`
	TasksCompleted  int64 `json:"tasksCompleted"`
	ContextsCreated int64 `json:"contextsCreated"`
}

// Accumulator keeps counters keyed by session id. All operations are pure
// in-memory and never suspend.
type Accumulator struct {
	mu     sync.Mutex
	counts map[string]*Counts
}

func NewAccumulator() *Accumulator {
	return &Accumulator{counts: make(map[string]*Counts)}
}

func (a *Accumulator) entry(sessionID string) *Counts {
	c, ok := a.counts[sessionID]
	if !ok {
		c = &Counts{}
		a.counts[sessionID] = c
	}
	return c
}

// RecordTokenUsage adds to the running token totals. Negative arguments are
// clamped to zero so counters stay monotonic.
func (a *Accumulator) RecordTokenUsage(sessionID string, input, output int64) {
	if input < 0 {
		input = 0
	}
	if output < 0 {
		output = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.entry(sessionID)
	c.InputTokens += input
	c.OutputTokens += output
	c.TotalTokens += input + output
}

func (a *Accumulator) RecordTaskCreated(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entry(sessionID).TasksCreated++
}

// RecordTaskUpdated counts an update; completed updates count toward
// TasksCompleted as well.
func (a *Accumulator) RecordTaskUpdated(sessionID string, completed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.entry(sessionID)
	c.TasksUpdated++
	if completed {
		c.TasksCompleted++
	}
}

func (a *Accumulator) RecordContextCreated(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entry(sessionID).ContextsCreated++
}

// Snapshot reads the current counters without mutating them. A session with
// no recorded activity snapshots to zeros.
func (a *Accumulator) Snapshot(sessionID string) Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.counts[sessionID]
	if !ok {
		return Counts{}
	}
	return *c
}

// Clear drops a session's entry after a successful durable flush.
func (a *Accumulator) Clear(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counts, sessionID)
}

// Sessions lists ids with live entries.
func (a *Accumulator) Sessions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.counts))
	for id := range a.counts {
		ids = append(ids, id)
	}
	return ids
}
