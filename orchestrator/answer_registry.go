// ABOUTME: AnswerRegistry — append-only labeled answer store with per-agent caps and novelty enforcement.
// ABOUTME: A small mutex-guarded struct; insertion order doubles as the election tie-break order.
package orchestrator

import (
	"fmt"
	"sync"
	"time"
)

// AnswerRegisteredListener is notified after every appended Answer, once the
// registry's lock is released. InjectionRouter is the only production
// listener.
type AnswerRegisteredListener func(label AnswerLabel)

// AnswerRegistry is the append-only ordered sequence of Answers for one
// coordination attempt, keyed by label.
type AnswerRegistry struct {
	mu          sync.Mutex
	answers     []Answer
	byLabel     map[AnswerLabel]Answer
	answerCount map[AgentId]int
	novelty     NoveltyRequirement
	maxPerAgent int
	unbounded   bool
	listeners   []AnswerRegisteredListener
	now         func() time.Time
}

// NewAnswerRegistry constructs an empty registry under the given novelty and
// cap policy.
func NewAnswerRegistry(novelty NoveltyRequirement, maxPerAgent int, unbounded bool) *AnswerRegistry {
	return &AnswerRegistry{
		byLabel:     make(map[AnswerLabel]Answer),
		answerCount: make(map[AgentId]int),
		novelty:     novelty,
		maxPerAgent: maxPerAgent,
		unbounded:   unbounded,
		now:         time.Now,
	}
}

// OnAnswerRegistered subscribes a listener invoked after every accepted
// submission, outside the registry's lock.
func (r *AnswerRegistry) OnAnswerRegistered(fn AnswerRegisteredListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Submit attempts to register a new answer for agentId. workspaceSnapshotId
// is supplied by the caller (the AgentRunner, after asking WorkspaceManager
// to snapshot); AnswerRegistry itself performs no filesystem I/O.
func (r *AnswerRegistry) Submit(agentId AgentId, text string, workspaceSnapshotId SnapshotId, attempt int) SubmissionOutcome {
	r.mu.Lock()

	count := r.answerCount[agentId]
	if !r.unbounded && count >= r.maxPerAgent {
		r.mu.Unlock()
		return SubmissionOutcome{Accepted: false, Reason: "cap_exceeded"}
	}

	if threshold, enabled := r.novelty.Threshold(); enabled {
		if overlap, conflict := maxOverlap(text, r.answers); overlap > threshold {
			r.mu.Unlock()
			return SubmissionOutcome{Accepted: false, Reason: "insufficient_novelty", ConflictLabel: conflict}
		}
	}

	seq := count + 1
	label := AnswerLabel(fmt.Sprintf("%s.%d", agentId, seq))
	answer := Answer{
		Label:               label,
		AgentId:             agentId,
		Text:                text,
		WorkspaceSnapshotId: workspaceSnapshotId,
		SubmittedAt:         r.now(),
		Attempt:             attempt,
	}
	r.answers = append(r.answers, answer)
	r.byLabel[label] = answer
	r.answerCount[agentId] = seq

	listeners := make([]AnswerRegisteredListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(label)
	}

	return SubmissionOutcome{Accepted: true, Label: label}
}

// List returns a snapshot of all accepted answers in stable insertion order.
func (r *AnswerRegistry) List() []Answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Answer, len(r.answers))
	copy(out, r.answers)
	return out
}

// Get returns the answer for label, if any.
func (r *AnswerRegistry) Get(label AnswerLabel) (Answer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byLabel[label]
	if !ok {
		return Answer{}, false
	}
	return a, true
}

// AnswerCount returns how many answers agentId has submitted so far.
func (r *AnswerRegistry) AnswerCount(agentId AgentId) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answerCount[agentId]
}

// AtCap reports whether agentId has reached its configured answer cap.
func (r *AnswerRegistry) AtCap(agentId AgentId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unbounded {
		return false
	}
	return r.answerCount[agentId] >= r.maxPerAgent
}

// Exists reports whether label names a registered answer.
func (r *AnswerRegistry) Exists(label AnswerLabel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byLabel[label]
	return ok
}
