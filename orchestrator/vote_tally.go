// ABOUTME: VoteTally — records per-agent votes and computes a deterministic winner.
// ABOUTME: Tie-break uses the registry's insertion order (earliest accepted label wins).
package orchestrator

import (
	"sync"
	"time"
)

// LabelExistsChecker is consulted by VoteTally to validate vote targets
// without VoteTally needing to import AnswerRegistry's full surface.
type LabelExistsChecker interface {
	Exists(label AnswerLabel) bool
}

// VoteTally records who voted for which label and computes the winner with a
// deterministic tie-break.
type VoteTally struct {
	mu       sync.Mutex
	votes    map[AgentId]Vote
	order    []AnswerLabel // first-acceptance order, supplied by the registry
	registry LabelExistsChecker
	now      func() time.Time
}

// NewVoteTally constructs a tally that validates targets against registry.
func NewVoteTally(registry LabelExistsChecker) *VoteTally {
	return &VoteTally{
		votes:    make(map[AgentId]Vote),
		registry: registry,
		now:      time.Now,
	}
}

// NoteAcceptedLabel records a label's acceptance order, used for FIFO
// tie-breaking in Leader. The coordination loop calls this from the same
// AnswerRegistry.OnAnswerRegistered listener that drives InjectionRouter.
func (t *VoteTally) NoteAcceptedLabel(label AnswerLabel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = append(t.order, label)
}

// CastOrReplace records voterId's vote for targetLabel, replacing any
// previous vote from the same voter.
func (t *VoteTally) CastOrReplace(voterId AgentId, targetLabel AnswerLabel, reason string) VoteOutcome {
	if t.registry != nil && !t.registry.Exists(targetLabel) {
		return VoteOutcome{Accepted: false, Reason: "unknown_label"}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.votes[voterId] = Vote{VoterId: voterId, TargetLabel: targetLabel, Reason: reason, CastAt: t.now()}
	return VoteOutcome{Accepted: true}
}

// VoteOf returns the current vote cast by voterId, if any.
func (t *VoteTally) VoteOf(voterId AgentId) (Vote, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.votes[voterId]
	return v, ok
}

// counts returns vote counts per label. Caller must hold t.mu.
func (t *VoteTally) counts() map[AnswerLabel]int {
	counts := make(map[AnswerLabel]int)
	for _, v := range t.votes {
		counts[v.TargetLabel]++
	}
	return counts
}

// Counts returns a snapshot of current vote counts per label.
func (t *VoteTally) Counts() map[AnswerLabel]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts()
}

// Votes returns a snapshot of every current vote, one per voter, in no
// particular order.
func (t *VoteTally) Votes() []Vote {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Vote, 0, len(t.votes))
	for _, v := range t.votes {
		out = append(out, v)
	}
	return out
}

// Leader computes the label with the strict maximum vote count. On a tie,
// Tied is true and the winner is whichever tied label was accepted into the
// registry earliest (FIFO over t.order).
func (t *VoteTally) Leader() (label AnswerLabel, count int, tied bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := t.counts()
	if len(counts) == 0 {
		return "", 0, false, false
	}

	best := -1
	for _, c := range counts {
		if c > best {
			best = c
		}
	}

	var tiedLabels []AnswerLabel
	for l, c := range counts {
		if c == best {
			tiedLabels = append(tiedLabels, l)
		}
	}

	if len(tiedLabels) == 1 {
		return tiedLabels[0], best, false, true
	}

	tiedSet := make(map[AnswerLabel]bool, len(tiedLabels))
	for _, l := range tiedLabels {
		tiedSet[l] = true
	}
	for _, l := range t.order {
		if tiedSet[l] {
			return l, best, true, true
		}
	}
	// Fallback: order unknown for these labels (should not happen in
	// practice since NoteAcceptedLabel is always called before a vote can
	// target a label). Pick deterministically by lexical order.
	winner := tiedLabels[0]
	for _, l := range tiedLabels[1:] {
		if l < winner {
			winner = l
		}
	}
	return winner, best, true, true
}

// AllParticipantsDecided reports whether every id in activeAgents has either
// voted in this attempt or reached its answer cap with no novel answer
// available.
func (t *VoteTally) AllParticipantsDecided(activeAgents []AgentId, registry *AnswerRegistry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range activeAgents {
		if _, voted := t.votes[id]; voted {
			continue
		}
		if registry != nil && registry.AtCap(id) {
			continue
		}
		return false
	}
	return true
}
