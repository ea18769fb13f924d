// ABOUTME: CoordinationLoop — the single-writer event consumer driving one attempt to a terminal Outcome.
// ABOUTME: All agent state mutations funnel through this loop; observers get buffered, non-blocking event fan-out.
package orchestrator

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// LoopEventKind discriminates the events CoordinationLoop broadcasts to
// status observers (StatusSnapshotter, statusserver/statustui subscribers).
type LoopEventKind string

const (
	LoopEventAgentStatusChanged LoopEventKind = "agent_status_changed"
	LoopEventAnswerRegistered   LoopEventKind = "answer_registered"
	LoopEventVoteCast           LoopEventKind = "vote_cast"
	LoopEventPhaseChanged       LoopEventKind = "phase_changed"
	LoopEventOutcomeReached     LoopEventKind = "outcome_reached"
)

// LoopEvent is one broadcast notification of progress within an attempt.
type LoopEvent struct {
	ID      ulid.ULID
	At      time.Time
	Kind    LoopEventKind
	AgentId AgentId
	Label   AnswerLabel
	Status  AgentStatus
	Phase   CoordinationPhase
	Outcome *Outcome
}

// LoopEventBroadcaster fans out LoopEvents to subscribers with a buffered,
// non-blocking channel per subscriber. A slow subscriber drops events rather
// than stalling the loop.
type LoopEventBroadcaster struct {
	mu          sync.RWMutex
	subscribers []chan LoopEvent
}

// NewLoopEventBroadcaster builds an empty broadcaster.
func NewLoopEventBroadcaster() *LoopEventBroadcaster { return &LoopEventBroadcaster{} }

// Subscribe returns a new buffered channel receiving all future events.
func (b *LoopEventBroadcaster) Subscribe() chan LoopEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan LoopEvent, 1024)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a previously subscribed channel.
func (b *LoopEventBroadcaster) Unsubscribe(ch chan LoopEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (b *LoopEventBroadcaster) broadcast(evt LoopEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// agentCompletion pairs a runner's terminal AgentResult with its identity,
// delivered to the loop's single consumer goroutine.
type agentCompletion struct {
	agentId AgentId
	result  AgentResult
}

// CoordinationLoop is the single writer that owns AgentState for every
// participant and drives one attempt from PhaseInitialAnswer through to a
// terminal Outcome.
type CoordinationLoop struct {
	config    Config
	registry  *AnswerRegistry
	tally     *VoteTally
	workspace *WorkspaceManager
	timeouts  *TimeoutController
	injector  *InjectionRouter
	broadcast *LoopEventBroadcaster

	runners map[AgentId]*AgentRunner

	mu     sync.RWMutex
	states map[AgentId]AgentState
	phase  CoordinationPhase

	results chan agentCompletion
	nextID  *ulidSource
	now     func() time.Time
}

// ulidSource mints monotonic ULIDs for LoopEvent ids, single-writer so no
// locking is required beyond the loop's own goroutine.
type ulidSource struct {
	entropy *ulid.MonotonicEntropy
}

func newULIDSource(seed uint64) *ulidSource {
	return &ulidSource{entropy: ulid.Monotonic(rand.Reader, seed)}
}

func (s *ulidSource) next(now time.Time) ulid.ULID {
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return ulid.ULID{}
	}
	return id
}

// NewCoordinationLoop builds a loop over the given participants and shared
// coordination primitives. Runners must already be registered with injector.
func NewCoordinationLoop(
	config Config,
	registry *AnswerRegistry,
	tally *VoteTally,
	workspace *WorkspaceManager,
	timeouts *TimeoutController,
	injector *InjectionRouter,
	runners map[AgentId]*AgentRunner,
) *CoordinationLoop {
	loop := &CoordinationLoop{
		config:    config,
		registry:  registry,
		tally:     tally,
		workspace: workspace,
		timeouts:  timeouts,
		injector:  injector,
		broadcast: NewLoopEventBroadcaster(),
		runners:   runners,
		states:    make(map[AgentId]AgentState, len(runners)),
		phase:     PhaseInitialAnswer,
		results:   make(chan agentCompletion, len(runners)),
		nextID:    newULIDSource(1),
		now:       time.Now,
	}
	for id := range runners {
		loop.states[id] = AgentState{Status: StatusWaiting}
	}
	registry.OnAnswerRegistered(func(label AnswerLabel) {
		if injector != nil {
			injector.AnswerRegistered(label)
		}
		loop.onAnswerRegistered(label)
	})
	return loop
}

// Subscribe returns a channel of LoopEvents for status observers.
func (l *CoordinationLoop) Subscribe() chan LoopEvent { return l.broadcast.Subscribe() }

// Snapshot returns a copy of every tracked agent's current state, for
// StatusSnapshotter.
func (l *CoordinationLoop) Snapshot() map[AgentId]AgentState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[AgentId]AgentState, len(l.states))
	for id, s := range l.states {
		out[id] = s
	}
	return out
}

// Phase returns the loop's current CoordinationPhase.
func (l *CoordinationLoop) Phase() CoordinationPhase {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.phase
}

func (l *CoordinationLoop) setPhase(p CoordinationPhase) {
	l.mu.Lock()
	changed := l.phase != p
	l.phase = p
	l.mu.Unlock()
	if changed {
		l.broadcast.broadcast(LoopEvent{ID: l.nextID.next(l.now()), At: l.now(), Kind: LoopEventPhaseChanged, Phase: p})
	}
}

func (l *CoordinationLoop) setAgentStatus(agentId AgentId, status AgentStatus) {
	l.mu.Lock()
	s := l.states[agentId]
	s.Status = status
	s.LastActivity = l.now()
	l.states[agentId] = s
	l.mu.Unlock()
	l.broadcast.broadcast(LoopEvent{ID: l.nextID.next(l.now()), At: l.now(), Kind: LoopEventAgentStatusChanged, AgentId: agentId, Status: status})
}

func (l *CoordinationLoop) onAnswerRegistered(label AnswerLabel) {
	answer, ok := l.registry.Get(label)
	if !ok {
		return
	}
	l.tally.NoteAcceptedLabel(label)
	l.mu.Lock()
	s := l.states[answer.AgentId]
	s.AnswerCount++
	s.LatestAnswerLabel = label
	l.states[answer.AgentId] = s
	l.mu.Unlock()
	l.broadcast.broadcast(LoopEvent{ID: l.nextID.next(l.now()), At: l.now(), Kind: LoopEventAnswerRegistered, AgentId: answer.AgentId, Label: label})
}

// maxSubsequentRounds bounds how many times CoordinationLoop re-invites
// agents that have answered but not yet voted, backstopping against a
// pathological backend that never calls vote.
const maxSubsequentRounds = 4

// Run starts every registered runner and drives the attempt through an
// initial round and, if needed, subsequent enforcement rounds until every
// participant has voted or reached its answer cap.
func (l *CoordinationLoop) Run(ctx context.Context, initial []Message, tools []ToolSpec, params Params) Outcome {
	l.timeouts.Start()
	defer l.timeouts.Stop()

	ids := make([]AgentId, 0, len(l.runners))
	for id := range l.runners {
		ids = append(ids, id)
	}

	status, globalTimeout := l.runRound(ctx, ids, initial, tools, params, RoundInitial, 1)
	if globalTimeout {
		return l.resolveOutcome(OutcomeGlobalTimeout, "global timeout elapsed")
	}
	if status == roundCancelled {
		return Outcome{Kind: OutcomeNoAnswer, Reason: "context cancelled"}
	}
	if l.tally.AllParticipantsDecided(l.nonFailed(ids), l.registry) {
		return l.resolveOutcome(OutcomeElectedWinner, "all participants decided")
	}

	l.setPhase(PhaseEnforcement)
	for round := 0; round < maxSubsequentRounds; round++ {
		pending := l.undecided(ids)
		if len(pending) == 0 {
			break
		}
		status, globalTimeout := l.runRound(ctx, pending, initial, tools, params, RoundSubsequent, round+2)
		if globalTimeout {
			return l.resolveOutcome(OutcomeGlobalTimeout, "global timeout elapsed")
		}
		if status == roundCancelled {
			return Outcome{Kind: OutcomeNoAnswer, Reason: "context cancelled"}
		}
		if l.tally.AllParticipantsDecided(l.nonFailed(ids), l.registry) {
			return l.resolveOutcome(OutcomeElectedWinner, "all participants decided")
		}
	}

	return l.resolveOutcome(OutcomeNoAnswer, "no participant produced a winning answer")
}

// nonFailed filters out agents whose runner resolved with a fatal error;
// they count as decided for quorum but never vote or answer.
func (l *CoordinationLoop) nonFailed(ids []AgentId) []AgentId {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []AgentId
	for _, id := range ids {
		if l.states[id].Status == StatusError {
			continue
		}
		out = append(out, id)
	}
	return out
}

// undecided returns the subset of ids that have neither voted, reached their
// answer cap, nor failed.
func (l *CoordinationLoop) undecided(ids []AgentId) []AgentId {
	var out []AgentId
	for _, id := range l.nonFailed(ids) {
		if _, voted := l.tally.VoteOf(id); voted {
			continue
		}
		if l.registry.AtCap(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// roundStatus discriminates how runRound ended.
type roundStatus int

const (
	roundCompleted roundStatus = iota
	roundCancelled
)

// runRound drives one round for the given participant ids to completion,
// returning roundCancelled if ctx was cancelled mid-round, or
// globalTimeout=true if the global deadline fired mid-round. Otherwise it
// blocks until every runner in ids has produced a terminal result; the
// caller re-checks AllParticipantsDecided against the full participant list.
func (l *CoordinationLoop) runRound(ctx context.Context, ids []AgentId, conversation []Message, tools []ToolSpec, params Params, kind RoundKind, attempt int) (roundStatus, bool) {
	if len(ids) == 0 {
		return roundCompleted, false
	}

	duration := l.config.InitialRoundDuration()
	if kind == RoundSubsequent {
		duration = l.config.SubsequentRoundDuration()
		// Subsequent rounds see the full, current set of registered answers
		// so a restarted or re-invited agent can vote on what exists.
		if msg, ok := answerContextMessage(l.registry.List()); ok {
			conversation = append(append([]Message{}, conversation...), msg)
		}
	}

	for _, id := range ids {
		runner := l.runners[id]
		deadline := NewDeadline(l.now(), duration, l.config.GraceDuration())
		runner.SetDeadline(deadline)
		l.setAgentStatus(id, StatusStreaming)
		if l.injector != nil {
			l.injector.Register(id, runner)
		}
		go func(id AgentId, runner *AgentRunner) {
			result := runner.Run(ctx, conversation, tools, params, attempt)
			l.results <- agentCompletion{agentId: id, result: result}
		}(id, runner)
	}

	pending := len(ids)
	for pending > 0 {
		select {
		case <-ctx.Done():
			return roundCancelled, false

		case evt := <-l.timeouts.Events():
			switch evt.Kind {
			case EventGlobalElapsed:
				return roundCompleted, true
			case EventSoftElapsed:
				if runner, ok := l.runners[evt.AgentId]; ok {
					runner.NotifySoftDeadline()
				}
			case EventHardElapsed:
				// An agent past its hard deadline with no terminal call gets
				// its stream torn down; the runner resolves TimedOut.
				if runner, ok := l.runners[evt.AgentId]; ok {
					runner.CancelRound()
				}
			}

		case completion := <-l.results:
			pending--
			l.applyCompletion(completion)
		}
	}
	return roundCompleted, false
}

func (l *CoordinationLoop) applyCompletion(c agentCompletion) {
	l.timeouts.ClearAgentDeadline(c.agentId)
	if l.injector != nil {
		l.injector.Unregister(c.agentId)
	}
	switch c.result.Kind {
	case ResultAnswered:
		l.setAgentStatus(c.agentId, StatusAnswered)
	case ResultVoted:
		if v, ok := l.tally.VoteOf(c.agentId); ok {
			l.mu.Lock()
			s := l.states[c.agentId]
			s.VoteCast = &v
			l.states[c.agentId] = s
			l.mu.Unlock()
		}
		l.setAgentStatus(c.agentId, StatusVoted)
		l.broadcast.broadcast(LoopEvent{ID: l.nextID.next(l.now()), At: l.now(), Kind: LoopEventVoteCast, AgentId: c.agentId, Label: c.result.Target})
	case ResultTimedOut:
		l.setAgentStatus(c.agentId, StatusTimeout)
	case ResultErrored:
		l.mu.Lock()
		s := l.states[c.agentId]
		if c.result.Err != nil {
			s.Error = c.result.Err.Error()
		} else {
			s.Error = c.result.Reason
		}
		l.states[c.agentId] = s
		l.mu.Unlock()
		l.setAgentStatus(c.agentId, StatusError)
	case ResultNoProgress:
		if c.result.Reason == "restart" {
			l.setAgentStatus(c.agentId, StatusRestarting)
		} else {
			l.setAgentStatus(c.agentId, StatusWaiting)
		}
	default:
		l.setAgentStatus(c.agentId, StatusError)
	}
}

// RequestRestart implements RestartRequester: InjectionRouter calls this when
// a streaming runner is too close to its soft deadline to absorb an
// injection. The in-flight round is cancelled immediately; its runner
// resolves with a restart marker, and the next enforcement round re-spawns
// it with a conversation rebuilt from the full, current set of registered
// answers under the subsequent-round deadline.
func (l *CoordinationLoop) RequestRestart(agentId AgentId, label AnswerLabel) {
	l.mu.Lock()
	s := l.states[agentId]
	s.Status = StatusRestarting
	s.TimesRestarted++
	s.LastActivity = l.now()
	l.states[agentId] = s
	runner := l.runners[agentId]
	l.mu.Unlock()
	if runner != nil {
		runner.RequestRestart()
	}
	l.broadcast.broadcast(LoopEvent{ID: l.nextID.next(l.now()), At: l.now(), Kind: LoopEventAgentStatusChanged, AgentId: agentId, Status: StatusRestarting})
}

func (l *CoordinationLoop) resolveOutcome(kind OutcomeKind, reason string) Outcome {
	l.setPhase(PhasePresentation)
	outcome := Outcome{Kind: kind, Reason: reason}
	switch kind {
	case OutcomeElectedWinner:
		if label, _, _, ok := l.tally.Leader(); ok {
			if answer, found := l.registry.Get(label); found {
				outcome.Label = label
				outcome.Winner = answer.AgentId
			} else {
				outcome.Kind = OutcomeNoAnswer
				outcome.Reason = "leading label has no registered answer"
			}
		} else if answers := l.registry.List(); len(answers) > 0 {
			// No votes but answers exist: a single agent (or all-capped
			// field) elects the earliest registered answer.
			outcome.Label = answers[0].Label
			outcome.Winner = answers[0].AgentId
		} else {
			outcome.Kind = OutcomeNoAnswer
			outcome.Reason = "no votes were cast and no answers registered"
		}
	case OutcomeGlobalTimeout:
		// Proceed to presentation with whatever leader exists; fall back to
		// the earliest registered answer when nobody voted. No answers
		// at all resolves the session NoAnswer.
		if label, _, _, ok := l.tally.Leader(); ok {
			if answer, found := l.registry.Get(label); found {
				outcome.Label = label
				outcome.Winner = answer.AgentId
			}
		} else if answers := l.registry.List(); len(answers) > 0 {
			outcome.Label = answers[0].Label
			outcome.Winner = answers[0].AgentId
		} else {
			outcome.Kind = OutcomeNoAnswer
			outcome.Reason = "global_timeout"
		}
	}
	l.broadcast.broadcast(LoopEvent{ID: l.nextID.next(l.now()), At: l.now(), Kind: LoopEventOutcomeReached, Outcome: &outcome})
	return outcome
}
