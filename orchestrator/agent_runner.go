// ABOUTME: AgentRunner — drives one agent's backend stream through a round, gating and resolving terminal tools.
// ABOUTME: Transient failures retry with jittered backoff; mid-stream injection arrives via a buffered per-runner mailbox.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// RetryPolicy configures retry of a whole Backend.Stream attempt after a
// TransientBackendError, mirroring llm.RetryPolicy's shape so the two stay
// interchangeable in spirit without coupling this package to the llm import
// graph.
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultRetryPolicy mirrors llm.DefaultRetryPolicy's defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	delay := time.Duration(d)
	if p.Jitter && delay > 0 {
		delay = time.Duration(rand.Int64N(int64(delay) + 1))
	}
	return delay
}

// maxRejectedToolCalls bounds how many rejected or blocked tool calls a
// runner will feed back before giving up on the round; a backend that keeps
// repeating the same rejected call resolves NoProgress instead of looping.
const maxRejectedToolCalls = 3

// AgentRunner drives one agent's conversation with its Backend through a
// single round: streaming chunks, gating non-terminal tool calls against the
// hard deadline, and resolving new_answer/vote terminal tool calls against
// the shared AnswerRegistry and VoteTally.
type AgentRunner struct {
	id        AgentId
	backend   Backend
	gate      ToolGate
	registry  *AnswerRegistry
	tally     *VoteTally
	workspace *WorkspaceManager
	timeouts  *TimeoutController
	retry     RetryPolicy
	sink      StreamSink

	mu          sync.Mutex
	status      AgentStatus
	deadline    Deadline
	mailbox     chan AnswerLabel
	injected    map[AnswerLabel]bool
	softWarned  bool
	restarting  bool
	cancelRound context.CancelFunc
	now         func() time.Time
}

// NewAgentRunner builds a runner for agentId, wired to the shared
// coordination primitives it must consult.
func NewAgentRunner(
	id AgentId,
	backend Backend,
	gate ToolGate,
	registry *AnswerRegistry,
	tally *VoteTally,
	workspace *WorkspaceManager,
	timeouts *TimeoutController,
	retry RetryPolicy,
) *AgentRunner {
	return &AgentRunner{
		id:        id,
		backend:   backend,
		gate:      gate,
		registry:  registry,
		tally:     tally,
		workspace: workspace,
		timeouts:  timeouts,
		retry:     retry,
		status:    StatusWaiting,
		mailbox:   make(chan AnswerLabel, 8),
		injected:  make(map[AnswerLabel]bool),
		now:       time.Now,
	}
}

// SetSink routes this runner's content/reasoning chunks to a UI sink.
// Must be called before Run; a nil sink leaves chunks unforwarded.
func (ar *AgentRunner) SetSink(sink StreamSink) {
	ar.sink = sink
}

// Status reports the runner's current lifecycle state. Safe for concurrent
// callers (InjectionRouter polls this from another goroutine).
func (ar *AgentRunner) Status() AgentStatus {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.status
}

func (ar *AgentRunner) setStatus(s AgentStatus) {
	ar.mu.Lock()
	ar.status = s
	ar.mu.Unlock()
}

// SetDeadline installs the soft/hard deadline governing this round, used by
// RemainingSoftTime and forwarded to the shared TimeoutController.
func (ar *AgentRunner) SetDeadline(d Deadline) {
	ar.mu.Lock()
	ar.deadline = d
	ar.softWarned = false
	ar.mu.Unlock()
	ar.timeouts.SetAgentDeadline(ar.id, d)
}

// NotifySoftDeadline injects the wrap-up advisory into the running stream.
// Idempotent per round: repeated notifications after the first are dropped.
func (ar *AgentRunner) NotifySoftDeadline() {
	ar.mu.Lock()
	if ar.softWarned {
		ar.mu.Unlock()
		return
	}
	ar.softWarned = true
	ar.mu.Unlock()
	ar.backend.InjectSystemTurn("time is running short; wrap up and either submit your answer with new_answer or vote for an existing one now")
}

// CancelRound aborts the round in flight: the backend stream is torn down
// and Run resolves TimedOut. The loop calls this when an agent crosses its
// hard deadline without a terminal tool call.
func (ar *AgentRunner) CancelRound() {
	ar.mu.Lock()
	cancel := ar.cancelRound
	ar.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RequestRestart aborts the round in flight and makes Run resolve with a
// restart marker instead of TimedOut; the loop re-spawns the runner on the
// next round with the full, current answer set and the subsequent-round
// deadline.
func (ar *AgentRunner) RequestRestart() {
	ar.mu.Lock()
	ar.restarting = true
	cancel := ar.cancelRound
	ar.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RemainingSoftTime reports how long remains before this runner's soft
// deadline, for InjectionRouter's inject-vs-restart decision.
func (ar *AgentRunner) RemainingSoftTime(now time.Time) time.Duration {
	ar.mu.Lock()
	d := ar.deadline
	ar.mu.Unlock()
	return d.Remaining(now)
}

// Inject enqueues a newly registered answer's label for delivery into the
// running stream as a synthetic system turn. Duplicate labels are dropped so
// repeated injections observe the same conversation as one. It never blocks:
// if the mailbox is full the caller (InjectionRouter) should fall back to a
// restart.
func (ar *AgentRunner) Inject(label AnswerLabel) error {
	ar.mu.Lock()
	if ar.injected[label] {
		ar.mu.Unlock()
		return nil
	}
	ar.injected[label] = true
	ar.mu.Unlock()

	select {
	case ar.mailbox <- label:
		return nil
	default:
		ar.mu.Lock()
		delete(ar.injected, label)
		ar.mu.Unlock()
		return ErrInjectSkipped
	}
}

// streamOutcome tells Run what to do after one Backend.Stream pass.
type streamOutcome int

const (
	streamContinue streamOutcome = iota // keep reading the current stream
	streamDone                          // terminal result reached
	streamRetry                         // transient failure, retry after backoff
	streamResume                        // rejected/blocked tool call, re-stream with feedback
)

// chunkAction is the verdict on one streamed chunk (or one whole stream
// pass): whether to keep reading, finish with result, back off and retry, or
// start a fresh stream carrying rejection feedback.
type chunkAction struct {
	outcome  streamOutcome
	result   AgentResult
	feedback string
	err      error
}

// Run drives the agent through one round and returns its terminal result.
// conversation and tools seed the stream; attempt is the 1-based round
// number used to label any answer this runner submits.
//
// Each Backend.Stream call is one model turn: it ends after the model's
// first terminal tool call or done marker. A rejected or blocked tool call
// therefore re-invokes Stream with the rejection appended as a system turn,
// rather than waiting for more chunks on a stream the backend has already
// finished.
func (ar *AgentRunner) Run(ctx context.Context, conversation []Message, tools []ToolSpec, params Params, attempt int) AgentResult {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ar.mu.Lock()
	ar.cancelRound = cancel
	ar.restarting = false
	ar.mu.Unlock()

	ar.setStatus(StatusStreaming)

	conv := append([]Message{}, conversation...)
	retries := 0
	rejections := 0
	for {
		action := ar.runOnce(runCtx, conv, tools, params, attempt)
		switch action.outcome {
		case streamDone:
			return action.result

		case streamRetry:
			if retries >= ar.retry.MaxRetries {
				ar.setStatus(StatusError)
				return AgentResult{Kind: ResultErrored, Reason: "backend error", Err: action.err}
			}
			select {
			case <-runCtx.Done():
				return ar.resolveCancelled()
			case <-time.After(ar.retry.delay(retries)):
			}
			retries++

		case streamResume:
			if rejections >= maxRejectedToolCalls {
				ar.setStatus(StatusError)
				return AgentResult{Kind: ResultNoProgress, Reason: "tool call rejected repeatedly"}
			}
			rejections++
			ar.backend.Cancel()
			conv = append(conv, Message{Role: RoleSystem, Text: action.feedback})
		}
	}
}

// resolveCancelled maps a cancelled round to its terminal result: a restart
// marker when InjectionRouter asked for one, TimedOut otherwise.
func (ar *AgentRunner) resolveCancelled() AgentResult {
	ar.mu.Lock()
	restarting := ar.restarting
	ar.mu.Unlock()
	if restarting {
		ar.setStatus(StatusRestarting)
		return AgentResult{Kind: ResultNoProgress, Reason: "restart"}
	}
	ar.setStatus(StatusTimeout)
	return AgentResult{Kind: ResultTimedOut, Reason: "cancelled"}
}

// runOnce drives a single Backend.Stream call until it yields a decision:
// never streamContinue.
func (ar *AgentRunner) runOnce(ctx context.Context, conversation []Message, tools []ToolSpec, params Params, attempt int) chunkAction {
	stream, err := ar.backend.Stream(ctx, conversation, tools, params)
	if err != nil {
		if _, ok := err.(*TransientBackendError); ok {
			return chunkAction{outcome: streamRetry, err: err}
		}
		ar.setStatus(StatusError)
		return chunkAction{outcome: streamDone, result: AgentResult{Kind: ResultErrored, Reason: "backend error", Err: err}}
	}

	for {
		select {
		case <-ctx.Done():
			ar.backend.Cancel()
			return chunkAction{outcome: streamDone, result: ar.resolveCancelled()}

		case label, ok := <-ar.mailbox:
			if !ok {
				continue
			}
			ar.deliverInjection(label)

		case chunk, ok := <-stream:
			if !ok {
				ar.setStatus(StatusError)
				return chunkAction{outcome: streamDone, result: AgentResult{Kind: ResultNoProgress, Reason: "stream closed without result"}}
			}
			if action := ar.handleChunk(chunk, attempt); action.outcome != streamContinue {
				return action
			}
		}
	}
}

func (ar *AgentRunner) deliverInjection(label AnswerLabel) {
	answer, ok := ar.registry.Get(label)
	if !ok {
		return
	}
	ar.backend.InjectSystemTurn(fmt.Sprintf("agent %s submitted answer %s: %s", answer.AgentId, answer.Label, answer.Text))
}

// handleChunk processes one streamed Chunk into a chunkAction;
// streamContinue keeps the stream loop reading.
func (ar *AgentRunner) handleChunk(chunk Chunk, attempt int) chunkAction {
	switch chunk.Kind {
	case ChunkContent, ChunkReasoning:
		if ar.sink != nil {
			ar.sink.OnChunk(ar.id, PhaseInitialAnswer, chunk.Kind, chunk.Text)
		}

	case ChunkToolCall:
		return ar.handleToolCall(chunk.ToolCall, attempt)

	case ChunkDone:
		switch chunk.DoneReason {
		case DoneCancelled:
			return chunkAction{outcome: streamDone, result: ar.resolveCancelled()}
		case DoneError:
			return ar.handleDoneError(chunk.Err)
		default:
			ar.setStatus(StatusError)
			return chunkAction{outcome: streamDone, result: AgentResult{Kind: ResultNoProgress, Reason: "stream ended without a terminal tool call"}}
		}
	}
	return chunkAction{outcome: streamContinue}
}

func (ar *AgentRunner) handleDoneError(err error) chunkAction {
	if _, ok := err.(*TransientBackendError); ok {
		return chunkAction{outcome: streamRetry, err: err}
	}
	if _, ok := err.(*ContextLengthError); ok {
		if ar.backend.ReportContextLengthError() {
			return chunkAction{outcome: streamRetry, err: err}
		}
		ar.setStatus(StatusError)
		return chunkAction{outcome: streamDone, result: AgentResult{Kind: ResultErrored, Reason: "context length exceeded", Err: err}}
	}
	ar.setStatus(StatusError)
	return chunkAction{outcome: streamDone, result: AgentResult{Kind: ResultErrored, Reason: "backend error", Err: err}}
}

func (ar *AgentRunner) handleToolCall(call *ToolCallChunk, attempt int) chunkAction {
	if call == nil {
		return chunkAction{outcome: streamContinue}
	}

	decision := ar.gate.Allow(call.Name, ar.id)
	if !decision.Allowed {
		return chunkAction{outcome: streamResume, feedback: decision.Message}
	}

	switch call.Name {
	case "new_answer":
		return ar.handleNewAnswer(call, attempt)
	case "vote":
		return ar.handleVote(call)
	default:
		return chunkAction{outcome: streamContinue}
	}
}

func (ar *AgentRunner) handleNewAnswer(call *ToolCallChunk, attempt int) chunkAction {
	text, _ := call.Args["text"].(string)

	snapshotId, err := ar.workspace.Snapshot(ar.id)
	if err != nil {
		ar.setStatus(StatusError)
		return chunkAction{outcome: streamDone, result: AgentResult{Kind: ResultErrored, Reason: "workspace snapshot failed", Err: err}}
	}

	outcome := ar.registry.Submit(ar.id, text, snapshotId, attempt)
	if !outcome.Accepted {
		feedback := fmt.Sprintf("new_answer rejected: %s", outcome.Reason)
		if outcome.ConflictLabel != "" {
			feedback = fmt.Sprintf("new_answer rejected: %s (too similar to %s); vote for it or submit something meaningfully different", outcome.Reason, outcome.ConflictLabel)
		}
		return chunkAction{outcome: streamResume, feedback: feedback}
	}

	ar.setStatus(StatusAnswered)
	return chunkAction{outcome: streamDone, result: AgentResult{Kind: ResultAnswered, Label: outcome.Label}}
}

func (ar *AgentRunner) handleVote(call *ToolCallChunk) chunkAction {
	target, _ := call.Args["target"].(string)
	reason, _ := call.Args["reason"].(string)

	outcome := ar.tally.CastOrReplace(ar.id, AnswerLabel(target), reason)
	if !outcome.Accepted {
		return chunkAction{outcome: streamResume, feedback: fmt.Sprintf("vote rejected: %s", outcome.Reason)}
	}

	ar.setStatus(StatusVoted)
	return chunkAction{outcome: streamDone, result: AgentResult{Kind: ResultVoted, Target: AnswerLabel(target)}}
}
