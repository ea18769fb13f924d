// ABOUTME: Session — wires registry, tally, workspaces, timeouts, runners, loop, presentation, and status output together.
// ABOUTME: Owns the bounded orchestration-restart cycle; every collaborator is an explicit field, no globals.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// EventRecorder persists the coordination event stream for later replay or
// audit. The orchestrator/store package implements it over SQLite; a nil
// recorder disables persistence.
type EventRecorder interface {
	RecordAnswer(sessionID string, attempt int, a Answer) error
	RecordVote(sessionID string, attempt int, v Vote) error
	RecordOutcome(sessionID string, attempt int, o Outcome) error
}

// SessionResult is the terminal, user-facing result of Session.Run.
type SessionResult struct {
	Outcome      Outcome
	FinalText    string
	FinalHTML    string
	Attempts     int
	WorkspaceDir string
}

// Session runs a whole coordination from fan-out through presentation,
// including up to MaxOrchestrationRestarts full re-runs.
type Session struct {
	id       string
	cfg      Config
	sink     StreamSink
	recorder EventRecorder
	logDir   string
	workDir  string

	snapshotter *StatusSnapshotter
}

// SessionOption configures a Session at construction.
type SessionOption func(*Session)

// WithSink routes agent and presentation chunks to the given UI sink.
func WithSink(sink StreamSink) SessionOption {
	return func(s *Session) { s.sink = sink }
}

// WithLogDir sets the directory for status.json and the final answer files.
func WithLogDir(dir string) SessionOption {
	return func(s *Session) { s.logDir = dir }
}

// WithWorkDir sets the root under which per-attempt agent workspaces live.
func WithWorkDir(dir string) SessionOption {
	return func(s *Session) { s.workDir = dir }
}

// WithEventRecorder persists answers, votes, and outcomes as they happen.
func WithEventRecorder(rec EventRecorder) SessionOption {
	return func(s *Session) { s.recorder = rec }
}

// NewSession validates cfg and builds a session. Zero agents or an invalid
// config are the only errors a session ever raises to its caller; everything
// downstream resolves as a structured Outcome.
func NewSession(cfg Config, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Agents) == 0 {
		return nil, ErrNoAgentsConfigured
	}
	for _, a := range cfg.Agents {
		if a.Backend == nil {
			return nil, NewConfigError("agents", fmt.Sprintf("agent %q has no backend", a.ID))
		}
	}

	s := &Session{
		id:   uuid.NewString(),
		cfg:  cfg,
		sink: NopSink,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logDir == "" {
		s.logDir = filepath.Join(os.TempDir(), "quorum", s.id)
	}
	if s.workDir == "" {
		s.workDir = filepath.Join(s.logDir, "workspaces")
	}
	s.snapshotter = NewStatusSnapshotter(filepath.Join(s.logDir, "status.json"), s.id, 2*time.Second)
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// LogDir returns the directory status.json and the final answer live in.
func (s *Session) LogDir() string { return s.logDir }

// StatusPath returns where status.json is written.
func (s *Session) StatusPath() string { return filepath.Join(s.logDir, "status.json") }

// Run drives the session to a terminal SessionResult: up to
// 1+MaxOrchestrationRestarts coordination attempts, each followed by a
// presentation when a winner exists.
func (s *Session) Run(ctx context.Context, question string, params Params) (SessionResult, error) {
	s.snapshotter.Start()
	defer s.snapshotter.Stop()

	log.Printf("component=orchestrator.session action=start session_id=%s agents=%d", s.id, len(s.cfg.Agents))

	restartReason := ""
	maxAttempts := 1 + s.cfg.MaxOrchestrationRestarts
	var result SessionResult

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		outcome, attemptState := s.runAttempt(ctx, question, restartReason, attempt, params)
		s.snapshotter.SetOutcome(outcome)
		result.Outcome = outcome

		if outcome.Label == "" {
			// NoAnswer, or global timeout with an empty registry: nothing to
			// present.
			log.Printf("component=orchestrator.session action=finished session_id=%s attempt=%d outcome=%s reason=%q", s.id, attempt, outcome.Kind, outcome.Reason)
			return result, nil
		}

		winner, _ := attemptState.registry.Get(outcome.Label)
		backend := s.backendFor(outcome.Winner)
		stage := NewPresentationStage(attemptState.workspace, s.sink)

		s.snapshotter.SetFinalPresentation(true)
		presented, err := stage.Present(ctx, backend, question, winner, attemptState.registry.List(), attemptState.tally.Votes(), params)
		if err != nil {
			log.Printf("component=orchestrator.session action=presentation_failed session_id=%s err=%v", s.id, err)
		}
		result.FinalText = presented.FinalText
		result.WorkspaceDir = attemptState.workspace.FinalWorkspaceDir()
		s.snapshotter.SetFinalAnswer(presented.FinalText)
		s.writeFinalAnswer(presented.FinalText, &result)

		if attempt < maxAttempts {
			restart, reason, evalErr := stage.Evaluate(ctx, backend, question, presented.FinalText, params)
			if evalErr != nil {
				log.Printf("component=orchestrator.session action=evaluation_failed session_id=%s err=%v", s.id, evalErr)
			}
			if restart {
				log.Printf("component=orchestrator.session action=restart session_id=%s attempt=%d reason=%q", s.id, attempt, reason)
				restartReason = reason
				s.snapshotter.SetFinalPresentation(false)
				continue
			}
		}

		log.Printf("component=orchestrator.session action=finished session_id=%s attempt=%d outcome=%s winner=%s label=%s", s.id, attempt, outcome.Kind, outcome.Winner, outcome.Label)
		return result, nil
	}
	return result, nil
}

// attemptState holds the per-attempt collaborators Run needs after the loop
// finishes (presentation reads the registry, tally, and workspaces).
type attemptState struct {
	registry  *AnswerRegistry
	tally     *VoteTally
	workspace *WorkspaceManager
}

// runAttempt builds fresh per-attempt state (registry, tally, workspaces,
// timeouts, runners, loop) and drives one coordination attempt to an Outcome.
func (s *Session) runAttempt(ctx context.Context, question, restartReason string, attempt int, params Params) (Outcome, attemptState) {
	cap, unbounded := s.cfg.MaxAnswersPerAgent()
	registry := NewAnswerRegistry(s.cfg.AnswerNoveltyRequirement, cap, unbounded)
	tally := NewVoteTally(registry)

	workspace, err := NewWorkspaceManager(filepath.Join(s.workDir, fmt.Sprintf("attempt-%d", attempt)))
	if err != nil {
		return Outcome{Kind: OutcomeNoAnswer, Reason: fmt.Sprintf("workspace setup failed: %v", err)}, attemptState{registry: registry, tally: tally}
	}

	var globalAt time.Time
	if d := s.cfg.GlobalDuration(); d > 0 {
		globalAt = time.Now().Add(d)
	}
	timeouts := NewTimeoutController(globalAt, 0)
	gate := NewHardDeadlineGate(timeouts)

	runners := make(map[AgentId]*AgentRunner, len(s.cfg.Agents))
	for _, agent := range s.cfg.Agents {
		runner := NewAgentRunner(agent.ID, agent.Backend, gate, registry, tally, workspace, timeouts, DefaultRetryPolicy())
		runner.SetSink(s.sink)
		runners[agent.ID] = runner
	}

	injector := NewInjectionRouter(s.cfg.GraceDuration(), nil, registry)
	loop := NewCoordinationLoop(s.cfg, registry, tally, workspace, timeouts, injector, runners)
	injector.restarter = loop
	s.snapshotter.Observe(loop, tally)

	stopRecording := s.recordEvents(loop, registry, tally, attempt)
	defer stopRecording()

	conversation := []Message{
		{Role: RoleSystem, Text: coordinationSystemPrompt(s.cfg, restartReason)},
		{Role: RoleUser, Text: question},
	}
	outcome := loop.Run(ctx, conversation, coordinationTools(), params)
	if s.recorder != nil {
		if err := s.recorder.RecordOutcome(s.id, attempt, outcome); err != nil {
			log.Printf("component=orchestrator.session action=record_outcome_failed session_id=%s err=%v", s.id, err)
		}
	}
	return outcome, attemptState{registry: registry, tally: tally, workspace: workspace}
}

// recordEvents forwards answer/vote events from the loop to the configured
// EventRecorder, returning a stop function that drains the subscription.
func (s *Session) recordEvents(loop *CoordinationLoop, registry *AnswerRegistry, tally *VoteTally, attempt int) func() {
	if s.recorder == nil {
		return func() {}
	}
	ch := loop.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range ch {
			switch evt.Kind {
			case LoopEventAnswerRegistered:
				if a, ok := registry.Get(evt.Label); ok {
					if err := s.recorder.RecordAnswer(s.id, attempt, a); err != nil {
						log.Printf("component=orchestrator.session action=record_answer_failed session_id=%s err=%v", s.id, err)
					}
				}
			case LoopEventVoteCast:
				if v, ok := tally.VoteOf(evt.AgentId); ok {
					if err := s.recorder.RecordVote(s.id, attempt, v); err != nil {
						log.Printf("component=orchestrator.session action=record_vote_failed session_id=%s err=%v", s.id, err)
					}
				}
			}
		}
	}()
	return func() {
		loop.broadcast.Unsubscribe(ch)
		<-done
	}
}

// backendFor returns the configured backend for agentId.
func (s *Session) backendFor(agentId AgentId) Backend {
	for _, a := range s.cfg.Agents {
		if a.ID == agentId {
			return a.Backend
		}
	}
	return nil
}

// writeFinalAnswer persists the presented answer as markdown and rendered
// HTML alongside status.json.
func (s *Session) writeFinalAnswer(text string, result *SessionResult) {
	if text == "" {
		return
	}
	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		log.Printf("component=orchestrator.session action=write_final_answer_failed session_id=%s err=%v", s.id, err)
		return
	}
	if err := os.WriteFile(filepath.Join(s.logDir, "final_answer.md"), []byte(text), 0o644); err != nil {
		log.Printf("component=orchestrator.session action=write_final_answer_failed session_id=%s err=%v", s.id, err)
	}
	html, err := RenderAnswerHTML(text)
	if err != nil {
		log.Printf("component=orchestrator.session action=render_final_answer_failed session_id=%s err=%v", s.id, err)
		return
	}
	result.FinalHTML = html
	if err := os.WriteFile(filepath.Join(s.logDir, "final_answer.html"), []byte(html), 0o644); err != nil {
		log.Printf("component=orchestrator.session action=write_final_answer_failed session_id=%s err=%v", s.id, err)
	}
}
