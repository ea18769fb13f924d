// ABOUTME: Core data model for the orchestrator: agents, answers, votes, deadlines, and their lifecycle states.
// ABOUTME: Plain value types plus the small sum types that replace dynamic dict shapes at every boundary.
package orchestrator

import "time"

// AgentId is an opaque, run-unique identifier for one participating agent.
type AgentId string

// AnswerLabel identifies a registered Answer as "{agentId}.{seq}".
type AnswerLabel string

// AgentStatus is the lifecycle state of one agent within the current attempt.
type AgentStatus string

const (
	StatusWaiting    AgentStatus = "waiting"
	StatusStreaming  AgentStatus = "streaming"
	StatusAnswered   AgentStatus = "answered"
	StatusVoted      AgentStatus = "voted"
	StatusRestarting AgentStatus = "restarting"
	StatusError      AgentStatus = "error"
	StatusTimeout    AgentStatus = "timeout"
	StatusCompleted  AgentStatus = "completed"
)

// CoordinationPhase is the top-level phase of a single attempt.
type CoordinationPhase string

const (
	PhaseInitialAnswer CoordinationPhase = "initial_answer"
	PhaseEnforcement   CoordinationPhase = "enforcement"
	PhasePresentation  CoordinationPhase = "presentation"
)

// RoundKind distinguishes an agent's first round from any round after it has
// already produced an answer or cast a vote at least once.
type RoundKind string

const (
	RoundInitial    RoundKind = "initial"
	RoundSubsequent RoundKind = "subsequent"
)

// SnapshotId is a content-addressed identifier of a workspace directory.
type SnapshotId string

// EmptySnapshotId marks a snapshot that was never given real content.
const EmptySnapshotId SnapshotId = ""

// Deadline pairs a soft advisory deadline with the hard deadline that follows
// it by a fixed grace period. SoftAt never exceeds HardAt.
type Deadline struct {
	SoftAt time.Time
	HardAt time.Time
}

// NewDeadline builds a Deadline starting now with the given soft duration and
// grace period. A zero soft duration means the soft/hard deadline feature is
// disabled for this round (IsZero reports true).
func NewDeadline(now time.Time, soft, grace time.Duration) Deadline {
	if soft <= 0 {
		return Deadline{}
	}
	softAt := now.Add(soft)
	return Deadline{SoftAt: softAt, HardAt: softAt.Add(grace)}
}

// IsZero reports whether this deadline represents "no timeout configured".
func (d Deadline) IsZero() bool {
	return d.SoftAt.IsZero() && d.HardAt.IsZero()
}

// Remaining returns the duration until the soft deadline, as of now.
func (d Deadline) Remaining(now time.Time) time.Duration {
	if d.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return d.SoftAt.Sub(now)
}

// Answer is an immutable, labeled candidate response submitted by one agent.
type Answer struct {
	Label               AnswerLabel
	AgentId             AgentId
	Text                string
	WorkspaceSnapshotId SnapshotId
	SubmittedAt         time.Time
	Attempt             int
}

// Vote records one agent's current choice of winning label.
type Vote struct {
	VoterId     AgentId
	TargetLabel AnswerLabel
	Reason      string
	CastAt      time.Time
}

// AgentState is the orchestrator's view of a single agent's progress within
// the current attempt.
type AgentState struct {
	Status            AgentStatus
	AnswerCount       int
	LatestAnswerLabel AnswerLabel
	VoteCast          *Vote
	TimesRestarted    int
	LastActivity      time.Time
	Error             string
}

// AgentResult is the terminal outcome of a single AgentRunner.run call.
type AgentResult struct {
	Kind   AgentResultKind
	Label  AnswerLabel // set for Answered
	Target AnswerLabel // set for Voted
	Reason string      // set for NoProgress/Errored
	Err    error       // set for Errored
}

// AgentResultKind discriminates the AgentResult sum type.
type AgentResultKind string

const (
	ResultAnswered   AgentResultKind = "answered"
	ResultVoted      AgentResultKind = "voted"
	ResultNoProgress AgentResultKind = "no_progress"
	ResultErrored    AgentResultKind = "errored"
	ResultTimedOut   AgentResultKind = "timed_out"
)

// SubmissionOutcome is the result of AnswerRegistry.Submit.
type SubmissionOutcome struct {
	Accepted      bool
	Label         AnswerLabel
	Reason        string // "cap_exceeded" | "insufficient_novelty"
	ConflictLabel AnswerLabel
}

// VoteOutcome is the result of VoteTally.CastOrReplace.
type VoteOutcome struct {
	Accepted bool
	Reason   string // "unknown_label"
}

// Outcome is the structured, terminal result of a whole coordination session.
type Outcome struct {
	Kind   OutcomeKind
	Winner AgentId
	Label  AnswerLabel
	Reason string
}

// OutcomeKind discriminates the session-level Outcome sum type.
type OutcomeKind string

const (
	OutcomeElectedWinner OutcomeKind = "elected_winner"
	OutcomeNoAnswer      OutcomeKind = "no_answer"
	OutcomeGlobalTimeout OutcomeKind = "global_timeout"
)
