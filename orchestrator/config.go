// ABOUTME: Typed configuration surface consumed by the orchestrator core, loaded from YAML by cmd/quorum.
// ABOUTME: Ships validated defaults alongside duration/cap accessors the loop and session consume.
package orchestrator

import (
	"time"
)

// VotingSensitivity only changes the system instruction shown to agents
// about how picky to be when voting; the loop does not enforce it beyond
// text.
type VotingSensitivity string

const (
	SensitivityLenient  VotingSensitivity = "lenient"
	SensitivityBalanced VotingSensitivity = "balanced"
	SensitivityStrict   VotingSensitivity = "strict"
)

// NoveltyRequirement selects the token-overlap threshold enforced by
// AnswerRegistry.Submit.
type NoveltyRequirement string

const (
	NoveltyLenient  NoveltyRequirement = "lenient"  // off
	NoveltyBalanced NoveltyRequirement = "balanced" // <= 0.70
	NoveltyStrict   NoveltyRequirement = "strict"   // <= 0.50
)

// Threshold returns the maximum allowed token overlap, or false if novelty
// checking is disabled under this requirement.
func (n NoveltyRequirement) Threshold() (float64, bool) {
	switch n {
	case NoveltyBalanced:
		return 0.70, true
	case NoveltyStrict:
		return 0.50, true
	default:
		return 0, false
	}
}

// AgentConfig identifies one configured participant. Provider and Model are
// opaque to the core; cmd/quorum uses them to construct the Backend handle.
type AgentConfig struct {
	ID       AgentId `yaml:"id"`
	Provider string  `yaml:"provider"`
	Model    string  `yaml:"model"`
	Backend  Backend `yaml:"-"`
}

// Config is the configuration surface the orchestrator core consumes.
type Config struct {
	Agents []AgentConfig `yaml:"agents"`

	VotingSensitivity        VotingSensitivity  `yaml:"voting_sensitivity"`
	MaxNewAnswersPerAgent    int                `yaml:"max_new_answers_per_agent"` // 0 = unbounded
	AnswerNoveltyRequirement NoveltyRequirement `yaml:"answer_novelty_requirement"`

	OrchestratorTimeoutSeconds    float64 `yaml:"orchestrator_timeout_seconds"`
	InitialRoundTimeoutSeconds    float64 `yaml:"initial_round_timeout_seconds"`
	SubsequentRoundTimeoutSeconds float64 `yaml:"subsequent_round_timeout_seconds"`
	RoundTimeoutGraceSeconds      float64 `yaml:"round_timeout_grace_seconds"`

	MaxOrchestrationRestarts int `yaml:"max_orchestration_restarts"`
}

// DefaultConfig returns sensible defaults for an interactive session:
// balanced voting and novelty, a ten-minute global budget, and no
// orchestration restarts.
func DefaultConfig() Config {
	return Config{
		VotingSensitivity:             SensitivityBalanced,
		MaxNewAnswersPerAgent:         0,
		AnswerNoveltyRequirement:      NoveltyBalanced,
		OrchestratorTimeoutSeconds:    600,
		InitialRoundTimeoutSeconds:    120,
		SubsequentRoundTimeoutSeconds: 90,
		RoundTimeoutGraceSeconds:      15,
		MaxOrchestrationRestarts:      0,
	}
}

// Validate checks the configuration for internally-consistent values. It
// does not require Agents to be populated; callers that need at least one
// agent should check len(cfg.Agents) themselves against ErrNoAgentsConfigured.
func (c Config) Validate() error {
	switch c.VotingSensitivity {
	case SensitivityLenient, SensitivityBalanced, SensitivityStrict, "":
	default:
		return NewConfigError("voting_sensitivity", "must be lenient, balanced, or strict")
	}
	switch c.AnswerNoveltyRequirement {
	case NoveltyLenient, NoveltyBalanced, NoveltyStrict, "":
	default:
		return NewConfigError("answer_novelty_requirement", "must be lenient, balanced, or strict")
	}
	if c.MaxNewAnswersPerAgent < 0 {
		return NewConfigError("max_new_answers_per_agent", "must be >= 0")
	}
	if c.MaxOrchestrationRestarts < 0 {
		return NewConfigError("max_orchestration_restarts", "must be >= 0")
	}
	if c.OrchestratorTimeoutSeconds < 0 || c.InitialRoundTimeoutSeconds < 0 ||
		c.SubsequentRoundTimeoutSeconds < 0 || c.RoundTimeoutGraceSeconds < 0 {
		return NewConfigError("timeouts", "must be >= 0")
	}
	return nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// GraceDuration returns the configured grace period as a time.Duration.
func (c Config) GraceDuration() time.Duration { return seconds(c.RoundTimeoutGraceSeconds) }

// GlobalDuration returns the configured orchestrator-wide timeout, or zero if
// disabled (OrchestratorTimeoutSeconds == 0).
func (c Config) GlobalDuration() time.Duration { return seconds(c.OrchestratorTimeoutSeconds) }

// InitialRoundDuration returns the configured initial-round soft timeout, or
// zero if disabled.
func (c Config) InitialRoundDuration() time.Duration { return seconds(c.InitialRoundTimeoutSeconds) }

// SubsequentRoundDuration returns the configured subsequent-round soft
// timeout, or zero if disabled.
func (c Config) SubsequentRoundDuration() time.Duration {
	return seconds(c.SubsequentRoundTimeoutSeconds)
}

// MaxAnswersPerAgent returns the configured cap, treating 0 as unbounded.
func (c Config) MaxAnswersPerAgent() (cap int, unbounded bool) {
	if c.MaxNewAnswersPerAgent == 0 {
		return 0, true
	}
	return c.MaxNewAnswersPerAgent, false
}

// votingSensitivityPrompt renders the system-instruction text that tells
// agents how picky to be about voting versus submitting.
func votingSensitivityPrompt(s VotingSensitivity) string {
	switch s {
	case SensitivityStrict:
		return "Only vote for an existing answer if it is already excellent; otherwise submit a meaningfully better one."
	case SensitivityLenient:
		return "Prefer voting for an existing answer that adequately addresses the task; avoid redundant submissions."
	default:
		return "Vote for an existing answer if it is good; submit a new one only if you can meaningfully improve on all existing answers."
	}
}
