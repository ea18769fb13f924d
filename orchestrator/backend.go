// ABOUTME: Backend adapter and tool-gate interfaces consumed by AgentRunner.
// ABOUTME: ChunkKind is an explicit tagged union over the streaming events a backend can emit.
package orchestrator

import "context"

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the conversation an AgentRunner sends to its
// Backend. It is deliberately minimal: the core does not need rich content
// parts, only enough text to drive coordination.
type Message struct {
	Role Role
	Text string
}

// ToolSpec describes one tool the backend may call during a stream.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Params carries per-call generation parameters (model id, token budget,
// etc.) opaque to the orchestrator core beyond passthrough.
type Params struct {
	Model     string
	MaxTokens int
}

// ChunkKind discriminates the tagged union of streaming events a Backend
// emits, replacing the source's dynamic/duck-typed stream chunk shape.
type ChunkKind string

const (
	ChunkContent    ChunkKind = "content"
	ChunkReasoning  ChunkKind = "reasoning"
	ChunkToolCall   ChunkKind = "tool_call"
	ChunkToolResult ChunkKind = "tool_result"
	ChunkUsage      ChunkKind = "usage"
	ChunkDone       ChunkKind = "done"
)

// DoneReason discriminates why a stream ended when it did not end via a
// terminal tool call.
type DoneReason string

const (
	DoneLength    DoneReason = "length"
	DoneStop      DoneReason = "stop"
	DoneCancelled DoneReason = "cancelled"
	DoneError     DoneReason = "error"
)

// ToolCallChunk carries one model-initiated tool invocation.
type ToolCallChunk struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResultChunk carries the result of a tool the runner executed and fed
// back to the backend.
type ToolResultChunk struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Usage carries token accounting for one stream.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Chunk is a single streamed event from a Backend. Kind determines which
// field is meaningful, mirroring llm.StreamEvent's tagged-union shape.
type Chunk struct {
	Kind       ChunkKind
	Text       string
	ToolCall   *ToolCallChunk
	ToolResult *ToolResultChunk
	Usage      *Usage
	DoneReason DoneReason
	Err        error
}

// Backend is the out-of-scope LLM adapter interface AgentRunner consumes.
// Concrete implementations live outside the core (backend_llm.go in this
// module wraps llm.Client).
type Backend interface {
	// Stream starts a streaming completion over conversation with the given
	// tools and params, returning a channel of Chunks. The channel closes
	// after a ChunkDone (or an error is delivered via Chunk.Err).
	Stream(ctx context.Context, conversation []Message, tools []ToolSpec, params Params) (<-chan Chunk, error)

	// InjectSystemTurn appends a synthetic system-role turn to the
	// currently-building conversation, effective at the next model turn
	// boundary.
	InjectSystemTurn(text string)

	// Cancel aborts the in-flight stream, if any.
	Cancel()

	// ReportContextLengthError signals that a compression retry is allowed
	// for the current stream; returns false if no such retry budget
	// remains.
	ReportContextLengthError() bool
}

// GateDecision is the result of a ToolGate check.
type GateDecision struct {
	Allowed bool
	Message string
}

// Allow builds an allowing decision.
func Allow() GateDecision { return GateDecision{Allowed: true} }

// BlockWithMessage builds a blocking decision carrying text explaining why.
func BlockWithMessage(text string) GateDecision { return GateDecision{Allowed: false, Message: text} }

// ToolGate is consulted by AgentRunner before forwarding a non-terminal tool
// call; after an agent's hard deadline elapses, only vote/new_answer pass.
type ToolGate interface {
	Allow(toolName string, agentId AgentId) GateDecision
}

// terminalTools names the two tools that always pass the gate and resolve a
// runner's round.
var terminalTools = map[string]bool{"vote": true, "new_answer": true}

// IsTerminalTool reports whether name is one of the two terminal tools.
func IsTerminalTool(name string) bool { return terminalTools[name] }

// hardDeadlineGate implements ToolGate by consulting a TimeoutController.
type hardDeadlineGate struct {
	controller *TimeoutController
}

// NewHardDeadlineGate builds the standard production ToolGate: every
// non-terminal tool is blocked once the agent's hard deadline has elapsed.
func NewHardDeadlineGate(tc *TimeoutController) ToolGate {
	return &hardDeadlineGate{controller: tc}
}

func (g *hardDeadlineGate) Allow(toolName string, agentId AgentId) GateDecision {
	if IsTerminalTool(toolName) {
		return Allow()
	}
	if g.controller.HardElapsedFor(agentId) {
		return BlockWithMessage("round deadline has passed; submit an answer or vote now")
	}
	return Allow()
}
