// ABOUTME: PresentationStage — re-runs the elected winner to stream the final answer to the output sink.
// ABOUTME: Also runs the optional post-evaluation self-audit that can request a bounded orchestration restart.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
)

// StreamSink receives content/reasoning chunks tagged with the producing
// agent and the coordination phase. UI renderers implement this; the core
// never formats output itself.
type StreamSink interface {
	OnChunk(agentId AgentId, phase CoordinationPhase, kind ChunkKind, text string)
}

// SinkFunc adapts a plain function to StreamSink.
type SinkFunc func(agentId AgentId, phase CoordinationPhase, kind ChunkKind, text string)

func (f SinkFunc) OnChunk(agentId AgentId, phase CoordinationPhase, kind ChunkKind, text string) {
	f(agentId, phase, kind, text)
}

// NopSink discards every chunk.
var NopSink = SinkFunc(func(AgentId, CoordinationPhase, ChunkKind, string) {})

// PresentationResult is the outcome of one presentation pass.
type PresentationResult struct {
	FinalText        string
	WithoutWorkspace bool // winner's snapshot was empty or unreadable
}

// PresentationStage runs the elected winner in a dedicated mode: fresh
// presentation prompt, terminal tools stripped, content streamed to the
// sink.
type PresentationStage struct {
	workspace *WorkspaceManager
	sink      StreamSink
}

// NewPresentationStage wires the stage to the session's WorkspaceManager and
// output sink. A nil sink is replaced with NopSink.
func NewPresentationStage(workspace *WorkspaceManager, sink StreamSink) *PresentationStage {
	if sink == nil {
		sink = NopSink
	}
	return &PresentationStage{workspace: workspace, sink: sink}
}

// Present streams the winner's final answer and publishes its workspace.
// The backend is offered no tools at all: vote/new_answer are stripped in
// this phase, and non-terminal tools have no place in a pure text rendering.
func (ps *PresentationStage) Present(ctx context.Context, backend Backend, question string, winner Answer, answers []Answer, votes []Vote, params Params) (PresentationResult, error) {
	conversation := presentationPrompt(question, winner, answers, votes)

	stream, err := backend.Stream(ctx, conversation, nil, params)
	if err != nil {
		return PresentationResult{}, fmt.Errorf("starting presentation stream: %w", err)
	}

	var final strings.Builder
	for {
		select {
		case <-ctx.Done():
			backend.Cancel()
			return PresentationResult{FinalText: final.String()}, ctx.Err()

		case chunk, ok := <-stream:
			if !ok {
				return ps.finish(winner, final.String()), nil
			}
			switch chunk.Kind {
			case ChunkContent:
				final.WriteString(chunk.Text)
				ps.sink.OnChunk(winner.AgentId, PhasePresentation, ChunkContent, chunk.Text)
			case ChunkReasoning:
				ps.sink.OnChunk(winner.AgentId, PhasePresentation, ChunkReasoning, chunk.Text)
			case ChunkDone:
				if chunk.DoneReason == DoneError && chunk.Err != nil {
					return PresentationResult{FinalText: final.String()}, chunk.Err
				}
				return ps.finish(winner, final.String()), nil
			}
		}
	}
}

// finish publishes the winner's workspace and degrades to
// presentation-without-workspace when the winner has no snapshot content,
// warning the sink.
func (ps *PresentationStage) finish(winner Answer, finalText string) PresentationResult {
	result := PresentationResult{FinalText: finalText}
	if ps.workspace != nil {
		ps.workspace.PromoteWinner(winner.AgentId)
		if ps.workspace.FinalWorkspaceDir() == "" && winner.WorkspaceSnapshotId != EmptySnapshotId {
			result.WithoutWorkspace = true
			ps.sink.OnChunk(winner.AgentId, PhasePresentation, ChunkContent, "\n[warning: winning workspace unavailable; answer text only]\n")
		}
	}
	return result
}

// Evaluate runs the winner's post-presentation self-audit. The only tool
// offered is restart(reason); calling it requests a full orchestration
// restart, ending the turn any other way accepts the presented answer.
func (ps *PresentationStage) Evaluate(ctx context.Context, backend Backend, question, finalText string, params Params) (restart bool, reason string, err error) {
	conversation := evaluationPrompt(question, finalText)

	stream, err := backend.Stream(ctx, conversation, restartTool(), params)
	if err != nil {
		return false, "", fmt.Errorf("starting evaluation stream: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			backend.Cancel()
			return false, "", ctx.Err()

		case chunk, ok := <-stream:
			if !ok {
				return false, "", nil
			}
			switch chunk.Kind {
			case ChunkToolCall:
				if chunk.ToolCall != nil && chunk.ToolCall.Name == "restart" {
					r, _ := chunk.ToolCall.Args["reason"].(string)
					return true, r, nil
				}
			case ChunkDone:
				if chunk.DoneReason == DoneError && chunk.Err != nil {
					return false, "", chunk.Err
				}
				return false, "", nil
			}
		}
	}
}

// RenderAnswerHTML converts the final answer's markdown to HTML for sinks
// that want rendered output next to the raw text.
func RenderAnswerHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering answer markdown: %w", err)
	}
	return buf.String(), nil
}
