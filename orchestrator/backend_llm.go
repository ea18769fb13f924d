// ABOUTME: Concrete Backend implementation over llm.Client, translating StreamEvents into orchestrator Chunks.
// ABOUTME: Injected system turns queue here and take effect at the next stream start (the next model turn boundary).
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/2389-research/quorum/llm"
)

// LLMBackend adapts one provider/model pair from the llm SDK to the
// orchestrator's Backend interface. One instance serves one agent.
type LLMBackend struct {
	client   *llm.Client
	provider string
	model    string

	mu            sync.Mutex
	pendingSystem []string
	cancel        context.CancelFunc
	compressUsed  bool
	compressNext  bool
}

var _ Backend = (*LLMBackend)(nil)

// NewLLMBackend builds a backend streaming through client against the given
// provider and model.
func NewLLMBackend(client *llm.Client, provider, model string) *LLMBackend {
	return &LLMBackend{client: client, provider: provider, model: model}
}

// Stream starts one streaming completion. Queued injected system turns are
// folded into the conversation here, then cleared.
func (b *LLMBackend) Stream(ctx context.Context, conversation []Message, tools []ToolSpec, params Params) (<-chan Chunk, error) {
	b.mu.Lock()
	pending := b.pendingSystem
	b.pendingSystem = nil
	compress := b.compressNext
	b.compressNext = false
	b.mu.Unlock()

	messages := convertConversation(conversation, pending)
	if compress {
		messages = compressMessages(messages)
	}

	req := llm.Request{
		Model:    b.model,
		Provider: b.provider,
		Messages: messages,
		Tools:    convertToolSpecs(tools),
	}
	if params.Model != "" {
		req.Model = params.Model
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = &params.MaxTokens
	}

	streamCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	events, err := b.client.Stream(streamCtx, req)
	if err != nil {
		cancel()
		return nil, classifyBackendError(err)
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer cancel()

		// emit drops chunks once the stream is cancelled so an abandoned
		// reader (the runner re-streaming after a rejection) never strands
		// this goroutine on a full channel.
		emit := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-streamCtx.Done():
				return false
			}
		}

		for evt := range events {
			switch evt.Type {
			case llm.StreamTextDelta:
				if !emit(Chunk{Kind: ChunkContent, Text: evt.Delta}) {
					return
				}

			case llm.StreamReasonDelta:
				if !emit(Chunk{Kind: ChunkReasoning, Text: evt.ReasoningDelta}) {
					return
				}

			case llm.StreamToolEnd:
				if evt.ToolCall == nil {
					continue
				}
				args := map[string]any{}
				if len(evt.ToolCall.Arguments) > 0 {
					_ = json.Unmarshal(evt.ToolCall.Arguments, &args)
				}
				if !emit(Chunk{Kind: ChunkToolCall, ToolCall: &ToolCallChunk{
					ID:   evt.ToolCall.ID,
					Name: evt.ToolCall.Name,
					Args: args,
				}}) {
					return
				}

			case llm.StreamFinish:
				if evt.Usage != nil {
					if !emit(Chunk{Kind: ChunkUsage, Usage: &Usage{
						InputTokens:  evt.Usage.InputTokens,
						OutputTokens: evt.Usage.OutputTokens,
					}}) {
						return
					}
				}
				emit(Chunk{Kind: ChunkDone, DoneReason: mapFinishReason(evt.FinishReason)})
				return

			case llm.StreamErrorEvt:
				err := evt.Error
				if err == nil {
					err = errors.New("stream error with no detail")
				}
				if streamCtx.Err() != nil {
					emit(Chunk{Kind: ChunkDone, DoneReason: DoneCancelled})
					return
				}
				emit(Chunk{Kind: ChunkDone, DoneReason: DoneError, Err: classifyBackendError(err)})
				return
			}
		}
		// Channel closed without a finish event: treat as a clean stop.
		emit(Chunk{Kind: ChunkDone, DoneReason: DoneStop})
	}()
	return out, nil
}

// InjectSystemTurn queues a synthetic system turn; it takes effect on the
// next Stream call, which is the next model turn boundary for this adapter.
func (b *LLMBackend) InjectSystemTurn(text string) {
	b.mu.Lock()
	b.pendingSystem = append(b.pendingSystem, text)
	b.mu.Unlock()
}

// Cancel aborts the in-flight stream, if any.
func (b *LLMBackend) Cancel() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ReportContextLengthError grants exactly one compression retry per backend
// lifetime: the next Stream call drops mid-conversation turns.
func (b *LLMBackend) ReportContextLengthError() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.compressUsed {
		return false
	}
	b.compressUsed = true
	b.compressNext = true
	return true
}

// convertConversation maps orchestrator Messages (plus queued injections,
// appended as trailing system turns) into llm Messages.
func convertConversation(conversation []Message, pending []string) []llm.Message {
	out := make([]llm.Message, 0, len(conversation)+len(pending))
	for _, m := range conversation {
		switch m.Role {
		case RoleSystem:
			out = append(out, llm.SystemMessage(m.Text))
		case RoleAssistant:
			out = append(out, llm.AssistantMessage(m.Text))
		default:
			out = append(out, llm.UserMessage(m.Text))
		}
	}
	for _, text := range pending {
		out = append(out, llm.SystemMessage(text))
	}
	return out
}

// convertToolSpecs maps ToolSpecs to llm tool definitions.
func convertToolSpecs(tools []ToolSpec) []llm.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	out := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		schema, err := json.Marshal(t.Schema)
		if err != nil {
			schema = []byte(`{"type":"object"}`)
		}
		out = append(out, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		})
	}
	return out
}

// compressMessages keeps the conversation's head (system + task) and tail,
// replacing the middle with a single marker turn.
func compressMessages(messages []llm.Message) []llm.Message {
	const keepHead, keepTail = 2, 3
	if len(messages) <= keepHead+keepTail+1 {
		return messages
	}
	dropped := len(messages) - keepHead - keepTail
	out := make([]llm.Message, 0, keepHead+keepTail+1)
	out = append(out, messages[:keepHead]...)
	out = append(out, llm.SystemMessage(fmt.Sprintf("[%d earlier turns elided to fit the context window]", dropped)))
	out = append(out, messages[len(messages)-keepTail:]...)
	return out
}

// mapFinishReason translates the llm SDK's unified finish reason into the
// orchestrator's DoneReason vocabulary.
func mapFinishReason(fr *llm.FinishReason) DoneReason {
	if fr == nil {
		return DoneStop
	}
	switch fr.Reason {
	case llm.FinishLength:
		return DoneLength
	case llm.FinishError:
		return DoneError
	default:
		return DoneStop
	}
}

// classifyBackendError wraps llm SDK errors into the orchestrator's error
// taxonomy: context-length failures allow a compression retry, retryable
// provider failures become TransientBackendError, the rest pass through.
func classifyBackendError(err error) error {
	var cle *llm.ContextLengthError
	if errors.As(err, &cle) {
		return NewContextLengthError(err)
	}
	type retryable interface{ IsRetryable() bool }
	var r retryable
	if errors.As(err, &r) && r.IsRetryable() {
		return NewTransientBackendError(err)
	}
	return err
}
