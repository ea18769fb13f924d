// ABOUTME: Prompt construction for coordination, presentation, and post-evaluation turns.
// ABOUTME: All system-message text agents see during a session is built here, in one place.
package orchestrator

import (
	"fmt"
	"strings"
)

// coordinationSystemPrompt renders the seed system instruction for one
// coordination round, folding in the configured voting sensitivity and any
// restart reason carried over from a prior attempt's post-evaluation.
func coordinationSystemPrompt(cfg Config, restartReason string) string {
	var b strings.Builder
	b.WriteString("You are one of several agents working the same task in parallel. ")
	b.WriteString("When you are done, call exactly one of the two terminal tools: ")
	b.WriteString("new_answer(text) to submit a candidate answer, or vote(target, reason) to endorse an existing answer by its label. ")
	b.WriteString(votingSensitivityPrompt(cfg.VotingSensitivity))
	if restartReason != "" {
		b.WriteString("\n\nA previous attempt at this task was restarted: ")
		b.WriteString(restartReason)
	}
	return b.String()
}

// answerContextMessage renders every registered answer into a single system
// turn, used to seed subsequent rounds and restarts. ok is false when there
// are no answers to show.
func answerContextMessage(answers []Answer) (Message, bool) {
	if len(answers) == 0 {
		return Message{}, false
	}
	var b strings.Builder
	b.WriteString("Answers submitted so far:\n")
	for _, a := range answers {
		fmt.Fprintf(&b, "\n[%s] (by agent %s)\n%s\n", a.Label, a.AgentId, a.Text)
	}
	b.WriteString("\nYou may vote for any of these labels, or submit a meaningfully different answer.")
	return Message{Role: RoleSystem, Text: b.String()}, true
}

// presentationPrompt renders the dedicated final-presentation conversation
// for the elected winner: the winning answer, the full candidate set, and the
// vote record, with the terminal tools stripped by the caller.
func presentationPrompt(question string, winner Answer, answers []Answer, votes []Vote) []Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Your answer %s was elected as the winning response to the task below. ", winner.Label)
	b.WriteString("Present the final answer to the user: complete, self-contained, and polished. ")
	b.WriteString("Do not mention the voting process.\n\nTask:\n")
	b.WriteString(question)
	b.WriteString("\n\nYour winning answer:\n")
	b.WriteString(winner.Text)

	if len(answers) > 1 {
		b.WriteString("\n\nOther candidate answers, for context:\n")
		for _, a := range answers {
			if a.Label == winner.Label {
				continue
			}
			fmt.Fprintf(&b, "\n[%s]\n%s\n", a.Label, a.Text)
		}
	}
	if len(votes) > 0 {
		b.WriteString("\nVotes cast:\n")
		for _, v := range votes {
			fmt.Fprintf(&b, "- %s voted for %s: %s\n", v.VoterId, v.TargetLabel, v.Reason)
		}
	}

	return []Message{
		{Role: RoleSystem, Text: "Present the elected final answer. The new_answer and vote tools are unavailable in this phase."},
		{Role: RoleUser, Text: b.String()},
	}
}

// evaluationPrompt renders the winner's post-presentation self-audit turn.
// The backend may call restart(reason) to discard this attempt and re-run the
// whole coordination, or end its turn to accept the presented answer.
func evaluationPrompt(question, finalText string) []Message {
	var b strings.Builder
	b.WriteString("Audit the final answer you just presented against the original task. ")
	b.WriteString("If it has a substantive gap that a fresh coordination attempt could close, call restart(reason). ")
	b.WriteString("Otherwise end your turn without calling any tool.\n\nTask:\n")
	b.WriteString(question)
	b.WriteString("\n\nPresented answer:\n")
	b.WriteString(finalText)
	return []Message{
		{Role: RoleSystem, Text: "You are auditing your own final answer. The only tool available is restart(reason)."},
		{Role: RoleUser, Text: b.String()},
	}
}

// coordinationTools returns the terminal tool specs offered to agents during
// coordination rounds. Non-terminal tools come from the external tool
// substrate and are appended by the caller.
func coordinationTools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        "new_answer",
			Description: "Submit your candidate answer to the task.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string", "description": "The full answer text."},
				},
				"required": []string{"text"},
			},
		},
		{
			Name:        "vote",
			Description: "Vote for an existing answer by its label.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target": map[string]any{"type": "string", "description": "Label of the answer to endorse, e.g. \"a.1\"."},
					"reason": map[string]any{"type": "string", "description": "One sentence on why this answer should win."},
				},
				"required": []string{"target", "reason"},
			},
		},
	}
}

// restartTool is the single tool offered during post-evaluation.
func restartTool() []ToolSpec {
	return []ToolSpec{
		{
			Name:        "restart",
			Description: "Discard this attempt and re-run the whole coordination with a carried-over reason.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{"type": "string", "description": "What the final answer missed."},
				},
				"required": []string{"reason"},
			},
		},
	}
}
