// ABOUTME: StatusSnapshotter — periodic atomic status.json writer, the only contract for external monitors.
// ABOUTME: Temp-file + rename write idiom; reads loop/tally state read-only on a 2s ticker and once at completion.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// StatusDocument is the on-disk schema of status.json.
type StatusDocument struct {
	Meta         StatusMeta             `json:"meta"`
	Coordination StatusCoordination     `json:"coordination"`
	Agents       map[string]StatusAgent `json:"agents"`
	Results      StatusResults          `json:"results"`
}

// StatusMeta carries session identity and elapsed wall time.
type StatusMeta struct {
	SessionID      string  `json:"session_id"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// StatusCoordination describes the loop's top-level position.
type StatusCoordination struct {
	Phase               string `json:"phase"`
	ActiveAgent         string `json:"active_agent"`
	IsFinalPresentation bool   `json:"is_final_presentation"`
}

// StatusAgent is the per-agent status subset exposed to monitors.
type StatusAgent struct {
	Status            string `json:"status"`
	AnswerCount       int    `json:"answer_count"`
	LatestAnswerLabel string `json:"latest_answer_label,omitempty"`
	VotedFor          string `json:"voted_for,omitempty"`
	TimesRestarted    int    `json:"times_restarted,omitempty"`
	Error             string `json:"error,omitempty"`
}

// StatusResults carries the tally and (when reached) the winner.
type StatusResults struct {
	VoteCounts         map[string]int `json:"vote_counts"`
	Winner             *string        `json:"winner"`
	FinalAnswerPreview string         `json:"final_answer_preview,omitempty"`
}

// finalAnswerPreviewLimit bounds the preview embedded in status.json.
const finalAnswerPreviewLimit = 200

// StatusSnapshotter observes a CoordinationLoop and VoteTally read-only and
// writes an atomic status.json every interval, plus once at completion.
type StatusSnapshotter struct {
	path      string
	sessionID string
	interval  time.Duration
	startedAt time.Time

	mu                sync.Mutex
	loop              *CoordinationLoop
	tally             *VoteTally
	winner            *Outcome
	finalAnswer       string
	finalPresentation bool

	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

// NewStatusSnapshotter builds a snapshotter writing to path. A non-positive
// interval defaults to 2 seconds.
func NewStatusSnapshotter(path, sessionID string, interval time.Duration) *StatusSnapshotter {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &StatusSnapshotter{
		path:      path,
		sessionID: sessionID,
		interval:  interval,
		startedAt: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Observe points the snapshotter at the current attempt's loop and tally.
// Called again on orchestration restart, when both are rebuilt.
func (s *StatusSnapshotter) Observe(loop *CoordinationLoop, tally *VoteTally) {
	s.mu.Lock()
	s.loop = loop
	s.tally = tally
	s.mu.Unlock()
}

// SetOutcome records the session's terminal outcome for the final snapshot.
func (s *StatusSnapshotter) SetOutcome(o Outcome) {
	s.mu.Lock()
	s.winner = &o
	s.mu.Unlock()
}

// SetFinalAnswer records the presented answer text; only the first 200 chars
// appear in status.json.
func (s *StatusSnapshotter) SetFinalAnswer(text string) {
	s.mu.Lock()
	s.finalAnswer = text
	s.mu.Unlock()
}

// SetFinalPresentation marks that the winner's presentation stream is (or
// was) running.
func (s *StatusSnapshotter) SetFinalPresentation(v bool) {
	s.mu.Lock()
	s.finalPresentation = v
	s.mu.Unlock()
}

// Start launches the background ticker. Stop flushes one final snapshot and
// waits for the ticker goroutine to exit.
func (s *StatusSnapshotter) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				_ = s.WriteNow()
			}
		}
	}()
}

// Stop halts the ticker and writes the final snapshot (the final flush is the
// bounded ε after the global deadline).
func (s *StatusSnapshotter) Stop() {
	close(s.stop)
	<-s.done
	_ = s.WriteNow()
}

// WriteNow builds and atomically writes one snapshot.
func (s *StatusSnapshotter) WriteNow() error {
	doc := s.build()
	return writeJSONAtomic(s.path, doc)
}

func (s *StatusSnapshotter) build() StatusDocument {
	s.mu.Lock()
	loop := s.loop
	tally := s.tally
	winner := s.winner
	finalAnswer := s.finalAnswer
	finalPresentation := s.finalPresentation
	s.mu.Unlock()

	doc := StatusDocument{
		Meta: StatusMeta{
			SessionID:      s.sessionID,
			ElapsedSeconds: s.now().Sub(s.startedAt).Seconds(),
		},
		Agents: map[string]StatusAgent{},
		Results: StatusResults{
			VoteCounts: map[string]int{},
		},
	}

	if loop != nil {
		doc.Coordination.Phase = string(loop.Phase())
		doc.Coordination.IsFinalPresentation = finalPresentation

		states := loop.Snapshot()
		ids := make([]string, 0, len(states))
		for id := range states {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)
		for _, id := range ids {
			st := states[AgentId(id)]
			agent := StatusAgent{
				Status:            string(st.Status),
				AnswerCount:       st.AnswerCount,
				LatestAnswerLabel: string(st.LatestAnswerLabel),
				TimesRestarted:    st.TimesRestarted,
				Error:             st.Error,
			}
			if st.VoteCast != nil {
				agent.VotedFor = string(st.VoteCast.TargetLabel)
			}
			doc.Agents[id] = agent
			if doc.Coordination.ActiveAgent == "" && st.Status == StatusStreaming {
				doc.Coordination.ActiveAgent = id
			}
		}
	}

	if tally != nil {
		for label, count := range tally.Counts() {
			doc.Results.VoteCounts[string(label)] = count
		}
	}

	if winner != nil && winner.Kind == OutcomeElectedWinner {
		label := string(winner.Label)
		doc.Results.Winner = &label
		doc.Coordination.ActiveAgent = string(winner.Winner)
	}
	if finalAnswer != "" {
		preview := finalAnswer
		if runes := []rune(preview); len(runes) > finalAnswerPreviewLimit {
			preview = string(runes[:finalAnswerPreviewLimit])
		}
		doc.Results.FinalAnswerPreview = preview
	}
	return doc
}

// writeJSONAtomic writes a JSON-encoded value using a temp file + rename so
// monitors never observe a torn snapshot.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
