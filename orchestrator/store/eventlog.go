// ABOUTME: SQLite-backed durable log of coordination events (answers, votes, outcomes) for replay and audit.
// ABOUTME: Implements orchestrator.EventRecorder; always rebuildable state, never the source of truth mid-run.
package store

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/2389-research/quorum/orchestrator"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// Compile-time check that EventLog satisfies the session's recorder hook.
var _ orchestrator.EventRecorder = (*EventLog)(nil)

// EventLog persists the per-session coordination event stream to a local
// SQLite database. A crashed or finished session can be replayed from it.
type EventLog struct {
	db      *sql.DB
	entropy *ulid.MonotonicEntropy
}

// Open opens or creates the event log database at path and runs migrations.
func Open(path string) (*EventLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS answers (
			event_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			label TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			text TEXT NOT NULL,
			snapshot_id TEXT NOT NULL,
			submitted_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS votes (
			event_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			voter_id TEXT NOT NULL,
			target_label TEXT NOT NULL,
			reason TEXT NOT NULL,
			cast_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS outcomes (
			event_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			kind TEXT NOT NULL,
			winner TEXT NOT NULL,
			label TEXT NOT NULL,
			reason TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_answers_session ON answers(session_id, attempt);
		CREATE INDEX IF NOT EXISTS idx_votes_session ON votes(session_id, attempt);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &EventLog{db: db, entropy: ulid.Monotonic(rand.Reader, 0)}, nil
}

// Close releases the underlying database handle.
func (l *EventLog) Close() error {
	return l.db.Close()
}

func (l *EventLog) nextID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), l.entropy)
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}

// RecordAnswer appends one accepted answer to the log.
func (l *EventLog) RecordAnswer(sessionID string, attempt int, a orchestrator.Answer) error {
	_, err := l.db.Exec(
		`INSERT INTO answers (event_id, session_id, attempt, label, agent_id, text, snapshot_id, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.nextID(), sessionID, attempt, string(a.Label), string(a.AgentId), a.Text, string(a.WorkspaceSnapshotId), a.SubmittedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

// RecordVote appends one accepted vote to the log. Replacement votes append a
// new row; Votes returns only the latest per voter.
func (l *EventLog) RecordVote(sessionID string, attempt int, v orchestrator.Vote) error {
	_, err := l.db.Exec(
		`INSERT INTO votes (event_id, session_id, attempt, voter_id, target_label, reason, cast_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.nextID(), sessionID, attempt, string(v.VoterId), string(v.TargetLabel), v.Reason, v.CastAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

// RecordOutcome appends one attempt's terminal outcome.
func (l *EventLog) RecordOutcome(sessionID string, attempt int, o orchestrator.Outcome) error {
	_, err := l.db.Exec(
		`INSERT INTO outcomes (event_id, session_id, attempt, kind, winner, label, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.nextID(), sessionID, attempt, string(o.Kind), string(o.Winner), string(o.Label), o.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Answers replays the recorded answers for one session attempt in append
// order (ULID event ids sort by creation time).
func (l *EventLog) Answers(sessionID string, attempt int) ([]orchestrator.Answer, error) {
	rows, err := l.db.Query(
		`SELECT label, agent_id, text, snapshot_id, submitted_at FROM answers
		 WHERE session_id = ? AND attempt = ? ORDER BY event_id`,
		sessionID, attempt,
	)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	var out []orchestrator.Answer
	for rows.Next() {
		var a orchestrator.Answer
		var label, agentID, snapshotID, submittedAt string
		if err := rows.Scan(&label, &agentID, &a.Text, &snapshotID, &submittedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		a.Label = orchestrator.AnswerLabel(label)
		a.AgentId = orchestrator.AgentId(agentID)
		a.WorkspaceSnapshotId = orchestrator.SnapshotId(snapshotID)
		a.Attempt = attempt
		if t, err := time.Parse(time.RFC3339Nano, submittedAt); err == nil {
			a.SubmittedAt = t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Votes replays the latest vote per voter for one session attempt.
func (l *EventLog) Votes(sessionID string, attempt int) ([]orchestrator.Vote, error) {
	rows, err := l.db.Query(
		`SELECT voter_id, target_label, reason, cast_at FROM votes
		 WHERE session_id = ? AND attempt = ? ORDER BY event_id`,
		sessionID, attempt,
	)
	if err != nil {
		return nil, fmt.Errorf("query votes: %w", err)
	}
	defer rows.Close()

	latest := make(map[orchestrator.AgentId]orchestrator.Vote)
	var order []orchestrator.AgentId
	for rows.Next() {
		var v orchestrator.Vote
		var voterID, targetLabel, castAt string
		if err := rows.Scan(&voterID, &targetLabel, &v.Reason, &castAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.VoterId = orchestrator.AgentId(voterID)
		v.TargetLabel = orchestrator.AnswerLabel(targetLabel)
		if t, err := time.Parse(time.RFC3339Nano, castAt); err == nil {
			v.CastAt = t
		}
		if _, seen := latest[v.VoterId]; !seen {
			order = append(order, v.VoterId)
		}
		latest[v.VoterId] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]orchestrator.Vote, 0, len(latest))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out, nil
}

// Outcome returns the recorded outcome for one session attempt, if any.
func (l *EventLog) Outcome(sessionID string, attempt int) (orchestrator.Outcome, bool, error) {
	row := l.db.QueryRow(
		`SELECT kind, winner, label, reason FROM outcomes
		 WHERE session_id = ? AND attempt = ? ORDER BY event_id DESC LIMIT 1`,
		sessionID, attempt,
	)
	var o orchestrator.Outcome
	var kind, winner, label string
	err := row.Scan(&kind, &winner, &label, &o.Reason)
	if err == sql.ErrNoRows {
		return orchestrator.Outcome{}, false, nil
	}
	if err != nil {
		return orchestrator.Outcome{}, false, fmt.Errorf("scan outcome: %w", err)
	}
	o.Kind = orchestrator.OutcomeKind(kind)
	o.Winner = orchestrator.AgentId(winner)
	o.Label = orchestrator.AnswerLabel(label)
	return o, true, nil
}
