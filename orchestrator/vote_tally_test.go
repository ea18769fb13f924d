package orchestrator

import "testing"

type fakeExistsChecker struct {
	labels map[AnswerLabel]bool
}

func (f *fakeExistsChecker) Exists(label AnswerLabel) bool { return f.labels[label] }

func newFakeExists(labels ...AnswerLabel) *fakeExistsChecker {
	m := make(map[AnswerLabel]bool, len(labels))
	for _, l := range labels {
		m[l] = true
	}
	return &fakeExistsChecker{labels: m}
}

func TestVoteTallyUnknownLabelRejected(t *testing.T) {
	tally := NewVoteTally(newFakeExists("a.1"))
	out := tally.CastOrReplace("b", "a.99", "looks good")
	if out.Accepted || out.Reason != "unknown_label" {
		t.Fatalf("out = %+v, want unknown_label", out)
	}
}

func TestVoteTallyReplaceIsIdempotentAndLatest(t *testing.T) {
	tally := NewVoteTally(newFakeExists("a.1", "b.1"))
	tally.CastOrReplace("voter", "a.1", "first reason")
	tally.CastOrReplace("voter", "a.1", "first reason") // replaying the same vote is a no-op
	tally.CastOrReplace("voter", "b.1", "changed my mind")

	v, ok := tally.VoteOf("voter")
	if !ok || v.TargetLabel != "b.1" {
		t.Fatalf("VoteOf = %+v, %v, want b.1", v, ok)
	}

	label, count, tied, ok := tally.Leader()
	if !ok || label != "b.1" || count != 1 || tied {
		t.Fatalf("Leader = %v %v %v %v", label, count, tied, ok)
	}
}

func TestVoteTallyLeaderStrictMajority(t *testing.T) {
	tally := NewVoteTally(newFakeExists("a.1", "b.1"))
	tally.NoteAcceptedLabel("a.1")
	tally.NoteAcceptedLabel("b.1")
	tally.CastOrReplace("x", "a.1", "")
	tally.CastOrReplace("y", "a.1", "")
	tally.CastOrReplace("z", "b.1", "")

	label, count, tied, ok := tally.Leader()
	if !ok || label != "a.1" || count != 2 || tied {
		t.Fatalf("Leader = %v %v %v %v, want a.1 2 false true", label, count, tied, ok)
	}
}

func TestVoteTallyLeaderTieBreaksFIFO(t *testing.T) {
	tally := NewVoteTally(newFakeExists("a.1", "b.1"))
	tally.NoteAcceptedLabel("a.1")
	tally.NoteAcceptedLabel("b.1")
	tally.CastOrReplace("x", "a.1", "")
	tally.CastOrReplace("y", "b.1", "")

	label, count, tied, ok := tally.Leader()
	if !ok || !tied || count != 1 || label != "a.1" {
		t.Fatalf("Leader = %v %v %v %v, want a.1 1 true true (earliest accepted)", label, count, tied, ok)
	}
}

func TestVoteTallyLeaderNoVotes(t *testing.T) {
	tally := NewVoteTally(newFakeExists())
	_, _, _, ok := tally.Leader()
	if ok {
		t.Fatalf("Leader on empty tally should report ok=false")
	}
}

func TestVoteTallyAllParticipantsDecided(t *testing.T) {
	registry := NewAnswerRegistry(NoveltyLenient, 1, false)
	registry.Submit("a", "text one", SnapshotId(""), 1)
	tally := NewVoteTally(registry)
	tally.CastOrReplace("b", "a.1", "agree")

	if !tally.AllParticipantsDecided([]AgentId{"a", "b"}, registry) {
		t.Fatalf("expected all participants decided: a is at cap, b voted")
	}
	if tally.AllParticipantsDecided([]AgentId{"a", "b", "c"}, registry) {
		t.Fatalf("c has neither voted nor reached cap, should not be decided")
	}
}
