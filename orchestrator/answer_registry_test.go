package orchestrator

import (
	"sync"
	"testing"
)

func TestAnswerRegistrySubmitAssignsMonotonicLabels(t *testing.T) {
	r := NewAnswerRegistry(NoveltyLenient, 0, true)

	out1 := r.Submit("a", "first answer text here", SnapshotId("s1"), 1)
	if !out1.Accepted || out1.Label != "a.1" {
		t.Fatalf("out1 = %+v, want accepted a.1", out1)
	}
	out2 := r.Submit("a", "second completely different answer about bananas", SnapshotId("s2"), 1)
	if !out2.Accepted || out2.Label != "a.2" {
		t.Fatalf("out2 = %+v, want accepted a.2", out2)
	}

	list := r.List()
	if len(list) != 2 || list[0].Label != "a.1" || list[1].Label != "a.2" {
		t.Fatalf("list = %+v", list)
	}
}

func TestAnswerRegistryCapExceeded(t *testing.T) {
	r := NewAnswerRegistry(NoveltyLenient, 1, false)
	out1 := r.Submit("a", "one answer", SnapshotId(""), 1)
	if !out1.Accepted {
		t.Fatalf("first submission should be accepted: %+v", out1)
	}
	out2 := r.Submit("a", "two answer completely unrelated bananas", SnapshotId(""), 1)
	if out2.Accepted || out2.Reason != "cap_exceeded" {
		t.Fatalf("out2 = %+v, want cap_exceeded", out2)
	}
}

func TestAnswerRegistryNoveltyRejection(t *testing.T) {
	r := NewAnswerRegistry(NoveltyBalanced, 0, true)
	r.Submit("a", "Use quicksort for sorting integers in memory.", SnapshotId(""), 1)
	out := r.Submit("a", "Use quicksort to sort integers in memory.", SnapshotId(""), 1)
	if out.Accepted {
		t.Fatalf("near-duplicate should be rejected: %+v", out)
	}
	if out.Reason != "insufficient_novelty" || out.ConflictLabel != "a.1" {
		t.Fatalf("out = %+v, want insufficient_novelty referencing a.1", out)
	}
}

func TestAnswerRegistryNoveltyAcrossAgents(t *testing.T) {
	r := NewAnswerRegistry(NoveltyStrict, 0, true)
	r.Submit("a", "Paris is the capital of France and a major city.", SnapshotId(""), 1)
	out := r.Submit("b", "Paris is the capital city of France.", SnapshotId(""), 1)
	if out.Accepted {
		t.Fatalf("cross-agent near-duplicate should be rejected under strict: %+v", out)
	}
}

func TestAnswerRegistryGetAndExists(t *testing.T) {
	r := NewAnswerRegistry(NoveltyLenient, 0, true)
	r.Submit("a", "hello world answer", SnapshotId("snap"), 1)

	a, ok := r.Get("a.1")
	if !ok || a.Text != "hello world answer" || a.WorkspaceSnapshotId != "snap" {
		t.Fatalf("Get = %+v, %v", a, ok)
	}
	if !r.Exists("a.1") {
		t.Fatalf("Exists(a.1) should be true")
	}
	if r.Exists("a.2") {
		t.Fatalf("Exists(a.2) should be false")
	}
}

func TestAnswerRegistryListenerFiresOnAccept(t *testing.T) {
	r := NewAnswerRegistry(NoveltyLenient, 0, true)
	var mu sync.Mutex
	var fired []AnswerLabel
	r.OnAnswerRegistered(func(label AnswerLabel) {
		mu.Lock()
		fired = append(fired, label)
		mu.Unlock()
	})

	r.Submit("a", "answer one text", SnapshotId(""), 1)
	out := r.Submit("a", "answer one text", SnapshotId(""), 1) // exact duplicate under lenient: still accepted (novelty off)
	if !out.Accepted {
		t.Fatalf("lenient novelty should accept duplicates: %+v", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 2 {
		t.Fatalf("fired = %v, want 2 listener calls", fired)
	}
}

func TestAnswerRegistryAtCap(t *testing.T) {
	r := NewAnswerRegistry(NoveltyLenient, 1, false)
	if r.AtCap("a") {
		t.Fatalf("fresh agent should not be at cap")
	}
	r.Submit("a", "text", SnapshotId(""), 1)
	if !r.AtCap("a") {
		t.Fatalf("agent should be at cap after one submission with cap=1")
	}
}

func TestAnswerRegistryZeroCapForcesVoting(t *testing.T) {
	// With a zero cap and strict novelty no answers can ever be submitted,
	// so every agent counts as decided by cap and the only eligible terminal
	// action is a vote.
	r := NewAnswerRegistry(NoveltyStrict, 0, false)
	out := r.Submit("a", "anything at all", EmptySnapshotId, 1)
	if out.Accepted || out.Reason != "cap_exceeded" {
		t.Fatalf("out = %+v, want cap_exceeded rejection", out)
	}
	if !r.AtCap("a") {
		t.Fatalf("zero-cap agent must report at cap immediately")
	}

	tally := NewVoteTally(r)
	if !tally.AllParticipantsDecided([]AgentId{"a", "b"}, r) {
		t.Fatalf("zero-cap agents with no votes must already count as decided")
	}
}
