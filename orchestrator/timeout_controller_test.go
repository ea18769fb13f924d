package orchestrator

import (
	"testing"
	"time"
)

func TestTimeoutControllerEmitsSoftThenHard(t *testing.T) {
	base := time.Unix(0, 0)
	clock := base
	tc := NewTimeoutController(time.Time{}, time.Millisecond)
	tc.now = func() time.Time { return clock }

	d := NewDeadline(base, 5*time.Second, 2*time.Second)
	tc.SetAgentDeadline("a", d)

	clock = base.Add(1 * time.Second)
	tc.check()
	select {
	case evt := <-tc.events:
		t.Fatalf("unexpected early event: %+v", evt)
	default:
	}

	clock = base.Add(5 * time.Second)
	tc.check()
	evt := <-tc.events
	if evt.Kind != EventSoftElapsed || evt.AgentId != "a" {
		t.Fatalf("evt = %+v, want SoftElapsed for a", evt)
	}

	// Soft should not re-fire.
	tc.check()
	select {
	case evt := <-tc.events:
		t.Fatalf("soft re-fired: %+v", evt)
	default:
	}

	clock = base.Add(7 * time.Second)
	tc.check()
	evt = <-tc.events
	if evt.Kind != EventHardElapsed || evt.AgentId != "a" {
		t.Fatalf("evt = %+v, want HardElapsed for a", evt)
	}
}

func TestTimeoutControllerGlobalElapsed(t *testing.T) {
	base := time.Unix(0, 0)
	clock := base
	tc := NewTimeoutController(base.Add(2*time.Second), time.Millisecond)
	tc.now = func() time.Time { return clock }

	clock = base.Add(1 * time.Second)
	tc.check()
	select {
	case evt := <-tc.events:
		t.Fatalf("unexpected early global event: %+v", evt)
	default:
	}

	clock = base.Add(3 * time.Second)
	tc.check()
	evt := <-tc.events
	if evt.Kind != EventGlobalElapsed {
		t.Fatalf("evt = %+v, want GlobalElapsed", evt)
	}

	tc.check()
	select {
	case evt := <-tc.events:
		t.Fatalf("global re-fired: %+v", evt)
	default:
	}
}

func TestTimeoutControllerHardElapsedForSynchronousCheck(t *testing.T) {
	base := time.Unix(0, 0)
	clock := base
	tc := NewTimeoutController(time.Time{}, time.Second)
	tc.now = func() time.Time { return clock }
	tc.SetAgentDeadline("a", NewDeadline(base, 5*time.Second, 2*time.Second))

	if tc.HardElapsedFor("a") {
		t.Fatalf("should not be hard-elapsed yet")
	}
	clock = base.Add(8 * time.Second)
	if !tc.HardElapsedFor("a") {
		t.Fatalf("should be hard-elapsed at t=8s (hardAt=7s)")
	}
}

func TestTimeoutControllerClearAgentDeadlineStopsFiring(t *testing.T) {
	base := time.Unix(0, 0)
	clock := base
	tc := NewTimeoutController(time.Time{}, time.Millisecond)
	tc.now = func() time.Time { return clock }
	tc.SetAgentDeadline("a", NewDeadline(base, 1*time.Second, 1*time.Second))
	tc.ClearAgentDeadline("a")

	clock = base.Add(10 * time.Second)
	tc.check()
	select {
	case evt := <-tc.events:
		t.Fatalf("unexpected event after clearing deadline: %+v", evt)
	default:
	}
}
