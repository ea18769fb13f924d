// ABOUTME: InjectionRouter — decides inject-mid-stream vs restart for each peer when an answer registers.
// ABOUTME: Ordering guarantee: injections for a given target observe registry order (serialized by the caller).
package orchestrator

import (
	"sync"
	"time"
)

// RunnerHandle is the subset of AgentRunner InjectionRouter needs: whether
// it is still streaming, its remaining soft-time budget, and the ability to
// inject or request a restart.
type RunnerHandle interface {
	Status() AgentStatus
	RemainingSoftTime(now time.Time) time.Duration
	Inject(label AnswerLabel) error
}

// RestartRequester is notified when InjectionRouter decides a runner must be
// restarted rather than injected into, because too little soft-time budget
// remains.
type RestartRequester interface {
	RequestRestart(agentId AgentId, label AnswerLabel)
}

// InjectionRouter reacts to newly registered answers by injecting them into
// every other currently-streaming runner, or requesting a restart when the
// runner is too close to its soft deadline to safely absorb an injection.
type InjectionRouter struct {
	graceSeconds time.Duration
	restarter    RestartRequester
	registry     *AnswerRegistry
	now          func() time.Time

	mu      sync.Mutex
	runners map[AgentId]RunnerHandle
}

// NewInjectionRouter builds a router with the given grace period (matching
// TimeoutController's configured grace), restart sink, and the registry it
// reads submitting-agent identity from. Register this router's
// AnswerRegistered method with registry.OnAnswerRegistered to wire it up.
func NewInjectionRouter(graceSeconds time.Duration, restarter RestartRequester, registry *AnswerRegistry) *InjectionRouter {
	return &InjectionRouter{
		graceSeconds: graceSeconds,
		runners:      make(map[AgentId]RunnerHandle),
		restarter:    restarter,
		registry:     registry,
		now:          time.Now,
	}
}

// Register makes a runner visible to future injection decisions.
func (ir *InjectionRouter) Register(agentId AgentId, handle RunnerHandle) {
	ir.mu.Lock()
	ir.runners[agentId] = handle
	ir.mu.Unlock()
}

// Unregister removes a runner (it has reached a terminal state).
func (ir *InjectionRouter) Unregister(agentId AgentId) {
	ir.mu.Lock()
	delete(ir.runners, agentId)
	ir.mu.Unlock()
}

// AnswerRegistered is the AnswerRegistry.OnAnswerRegistered callback: for
// every other runner currently streaming, inject if enough soft-time budget
// remains, else request a restart.
func (ir *InjectionRouter) AnswerRegistered(label AnswerLabel) {
	answer, ok := ir.registry.Get(label)
	if !ok {
		return
	}
	source := answer.AgentId

	ir.mu.Lock()
	targets := make(map[AgentId]RunnerHandle, len(ir.runners))
	for id, r := range ir.runners {
		targets[id] = r
	}
	ir.mu.Unlock()

	now := ir.now()
	for agentId, runner := range targets {
		if agentId == source {
			continue
		}
		if runner.Status() != StatusStreaming {
			// Agents already answered/voted are left alone; the loop
			// decides separately whether they re-enter.
			continue
		}
		remaining := runner.RemainingSoftTime(now)
		if remaining >= ir.graceSeconds {
			if err := runner.Inject(label); err != nil {
				ir.requestRestart(agentId, label)
			}
			continue
		}
		ir.requestRestart(agentId, label)
	}
}

func (ir *InjectionRouter) requestRestart(agentId AgentId, label AnswerLabel) {
	if ir.restarter != nil {
		ir.restarter.RequestRestart(agentId, label)
	}
}
