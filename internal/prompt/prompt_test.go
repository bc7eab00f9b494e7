package prompt

import (
	"strings"
	"testing"

	"agentcore/internal/store/task"
)

func TestBuild_BasicProfile(t *testing.T) {
	b := NewBuilder(AgentProfile{Name: "researcher", RoleDescription: "You research topics thoroughly."})
	out := b.Build(nil)

	if !strings.Contains(out, "researcher") {
		t.Error("Build() missing agent name")
	}
	if !strings.Contains(out, "You research topics thoroughly.") {
		t.Error("Build() missing role description")
	}
	if strings.Contains(out, "Delegation Context") {
		t.Error("Build() with nil delegation context should not include a delegation section")
	}
}

func TestBuild_WithNotes(t *testing.T) {
	b := NewBuilder(AgentProfile{Name: "writer", RoleDescription: "You write reports.", Notes: "Always cite sources."})
	out := b.Build(nil)
	if !strings.Contains(out, "Always cite sources.") {
		t.Error("Build() missing notes section")
	}
}

func TestBuild_OutstandingDelegations(t *testing.T) {
	b := NewBuilder(AgentProfile{Name: "coordinator", RoleDescription: "You coordinate work."})
	dc := &task.DelegationContext{
		Delegations: []task.Delegation{
			{ChildTaskID: "t1", DelegatedTo: "researcher", Message: "find X"},
		},
	}
	out := b.Build(dc)

	if !strings.Contains(out, "outstanding delegations") {
		t.Error("Build() missing outstanding-delegations section")
	}
	if !strings.Contains(out, "researcher") || !strings.Contains(out, "find X") {
		t.Errorf("Build() = %q, missing delegation detail", out)
	}
}

func TestBuild_CompletedCarriesForward(t *testing.T) {
	b := NewBuilder(AgentProfile{Name: "coordinator", RoleDescription: "You coordinate work."})
	dc := &task.DelegationContext{
		Completed: []task.CompletedDelegation{
			{To: "researcher", Message: "find X", Result: "X is Y"},
		},
	}
	out := b.Build(dc)

	if !strings.Contains(out, "already delegated") {
		t.Error("Build() missing completed-delegations section")
	}
	if !strings.Contains(out, "X is Y") {
		t.Error("Build() missing completed delegation result")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q, want unchanged", got)
	}
	long := strings.Repeat("a", 20)
	if got := truncate(long, 5); got != "aaaaa…" {
		t.Errorf("truncate() = %q, want 5 chars + ellipsis", got)
	}
}
