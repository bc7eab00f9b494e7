package runner

import (
	"context"
	"fmt"
	"time"

	"agentcore/internal/delegatectx"
	"agentcore/internal/ibl"
	"agentcore/internal/registry"
	"agentcore/internal/store/task"

	"github.com/google/uuid"
)

// newSystemNode builds the "system" IBL node every agent gets for free
// (spec.md §4.4 "system: built-in function (notification, delegation,
// user question, approval, todo)"), generalized here to the single
// built-in this core needs wired end-to-end: delegation. The remaining
// system verbs (notify, ask_user, request_approval, todo) are opaque
// per spec.md's scope note and are left to a handler-router node a
// deployment registers itself, the same way the teacher treats
// domain-specific tool packages as pluggable.
func newSystemNode(projectID, self string, agents *registry.Registry, tasks *task.Store) *ibl.Node {
	call := &callAgentAction{projectID: projectID, self: self, agents: agents, tasks: tasks}
	return &ibl.Node{
		Name:   "system",
		Router: ibl.SystemRouter{},
		Actions: map[string]ibl.Action{
			call.Name(): call,
		},
	}
}

// callAgentAction implements the call_agent tool as the system node's
// delegate action (flat tool id "system__delegate"): it enqueues a
// message into another agent's inbox and creates a child task pointing
// back at the caller's current task, so the auto-report engine can fan
// the child's eventual response back in. Grounded on spec.md §4.2's
// delegation lifecycle entry ("an agent's tool call delegates to
// another agent").
type callAgentAction struct {
	projectID string
	self      string
	agents    *registry.Registry
	tasks     *task.Store
}

func (a *callAgentAction) Name() string { return "delegate" }

func (a *callAgentAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent":   map[string]any{"type": "string", "description": "name of the agent to delegate to"},
			"message": map[string]any{"type": "string", "description": "the request to hand off"},
		},
		"required": []string{"agent", "message"},
	}
}

func (a *callAgentAction) Execute(ctx context.Context, target string, params map[string]any) (ibl.Result, error) {
	ts, ok := turnFromContext(ctx)
	if !ok {
		return ibl.ErrorResult("call_agent: no active task in context"), nil
	}

	agentName := target
	if agentName == "" {
		agentName, _ = params["agent"].(string)
	}
	message, _ := params["message"].(string)
	if agentName == "" || message == "" {
		return ibl.ErrorResult("call_agent requires an agent name and a message"), nil
	}

	chain := delegatectx.From(ctx)
	if !chain.CanDelegate() {
		return ibl.ErrorResult(fmt.Sprintf("call_agent: delegation depth limit reached (max %d)", chain.MaxDepth)), nil
	}
	if chain.Contains(agentName) {
		return ibl.ErrorResult(fmt.Sprintf("call_agent: %s is already in this delegation chain, refusing to create a cycle", agentName)), nil
	}

	parent, err := a.tasks.Get(ts.taskID)
	if err != nil {
		return ibl.Result{}, fmt.Errorf("call_agent: load task %s: %w", ts.taskID, err)
	}

	childID := uuid.NewString()
	child := &task.Task{
		ID:               childID,
		Requester:        a.self,
		RequesterChannel: task.ChannelInternal,
		OriginalRequest:  message,
		DelegatedTo:      agentName,
		ParentTaskID:     parent.ID,
	}
	if err := a.tasks.Create(child); err != nil {
		return ibl.Result{}, fmt.Errorf("call_agent: create child task: %w", err)
	}

	if err := a.tasks.UpdateDelegation(parent.ID, func(dc *task.DelegationContext) {
		dc.Delegations = append(dc.Delegations, task.Delegation{
			ChildTaskID:    childID,
			DelegatedTo:    agentName,
			Message:        message,
			DelegationTime: time.Now(),
		})
	}); err != nil {
		return ibl.Result{}, fmt.Errorf("call_agent: record delegation on parent %s: %w", parent.ID, err)
	}

	childChain := chain.ForChild(agentName, parent.ID)

	targetKey := registry.Key{ProjectID: a.projectID, AgentID: agentName}
	if sent := a.agents.Send(targetKey, registry.Message{Content: message, FromAgent: a.self, TaskID: childID, Chain: childChain.Agents}); !sent {
		return ibl.ErrorResult(fmt.Sprintf("call_agent: agent %q is not registered in this project", agentName)), nil
	}

	ts.calledAgent = true
	ts.calledTarget = agentName

	return ibl.SuccessResult(fmt.Sprintf("delegated to %s (task %s)", agentName, childID)), nil
}
