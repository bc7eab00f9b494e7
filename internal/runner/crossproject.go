package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"agentcore/internal/delegatectx"
	"agentcore/internal/ibl"
	"agentcore/internal/registry"
	"agentcore/internal/store/task"

	"github.com/google/uuid"
)

// ProjectStores resolves a project id to that project's task.Store, so
// the system-AI runner can create a delegation's child task in the
// *target* project's store rather than its own — the project agent's
// own Runner.handle looks the task up by id in its own store, so the
// row has to live there, even though the parent row it points back at
// lives in system-AI's separate system_ai_memory.db (spec.md §4.8).
type ProjectStores interface {
	Store(projectID string) (*task.Store, bool)
}

// NewProjectNode builds the "project" IBL node that gives the system-AI
// runner its cross-project tools (spec.md §4.8: list_project_agents,
// call_project_agent), generalizing the teacher's
// internal/runner/delegate/manage_agents_tool.go "list/invoke named
// sub-agents" shape from one process-local config map to the shared
// registry.Registry spanning every live project.
func NewProjectNode(selfProjectID, selfAgent string, agents *registry.Registry, selfTasks *task.Store, projects ProjectStores) *ibl.Node {
	return &ibl.Node{
		Name:   "project",
		Router: ibl.SystemRouter{},
		Actions: map[string]ibl.Action{
			"list_project_agents": &listProjectAgentsAction{agents: agents},
			"call_project_agent":  &callProjectAgentAction{selfProjectID: selfProjectID, self: selfAgent, agents: agents, selfTasks: selfTasks, projects: projects},
		},
	}
}

type listProjectAgentsAction struct {
	agents *registry.Registry
}

func (listProjectAgentsAction) Name() string { return "list_project_agents" }

func (listProjectAgentsAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"project": map[string]any{"type": "string", "description": "restrict the listing to one project id; omit to list every project"},
		},
	}
}

func (a *listProjectAgentsAction) Execute(ctx context.Context, target string, params map[string]any) (ibl.Result, error) {
	project := target
	if project == "" {
		project, _ = params["project"].(string)
	}

	infos := a.agents.List(project)
	if len(infos) == 0 {
		return ibl.SuccessResult("no live agents registered" + projectSuffix(project)), nil
	}

	byProject := make(map[string][]string)
	for _, info := range infos {
		byProject[info.Key.ProjectID] = append(byProject[info.Key.ProjectID], info.Key.AgentID)
	}
	projectIDs := make([]string, 0, len(byProject))
	for p := range byProject {
		projectIDs = append(projectIDs, p)
	}
	sort.Strings(projectIDs)

	var sb strings.Builder
	for _, p := range projectIDs {
		agentIDs := byProject[p]
		sort.Strings(agentIDs)
		sb.WriteString(fmt.Sprintf("%s: %s\n", p, strings.Join(agentIDs, ", ")))
	}
	return ibl.SuccessResult(strings.TrimRight(sb.String(), "\n")), nil
}

func projectSuffix(project string) string {
	if project == "" {
		return ""
	}
	return fmt.Sprintf(" in project %q", project)
}

// callProjectAgentAction implements call_project_agent: the same
// enqueue-and-create-child-task delegation callAgentAction does, except
// the child task is created in the *target* project's store (so that
// project's own runner can find it) while the delegation bookkeeping
// and pending-count live on the caller's side, in system-AI's own
// store.
type callProjectAgentAction struct {
	selfProjectID string
	self          string
	agents        *registry.Registry
	selfTasks     *task.Store
	projects      ProjectStores
}

func (callProjectAgentAction) Name() string { return "call_project_agent" }

func (callProjectAgentAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"project": map[string]any{"type": "string", "description": "target project id"},
			"agent":   map[string]any{"type": "string", "description": "agent name within that project"},
			"message": map[string]any{"type": "string", "description": "the request to hand off"},
		},
		"required": []string{"project", "agent", "message"},
	}
}

func (a *callProjectAgentAction) Execute(ctx context.Context, target string, params map[string]any) (ibl.Result, error) {
	taskID, ok := TaskIDFromContext(ctx)
	if !ok {
		return ibl.ErrorResult("call_project_agent: no active task in context"), nil
	}

	project, _ := params["project"].(string)
	agentName, _ := params["agent"].(string)
	message, _ := params["message"].(string)
	if project == "" || agentName == "" || message == "" {
		return ibl.ErrorResult("call_project_agent requires a project, an agent, and a message"), nil
	}

	chain := delegatectx.From(ctx)
	if !chain.CanDelegate() {
		return ibl.ErrorResult(fmt.Sprintf("call_project_agent: delegation depth limit reached (max %d)", chain.MaxDepth)), nil
	}
	if chain.Contains(agentName) {
		return ibl.ErrorResult(fmt.Sprintf("call_project_agent: %s is already in this delegation chain, refusing to create a cycle", agentName)), nil
	}

	targetStore, ok := a.projects.Store(project)
	if !ok {
		return ibl.ErrorResult(fmt.Sprintf("call_project_agent: unknown project %q", project)), nil
	}

	parent, err := a.selfTasks.Get(taskID)
	if err != nil {
		return ibl.Result{}, fmt.Errorf("call_project_agent: load task %s: %w", taskID, err)
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
	if err := targetStore.Create(child); err != nil {
		return ibl.Result{}, fmt.Errorf("call_project_agent: create child task in project %s: %w", project, err)
	}

	if err := a.selfTasks.UpdateDelegation(parent.ID, func(dc *task.DelegationContext) {
		dc.Delegations = append(dc.Delegations, task.Delegation{
			ChildTaskID:    childID,
			DelegatedTo:    fmt.Sprintf("%s/%s", project, agentName),
			Message:        message,
			DelegationTime: time.Now(),
		})
	}); err != nil {
		return ibl.Result{}, fmt.Errorf("call_project_agent: record delegation on parent %s: %w", parent.ID, err)
	}

	childChain := chain.ForChild(agentName, parent.ID)
	targetKey := registry.Key{ProjectID: project, AgentID: agentName}
	if sent := a.agents.Send(targetKey, registry.Message{Content: message, FromAgent: a.self, TaskID: childID, Chain: childChain.Agents}); !sent {
		return ibl.ErrorResult(fmt.Sprintf("call_project_agent: agent %q is not registered in project %q", agentName, project)), nil
	}

	MarkDelegated(ctx, fmt.Sprintf("%s/%s", project, agentName))

	return ibl.SuccessResult(fmt.Sprintf("delegated to %s/%s (task %s)", project, agentName, childID)), nil
}
