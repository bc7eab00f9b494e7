// Package systemai builds the system-AI runner (spec.md §4.8): a
// superset of the ordinary per-project internal/runner.Runner that
// lives outside any single project, with its own task store
// (system_ai_memory.db) and cross-project delegation tools
// (list_project_agents, call_project_agent) layered onto the shared
// dispatcher in place of the ordinary per-project call_agent/delegate
// action. Grounded on the teacher's
// internal/runner/delegate/manage_agents_tool.go, generalized from a
// single process's static agent-config map to the live, multi-project
// registry.Registry.
package systemai

import (
	"sync"

	"agentcore/internal/autoreport"
	channelreg "agentcore/internal/channel"
	"agentcore/internal/ibl"
	"agentcore/internal/prompt"
	"agentcore/internal/provider"
	"agentcore/internal/registry"
	"agentcore/internal/runner"
	"agentcore/internal/store"
	"agentcore/internal/store/conversation"
	"agentcore/internal/store/task"
)

// ProjectID and AgentID name the system-AI agent's own slot in the
// shared registry.Registry, distinct from any real project's
// namespace.
const (
	ProjectID = "system-ai"
	AgentID   = "system-ai"
)

// Key is the registry key every project's autoreport.Engine wires as
// its cross-boundary Peer/target when a delegation crosses into or out
// of system-AI (spec.md §4.8's "bridges between stores").
var Key = registry.Key{ProjectID: ProjectID, AgentID: AgentID}

// StoreMap is a concurrency-safe ProjectStores backed by an in-memory
// map, populated as projects come online and drained as they tear
// down. The system-AI coordinator is the only consumer that needs
// cross-project store lookups; every other subsystem only ever touches
// its own project's store directly.
type StoreMap struct {
	mu   sync.RWMutex
	byID map[string]*task.Store
}

// NewStoreMap creates an empty StoreMap.
func NewStoreMap() *StoreMap {
	return &StoreMap{byID: make(map[string]*task.Store)}
}

// Register makes projectID's task store reachable by call_project_agent.
func (m *StoreMap) Register(projectID string, s *task.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[projectID] = s
}

// Deregister removes a project, e.g. once it is torn down.
func (m *StoreMap) Deregister(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, projectID)
}

// Store implements runner.ProjectStores.
func (m *StoreMap) Store(projectID string) (*task.Store, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[projectID]
	return s, ok
}

// Config wires the system-AI coordinator to its process-wide
// dependencies.
type Config struct {
	DBPath   string
	Model    string
	Notes    string
	Provider provider.Provider
	Agents   *registry.Registry
	Channels *channelreg.Registry
	Projects *StoreMap

	// OutputsDir is where the system-AI autoreport.Engine spills
	// oversized payloads, mirroring a project's outputs/ directory.
	OutputsDir string
}

// Coordinator is the running system-AI runner plus the store it owns.
type Coordinator struct {
	*runner.Runner
	db    *store.DB
	Tasks *task.Store
}

// New opens system_ai_memory.db, builds the system-AI Runner, and
// registers its "project" cross-delegation node on dispatcher. Callers
// still need to wire dispatcher into every project the same way they
// would for an ordinary agent's Dispatcher, since IBL nodes are
// process-wide, not project-scoped.
func New(cfg Config, dispatcher *ibl.Dispatcher) (*Coordinator, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	tasks := task.New(db)
	conversations := conversation.New(db)
	ar := autoreport.New(ProjectID, tasks, cfg.Agents, cfg.Channels, cfg.OutputsDir)

	r := runner.New(runner.Config{
		ProjectID: ProjectID,
		AgentName: AgentID,
		Profile: prompt.AgentProfile{
			Name:            AgentID,
			RoleDescription: "You are the system-level coordinator. You see every project's live agents and can delegate work into any of them with call_project_agent, or list what's available with list_project_agents.",
			Notes:           cfg.Notes,
		},
		Model:         cfg.Model,
		Provider:      cfg.Provider,
		Dispatcher:    dispatcher,
		Agents:        cfg.Agents,
		Tasks:         tasks,
		Conversations: conversations,
		Channels:      cfg.Channels,
		Autoreport:    ar,
	})

	dispatcher.RegisterNode(runner.NewProjectNode(ProjectID, AgentID, cfg.Agents, tasks, cfg.Projects))

	return &Coordinator{Runner: r, db: db, Tasks: tasks}, nil
}

// Close releases the system-AI database handle.
func (c *Coordinator) Close() error { return c.db.Close() }
