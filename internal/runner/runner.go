// Package runner implements the per-agent long-lived loop (spec.md
// §4.6): it drains an agent's registry.Inbox, composes a prompt from
// internal/prompt, drives the bounded tool-call loop against an
// internal/provider.Provider, and either lets a delegation chain
// proceed or hands the finished turn to internal/autoreport. Grounded
// on the teacher's internal/runner package's initialize -> bring-up ->
// main-loop shape and panic-recovery-around-the-loop-body pattern, but
// not its session scheduler, MCP manager, hooks, policy/approval,
// pause controller, or circuit breaker — none of which spec.md's
// orchestration core calls for.
package runner

import (
	"context"
	"strings"
	"time"

	channelreg "agentcore/internal/channel"
	"agentcore/internal/autoreport"
	"agentcore/internal/delegatectx"
	"agentcore/internal/ibl"
	"agentcore/internal/prompt"
	"agentcore/internal/provider"
	"agentcore/internal/registry"
	"agentcore/internal/store/conversation"
	"agentcore/internal/store/task"
	"agentcore/pkg/logger"

	"github.com/google/uuid"
)

// Timing and delegation-depth defaults (spec.md §4.6, §9).
const (
	DefaultPollInterval = 10 * time.Second
	pollChunk           = 5 * time.Second
	maxDelegationDepth  = 8
)

// reportTaskPrefix is the auto-report engine's own framing
// ("[task:<parent_id>] 완료.\n..."), used as the "report" heuristic of
// spec.md §4.6: a message carrying it is a delegation report, not a
// fresh request.
const reportTaskPrefix = "[task:"

// Config wires a Runner to its project-scoped dependencies.
type Config struct {
	ProjectID    string
	AgentName    string
	Profile      prompt.AgentProfile
	AllowedNodes []string
	PollInterval time.Duration
	Model        string

	Provider      provider.Provider
	Dispatcher    *ibl.Dispatcher
	Agents        *registry.Registry
	Tasks         *task.Store
	Conversations *conversation.Store
	Channels      *channelreg.Registry
	Autoreport    *autoreport.Engine
}

// Runner is the per-agent long-lived loop.
type Runner struct {
	cfg     Config
	builder *prompt.Builder
	inbox   *registry.Inbox

	stopCh chan struct{}
	done   chan struct{}
}

// New builds a Runner and registers its inbox with the agent registry
// (spec.md §4.6 step 1, "Initialize").
func New(cfg Config) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	key := registry.Key{ProjectID: cfg.ProjectID, AgentID: cfg.AgentName}
	inbox, _ := cfg.Agents.Register(key, registry.AgentInfo{Key: key, Live: true})

	return &Runner{
		cfg:     cfg,
		builder: prompt.NewBuilder(cfg.Profile),
		inbox:   inbox,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SystemNode returns the "system" IBL node this runner's call_agent
// action lives on, for the caller to register on the shared dispatcher
// before the first turn runs.
func (r *Runner) SystemNode() *ibl.Node {
	return newSystemNode(r.cfg.ProjectID, r.cfg.AgentName, r.cfg.Agents, r.cfg.Tasks)
}

// Accept creates a root task addressed to this agent and enqueues its
// opening message — the entry point channel ingress and the GUI use to
// start a new delegation chain (spec.md §4.2, task creation cases a/b).
func (r *Runner) Accept(requester string, requesterChannel task.Channel, wsClientID, content string) (string, error) {
	id := uuid.NewString()
	t := &task.Task{
		ID:               id,
		Requester:        requester,
		RequesterChannel: requesterChannel,
		OriginalRequest:  content,
		DelegatedTo:      r.cfg.AgentName,
		WSClientID:       wsClientID,
	}
	if err := r.cfg.Tasks.Create(t); err != nil {
		return "", err
	}
	r.inbox.Enqueue(registry.Message{Content: content, FromAgent: requester, TaskID: id})
	return id, nil
}

// Run executes the main loop until ctx is cancelled or Stop is called
// (spec.md §4.6 step 3).
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case msg := <-r.inbox.Receive():
			r.handle(ctx, msg)
		case <-time.After(pollChunk):
			// This tick only guarantees the select above never blocks
			// longer than pollChunk on an idle inbox. The configured poll
			// interval is not read here; each channel's own Poll/Subscribe
			// loop (pkg/channel.Channel) decides when to re-poll.
		}
	}
}

// Stop requests the main loop to exit; it does not block for exit.
func (r *Runner) Stop() {
	close(r.stopCh)
}

// Done reports a channel that closes once Run has returned.
func (r *Runner) Done() <-chan struct{} { return r.done }

// AgentName returns the agent this Runner was built for, for callers
// that hold a slice of runners and need to route by name (e.g. the
// server's channel ingress handler).
func (r *Runner) AgentName() string { return r.cfg.AgentName }

// Inbox exposes the runner's inbox so a caller can drive turns one at a
// time (as internal/systemai's tests and the system-AI coordinator's
// bring-up code do) instead of only through Run's main loop.
func (r *Runner) Inbox() *registry.Inbox { return r.inbox }

// Handle processes a single inbox message synchronously. Exported so
// callers outside this package can drive one turn deterministically;
// Run itself calls the unexported handle directly from its select loop.
func (r *Runner) Handle(ctx context.Context, msg registry.Message) { r.handle(ctx, msg) }

func (r *Runner) handle(ctx context.Context, msg registry.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Str("agent", r.cfg.AgentName).Msg("runner: recovered from panic handling inbox message")
		}
	}()

	t, err := r.cfg.Tasks.Get(msg.TaskID)
	if err != nil {
		logger.Warn().Err(err).Str("task_id", msg.TaskID).Msg("runner: dropping message for unknown task")
		return
	}

	// Per-message handling (spec.md §4.6): a report against an
	// outstanding delegation of this agent gets the parent's delegation
	// context in its prompt, so the agent sees its own completed
	// sub-delegations instead of re-requesting them.
	dc := &t.DelegationContext
	if isReport(msg.Content) && t.ParentTaskID != "" {
		if parent, perr := r.cfg.Tasks.Get(t.ParentTaskID); perr == nil {
			dc = &parent.DelegationContext
		}
	}

	sysPrompt := r.builder.Build(dc)

	turnCtx, ts := withTurn(ctx, t.ID)
	turnCtx = delegatectx.With(turnCtx, &delegatectx.Chain{
		Depth:        len(msg.Chain),
		MaxDepth:     maxDelegationDepth,
		Agents:       msg.Chain,
		ParentTaskID: t.ID,
	})

	history, herr := r.cfg.Conversations.RecentForAgent(r.cfg.AgentName, conversation.HistoryLimitAgent)
	if herr != nil {
		logger.Warn().Err(herr).Str("agent", r.cfg.AgentName).Msg("runner: failed to load conversation history")
	}

	chatMessages := make([]provider.Message, 0, len(history)+2)
	chatMessages = append(chatMessages, provider.Message{Role: provider.RoleSystem, Content: sysPrompt})
	chatMessages = append(chatMessages, historyToChatMessages(r.cfg.AgentName, history)...)
	chatMessages = append(chatMessages, provider.Message{Role: provider.RoleUser, Content: msg.Content})

	req := provider.ChatRequest{
		Model:          r.cfg.Model,
		Messages:       chatMessages,
		Tools:          buildToolSchema(r.cfg.Dispatcher, r.cfg.AllowedNodes),
		ConversationID: t.ID,
	}

	result, err := runToolLoop(turnCtx, r.cfg.Provider, req, r.cfg.Dispatcher, r.cfg.AllowedNodes, func() bool {
		select {
		case <-r.stopCh:
			return true
		case <-ctx.Done():
			return true
		default:
			return false
		}
	})
	if err != nil {
		logger.Error().Err(err).Str("agent", r.cfg.AgentName).Str("task_id", t.ID).Msg("runner: tool loop failed")
		return
	}
	if result.Cancelled {
		return
	}

	if _, err := r.cfg.Conversations.Append(conversation.Message{
		FromAgent:   r.cfg.AgentName,
		ToAgent:     msg.FromAgent,
		Content:     result.FinalText,
		ContactType: conversation.ContactAgentToAgent,
		TaskID:      t.ID,
	}); err != nil {
		logger.Warn().Err(err).Str("task_id", t.ID).Msg("runner: failed to persist response")
	}

	if result.Approval {
		// Terminal state (spec.md §4.5 S6): the loop already returned,
		// no delegation happened, and auto-reporting must wait for the
		// user's next message rather than closing this task now.
		return
	}

	if ts.calledAgent {
		// Delegation detection (spec.md §4.6): call_agent marked the
		// turn, so the delegated agent's eventual auto-report resumes
		// this chain. Auto-reporting now would be premature.
		return
	}

	if err := r.cfg.Autoreport.Report(turnCtx, t.ID, r.cfg.AgentName, result.FinalText); err != nil {
		logger.Error().Err(err).Str("agent", r.cfg.AgentName).Str("task_id", t.ID).Msg("runner: auto-report failed")
	}
}

func isReport(content string) bool {
	return strings.HasPrefix(content, reportTaskPrefix)
}

// historyToChatMessages converts a bounded window of persisted
// conversation rows (oldest first, per conversation.RecentForAgent)
// into chat messages from agentName's point of view: a row agentName
// sent becomes an assistant turn, everything else a user turn (spec.md
// invariant 8's "at most HISTORY_LIMIT_AGENT prior messages").
func historyToChatMessages(agentName string, history []conversation.Message) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for _, m := range history {
		role := provider.RoleUser
		if m.FromAgent == agentName {
			role = provider.RoleAssistant
		}
		out = append(out, provider.Message{Role: role, Content: m.Content})
	}
	return out
}
