// Package autoreport implements the auto-report engine: when an agent
// finishes a task without delegating further, it walks the task graph
// one hop toward the root, combining sibling responses when a parallel
// delegation fan-out completes, and finally lands the terminal result
// back at whichever channel originated the root task.
//
// Grounded on the teacher's internal/runner/delegate/tracker.go atomic
// pending-counter pattern, generalized from "audit log" bookkeeping to
// the actual fan-in/forward algorithm the task store's
// DecrementPendingAndUpdateContext primitive was built for.
package autoreport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	channelreg "agentcore/internal/channel"
	"agentcore/internal/registry"
	"agentcore/internal/store/task"
	channelpkg "agentcore/pkg/channel"
	"agentcore/pkg/logger"

	"github.com/google/uuid"
)

// maxInlinePayload is the threshold past which a report payload is
// spilled to disk and replaced with a path + summary, so a parent
// agent's prompt never absorbs an unbounded blob.
const maxInlinePayload = 2000

const parallelDigestHeader = "[병렬 위임 결과 통합 보고]"

// Engine drives one project's auto-report chain. Construct one per
// project; the system-AI runner gets its own Engine over its separate
// task store (spec.md §4.8).
type Engine struct {
	projectID      string
	tasks          *task.Store
	agents         *registry.Registry
	channels       *channelreg.Registry
	outputsDir     string
	peer           *Peer
	systemAITarget *registry.Key
}

// Peer points an Engine at the task store and registry project
// namespace on the other side of the system-AI boundary (spec.md
// §4.8: "the auto-report engine detects the system_ai channel and
// bridges between stores when reporting parent↔child across the
// boundary"). A project Engine's peer is the system-AI store; the
// system-AI Engine's peer is set per call by internal/systemai's
// call_project_agent tool, one project at a time, since system-AI has
// no single fixed "other side."
type Peer struct {
	ProjectID string
	Tasks     *task.Store
}

// SetPeer wires the cross-boundary store/namespace a parent lookup
// falls back to when it misses in this Engine's own store.
func (e *Engine) SetPeer(p Peer) { e.peer = &p }

// SetSystemAITarget wires the registry key a root task whose
// requester_channel is "system_ai" reports back to, instead of an
// external channel.
func (e *Engine) SetSystemAITarget(key registry.Key) { e.systemAITarget = &key }

// New builds an Engine. outputsDir is where oversized payloads spill
// (created lazily on first write).
func New(projectID string, tasks *task.Store, agents *registry.Registry, channels *channelreg.Registry, outputsDir string) *Engine {
	return &Engine{
		projectID:  projectID,
		tasks:      tasks,
		agents:     agents,
		channels:   channels,
		outputsDir: outputsDir,
	}
}

// Report is called by the agent runner once an agent's AI turn finishes
// without invoking call_agent. taskID is the task the agent was working
// on; fromAgent and response are that agent's completed output.
func (e *Engine) Report(ctx context.Context, taskID, fromAgent, response string) error {
	t, err := e.tasks.Get(taskID)
	if err != nil {
		return fmt.Errorf("autoreport: load task %s: %w", taskID, err)
	}

	if t.IsRoot() {
		if err := e.deliverRoot(ctx, t, response); err != nil {
			return err
		}
		_ = e.tasks.Delete(t.ID)
		return nil
	}

	return e.deliverToParent(ctx, t, fromAgent, response)
}

func (e *Engine) deliverToParent(ctx context.Context, child *task.Task, fromAgent, response string) error {
	parentID := child.ParentTaskID
	parentStore, parentProjectID := e.resolveParentStore(parentID)

	remaining, err := parentStore.DecrementPendingAndUpdateContext(parentID, func(dc *task.DelegationContext) {
		dc.Responses = append(dc.Responses, task.Response{
			ChildTaskID: child.ID,
			FromAgent:   fromAgent,
			Response:    response,
			CompletedAt: time.Now(),
		})
	})
	if err != nil {
		return fmt.Errorf("autoreport: decrement pending for parent %s: %w", parentID, err)
	}
	if err := e.tasks.Complete(child.ID, response); err != nil {
		return fmt.Errorf("autoreport: complete child task %s: %w", child.ID, err)
	}
	if err := e.tasks.Delete(child.ID); err != nil {
		logger.Warn().Err(err).Str("task_id", child.ID).Msg("autoreport: delete completed child task")
	}

	if remaining > 0 {
		// Siblings still outstanding; this completion is persisted in
		// the parent's delegation context but produces no forward yet.
		return nil
	}

	parent, err := parentStore.Get(parentID)
	if err != nil {
		return fmt.Errorf("autoreport: load parent task %s: %w", parentID, err)
	}

	// Two or more delegations in the parent's current cycle are a
	// parallel fan-out: the last reporter forwards one digest of them all.
	var payload string
	if len(parent.DelegationContext.Delegations) >= 2 {
		payload = buildParallelDigest(parent.DelegationContext.Responses)
	} else {
		payload = response
	}

	framed := fmt.Sprintf("[task:%s] 완료.\n%s", parentID, spillIfLarge(e.outputsDir, payload))

	target := registry.Key{ProjectID: parentProjectID, AgentID: parent.DelegatedTo}
	if ok := e.agents.Send(target, registry.Message{Content: framed, FromAgent: fromAgent, TaskID: parentID}); !ok {
		return fmt.Errorf("autoreport: parent agent %s is not registered", parent.DelegatedTo)
	}
	return nil
}

// resolveParentStore picks whichever store actually holds parentID:
// this Engine's own store, or — when a peer is wired and the parent
// isn't local — the store on the other side of the system-AI
// boundary. A project Engine's child tasks are always local to it;
// only the parent can be foreign, and only when that parent was
// created by a cross-boundary delegation (internal/systemai's
// call_project_agent).
func (e *Engine) resolveParentStore(parentID string) (*task.Store, string) {
	if e.peer == nil {
		return e.tasks, e.projectID
	}
	if _, err := e.tasks.Get(parentID); err == nil || !errors.Is(err, task.ErrNotFound) {
		return e.tasks, e.projectID
	}
	return e.peer.Tasks, e.peer.ProjectID
}

func buildParallelDigest(responses []task.Response) string {
	var b strings.Builder
	b.WriteString(parallelDigestHeader)
	b.WriteString("\n\n")
	for _, r := range responses {
		b.WriteString("◆ ")
		b.WriteString(r.FromAgent)
		b.WriteString(":\n")
		b.WriteString(r.Response)
		b.WriteString("\n\n")
	}
	return b.String()
}

// spillIfLarge writes payload to outputsDir and returns a path+summary
// reference when payload exceeds maxInlinePayload; otherwise it returns
// payload unchanged.
func spillIfLarge(outputsDir, payload string) string {
	if len(payload) <= maxInlinePayload || outputsDir == "" {
		return payload
	}
	if err := os.MkdirAll(outputsDir, 0755); err != nil {
		logger.Warn().Err(err).Msg("autoreport: create outputs dir for payload spill")
		return payload
	}
	name := fmt.Sprintf("report-%s.txt", uuid.NewString())
	path := filepath.Join(outputsDir, name)
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("autoreport: spill payload to disk")
		return payload
	}
	summary := payload
	if len(summary) > 200 {
		summary = summary[:200] + "…"
	}
	return fmt.Sprintf("[result written to %s, %d bytes]\n%s", path, len(payload), summary)
}

// deliverRoot routes a root task's terminal result to whichever channel
// originated it. Gmail/Nostr send through the channel's SendMessage;
// GUI addresses its persisted ws_client_id; system_ai hands the result
// straight back into the system-AI agent's own inbox via the shared
// registry (spec.md §4.1's requester_channel value for messages that
// originated inside system-AI itself, not at an external channel); any
// other requester_channel value is a configuration error — there is
// nothing external to reply to, so it is surfaced rather than silently
// dropped.
func (e *Engine) deliverRoot(ctx context.Context, t *task.Task, response string) error {
	if t.RequesterChannel == task.ChannelSystemAI {
		if e.systemAITarget == nil {
			return fmt.Errorf("%w: %s", ErrUnroutableChannel, t.RequesterChannel)
		}
		framed := fmt.Sprintf("[task:%s] 완료.\n%s", t.ID, spillIfLarge(e.outputsDir, response))
		if ok := e.agents.Send(*e.systemAITarget, registry.Message{Content: framed, FromAgent: t.DelegatedTo, TaskID: t.ID}); !ok {
			return fmt.Errorf("autoreport: system-AI agent is not registered")
		}
		return nil
	}

	switch t.RequesterChannel {
	case task.ChannelGUI, task.ChannelGmail, task.ChannelNostr:
	default:
		return fmt.Errorf("%w: %s", ErrUnroutableChannel, t.RequesterChannel)
	}

	ch, ok := e.channels.Get(channelpkg.ChannelType(t.RequesterChannel))
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotLive, t.RequesterChannel)
	}

	out := channelpkg.OutboundMessage{
		ChannelType: channelpkg.ChannelType(t.RequesterChannel),
		ChatID:      rootRecipient(t),
		Content:     spillIfLarge(e.outputsDir, response),
		Metadata:    map[string]any{"agent": t.DelegatedTo},
	}

	if err := ch.SendMessage(ctx, out); err != nil {
		// Supplemented from original_source/: a single synchronous
		// direct-reply retry before giving up, per spec.md §7's
		// documented fallback-on-terminal-delivery-failure behavior.
		logger.Warn().Err(err).Str("task_id", t.ID).Msg("autoreport: root delivery failed, retrying once")
		if retryErr := ch.SendMessage(ctx, out); retryErr != nil {
			// Both sends failed: the result is still persisted and the
			// task marked completed before the error is returned.
			if err := e.tasks.Complete(t.ID, response); err != nil {
				logger.Warn().Err(err).Str("task_id", t.ID).Msg("autoreport: complete undelivered root task")
			}
			return fmt.Errorf("autoreport: deliver root report for task %s: %w", t.ID, retryErr)
		}
	}
	return nil
}

func rootRecipient(t *task.Task) string {
	if t.RequesterChannel == task.ChannelGUI {
		return t.WSClientID
	}
	return t.Requester
}
