package runner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"agentcore/internal/autoreport"
	channelreg "agentcore/internal/channel"
	"agentcore/internal/channel/gui"
	"agentcore/internal/ibl"
	"agentcore/internal/prompt"
	"agentcore/internal/provider"
	"agentcore/internal/registry"
	"agentcore/internal/store"
	"agentcore/internal/store/conversation"
	"agentcore/internal/store/task"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	frames []gui.Frame
}

func (f *fakeConn) WriteJSON(v any) error {
	frame, _ := v.(gui.Frame)
	f.frames = append(f.frames, frame)
	return nil
}

func newTestRunner(t *testing.T, agentName string, rounds [][]provider.ChatEvent) (*Runner, *registry.Registry, *task.Store, *channelreg.Registry) {
	t.Helper()

	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tasks := task.New(db)
	conversations := conversation.New(db)
	agents := registry.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go agents.Run(ctx)

	dispatcher := ibl.NewDispatcher()
	channels := channelreg.NewRegistry()
	ar := autoreport.New("P1", tasks, agents, channels, t.TempDir())

	r := New(Config{
		ProjectID:     "P1",
		AgentName:     agentName,
		Profile:       prompt.AgentProfile{Name: agentName, RoleDescription: "you help."},
		Provider:      &scriptedProvider{rounds: rounds},
		Dispatcher:    dispatcher,
		Agents:        agents,
		Tasks:         tasks,
		Conversations: conversations,
		Channels:      channels,
		Autoreport:    ar,
	})
	dispatcher.RegisterNode(r.SystemNode())

	return r, agents, tasks, channels
}

func TestRunner_CallAgentSuppressesAutoReport(t *testing.T) {
	callArgs, _ := json.Marshal(map[string]any{"agent": "B", "message": "do X"})
	rounds := [][]provider.ChatEvent{
		{
			{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{ID: "1", Name: "system__delegate", Arguments: string(callArgs)}},
			{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonToolCalls},
		},
		{
			{Type: provider.EventTypeContent, Delta: "delegated, waiting"},
			{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonStop},
		},
	}
	rA, agents, tasks, _ := newTestRunner(t, "A", rounds)

	// B must be registered so call_agent's Send succeeds.
	bKey := registry.Key{ProjectID: "P1", AgentID: "B"}
	bInbox, _ := agents.Register(bKey, registry.AgentInfo{Key: bKey, Live: true})

	taskID, err := rA.Accept("gui-user", task.ChannelGUI, "ws-1", "please do something")
	require.NoError(t, err)

	msg := <-rA.inbox.Receive()
	rA.handle(context.Background(), msg)

	// The root task must still exist (not auto-reported/deleted): the
	// delegation is in flight and B's eventual report resumes the chain.
	got, err := tasks.Get(taskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusPending, got.Status)
	require.Equal(t, 1, got.PendingDelegations)

	select {
	case delivered := <-bInbox.Receive():
		require.Equal(t, "do X", delivered.Content)
		require.Equal(t, "A", delivered.FromAgent)
		require.Equal(t, []string{"B"}, delivered.Chain)
	case <-time.After(time.Second):
		t.Fatal("B never received the delegated message")
	}
}

func TestRunner_DirectReplyTriggersAutoReport(t *testing.T) {
	rounds := [][]provider.ChatEvent{
		{
			{Type: provider.EventTypeContent, Delta: "hi there"},
			{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonStop},
		},
	}
	rA, _, tasks, channels := newTestRunner(t, "A", rounds)

	conn := &fakeConn{}
	guiCh := gui.New(gui.Config{Enabled: true})
	guiCh.RegisterClient("ws-1", conn)
	require.NoError(t, guiCh.Start(context.Background()))
	channels.Register(guiCh)

	taskID, err := rA.Accept("gui-user", task.ChannelGUI, "ws-1", "hello")
	require.NoError(t, err)

	msg := <-rA.inbox.Receive()
	rA.handle(context.Background(), msg)

	require.Len(t, conn.frames, 1)
	require.Equal(t, "hi there", conn.frames[0].Content)

	_, err = tasks.Get(taskID)
	require.ErrorIs(t, err, task.ErrNotFound)
}

func TestIsReport(t *testing.T) {
	require.True(t, isReport("[task:abc] 완료.\nresult"))
	require.False(t, isReport("just a normal message"))
}
