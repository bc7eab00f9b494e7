package task

import (
	"testing"

	"agentcore/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	tk := &Task{
		ID:               "t1",
		Requester:        "alice",
		RequesterChannel: ChannelGmail,
		OriginalRequest:  "summarize the quarterly report",
		DelegatedTo:      "researcher",
	}
	require.NoError(t, s.Create(tk))

	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Requester)
	assert.Equal(t, StatusPending, got.Status)
	assert.True(t, got.IsRoot())
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestComplete_Idempotent(t *testing.T) {
	s := newTestStore(t)
	tk := &Task{ID: "t1", Requester: "alice", RequesterChannel: ChannelGUI,
		OriginalRequest: "x", DelegatedTo: "writer"}
	require.NoError(t, s.Create(tk))

	require.NoError(t, s.Complete("t1", "done"))
	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "done", got.ResultSummary)
	require.NotNil(t, got.CompletedAt)

	// Re-issuing complete_task is a no-op, not an error.
	require.NoError(t, s.Complete("t1", "done again"))
	got2, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "done", got2.ResultSummary)
}

func TestDecrementPendingAndUpdateContext(t *testing.T) {
	s := newTestStore(t)
	parent := &Task{
		ID: "parent", Requester: "alice", RequesterChannel: ChannelNostr,
		OriginalRequest: "research and write", DelegatedTo: "coordinator",
		PendingDelegations: 2,
	}
	require.NoError(t, s.Create(parent))

	remaining, err := s.DecrementPendingAndUpdateContext("parent", func(dc *DelegationContext) {
		dc.Responses = append(dc.Responses, Response{
			ChildTaskID: "child1", FromAgent: "researcher", Response: "findings",
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	remaining, err = s.DecrementPendingAndUpdateContext("parent", func(dc *DelegationContext) {
		dc.Responses = append(dc.Responses, Response{
			ChildTaskID: "child2", FromAgent: "writer", Response: "draft",
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	got, err := s.Get("parent")
	require.NoError(t, err)
	assert.Len(t, got.DelegationContext.Responses, 2)
}

func TestDecrementPendingAndUpdateContext_FloorsAtZero(t *testing.T) {
	s := newTestStore(t)
	parent := &Task{ID: "parent", Requester: "alice", RequesterChannel: ChannelGUI,
		OriginalRequest: "x", DelegatedTo: "agent", PendingDelegations: 0}
	require.NoError(t, s.Create(parent))

	remaining, err := s.DecrementPendingAndUpdateContext("parent", func(dc *DelegationContext) {})
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestUpdateDelegation(t *testing.T) {
	s := newTestStore(t)
	parent := &Task{ID: "parent", Requester: "alice", RequesterChannel: ChannelGUI,
		OriginalRequest: "x", DelegatedTo: "coordinator"}
	require.NoError(t, s.Create(parent))

	require.NoError(t, s.UpdateDelegation("parent", func(dc *DelegationContext) {
		dc.Delegations = append(dc.Delegations, Delegation{
			ChildTaskID: "c1", DelegatedTo: "researcher", Message: "find facts",
		})
	}))

	got, err := s.Get("parent")
	require.NoError(t, err)
	assert.Equal(t, 1, got.PendingDelegations)
	assert.Len(t, got.DelegationContext.Delegations, 1)
}

func TestStartNewCycle_PreservesCompleted(t *testing.T) {
	dc := &DelegationContext{
		Completed:   []CompletedDelegation{{To: "researcher", Message: "m", Result: "r"}},
		Delegations: []Delegation{{ChildTaskID: "c1"}},
		Responses:   []Response{{ChildTaskID: "c1"}},
	}
	dc.StartNewCycle()
	assert.Len(t, dc.Completed, 1)
	assert.Nil(t, dc.Delegations)
	assert.Nil(t, dc.Responses)
}

func TestPendingForAgent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(&Task{ID: "t1", Requester: "alice", RequesterChannel: ChannelGUI,
		OriginalRequest: "x", DelegatedTo: "researcher"}))
	require.NoError(t, s.Create(&Task{ID: "t2", Requester: "bob", RequesterChannel: ChannelGUI,
		OriginalRequest: "y", DelegatedTo: "writer"}))

	tasks, err := s.PendingForAgent("researcher")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].ID)
}
