// Package task persists the task graph: parent/child edges, delegation
// contexts, and the atomic pending-delegation counter that the
// auto-report engine relies on to fan in parallel sibling completions
// exactly once.
package task

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"agentcore/internal/store"
)

// Channel identifies where a root task originated, and therefore where
// its terminal report must be delivered.
type Channel string

const (
	ChannelGUI      Channel = "gui"
	ChannelGmail    Channel = "gmail"
	ChannelNostr    Channel = "nostr"
	ChannelInternal Channel = "internal"
	ChannelSystemAI Channel = "system_ai"
)

// Status is a task's lifecycle state. It only ever moves pending -> completed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ErrNotFound is returned when a task id has no matching row.
var ErrNotFound = errors.New("task: not found")

// CompletedDelegation is a historical record of a child task this task
// previously delegated and received a response for, preserved across
// delegation cycles so the delegating agent remembers what it already
// outsourced.
type CompletedDelegation struct {
	To          string    `json:"to"`
	Message     string    `json:"message"`
	Result      string    `json:"result"`
	CompletedAt time.Time `json:"completed_at"`
}

// Delegation is a current-cycle outbound delegation request.
type Delegation struct {
	ChildTaskID     string    `json:"child_task_id"`
	DelegatedTo     string    `json:"delegated_to"`
	Message         string    `json:"delegation_message"`
	DelegationTime  time.Time `json:"delegation_time"`
}

// Response is a reply collected so far in the current delegation cycle.
type Response struct {
	ChildTaskID string    `json:"child_task_id"`
	FromAgent   string    `json:"from_agent"`
	Response    string    `json:"response"`
	CompletedAt time.Time `json:"completed_at"`
}

// DelegationContext is a task's structured memory of outbound requests,
// incoming responses, and historical delegation cycles.
type DelegationContext struct {
	OriginalRequest string                `json:"original_request"`
	Requester       string                `json:"requester"`
	Completed       []CompletedDelegation `json:"completed"`
	Delegations     []Delegation          `json:"delegations"`
	Responses       []Response            `json:"responses"`
}

// StartNewCycle preserves Completed but clears Delegations/Responses.
// UpdateDelegation detects the cycle boundary (pending_delegations == 0
// && len(delegations) > 0), moves the finished exchanges into Completed,
// and then invokes this.
func (dc *DelegationContext) StartNewCycle() {
	dc.Delegations = nil
	dc.Responses = nil
}

// Task is the core entity of the orchestration graph.
type Task struct {
	ID                 string
	Requester          string
	RequesterChannel   Channel
	OriginalRequest    string
	DelegatedTo        string
	ParentTaskID       string // "" for root tasks
	Status             Status
	ResultSummary      string
	DelegationContext  DelegationContext
	PendingDelegations int
	WSClientID         string
	CreatedAt          time.Time
	CompletedAt        *time.Time
}

// IsRoot reports whether this task has no parent.
func (t *Task) IsRoot() bool { return t.ParentTaskID == "" }

// Store is the task store, backed by one SQLite database per project
// (or, for the system-AI runner, the process-wide system_ai_memory.db).
type Store struct {
	db *store.DB
}

// New wraps db as a task Store.
func New(db *store.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new pending task.
func (s *Store) Create(t *Task) error {
	if t.ID == "" {
		return fmt.Errorf("task: id is required")
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	ctxJSON, err := json.Marshal(t.DelegationContext)
	if err != nil {
		return fmt.Errorf("marshal delegation context: %w", err)
	}

	var parentID, wsClientID *string
	if t.ParentTaskID != "" {
		parentID = &t.ParentTaskID
	}
	if t.WSClientID != "" {
		wsClientID = &t.WSClientID
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (task_id, requester, requester_channel, original_request,
			delegated_to, parent_task_id, status, result_summary, delegation_context,
			pending_delegations, ws_client_id, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		t.ID, t.Requester, string(t.RequesterChannel), t.OriginalRequest,
		t.DelegatedTo, parentID, string(t.Status), nullString(t.ResultSummary),
		string(ctxJSON), t.PendingDelegations, wsClientID, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get loads a task by id.
func (s *Store) Get(id string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT task_id, requester, requester_channel, original_request, delegated_to,
			parent_task_id, status, result_summary, delegation_context,
			pending_delegations, ws_client_id, created_at, completed_at
		FROM tasks WHERE task_id = ?`, id)
	return scanTask(row)
}

// Complete marks a task completed with the given result summary. It is a
// no-op (not an error) if the task is already completed, satisfying the
// "re-issuing complete_task is a no-op" idempotence property.
func (s *Store) Complete(id, summary string) error {
	now := time.Now()
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, result_summary = ?, completed_at = ?
		WHERE task_id = ? AND status = ?`,
		string(StatusCompleted), summary, now, id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either missing or already completed; distinguish for callers
		// that care, but either way there is nothing further to do.
		if _, err := s.Get(id); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a task's row. Root tasks are destroyed shortly after
// their report is delivered; non-root tasks are destroyed on completion.
func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE task_id = ?`, id)
	return err
}

// UpdateDelegation appends a delegation record to the parent's context
// and bumps pending_delegations in one transaction.
func (s *Store) UpdateDelegation(parentID string, mutate func(dc *DelegationContext)) error {
	return s.db.WithTx(func(tx *store.Tx) error {
		row := tx.QueryRow(`SELECT delegation_context, pending_delegations FROM tasks WHERE task_id = ? `, parentID)
		var ctxJSON string
		var pending int
		if err := row.Scan(&ctxJSON, &pending); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		var dc DelegationContext
		if err := json.Unmarshal([]byte(ctxJSON), &dc); err != nil {
			return fmt.Errorf("unmarshal delegation context: %w", err)
		}
		// Every earlier delegation has reported back: archive that cycle
		// into Completed before recording the new delegation.
		if pending == 0 && len(dc.Delegations) > 0 {
			for _, d := range dc.Delegations {
				for _, r := range dc.Responses {
					if r.ChildTaskID == d.ChildTaskID {
						dc.Completed = append(dc.Completed, CompletedDelegation{To: d.DelegatedTo, Message: d.Message, Result: r.Response, CompletedAt: r.CompletedAt})
					}
				}
			}
			dc.StartNewCycle()
		}
		mutate(&dc)
		newJSON, err := json.Marshal(dc)
		if err != nil {
			return fmt.Errorf("marshal delegation context: %w", err)
		}
		_, err = tx.Exec(`UPDATE tasks SET delegation_context = ?, pending_delegations = pending_delegations + 1 WHERE task_id = ?`,
			string(newJSON), parentID)
		return err
	})
}

// maxDecrementAttempts bounds the SQLITE_BUSY retry loop for the
// decrement below; the busy_timeout pragma already waits out most
// lock contention, this is a backstop against serialization failures.
const maxDecrementAttempts = 5

// DecrementPendingAndUpdateContext is the critical atomic operation: under
// an exclusive transaction it writes the updated delegation context,
// decrements pending_delegations by 1 with a floor of 0, and returns the
// new pending count. Two children completing nearly simultaneously must
// never both observe "I am last" nor both lose their decrement — the
// transaction plus _txlock=immediate on the DSN gives serialized
// read-modify-write across connections.
func (s *Store) DecrementPendingAndUpdateContext(parentID string, mutate func(dc *DelegationContext)) (int, error) {
	var remaining int
	var err error
	for attempt := 0; attempt < maxDecrementAttempts; attempt++ {
		remaining, err = s.decrementOnce(parentID, mutate)
		if err == nil {
			return remaining, nil
		}
		if !isBusy(err) {
			return 0, err
		}
		time.Sleep(time.Duration(10+rand.Intn(40)) * time.Millisecond)
	}
	return 0, err
}

func (s *Store) decrementOnce(parentID string, mutate func(dc *DelegationContext)) (int, error) {
	var remaining int
	err := s.db.WithTx(func(tx *store.Tx) error {
		row := tx.QueryRow(`SELECT delegation_context, pending_delegations FROM tasks WHERE task_id = ?`, parentID)
		var ctxJSON string
		var pending int
		if err := row.Scan(&ctxJSON, &pending); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		var dc DelegationContext
		if err := json.Unmarshal([]byte(ctxJSON), &dc); err != nil {
			return fmt.Errorf("unmarshal delegation context: %w", err)
		}
		mutate(&dc)
		newJSON, err := json.Marshal(dc)
		if err != nil {
			return fmt.Errorf("marshal delegation context: %w", err)
		}

		remaining = pending - 1
		if remaining < 0 {
			remaining = 0
		}
		_, err = tx.Exec(`UPDATE tasks SET delegation_context = ?, pending_delegations = ? WHERE task_id = ?`,
			string(newJSON), remaining, parentID)
		return err
	})
	return remaining, err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return contains(msg, "busy") || contains(msg, "locked")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

// PendingForAgent returns pending tasks delegated to the given agent,
// used by the agent runner to notice reports-in-flight it should expect.
func (s *Store) PendingForAgent(agentName string) ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT task_id, requester, requester_channel, original_request, delegated_to,
			parent_task_id, status, result_summary, delegation_context,
			pending_delegations, ws_client_id, created_at, completed_at
		FROM tasks WHERE delegated_to = ? AND status = ?`, agentName, string(StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var t Task
	var requesterChannel, status string
	var parentID, resultSummary, wsClientID sql.NullString
	var ctxJSON string
	var completedAt sql.NullTime

	err := row.Scan(&t.ID, &t.Requester, &requesterChannel, &t.OriginalRequest, &t.DelegatedTo,
		&parentID, &status, &resultSummary, &ctxJSON, &t.PendingDelegations, &wsClientID,
		&t.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.RequesterChannel = Channel(requesterChannel)
	t.Status = Status(status)
	if parentID.Valid {
		t.ParentTaskID = parentID.String
	}
	if resultSummary.Valid {
		t.ResultSummary = resultSummary.String
	}
	if wsClientID.Valid {
		t.WSClientID = wsClientID.String
	}
	if completedAt.Valid {
		ct := completedAt.Time
		t.CompletedAt = &ct
	}
	if err := json.Unmarshal([]byte(ctxJSON), &t.DelegationContext); err != nil {
		return nil, fmt.Errorf("unmarshal delegation context: %w", err)
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
