// Package conversation persists the message log between agents, users,
// and channels, and exposes bounded history windows for prompt building.
package conversation

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentcore/internal/store"

	"github.com/google/uuid"
)

// HistoryLimitAgent is the default number of prior messages included when
// building an agent's prompt context (spec invariant 8).
const HistoryLimitAgent = 40

// ContactType discriminates the kind of traffic a message represents.
type ContactType string

const (
	ContactUserToAgent      ContactType = "user_to_agent"
	ContactAgentToAgent     ContactType = "agent_to_agent"
	ContactDelegation       ContactType = "delegation"
	ContactExternalChannel  ContactType = "external_channel"
)

// ErrNotFound is returned when a message id has no matching row.
var ErrNotFound = errors.New("conversation: not found")

// Message is one entry in the conversation log.
type Message struct {
	ID          string
	FromAgent   string
	ToAgent     string
	Content     string
	ContactType ContactType
	TaskID      string // "" if unscoped
	CreatedAt   time.Time
}

// Store is the conversation store.
type Store struct {
	db *store.DB
}

// New wraps db as a conversation Store.
func New(db *store.DB) *Store {
	return &Store{db: db}
}

// Append records a message and returns its generated id.
func (s *Store) Append(m Message) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.ContactType == "" {
		m.ContactType = ContactAgentToAgent
	}

	var taskID any
	if m.TaskID != "" {
		taskID = m.TaskID
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (id, from_agent, to_agent, content, contact_type, task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.FromAgent, m.ToAgent, m.Content, string(m.ContactType), taskID, m.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	return m.ID, nil
}

// RecentForAgent returns up to limit most recent messages addressed to or
// from agentID, oldest first, suitable for direct inclusion in a prompt.
// A limit <= 0 uses HistoryLimitAgent.
func (s *Store) RecentForAgent(agentID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = HistoryLimitAgent
	}

	rows, err := s.db.Query(`
		SELECT id, from_agent, to_agent, content, contact_type, task_id, created_at
		FROM messages
		WHERE from_agent = ? OR to_agent = ?
		ORDER BY created_at DESC
		LIMIT ?`, agentID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// ForTask returns all messages tagged with taskID, oldest first, used to
// reconstruct delegation history when an agent resumes mid-chain.
func (s *Store) ForTask(taskID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, from_agent, to_agent, content, contact_type, task_id, created_at
		FROM messages WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query task messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var contactType string
		var taskID sql.NullString
		if err := rows.Scan(&m.ID, &m.FromAgent, &m.ToAgent, &m.Content, &contactType, &taskID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ContactType = ContactType(contactType)
		if taskID.Valid {
			m.TaskID = taskID.String
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
