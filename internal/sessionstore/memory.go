package sessionstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/riverrun/agentcp/pkg/models"
)

// maxMessagesPerSession limits messages retained per session in memory to
// prevent unbounded growth; compaction should keep real sessions well under
// this before it is ever reached.
const maxMessagesPerSession = 100_000

// ErrSessionAlreadyOpen is returned by CreateSession when a session is
// already open.
var ErrSessionAlreadyOpen = errors.New("sessionstore: a session is already open")

// ErrSessionNotFound is returned when a session id doesn't resolve.
var ErrSessionNotFound = errors.New("sessionstore: session not found")

// MemoryStore is an in-memory Store implementation suitable for tests and
// single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	openID   string
	messages map[string][]*models.Message
}

// NewMemoryStore creates a new in-memory session/message store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*models.Session{},
		messages: map[string][]*models.Message{},
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("sessionstore: session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openID != "" {
		return ErrSessionAlreadyOpen
	}

	clone := cloneSession(session)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.Status = models.SessionOpen
	session.ID = clone.ID
	session.CreatedAt = clone.CreatedAt
	session.Status = clone.Status

	m.sessions[clone.ID] = clone
	m.openID = clone.ID
	return nil
}

func (m *MemoryStore) CloseSession(ctx context.Context, id string, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.Status = models.SessionClosed
	session.Summary = summary
	session.ClosedAt = time.Now()
	if m.openID == id {
		m.openID = ""
	}
	return nil
}

func (m *MemoryStore) OpenSession(ctx context.Context) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.openID == "" {
		return nil, nil
	}
	return cloneSession(m.sessions[m.openID]), nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) ListSessions(ctx context.Context) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, cloneSession(session))
	}
	return out, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("sessionstore: message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.SessionID = sessionID
	m.messages[sessionID] = append(m.messages[sessionID], clone)

	if len(m.messages[sessionID]) > maxMessagesPerSession {
		excess := len(m.messages[sessionID]) - maxMessagesPerSession
		m.messages[sessionID] = m.messages[sessionID][excess:]
	}
	return nil
}

func (m *MemoryStore) ReplaceMessages(ctx context.Context, sessionID string, msgs []*models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	cloned := make([]*models.Message, 0, len(msgs))
	for _, msg := range msgs {
		c := cloneMessage(msg)
		c.SessionID = sessionID
		cloned = append(cloned, c)
	}
	m.messages[sessionID] = cloned
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := m.messages[sessionID]
	if len(messages) == 0 {
		return []*models.Message{}, nil
	}
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	out := make([]*models.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func deepCloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = deepCloneValue(v)
	}
	return clone
}

func deepCloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCloneMap(val)
	case []any:
		cloned := make([]any, len(val))
		for i, item := range val {
			cloned[i] = deepCloneValue(item)
		}
		return cloned
	case []string:
		cloned := make([]string, len(val))
		copy(cloned, val)
		return cloned
	default:
		return v
	}
}

func cloneSession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	clone := *session
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	if msg == nil {
		return nil
	}
	clone := *msg
	if msg.Metadata != nil {
		clone.Metadata = deepCloneMap(msg.Metadata)
	}
	if len(msg.ToolCalls) > 0 {
		clone.ToolCalls = append([]models.ToolCall{}, msg.ToolCalls...)
	}
	if len(msg.ToolResults) > 0 {
		clone.ToolResults = append([]models.ToolResult{}, msg.ToolResults...)
	}
	return &clone
}
