package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/riverrun/agentcp/internal/sessionstore"
	"github.com/riverrun/agentcp/internal/tasks"
	"github.com/riverrun/agentcp/pkg/models"
)

// MemoryStore is the in-memory Store facade used in tests and single-process
// deployments. It composes a sessionstore.Store and a tasks.Store and adds
// its own notable log and KV map.
type MemoryStore struct {
	sessions sessionstore.Store
	tasks    tasks.Store

	mu       sync.RWMutex
	notables map[string][]*models.Notable
	kv       map[string]string
}

// NewMemoryStore builds a ready-to-use in-memory Store facade.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: sessionstore.NewMemoryStore(),
		tasks:    tasks.NewMemoryStore(),
		notables: make(map[string][]*models.Notable),
		kv:       make(map[string]string),
	}
}

func (m *MemoryStore) OpenSession(ctx context.Context) (*models.Session, error) {
	return m.sessions.OpenSession(ctx)
}

func (m *MemoryStore) CreateSession(ctx context.Context) (*models.Session, error) {
	session := &models.Session{CreatedAt: time.Now()}
	if err := m.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (m *MemoryStore) CloseSession(ctx context.Context, sessionID string, summary string) error {
	return m.sessions.CloseSession(ctx, sessionID, summary)
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	return m.sessions.AppendMessage(ctx, sessionID, msg)
}

func (m *MemoryStore) ReplaceMessages(ctx context.Context, sessionID string, msgs []*models.Message) error {
	return m.sessions.ReplaceMessages(ctx, sessionID, msgs)
}

func (m *MemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	return m.sessions.GetHistory(ctx, sessionID, limit)
}

func (m *MemoryStore) AddNotable(ctx context.Context, notable *models.Notable) error {
	if notable == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *notable
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	notable.ID = clone.ID
	notable.CreatedAt = clone.CreatedAt
	m.notables[clone.SessionID] = append(m.notables[clone.SessionID], &clone)
	return nil
}

func (m *MemoryStore) ListNotables(ctx context.Context, sessionID string) ([]*models.Notable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.notables[sessionID]
	out := make([]*models.Notable, len(src))
	for i, n := range src {
		clone := *n
		out[i] = &clone
	}
	return out, nil
}

func (m *MemoryStore) Tasks() tasks.Store {
	return m.tasks
}

func (m *MemoryStore) GetKV(ctx context.Context, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[key]
	return v, ok
}

func (m *MemoryStore) SetKV(ctx context.Context, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
}
