// Package store composes the session/message log, the background-task
// registry, notables, and reserved key-value state into the single facade
// the FSM's effect executor talks to. The pieces underneath -- sessionstore
// and tasks -- stay independently testable; this package wires them together
// and adds the two concerns that don't deserve their own package: notables
// and KV state.
package store

import (
	"context"
	"errors"

	"github.com/riverrun/agentcp/internal/tasks"
	"github.com/riverrun/agentcp/pkg/models"
)

// Reserved KV keys. The FSM reads/writes these directly; everything else in
// the KV namespace is free for tools and operators to use.
const (
	KeyMode    = "mode"     // "conversation" or "autonomous"
	KeyDelayMS = "delay_ms" // autonomous tick delay, milliseconds
)

// ErrNotFound is returned by KV reads for unset keys and by Notable/task
// lookups that don't resolve.
var ErrNotFound = errors.New("store: not found")

// Store is the facade the agent FSM's effect executor depends on. It is the
// single collaborator through which effects touch durable state.
type Store interface {
	// Session lifecycle. See sessionstore.Store for the single-open-session
	// invariant this must enforce.
	OpenSession(ctx context.Context) (*models.Session, error)
	CreateSession(ctx context.Context) (*models.Session, error)
	CloseSession(ctx context.Context, sessionID string, summary string) error

	// Message log.
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	ReplaceMessages(ctx context.Context, sessionID string, msgs []*models.Message) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// Notables.
	AddNotable(ctx context.Context, notable *models.Notable) error
	ListNotables(ctx context.Context, sessionID string) ([]*models.Notable, error)

	// Background tasks.
	Tasks() tasks.Store

	// KV state. Values are opaque strings; callers own serialization for
	// anything richer.
	GetKV(ctx context.Context, key string) (string, bool)
	SetKV(ctx context.Context, key, value string)
}
