package sessionstore

import (
	"context"

	"github.com/riverrun/agentcp/pkg/models"
)

// Store persists the append-only message log and the sessions that bound it.
// Exactly one session may be models.SessionOpen at a time; implementations
// must enforce this invariant in CreateSession.
type Store interface {
	// CreateSession opens a new session. It returns an error if a session is
	// already open.
	CreateSession(ctx context.Context, session *models.Session) error

	// CloseSession marks the given session closed, recording its handoff
	// summary.
	CloseSession(ctx context.Context, id string, summary string) error

	// OpenSession returns the currently open session, or nil if none is open.
	OpenSession(ctx context.Context) (*models.Session, error)

	// GetSession returns a session by id regardless of status.
	GetSession(ctx context.Context, id string) (*models.Session, error)

	// ListSessions returns sessions in creation order.
	ListSessions(ctx context.Context) ([]*models.Session, error)

	// AppendMessage appends a message to the log for the given session.
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error

	// ReplaceMessages atomically replaces the full message log for a session.
	// Used by the context manager to install a compacted/summarized window.
	ReplaceMessages(ctx context.Context, sessionID string, msgs []*models.Message) error

	// GetHistory returns up to limit most recent messages for a session, in
	// chronological order. limit <= 0 returns the full log.
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}
