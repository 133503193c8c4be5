// Package store defines the persistence interface and implementations.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/lmarchetti42/chatform/domain"
)

// Store is the persistence collaborator: it supplies prior message history on
// session hydration and records completed sessions and messages.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)
	UpdateSessionUsage(ctx context.Context, sessionID string, tokens int, cost decimal.Decimal) error
	SetSessionExecution(ctx context.Context, sessionID, executionID, title string) error

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	UpdateMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)

	// Lifecycle
	Close() error
}
