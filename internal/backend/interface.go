package backend

import (
	"context"

	"ricorrenti/internal/amqp"
	"ricorrenti/internal/ledger"
)

// Store is everything the recurrence engine needs from persistence.
type Store interface {
	ledger.PaymentStore
	ledger.TransactionLedger
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Store Store
	// Events is nil when AMQP is disabled or unreachable at startup.
	Events  *amqp.Client
	Cleanup CleanupFunc
}

// Publisher returns Events as a ledger.EventPublisher, or a nil interface
// when no client was created.
func (r *BackendResult) Publisher() ledger.EventPublisher {
	if r == nil || r.Events == nil {
		return nil
	}
	return r.Events
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Memory backend specific
	DataDirectory string

	// Optional event publishing, shared by both backends
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
