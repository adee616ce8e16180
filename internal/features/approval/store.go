package approval

import (
	"context"
	"errors"
	"time"
)

var (
	ErrStoreNotFound = errors.New("approval store: not found")
	// ErrDuplicate is returned when a user already holds a pending record at
	// the same level of the same entity.
	ErrDuplicate = errors.New("approval store: duplicate pending record")
)

// Store persists entities and their approval records.
type Store interface {
	// Transact runs fn in one storage transaction. Any error from fn discards
	// every write made through tx. fn may be retried by the driver.
	Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateEntity(ctx context.Context, entity Entity, records []ApprovalRecord) error
	GetEntity(ctx context.Context, entityType EntityType, id string) (*Entity, error)
	// ListOpenEntities returns the entities whose status is not one of terminal.
	ListOpenEntities(ctx context.Context, entityType EntityType, terminal []string) ([]Entity, error)
	ListRecords(ctx context.Context, entityType EntityType, entityID string) ([]ApprovalRecord, error)
	ListPendingForUser(ctx context.Context, userID string) ([]ApprovalRecord, error)
	InsertRecord(ctx context.Context, rec ApprovalRecord) error
	EnsureSchema(ctx context.Context) error
}

// Tx is the transactional view used by transitions and reconciliation.
type Tx interface {
	// LockEntity reads the entity and holds it until the transaction ends.
	LockEntity(ctx context.Context, entityType EntityType, id string) (*Entity, error)
	GetRecord(ctx context.Context, id string) (*ApprovalRecord, error)
	ListRecords(ctx context.Context, entityType EntityType, entityID string) ([]ApprovalRecord, error)
	// ResolveRecord moves a pending record to status. It reports false, with
	// no error, when the record was no longer pending.
	ResolveRecord(ctx context.Context, id string, status Status, at time.Time, comments *string) (bool, error)
	// SetEntityStatus is reserved for the Projector.
	SetEntityStatus(ctx context.Context, entityType EntityType, id string, status string, at time.Time) error
}
