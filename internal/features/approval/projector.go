package approval

import (
	"context"
	"fmt"
	"time"
)

// Projector is the only writer of entity status.
type Projector struct{}

func NewProjector() *Projector {
	return &Projector{}
}

// Project writes next onto the entity inside tx. It reports whether anything
// changed and updates entity in place when it did.
func (p *Projector) Project(ctx context.Context, tx Tx, entity *Entity, next string) (bool, error) {
	if entity.Status == next {
		return false, nil
	}
	now := time.Now().UTC()
	if err := tx.SetEntityStatus(ctx, entity.Type, entity.ID, next, now); err != nil {
		return false, fmt.Errorf("project %s %s status: %w", entity.Type, entity.ID, err)
	}
	entity.Status = next
	entity.UpdatedAt = now
	return true, nil
}
