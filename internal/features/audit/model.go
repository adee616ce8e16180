package audit

import (
	"time"

	common_models "go-opsdesk/internal/common/models"
)

// Event is one best-effort audit record of an approval workflow change.
type Event struct {
	ActorID       string                    `bson:"actor_id" json:"actorId"`
	ActorSnapshot map[string]interface{}    `bson:"actor_snapshot,omitempty" json:"actorSnapshot,omitempty"`
	ActionType    common_models.AuditAction `bson:"action_type" json:"actionType"`
	EntityType    string                    `bson:"entity_type" json:"entityType"`
	EntityID      string                    `bson:"entity_id" json:"entityId"`
	Description   string                    `bson:"description" json:"description"`
	PreviousState interface{}               `bson:"previous_state,omitempty" json:"previousState,omitempty"`
	NewState      interface{}               `bson:"new_state,omitempty" json:"newState,omitempty"`
	OccurredAt    time.Time                 `bson:"occurred_at" json:"occurredAt"`
}
