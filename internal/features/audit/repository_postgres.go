package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go-opsdesk/internal/database"
)

// PostgresSink appends audit events to approval_audit_log. The table is
// created by the approval store's schema migration.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(pg *database.PostgresDB) Sink {
	return &PostgresSink{db: pg.DB}
}

func (s *PostgresSink) Record(ctx context.Context, e Event) error {
	snapshot, err := marshalNullable(e.ActorSnapshot)
	if err != nil {
		return err
	}
	before, err := marshalNullable(e.PreviousState)
	if err != nil {
		return err
	}
	after, err := marshalNullable(e.NewState)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_audit_log
		    (actor_id, actor_snapshot, action_type,
		     entity_type, entity_id, description,
		     previous_state, new_state, occurred_at)
		VALUES ($1, $2, $3,
		        $4, $5, $6,
		        $7, $8, $9)
	`

	_, err = s.db.ExecContext(ctx, query,
		e.ActorID, snapshot, string(e.ActionType),
		e.EntityType, e.EntityID, e.Description,
		before, after, e.OccurredAt,
	)
	return err
}

// marshalNullable encodes v for a JSONB column. lib/pq sends []byte as bytea,
// so the document goes over the wire as text.
func marshalNullable(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal audit payload: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
