package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go-opsdesk/internal/database"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresStore keeps records in approval_records and each entity type in the
// table named by its policy slug.
type PostgresStore struct {
	db       *sql.DB
	registry *Registry
}

func NewPostgresStore(pg *database.PostgresDB, registry *Registry) Store {
	return &PostgresStore{db: pg.DB, registry: registry}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const recordColumns = `id, entity_type, entity_id, level, user_id, status,
	action_date, comments, added_by, created_at, updated_at`

const entityColumns = `id, type, title, COALESCE(description, ''), amount, status,
	requested_by, version, created_at, updated_at`

func (s *PostgresStore) table(entityType EntityType) (string, error) {
	p, ok := s.registry.Get(entityType)
	if !ok {
		return "", fmt.Errorf("no policy for entity type %s", entityType)
	}
	return pq.QuoteIdentifier(p.Slug), nil
}

func (s *PostgresStore) Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ctx, &postgresTx{store: s, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateEntity(ctx context.Context, entity Entity, records []ApprovalRecord) error {
	table, err := s.table(entity.Type)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s
		    (id, type, title, description, amount, status,
		     requested_by, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, table)
	_, err = tx.ExecContext(ctx, query,
		entity.ID, entity.Type, entity.Title, entity.Description, entity.Amount, entity.Status,
		entity.RequestedBy, entity.Version, entity.CreatedAt, entity.UpdatedAt,
	)
	if err != nil {
		return mapPQError(err)
	}

	for _, r := range records {
		if err := insertRecord(ctx, tx, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetEntity(ctx context.Context, entityType EntityType, id string) (*Entity, error) {
	table, err := s.table(entityType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, entityColumns, table)
	return scanEntity(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) ListOpenEntities(ctx context.Context, entityType EntityType, terminal []string) ([]Entity, error) {
	table, err := s.table(entityType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE NOT (status = ANY($1))
		ORDER BY created_at
	`, entityColumns, table)

	rows, err := s.db.QueryContext(ctx, query, pq.Array(terminal))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRecords(ctx context.Context, entityType EntityType, entityID string) ([]ApprovalRecord, error) {
	return listRecords(ctx, s.db, entityType, entityID)
}

func (s *PostgresStore) ListPendingForUser(ctx context.Context, userID string) ([]ApprovalRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM approval_records
		WHERE user_id = $1 AND status = 'pending'
		ORDER BY created_at, id`
	return queryRecords(ctx, s.db, query, userID)
}

func (s *PostgresStore) InsertRecord(ctx context.Context, rec ApprovalRecord) error {
	return insertRecord(ctx, s.db, rec)
}

// EnsureSchema creates every table the postgres driver reads or writes,
// including the user directory and audit log shared with other features.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id          TEXT PRIMARY KEY,
			username    TEXT NOT NULL,
			email       TEXT,
			status      TEXT NOT NULL DEFAULT 'active',
			permissions TEXT[] NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS approval_records (
			id          TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			level       TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			status      TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
			action_date TIMESTAMPTZ,
			comments    TEXT,
			added_by    TEXT,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS approval_records_entity_idx
			ON approval_records (entity_type, entity_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS approval_records_user_pending_idx
			ON approval_records (user_id) WHERE status = 'pending'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS approval_records_one_pending_idx
			ON approval_records (entity_type, entity_id, level, user_id) WHERE status = 'pending'`,
		`CREATE TABLE IF NOT EXISTS approval_audit_log (
			id             BIGSERIAL PRIMARY KEY,
			actor_id       TEXT NOT NULL,
			actor_snapshot JSONB,
			action_type    TEXT NOT NULL,
			entity_type    TEXT NOT NULL,
			entity_id      TEXT NOT NULL,
			description    TEXT NOT NULL,
			previous_state JSONB,
			new_state      JSONB,
			occurred_at    TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, p := range s.registry.All() {
		table := pq.QuoteIdentifier(p.Slug)
		statements = append(statements,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id           TEXT PRIMARY KEY,
				type         TEXT NOT NULL,
				title        TEXT NOT NULL,
				description  TEXT,
				amount       NUMERIC(14, 2) NOT NULL DEFAULT 0,
				status       TEXT NOT NULL,
				requested_by TEXT NOT NULL,
				version      BIGINT NOT NULL DEFAULT 0,
				created_at   TIMESTAMPTZ NOT NULL,
				updated_at   TIMESTAMPTZ NOT NULL
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (status)`,
				pq.QuoteIdentifier(p.Slug+"_status_idx"), table),
		)
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

type postgresTx struct {
	store *PostgresStore
	tx    *sql.Tx
}

func (t *postgresTx) LockEntity(ctx context.Context, entityType EntityType, id string) (*Entity, error) {
	table, err := t.store.table(entityType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, entityColumns, table)
	return scanEntity(t.tx.QueryRowContext(ctx, query, id))
}

func (t *postgresTx) GetRecord(ctx context.Context, id string) (*ApprovalRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM approval_records WHERE id = $1`
	return scanRecord(t.tx.QueryRowContext(ctx, query, id))
}

func (t *postgresTx) ListRecords(ctx context.Context, entityType EntityType, entityID string) ([]ApprovalRecord, error) {
	return listRecords(ctx, t.tx, entityType, entityID)
}

func (t *postgresTx) ResolveRecord(ctx context.Context, id string, status Status, at time.Time, comments *string) (bool, error) {
	query := `
		UPDATE approval_records
		SET status = $2, action_date = $3, comments = COALESCE($4, comments), updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`
	res, err := t.tx.ExecContext(ctx, query, id, status, at, comments)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *postgresTx) SetEntityStatus(ctx context.Context, entityType EntityType, id string, status string, at time.Time) error {
	table, err := t.store.table(entityType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, updated_at = $3, version = version + 1
		WHERE id = $1
	`, table)
	res, err := t.tx.ExecContext(ctx, query, id, status, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStoreNotFound
	}
	return nil
}

func listRecords(ctx context.Context, q queryer, entityType EntityType, entityID string) ([]ApprovalRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM approval_records
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at, id`
	return queryRecords(ctx, q, query, entityType, entityID)
}

func queryRecords(ctx context.Context, q queryer, query string, args ...interface{}) ([]ApprovalRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []ApprovalRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func insertRecord(ctx context.Context, q queryer, r ApprovalRecord) error {
	query := `
		INSERT INTO approval_records
		    (id, entity_type, entity_id, level, user_id, status,
		     action_date, comments, added_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := q.ExecContext(ctx, query,
		r.ID, r.EntityType, r.EntityID, r.Level, r.UserID, r.Status,
		r.ActionDate, r.Comments, r.AddedBy, r.CreatedAt, r.UpdatedAt,
	)
	return mapPQError(err)
}

func scanRecord(row rowScanner) (*ApprovalRecord, error) {
	var (
		r          ApprovalRecord
		actionDate sql.NullTime
		comments   sql.NullString
		addedBy    sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.EntityType, &r.EntityID, &r.Level, &r.UserID, &r.Status,
		&actionDate, &comments, &addedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, err
	}
	if actionDate.Valid {
		r.ActionDate = &actionDate.Time
	}
	if comments.Valid {
		r.Comments = &comments.String
	}
	if addedBy.Valid {
		r.AddedBy = &addedBy.String
	}
	return &r, nil
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	err := row.Scan(
		&e.ID, &e.Type, &e.Title, &e.Description, &e.Amount, &e.Status,
		&e.RequestedBy, &e.Version, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
