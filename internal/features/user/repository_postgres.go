package user

import (
	"context"
	"database/sql"
	"errors"

	"go-opsdesk/internal/database"

	"github.com/lib/pq"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(pg *database.PostgresDB) UserRepository {
	return &PostgresUserRepository{db: pg.DB}
}

func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, username, COALESCE(email, ''), status, permissions
		FROM users
		WHERE id = $1
	`

	var u User
	err := r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Username, &u.Email, &u.Status, pq.Array(&u.Permissions))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresUserRepository) FindByIDs(ctx context.Context, ids []string) ([]User, error) {
	query := `
		SELECT id, username, COALESCE(email, ''), status, permissions
		FROM users
		WHERE id = ANY($1)
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Status, pq.Array(&u.Permissions)); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
