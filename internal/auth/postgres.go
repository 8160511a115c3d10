package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores users in the users table. It accepts a
// *pgxpool.Pool or anything with the same QueryRow.
type PostgresRepository struct {
	db querier
}

func NewPostgresRepository(db querier) *PostgresRepository {
	if db == nil {
		panic("auth: pgx pool required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (id, name, email, phone, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	var createdAt time.Time
	err := r.db.QueryRow(ctx, query, u.ID, u.Name, u.Email, u.Phone, u.PasswordHash).Scan(&createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("auth: insert user: %w", err)
	}
	u.CreatedAt = createdAt
	return nil
}

func (r *PostgresRepository) ByEmail(ctx context.Context, email string) (*User, error) {
	return r.one(ctx, `
		SELECT id, name, email, phone, password_hash, created_at
		FROM users
		WHERE email = $1
	`, NormalizeEmail(email))
}

func (r *PostgresRepository) ByID(ctx context.Context, id string) (*User, error) {
	return r.one(ctx, `
		SELECT id, name, email, phone, password_hash, created_at
		FROM users
		WHERE id = $1
	`, id)
}

func (r *PostgresRepository) one(ctx context.Context, query string, arg string) (*User, error) {
	var u User
	err := r.db.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: query user: %w", err)
	}
	return &u, nil
}
