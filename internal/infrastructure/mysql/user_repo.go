package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindOrCreate(ctx context.Context, email string) (*domain.User, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (email) VALUES (?)
		ON DUPLICATE KEY UPDATE updated_at = NOW()`, email)
	if err != nil {
		return nil, fmt.Errorf("find or create user: %w", err)
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, team_id, created_at, updated_at FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, team_id, created_at, updated_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *UserRepository) CreateMagicToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO magic_tokens (user_id, token_hash, expires_at) VALUES (?, ?, ?)`,
		userID, tokenHash, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("create magic token: %w", err)
	}
	return nil
}

// ClaimMagicToken atomically marks the token as used and returns it. Returns
// domain.ErrTokenInvalid if the token does not exist, is already used, or is
// expired.
func (r *UserRepository) ClaimMagicToken(ctx context.Context, tokenHash string) (*domain.MagicToken, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim magic token: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM magic_tokens
		WHERE token_hash = ? AND used_at IS NULL AND expires_at > NOW()
		FOR UPDATE`, tokenHash)
	t, err := scanMagicToken(row)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE magic_tokens SET used_at = NOW() WHERE id = ?`, t.ID,
	); err != nil {
		return nil, fmt.Errorf("claim magic token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim magic token: %w", err)
	}

	now := time.Now()
	t.UsedAt = &now
	return t, nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.TeamID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func scanMagicToken(row rowScanner) (*domain.MagicToken, error) {
	var t domain.MagicToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTokenInvalid
		}
		return nil, fmt.Errorf("scan magic token: %w", err)
	}
	return &t, nil
}
