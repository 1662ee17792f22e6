package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Session Keys ---

func (s *PostgresStore) GetSessionKeysByPrefix(ctx context.Context, prefix string) ([]*models.SessionKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, key_hash, key_prefix, last_used_at, deleted_at, created_at, updated_at
		 FROM session_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get session keys by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.SessionKey
	for rows.Next() {
		var k models.SessionKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) ListSessionKeys(ctx context.Context, userID uuid.UUID) ([]*models.SessionKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, key_hash, key_prefix, last_used_at, deleted_at, created_at, updated_at
		 FROM session_keys WHERE user_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list session keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.SessionKey
	for rows.Next() {
		var k models.SessionKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateSessionKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE session_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update session key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateSessionKey(ctx context.Context, key *models.SessionKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_keys (id, user_id, key_hash, key_prefix, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.UserID, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create session key: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeSessionKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE session_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke session key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Users ---

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	var subject, email *string
	var legacyID *int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject, legacy_id, email, anonymous, admin, plan, created_at, updated_at
		 FROM users WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&u.ID, &subject, &legacyID, &email, &u.Anonymous, &u.Admin, &u.PlanName, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if subject != nil {
		u.Subject = *subject
	}
	if legacyID != nil {
		u.LegacyID = *legacyID
	}
	if email != nil {
		u.Email = *email
	}
	u.Plan = models.PlanByName(u.PlanName)
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	var subject, email *string
	var legacyID *int64
	if user.Subject != "" {
		subject = &user.Subject
	}
	if user.LegacyID != 0 {
		legacyID = &user.LegacyID
	}
	if user.Email != "" {
		email = &user.Email
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, subject, legacy_id, email, anonymous, admin, plan, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, subject, legacyID, email, user.Anonymous, user.Admin, user.PlanName,
		user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// isDuplicateKeyError detects Postgres unique violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
