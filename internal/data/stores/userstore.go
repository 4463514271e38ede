package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kartik102005/ecolearn/internal/data/db"
)

// ErrDuplicateEmail is returned when a user with the same email exists.
var ErrDuplicateEmail = errors.New("email already registered")

// UserRecord is a row of auth_users.
type UserRecord struct {
	ID           string
	Email        string
	PasswordHash string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserStore persists demo-mode identities.
type UserStore struct {
	db *db.DB
}

func NewUserStore(db *db.DB) *UserStore {
	return &UserStore{db: db}
}

// Create inserts a user. Emails are compared case-insensitively.
func (s *UserStore) Create(ctx context.Context, u UserRecord) error {
	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return fmt.Errorf("marshal user metadata: %w", err)
	}
	if u.Metadata == nil {
		meta = []byte("{}")
	}

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO auth_users (id, email, password_hash, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, strings.TrimSpace(u.Email), u.PasswordHash, string(meta),
		u.CreatedAt.UnixNano(), u.UpdatedAt.UnixNano(),
	)
	if IsUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// ByEmail returns the user with email, or an error wrapping sql.ErrNoRows.
func (s *UserStore) ByEmail(ctx context.Context, email string) (UserRecord, error) {
	return s.one(ctx, `WHERE email = ?`, strings.TrimSpace(email))
}

// ByID returns the user with id, or an error wrapping sql.ErrNoRows.
func (s *UserStore) ByID(ctx context.Context, id string) (UserRecord, error) {
	return s.one(ctx, `WHERE id = ?`, id)
}

func (s *UserStore) one(ctx context.Context, where string, arg any) (UserRecord, error) {
	var (
		u                UserRecord
		meta             string
		created, updated int64
	)
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT id, email, password_hash, metadata, created_at, updated_at FROM auth_users `+where, arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &meta, &created, &updated)
	if err != nil {
		return UserRecord{}, fmt.Errorf("get user: %w", err)
	}

	if err := json.Unmarshal([]byte(meta), &u.Metadata); err != nil {
		return UserRecord{}, fmt.Errorf("decode user metadata: %w", err)
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	u.UpdatedAt = time.Unix(0, updated).UTC()
	return u, nil
}
