package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/quickauth/server/internal/model"
)

// ProfileRepo stores user profiles keyed by the provider identity
type ProfileRepo struct {
	db *sql.DB
}

// NewProfileRepo creates a new ProfileRepo instance
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// Save inserts the profile or overwrites the one with the same UID
func (r *ProfileRepo) Save(ctx context.Context, p model.UserProfile) error {
	uid, err := uuid.Parse(p.UID)
	if err != nil {
		return fmt.Errorf("invalid profile uid %q: %w", p.UID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO profiles (uid, full_name, email, phone_number, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uid) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    email = EXCLUDED.email,
		    phone_number = EXCLUDED.phone_number,
		    verified = EXCLUDED.verified
	`, uid, p.FullName, strings.TrimSpace(p.Email), p.PhoneNumber, p.Verified, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// GetByID returns the profile for uid or ErrNotFound
func (r *ProfileRepo) GetByID(ctx context.Context, id string) (model.UserProfile, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("profile %q: %w", id, ErrNotFound)
	}
	return r.scanOne(ctx, `
		SELECT uid, full_name, email, phone_number, verified, created_at
		FROM profiles
		WHERE uid = $1
	`, uid)
}

// FindByEmail returns the first profile with the given email (case-insensitive) or ErrNotFound
func (r *ProfileRepo) FindByEmail(ctx context.Context, email string) (model.UserProfile, error) {
	return r.scanOne(ctx, `
		SELECT uid, full_name, email, phone_number, verified, created_at
		FROM profiles
		WHERE lower(email) = lower($1)
		ORDER BY created_at
		LIMIT 1
	`, strings.TrimSpace(email))
}

func (r *ProfileRepo) scanOne(ctx context.Context, query string, arg any) (model.UserProfile, error) {
	var p model.UserProfile
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&p.UID,
		&p.FullName,
		&p.Email,
		&p.PhoneNumber,
		&p.Verified,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.UserProfile{}, fmt.Errorf("profile: %w", ErrNotFound)
		}
		return model.UserProfile{}, fmt.Errorf("query profile: %w", err)
	}
	return p, nil
}
