package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/quickauth/server/internal/model"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// IdentityRepo defines the interface for provider identity operations
type IdentityRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Identity, error)
	GetOrCreateByPhone(ctx context.Context, phone string) (model.Identity, error)
	GetByPhone(ctx context.Context, phone string) (model.Identity, error)
}

type identityRepo struct {
	db *sql.DB
}

// NewIdentityRepo creates a new IdentityRepo instance
func NewIdentityRepo(db *sql.DB) IdentityRepo {
	return &identityRepo{db: db}
}

// GetByID retrieves an identity by ID
func (r *identityRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Identity, error) {
	query := `
		SELECT id, phone_number, created_at
		FROM identities
		WHERE id = $1
	`
	return r.scanOne(ctx, query, id)
}

// GetOrCreateByPhone retrieves an identity by phone number or creates one if it doesn't exist
func (r *identityRepo) GetOrCreateByPhone(ctx context.Context, phone string) (model.Identity, error) {
	query := `
		INSERT INTO identities (phone_number)
		VALUES ($1)
		ON CONFLICT (phone_number) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, phone); err != nil {
		return model.Identity{}, fmt.Errorf("failed to insert identity: %w", err)
	}

	return r.GetByPhone(ctx, phone)
}

// GetByPhone retrieves an identity by phone number
func (r *identityRepo) GetByPhone(ctx context.Context, phone string) (model.Identity, error) {
	query := `
		SELECT id, phone_number, created_at
		FROM identities
		WHERE phone_number = $1
	`
	return r.scanOne(ctx, query, phone)
}

func (r *identityRepo) scanOne(ctx context.Context, query string, arg any) (model.Identity, error) {
	var identity model.Identity
	var idStr string
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&idStr,
		&identity.PhoneNumber,
		&identity.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Identity{}, fmt.Errorf("identity: %w", ErrNotFound)
		}
		return model.Identity{}, fmt.Errorf("failed to query identity: %w", err)
	}

	identity.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.Identity{}, fmt.Errorf("failed to parse identity ID: %w", err)
	}
	return identity, nil
}
