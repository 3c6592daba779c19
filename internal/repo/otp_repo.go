package repo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quickauth/server/internal/model"
)

// OtpRepo defines the interface for OTP session repository operations
type OtpRepo interface {
	CreateOrReplaceSession(ctx context.Context, phone, otpHashHex, resendHashHex string, expiresAt time.Time) (uuid.UUID, error)
	GetActiveSession(ctx context.Context, sessionID uuid.UUID, maxAttempts int) (model.OtpSession, error)
	GetLatestOpenSessionByPhone(ctx context.Context, phone string) (model.OtpSession, error)
	MarkConsumed(ctx context.Context, sessionID uuid.UUID) error
	IncrementAttempt(ctx context.Context, sessionID uuid.UUID) (newAttemptCount int, err error)
	CountRecentRequests(ctx context.Context, phone string, since time.Time) (int, error)
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

const otpSessionColumns = `
	id, phone_number, otp_hash, resend_token_hash, expires_at, consumed_at,
	created_at, attempt_count, last_attempt_at
`

// CreateOrReplaceSession ensures only one open session per phone: atomically consumes any existing
// session (consumed_at IS NULL) and inserts a new one. Uses advisory lock for race safety.
func (r *otpRepo) CreateOrReplaceSession(ctx context.Context, phone, otpHashHex, resendHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Serialize requests per phone; released on COMMIT/ROLLBACK.
	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(1, hashtext($1))`, phone)
	if err != nil {
		return uuid.Nil, fmt.Errorf("advisory lock: %w", err)
	}

	// Unique index: phone WHERE consumed_at IS NULL, so expired rows must be consumed too.
	_, err = tx.ExecContext(ctx, `
		UPDATE otp_sessions
		SET consumed_at = now()
		WHERE phone_number = $1 AND consumed_at IS NULL
	`, phone)
	if err != nil {
		return uuid.Nil, fmt.Errorf("consume existing sessions: %w", err)
	}

	var idStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO otp_sessions (phone_number, otp_hash, resend_token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, phone, otpHashHex, resendHashHex, expiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}

	sessionID, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse session ID: %w", err)
	}
	return sessionID, nil
}

// GetActiveSession returns the session if it is unconsumed, unexpired and below the attempt limit.
func (r *otpRepo) GetActiveSession(ctx context.Context, sessionID uuid.UUID, maxAttempts int) (model.OtpSession, error) {
	query := `SELECT ` + otpSessionColumns + `
		FROM otp_sessions
		WHERE id = $1
		  AND consumed_at IS NULL
		  AND expires_at > now()
		  AND attempt_count < $2
	`
	return scanOtpSession(r.db.QueryRowContext(ctx, query, sessionID, maxAttempts))
}

// GetLatestOpenSessionByPhone returns the newest unconsumed session for the phone, expired or not.
// Resend tokens stay usable after the code itself expires.
func (r *otpRepo) GetLatestOpenSessionByPhone(ctx context.Context, phone string) (model.OtpSession, error) {
	query := `SELECT ` + otpSessionColumns + `
		FROM otp_sessions
		WHERE phone_number = $1
		  AND consumed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanOtpSession(r.db.QueryRowContext(ctx, query, phone))
}

// MarkConsumed sets consumed_at = now() for the session.
func (r *otpRepo) MarkConsumed(ctx context.Context, sessionID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE otp_sessions SET consumed_at = now() WHERE id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("otp session: %w", ErrNotFound)
	}
	return nil
}

// IncrementAttempt sets attempt_count = attempt_count + 1 and last_attempt_at = now(); returns the new attempt_count.
func (r *otpRepo) IncrementAttempt(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var newCount int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_sessions
		SET attempt_count = attempt_count + 1, last_attempt_at = now()
		WHERE id = $1
		RETURNING attempt_count
	`, sessionID).Scan(&newCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("otp session: %w", ErrNotFound)
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return newCount, nil
}

// CountRecentRequests returns the number of sessions created for the phone since the given time.
func (r *otpRepo) CountRecentRequests(ctx context.Context, phone string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM otp_sessions
		WHERE phone_number = $1 AND created_at >= $2
	`, phone, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent requests: %w", err)
	}
	return count, nil
}

func scanOtpSession(row *sql.Row) (model.OtpSession, error) {
	var session model.OtpSession
	var idStr, otpHashHex, resendHashHex string
	err := row.Scan(
		&idStr,
		&session.PhoneNumber,
		&otpHashHex,
		&resendHashHex,
		&session.ExpiresAt,
		&session.ConsumedAt,
		&session.CreatedAt,
		&session.AttemptCount,
		&session.LastAttemptAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OtpSession{}, fmt.Errorf("otp session: %w", ErrNotFound)
		}
		return model.OtpSession{}, fmt.Errorf("query session: %w", err)
	}

	session.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.OtpSession{}, fmt.Errorf("parse session ID: %w", err)
	}
	if session.OTPHash, err = hex.DecodeString(otpHashHex); err != nil {
		return model.OtpSession{}, fmt.Errorf("decode otp_hash: %w", err)
	}
	if session.ResendTokenHash, err = hex.DecodeString(resendHashHex); err != nil {
		return model.OtpSession{}, fmt.Errorf("decode resend_token_hash: %w", err)
	}
	return session, nil
}
