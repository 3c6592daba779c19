package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickauth/server/internal/phone"
	"github.com/quickauth/server/internal/repo"
	"github.com/quickauth/server/internal/verification"
)

const (
	otpExpiry            = 5 * time.Minute
	maxAttempts          = 5
	minAttemptDelay      = 2 * time.Second
	requestWindow        = 10 * time.Minute
	maxRequestsPerWindow = 3
	devOTPCode           = "123456"
)

// ProviderConfig holds the knobs of the local verification provider
type ProviderConfig struct {
	Salt string
	// DevMode issues the fixed code 123456 instead of a random one.
	DevMode bool
	// AutoVerifyNumbers are confirmed instantly without a code.
	AutoVerifyNumbers []string
	// CountryPrefix is stripped when masking numbers for logs.
	CountryPrefix string
}

// PhoneProvider implements verification.Provider with PostgreSQL-backed OTP sessions
// and JWT credentials. Plaintext codes and resend tokens are never stored.
type PhoneProvider struct {
	otpRepo     repo.OtpRepo
	identities  repo.IdentityRepo
	jwt         *JWTService
	revocations RevocationList
	salt        string
	devMode     bool
	autoVerify  map[string]bool
	prefix      string
	logger      *zap.Logger
}

var (
	_ verification.Provider = (*PhoneProvider)(nil)
	_ verification.Revoker  = (*PhoneProvider)(nil)
)

// NewPhoneProvider creates a new verification provider
func NewPhoneProvider(
	otpRepo repo.OtpRepo,
	identities repo.IdentityRepo,
	jwtService *JWTService,
	revocations RevocationList,
	cfg ProviderConfig,
	logger *zap.Logger,
) *PhoneProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	auto := make(map[string]bool, len(cfg.AutoVerifyNumbers))
	for _, n := range cfg.AutoVerifyNumbers {
		auto[n] = true
	}
	return &PhoneProvider{
		otpRepo:     otpRepo,
		identities:  identities,
		jwt:         jwtService,
		revocations: revocations,
		salt:        cfg.Salt,
		devMode:     cfg.DevMode,
		autoVerify:  auto,
		prefix:      cfg.CountryPrefix,
		logger:      logger.With(zap.String("component", "phone_provider")),
	}
}

// SendCode starts a new OTP session for the number, or confirms it instantly when it is an auto-verify number.
func (p *PhoneProvider) SendCode(ctx context.Context, phoneE164 string) (verification.SendResult, error) {
	if !phone.IsE164(phoneE164) {
		return verification.SendResult{}, &verification.ProviderError{
			Reason:  verification.ReasonInvalidPhone,
			Message: "Invalid phone number format. Please ensure the number is in E.164 format (e.g., +919876543210)",
		}
	}

	if p.autoVerify[phoneE164] {
		cred, err := p.issueCredential(ctx, phoneE164)
		if err != nil {
			return verification.SendResult{}, err
		}
		p.logger.Info("number auto-verified", zap.String("phone", phone.Mask(phoneE164, p.prefix)))
		return verification.SendResult{Outcome: verification.OutcomeAutoVerified, Credential: &cred}, nil
	}

	return p.startSession(ctx, phoneE164)
}

// ResendCode replaces the open session for the number after checking the resend token.
func (p *PhoneProvider) ResendCode(ctx context.Context, phoneE164, resendToken string) (verification.SendResult, error) {
	session, err := p.otpRepo.GetLatestOpenSessionByPhone(ctx, phoneE164)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return verification.SendResult{}, &verification.ProviderError{
				Reason:  verification.ReasonInvalidResendToken,
				Message: "Verification session not found. Please request a new code.",
			}
		}
		return verification.SendResult{}, fmt.Errorf("lookup session: %w", err)
	}

	if !constantTimeCompare(hashTokenBytes(resendToken), session.ResendTokenHash) {
		return verification.SendResult{}, &verification.ProviderError{
			Reason:  verification.ReasonInvalidResendToken,
			Message: "Resend is not allowed for this session. Please request a new code.",
		}
	}

	return p.startSession(ctx, phoneE164)
}

// ExchangeCode verifies the code against the session: attempt limit 5, min 2s between attempts,
// hash comparison, then mark consumed and issue a credential.
func (p *PhoneProvider) ExchangeCode(ctx context.Context, sessionID, code string) (verification.Credential, error) {
	expired := &verification.ProviderError{Reason: verification.ReasonSessionExpired}

	id, err := uuid.Parse(sessionID)
	if err != nil {
		return verification.Credential{}, expired
	}

	session, err := p.otpRepo.GetActiveSession(ctx, id, maxAttempts)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return verification.Credential{}, expired
		}
		return verification.Credential{}, fmt.Errorf("lookup session: %w", err)
	}

	if session.LastAttemptAt != nil && time.Since(*session.LastAttemptAt) < minAttemptDelay {
		return verification.Credential{}, &verification.ProviderError{
			Reason:  verification.ReasonTooManyRequests,
			Message: "Too many attempts, try again in a moment.",
		}
	}

	newCount, err := p.otpRepo.IncrementAttempt(ctx, session.ID)
	if err != nil {
		return verification.Credential{}, fmt.Errorf("failed to record attempt: %w", err)
	}

	providedHash := hashOTPBytes(session.PhoneNumber, code, p.salt)
	if !constantTimeCompare(providedHash, session.OTPHash) {
		if newCount >= maxAttempts {
			_ = p.otpRepo.MarkConsumed(ctx, session.ID)
			return verification.Credential{}, expired
		}
		return verification.Credential{}, &verification.ProviderError{Reason: verification.ReasonInvalidCode}
	}

	if err := p.otpRepo.MarkConsumed(ctx, session.ID); err != nil {
		return verification.Credential{}, fmt.Errorf("failed to consume session: %w", err)
	}

	return p.issueCredential(ctx, session.PhoneNumber)
}

// Revoke adds the credential to the revocation list until it would have expired.
func (p *PhoneProvider) Revoke(ctx context.Context, cred verification.Credential) error {
	if p.revocations == nil || cred.Token == "" {
		return nil
	}
	claims, err := p.jwt.VerifyCredential(cred.Token)
	if err != nil {
		// Already unusable.
		return nil
	}
	return p.revocations.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
}

func (p *PhoneProvider) startSession(ctx context.Context, phoneE164 string) (verification.SendResult, error) {
	since := time.Now().Add(-requestWindow)
	count, err := p.otpRepo.CountRecentRequests(ctx, phoneE164, since)
	if err != nil {
		return verification.SendResult{}, fmt.Errorf("rate limit check: %w", err)
	}
	if count >= maxRequestsPerWindow {
		return verification.SendResult{}, &verification.ProviderError{
			Reason:  verification.ReasonTooManyRequests,
			Message: fmt.Sprintf("Too many code requests. Max %d per %v, please try again later.", maxRequestsPerWindow, requestWindow),
		}
	}

	code := devOTPCode
	if !p.devMode {
		if code, err = generateOTPCode(); err != nil {
			return verification.SendResult{}, fmt.Errorf("generate code: %w", err)
		}
	}

	resendToken, resendHash, err := GenerateResendToken()
	if err != nil {
		return verification.SendResult{}, fmt.Errorf("generate resend token: %w", err)
	}

	sessionID, err := p.otpRepo.CreateOrReplaceSession(ctx, phoneE164, hashOTPHex(phoneE164, code, p.salt), resendHash, time.Now().Add(otpExpiry))
	if err != nil {
		return verification.SendResult{}, fmt.Errorf("create session: %w", err)
	}

	// TODO: hand the code to an SMS gateway; until then only dev mode codes are deliverable.
	p.logger.Info("verification code issued",
		zap.String("phone", phone.Mask(phoneE164, p.prefix)),
		zap.String("session_id", sessionID.String()),
		zap.Bool("dev_mode", p.devMode),
	)

	return verification.SendResult{
		Outcome:     verification.OutcomeCodeSent,
		SessionID:   sessionID.String(),
		ResendToken: resendToken,
	}, nil
}

func (p *PhoneProvider) issueCredential(ctx context.Context, phoneE164 string) (verification.Credential, error) {
	identity, err := p.identities.GetOrCreateByPhone(ctx, phoneE164)
	if err != nil {
		return verification.Credential{}, fmt.Errorf("failed to get or create identity: %w", err)
	}

	token, claims, err := p.jwt.SignCredential(identity.ID, identity.PhoneNumber)
	if err != nil {
		return verification.Credential{}, err
	}

	return verification.Credential{
		UserID:    identity.ID.String(),
		Phone:     identity.PhoneNumber,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
