package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/quickauth/server/internal/auth"
	"github.com/quickauth/server/internal/verification"
)

type contextKey string

const (
	credentialKey contextKey = "credential"
	deviceIDKey   contextKey = "device_id"
)

// ErrRevoked is returned for a credential that was logged out.
var ErrRevoked = errors.New("credential revoked")

// DeviceHeader scopes the persisted session and notifications to one client.
const DeviceHeader = "X-Device-ID"

// CredentialMiddleware validates the bearer credential, rejects revoked ones,
// and attaches the credential to the request context
func CredentialMiddleware(jwtService *auth.JWTService, revocations auth.RevocationList) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := BearerToken(r)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			cred, err := VerifyCredential(r.Context(), jwtService, revocations, tokenString)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid or expired credential")
				return
			}

			ctx := context.WithValue(r.Context(), credentialKey, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// VerifyCredential parses a credential token and checks it against the revocation list.
func VerifyCredential(ctx context.Context, jwtService *auth.JWTService, revocations auth.RevocationList, token string) (*verification.Credential, error) {
	claims, err := jwtService.VerifyCredential(token)
	if err != nil {
		return nil, err
	}
	if revocations != nil {
		revoked, err := revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrRevoked
		}
	}
	return &verification.Credential{
		UserID:    claims.UserID.String(),
		Phone:     claims.PhoneNumber,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer ..." header.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// GetCredential returns the credential attached by CredentialMiddleware
func GetCredential(ctx context.Context) (*verification.Credential, bool) {
	c, ok := ctx.Value(credentialKey).(*verification.Credential)
	return c, ok
}

// RequireDevice rejects requests without the device header and attaches the device id to the context
func RequireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID := strings.TrimSpace(r.Header.Get(DeviceHeader))
		if deviceID == "" {
			respondWithError(w, http.StatusBadRequest, DeviceHeader+" header is required")
			return
		}
		ctx := context.WithValue(r.Context(), deviceIDKey, deviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetDeviceID extracts the device id set by RequireDevice
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(deviceIDKey).(string)
	return deviceID, ok
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
