package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/quickauth/server/internal/auth"
	"github.com/quickauth/server/internal/verification"
)

// flowResponse is the JSON view of a flow and its controller snapshot
type flowResponse struct {
	ID                     string              `json:"id"`
	Status                 string              `json:"status"`
	Mode                   string              `json:"mode"`
	PhoneMasked            string              `json:"phone_masked,omitempty"`
	EnteredCode            string              `json:"entered_code,omitempty"`
	CodeComplete           bool                `json:"code_complete"`
	ResendRemainingSeconds int                 `json:"resend_remaining_seconds"`
	CanResend              bool                `json:"can_resend"`
	LastError              *errorBody          `json:"last_error,omitempty"`
	Credential             *credentialResponse `json:"credential,omitempty"`
	Result                 *auth.Result        `json:"result,omitempty"`
}

type credentialResponse struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// errorResponse is the body of every failed request
type errorResponse struct {
	Error string        `json:"error"`
	Kind  string        `json:"kind,omitempty"`
	Flow  *flowResponse `json:"flow,omitempty"`
}

func newFlowResponse(f *Flow, snap verification.Snapshot) *flowResponse {
	resp := &flowResponse{
		ID:                     f.ID,
		Status:                 snap.Status.String(),
		Mode:                   snap.Mode.String(),
		PhoneMasked:            snap.Phone.Masked,
		EnteredCode:            snap.EnteredCode,
		CodeComplete:           snap.CodeComplete,
		ResendRemainingSeconds: seconds(snap.ResendRemaining),
		CanResend:              snap.CanResend,
	}
	if snap.Err != nil {
		resp.LastError = &errorBody{Kind: string(snap.Err.Kind), Message: snap.Err.Message()}
	}
	if snap.Credential != nil {
		resp.Result = f.ResultFor(snap.Credential.Token)
		resp.Credential = &credentialResponse{
			UserID:    snap.Credential.UserID,
			Token:     snap.Credential.Token,
			TokenType: "bearer",
			ExpiresAt: snap.Credential.ExpiresAt,
		}
	}
	return resp
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// statusFor maps an error kind to the HTTP status presented to clients.
func statusFor(kind verification.ErrorKind) int {
	switch kind {
	case verification.KindInvalidPhoneFormat, verification.KindIncompleteCode, verification.KindInvalidProfile:
		return http.StatusBadRequest
	case verification.KindInvalidCode:
		return http.StatusUnauthorized
	case verification.KindExpiredSession:
		return http.StatusGone
	case verification.KindSessionAlreadyActive, verification.KindInvalidState, verification.KindEmailTaken:
		return http.StatusConflict
	case verification.KindResendNotReady:
		return http.StatusTooManyRequests
	case verification.KindProviderFailure:
		return http.StatusBadGateway
	case verification.KindStorageFailure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondWithFailure writes err with the flow state attached when there is one.
func respondWithFailure(w http.ResponseWriter, log *zap.Logger, err error, flow *flowResponse) {
	if errors.Is(err, verification.ErrSessionDetached) {
		respondJSON(w, log, http.StatusGone, errorResponse{Error: "verification was abandoned", Flow: flow})
		return
	}

	verr, ok := verification.AsError(err)
	if !ok {
		log.Error("unexpected error", zap.Error(err))
		respondJSON(w, log, http.StatusInternalServerError, errorResponse{Error: "internal error", Flow: flow})
		return
	}

	status := statusFor(verr.Kind)
	if status == http.StatusTooManyRequests && flow != nil && flow.ResendRemainingSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(flow.ResendRemainingSeconds))
	}
	respondJSON(w, log, status, errorResponse{Error: verr.Message(), Kind: string(verr.Kind), Flow: flow})
}

func respondJSON(w http.ResponseWriter, log *zap.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn("failed to encode response", zap.Error(err))
	}
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}
