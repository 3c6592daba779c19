package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/quickauth/server/internal/auth"
	"github.com/quickauth/server/internal/middleware"
	"github.com/quickauth/server/internal/model"
	"github.com/quickauth/server/internal/repo"
	"github.com/quickauth/server/internal/session"
	"github.com/quickauth/server/internal/verification"
)

// SessionHandler serves the persisted device session, logout and the current profile
type SessionHandler struct {
	sessions      session.Factory
	orchestrators OrchestratorFactory
	flows         *FlowRegistry
	jwt           *auth.JWTService
	revocations   auth.RevocationList
	profiles      auth.ProfileStore
	log           *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(
	sessions session.Factory,
	orchestrators OrchestratorFactory,
	flows *FlowRegistry,
	jwtService *auth.JWTService,
	revocations auth.RevocationList,
	profiles auth.ProfileStore,
	log *zap.Logger,
) *SessionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionHandler{
		sessions:      sessions,
		orchestrators: orchestrators,
		flows:         flows,
		jwt:           jwtService,
		revocations:   revocations,
		profiles:      profiles,
		log:           log.With(zap.String("component", "session")),
	}
}

// sessionResponse is the JSON response for GET /session
type sessionResponse struct {
	LoggedIn bool                 `json:"logged_in"`
	Session  *session.UserSession `json:"session,omitempty"`
}

// logoutRequest is the optional request body for POST /logout
type logoutRequest struct {
	FlowID string `json:"flow_id"`
}

// HandleGetSession handles GET /session
func (h *SessionHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	deviceID, _ := middleware.GetDeviceID(r.Context())

	us, err := h.sessions(deviceID).Load(r.Context())
	if err != nil {
		h.log.Error("session load failed", zap.Error(err))
		respondWithFailure(w, h.log, verification.StorageFailure("We could not load your session. Please retry."), nil)
		return
	}
	if us == nil {
		respondJSON(w, h.log, http.StatusOK, sessionResponse{})
		return
	}
	respondJSON(w, h.log, http.StatusOK, sessionResponse{LoggedIn: us.LoggedIn, Session: us})
}

// HandleLogout handles POST /logout. A bearer credential, when present, is revoked.
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	deviceID, _ := middleware.GetDeviceID(r.Context())

	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var cred *verification.Credential
	if token, ok := middleware.BearerToken(r); ok {
		c, err := middleware.VerifyCredential(r.Context(), h.jwt, h.revocations, token)
		if err != nil {
			h.log.Debug("ignoring unusable credential on logout", zap.Error(err))
		} else {
			cred = c
		}
	}

	var ctrl *verification.Controller
	if req.FlowID != "" {
		if flow, ok := h.flows.Get(req.FlowID, deviceID); ok {
			ctrl = flow.Controller
		}
	}

	if err := h.orchestrators(deviceID).Logout(r.Context(), cred, ctrl); err != nil {
		respondWithFailure(w, h.log, err, nil)
		return
	}
	h.flows.RemoveDevice(deviceID)

	respondJSON(w, h.log, http.StatusOK, map[string]string{"message": "logged out"})
}

// meResponse is the JSON response for GET /me
type meResponse struct {
	Profile  model.UserProfile `json:"profile"`
	Degraded bool              `json:"degraded"`
}

// HandleMe handles GET /me (protected). Returns the profile of the credential.
func (h *SessionHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	cred, ok := middleware.GetCredential(r.Context())
	if !ok || cred == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	profile, err := h.profiles.GetByID(r.Context(), cred.UserID)
	switch {
	case err == nil:
		respondJSON(w, h.log, http.StatusOK, meResponse{Profile: profile})
	case errors.Is(err, repo.ErrNotFound):
		respondJSON(w, h.log, http.StatusOK, meResponse{
			Profile:  model.UserProfile{UID: cred.UserID, PhoneNumber: cred.Phone, Verified: true},
			Degraded: true,
		})
	default:
		h.log.Error("profile lookup failed", zap.String("uid", cred.UserID), zap.Error(err))
		respondWithFailure(w, h.log, verification.StorageFailure("We could not load your profile. Please retry."), nil)
	}
}
