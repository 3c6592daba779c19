package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quickauth/server/internal/auth"
	"github.com/quickauth/server/internal/middleware"
	"github.com/quickauth/server/internal/verification"
)

// OrchestratorFactory returns the orchestrator bound to a device's session store.
type OrchestratorFactory func(deviceID string) *auth.Orchestrator

// FlowHandler exposes verification flows over HTTP
type FlowHandler struct {
	flows         *FlowRegistry
	orchestrators OrchestratorFactory
	log           *zap.Logger
}

// NewFlowHandler creates a new flow handler
func NewFlowHandler(flows *FlowRegistry, orchestrators OrchestratorFactory, log *zap.Logger) *FlowHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &FlowHandler{
		flows:         flows,
		orchestrators: orchestrators,
		log:           log.With(zap.String("component", "flows")),
	}
}

// createFlowRequest is the request body for POST /flows
type createFlowRequest struct {
	PhoneNumber string `json:"phone_number"`
	Mode        string `json:"mode"`
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
}

// codeRequest is the request body for PUT /flows/{id}/code and POST /flows/{id}/verify
type codeRequest struct {
	Code string `json:"code"`
}

// HandleCreate handles POST /flows: starts a flow and requests a code
func (h *FlowHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	deviceID, _ := middleware.GetDeviceID(r.Context())

	var req createFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode, ok := verification.ParseMode(req.Mode)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "mode must be sign_in or sign_up")
		return
	}

	var pending *verification.PendingProfile
	if mode == verification.ModeSignUp {
		pending = &verification.PendingProfile{
			FullName: strings.TrimSpace(req.FullName),
			Email:    strings.TrimSpace(req.Email),
		}
		if err := pending.Validate(); err != nil {
			respondWithFailure(w, h.log, err, nil)
			return
		}
		if err := h.orchestrators(deviceID).CheckEmailAvailable(r.Context(), pending.Email); err != nil {
			respondWithFailure(w, h.log, err, nil)
			return
		}
	}

	flow := h.flows.Create(deviceID)
	snap, err := flow.Controller.RequestCode(r.Context(), req.PhoneNumber, mode, pending)
	if errors.Is(err, verification.ErrInvalidPhoneFormat) {
		// Rejected before the provider was called; nothing to keep.
		h.flows.Remove(flow.ID)
		respondWithFailure(w, h.log, err, nil)
		return
	}
	if err != nil {
		respondWithFailure(w, h.log, err, newFlowResponse(flow, snap))
		return
	}

	if snap.Status == verification.StatusVerified {
		h.respondCompleted(r.Context(), w, flow, snap, http.StatusCreated)
		return
	}
	respondJSON(w, h.log, http.StatusCreated, newFlowResponse(flow, snap))
}

// requestAgainRequest is the request body for POST /flows/{id}/request
type requestAgainRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// HandleRequestAgain handles POST /flows/{id}/request: starts a fresh session
// in an existing flow after it failed, expired or resolved. The mode and
// sign-up details of the flow are kept; the phone number may change.
func (h *FlowHandler) HandleRequestAgain(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req requestAgainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prev := flow.Controller.Snapshot()
	input := strings.TrimSpace(req.PhoneNumber)
	if input == "" {
		input = prev.Phone.Canonical
	}

	snap, err := flow.Controller.RequestCode(r.Context(), input, prev.Mode, prev.Pending)
	if err != nil {
		respondWithFailure(w, h.log, err, newFlowResponse(flow, snap))
		return
	}
	if snap.Status == verification.StatusVerified {
		h.respondCompleted(r.Context(), w, flow, snap, http.StatusOK)
		return
	}
	respondJSON(w, h.log, http.StatusOK, newFlowResponse(flow, snap))
}

// HandleGet handles GET /flows/{id}
func (h *FlowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, h.log, http.StatusOK, newFlowResponse(flow, flow.Controller.Snapshot()))
}

// HandleEnterCode handles PUT /flows/{id}/code. Six digits submit automatically.
func (h *FlowHandler) HandleEnterCode(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := flow.Controller.EnterCode(req.Code)
	if err != nil {
		respondWithFailure(w, h.log, err, newFlowResponse(flow, snap))
		return
	}
	if !snap.CodeComplete {
		respondJSON(w, h.log, http.StatusOK, newFlowResponse(flow, snap))
		return
	}
	h.submit(w, r, flow, snap.EnteredCode)
}

// HandleVerify handles POST /flows/{id}/verify
func (h *FlowHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.submit(w, r, flow, strings.TrimSpace(req.Code))
}

// HandleResend handles POST /flows/{id}/resend
func (h *FlowHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.lookup(w, r)
	if !ok {
		return
	}
	snap, err := flow.Controller.ResendCode(r.Context())
	if err != nil {
		respondWithFailure(w, h.log, err, newFlowResponse(flow, snap))
		return
	}
	if snap.Status == verification.StatusVerified {
		h.respondCompleted(r.Context(), w, flow, snap, http.StatusOK)
		return
	}
	respondJSON(w, h.log, http.StatusOK, newFlowResponse(flow, snap))
}

// HandleTimeout handles POST /flows/{id}/timeout
func (h *FlowHandler) HandleTimeout(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.lookup(w, r)
	if !ok {
		return
	}
	snap, err := flow.Controller.CodeTimeout()
	if err != nil {
		respondWithFailure(w, h.log, err, newFlowResponse(flow, snap))
		return
	}
	respondJSON(w, h.log, http.StatusOK, newFlowResponse(flow, snap))
}

// HandleComplete handles POST /flows/{id}/complete: retries saving after a storage failure
func (h *FlowHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.lookup(w, r)
	if !ok {
		return
	}
	snap := flow.Controller.Snapshot()
	if snap.Status != verification.StatusVerified || snap.Credential == nil {
		respondWithFailure(w, h.log, verification.ErrInvalidState, newFlowResponse(flow, snap))
		return
	}
	h.respondCompleted(r.Context(), w, flow, snap, http.StatusOK)
}

// HandleDelete handles DELETE /flows/{id}: abandons the flow
func (h *FlowHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.flows.Remove(flow.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *FlowHandler) submit(w http.ResponseWriter, r *http.Request, flow *Flow, code string) {
	snap, err := flow.Controller.SubmitCode(r.Context(), code)
	if err != nil {
		respondWithFailure(w, h.log, err, newFlowResponse(flow, snap))
		return
	}
	h.respondCompleted(r.Context(), w, flow, snap, http.StatusOK)
}

// respondCompleted hands a verified credential to the orchestrator once per flow.
func (h *FlowHandler) respondCompleted(ctx context.Context, w http.ResponseWriter, flow *Flow, snap verification.Snapshot, status int) {
	if err := h.complete(ctx, flow, snap); err != nil {
		respondWithFailure(w, h.log, err, newFlowResponse(flow, snap))
		return
	}
	respondJSON(w, h.log, status, newFlowResponse(flow, snap))
}

func (h *FlowHandler) complete(ctx context.Context, flow *Flow, snap verification.Snapshot) error {
	flow.mu.Lock()
	defer flow.mu.Unlock()
	if flow.result != nil && flow.resultToken == snap.Credential.Token {
		return nil
	}

	orch := h.orchestrators(flow.DeviceID)
	var (
		res auth.Result
		err error
	)
	if snap.Mode == verification.ModeSignUp {
		if snap.Pending == nil {
			return verification.InvalidProfile("Sign-up details are missing. Please start again.")
		}
		res, err = orch.CompleteSignUp(ctx, *snap.Credential, *snap.Pending)
	} else {
		res, err = orch.CompleteSignIn(ctx, *snap.Credential)
	}
	if err != nil {
		return err
	}
	flow.result = &res
	flow.resultToken = snap.Credential.Token
	return nil
}

func (h *FlowHandler) lookup(w http.ResponseWriter, r *http.Request) (*Flow, bool) {
	deviceID, _ := middleware.GetDeviceID(r.Context())
	flow, ok := h.flows.Get(chi.URLParam(r, "id"), deviceID)
	if !ok {
		respondWithError(w, http.StatusNotFound, "flow not found")
		return nil, false
	}
	return flow, true
}
