package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickauth/server/internal/auth"
	"github.com/quickauth/server/internal/http/handlers"
	"github.com/quickauth/server/internal/model"
	"github.com/quickauth/server/internal/notify"
	"github.com/quickauth/server/internal/repo"
	"github.com/quickauth/server/internal/session"
	"github.com/quickauth/server/internal/verification"
)

const (
	testCode   = "482913"
	testDevice = "device-1"
)

// fakeProvider issues numbered sessions and accepts testCode.
type fakeProvider struct {
	mu          sync.Mutex
	jwt         *auth.JWTService
	revocations auth.RevocationList
	ids         map[string]uuid.UUID
	sessions    map[string]string
	sends       int
	exchanges   int
	autoVerify  map[string]bool
	failSend    bool
}

func newFakeProvider(jwt *auth.JWTService, revocations auth.RevocationList) *fakeProvider {
	return &fakeProvider{
		jwt:         jwt,
		revocations: revocations,
		ids:         make(map[string]uuid.UUID),
		sessions:    make(map[string]string),
		autoVerify:  make(map[string]bool),
	}
}

func (p *fakeProvider) credential(phoneE164 string) (verification.Credential, error) {
	id, ok := p.ids[phoneE164]
	if !ok {
		id = uuid.New()
		p.ids[phoneE164] = id
	}
	token, claims, err := p.jwt.SignCredential(id, phoneE164)
	if err != nil {
		return verification.Credential{}, err
	}
	return verification.Credential{UserID: id.String(), Phone: phoneE164, Token: token, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (p *fakeProvider) SendCode(_ context.Context, phoneE164 string) (verification.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSend {
		return verification.SendResult{}, &verification.ProviderError{Reason: verification.ReasonTooManyRequests, Message: "Too many code requests."}
	}
	if p.autoVerify[phoneE164] {
		cred, err := p.credential(phoneE164)
		if err != nil {
			return verification.SendResult{}, err
		}
		return verification.SendResult{Outcome: verification.OutcomeAutoVerified, Credential: &cred}, nil
	}
	p.sends++
	id := fmt.Sprintf("session-%d", p.sends)
	p.sessions[id] = phoneE164
	return verification.SendResult{Outcome: verification.OutcomeCodeSent, SessionID: id, ResendToken: "resend-" + id}, nil
}

func (p *fakeProvider) ResendCode(ctx context.Context, phoneE164, _ string) (verification.SendResult, error) {
	return p.SendCode(ctx, phoneE164)
}

func (p *fakeProvider) ExchangeCode(_ context.Context, sessionID, code string) (verification.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges++
	phoneE164, ok := p.sessions[sessionID]
	if !ok {
		return verification.Credential{}, &verification.ProviderError{Reason: verification.ReasonSessionExpired}
	}
	if code != testCode {
		return verification.Credential{}, &verification.ProviderError{Reason: verification.ReasonInvalidCode}
	}
	delete(p.sessions, sessionID)
	return p.credential(phoneE164)
}

func (p *fakeProvider) Revoke(ctx context.Context, cred verification.Credential) error {
	claims, err := p.jwt.VerifyCredential(cred.Token)
	if err != nil {
		return nil
	}
	return p.revocations.Revoke(ctx, claims.ID, time.Hour)
}

func (p *fakeProvider) setFailSend(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSend = v
}

func (p *fakeProvider) setAutoVerify(phoneE164 string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoVerify[phoneE164] = true
}

func (p *fakeProvider) exchangeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchanges
}

type memProfiles struct {
	mu    sync.Mutex
	byID  map[string]model.UserProfile
	fails bool
}

func (m *memProfiles) Save(_ context.Context, p model.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails {
		return fmt.Errorf("profile store unavailable")
	}
	m.byID[p.UID] = p
	return nil
}

func (m *memProfiles) GetByID(_ context.Context, id string) (model.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return model.UserProfile{}, repo.ErrNotFound
	}
	return p, nil
}

func (m *memProfiles) FindByEmail(_ context.Context, email string) (model.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.Email == email {
			return p, nil
		}
	}
	return model.UserProfile{}, repo.ErrNotFound
}

func (m *memProfiles) setFailing(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fails = v
}

type testEnv struct {
	server   *httptest.Server
	provider *fakeProvider
	profiles *memProfiles
	sessions *session.MemoryFactory
	flows    *handlers.FlowRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	jwtService := auth.NewJWTService("test-jwt-secret-at-least-32-characters-long", time.Hour)
	revocations := auth.NewMemoryRevocations()
	provider := newFakeProvider(jwtService, revocations)
	profiles := &memProfiles{byID: make(map[string]model.UserProfile)}
	sessions := session.NewMemoryFactory()
	sink := notify.NewLogSink(nil)

	flows := handlers.NewFlowRegistry(time.Minute, func() *verification.Controller {
		return verification.NewController(provider,
			verification.WithResendTimer(verification.NewResendTimer(2 * time.Second)),
		)
	}, nil)
	orchestrators := func(deviceID string) *auth.Orchestrator {
		return auth.NewOrchestrator(profiles, sessions.Store(deviceID), sink, provider, nil)
	}

	router := NewRouter(
		handlers.NewFlowHandler(flows, orchestrators, nil),
		handlers.NewSessionHandler(sessions.Store, orchestrators, flows, jwtService, revocations, profiles, nil),
		jwtService,
		revocations,
		nil,
	)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{server: server, provider: provider, profiles: profiles, sessions: sessions, flows: flows}
}

type flowBody struct {
	ID                     string `json:"id"`
	Status                 string `json:"status"`
	Mode                   string `json:"mode"`
	PhoneMasked            string `json:"phone_masked"`
	EnteredCode            string `json:"entered_code"`
	CodeComplete           bool   `json:"code_complete"`
	ResendRemainingSeconds int    `json:"resend_remaining_seconds"`
	CanResend              bool   `json:"can_resend"`
	LastError              *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"last_error"`
	Credential *struct {
		UserID string `json:"user_id"`
		Token  string `json:"token"`
	} `json:"credential"`
	Result *auth.Result `json:"result"`
}

type errorBody struct {
	Error string    `json:"error"`
	Kind  string    `json:"kind"`
	Flow  *flowBody `json:"flow"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", testDevice)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func (e *testEnv) createFlow(t *testing.T, body map[string]string) flowBody {
	t.Helper()
	resp, data := e.do(t, http.MethodPost, "/flows", body, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	return decode[flowBody](t, data)
}

var signUp = map[string]string{
	"phone_number": "98765 43210",
	"mode":         "sign_up",
	"full_name":    "Asha Rao",
	"email":        "asha@example.com",
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestFlows_requireDevice(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Post(env.server.URL+"/flows", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFlows_signUpWithAutoSubmit(t *testing.T) {
	env := newTestEnv(t)

	flow := env.createFlow(t, signUp)
	assert.Equal(t, "code_sent", flow.Status)
	assert.Equal(t, "sign_up", flow.Mode)
	assert.Equal(t, "98******10", flow.PhoneMasked)
	assert.Equal(t, 2, flow.ResendRemainingSeconds)
	assert.False(t, flow.CanResend)

	resp, data := env.do(t, http.MethodPut, "/flows/"+flow.ID+"/code", map[string]string{"code": "482"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	partial := decode[flowBody](t, data)
	assert.Equal(t, "482", partial.EnteredCode)
	assert.False(t, partial.CodeComplete)
	assert.Equal(t, 0, env.provider.exchangeCount())

	resp, data = env.do(t, http.MethodPut, "/flows/"+flow.ID+"/code", map[string]string{"code": testCode}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	done := decode[flowBody](t, data)
	assert.Equal(t, "verified", done.Status)
	require.NotNil(t, done.Credential)
	require.NotNil(t, done.Result)
	assert.Equal(t, "Asha Rao", done.Result.Profile.FullName)
	assert.False(t, done.Result.Degraded)

	resp, data = env.do(t, http.MethodGet, "/session", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sess := decode[struct {
		LoggedIn bool                `json:"logged_in"`
		Session  session.UserSession `json:"session"`
	}](t, data)
	assert.True(t, sess.LoggedIn)
	assert.Equal(t, "Asha Rao", sess.Session.DisplayName)
	assert.Equal(t, "+919876543210", sess.Session.Phone)

	resp, data = env.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer " + done.Credential.Token})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	me := decode[struct {
		Profile  model.UserProfile `json:"profile"`
		Degraded bool              `json:"degraded"`
	}](t, data)
	assert.Equal(t, "asha@example.com", me.Profile.Email)
	assert.False(t, me.Degraded)
}

func TestFlows_invalidPhone(t *testing.T) {
	env := newTestEnv(t)
	resp, data := env.do(t, http.MethodPost, "/flows", map[string]string{"phone_number": "12345", "mode": "sign_in"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_phone_format", decode[errorBody](t, data).Kind)
	assert.Equal(t, 0, env.flows.Len())
}

func TestFlows_invalidSignUpDetails(t *testing.T) {
	env := newTestEnv(t)
	resp, data := env.do(t, http.MethodPost, "/flows", map[string]string{
		"phone_number": "9876543210", "mode": "sign_up", "full_name": "", "email": "asha@example.com",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_profile", decode[errorBody](t, data).Kind)
}

func TestFlows_emailTaken(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.profiles.Save(context.Background(), model.UserProfile{UID: uuid.NewString(), Email: "asha@example.com"}))

	resp, data := env.do(t, http.MethodPost, "/flows", signUp, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "email_taken", decode[errorBody](t, data).Kind)
}

func TestFlows_wrongCodeReturnsToCodeSent(t *testing.T) {
	env := newTestEnv(t)
	flow := env.createFlow(t, map[string]string{"phone_number": "9876543210", "mode": "sign_in"})

	resp, data := env.do(t, http.MethodPost, "/flows/"+flow.ID+"/verify", map[string]string{"code": "000000"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	failed := decode[errorBody](t, data)
	assert.Equal(t, "invalid_code", failed.Kind)
	require.NotNil(t, failed.Flow)
	assert.Equal(t, "code_sent", failed.Flow.Status)
	assert.Empty(t, failed.Flow.EnteredCode)

	resp, data = env.do(t, http.MethodPost, "/flows/"+flow.ID+"/verify", map[string]string{"code": "12345"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "incomplete_code", decode[errorBody](t, data).Kind)
	assert.Equal(t, 1, env.provider.exchangeCount(), "incomplete codes never reach the provider")
}

func TestFlows_signInWithoutProfileIsDegraded(t *testing.T) {
	env := newTestEnv(t)
	flow := env.createFlow(t, map[string]string{"phone_number": "+919876543210", "mode": "sign_in"})

	resp, data := env.do(t, http.MethodPost, "/flows/"+flow.ID+"/verify", map[string]string{"code": testCode}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	done := decode[flowBody](t, data)
	require.NotNil(t, done.Result)
	assert.True(t, done.Result.Degraded)
	assert.Equal(t, "+919876543210", done.Result.Profile.PhoneNumber)
}

func TestFlows_resendCooldown(t *testing.T) {
	env := newTestEnv(t)
	flow := env.createFlow(t, map[string]string{"phone_number": "9876543210", "mode": "sign_in"})

	resp, data := env.do(t, http.MethodPost, "/flows/"+flow.ID+"/resend", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "resend_not_ready", decode[errorBody](t, data).Kind)

	assert.Eventually(t, func() bool {
		_, data := env.do(t, http.MethodGet, "/flows/"+flow.ID, nil, nil)
		return decode[flowBody](t, data).CanResend
	}, 5*time.Second, 50*time.Millisecond)

	resp, data = env.do(t, http.MethodPost, "/flows/"+flow.ID+"/resend", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	resent := decode[flowBody](t, data)
	assert.Equal(t, "code_sent", resent.Status)
	assert.False(t, resent.CanResend)
}

func TestFlows_timeoutThenRequestAgain(t *testing.T) {
	env := newTestEnv(t)
	flow := env.createFlow(t, map[string]string{"phone_number": "9876543210", "mode": "sign_in"})

	resp, data := env.do(t, http.MethodPost, "/flows/"+flow.ID+"/request", map[string]string{}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "session_already_active", decode[errorBody](t, data).Kind)

	resp, data = env.do(t, http.MethodPost, "/flows/"+flow.ID+"/timeout", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	expired := decode[flowBody](t, data)
	assert.Equal(t, "expired", expired.Status)
	require.NotNil(t, expired.LastError)
	assert.Equal(t, "expired_session", expired.LastError.Kind)

	resp, data = env.do(t, http.MethodPost, "/flows/"+flow.ID+"/verify", map[string]string{"code": testCode}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(data))

	resp, data = env.do(t, http.MethodPost, "/flows/"+flow.ID+"/request", map[string]string{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, "code_sent", decode[flowBody](t, data).Status)
}

func TestFlows_providerFailure(t *testing.T) {
	env := newTestEnv(t)
	env.provider.setFailSend(true)

	resp, data := env.do(t, http.MethodPost, "/flows", map[string]string{"phone_number": "9876543210", "mode": "sign_in"}, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	failed := decode[errorBody](t, data)
	assert.Equal(t, "provider_failure", failed.Kind)
	assert.Equal(t, "Too many code requests.", failed.Error)
	require.NotNil(t, failed.Flow)
	assert.Equal(t, "failed", failed.Flow.Status)
}

func TestFlows_autoVerified(t *testing.T) {
	env := newTestEnv(t)
	env.provider.setAutoVerify("+919876543210")

	flow := env.createFlow(t, map[string]string{"phone_number": "9876543210", "mode": "sign_in"})
	assert.Equal(t, "verified", flow.Status)
	require.NotNil(t, flow.Result)
	assert.Equal(t, 0, env.provider.exchangeCount())
}

func TestFlows_storageFailureThenComplete(t *testing.T) {
	env := newTestEnv(t)
	flow := env.createFlow(t, signUp)
	env.profiles.setFailing(true)

	resp, data := env.do(t, http.MethodPost, "/flows/"+flow.ID+"/verify", map[string]string{"code": testCode}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	failed := decode[errorBody](t, data)
	assert.Equal(t, "storage_failure", failed.Kind)
	require.NotNil(t, failed.Flow)
	assert.Equal(t, "verified", failed.Flow.Status)

	resp, data = env.do(t, http.MethodGet, "/session", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[struct {
		LoggedIn bool `json:"logged_in"`
	}](t, data).LoggedIn)

	env.profiles.setFailing(false)
	resp, data = env.do(t, http.MethodPost, "/flows/"+flow.ID+"/complete", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	done := decode[flowBody](t, data)
	require.NotNil(t, done.Result)
	assert.Equal(t, "Asha Rao", done.Result.Profile.FullName)
	assert.Equal(t, 1, env.provider.exchangeCount(), "retry does not re-verify")
}

func TestFlows_completeBeforeVerified(t *testing.T) {
	env := newTestEnv(t)
	flow := env.createFlow(t, map[string]string{"phone_number": "9876543210", "mode": "sign_in"})

	resp, data := env.do(t, http.MethodPost, "/flows/"+flow.ID+"/complete", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_state", decode[errorBody](t, data).Kind)
}

func TestFlows_deleteAndDeviceScope(t *testing.T) {
	env := newTestEnv(t)
	flow := env.createFlow(t, map[string]string{"phone_number": "9876543210", "mode": "sign_in"})

	resp, _ := env.do(t, http.MethodGet, "/flows/"+flow.ID, nil, map[string]string{"X-Device-ID": "other"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/flows/"+flow.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/flows/"+flow.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	flow := env.createFlow(t, signUp)
	resp, data := env.do(t, http.MethodPost, "/flows/"+flow.ID+"/verify", map[string]string{"code": testCode}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	token := decode[flowBody](t, data).Credential.Token
	bearer := map[string]string{"Authorization": "Bearer " + token}

	resp, data = env.do(t, http.MethodPost, "/logout", map[string]string{"flow_id": flow.ID}, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	resp, data = env.do(t, http.MethodGet, "/session", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"logged_in":false}`, string(data))

	resp, _ = env.do(t, http.MethodGet, "/me", nil, bearer)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "credential is revoked")
	assert.Equal(t, 0, env.flows.Len())
}

func TestLogout_withoutCredential(t *testing.T) {
	env := newTestEnv(t)
	resp, data := env.do(t, http.MethodPost, "/logout", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
}
