package verification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quickauth/server/internal/phone"
)

const codeLength = 6

// session is the single active verification attempt. Provider-issued
// tokens live here rather than on the controller so a replaced session
// can never leak its tokens into the next one.
type session struct {
	id          string
	phone       phone.Number
	status      Status
	mode        Mode
	resendToken string
	code        string
	pending     *PendingProfile
	credential  *Credential
	err         *Error
	detached    bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithCountryPrefix sets the country code assumed for national numbers.
func WithCountryPrefix(prefix string) Option {
	return func(c *Controller) { c.countryPrefix = prefix }
}

// WithResendTimer replaces the default 120s resend timer.
func WithResendTimer(t *ResendTimer) Option {
	return func(c *Controller) { c.timer = t }
}

// WithLogger sets the controller's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller coordinates one verification attempt at a time:
// request code, await code, verify, resolve. Provider calls are made
// without holding the lock; their results are applied to the session
// that issued them.
type Controller struct {
	mu            sync.Mutex
	provider      Provider
	timer         *ResendTimer
	countryPrefix string
	logger        *zap.Logger

	session   *session
	observers map[int]func(Snapshot)
	nextObs   int
}

// NewController creates an idle controller.
func NewController(provider Provider, opts ...Option) *Controller {
	c := &Controller{
		provider:      provider,
		countryPrefix: phone.DefaultCountryPrefix,
		logger:        zap.NewNop(),
		observers:     make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timer == nil {
		c.timer = NewResendTimer(DefaultResendCooldown)
	}
	c.timer.Notify(c.onTimerTick, c.onTimerExpire)
	return c
}

// Observe registers fn to receive every published state change. The
// returned func unregisters it.
func (c *Controller) Observe(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// Snapshot returns the current state. With no session the status is Idle.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(c.session)
}

// RequestCode starts a new verification for the given phone input.
func (c *Controller) RequestCode(ctx context.Context, input string, mode Mode, pending *PendingProfile) (Snapshot, error) {
	c.mu.Lock()
	if c.session != nil && c.session.status.active() {
		snap := c.snapshotLocked(c.session)
		c.mu.Unlock()
		return snap, ErrSessionAlreadyActive
	}

	num, err := phone.Normalize(input, c.countryPrefix)
	if err != nil || !phone.IsValid(input, c.countryPrefix) {
		snap := c.snapshotLocked(c.session)
		c.mu.Unlock()
		return snap, ErrInvalidPhoneFormat
	}

	c.timer.Cancel()
	s := &session{
		phone:  num,
		status: StatusRequesting,
		mode:   mode,
	}
	if pending != nil {
		p := *pending
		s.pending = &p
	}
	c.session = s
	snap := c.snapshotLocked(s)
	c.mu.Unlock()

	c.logger.Info("requesting verification code",
		zap.String("phone", num.Masked),
		zap.String("mode", mode.String()),
	)
	c.publish(snap)

	res, err := c.provider.SendCode(ctx, num.Canonical)
	return c.applySend(s, res, err)
}

// ResendCode asks the provider for a new code using the stored resend token.
func (c *Controller) ResendCode(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	s := c.session
	if s == nil || (s.status != StatusCodeSent && s.status != StatusFailed) {
		snap := c.snapshotLocked(s)
		c.mu.Unlock()
		return snap, ErrInvalidState
	}
	if c.timer.Running() {
		snap := c.snapshotLocked(s)
		c.mu.Unlock()
		return snap, ErrResendNotReady
	}
	if s.resendToken == "" {
		snap := c.snapshotLocked(s)
		c.mu.Unlock()
		return snap, ErrInvalidState
	}

	s.status = StatusRequesting
	s.err = nil
	phoneE164, token := s.phone.Canonical, s.resendToken
	snap := c.snapshotLocked(s)
	c.mu.Unlock()

	c.logger.Info("resending verification code", zap.String("phone", s.phone.Masked))
	c.publish(snap)

	res, err := c.provider.ResendCode(ctx, phoneE164, token)
	return c.applySend(s, res, err)
}

// EnterCode records the code typed so far. Non-digits are dropped and
// input is capped at six digits; the snapshot's CodeComplete tells the
// input surface when to submit.
func (c *Controller) EnterCode(partial string) (Snapshot, error) {
	digits := make([]byte, 0, codeLength)
	for i := 0; i < len(partial) && len(digits) < codeLength; i++ {
		if partial[i] >= '0' && partial[i] <= '9' {
			digits = append(digits, partial[i])
		}
	}

	c.mu.Lock()
	s := c.session
	if s == nil || s.status != StatusCodeSent {
		snap := c.snapshotLocked(s)
		c.mu.Unlock()
		return snap, ErrInvalidState
	}
	s.code = string(digits)
	s.err = nil
	snap := c.snapshotLocked(s)
	c.mu.Unlock()

	c.publish(snap)
	return snap, nil
}

// SubmitCode exchanges a six-digit code for a credential. A wrong or
// expired code returns the session to CodeSent so the user can retry.
func (c *Controller) SubmitCode(ctx context.Context, code string) (Snapshot, error) {
	if !isCompleteCode(code) {
		return c.Snapshot(), ErrIncompleteCode
	}

	c.mu.Lock()
	s := c.session
	if s == nil || s.status != StatusCodeSent {
		snap := c.snapshotLocked(s)
		c.mu.Unlock()
		return snap, ErrInvalidState
	}
	s.status = StatusVerifying
	s.code = code
	s.err = nil
	sessionID := s.id
	snap := c.snapshotLocked(s)
	c.mu.Unlock()

	c.publish(snap)

	cred, err := c.provider.ExchangeCode(ctx, sessionID, code)

	c.mu.Lock()
	detached := s.detached || c.session != s
	if err != nil {
		s.status = StatusCodeSent
		s.code = ""
		s.err = classifyExchange(err)
	} else {
		s.status = StatusVerified
		s.credential = &cred
		if !detached {
			c.timer.Cancel()
		}
	}
	snap = c.snapshotLocked(s)
	c.mu.Unlock()

	if detached {
		c.logger.Debug("dropping code exchange result for detached session", zap.String("session_id", sessionID))
		return snap, ErrSessionDetached
	}
	if err != nil {
		c.logger.Warn("code exchange failed",
			zap.String("phone", s.phone.Masked),
			zap.String("kind", string(snap.Err.Kind)),
			zap.Error(err),
		)
		c.publish(snap)
		return snap, snap.Err
	}
	c.logger.Info("phone verified", zap.String("phone", s.phone.Masked))
	c.publish(snap)
	return snap, nil
}

// CodeTimeout applies the provider's signal that the sent code timed
// out. The session becomes Expired and needs a fresh request.
func (c *Controller) CodeTimeout() (Snapshot, error) {
	c.mu.Lock()
	s := c.session
	if s == nil || s.status != StatusCodeSent {
		snap := c.snapshotLocked(s)
		c.mu.Unlock()
		return snap, ErrInvalidState
	}
	c.timer.Cancel()
	s.status = StatusExpired
	s.code = ""
	s.err = ErrExpiredSession
	snap := c.snapshotLocked(s)
	c.mu.Unlock()

	c.publish(snap)
	return snap, nil
}

// Detach abandons the current session. Results that arrive for it later
// are applied to the abandoned session only and never published.
func (c *Controller) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer.Cancel()
	if c.session != nil {
		c.session.detached = true
		c.session = nil
	}
}

func (c *Controller) applySend(s *session, res SendResult, err error) (Snapshot, error) {
	c.mu.Lock()
	detached := s.detached || c.session != s
	switch {
	case err != nil:
		s.status = StatusFailed
		s.err = classifySend(err)
	case res.Outcome == OutcomeAutoVerified && res.Credential != nil:
		s.status = StatusVerified
		cred := *res.Credential
		s.credential = &cred
		s.err = nil
	case res.Outcome == OutcomeCodeSent:
		s.id = res.SessionID
		s.resendToken = res.ResendToken
		s.code = ""
		s.status = StatusCodeSent
		s.err = nil
		if !detached {
			c.timer.Start()
		}
	default:
		s.status = StatusFailed
		s.err = ProviderFailure("")
	}
	snap := c.snapshotLocked(s)
	c.mu.Unlock()

	if detached {
		c.logger.Debug("dropping provider result for detached session", zap.String("phone", s.phone.Masked))
		return snap, ErrSessionDetached
	}
	c.publish(snap)
	if snap.Err != nil {
		c.logger.Warn("verification code request failed",
			zap.String("phone", s.phone.Masked),
			zap.Error(err),
		)
		return snap, snap.Err
	}
	return snap, nil
}

func (c *Controller) onTimerTick(time.Duration) {
	c.mu.Lock()
	s := c.session
	if s == nil || s.detached {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked(s)
	c.mu.Unlock()
	c.publish(snap)
}

// onTimerExpire only logs; the final zero tick already published CanResend.
func (c *Controller) onTimerExpire() {
	c.logger.Debug("resend cooldown elapsed")
}

func (c *Controller) publish(snap Snapshot) {
	c.mu.Lock()
	fns := make([]func(Snapshot), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (c *Controller) snapshotLocked(s *session) Snapshot {
	if s == nil {
		return Snapshot{Status: StatusIdle}
	}
	snap := Snapshot{
		SessionID:    s.id,
		Status:       s.status,
		Mode:         s.mode,
		Phone:        s.phone,
		ResendToken:  s.resendToken,
		EnteredCode:  s.code,
		CodeComplete: isCompleteCode(s.code),
		Err:          s.err,
		Detached:     s.detached,
	}
	if s.pending != nil {
		p := *s.pending
		snap.Pending = &p
	}
	if s.credential != nil {
		cred := *s.credential
		snap.Credential = &cred
	}
	if !s.detached && c.session == s {
		snap.ResendRemaining = c.timer.Remaining()
		snap.CanResend = (s.status == StatusCodeSent || s.status == StatusFailed) &&
			s.resendToken != "" && snap.ResendRemaining == 0
	}
	return snap
}

func isCompleteCode(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
