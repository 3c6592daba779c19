package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quickauth/server/internal/model"
	"github.com/quickauth/server/internal/notify"
	"github.com/quickauth/server/internal/repo"
	"github.com/quickauth/server/internal/session"
	"github.com/quickauth/server/internal/verification"
)

// ProfileStore is the external profile store. Misses return repo.ErrNotFound.
type ProfileStore interface {
	Save(ctx context.Context, p model.UserProfile) error
	GetByID(ctx context.Context, id string) (model.UserProfile, error)
	FindByEmail(ctx context.Context, email string) (model.UserProfile, error)
}

// Result is the terminal outcome of a completed verification.
type Result struct {
	Profile model.UserProfile `json:"profile"`
	// Degraded is set when sign-in succeeded without a stored profile.
	Degraded bool `json:"degraded"`
}

// Orchestrator turns a verified credential into a logged-in session. It is
// the only writer of the device's UserSession.
type Orchestrator struct {
	profiles ProfileStore
	sessions session.Store
	sink     notify.Sink
	revoker  verification.Revoker
	log      *zap.Logger
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator for one device. sink, revoker and
// log may be nil.
func NewOrchestrator(
	profiles ProfileStore,
	sessions session.Store,
	sink notify.Sink,
	revoker verification.Revoker,
	log *zap.Logger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		profiles: profiles,
		sessions: sessions,
		sink:     sink,
		revoker:  revoker,
		log:      log,
		now:      time.Now,
	}
}

// CompleteSignUp saves the profile for a freshly verified identity and logs
// it in. On a store failure no session is persisted and the same credential
// may be retried.
func (o *Orchestrator) CompleteSignUp(ctx context.Context, cred verification.Credential, pending verification.PendingProfile) (Result, error) {
	if err := pending.Validate(); err != nil {
		return Result{}, err
	}

	profile := model.UserProfile{
		UID:         cred.UserID,
		FullName:    strings.TrimSpace(pending.FullName),
		Email:       strings.TrimSpace(pending.Email),
		PhoneNumber: cred.Phone,
		Verified:    true,
		CreatedAt:   o.now().UTC(),
	}
	if err := o.profiles.Save(ctx, profile); err != nil {
		o.log.Error("profile save failed", zap.String("uid", cred.UserID), zap.Error(err))
		return Result{}, verification.StorageFailure("")
	}
	if err := o.persist(ctx, profile); err != nil {
		return Result{}, err
	}

	o.notify(ctx, notify.KindWelcome, profile)
	o.log.Info("sign-up completed", zap.String("uid", profile.UID))
	return Result{Profile: profile}, nil
}

// CompleteSignIn loads the profile of a verified identity and logs it in.
// An identity without a profile still signs in with a degraded profile.
func (o *Orchestrator) CompleteSignIn(ctx context.Context, cred verification.Credential) (Result, error) {
	profile, err := o.profiles.GetByID(ctx, cred.UserID)
	degraded := false
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrNotFound):
		profile = o.degradedProfile(ctx, cred)
		degraded = true
		o.log.Warn("signed in without profile", zap.String("uid", cred.UserID))
	default:
		o.log.Error("profile lookup failed", zap.String("uid", cred.UserID), zap.Error(err))
		return Result{}, verification.StorageFailure("")
	}

	if err := o.persist(ctx, profile); err != nil {
		return Result{}, err
	}

	o.notify(ctx, notify.KindWelcomeBack, profile)
	return Result{Profile: profile, Degraded: degraded}, nil
}

// Logout revokes the credential when the provider supports it, clears the
// persisted session and detaches any in-memory verification session.
func (o *Orchestrator) Logout(ctx context.Context, cred *verification.Credential, ctrl *verification.Controller) error {
	if cred != nil && o.revoker != nil {
		if err := o.revoker.Revoke(ctx, *cred); err != nil {
			o.log.Warn("credential revoke failed", zap.String("uid", cred.UserID), zap.Error(err))
		}
	}
	if err := o.sessions.Clear(ctx); err != nil {
		o.log.Error("session clear failed", zap.Error(err))
		return verification.StorageFailure("We could not log you out. Please retry.")
	}
	if ctrl != nil {
		ctrl.Detach()
	}

	uid := ""
	if cred != nil {
		uid = cred.UserID
	}
	if o.sink != nil {
		o.sink.Notify(ctx, notify.Message{
			Kind:   notify.KindLoggedOut,
			UserID: uid,
			Text:   notify.Text(notify.KindLoggedOut, ""),
			SentAt: o.now().UTC(),
		})
	}
	return nil
}

// CheckEmailAvailable fails with ErrEmailTaken when a profile already uses email.
func (o *Orchestrator) CheckEmailAvailable(ctx context.Context, email string) error {
	_, err := o.profiles.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return verification.ErrEmailTaken
	case errors.Is(err, repo.ErrNotFound):
		return nil
	default:
		o.log.Error("email lookup failed", zap.Error(err))
		return verification.StorageFailure("We could not check your email. Please retry.")
	}
}

// degradedProfile reuses the prior local session when it belongs to the same user.
func (o *Orchestrator) degradedProfile(ctx context.Context, cred verification.Credential) model.UserProfile {
	profile := model.UserProfile{
		UID:         cred.UserID,
		PhoneNumber: cred.Phone,
		Verified:    true,
	}
	prior, err := o.sessions.Load(ctx)
	if err != nil {
		o.log.Warn("prior session unavailable", zap.Error(err))
		return profile
	}
	if prior != nil && prior.UserID == cred.UserID {
		profile.FullName = prior.DisplayName
		profile.Email = prior.Email
		if profile.PhoneNumber == "" {
			profile.PhoneNumber = prior.Phone
		}
	}
	return profile
}

func (o *Orchestrator) persist(ctx context.Context, p model.UserProfile) error {
	err := o.sessions.Save(ctx, session.UserSession{
		UserID:      p.UID,
		DisplayName: p.FullName,
		Email:       p.Email,
		Phone:       p.PhoneNumber,
		LoggedIn:    true,
	})
	if err != nil {
		o.log.Error("session save failed", zap.String("uid", p.UID), zap.Error(err))
		return verification.StorageFailure("")
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, kind notify.Kind, p model.UserProfile) {
	if o.sink == nil {
		return
	}
	o.sink.Notify(ctx, notify.Message{
		Kind:   kind,
		UserID: p.UID,
		Text:   notify.Text(kind, p.FullName),
		SentAt: o.now().UTC(),
	})
}
