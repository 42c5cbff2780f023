package svc

import (
	"time"

	"linkvault/pkg/domain"
)

// PasswordVerifier checks a candidate password against a stored hash.
// Satisfied by *auth.Hasher.
type PasswordVerifier interface {
	Verify(password, encoded string) (bool, error)
}

// Decision is the result of evaluating one access attempt. When Deny is nil
// the attempt is allowed and the state changes it names must be applied
// atomically before content is served.
type Decision struct {
	Deny          error
	Reason        string
	IncrementView bool
	SetExpired    bool
}

func (d Decision) Allowed() bool { return d.Deny == nil }

// EvaluateAccess runs the access checks in their fixed order: tombstone,
// time expiry, password presence, password match, view limit. The first
// failing check wins; later checks never run, so a wrong password on an
// expired paste reports expiry, never the password.
func EvaluateAccess(p *domain.Paste, password string, verifier PasswordVerifier, now time.Time) (Decision, error) {
	if p.Expired {
		return Decision{Deny: domain.ErrPasteExpired, Reason: "expired"}, nil
	}
	if p.HasExpiry() && !now.Before(p.ExpiresAt) {
		// Lazily discovered expiry. The caller persists the tombstone so the
		// sweeper and later reads agree.
		return Decision{Deny: domain.ErrPasteExpired, Reason: "expired", SetExpired: true}, nil
	}
	if p.PasswordHash != "" {
		if password == "" {
			return Decision{Deny: domain.ErrPasswordRequired, Reason: "password_required"}, nil
		}
		match, err := verifier.Verify(password, p.PasswordHash)
		if err != nil {
			return Decision{}, err
		}
		if !match {
			return Decision{Deny: domain.ErrInvalidPassword, Reason: "password_incorrect"}, nil
		}
	}
	if p.MaxViews > 0 && p.ViewCount >= p.MaxViews {
		return Decision{Deny: domain.ErrViewLimitReached, Reason: "view_limit"}, nil
	}
	return Decision{IncrementView: true, SetExpired: p.OneTimeView}, nil
}
