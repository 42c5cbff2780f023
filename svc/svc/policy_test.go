package svc

import (
	"errors"
	"testing"
	"time"

	"linkvault/pkg/domain"
)

type fakeVerifier struct{}

func (fakeVerifier) Verify(password, encoded string) (bool, error) {
	return "hash:"+password == encoded, nil
}

func TestEvaluateAccessOrdering(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		paste    domain.Paste
		password string
		wantErr  error
		wantInc  bool
		wantExp  bool
	}{
		{
			name:    "plain paste allows and increments",
			paste:   domain.Paste{},
			wantInc: true,
		},
		{
			name:    "tombstone wins over everything",
			paste:   domain.Paste{Expired: true, PasswordHash: "hash:pw", MaxViews: 1, ViewCount: 5},
			wantErr: domain.ErrPasteExpired,
		},
		{
			name:    "deadline passed reports expiry and requests tombstone",
			paste:   domain.Paste{ExpiresAt: now.Add(-time.Second), PasswordHash: "hash:pw"},
			wantErr: domain.ErrPasteExpired,
			wantExp: true,
		},
		{
			name:    "deadline exactly now is expired",
			paste:   domain.Paste{ExpiresAt: now},
			wantErr: domain.ErrPasteExpired,
			wantExp: true,
		},
		{
			name:    "password missing",
			paste:   domain.Paste{PasswordHash: "hash:pw"},
			wantErr: domain.ErrPasswordRequired,
		},
		{
			name:     "password wrong",
			paste:    domain.Paste{PasswordHash: "hash:pw"},
			password: "nope",
			wantErr:  domain.ErrInvalidPassword,
		},
		{
			name:     "password checked before view limit",
			paste:    domain.Paste{PasswordHash: "hash:pw", MaxViews: 1, ViewCount: 1},
			password: "nope",
			wantErr:  domain.ErrInvalidPassword,
		},
		{
			name:    "view limit reached",
			paste:   domain.Paste{MaxViews: 2, ViewCount: 2},
			wantErr: domain.ErrViewLimitReached,
		},
		{
			name:     "correct password under limit allows",
			paste:    domain.Paste{PasswordHash: "hash:pw", MaxViews: 2, ViewCount: 1},
			password: "pw",
			wantInc:  true,
		},
		{
			name:    "one time view allows and requests tombstone",
			paste:   domain.Paste{OneTimeView: true},
			wantInc: true,
			wantExp: true,
		},
		{
			name:    "zero max views means unlimited",
			paste:   domain.Paste{ViewCount: 1000},
			wantInc: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := EvaluateAccess(&tt.paste, tt.password, fakeVerifier{}, now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil {
				if !errors.Is(dec.Deny, tt.wantErr) {
					t.Fatalf("deny = %v, want %v", dec.Deny, tt.wantErr)
				}
				if dec.IncrementView {
					t.Fatal("denied access must not increment views")
				}
			} else {
				if dec.Deny != nil {
					t.Fatalf("unexpected deny: %v", dec.Deny)
				}
				if dec.IncrementView != tt.wantInc {
					t.Fatalf("IncrementView = %v, want %v", dec.IncrementView, tt.wantInc)
				}
			}
			if dec.SetExpired != tt.wantExp {
				t.Fatalf("SetExpired = %v, want %v", dec.SetExpired, tt.wantExp)
			}
		})
	}
}

func TestEvaluateAccessExpiredNeverChecksPassword(t *testing.T) {
	// An expired paste with a wrong password must report expiry, not the
	// password failure: time order beats password order.
	now := time.Now().UTC()
	p := &domain.Paste{ExpiresAt: now.Add(-time.Hour), PasswordHash: "hash:pw"}
	dec, err := EvaluateAccess(p, "wrong", fakeVerifier{}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(dec.Deny, domain.ErrPasteExpired) {
		t.Fatalf("deny = %v, want ErrPasteExpired", dec.Deny)
	}
}
