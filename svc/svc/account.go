package svc

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"

	"linkvault/pkg/domain"
	"linkvault/svc/auth"
	"linkvault/svc/mail"
	"linkvault/svc/util"
)

const resetTokenTTL = time.Hour

// UserStore is the account persistence surface. Satisfied by *db.SQLite.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByVerifyToken(ctx context.Context, token string) (*domain.User, error)
	GetUserByResetToken(ctx context.Context, token string) (*domain.User, error)
	GetUserByGoogleID(ctx context.Context, googleID string) (*domain.User, error)
	UpdateUsername(ctx context.Context, id, username string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	MarkVerified(ctx context.Context, id string) error
	SetResetToken(ctx context.Context, id, token string, expires time.Time) error
	LinkGoogle(ctx context.Context, id, googleID string) error
	DeleteUser(ctx context.Context, id string) error
	CountByOwner(ctx context.Context, ownerID string) (int, error)
}

// GoogleVerifier exchanges an OAuth code for a verified Google profile.
// Satisfied by *auth.GoogleExchanger.
type GoogleVerifier interface {
	Exchange(ctx context.Context, code string) (*auth.GoogleProfile, error)
}

// Account implements registration, login, email verification, password
// recovery, and account deletion with paste cascade.
type Account struct {
	users    UserStore
	pastes   *Paste
	hasher   Hasher
	sessions *auth.Sessions
	mailer   mail.Mailer
	google   GoogleVerifier
}

func NewAccount(users UserStore, pastes *Paste, h Hasher, sessions *auth.Sessions, mailer mail.Mailer, google GoogleVerifier) *Account {
	if users == nil || pastes == nil || h == nil || sessions == nil || mailer == nil {
		panic("account service: nil dependency")
	}
	return &Account{
		users:    users,
		pastes:   pastes,
		hasher:   h,
		sessions: sessions,
		mailer:   mailer,
		google:   google,
	}
}

func normalizeUsername(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Register creates an unverified account and sends the verification mail.
// Mail failure is logged, not fatal: the token stays valid for a resend.
func (a *Account) Register(ctx context.Context, params domain.RegisterParams) (*domain.User, error) {
	username := normalizeUsername(params.Username)
	email := normalizeEmail(params.Email)
	if username == "" || email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidRequest
	}
	if len(params.Password) < 8 {
		return nil, domain.NewErr("WEAK_PASSWORD", "password must be at least 8 characters", 400)
	}
	pwHash, err := a.hasher.Hash(params.Password)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	verifyToken, err := util.GenerateToken(util.CapabilityBytes)
	if err != nil {
		return nil, errors.Wrap(err, "gen verify token")
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: pwHash,
		VerifyToken:  verifyToken,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	if err := a.mailer.SendVerification(user.Email, verifyToken); err != nil {
		util.Warn().Err(err).Str("email", util.RedactEmail(user.Email)).Msg("verification mail failed")
	}
	util.Info().Str("user_id", user.ID).Msg("account registered")
	return user, nil
}

// Login authenticates by email or username and issues a session token. The
// hasher burns a dummy verification when the account does not exist so the
// two failure paths take comparable time.
func (a *Account) Login(ctx context.Context, identifier, password string) (string, *domain.User, error) {
	identifier = strings.TrimSpace(identifier)
	var user *domain.User
	var err error
	if strings.Contains(identifier, "@") {
		user, err = a.users.GetUserByEmail(ctx, normalizeEmail(identifier))
	} else {
		user, err = a.users.GetUserByUsername(ctx, normalizeUsername(identifier))
	}
	if errors.Is(err, domain.ErrUserNotFound) {
		a.hasher.Verify(password, "")
		return "", nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if user.PasswordHash == "" {
		// Google-only account; no password to check.
		return "", nil, domain.ErrInvalidCredentials
	}
	match, err := a.hasher.Verify(password, user.PasswordHash)
	if err != nil || !match {
		return "", nil, domain.ErrInvalidCredentials
	}
	token, err := a.sessions.Issue(user.ID, user.Username)
	if err != nil {
		return "", nil, errors.Wrap(err, "issue session")
	}
	return token, user, nil
}

// VerifyEmail consumes a verification token.
func (a *Account) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return domain.ErrInvalidToken
	}
	user, err := a.users.GetUserByVerifyToken(ctx, token)
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.ErrInvalidToken
	}
	if err != nil {
		return err
	}
	return a.users.MarkVerified(ctx, user.ID)
}

// ForgotPassword issues a reset token. An unknown email gets the same nil
// response so the endpoint cannot be used to probe for accounts.
func (a *Account) ForgotPassword(ctx context.Context, email string) error {
	user, err := a.users.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	token, err := util.GenerateToken(util.CapabilityBytes)
	if err != nil {
		return errors.Wrap(err, "gen reset token")
	}
	expires := time.Now().UTC().Add(resetTokenTTL)
	if err := a.users.SetResetToken(ctx, user.ID, token, expires); err != nil {
		return err
	}
	if err := a.mailer.SendPasswordReset(user.Email, token); err != nil {
		util.Warn().Err(err).Str("email", util.RedactEmail(user.Email)).Msg("reset mail failed")
	}
	return nil
}

// ResetPassword consumes a live reset token and replaces the password.
func (a *Account) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return domain.ErrInvalidToken
	}
	if len(newPassword) < 8 {
		return domain.NewErr("WEAK_PASSWORD", "password must be at least 8 characters", 400)
	}
	user, err := a.users.GetUserByResetToken(ctx, token)
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.ErrInvalidToken
	}
	if err != nil {
		return err
	}
	if user.ResetExpires.IsZero() || time.Now().UTC().After(user.ResetExpires) {
		return domain.ErrInvalidToken
	}
	pwHash, err := a.hasher.Hash(newPassword)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	return a.users.UpdatePassword(ctx, user.ID, pwHash)
}

// GoogleLogin exchanges an OAuth code, linking or creating the account, and
// issues a session. Google-verified emails skip the verification mail.
func (a *Account) GoogleLogin(ctx context.Context, code string) (string, *domain.User, error) {
	if a.google == nil {
		return "", nil, domain.NewErr("GOOGLE_DISABLED", "google login is not configured", 400)
	}
	profile, err := a.google.Exchange(ctx, code)
	if err != nil {
		return "", nil, err
	}
	user, err := a.users.GetUserByGoogleID(ctx, profile.Subject)
	if errors.Is(err, domain.ErrUserNotFound) {
		user, err = a.linkOrCreateFromGoogle(ctx, profile)
	}
	if err != nil {
		return "", nil, err
	}
	token, err := a.sessions.Issue(user.ID, user.Username)
	if err != nil {
		return "", nil, errors.Wrap(err, "issue session")
	}
	return token, user, nil
}

func (a *Account) linkOrCreateFromGoogle(ctx context.Context, profile *auth.GoogleProfile) (*domain.User, error) {
	email := normalizeEmail(profile.Email)
	existing, err := a.users.GetUserByEmail(ctx, email)
	if err == nil {
		if err := a.users.LinkGoogle(ctx, existing.ID, profile.Subject); err != nil {
			return nil, err
		}
		existing.GoogleID = profile.Subject
		existing.Verified = true
		return existing, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}
	username := normalizeUsername(profile.Name)
	if username == "" {
		username = strings.SplitN(email, "@", 2)[0]
	}
	// Usernames must be unique; suffix until the insert sticks.
	base := username
	user := &domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		Verified:  profile.EmailVerified,
		GoogleID:  profile.Subject,
		CreatedAt: time.Now().UTC(),
	}
	for attempt := 0; attempt < 5; attempt++ {
		user.Username = base
		if attempt > 0 {
			suffix, err := util.GenerateToken(3)
			if err != nil {
				return nil, errors.Wrap(err, "gen username suffix")
			}
			user.Username = base + "-" + suffix
		}
		err := a.users.CreateUser(ctx, user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, domain.ErrUsernameTaken) {
			return nil, err
		}
	}
	return nil, errors.New("could not allocate a unique username")
}

// Profile returns the public view of an account with its live paste count.
func (a *Account) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	user, err := a.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	count, err := a.users.CountByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.Profile{
		ID:         user.ID,
		Username:   user.Username,
		Email:      user.Email,
		Verified:   user.Verified,
		CreatedAt:  user.CreatedAt,
		PasteCount: count,
	}, nil
}

// Rename changes the username.
func (a *Account) Rename(ctx context.Context, userID, username string) error {
	username = normalizeUsername(username)
	if username == "" {
		return domain.ErrInvalidRequest
	}
	return a.users.UpdateUsername(ctx, userID, username)
}

// ChangePassword replaces the password after checking the current one.
// Google-only accounts set their first password without a current one.
func (a *Account) ChangePassword(ctx context.Context, userID, current, next string) error {
	if len(next) < 8 {
		return domain.NewErr("WEAK_PASSWORD", "password must be at least 8 characters", 400)
	}
	user, err := a.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.PasswordHash != "" {
		match, err := a.hasher.Verify(current, user.PasswordHash)
		if err != nil || !match {
			return domain.ErrInvalidCredentials
		}
	}
	pwHash, err := a.hasher.Hash(next)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	return a.users.UpdatePassword(ctx, userID, pwHash)
}

// Delete removes the account and every paste it owns. The cascade runs first;
// if any paste survives, the user record stays so the operation can be
// retried without orphaning data.
func (a *Account) Delete(ctx context.Context, userID string) error {
	if _, err := a.users.GetUserByID(ctx, userID); err != nil {
		return err
	}
	if err := a.pastes.CascadeDeleteOwner(ctx, userID); err != nil {
		return errors.Wrap(err, "cascade delete pastes")
	}
	if err := a.users.DeleteUser(ctx, userID); err != nil {
		return err
	}
	util.Info().Str("user_id", userID).Msg("account deleted")
	return nil
}

// Pastes lists the caller's pastes as metadata.
func (a *Account) Pastes(ctx context.Context, userID string) ([]domain.Meta, error) {
	return a.pastes.ListByOwner(ctx, userID)
}
