package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// GoogleConfig is the explicit configuration for the Google sign-in
// exchange. It is passed to the component that needs it; there is no
// process-wide strategy registration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func (c GoogleConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// GoogleProfile is the subset of the OIDC userinfo response the account
// service consumes.
type GoogleProfile struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// GoogleExchanger swaps an authorization code for a user profile.
type GoogleExchanger struct {
	cfg    GoogleConfig
	client *http.Client
}

func NewGoogleExchanger(cfg GoogleConfig) *GoogleExchanger {
	return &GoogleExchanger{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Exchange performs the code-for-token exchange and fetches the userinfo
// document for the resulting access token.
func (g *GoogleExchanger) Exchange(ctx context.Context, code string) (*GoogleProfile, error) {
	if !g.cfg.Enabled() {
		return nil, errors.New("google sign-in not configured")
	}
	form := url.Values{
		"code":          {code},
		"client_id":     {g.cfg.ClientID},
		"client_secret": {g.cfg.ClientSecret},
		"redirect_uri":  {g.cfg.RedirectURL},
		"grant_type":    {"authorization_code"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "token exchange")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("token exchange failed: status %d", resp.StatusCode)
	}
	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, errors.Wrap(err, "decode token response")
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.New("token exchange returned no access token")
	}
	return g.fetchProfile(ctx, tokenResp.AccessToken)
}

func (g *GoogleExchanger) fetchProfile(ctx context.Context, accessToken string) (*GoogleProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleUserinfoURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build userinfo request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch userinfo")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("userinfo failed: status %d", resp.StatusCode)
	}
	var profile GoogleProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, errors.Wrap(err, "decode userinfo")
	}
	if profile.Subject == "" {
		return nil, errors.New("userinfo missing subject")
	}
	return &profile, nil
}
