package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"linkvault/cfg"
	"linkvault/pkg/domain"
	"linkvault/svc/auth"
	"linkvault/svc/db"
	"linkvault/svc/svc"
	"linkvault/svc/util"
)

type AccountHdl struct {
	account *svc.Account
	cfg     *cfg.Cfg
	rdb     *db.Redis
}

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginReq struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type sessionResp struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst) == nil
}

func (h *AccountHdl) writeSvcErr(w http.ResponseWriter, r *http.Request, err error, what string) {
	requestID := util.GetRequestID(r.Context())
	if domain.Status(err) < 500 {
		writeErr(w, err, requestID)
		return
	}
	hlog.FromRequest(r).Error().Err(err).Msg(what)
	writeErr(w, domain.ErrInternalServer, requestID)
}

func (h *AccountHdl) Register(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	var req registerReq
	if !decodeJSON(w, r, &req) {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	user, err := h.account.Register(r.Context(), domain.RegisterParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeSvcErr(w, r, err, "register failed")
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

func (h *AccountHdl) Login(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	var req loginReq
	if !decodeJSON(w, r, &req) || req.Identifier == "" || req.Password == "" {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	token, user, err := h.account.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		hlog.FromRequest(r).Warn().
			Str("client_ip", util.RedactIP(r.RemoteAddr)).
			Msg("failed login attempt")
		h.writeSvcErr(w, r, err, "login failed")
		return
	}
	json.NewEncoder(w).Encode(sessionResp{Token: token, User: user})
}

// Logout revokes the presented session for its remaining lifetime. Without a
// Redis backend tokens simply age out.
func (h *AccountHdl) Logout(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	if h.rdb != nil {
		if token := auth.ExtractBearer(r.Header.Get("Authorization")); token != "" {
			if err := h.rdb.RevokeSession(r.Context(), util.HashToken(token), h.cfg.SessionTTL); err != nil {
				util.Warn().Err(err).Str("request_id", requestID).Msg("session revocation failed")
			}
		}
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "logged_out"})
}

func (h *AccountHdl) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if err := h.account.VerifyEmail(r.Context(), token); err != nil {
		h.writeSvcErr(w, r, err, "email verification failed")
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "verified"})
}

func (h *AccountHdl) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) || req.Email == "" {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if err := h.account.ForgotPassword(r.Context(), req.Email); err != nil {
		h.writeSvcErr(w, r, err, "forgot password failed")
		return
	}
	json.NewEncoder(w).Encode(map[string]string{
		"status": "if that account exists, a reset email has been sent",
	})
}

func (h *AccountHdl) ResetPassword(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if err := h.account.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.writeSvcErr(w, r, err, "password reset failed")
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "password_reset"})
}

func (h *AccountHdl) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) || req.Code == "" {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	token, user, err := h.account.GoogleLogin(r.Context(), req.Code)
	if err != nil {
		h.writeSvcErr(w, r, err, "google login failed")
		return
	}
	json.NewEncoder(w).Encode(sessionResp{Token: token, User: user})
}

func (h *AccountHdl) Me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.account.Profile(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeSvcErr(w, r, err, "profile lookup failed")
		return
	}
	json.NewEncoder(w).Encode(profile)
}

func (h *AccountHdl) UpdateMe(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	var req struct {
		Username string `json:"username"`
	}
	if !decodeJSON(w, r, &req) || req.Username == "" {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if err := h.account.Rename(r.Context(), UserID(r.Context()), req.Username); err != nil {
		h.writeSvcErr(w, r, err, "username update failed")
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
}

func (h *AccountHdl) ChangePassword(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decodeJSON(w, r, &req) {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if err := h.account.ChangePassword(r.Context(), UserID(r.Context()), req.CurrentPassword, req.NewPassword); err != nil {
		h.writeSvcErr(w, r, err, "password change failed")
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "password_changed"})
}

// DeleteMe deletes the account with its paste cascade and revokes the
// presenting session.
func (h *AccountHdl) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	start := time.Now()
	if err := h.account.Delete(r.Context(), userID); err != nil {
		h.writeSvcErr(w, r, err, "account deletion failed")
		return
	}
	if h.rdb != nil {
		if token := auth.ExtractBearer(r.Header.Get("Authorization")); token != "" {
			if err := h.rdb.RevokeSession(r.Context(), util.HashToken(token), h.cfg.SessionTTL); err != nil {
				util.Warn().Err(err).Msg("session revocation failed")
			}
		}
	}
	hlog.FromRequest(r).Info().
		Str("user_id", userID).
		Dur("duration", time.Since(start)).
		Msg("account deleted")
	json.NewEncoder(w).Encode(map[string]string{"status": "account_deleted"})
}

func (h *AccountHdl) MyPastes(w http.ResponseWriter, r *http.Request) {
	metas, err := h.account.Pastes(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeSvcErr(w, r, err, "paste listing failed")
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"pastes": metas})
}
