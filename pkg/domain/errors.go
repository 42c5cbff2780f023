package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrPasteNotFound     = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrPasteExpired      = NewErr("PASTE_EXPIRED", "link expired", http.StatusForbidden)
	ErrPasswordRequired  = NewErr("PASSWORD_REQUIRED", "password required", http.StatusUnauthorized)
	ErrInvalidPassword   = NewErr("INVALID_PASSWORD", "incorrect password", http.StatusForbidden)
	ErrViewLimitReached  = NewErr("VIEW_LIMIT_REACHED", "view limit reached", http.StatusForbidden)
	ErrForbidden         = NewErr("FORBIDDEN", "not allowed", http.StatusForbidden)
	ErrPayloadTooLarge   = NewErr("PAYLOAD_TOO_LARGE", "file too large", http.StatusBadRequest)
	ErrInvalidPayload    = NewErr("INVALID_PAYLOAD", "provide either text or a file (only one)", http.StatusBadRequest)
	ErrInvalidRequest    = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrDuplicateID       = NewErr("DUPLICATE_ID", "id already exists", http.StatusInternalServerError)
	ErrRateLimitExceeded = NewErr("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrInternalServer    = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)

	ErrUserNotFound       = NewErr("USER_NOT_FOUND", "user not found", http.StatusNotFound)
	ErrInvalidCredentials = NewErr("INVALID_CREDENTIALS", "invalid credentials", http.StatusUnauthorized)
	ErrUnauthorized       = NewErr("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrEmailTaken         = NewErr("EMAIL_TAKEN", "email already registered", http.StatusBadRequest)
	ErrUsernameTaken      = NewErr("USERNAME_TAKEN", "username already taken", http.StatusBadRequest)
	ErrInvalidToken       = NewErr("INVALID_TOKEN", "invalid or expired token", http.StatusBadRequest)
)

// Err is a machine-distinguishable error: a stable code for clients, a
// human message, and the HTTP status handlers should answer with.
type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }

func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}

type ErrDetail struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}

func ToResp(err error) ErrResp {
	var de *Err
	if errors.As(err, &de) {
		return ErrResp{Error: ErrDetail{Code: de.Code, Msg: de.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: ErrInternalServer.Code, Msg: ErrInternalServer.Msg}}
}

// Status maps an error to the HTTP status it should surface as. Unknown
// errors are internal.
func Status(err error) int {
	var de *Err
	if errors.As(err, &de) {
		return de.Status
	}
	return http.StatusInternalServerError
}
