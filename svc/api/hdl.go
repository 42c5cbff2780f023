package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"

	"linkvault/cfg"
	"linkvault/pkg/domain"
	"linkvault/svc/svc"
	"linkvault/svc/util"
)

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}

type CreateReq struct {
	Content     string `json:"content"`
	Password    string `json:"password,omitempty"`
	ExpiresIn   *int64 `json:"expires_in,omitempty"`
	OneTimeView bool   `json:"one_time_view,omitempty"`
	MaxViews    int    `json:"max_views,omitempty"`
}

type CreateResp struct {
	ID          string      `json:"id"`
	Kind        domain.Kind `json:"type"`
	DeleteToken string      `json:"delete_token"`
	ExpiresAt   time.Time   `json:"expires_at,omitzero"`
}

// CreatePaste accepts application/json for text pastes and
// multipart/form-data for file pastes.
func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}

	var params domain.CreateParams
	switch mediaType {
	case "application/json":
		params, err = h.decodeTextCreate(w, r)
	case "multipart/form-data":
		params, err = h.decodeFileCreate(w, r)
	default:
		log.Warn().Str("content_type", mediaType).Msg("unsupported Content-Type")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected application/json or multipart/form-data",
			"request_id": requestID,
		})
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("invalid create request")
		writeErr(w, err, requestID)
		return
	}
	params.OwnerID = UserID(r.Context())

	paste, deleteToken, err := h.paste.Submit(r.Context(), params)
	if err != nil {
		if domain.Status(err) < 500 {
			writeErr(w, err, requestID)
			return
		}
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().
		Str("paste_id", paste.ID).
		Str("type", string(paste.Kind)).
		Bool("password_protected", params.Password != "").
		Bool("anonymous", paste.IsAnonymous()).
		Msg("paste created")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateResp{
		ID:          paste.ID,
		Kind:        paste.Kind,
		DeleteToken: deleteToken,
		ExpiresAt:   paste.ExpiresAt,
	})
}

func (h *Hdl) decodeTextCreate(w http.ResponseWriter, r *http.Request) (domain.CreateParams, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxPasteSize*2)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return domain.CreateParams{}, domain.ErrInvalidRequest
	}
	if req.Content == "" {
		return domain.CreateParams{}, domain.ErrInvalidPayload
	}
	params := domain.CreateParams{
		Content:     sanitizeContent(req.Content),
		Password:    req.Password,
		OneTimeView: req.OneTimeView,
		MaxViews:    req.MaxViews,
	}
	applyExpiry(&params, req.ExpiresIn)
	return params, nil
}

func (h *Hdl) decodeFileCreate(w http.ResponseWriter, r *http.Request) (domain.CreateParams, error) {
	// Form fields ride along with the file, so allow a little slack over the
	// file ceiling; the service enforces the exact cap on bytes read.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		return domain.CreateParams{}, domain.ErrInvalidPayload
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	params := domain.CreateParams{
		File: &domain.FileUpload{
			Name:     header.Filename,
			Size:     header.Size,
			MimeType: mimeType,
			Data:     file,
		},
		Password:    r.FormValue("password"),
		OneTimeView: r.FormValue("one_time_view") == "true",
	}
	if v := r.FormValue("max_views"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return domain.CreateParams{}, domain.ErrInvalidRequest
		}
		params.MaxViews = n
	}
	if v := r.FormValue("expires_in"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.CreateParams{}, domain.ErrInvalidRequest
		}
		applyExpiry(&params, &n)
	}
	return params, nil
}

// applyExpiry maps the wire field onto the lifetime: absent means the default
// TTL, zero or negative means the paste never time-expires.
func applyExpiry(params *domain.CreateParams, expiresIn *int64) {
	if expiresIn == nil {
		return
	}
	if *expiresIn <= 0 {
		params.NeverExpire = true
		return
	}
	params.ExpiresIn = time.Duration(*expiresIn) * time.Second
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	id := chi.URLParam(r, "id")
	password := pastePassword(r)
	view, err := h.paste.Retrieve(r.Context(), id, password)
	if err != nil {
		h.writeAccessErr(w, r, id, err)
		return
	}
	log.Info().
		Str("paste_id", id).
		Str("client_ip", util.RedactIP(r.RemoteAddr)).
		Int("views", view.ViewCount).
		Msg("paste retrieved")
	json.NewEncoder(w).Encode(view)
}

// DownloadPaste streams the stored bytes of a file paste. It spends a view
// just like GetPaste.
func (h *Hdl) DownloadPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	id := chi.URLParam(r, "id")
	password := pastePassword(r)
	rc, ref, err := h.paste.Download(r.Context(), id, password)
	if err != nil {
		h.writeAccessErr(w, r, id, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", ref.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(ref.ByteSize, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+sanitizeFilename(ref.OriginalName)+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		log.Warn().Err(err).Str("paste_id", id).Msg("file stream interrupted")
	}
}

func (h *Hdl) writeAccessErr(w http.ResponseWriter, r *http.Request, id string, err error) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	if errors.Is(err, domain.ErrInvalidPassword) || errors.Is(err, domain.ErrPasswordRequired) {
		log.Warn().
			Str("paste_id", id).
			Str("client_ip", util.RedactIP(r.RemoteAddr)).
			Msg("failed password attempt")
	}
	if domain.Status(err) < 500 {
		writeErr(w, err, requestID)
		return
	}
	log.Error().Err(err).Str("paste_id", id).Msg("paste access failed")
	writeErr(w, domain.ErrInternalServer, requestID)
}

// DeletePaste accepts either the X-Delete-Token capability or an
// authenticated owner session.
func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	token := r.Header.Get("X-Delete-Token")
	ownerID := UserID(r.Context())
	if token == "" && ownerID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "missing X-Delete-Token header",
			"request_id": requestID,
		})
		return
	}
	if err := h.paste.Remove(r.Context(), id, token, ownerID); err != nil {
		if domain.Status(err) < 500 {
			writeErr(w, err, requestID)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Msg("failed to delete paste")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

type BulkReq struct {
	IDs []string `json:"ids"`
}

func (h *Hdl) BulkMeta(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	var req BulkReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	metas, err := h.paste.BulkMeta(r.Context(), req.IDs)
	if err != nil {
		if domain.Status(err) < 500 {
			writeErr(w, err, requestID)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("bulk lookup failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"pastes": metas})
}

func pastePassword(r *http.Request) string {
	if pwd := r.URL.Query().Get("password"); pwd != "" {
		return pwd
	}
	return r.Header.Get("X-Paste-Password")
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	w.WriteHeader(statusCode)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 {
		errorMsg = "internal server error"
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}

// sanitizeContent normalizes to NFC and strips control characters, keeping
// whitespace. Content is stored verbatim otherwise; escaping is the client's
// job at render time.
func sanitizeContent(s string) string {
	s = norm.NFC.String(s)
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 32 || r == 127 {
			return '_'
		}
		return r
	}, name)
}
