package domain

import (
	"io"
	"time"
)

type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Paste is the central record. Exactly one of Content/FileRef is populated,
// matching Kind. ViewCount and Expired are mutated only through the store's
// conditional update; no other component writes them.
type Paste struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"type"`
	Content         string    `json:"content,omitempty"`
	FileRef         *FileRef  `json:"file_meta,omitempty"`
	OwnerID         string    `json:"-"`
	PasswordHash    string    `json:"-"`
	OneTimeView     bool      `json:"-"`
	MaxViews        int       `json:"max_views,omitempty"`
	ViewCount       int       `json:"current_views"`
	ExpiresAt       time.Time `json:"expires_at,omitzero"`
	Expired         bool      `json:"-"`
	DeleteTokenHash string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// FileRef points at externally stored bytes. BlobKey is an opaque storage
// key, never derived from the paste id or the original filename.
type FileRef struct {
	BlobKey      string `json:"-"`
	OriginalName string `json:"filename"`
	ByteSize     int64  `json:"filesize"`
	MimeType     string `json:"mimetype"`
}

// IsAnonymous reports whether the paste has no owner; anonymous pastes can
// only be deleted by presenting the delete capability.
func (p *Paste) IsAnonymous() bool {
	return p.OwnerID == ""
}

// HasExpiry reports whether the paste time-expires at all.
func (p *Paste) HasExpiry() bool {
	return !p.ExpiresAt.IsZero()
}

// Meta is the projection returned by listing endpoints: no content, no
// secrets, no owner identity.
type Meta struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	MaxViews  int       `json:"max_views,omitempty"`
	ViewCount int       `json:"current_views"`
	Expired   bool      `json:"is_expired"`
}

func (p *Paste) Meta() Meta {
	return Meta{
		ID:        p.ID,
		Kind:      p.Kind,
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
		MaxViews:  p.MaxViews,
		ViewCount: p.ViewCount,
		Expired:   p.Expired,
	}
}

// CreateParams carries everything the lifecycle controller needs to mint a
// paste. Exactly one of Content/File must be set.
type CreateParams struct {
	Content     string
	File        *FileUpload
	OwnerID     string
	Password    string
	ExpiresIn   time.Duration
	NeverExpire bool
	OneTimeView bool
	MaxViews    int
}

// FileUpload is a not-yet-stored file payload. Size is the declared size;
// the controller enforces the ceiling on the actual bytes read, not on this.
type FileUpload struct {
	Name     string
	Size     int64
	MimeType string
	Data     io.Reader
}

// View is what a successful retrieve returns: content for text pastes, file
// metadata for file pastes (bytes are streamed by the download path).
type View struct {
	Kind      Kind      `json:"type"`
	Content   string    `json:"content,omitempty"`
	FileMeta  *FileRef  `json:"file_meta,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	MaxViews  int       `json:"max_views,omitempty"`
	ViewCount int       `json:"current_views"`
}
