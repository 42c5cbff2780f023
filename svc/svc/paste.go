package svc

import (
	"context"
	"crypto/subtle"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"linkvault/cfg"
	"linkvault/metrics"
	"linkvault/pkg/domain"
	"linkvault/svc/blob"
	"linkvault/svc/util"
)

// PasteStore is the persistence surface the controller needs. Satisfied by
// *db.SQLite.
type PasteStore interface {
	CreatePaste(ctx context.Context, p *domain.Paste) error
	GetPaste(ctx context.Context, id string) (*domain.Paste, error)
	UpdateViewState(ctx context.Context, id string, incrementView, setExpired bool, now time.Time) (bool, error)
	DeletePaste(ctx context.Context, id string) error
	FindExpired(ctx context.Context, asOf time.Time, limit int) ([]*domain.Paste, error)
	FindByOwner(ctx context.Context, ownerID string) ([]*domain.Paste, error)
	FindByIDs(ctx context.Context, ids []string) ([]*domain.Paste, error)
}

// Paste is the lifecycle controller: it owns creation, access-checked reads,
// deletion, and expiry sweeping. All view-count and tombstone writes flow
// through the store's conditional update.
type Paste struct {
	store    PasteStore
	blobs    blob.Store
	verifier PasswordVerifier
	hash     func(string) (string, error)
	cfg      *cfg.Cfg
	shutdown atomic.Bool
	opWg     sync.WaitGroup
}

type Hasher interface {
	PasswordVerifier
	Hash(password string) (string, error)
}

func NewPaste(store PasteStore, blobs blob.Store, h Hasher, c *cfg.Cfg) *Paste {
	if store == nil || blobs == nil || h == nil || c == nil {
		panic("paste service: nil dependency (store, blobs, hasher, or cfg)")
	}
	return &Paste{
		store:    store,
		blobs:    blobs,
		verifier: h,
		hash:     h.Hash,
		cfg:      c,
	}
}

func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	done := make(chan struct{})
	go func() {
		p.opWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("paste operations didn't drain in time")
	}
	util.Debug().Msg("paste service shutdown complete")
}

// Submit validates params, stores file bytes if any, and persists the record.
// The returned string is the delete capability; it is shown exactly once and
// only its digest survives.
func (p *Paste) Submit(ctx context.Context, params domain.CreateParams) (*domain.Paste, string, error) {
	if p.shutdown.Load() {
		return nil, "", errors.New("service shutting down")
	}
	p.opWg.Add(1)
	defer p.opWg.Done()

	hasContent := params.Content != ""
	hasFile := params.File != nil
	if hasContent == hasFile {
		return nil, "", domain.ErrInvalidPayload
	}
	if hasContent && int64(len(params.Content)) > p.cfg.MaxPasteSize {
		return nil, "", domain.ErrPayloadTooLarge
	}

	now := time.Now().UTC()
	var expiresAt time.Time
	if !params.NeverExpire {
		ttl := params.ExpiresIn
		if ttl == 0 {
			ttl = p.cfg.DefaultTTL
		}
		if ttl > p.cfg.MaxTTL {
			ttl = p.cfg.MaxTTL
		}
		expiresAt = now.Add(ttl)
	}

	var pwHash string
	if params.Password != "" {
		var err error
		pwHash, err = p.hash(params.Password)
		if err != nil {
			return nil, "", errors.Wrap(err, "hash password")
		}
	}

	deleteToken, err := util.GenerateDeleteToken()
	if err != nil {
		return nil, "", errors.Wrap(err, "gen delete token")
	}

	paste := &domain.Paste{
		Kind:            domain.KindText,
		Content:         params.Content,
		OwnerID:         params.OwnerID,
		PasswordHash:    pwHash,
		OneTimeView:     params.OneTimeView,
		MaxViews:        params.MaxViews,
		ExpiresAt:       expiresAt,
		DeleteTokenHash: util.HashToken(deleteToken),
		CreatedAt:       now,
	}

	if hasFile {
		ref, err := p.storeFile(ctx, params.File)
		if err != nil {
			return nil, "", err
		}
		paste.Kind = domain.KindFile
		paste.Content = ""
		paste.FileRef = ref
	}

	if err := p.insertWithFreshID(ctx, paste); err != nil {
		if paste.FileRef != nil {
			p.removeBlob(ctx, paste.FileRef.BlobKey)
		}
		return nil, "", err
	}
	metrics.PasteCreated.Inc()
	return paste, deleteToken, nil
}

// insertWithFreshID mints an id and inserts, retrying exactly once on an id
// collision with a newly minted id.
func (p *Paste) insertWithFreshID(ctx context.Context, paste *domain.Paste) error {
	for attempt := 0; attempt < 2; attempt++ {
		id, err := util.GeneratePasteID()
		if err != nil {
			return errors.Wrap(err, "gen paste id")
		}
		paste.ID = id
		err = p.store.CreatePaste(ctx, paste)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrDuplicateID) {
			return errors.Wrap(err, "create paste")
		}
		util.Warn().Str("id", util.RedactToken(id)).Msg("paste id collision, retrying")
	}
	return errors.Wrap(domain.ErrDuplicateID, "create paste")
}

// storeFile streams the upload into the blob store under a key unrelated to
// the paste id. Oversize uploads are detected on the actual bytes read; the
// partial blob is removed before the error surfaces.
func (p *Paste) storeFile(ctx context.Context, f *domain.FileUpload) (*domain.FileRef, error) {
	max := p.cfg.MaxFileSize
	if f.Size > max {
		return nil, domain.ErrPayloadTooLarge
	}
	key := uuid.NewString()
	counted := &countingReader{r: io.LimitReader(f.Data, max+1)}
	if err := p.blobs.Put(ctx, key, counted, -1, f.MimeType); err != nil {
		return nil, errors.Wrap(err, "store file")
	}
	if counted.n > max {
		p.removeBlob(ctx, key)
		return nil, domain.ErrPayloadTooLarge
	}
	return &domain.FileRef{
		BlobKey:      key,
		OriginalName: f.Name,
		ByteSize:     counted.n,
		MimeType:     f.MimeType,
	}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(buf []byte) (int, error) {
	n, err := c.r.Read(buf)
	c.n += int64(n)
	return n, err
}

func (p *Paste) removeBlob(ctx context.Context, key string) {
	if err := p.blobs.Remove(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
		util.Warn().Err(err).Msg("failed to remove blob")
	}
}

// Retrieve runs the access policy and, on allow, claims the view atomically.
// The returned view already reflects the claimed count.
func (p *Paste) Retrieve(ctx context.Context, id, password string) (*domain.View, error) {
	paste, err := p.authorizeView(ctx, id, password)
	if err != nil {
		return nil, err
	}
	metrics.PasteViewed.Inc()
	return &domain.View{
		Kind:      paste.Kind,
		Content:   paste.Content,
		FileMeta:  paste.FileRef,
		ExpiresAt: paste.ExpiresAt,
		MaxViews:  paste.MaxViews,
		ViewCount: paste.ViewCount,
	}, nil
}

// Download is the byte-serving path for file pastes. It spends a view exactly
// like Retrieve does; fetching metadata and then the file costs two views.
func (p *Paste) Download(ctx context.Context, id, password string) (io.ReadCloser, *domain.FileRef, error) {
	// Check the kind before running the policy so a download attempt against
	// a text paste cannot spend a view.
	probe, err := p.store.GetPaste(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if probe.Kind != domain.KindFile {
		return nil, nil, domain.ErrInvalidRequest
	}
	paste, err := p.authorizeView(ctx, id, password)
	if err != nil {
		return nil, nil, err
	}
	if paste.FileRef == nil {
		return nil, nil, domain.ErrInvalidRequest
	}
	rc, _, err := p.blobs.Get(ctx, paste.FileRef.BlobKey)
	if err != nil {
		util.Error().Err(err).Str("id", util.RedactToken(id)).Msg("blob missing for file paste")
		return nil, nil, errors.Wrap(err, "fetch blob")
	}
	metrics.PasteViewed.Inc()
	return rc, paste.FileRef, nil
}

// authorizeView evaluates the policy and claims the resulting state change.
// When the conditional claim loses a race it re-reads and re-evaluates, so
// concurrent readers over the view limit get the correct denial instead of a
// phantom allow.
func (p *Paste) authorizeView(ctx context.Context, id, password string) (*domain.Paste, error) {
	for attempt := 0; attempt < 3; attempt++ {
		paste, err := p.store.GetPaste(ctx, id)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		dec, err := EvaluateAccess(paste, password, p.verifier, now)
		if err != nil {
			return nil, errors.Wrap(err, "evaluate access")
		}
		if !dec.Allowed() {
			if dec.SetExpired {
				if _, err := p.store.UpdateViewState(ctx, id, false, true, now); err != nil {
					util.Warn().Err(err).Str("id", util.RedactToken(id)).Msg("failed to persist expiry tombstone")
				}
			}
			metrics.AccessDenied.WithLabelValues(dec.Reason).Inc()
			return nil, dec.Deny
		}
		claimed, err := p.store.UpdateViewState(ctx, id, true, dec.SetExpired, now)
		if err != nil {
			return nil, errors.Wrap(err, "claim view")
		}
		if claimed {
			paste.ViewCount++
			if dec.SetExpired {
				paste.Expired = true
			}
			return paste, nil
		}
		// Another reader changed the state between read and claim; loop to
		// evaluate against the fresh row.
	}
	metrics.AccessDenied.WithLabelValues("view_limit").Inc()
	return nil, domain.ErrViewLimitReached
}

// Remove deletes a paste given either the delete capability or the owner's
// identity. Blob bytes go first so a crash leaves an orphaned record for the
// sweeper rather than an unreachable blob.
func (p *Paste) Remove(ctx context.Context, id, token, ownerID string) error {
	paste, err := p.store.GetPaste(ctx, id)
	if err != nil {
		return err
	}
	mode := ""
	switch {
	case token != "" && tokenMatches(token, paste.DeleteTokenHash):
		mode = "capability"
	case ownerID != "" && ownerID == paste.OwnerID:
		mode = "owner"
	default:
		return domain.ErrForbidden
	}
	if err := p.deleteStored(ctx, paste); err != nil {
		return err
	}
	metrics.PasteDeleted.WithLabelValues(mode).Inc()
	util.Info().Str("id", util.RedactToken(id)).Str("mode", mode).Msg("paste deleted")
	return nil
}

func tokenMatches(token, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	digest := util.HashToken(token)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(storedHash)) == 1
}

// deleteStored removes blob bytes (tolerating already-gone) and then the
// record. A blob failure keeps the record so the operation can be retried.
func (p *Paste) deleteStored(ctx context.Context, paste *domain.Paste) error {
	if paste.FileRef != nil {
		err := p.blobs.Remove(ctx, paste.FileRef.BlobKey)
		if err != nil && !errors.Is(err, blob.ErrNotFound) {
			return errors.Wrap(err, "remove blob")
		}
	}
	return errors.Wrap(p.store.DeletePaste(ctx, paste.ID), "delete record")
}

// BulkMeta returns metadata projections for the requested ids. Unknown ids
// are silently absent from the result.
func (p *Paste) BulkMeta(ctx context.Context, ids []string) ([]domain.Meta, error) {
	if len(ids) == 0 || len(ids) > p.cfg.BulkMaxIDs {
		return nil, domain.ErrInvalidRequest
	}
	pastes, err := p.store.FindByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "bulk lookup")
	}
	metas := make([]domain.Meta, 0, len(pastes))
	for _, paste := range pastes {
		metas = append(metas, paste.Meta())
	}
	return metas, nil
}

// ListByOwner returns the owner's pastes as metadata, newest first.
func (p *Paste) ListByOwner(ctx context.Context, ownerID string) ([]domain.Meta, error) {
	pastes, err := p.store.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list by owner")
	}
	metas := make([]domain.Meta, 0, len(pastes))
	for _, paste := range pastes {
		metas = append(metas, paste.Meta())
	}
	return metas, nil
}

// CascadeDeleteOwner removes every paste an owner holds. Failures are logged
// per paste and the whole operation reports failure so the caller can abort
// the account deletion and retry.
func (p *Paste) CascadeDeleteOwner(ctx context.Context, ownerID string) error {
	pastes, err := p.store.FindByOwner(ctx, ownerID)
	if err != nil {
		return errors.Wrap(err, "list owner pastes")
	}
	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.CascadeWorkers)
	for _, paste := range pastes {
		paste := paste
		g.Go(func() error {
			if err := p.deleteStored(gctx, paste); err != nil {
				util.Error().Err(err).Str("id", util.RedactToken(paste.ID)).Msg("cascade delete failed")
				failed.Add(1)
				return nil
			}
			metrics.PasteDeleted.WithLabelValues("cascade").Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return errors.Errorf("cascade delete left %d pastes behind", n)
	}
	return nil
}

var (
	sweeperOnce    sync.Once
	sweeperRunning atomic.Bool
)

// StartSweeper launches the background expiry sweeper. At most one runs per
// process.
func (p *Paste) StartSweeper(ctx context.Context, interval time.Duration) error {
	if sweeperRunning.Load() {
		return errors.New("sweeper already running")
	}
	sweeperOnce.Do(func() {
		sweeperRunning.Store(true)
		go p.runSweeper(ctx, interval)
	})
	return nil
}

func (p *Paste) runSweeper(ctx context.Context, interval time.Duration) {
	defer sweeperRunning.Store(false)
	sweepRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, sweepRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", sweepRequestID).
		Dur("interval", interval).
		Msg("sweep worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", sweepRequestID).
				Msg("sweep worker shutting down")
			return
		case <-ticker.C:
			deleted := p.sweepOnce(ctx)
			metrics.SweepCycles.Inc()
			if deleted > 0 {
				util.Info().
					Int("deleted", deleted).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("sweep completed")
			}
		}
	}
}

// sweepOnce drains expired pastes in bounded batches. One failing record is
// logged and skipped; it stays behind for the next cycle.
func (p *Paste) sweepOnce(ctx context.Context) int {
	deleted := 0
	for {
		if ctx.Err() != nil {
			return deleted
		}
		batch, err := p.store.FindExpired(ctx, time.Now().UTC(), p.cfg.SweepBatch)
		if err != nil {
			util.Error().Err(err).Str("request_id", util.GetRequestID(ctx)).Msg("sweep query failed")
			return deleted
		}
		progressed := 0
		for _, paste := range batch {
			if err := p.deleteStored(ctx, paste); err != nil {
				util.Warn().Err(err).Str("id", util.RedactToken(paste.ID)).Msg("sweep delete failed")
				continue
			}
			metrics.PasteDeleted.WithLabelValues("sweep").Inc()
			metrics.SweepDeleted.Inc()
			deleted++
			progressed++
		}
		if len(batch) < p.cfg.SweepBatch || progressed == 0 {
			return deleted
		}
	}
}
