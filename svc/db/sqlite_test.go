package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"linkvault/pkg/domain"
)

func testStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func textPaste(id string) *domain.Paste {
	return &domain.Paste{
		ID:              id,
		Kind:            domain.KindText,
		Content:         "hello",
		DeleteTokenHash: "digest-" + id,
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
	}
}

func TestPasteRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	want := textPaste("p1")
	want.OwnerID = "owner-1"
	want.PasswordHash = "hash"
	want.OneTimeView = true
	want.MaxViews = 3
	want.ExpiresAt = time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	if err := s.CreatePaste(ctx, want); err != nil {
		t.Fatalf("CreatePaste: %v", err)
	}
	got, err := s.GetPaste(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPaste: %v", err)
	}
	if got.Content != want.Content || got.OwnerID != want.OwnerID ||
		got.PasswordHash != want.PasswordHash || !got.OneTimeView ||
		got.MaxViews != 3 || got.Expired || got.ViewCount != 0 {
		t.Fatalf("got %+v", got)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("ExpiresAt = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}
	if got.FileRef != nil {
		t.Fatal("text paste grew a file ref")
	}
}

func TestFilePasteRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p := textPaste("f1")
	p.Kind = domain.KindFile
	p.Content = ""
	p.FileRef = &domain.FileRef{
		BlobKey:      "blob-key",
		OriginalName: "report.pdf",
		ByteSize:     12345,
		MimeType:     "application/pdf",
	}
	if err := s.CreatePaste(ctx, p); err != nil {
		t.Fatalf("CreatePaste: %v", err)
	}
	got, err := s.GetPaste(ctx, "f1")
	if err != nil {
		t.Fatalf("GetPaste: %v", err)
	}
	if got.FileRef == nil || got.FileRef.BlobKey != "blob-key" ||
		got.FileRef.OriginalName != "report.pdf" || got.FileRef.ByteSize != 12345 {
		t.Fatalf("FileRef = %+v", got.FileRef)
	}
}

func TestCreatePasteDuplicateID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.CreatePaste(ctx, textPaste("dup")); err != nil {
		t.Fatalf("CreatePaste: %v", err)
	}
	if err := s.CreatePaste(ctx, textPaste("dup")); !errors.Is(err, domain.ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}
}

func TestGetPasteNotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetPaste(context.Background(), "nope"); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("err = %v, want ErrPasteNotFound", err)
	}
}

func TestUpdateViewStateClaims(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	p := textPaste("v1")
	p.MaxViews = 2
	if err := s.CreatePaste(ctx, p); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		claimed, err := s.UpdateViewState(ctx, "v1", true, false, now)
		if err != nil || !claimed {
			t.Fatalf("claim %d: claimed=%v err=%v", i, claimed, err)
		}
	}
	// Third claim loses: the ceiling is reached.
	claimed, err := s.UpdateViewState(ctx, "v1", true, false, now)
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Fatal("claim past the view ceiling must not land")
	}
	got, _ := s.GetPaste(ctx, "v1")
	if got.ViewCount != 2 {
		t.Fatalf("view count = %d, want 2", got.ViewCount)
	}
}

func TestUpdateViewStateRespectsDeadline(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p := textPaste("v2")
	p.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if err := s.CreatePaste(ctx, p); err != nil {
		t.Fatal(err)
	}
	claimed, err := s.UpdateViewState(ctx, "v2", true, false, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Fatal("claim on a past-deadline paste must not land")
	}
}

func TestUpdateViewStateTombstone(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	p := textPaste("v3")
	p.OneTimeView = true
	if err := s.CreatePaste(ctx, p); err != nil {
		t.Fatal(err)
	}

	// One-time view: increment and tombstone in the same statement.
	claimed, err := s.UpdateViewState(ctx, "v3", true, true, now)
	if err != nil || !claimed {
		t.Fatalf("claimed=%v err=%v", claimed, err)
	}
	got, _ := s.GetPaste(ctx, "v3")
	if !got.Expired || got.ViewCount != 1 {
		t.Fatalf("got %+v", got)
	}
	// Tombstoned rows accept no further claims.
	claimed, err = s.UpdateViewState(ctx, "v3", true, false, now)
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Fatal("claim on a tombstoned paste must not land")
	}

	// Tombstone-only writes are unconditional and idempotent.
	for i := 0; i < 2; i++ {
		ok, err := s.UpdateViewState(ctx, "v3", false, true, now)
		if err != nil || !ok {
			t.Fatalf("tombstone write %d: ok=%v err=%v", i, ok, err)
		}
	}
}

func TestFindExpired(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	live := textPaste("live")
	live.ExpiresAt = now.Add(time.Hour)
	dead := textPaste("dead")
	dead.ExpiresAt = now.Add(-time.Minute)
	tombstoned := textPaste("tomb")
	eternal := textPaste("eternal")
	for _, p := range []*domain.Paste{live, dead, tombstoned, eternal} {
		if err := s.CreatePaste(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.UpdateViewState(ctx, "tomb", false, true, now); err != nil {
		t.Fatal(err)
	}

	batch, err := s.FindExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("FindExpired: %v", err)
	}
	got := make(map[string]bool)
	for _, p := range batch {
		got[p.ID] = true
	}
	if !got["dead"] {
		t.Fatal("time-expired paste missing from sweep batch")
	}
	if !got["tomb"] {
		t.Fatal("tombstoned paste missing from sweep batch")
	}
	if got["live"] || got["eternal"] {
		t.Fatalf("live paste swept: %v", got)
	}

	limited, err := s.FindExpired(ctx, now, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit ignored: got %d rows", len(limited))
	}
}

func TestFindByOwnerOrdering(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		p := textPaste(id)
		p.OwnerID = "owner-1"
		p.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreatePaste(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	other := textPaste("other")
	other.OwnerID = "owner-2"
	if err := s.CreatePaste(ctx, other); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindByOwner(ctx, "owner-1")
	if err != nil {
		t.Fatalf("FindByOwner: %v", err)
	}
	if len(got) != 3 || got[0].ID != "new" || got[2].ID != "old" {
		ids := make([]string, len(got))
		for i, p := range got {
			ids[i] = p.ID
		}
		t.Fatalf("order = %v, want newest first", ids)
	}

	n, err := s.CountByOwner(ctx, "owner-1")
	if err != nil || n != 3 {
		t.Fatalf("CountByOwner = %d, %v", n, err)
	}
}

func TestFindByIDs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := s.CreatePaste(ctx, textPaste(id)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.FindByIDs(ctx, []string{"a", "missing", "b"})
	if err != nil {
		t.Fatalf("FindByIDs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	empty, err := s.FindByIDs(ctx, nil)
	if err != nil || empty != nil {
		t.Fatalf("FindByIDs(nil) = %v, %v", empty, err)
	}
}

func TestDeletePasteIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.CreatePaste(ctx, textPaste("d1")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePaste(ctx, "d1"); err != nil {
		t.Fatalf("DeletePaste: %v", err)
	}
	if err := s.DeletePaste(ctx, "d1"); err != nil {
		t.Fatalf("second DeletePaste: %v", err)
	}
	if _, err := s.GetPaste(ctx, "d1"); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("err = %v, want ErrPasteNotFound", err)
	}
}

func testUser(id string) *domain.User {
	return &domain.User{
		ID:           id,
		Username:     "user-" + id,
		Email:        id + "@example.com",
		PasswordHash: "hash",
		VerifyToken:  "verify-" + id,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func TestUserRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser("u1")
	u.GoogleID = "goog-1"
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	lookups := []struct {
		name string
		get  func() (*domain.User, error)
	}{
		{"by id", func() (*domain.User, error) { return s.GetUserByID(ctx, u.ID) }},
		{"by email", func() (*domain.User, error) { return s.GetUserByEmail(ctx, u.Email) }},
		{"by username", func() (*domain.User, error) { return s.GetUserByUsername(ctx, u.Username) }},
		{"by verify token", func() (*domain.User, error) { return s.GetUserByVerifyToken(ctx, u.VerifyToken) }},
		{"by google id", func() (*domain.User, error) { return s.GetUserByGoogleID(ctx, u.GoogleID) }},
	}
	for _, l := range lookups {
		got, err := l.get()
		if err != nil {
			t.Fatalf("%s: %v", l.name, err)
		}
		if got.ID != u.ID || got.Email != u.Email || got.Verified {
			t.Fatalf("%s: got %+v", l.name, got)
		}
	}
	if _, err := s.GetUserByID(ctx, "missing"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("missing user: err = %v", err)
	}
}

func TestCreateUserUniqueViolations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.CreateUser(ctx, testUser("u1")); err != nil {
		t.Fatal(err)
	}

	dupEmail := testUser("u2")
	dupEmail.Email = "u1@example.com"
	if err := s.CreateUser(ctx, dupEmail); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("dup email: err = %v", err)
	}
	dupName := testUser("u3")
	dupName.Username = "user-u1"
	if err := s.CreateUser(ctx, dupName); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("dup username: err = %v", err)
	}
}

func TestUpdateUsernameConflict(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.CreateUser(ctx, testUser("u1")); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUser(ctx, testUser("u2")); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateUsername(ctx, "u2", "user-u1"); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("err = %v, want ErrUsernameTaken", err)
	}
	if err := s.UpdateUsername(ctx, "u2", "fresh"); err != nil {
		t.Fatalf("UpdateUsername: %v", err)
	}
	got, _ := s.GetUserByID(ctx, "u2")
	if got.Username != "fresh" {
		t.Fatalf("username = %q", got.Username)
	}
}

func TestMarkVerifiedConsumesToken(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser("u1")
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkVerified(ctx, u.ID); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	got, _ := s.GetUserByID(ctx, u.ID)
	if !got.Verified || got.VerifyToken != "" {
		t.Fatalf("got %+v", got)
	}
	if _, err := s.GetUserByVerifyToken(ctx, u.VerifyToken); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("consumed token still resolves: err = %v", err)
	}
}

func TestUpdatePasswordClearsResetToken(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser("u1")
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	if err := s.SetResetToken(ctx, u.ID, "reset-1", expires); err != nil {
		t.Fatalf("SetResetToken: %v", err)
	}
	got, err := s.GetUserByResetToken(ctx, "reset-1")
	if err != nil {
		t.Fatalf("GetUserByResetToken: %v", err)
	}
	if !got.ResetExpires.Equal(expires) {
		t.Fatalf("ResetExpires = %v, want %v", got.ResetExpires, expires)
	}

	if err := s.UpdatePassword(ctx, u.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	got, _ = s.GetUserByID(ctx, u.ID)
	if got.PasswordHash != "new-hash" || got.ResetToken != "" || !got.ResetExpires.IsZero() {
		t.Fatalf("got %+v", got)
	}
}

func TestLinkGoogle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser("u1")
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := s.LinkGoogle(ctx, u.ID, "goog-7"); err != nil {
		t.Fatalf("LinkGoogle: %v", err)
	}
	got, err := s.GetUserByGoogleID(ctx, "goog-7")
	if err != nil {
		t.Fatalf("GetUserByGoogleID: %v", err)
	}
	if got.ID != u.ID || !got.Verified {
		t.Fatalf("got %+v", got)
	}
}

func TestDeleteUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser("u1")
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := s.GetUserByID(ctx, u.ID); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}
