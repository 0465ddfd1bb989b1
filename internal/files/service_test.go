package files

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"mycloud/internal/apperrors"
	"mycloud/internal/contentstore"
	"mycloud/internal/guard"
	"mycloud/internal/models"
	"mycloud/internal/registry"
	"mycloud/internal/store"
	"mycloud/internal/usage"
)

type testEnv struct {
	ctx   context.Context
	store *store.Store
	svc   *Service
}

func newTestEnv(t *testing.T, limits guard.Limits) *testEnv {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "mycloud.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	content, err := contentstore.NewLocal(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("open content store: %v", err)
	}

	g := guard.New(st, limits)
	reg := registry.New(st, content, registry.Options{MaxFilesPerUser: g.MaxFilesPerUser(), MaxUploadBytes: g.MaxUploadBytes()})
	agg := usage.NewAggregator(st, usage.NewMemoryCache(100, usage.DefaultTTL), nil)
	return &testEnv{ctx: context.Background(), store: st, svc: NewService(reg, g, agg, st, Options{})}
}

func (e *testEnv) account(t *testing.T, username string, role models.Role) models.Principal {
	t.Helper()
	account := &models.Account{Username: username, PasswordHash: "x", Role: role, IsActive: true}
	if err := e.store.CreateAccount(e.ctx, account); err != nil {
		t.Fatalf("create account %s: %v", username, err)
	}
	return account.Principal()
}

func (e *testEnv) upload(t *testing.T, p models.Principal, name, body string) *models.FileRecord {
	t.Helper()
	record, err := e.svc.Upload(e.ctx, p, UploadInput{Name: name, Size: int64(len(body)), Content: strings.NewReader(body)})
	if err != nil {
		t.Fatalf("upload %s: %v", name, err)
	}
	return record
}

func expectCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if got := apperrors.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}

func readDownload(t *testing.T, d *Download) string {
	t.Helper()
	defer d.Content.Close()
	data, err := io.ReadAll(d.Content)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	return string(data)
}

func TestUploadDownloadDeleteScenario(t *testing.T) {
	env := newTestEnv(t, guard.Limits{})
	alice := env.account(t, "alice", models.RoleUser)
	bob := env.account(t, "bob", models.RoleUser)
	admin := env.account(t, "admin", models.RoleAdmin)

	record := env.upload(t, alice, "notes.txt", "0123456789")

	stats, err := env.svc.Stats(env.ctx, alice, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.FileCount != 1 || stats.TotalBytes != 10 {
		t.Fatalf("expected 1 file / 10 bytes, got %+v", stats)
	}

	_, err = env.svc.Download(env.ctx, bob, record.ID)
	expectCode(t, err, apperrors.CodeAccessDenied)
	if apperrors.KindOf(err) != apperrors.KindAuthorization {
		t.Fatalf("expected authorization kind, got %s", apperrors.KindOf(err))
	}

	d, err := env.svc.Download(env.ctx, admin, record.ID)
	if err != nil {
		t.Fatalf("admin download: %v", err)
	}
	if body := readDownload(t, d); body != "0123456789" {
		t.Fatalf("unexpected body %q", body)
	}

	d, err = env.svc.PublicDownload(env.ctx, record.PublicLink)
	if err != nil {
		t.Fatalf("public download: %v", err)
	}
	if body := readDownload(t, d); body != "0123456789" {
		t.Fatalf("unexpected public body %q", body)
	}

	got, err := env.svc.Get(env.ctx, alice, record.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DownloadCount != 2 || got.LastDownloadAt == nil {
		t.Fatalf("expected two recorded downloads, got %d", got.DownloadCount)
	}

	if _, err := env.svc.Delete(env.ctx, bob, record.ID); apperrors.CodeOf(err) != apperrors.CodeAccessDenied {
		t.Fatalf("expected bob's delete to be denied, got %v", err)
	}
	if _, err := env.svc.Delete(env.ctx, alice, record.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	stats, err = env.svc.Stats(env.ctx, alice, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.FileCount != 0 || stats.TotalBytes != 0 {
		t.Fatalf("expected empty stats after delete, got %+v", stats)
	}

	_, err = env.svc.Delete(env.ctx, alice, record.ID)
	expectCode(t, err, apperrors.CodeFileNotFound)
	_, err = env.svc.PublicDownload(env.ctx, record.PublicLink)
	expectCode(t, err, apperrors.CodeFileNotFound)
}

type countingReader struct {
	read int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.read += len(p)
	return len(p), nil
}

func TestUploadOversizeReadsNothing(t *testing.T) {
	env := newTestEnv(t, guard.Limits{MaxUploadBytes: 1024})
	alice := env.account(t, "alice", models.RoleUser)

	reader := &countingReader{}
	_, err := env.svc.Upload(env.ctx, alice, UploadInput{Name: "big.zip", Size: 4096, Content: reader})
	expectCode(t, err, apperrors.CodeFileTooLarge)
	if reader.read != 0 {
		t.Fatalf("expected no bytes consumed, got %d", reader.read)
	}
	stats, err := env.svc.Stats(env.ctx, alice, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.FileCount != 0 {
		t.Fatalf("expected no files, got %+v", stats)
	}
}

func TestUploadUndeclaredOversizeIsRejected(t *testing.T) {
	env := newTestEnv(t, guard.Limits{MaxUploadBytes: 4})
	alice := env.account(t, "alice", models.RoleUser)

	_, err := env.svc.Upload(env.ctx, alice, UploadInput{Name: "a.txt", Size: -1, Content: strings.NewReader("too long")})
	expectCode(t, err, apperrors.CodeFileTooLarge)
	files, err := env.svc.List(env.ctx, alice, "", models.DefaultFileOrder)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files, got %d", len(files))
	}
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t, guard.Limits{MaxFilesPerUser: 1})
	alice := env.account(t, "alice", models.RoleUser)

	_, err := env.svc.Upload(env.ctx, models.Principal{}, UploadInput{Name: "a.txt", Content: strings.NewReader("a")})
	expectCode(t, err, apperrors.CodeUnauthenticated)

	_, err = env.svc.Upload(env.ctx, alice, UploadInput{Name: "a.txt"})
	expectCode(t, err, apperrors.CodeMissingFile)

	_, err = env.svc.Upload(env.ctx, alice, UploadInput{Name: "setup.exe", Size: 1, Content: strings.NewReader("a")})
	expectCode(t, err, apperrors.CodeUnsupportedFileType)

	_, err = env.svc.Upload(env.ctx, alice, UploadInput{Name: "a.txt", Size: 1, Comment: strings.Repeat("c", 501), Content: strings.NewReader("a")})
	expectCode(t, err, apperrors.CodeCommentTooLong)

	record, err := env.svc.Upload(env.ctx, alice, UploadInput{Name: " photo.png ", Size: 1, Comment: "<i>holiday</i>", Content: strings.NewReader("a")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if record.OriginalName != "photo.png" || record.Comment != "holiday" {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.ContentType != "image/png" || record.MimeCategory != models.CategoryImage {
		t.Fatalf("unexpected type %q / %q", record.ContentType, record.MimeCategory)
	}

	_, err = env.svc.Upload(env.ctx, alice, UploadInput{Name: "b.txt", Size: 1, Content: strings.NewReader("b")})
	expectCode(t, err, apperrors.CodeFileLimitExceeded)
	expectCode(t, env.svc.CheckUploadQuota(env.ctx, alice), apperrors.CodeFileLimitExceeded)
	expectCode(t, env.svc.CheckUploadQuota(env.ctx, models.Principal{}), apperrors.CodeUnauthenticated)
}

func TestRenameAndComment(t *testing.T) {
	env := newTestEnv(t, guard.Limits{})
	alice := env.account(t, "alice", models.RoleUser)
	bob := env.account(t, "bob", models.RoleUser)
	record := env.upload(t, alice, "draft.txt", "abc")

	_, err := env.svc.Rename(env.ctx, alice, record.ID, "CON")
	expectCode(t, err, apperrors.CodeInvalidFilename)

	_, err = env.svc.Rename(env.ctx, bob, record.ID, "stolen.txt")
	expectCode(t, err, apperrors.CodeAccessDenied)

	renamed, err := env.svc.Rename(env.ctx, alice, record.ID, "report.pdf")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.OriginalName != "report.pdf" || renamed.StoredKey != record.StoredKey {
		t.Fatalf("unexpected rename result %+v", renamed)
	}

	commented, err := env.svc.Comment(env.ctx, alice, record.ID, "<b>final</b>")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if commented.Comment != "final" {
		t.Fatalf("unexpected comment %q", commented.Comment)
	}
	_, err = env.svc.Comment(env.ctx, alice, record.ID, strings.Repeat("x", 501))
	expectCode(t, err, apperrors.CodeCommentTooLong)

	_, err = env.svc.Get(env.ctx, alice, store.NewFileID())
	expectCode(t, err, apperrors.CodeFileNotFound)
}

func TestListVisibility(t *testing.T) {
	env := newTestEnv(t, guard.Limits{})
	alice := env.account(t, "alice", models.RoleUser)
	bob := env.account(t, "bob", models.RoleUser)
	admin := env.account(t, "admin", models.RoleAdmin)
	env.upload(t, alice, "a.txt", "a")
	env.upload(t, bob, "b.txt", "b")

	own, err := env.svc.List(env.ctx, alice, "", models.DefaultFileOrder)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(own) != 1 || own[0].OwnerID != alice.ID {
		t.Fatalf("expected only alice's file, got %+v", own)
	}

	_, err = env.svc.List(env.ctx, alice, bob.ID, models.DefaultFileOrder)
	expectCode(t, err, apperrors.CodeAccessDenied)

	theirs, err := env.svc.List(env.ctx, admin, bob.ID, models.DefaultFileOrder)
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(theirs) != 1 || theirs[0].OwnerID != bob.ID {
		t.Fatalf("expected bob's file, got %+v", theirs)
	}

	_, err = env.svc.List(env.ctx, admin, "au-missing", models.DefaultFileOrder)
	expectCode(t, err, apperrors.CodeUserNotFound)

	_, err = env.svc.Stats(env.ctx, alice, bob.ID)
	expectCode(t, err, apperrors.CodeAccessDenied)
}

func TestInactivePrincipalIsDenied(t *testing.T) {
	env := newTestEnv(t, guard.Limits{})
	alice := env.account(t, "alice", models.RoleUser)
	record := env.upload(t, alice, "a.txt", "a")

	alice.IsActive = false
	_, err := env.svc.Get(env.ctx, alice, record.ID)
	expectCode(t, err, apperrors.CodeAccessDenied)
}
