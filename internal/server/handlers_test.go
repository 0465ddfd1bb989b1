package server

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"mycloud/internal/api"
	"mycloud/internal/apperrors"
	"mycloud/internal/guard"
	"mycloud/internal/models"
)

func TestRegisterLoginMe(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})

	rec := env.do(t, http.MethodPost, "/v1/auth/register", "", api.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: testPassword})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("register response leaked password fields: %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/v1/auth/register", "", api.RegisterRequest{Username: "alice", Password: testPassword})
	expectError(t, rec, http.StatusConflict, apperrors.CodeConflict)

	rec = env.do(t, http.MethodPost, "/v1/auth/login", "", api.LoginRequest{Username: "alice", Password: testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var login api.LoginResponse
	decodeBody(t, rec, &login)
	if login.Token == "" || login.Account.Username != "alice" || login.Account.Role != models.RoleUser {
		t.Fatalf("unexpected login response: %+v", login)
	}

	rec = env.do(t, http.MethodGet, "/v1/auth/me", login.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var me models.Account
	decodeBody(t, rec, &me)
	if me.ID != login.Account.ID {
		t.Fatalf("expected account %s, got %s", login.Account.ID, me.ID)
	}

	rec = env.do(t, http.MethodGet, "/v1/auth/me", "", nil)
	expectError(t, rec, http.StatusUnauthorized, apperrors.CodeUnauthenticated)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	env.account(t, "alice", models.RoleUser)

	rec := env.do(t, http.MethodPost, "/v1/auth/login", "", api.LoginRequest{Username: "alice", Password: "wrong-password"})
	expectError(t, rec, http.StatusUnauthorized, apperrors.CodeInvalidCredentials)

	rec = env.do(t, http.MethodPost, "/v1/auth/login", "", api.LoginRequest{Username: "nobody", Password: "wrong-password"})
	expectError(t, rec, http.StatusUnauthorized, apperrors.CodeInvalidCredentials)
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{LoginMaxFailures: 2})
	env.account(t, "alice", models.RoleUser)

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/v1/auth/login", "", api.LoginRequest{Username: "alice", Password: "wrong-password"})
		expectError(t, rec, http.StatusUnauthorized, apperrors.CodeInvalidCredentials)
	}

	rec := env.do(t, http.MethodPost, "/v1/auth/login", "", api.LoginRequest{Username: "alice", Password: testPassword})
	expectError(t, rec, http.StatusTooManyRequests, apperrors.CodeRateLimited)
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	token, account := env.account(t, "alice", models.RoleUser)

	record := env.uploadOK(t, token, "notes.txt", "hello mycloud")
	if record.OwnerID != account.ID || record.SizeBytes != int64(len("hello mycloud")) {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.Comment != "uploaded in test" || record.PublicLink == "" {
		t.Fatalf("expected comment and public link, got %+v", record)
	}
	if strings.Contains(env.upload(t, token, "other.txt", "x").Body.String(), "stored_key") {
		t.Fatal("upload response leaked the storage key")
	}

	rec := env.do(t, http.MethodGet, "/v1/files/"+record.ID+"/download", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "hello mycloud" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "notes.txt") {
		t.Fatalf("unexpected disposition %q", got)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected nosniff header")
	}

	rec = env.do(t, http.MethodGet, "/v1/public/"+record.PublicLink, "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "hello mycloud" {
		t.Fatalf("public download: got %d %q", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/v1/files/"+record.ID, token, nil)
	var refreshed models.FileRecord
	decodeBody(t, rec, &refreshed)
	if refreshed.DownloadCount != 2 || refreshed.LastDownloadAt == nil {
		t.Fatalf("expected two recorded downloads, got %+v", refreshed)
	}

	rec = env.do(t, http.MethodGet, "/v1/files", token, nil)
	var list api.FileListResponse
	decodeBody(t, rec, &list)
	if list.Count != 2 {
		t.Fatalf("expected 2 files, got %d", list.Count)
	}

	rec = env.do(t, http.MethodGet, "/v1/files/stats", token, nil)
	var stats models.UsageStats
	decodeBody(t, rec, &stats)
	if stats.FileCount != 2 || stats.TotalBytes != int64(len("hello mycloud")+1) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPublicDownloadUnknownLink(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	rec := env.do(t, http.MethodGet, "/v1/public/does-not-exist", "", nil)
	expectError(t, rec, http.StatusNotFound, apperrors.CodeFileNotFound)
}

func TestUploadRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	rec := env.upload(t, "", "notes.txt", "hello")
	expectError(t, rec, http.StatusUnauthorized, apperrors.CodeUnauthenticated)
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, guard.Limits{MaxUploadBytes: 16}, Options{})
	token, _ := env.account(t, "alice", models.RoleUser)

	rec := env.upload(t, token, "big.txt", strings.Repeat("x", 64))
	expectError(t, rec, http.StatusRequestEntityTooLarge, apperrors.CodeFileTooLarge)
}

func TestUploadQuotaCheckedBeforeBody(t *testing.T) {
	env := newTestEnv(t, guard.Limits{MaxUploadBytes: 16, MaxFilesPerUser: 1}, Options{})
	token, _ := env.account(t, "alice", models.RoleUser)
	env.uploadOK(t, token, "first.txt", "small")

	rec := env.upload(t, token, "huge.txt", strings.Repeat("x", 2<<20))
	expectError(t, rec, http.StatusBadRequest, apperrors.CodeFileLimitExceeded)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	token, _ := env.account(t, "alice", models.RoleUser)

	rec := env.upload(t, token, "payload.exe", "MZ")
	expectError(t, rec, http.StatusBadRequest, apperrors.CodeUnsupportedFileType)
}

func TestUploadMissingFile(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	token, _ := env.account(t, "alice", models.RoleUser)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("comment", "no file here"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/files", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	expectError(t, rec, http.StatusBadRequest, apperrors.CodeMissingFile)

	rec = env.do(t, http.MethodPost, "/v1/files", token, map[string]string{"file": "nope"})
	expectError(t, rec, http.StatusBadRequest, apperrors.CodeMissingFile)
}

func TestRenameAndComment(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	token, _ := env.account(t, "alice", models.RoleUser)
	record := env.uploadOK(t, token, "notes.txt", "hello")

	rec := env.do(t, http.MethodPatch, "/v1/files/"+record.ID+"/name", token, api.RenameRequest{NewName: "report.txt"})
	if rec.Code != http.StatusOK {
		t.Fatalf("rename: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var renamed models.FileRecord
	decodeBody(t, rec, &renamed)
	if renamed.OriginalName != "report.txt" {
		t.Fatalf("expected renamed file, got %q", renamed.OriginalName)
	}

	rec = env.do(t, http.MethodPatch, "/v1/files/"+record.ID+"/name", token, api.RenameRequest{NewName: "CON"})
	expectError(t, rec, http.StatusBadRequest, apperrors.CodeInvalidFilename)

	rec = env.do(t, http.MethodPatch, "/v1/files/"+record.ID+"/name", token, api.RenameRequest{NewName: "a/b.txt"})
	expectError(t, rec, http.StatusBadRequest, apperrors.CodeInvalidCharacters)

	rec = env.do(t, http.MethodPatch, "/v1/files/"+record.ID+"/comment", token, api.CommentRequest{Comment: "<b>quarterly</b> numbers"})
	if rec.Code != http.StatusOK {
		t.Fatalf("comment: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var commented models.FileRecord
	decodeBody(t, rec, &commented)
	if strings.Contains(commented.Comment, "<b>") {
		t.Fatalf("expected sanitized comment, got %q", commented.Comment)
	}

	rec = env.do(t, http.MethodPatch, "/v1/files/"+record.ID+"/comment", token, api.CommentRequest{Comment: strings.Repeat("c", 1001)})
	expectError(t, rec, http.StatusBadRequest, apperrors.CodeCommentTooLong)
}

func TestMalformedJSONBody(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	token, _ := env.account(t, "alice", models.RoleUser)
	record := env.uploadOK(t, token, "notes.txt", "hello")

	req := httptest.NewRequest(http.MethodPatch, "/v1/files/"+record.ID+"/name", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	expectError(t, rec, http.StatusBadRequest, apperrors.CodeInvalidArgument)
}

func TestFileAccessControl(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	aliceToken, _ := env.account(t, "alice", models.RoleUser)
	bobToken, _ := env.account(t, "bob", models.RoleUser)
	adminToken, _ := env.account(t, "admin", models.RoleAdmin)
	record := env.uploadOK(t, aliceToken, "notes.txt", "private")

	expectError(t, env.do(t, http.MethodGet, "/v1/files/"+record.ID, bobToken, nil), http.StatusForbidden, apperrors.CodeAccessDenied)
	expectError(t, env.do(t, http.MethodGet, "/v1/files/"+record.ID+"/download", bobToken, nil), http.StatusForbidden, apperrors.CodeAccessDenied)
	expectError(t, env.do(t, http.MethodDelete, "/v1/files/"+record.ID, bobToken, nil), http.StatusForbidden, apperrors.CodeAccessDenied)
	expectError(t, env.do(t, http.MethodGet, "/v1/files/missing-id", aliceToken, nil), http.StatusNotFound, apperrors.CodeFileNotFound)
	expectError(t, env.do(t, http.MethodGet, "/v1/files", "", nil), http.StatusUnauthorized, apperrors.CodeUnauthenticated)

	rec := env.do(t, http.MethodGet, "/v1/files/"+record.ID+"/download", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin download: expected 200, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/v1/files/"+record.ID, aliceToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	expectError(t, env.do(t, http.MethodGet, "/v1/files/"+record.ID, aliceToken, nil), http.StatusNotFound, apperrors.CodeFileNotFound)
	expectError(t, env.do(t, http.MethodGet, "/v1/public/"+record.PublicLink, "", nil), http.StatusNotFound, apperrors.CodeFileNotFound)
}

func TestAdminListUsers(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	aliceToken, _ := env.account(t, "alice", models.RoleUser)
	adminToken, _ := env.account(t, "admin", models.RoleAdmin)
	env.uploadOK(t, aliceToken, "notes.txt", "12345")

	expectError(t, env.do(t, http.MethodGet, "/v1/admin/users", aliceToken, nil), http.StatusForbidden, apperrors.CodeInsufficientPermissions)

	rec := env.do(t, http.MethodGet, "/v1/admin/users?search=ali", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list users: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp api.UserListResponse
	decodeBody(t, rec, &resp)
	if resp.Count != 1 || resp.Users[0].Username != "alice" || resp.Users[0].TotalBytes != 5 {
		t.Fatalf("unexpected users: %+v", resp)
	}

	expectError(t, env.do(t, http.MethodGet, "/v1/admin/users?role=root", adminToken, nil), http.StatusBadRequest, apperrors.CodeInvalidArgument)
	expectError(t, env.do(t, http.MethodGet, "/v1/admin/users?active=maybe", adminToken, nil), http.StatusBadRequest, apperrors.CodeInvalidArgument)
}

func TestAdminUpdateAndDeleteUser(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	aliceToken, alice := env.account(t, "alice", models.RoleUser)
	adminToken, admin := env.account(t, "admin", models.RoleAdmin)
	_, root := env.account(t, "root", models.RoleSuperAdmin)
	env.uploadOK(t, aliceToken, "notes.txt", "12345")

	role := string(models.RoleAdmin)
	expectError(t, env.do(t, http.MethodPatch, "/v1/admin/users/"+admin.ID, adminToken, api.AccountUpdateRequest{Role: &role}),
		http.StatusForbidden, apperrors.CodeSelfModificationDenied)
	expectError(t, env.do(t, http.MethodDelete, "/v1/admin/users/"+admin.ID, adminToken, nil),
		http.StatusForbidden, apperrors.CodeSelfDeleteDenied)
	expectError(t, env.do(t, http.MethodDelete, "/v1/admin/users/"+root.ID, adminToken, nil),
		http.StatusForbidden, apperrors.CodeInsufficientPermissions)
	expectError(t, env.do(t, http.MethodDelete, "/v1/admin/users/au-missing", adminToken, nil),
		http.StatusNotFound, apperrors.CodeUserNotFound)

	inactive := false
	rec := env.do(t, http.MethodPatch, "/v1/admin/users/"+alice.ID, adminToken, api.AccountUpdateRequest{IsActive: &inactive})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated api.AccountUpdateResponse
	decodeBody(t, rec, &updated)
	if updated.Status != "updated" || updated.Account == nil || updated.Account.IsActive {
		t.Fatalf("unexpected update response: %+v", updated)
	}
	expectError(t, env.do(t, http.MethodGet, "/v1/files", aliceToken, nil), http.StatusUnauthorized, apperrors.CodeUnauthenticated)

	rec = env.do(t, http.MethodGet, "/v1/admin/users/"+alice.ID+"/files", adminToken, nil)
	var list api.FileListResponse
	decodeBody(t, rec, &list)
	if list.Count != 1 {
		t.Fatalf("expected 1 file for alice, got %d", list.Count)
	}

	rec = env.do(t, http.MethodDelete, "/v1/admin/users/"+alice.ID, adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var deleted api.AccountDeleteResponse
	decodeBody(t, rec, &deleted)
	if deleted.Status != "deleted" || deleted.DeletedFiles != 1 {
		t.Fatalf("unexpected delete response: %+v", deleted)
	}
}

func TestAdminSweep(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	aliceToken, _ := env.account(t, "alice", models.RoleUser)
	adminToken, _ := env.account(t, "admin", models.RoleAdmin)

	expectError(t, env.do(t, http.MethodPost, "/v1/admin/maintenance/sweep", aliceToken, nil), http.StatusForbidden, apperrors.CodeInsufficientPermissions)

	rec := env.do(t, http.MethodPost, "/v1/admin/maintenance/sweep?dry_run=true", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	expectError(t, env.do(t, http.MethodPost, "/v1/admin/maintenance/sweep?dry_run=perhaps", adminToken, nil), http.StatusBadRequest, apperrors.CodeInvalidArgument)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	env.do(t, http.MethodGet, "/v1/files", "", nil)

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `mycloud_http_requests_total{method="GET",route="GET /v1/files",status="401"}`) {
		t.Fatalf("expected labelled request counter in metrics output")
	}
}

func TestRegisterBlobDeleteFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	var failures int64 = 3
	if err := RegisterBlobDeleteFailures(reg, func() int64 { return failures }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterBlobDeleteFailures(reg, func() int64 { return 0 }); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 1 || families[0].GetName() != "mycloud_blob_delete_failures_total" {
		t.Fatalf("unexpected families: %v", families)
	}
	if got := families[0].GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected 3 failures, got %v", got)
	}
}
