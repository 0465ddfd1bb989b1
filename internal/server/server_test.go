package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mycloud/internal/api"
	"mycloud/internal/apperrors"
	"mycloud/internal/auth"
	"mycloud/internal/contentstore"
	"mycloud/internal/files"
	"mycloud/internal/guard"
	"mycloud/internal/models"
	"mycloud/internal/registry"
	"mycloud/internal/store"
	"mycloud/internal/usage"
)

const testPassword = "correct-horse-battery"

type testEnv struct {
	store   *store.Store
	auth    *auth.Service
	server  *Server
	handler http.Handler
}

func newTestEnv(t *testing.T, limits guard.Limits, opts Options) *testEnv {
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
	fileService := files.NewService(reg, g, agg, st, files.Options{})

	issuer, err := auth.NewTokenIssuer(strings.Repeat("k", 32), 0)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	authService := auth.NewService(st, issuer, nil)

	if opts.MaxUploadBytes == 0 {
		opts.MaxUploadBytes = g.MaxUploadBytes()
	}
	srv := New("127.0.0.1:0", fileService, authService, opts)
	return &testEnv{store: st, auth: authService, server: srv, handler: srv.routes()}
}

// account creates an account directly and returns a bearer token for it.
func (e *testEnv) account(t *testing.T, username string, role models.Role) (string, *models.Account) {
	t.Helper()
	account, err := e.auth.CreateAccount(context.Background(), auth.RegisterInput{Username: username, Password: testPassword}, role)
	if err != nil {
		t.Fatalf("create %s: %v", username, err)
	}
	result, err := e.auth.Login(context.Background(), username, testPassword)
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return result.Token, account
}

func (e *testEnv) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, token, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.WriteField("comment", "uploaded in test"); err != nil {
		t.Fatalf("write comment: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/files", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) uploadOK(t *testing.T, token, name, content string) models.FileRecord {
	t.Helper()
	rec := e.upload(t, token, name, content)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload %s: expected 201, got %d: %s", name, rec.Code, rec.Body.String())
	}
	var record models.FileRecord
	decodeBody(t, rec, &record)
	return record
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code apperrors.Code) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var resp api.ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.Code != string(code) {
		t.Fatalf("expected code %s, got %s (%s)", code, resp.Code, resp.Error)
	}
}

func TestListenAddrRemoteGuard(t *testing.T) {
	t.Run("allows loopback", func(t *testing.T) {
		t.Setenv(allowRemoteEnvKey, "")
		addr, err := ListenAddr("http://127.0.0.1:8080")
		if err != nil {
			t.Fatalf("expected loopback to be allowed, got error: %v", err)
		}
		if addr != "127.0.0.1:8080" {
			t.Fatalf("unexpected addr: %s", addr)
		}
	})

	t.Run("blocks non-loopback by default", func(t *testing.T) {
		t.Setenv(allowRemoteEnvKey, "")
		if _, err := ListenAddr("http://0.0.0.0:8080"); err == nil {
			t.Fatal("expected error for non-loopback listen host")
		}
	})

	t.Run("allows non-loopback when explicitly enabled", func(t *testing.T) {
		t.Setenv(allowRemoteEnvKey, "true")
		addr, err := ListenAddr("http://0.0.0.0:8080")
		if err != nil {
			t.Fatalf("expected allow-remote to permit host, got error: %v", err)
		}
		if addr != "0.0.0.0:8080" {
			t.Fatalf("unexpected addr: %s", addr)
		}
	})

	t.Run("rejects empty url", func(t *testing.T) {
		if _, err := ListenAddr(""); err == nil {
			t.Fatal("expected error for empty api url")
		}
	})
}

func TestHTTPStatusFromError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperrors.Validation(apperrors.CodeInvalidFilename, "bad"), http.StatusBadRequest},
		{"too large", apperrors.Validation(apperrors.CodeFileTooLarge, "big"), http.StatusRequestEntityTooLarge},
		{"unauthenticated", apperrors.Unauthenticated(apperrors.CodeInvalidToken, "nope"), http.StatusUnauthorized},
		{"forbidden", apperrors.Forbidden(apperrors.CodeAccessDenied, "no"), http.StatusForbidden},
		{"not found", apperrors.NotFound(apperrors.CodeFileNotFound, "gone"), http.StatusNotFound},
		{"conflict", apperrors.Conflict("taken"), http.StatusConflict},
		{"rate limited", errLoginRateLimited, http.StatusTooManyRequests},
		{"io", apperrors.IO(errors.New("disk"), "write"), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := httpStatusFromError(tc.err); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestWriteServiceErrorHidesInternalDetails(t *testing.T) {
	srv := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/v1/files", nil)
	rec := httptest.NewRecorder()
	srv.writeServiceError(rec, req, apperrors.IO(errors.New("/var/data/blobs: permission denied"), "write content"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp api.ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.Error != "internal error" {
		t.Fatalf("expected generic message, got %q", resp.Error)
	}
	if strings.Contains(rec.Body.String(), "/var/data") {
		t.Fatalf("response leaked a path: %s", rec.Body.String())
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		token   string
		present bool
	}{
		{"", "", false},
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", true},
		{"Bearer", "", true},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/files", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		token, present := bearerToken(req)
		if token != tc.token || present != tc.present {
			t.Fatalf("header %q: got (%q, %v), want (%q, %v)", tc.header, token, present, tc.token, tc.present)
		}
	}
}

func TestWithAuthRejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	rec := env.do(t, http.MethodGet, "/v1/files", "not-a-jwt", nil)
	expectError(t, rec, http.StatusUnauthorized, apperrors.CodeInvalidToken)
}

func TestWithAuthRejectsDisabledAccount(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	token, account := env.account(t, "dora", models.RoleUser)
	inactive := false
	if _, err := env.store.UpdateAccount(context.Background(), account.ID, store.AccountUpdate{IsActive: &inactive}, time.Now().UTC()); err != nil {
		t.Fatalf("disable account: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/v1/auth/me", token, nil)
	expectError(t, rec, http.StatusUnauthorized, apperrors.CodeUnauthenticated)
}

func TestHealthSkipsAuth(t *testing.T) {
	env := newTestEnv(t, guard.Limits{}, Options{})
	rec := env.do(t, http.MethodGet, "/health", "garbage", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
