package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mycloud/internal/models"
)

func TestHTTPTimeoutFromEnv(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "")
		if got := httpTimeoutFromEnv(); got != defaultHTTPTimeout {
			t.Fatalf("expected default timeout %v, got %v", defaultHTTPTimeout, got)
		}
	})

	t.Run("duration format", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "45s")
		if got := httpTimeoutFromEnv(); got != 45*time.Second {
			t.Fatalf("expected 45s timeout, got %v", got)
		}
	})

	t.Run("integer seconds", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "25")
		if got := httpTimeoutFromEnv(); got != 25*time.Second {
			t.Fatalf("expected 25s timeout, got %v", got)
		}
	})

	t.Run("invalid falls back", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "invalid")
		if got := httpTimeoutFromEnv(); got != defaultHTTPTimeout {
			t.Fatalf("expected default timeout %v, got %v", defaultHTTPTimeout, got)
		}
	})
}

func TestClientSendsBearerToken(t *testing.T) {
	t.Setenv(tokenEnvKey, "abc.def.ghi")
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(models.UsageStats{FileCount: 2, TotalBytes: 30})
	}))
	defer srv.Close()

	stats, err := NewClient(srv.URL).Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if gotAuth != "Bearer abc.def.ghi" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if stats.FileCount != 2 || stats.TotalBytes != 30 {
		t.Fatalf("unexpected stats %#v", stats)
	}
}

func TestClientDecodesErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "file not found", Code: "FILE_NOT_FOUND"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetFile(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "FILE_NOT_FOUND" {
		t.Fatalf("unexpected api error %#v", apiErr)
	}
	if apiErr.Error() != "FILE_NOT_FOUND: file not found" {
		t.Fatalf("unexpected message %q", apiErr.Error())
	}
}

func TestUploadAndDownloadFile(t *testing.T) {
	var gotName, gotComment string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			file, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("form file: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer file.Close()
			gotName = header.Filename
			gotComment = r.FormValue("comment")
			gotBody, _ = io.ReadAll(file)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(models.FileRecord{ID: "f1", OriginalName: gotName, SizeBytes: int64(len(gotBody))})
		case http.MethodGet:
			w.Header().Set("Content-Disposition", `attachment; filename="notes.txt"`)
			_, _ = w.Write([]byte("0123456789"))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	record, err := client.UploadFile(context.Background(), "notes.txt", bytes.NewReader([]byte("0123456789")), "hello")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotName != "notes.txt" || gotComment != "hello" || string(gotBody) != "0123456789" {
		t.Fatalf("unexpected upload name=%q comment=%q body=%q", gotName, gotComment, gotBody)
	}
	if record.ID != "f1" || record.SizeBytes != 10 {
		t.Fatalf("unexpected record %#v", record)
	}

	var out bytes.Buffer
	name, err := client.DownloadFile(context.Background(), "f1", &out)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if name != "notes.txt" || out.String() != "0123456789" {
		t.Fatalf("unexpected download name=%q body=%q", name, out.String())
	}
}
