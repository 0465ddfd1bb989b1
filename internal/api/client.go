package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"mycloud/internal/models"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	httpTimeoutEnvKey  = "MYCLOUD_HTTP_TIMEOUT"
	tokenEnvKey        = "MYCLOUD_TOKEN"
)

// Client is a simple HTTP client for the mycloud API.
type Client struct {
	baseURL   string
	http      *http.Client
	authToken string
}

// NewClient creates a new API client. The bearer token is read from MYCLOUD_TOKEN.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: httpTimeoutFromEnv()},
		authToken: strings.TrimSpace(os.Getenv(tokenEnvKey)),
	}
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.authToken = strings.TrimSpace(token)
	return &clone
}

// Ping checks whether the API server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (models.Account, error) {
	var resp models.Account
	err := c.do(ctx, http.MethodPost, "/v1/auth/register", nil, req, &resp)
	return resp, err
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	var resp LoginResponse
	err := c.do(ctx, http.MethodPost, "/v1/auth/login", nil, req, &resp)
	return resp, err
}

func (c *Client) Me(ctx context.Context) (models.Account, error) {
	var resp models.Account
	err := c.do(ctx, http.MethodGet, "/v1/auth/me", nil, nil, &resp)
	return resp, err
}

// ListFiles lists the caller's files. An administrator may pass owner to list
// another account's files.
func (c *Client) ListFiles(ctx context.Context, order, owner string) (FileListResponse, error) {
	var resp FileListResponse
	query := url.Values{}
	if order != "" {
		query.Set("order", order)
	}
	if owner != "" {
		query.Set("owner", owner)
	}
	err := c.do(ctx, http.MethodGet, "/v1/files", query, nil, &resp)
	return resp, err
}

func (c *Client) GetFile(ctx context.Context, id string) (models.FileRecord, error) {
	var resp models.FileRecord
	err := c.do(ctx, http.MethodGet, "/v1/files/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

func (c *Client) Stats(ctx context.Context) (models.UsageStats, error) {
	var resp models.UsageStats
	err := c.do(ctx, http.MethodGet, "/v1/files/stats", nil, nil, &resp)
	return resp, err
}

func (c *Client) RenameFile(ctx context.Context, id, newName string) (models.FileRecord, error) {
	var resp models.FileRecord
	err := c.do(ctx, http.MethodPatch, "/v1/files/"+url.PathEscape(id)+"/name", nil, RenameRequest{NewName: newName}, &resp)
	return resp, err
}

func (c *Client) CommentFile(ctx context.Context, id, comment string) (models.FileRecord, error) {
	var resp models.FileRecord
	err := c.do(ctx, http.MethodPatch, "/v1/files/"+url.PathEscape(id)+"/comment", nil, CommentRequest{Comment: comment}, &resp)
	return resp, err
}

func (c *Client) DeleteFile(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/files/"+url.PathEscape(id), nil, nil, nil)
}

// UploadFile streams content as a multipart upload.
func (c *Client) UploadFile(ctx context.Context, name string, content io.Reader, comment string) (models.FileRecord, error) {
	var resp models.FileRecord

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		err := writeUploadForm(form, name, content, comment)
		_ = pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", pr)
	if err != nil {
		_ = pr.Close()
		return resp, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	c.setAuthHeader(req)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return resp, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 400 {
		return resp, decodeError(httpResp)
	}
	err = json.NewDecoder(httpResp.Body).Decode(&resp)
	return resp, err
}

func writeUploadForm(form *multipart.Writer, name string, content io.Reader, comment string) error {
	if comment != "" {
		if err := form.WriteField("comment", comment); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	return form.Close()
}

// DownloadFile copies a file's content to w and returns the served file name.
func (c *Client) DownloadFile(ctx context.Context, id string, w io.Writer) (string, error) {
	return c.download(ctx, "/v1/files/"+url.PathEscape(id)+"/download", w)
}

// DownloadPublic fetches a shared file by its public link token.
func (c *Client) DownloadPublic(ctx context.Context, link string, w io.Writer) (string, error) {
	return c.download(ctx, "/v1/public/"+url.PathEscape(link), w)
}

func (c *Client) download(ctx context.Context, path string, w io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	c.setAuthHeader(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", decodeError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", err
	}
	return attachmentFilename(resp.Header.Get("Content-Disposition")), nil
}

func (c *Client) ListUsers(ctx context.Context, query url.Values) (UserListResponse, error) {
	var resp UserListResponse
	err := c.do(ctx, http.MethodGet, "/v1/admin/users", query, nil, &resp)
	return resp, err
}

func (c *Client) UpdateUser(ctx context.Context, id string, req AccountUpdateRequest) (AccountUpdateResponse, error) {
	var resp AccountUpdateResponse
	err := c.do(ctx, http.MethodPatch, "/v1/admin/users/"+url.PathEscape(id), nil, req, &resp)
	return resp, err
}

func (c *Client) DeleteUser(ctx context.Context, id string) (AccountDeleteResponse, error) {
	var resp AccountDeleteResponse
	err := c.do(ctx, http.MethodDelete, "/v1/admin/users/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

func (c *Client) ListUserFiles(ctx context.Context, id, order string) (FileListResponse, error) {
	var resp FileListResponse
	query := url.Values{}
	if order != "" {
		query.Set("order", order)
	}
	err := c.do(ctx, http.MethodGet, "/v1/admin/users/"+url.PathEscape(id)+"/files", query, nil, &resp)
	return resp, err
}

func (c *Client) Sweep(ctx context.Context, dryRun bool) (SweepResponse, error) {
	var resp SweepResponse
	query := url.Values{}
	if dryRun {
		query.Set("dry_run", "true")
	}
	err := c.do(ctx, http.MethodPost, "/v1/admin/maintenance/sweep", query, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		return &APIError{Status: resp.StatusCode, Code: errResp.Code, Message: errResp.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("api error: %s", resp.Status)}
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.authToken == "" || req == nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
}

func attachmentFilename(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func httpTimeoutFromEnv() time.Duration {
	value := strings.TrimSpace(os.Getenv(httpTimeoutEnvKey))
	if value == "" {
		return defaultHTTPTimeout
	}

	if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return defaultHTTPTimeout
}
