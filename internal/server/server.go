package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"mycloud/internal/auth"
	"mycloud/internal/files"
)

const (
	allowRemoteEnvKey = "MYCLOUD_ALLOW_REMOTE"
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 10 * time.Minute
	writeTimeout      = 10 * time.Minute
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 15 * time.Second

	defaultMultipartMemory int64 = 10 << 20
	loginFailureWindow           = 15 * time.Minute
	loginBlockDuration           = 15 * time.Minute
)

// Options tunes request handling.
type Options struct {
	MaxUploadBytes     int64
	MultipartMaxMemory int64
	LoginMaxFailures   int
	Logger             *slog.Logger
}

// Server wraps HTTP handlers for the mycloud API.
type Server struct {
	addr            string
	files           *files.Service
	auth            *auth.Service
	logger          *slog.Logger
	loginLimiter    *loginRateLimiter
	maxUploadBytes  int64
	multipartMemory int64
}

// New creates a new server instance.
func New(addr string, fileService *files.Service, authService *auth.Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:            addr,
		files:           fileService,
		auth:            authService,
		logger:          logger,
		loginLimiter:    newLoginRateLimiter(opts.LoginMaxFailures, loginFailureWindow, loginBlockDuration),
		maxUploadBytes:  opts.MaxUploadBytes,
		multipartMemory: opts.MultipartMaxMemory,
	}
	if s.multipartMemory <= 0 {
		s.multipartMemory = defaultMultipartMemory
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log().Info("starting server", "addr", s.addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAddr converts a base API URL into a listen address.
func ListenAddr(apiURL string) (string, error) {
	if apiURL == "" {
		return "", fmt.Errorf("api url is required")
	}
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host := u.Hostname()
		if !isAllowedListenHost(host) {
			return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
		}
		return u.Host, nil
	}

	host, _, err := net.SplitHostPort(apiURL)
	if err == nil && !isAllowedListenHost(host) {
		return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
	}

	return apiURL, nil
}

func isAllowedListenHost(host string) bool {
	if host == "" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(allowRemoteEnvKey)), "true") {
		return true
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
