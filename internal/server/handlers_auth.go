package server

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mycloud/internal/api"
	"mycloud/internal/apperrors"
	"mycloud/internal/auth"
)

var errLoginRateLimited = apperrors.New(apperrors.KindRateLimited, apperrors.CodeRateLimited, "too many login attempts; retry later")

func (s *Server) handleAuthRegister(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		s.writeServiceError(w, r, apperrors.Internal(errors.New("auth service is not configured"), "registration unavailable"))
		return
	}

	var req api.RegisterRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}

	account, err := s.auth.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		s.writeServiceError(w, r, apperrors.Internal(errors.New("auth service is not configured"), "login unavailable"))
		return
	}

	var req api.LoginRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	limiterKey := loginAttemptKey(req.Username, r)
	if allowed, retryAfter := s.loginLimiter.Allow(limiterKey, now); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
		s.writeServiceError(w, r, errLoginRateLimited)
		return
	}

	result, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeInvalidCredentials {
			s.loginLimiter.RegisterFailure(limiterKey, now)
		}
		s.writeServiceError(w, r, err)
		return
	}
	s.loginLimiter.Reset(limiterKey)

	s.writeJSON(w, http.StatusOK, api.LoginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		Account:   *result.Account,
	})
}

func (s *Server) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFromContext(r.Context())
	if !ok {
		s.writeServiceError(w, r, apperrors.Unauthenticated(apperrors.CodeUnauthenticated, "authentication required"))
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

func loginAttemptKey(username string, r *http.Request) string {
	user := strings.ToLower(strings.TrimSpace(username))
	if user == "" {
		user = "<empty>"
	}
	ip := requestClientIP(r)
	if ip == "" {
		ip = "<unknown>"
	}
	return ip + "|" + user
}

func requestClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remote)
	if err == nil {
		return strings.TrimSpace(host)
	}
	return remote
}
