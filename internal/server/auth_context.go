package server

import (
	"context"
	"net/http"
	"strings"

	"mycloud/internal/apperrors"
	"mycloud/internal/models"
)

type authContextKey struct{}

func contextWithAccount(ctx context.Context, account *models.Account) context.Context {
	return context.WithValue(ctx, authContextKey{}, account)
}

func accountFromContext(ctx context.Context) (*models.Account, bool) {
	if ctx == nil {
		return nil, false
	}
	account, ok := ctx.Value(authContextKey{}).(*models.Account)
	return account, ok && account != nil
}

// principalFromContext returns the request principal; anonymous when no token was sent.
func principalFromContext(ctx context.Context) models.Principal {
	account, ok := accountFromContext(ctx)
	if !ok {
		return models.Principal{}
	}
	return account.Principal()
}

// withAuth resolves a bearer token into the request account. Requests
// without a token pass through anonymously; the operation decides whether
// that is acceptable. An invalid token is rejected outright.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		token, present := bearerToken(r)
		if !present {
			next.ServeHTTP(w, r)
			return
		}
		if s.auth == nil {
			s.writeServiceError(w, r, apperrors.Unauthenticated(apperrors.CodeUnauthenticated, "authentication is not configured"))
			return
		}
		account, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		authed := r.WithContext(contextWithAccount(r.Context(), account))
		next.ServeHTTP(w, authed)
		// Outer middleware labels by the matched route.
		r.Pattern = authed.Pattern
	})
}

func skipAuth(path string) bool {
	switch path {
	case "/health", "/metrics", "/v1/auth/login", "/v1/auth/register":
		return true
	}
	return strings.HasPrefix(path, "/v1/public/")
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}
