package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/snowskill/snowskill-backend/api/responses"
	pkgAuth "github.com/snowskill/snowskill-backend/pkg/auth"
	"github.com/snowskill/snowskill-backend/pkg/db/models"
	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

// ProfileStore provisions the application user row for an authenticated caller.
type ProfileStore interface {
	EnsureProfile(ctx context.Context, id uuid.UUID, email string) (*models.User, error)
}

// Auth validates a bearer token and seeds the request context with the caller.
func Auth(verifier pkgAuth.Verifier, profiles ProfileStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return authenticate(verifier, profiles, logg, true)
}

// OptionalAuth attaches the caller when a valid token is present. Missing or
// rejected tokens pass through as anonymous; verifier outages answer 503.
func OptionalAuth(verifier pkgAuth.Verifier, profiles ProfileStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return authenticate(verifier, profiles, logg, false)
}

func authenticate(verifier pkgAuth.Verifier, profiles ProfileStore, logg *logger.Logger, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if verifier == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth verifier unavailable"))
				return
			}

			identity, err := verifier.Verify(r.Context(), token)
			switch {
			case err == nil:
			case !errors.Is(err, pkgAuth.ErrInvalidToken):
				// an unreachable verifier is never read as an anonymous caller
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify token"))
				return
			case !required:
				next.ServeHTTP(w, r)
				return
			default:
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			createdAt := identity.CreatedAt
			admin := identity.IsAdmin()
			if profiles != nil {
				profile, err := profiles.EnsureProfile(r.Context(), identity.UserID, identity.Email)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load profile"))
					return
				}
				if createdAt.IsZero() {
					createdAt = profile.CreatedAt
				}
				admin = admin || profile.IsAdmin
			}

			ctx := WithIdentity(r.Context(), identity.UserID, identity.Email, createdAt, admin)
			if logg != nil {
				ctx = logg.WithUserID(ctx, identity.UserID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	return raw
}
