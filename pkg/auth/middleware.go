package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	tgerr "github.com/trustgate-dev/trustgate/pkg/errors"
	"github.com/trustgate-dev/trustgate/pkg/logger"
)

// EscapeQuotes escapes double quotes for use inside quoted header parameters.
func EscapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// buildWWWAuthenticate builds an RFC 6750 / RFC 9728 compliant value for the
// WWW-Authenticate header. It always includes realm and, if set,
// resource_metadata. If errCode is non-empty, the error fields are appended.
func (v *TokenValidator) buildWWWAuthenticate(errCode, errDescription string) string {
	var parts []string

	// realm (RFC 6750)
	if len(v.issuers) > 0 {
		parts = append(parts, fmt.Sprintf(`realm="%s"`, EscapeQuotes(v.issuers[0])))
	}

	// resource_metadata (RFC 9728)
	if v.resourceURL != "" {
		parts = append(parts, fmt.Sprintf(`resource_metadata="%s"`, EscapeQuotes(v.resourceURL)))
	}

	// error fields (RFC 6750 §3)
	if errCode != "" {
		parts = append(parts, fmt.Sprintf(`error="%s"`, EscapeQuotes(errCode)))
		if errDescription != "" {
			parts = append(parts, fmt.Sprintf(`error_description="%s"`, EscapeQuotes(errDescription)))
		}
	}
	return "Bearer " + strings.Join(parts, ", ")
}

// writeAuthError writes the uniform JSON error envelope for an
// authentication failure.
func writeAuthError(w http.ResponseWriter, code, description string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	}); err != nil {
		logger.Errorf("Failed to encode auth error response: %v", err)
	}
}

// Middleware creates an HTTP middleware that validates bearer tokens and
// stores the resolved identity in the request context. requiredScopes, if
// non-empty, must all be present in the token's scope set.
func (v *TokenValidator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get the token from the Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				w.Header().Set("WWW-Authenticate", v.buildWWWAuthenticate("", ""))
				writeAuthError(w, tgerr.ErrInvalidToken, "Authorization header required", http.StatusUnauthorized)
				return
			}

			// Check if the Authorization header has the Bearer prefix
			if !strings.HasPrefix(authHeader, "Bearer ") {
				w.Header().Set("WWW-Authenticate", v.buildWWWAuthenticate("", ""))
				writeAuthError(w, tgerr.ErrInvalidToken, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			identity, err := v.ValidateToken(r.Context(), tokenString)
			if err != nil {
				code := tgerr.Type(err)
				w.Header().Set("WWW-Authenticate", v.buildWWWAuthenticate("invalid_token", code))
				writeAuthError(w, code, "token validation failed", tgerr.HTTPStatus(err))
				return
			}

			if err := checkScopes(identity, requiredScopes); err != nil {
				writeAuthError(w, tgerr.Type(err), "token lacks a required scope", tgerr.HTTPStatus(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func checkScopes(identity *Identity, requiredScopes []string) error {
	if len(requiredScopes) == 0 {
		return nil
	}
	if len(identity.Scopes) == 0 {
		return tgerr.NewError(tgerr.ErrMissingScope, "token carries no scopes", nil)
	}
	for _, scope := range requiredScopes {
		if !identity.HasScope(scope) {
			return tgerr.NewInsufficientScopeError(fmt.Sprintf("scope %q is required", scope), nil)
		}
	}
	return nil
}
