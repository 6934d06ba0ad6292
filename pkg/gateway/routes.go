package gateway

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"

	"github.com/trustgate-dev/trustgate/pkg/auth"
	"github.com/trustgate-dev/trustgate/pkg/cache"
	tgerr "github.com/trustgate-dev/trustgate/pkg/errors"
	"github.com/trustgate-dev/trustgate/pkg/oauth"
	"github.com/trustgate-dev/trustgate/pkg/telemetry"
)

// maxRequestBody bounds inbound request bodies.
const maxRequestBody = 1 << 20 // 1 MiB

// Server exposes the gateway over HTTP.
type Server struct {
	gateway   *Gateway
	validator *auth.TokenValidator
	flow      *oauth.FlowManager
	store     cache.Store
	metrics   *telemetry.Metrics
	discovery http.Handler
}

// NewServer creates the HTTP surface of the gateway.
func NewServer(
	gateway *Gateway,
	validator *auth.TokenValidator,
	flow *oauth.FlowManager,
	store cache.Store,
	metrics *telemetry.Metrics,
	discovery http.Handler,
) *Server {
	return &Server{
		gateway:   gateway,
		validator: validator,
		flow:      flow,
		store:     store,
		metrics:   metrics,
		discovery: discovery,
	}
}

// Router builds the chi router with all gateway routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// Unauthenticated surface: discovery, health, metrics, and the
	// client-driven half of the OAuth flow.
	r.Method(http.MethodGet, "/.well-known/oauth-protected-resource", s.discovery)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/oauth/callback", s.handleOAuthCallback)
	r.Post("/oauth/token", s.handleOAuthToken)
	r.Post("/oauth/revoke", s.handleOAuthRevoke)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orgs/{orgID}/envs/{envID}/oauth/authorize", s.handleStartAuthorization)

		r.Group(func(r chi.Router) {
			r.Use(s.authOutcomeMetrics)
			r.Use(s.validator.Middleware())
			r.Post("/orgs/{orgID}/envs/{envID}/invoke", s.handleInvokeTool)
			r.Get("/orgs/{orgID}/envs/{envID}/secrets/{reference}", s.handleReadSecret)
			r.Post("/auth/revoke", s.handleRevokeTokenID)
		})
	})

	return r
}

// authOutcomeMetrics counts authenticated requests by outcome class.
func (s *Server) authOutcomeMetrics(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		outcome := "ok"
		switch {
		case ww.Status() == http.StatusUnauthorized:
			outcome = "unauthorized"
		case ww.Status() == http.StatusForbidden:
			outcome = "forbidden"
		case ww.Status() >= http.StatusBadRequest:
			outcome = "error"
		}
		s.metrics.AuthRequests.WithLabelValues(outcome).Inc()
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInvokeTool authorizes and executes a tool invocation. The tool name
// and arguments come from the request body; org/env come from the path.
func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	orgID := chi.URLParam(r, "orgID")
	envID := chi.URLParam(r, "envID")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, tgerr.NewInvalidRequestError("failed to read request body", err))
		return
	}
	if len(body) == 0 || !gjson.ValidBytes(body) {
		writeError(w, tgerr.NewError(tgerr.ErrInvalidSchema, "request body must be a JSON object", nil))
		return
	}

	toolName := gjson.GetBytes(body, "name").String()
	if toolName == "" {
		writeError(w, tgerr.NewError(tgerr.ErrMissingToolName, "request names no tool", nil))
		return
	}
	arguments := []byte(gjson.GetBytes(body, "arguments").Raw)

	result, err := s.gateway.InvokeTool(r.Context(), identity, orgID, envID, toolName, arguments)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result); err != nil {
		writeError(w, tgerr.NewInternalError("failed to write response", err))
	}
}

// handleReadSecret is the explicit, permission-checked retrieval path.
func (s *Server) handleReadSecret(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	reference := chi.URLParam(r, "reference")

	value, err := s.gateway.ReadSecret(r.Context(), identity, reference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"value": value})
}

// handleRevokeTokenID force-expires a token-id ahead of its natural expiry.
// Restricted to service identities.
func (s *Server) handleRevokeTokenID(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if !identity.ServiceAccount {
		writeError(w, tgerr.NewForbiddenError("token revocation requires a service identity", nil))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, tgerr.NewInvalidRequestError("failed to read request body", err))
		return
	}
	tokenID := gjson.GetBytes(body, "token_id").String()
	if tokenID == "" {
		writeError(w, tgerr.NewInvalidRequestError("token_id is required", nil))
		return
	}

	if err := s.validator.Revoke(r.Context(), tokenID); err != nil {
		writeError(w, tgerr.NewInternalError("failed to revoke token-id", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// handleStartAuthorization begins the authorization-code flow for a tenant.
func (s *Server) handleStartAuthorization(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	envID := chi.URLParam(r, "envID")

	url, state, err := s.flow.StartAuthorization(r.Context(), orgID, envID)
	if err != nil {
		writeError(w, tgerr.NewInternalError("failed to start authorization", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"authorization_url": url,
		"state":             state,
	})
}

// handleOAuthCallback receives the user back from the consent step. The
// authenticated user identifier is established by the upstream consent
// layer and handed over in the redirect.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	user := r.URL.Query().Get("user")
	if state == "" || user == "" {
		writeError(w, tgerr.NewInvalidRequestError("state and user are required", nil))
		return
	}

	record, err := s.flow.ValidateState(r.Context(), state)
	if err != nil {
		writeError(w, tgerr.NewInternalError("failed to validate state", err))
		return
	}
	if record == nil {
		// Expired or reused state is a normal client-driven occurrence.
		writeError(w, tgerr.NewInvalidRequestError("state is invalid or expired", nil))
		return
	}

	code, err := s.flow.GenerateCode(r.Context(), user, record.OrganizationID, record.EnvironmentID)
	if err != nil {
		writeError(w, tgerr.NewInternalError("failed to generate authorization code", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

// handleOAuthToken exchanges an authorization code for an access token.
func (s *Server) handleOAuthToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, tgerr.NewInvalidRequestError("failed to parse form", err))
		return
	}
	if grantType := r.PostFormValue("grant_type"); grantType != "authorization_code" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:            "unsupported_grant_type",
			ErrorDescription: "only authorization_code is supported",
		})
		return
	}

	code := r.PostFormValue("code")
	token, err := s.flow.ExchangeCode(r.Context(), code)
	if errors.Is(err, oauth.ErrCodeInvalid) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:            "invalid_grant",
			ErrorDescription: "authorization code is invalid, expired, or already used",
		})
		return
	}
	if err != nil {
		writeError(w, tgerr.NewInternalError("failed to exchange code", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token.Token,
		"token_type":   "Bearer",
		"expires_in":   int(time.Until(token.ExpiresAt).Seconds()),
	})
}

// handleOAuthRevoke revokes a platform access token. The result reports
// whether this call did the revoking, so callers can distinguish "did the
// work" from "nothing to do".
func (s *Server) handleOAuthRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, tgerr.NewInvalidRequestError("failed to parse form", err))
		return
	}
	token := r.PostFormValue("token")
	if token == "" {
		writeError(w, tgerr.NewInvalidRequestError("token is required", nil))
		return
	}

	revoked, err := s.flow.RevokeToken(r.Context(), token)
	if err != nil {
		writeError(w, tgerr.NewInternalError("failed to revoke token", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}
