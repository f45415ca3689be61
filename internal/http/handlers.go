package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/nd-se/auth-service/internal/auth"
	"github.com/nd-se/auth-service/internal/domain"
	autherrors "github.com/nd-se/auth-service/internal/errors"
	"github.com/nd-se/auth-service/internal/metrics"
	"github.com/nd-se/auth-service/internal/oidcclient"
	"github.com/nd-se/auth-service/internal/store"
)

// AuthHandler serves the /api/auth surface.
type AuthHandler struct {
	sessions       *auth.Service
	resolver       *auth.Resolver
	users          store.UserRepository
	oidc           *oidcclient.Client
	frontendURL    string
	loginRateLimit int
	logger         *slog.Logger
}

// AuthHandlerConfig wires the handler's collaborators.
type AuthHandlerConfig struct {
	Sessions       *auth.Service
	Resolver       *auth.Resolver
	Users          store.UserRepository
	OIDC           *oidcclient.Client
	FrontendURL    string
	LoginRateLimit int // requests per minute per IP, 0 disables
	Logger         *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(cfg AuthHandlerConfig) *AuthHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		sessions:       cfg.Sessions,
		resolver:       cfg.Resolver,
		users:          cfg.Users,
		oidc:           cfg.OIDC,
		frontendURL:    cfg.FrontendURL,
		loginRateLimit: cfg.LoginRateLimit,
		logger:         logger,
	}
}

// Routes returns the /api/auth router.
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Credential endpoints carry a per-IP rate limit on top of the
	// account lockout.
	r.Group(func(r chi.Router) {
		if h.loginRateLimit > 0 {
			r.Use(httprate.Limit(
				h.loginRateLimit,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(h.rateLimited),
			))
		}
		r.Post("/token", h.TokenLogin)
		r.Post("/login", h.Login)
	})

	r.Post("/register", h.Register)
	r.Post("/refresh", h.Refresh)
	r.Post("/logout", h.Logout)
	r.Get("/me", h.Me)
	r.Post("/change-password", h.ChangePassword)
	r.Get("/users", h.ListUsers)

	r.Get("/oidc/login", h.OIDCLogin)
	r.Get("/oidc/callback", h.OIDCCallback)
	r.Post("/oidc/callback", h.OIDCCallback)
	r.Get("/oidc/status", h.OIDCStatus)

	return r
}

func (h *AuthHandler) rateLimited(w http.ResponseWriter, r *http.Request) {
	metrics.RecordRateLimitExceeded(r.URL.Path)
	writeError(w, h.logger, autherrors.New(autherrors.CodeRateLimited, "too many login attempts"))
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// TokenLogin handles POST /token - OAuth2 password-style form login.
func (h *AuthHandler) TokenLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, h.logger, autherrors.InvalidInput("invalid form data"))
		return
	}

	pair, err := h.sessions.Login(r.Context(), r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /login - JSON login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, autherrors.InvalidInput("invalid request body"))
		return
	}

	pair, err := h.sessions.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles POST /register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, autherrors.InvalidInput("invalid request body"))
		return
	}

	user, err := h.sessions.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, autherrors.InvalidInput("invalid request body"))
		return
	}

	pair, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// Logout handles POST /logout. Tokens are stateless, so this is an
// acknowledgment; clients discard their pair.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me handles GET /me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, err := h.resolver.RequireIdentity(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword handles POST /change-password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity, err := h.resolver.RequireIdentity(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, autherrors.InvalidInput("invalid request body"))
		return
	}

	if err := h.sessions.ChangePassword(r.Context(), identity, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated successfully"})
}

type userListResponse struct {
	Users []*domain.User `json:"users"`
	Total int            `json:"total"`
}

// ListUsers handles GET /users - admin only, with active/role filters
// and skip/limit pagination.
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	identity, err := h.resolver.RequireIdentity(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if _, err := auth.RequireAdmin(identity); err != nil {
		writeError(w, h.logger, err)
		return
	}

	filter := store.UserFilter{Limit: 100}
	q := r.URL.Query()
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, h.logger, autherrors.InvalidInput("active must be true or false"))
			return
		}
		filter.Active = &active
	}
	if v := q.Get("role"); v != "" {
		role := domain.Role(v)
		if !role.Valid() {
			writeError(w, h.logger, autherrors.InvalidInput("unknown role"))
			return
		}
		filter.Role = role
	}
	if v := q.Get("skip"); v != "" {
		if filter.Skip, err = strconv.Atoi(v); err != nil || filter.Skip < 0 {
			writeError(w, h.logger, autherrors.InvalidInput("skip must be a non-negative integer"))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 1 {
			writeError(w, h.logger, autherrors.InvalidInput("limit must be a positive integer"))
			return
		}
	}

	users, err := h.users.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	total, err := h.users.Count(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	views := make([]*domain.User, 0, len(users))
	for _, u := range users {
		views = append(views, u.View())
	}
	writeJSON(w, http.StatusOK, userListResponse{Users: views, Total: total})
}

type oidcLoginResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// OIDCLogin handles GET /oidc/login - starts a flow and hands the
// frontend the provider URL to navigate to.
func (h *AuthHandler) OIDCLogin(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := h.oidc.BeginFlow(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, oidcLoginResponse{AuthorizationURL: authURL, State: state})
}

// OIDCCallback handles GET|POST /oidc/callback. The browser lands here
// from the provider with code and state in the query or, for the POST
// variant, the form body; tokens (or the failure) are forwarded to the
// frontend callback page via query parameters.
func (h *AuthHandler) OIDCCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.redirectFrontend(w, r, url.Values{"error": {"invalid form data"}})
		return
	}
	q := r.Form

	if errCode := q.Get("error"); errCode != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = errCode
		}
		h.logger.Warn("oidc callback carried provider error", "error", errCode)
		h.redirectFrontend(w, r, url.Values{"error": {desc}})
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		h.redirectFrontend(w, r, url.Values{"error": {"missing code or state"}})
		return
	}

	user, err := h.oidc.HandleCallback(r.Context(), code, state)
	if err != nil {
		h.logger.Warn("oidc callback failed", "error", err)
		h.redirectFrontend(w, r, url.Values{"error": {autherrors.Detail(err)}})
		return
	}

	pair, err := h.sessions.IssueTokens(user)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.redirectFrontend(w, r, url.Values{
		"access_token":  {pair.AccessToken},
		"refresh_token": {pair.RefreshToken},
		"token_type":    {pair.TokenType},
	})
}

func (h *AuthHandler) redirectFrontend(w http.ResponseWriter, r *http.Request, params url.Values) {
	http.Redirect(w, r, h.frontendURL+"/auth/callback?"+params.Encode(), http.StatusFound)
}

// OIDCStatus handles GET /oidc/status.
func (h *AuthHandler) OIDCStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.oidc.Status())
}
