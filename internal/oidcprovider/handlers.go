package oidcprovider

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Handler serves the provider's HTTP surface. Mount it under
// /dummy-oidc.
type Handler struct {
	provider *Provider
	logger   *slog.Logger
	picker   *template.Template
}

// NewHandler creates a Handler for the provider.
func NewHandler(provider *Provider, logger *slog.Logger) *Handler {
	return &Handler{
		provider: provider,
		logger:   logger,
		picker:   template.Must(template.New("picker").Parse(pickerTemplate)),
	}
}

// Routes returns the provider's router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.Info)
	// Underscore path kept for clients configured against the original
	// service; the standard hyphenated alias works too.
	r.Get("/.well-known/openid_configuration", h.Discovery)
	r.Get("/.well-known/openid-configuration", h.Discovery)
	r.Get("/jwks", h.JWKS)
	r.Get("/auth", h.AuthorizePage)
	r.Post("/auth", h.Authorize)
	r.Post("/token", h.Token)
	r.Get("/userinfo", h.Userinfo)

	return r
}

// issuer derives the provider's issuer URL from the incoming request.
func issuer(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + "/dummy-oidc"
}

// Info handles GET / - a short description of the provider.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "Dummy OIDC Provider",
		"description": "Development-only provider with a fixed user directory",
		"users":       []string{"admin", "user", "developer"},
		"discovery":   issuer(r) + "/.well-known/openid_configuration",
	})
}

// Discovery handles GET /.well-known/openid_configuration.
func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.Discovery(issuer(r)))
}

// JWKS handles GET /jwks.
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.JWKS())
}

// AuthorizePage handles GET /auth - renders the user picker.
func (h *Handler) AuthorizePage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("response_type") != "code" {
		h.writeOAuthError(w, invalidRequest("response_type must be 'code'"))
		return
	}
	if q.Get("client_id") == "" || q.Get("redirect_uri") == "" {
		h.writeOAuthError(w, invalidRequest("client_id and redirect_uri are required"))
		return
	}

	data := pickerData{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Users:               []string{"admin", "user", "developer"},
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.picker.Execute(w, data); err != nil {
		h.logger.Error("failed to render picker page", "error", err)
	}
}

// Authorize handles POST /auth - mints a code for the picked user.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, invalidRequest("invalid form data"))
		return
	}

	redirect, err := h.provider.Authorize(AuthorizeSubmission{
		Username:            r.FormValue("username"),
		ResponseType:        r.FormValue("response_type"),
		ClientID:            r.FormValue("client_id"),
		RedirectURI:         r.FormValue("redirect_uri"),
		Scope:               r.FormValue("scope"),
		State:               r.FormValue("state"),
		Nonce:               r.FormValue("nonce"),
		CodeChallenge:       r.FormValue("code_challenge"),
		CodeChallengeMethod: r.FormValue("code_challenge_method"),
	})
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}

	http.Redirect(w, r, redirect, http.StatusFound)
}

// Token handles POST /token.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, invalidRequest("invalid form data"))
		return
	}

	resp, err := h.provider.Exchange(TokenRequest{
		GrantType:    r.FormValue("grant_type"),
		Code:         r.FormValue("code"),
		RedirectURI:  r.FormValue("redirect_uri"),
		ClientID:     r.FormValue("client_id"),
		CodeVerifier: r.FormValue("code_verifier"),
		RefreshToken: r.FormValue("refresh_token"),
	})
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Userinfo handles GET /userinfo.
func (h *Handler) Userinfo(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		w.Header().Set("WWW-Authenticate", "Bearer")
		h.writeOAuthErrorStatus(w, http.StatusUnauthorized, &Error{Code: "invalid_token", Description: "missing bearer token"})
		return
	}

	claims, err := h.provider.Userinfo(strings.TrimPrefix(auth, "Bearer "))
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		h.writeOAuthErrorStatus(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, claims)
}

func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) {
	h.writeOAuthErrorStatus(w, http.StatusBadRequest, err)
}

func (h *Handler) writeOAuthErrorStatus(w http.ResponseWriter, status int, err error) {
	var oerr *Error
	if !errors.As(err, &oerr) {
		oerr = &Error{Code: "server_error"}
	}
	writeJSON(w, status, oerr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type pickerData struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Users               []string
}

const pickerTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Dummy OIDC Provider</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #f5f5f5;
            margin: 0;
            padding: 20px;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
        }
        .picker {
            background: white;
            padding: 40px;
            border-radius: 8px;
            box-shadow: 0 2px 10px rgba(0,0,0,0.1);
            width: 100%;
            max-width: 400px;
        }
        h1 {
            margin: 0 0 10px 0;
            font-size: 22px;
            text-align: center;
            color: #333;
        }
        p.note {
            text-align: center;
            color: #888;
            font-size: 13px;
            margin-bottom: 30px;
        }
        button {
            width: 100%;
            padding: 12px;
            margin-bottom: 12px;
            background: #007bff;
            color: white;
            border: none;
            border-radius: 4px;
            font-size: 16px;
            cursor: pointer;
        }
        button:hover {
            background: #0056b3;
        }
    </style>
</head>
<body>
    <div class="picker">
        <h1>Sign in as</h1>
        <p class="note">Development provider. Pick a test user.</p>
        {{range .Users}}
        <form method="POST" action="auth">
            <input type="hidden" name="username" value="{{.}}">
            <input type="hidden" name="response_type" value="{{$.ResponseType}}">
            <input type="hidden" name="client_id" value="{{$.ClientID}}">
            <input type="hidden" name="redirect_uri" value="{{$.RedirectURI}}">
            <input type="hidden" name="scope" value="{{$.Scope}}">
            <input type="hidden" name="state" value="{{$.State}}">
            <input type="hidden" name="nonce" value="{{$.Nonce}}">
            <input type="hidden" name="code_challenge" value="{{$.CodeChallenge}}">
            <input type="hidden" name="code_challenge_method" value="{{$.CodeChallengeMethod}}">
            <button type="submit">{{.}}</button>
        </form>
        {{end}}
    </div>
</body>
</html>`
