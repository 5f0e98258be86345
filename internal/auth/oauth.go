package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/reelhouse/reelhouse/internal/httputil"
	"github.com/reelhouse/reelhouse/internal/retry"
	"github.com/reelhouse/reelhouse/internal/validate"
	"golang.org/x/oauth2"
)

// OAuthConfig configures OIDC sign-in against an external identity provider.
type OAuthConfig struct {
	ProviderURL  string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	SuccessURL   string
}

type oauthProvider struct {
	verifier   *oidc.IDTokenVerifier
	config     oauth2.Config
	successURL string
}

// ConfigureOAuth initializes the OIDC provider. Discovery goes over the
// network, so it is retried before giving up.
func (h *Handler) ConfigureOAuth(ctx context.Context, cfg OAuthConfig) error {
	provider, err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) (*oidc.Provider, error) {
		return oidc.NewProvider(ctx, cfg.ProviderURL)
	})
	if err != nil {
		return fmt.Errorf("discover oidc provider: %w", err)
	}

	h.oauth = &oauthProvider{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		successURL: cfg.SuccessURL,
	}
	return nil
}

// OAuthEnabled reports whether OIDC sign-in is configured.
func (h *Handler) OAuthEnabled() bool {
	return h.oauth != nil
}

func (h *Handler) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	if !h.OAuthEnabled() {
		httputil.WriteError(w, http.StatusNotFound, "oauth sign-in is not configured")
		return
	}

	state, err := newTokenID()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate state")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/api/auth/oauth",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((10 * time.Minute) / time.Second),
	})

	http.Redirect(w, r, h.oauth.config.AuthCodeURL(state), http.StatusFound)
}

type oidcClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	if !h.OAuthEnabled() {
		httputil.WriteError(w, http.StatusNotFound, "oauth sign-in is not configured")
		return
	}

	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		httputil.WriteError(w, http.StatusBadRequest, "state mismatch")
		return
	}

	token, err := h.oauth.config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadGateway, "failed to exchange authorization code")
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		httputil.WriteError(w, http.StatusBadGateway, "identity provider returned no id token")
		return
	}

	idToken, err := h.oauth.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid id token")
		return
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil || claims.Subject == "" {
		httputil.WriteError(w, http.StatusBadGateway, "could not read identity claims")
		return
	}
	if claims.Name == "" {
		claims.Name = claims.Email
	}
	// Provider-supplied names are capped rather than rejected; failing the
	// redirect flow over a long name would strand the sign-in.
	if validate.DisplayName(claims.Name) != "" {
		claims.Name = claims.Name[:validate.MaxNameLength]
	}

	userID, err := h.upsertOAuthUser(r.Context(), claims)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			httputil.WriteError(w, http.StatusConflict, "an account with this email already exists")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	_, refreshToken, err := h.issueTokens(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	h.setRefreshTokenCookie(w, refreshToken)

	successURL := h.oauth.successURL
	if successURL == "" {
		successURL = "/"
	}
	http.Redirect(w, r, successURL, http.StatusFound)
}

// upsertOAuthUser creates or refreshes the account bound to the provider
// subject. The balance row is created alongside, as in Register.
func (h *Handler) upsertOAuthUser(ctx context.Context, claims oidcClaims) (string, error) {
	var userID string
	err := h.db.QueryRow(ctx,
		`WITH upsert_user AS (
		     INSERT INTO users (email, name, oauth_subject)
		     VALUES ($1, $2, $3)
		     ON CONFLICT (oauth_subject) DO UPDATE SET name = EXCLUDED.name
		     RETURNING id
		 ),
		 ensure_balance AS (
		     INSERT INTO user_balances (user_id, coins, bonus_coins)
		     SELECT id, 0, $4 FROM upsert_user
		     ON CONFLICT (user_id) DO NOTHING
		 )
		 SELECT id FROM upsert_user`,
		claims.Email, claims.Name, claims.Subject, h.signupBonus,
	).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}
