package identity

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Claims are the identity provider claims clearway cares about
type Claims struct {
	Subject string
	Email   string
	Name    string
}

// Authenticator abstracts the identity provider so the session provider can
// be tested without a live issuer
type Authenticator interface {
	// InitiateLogin redirects the request to the authorization endpoint.
	InitiateLogin(w http.ResponseWriter, r *http.Request, state string)
	// HandleCallback exchanges the authorization code and verifies the ID
	// token, returning its claims.
	HandleCallback(ctx context.Context, r *http.Request) (*Claims, error)
	// VerifyToken verifies a raw ID token and returns its claims.
	VerifyToken(ctx context.Context, rawIDToken string) (*Claims, error)
}

// OIDCConfig configures the OpenID Connect authenticator
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// OIDCAuthenticator implements Authenticator against an OpenID Connect issuer
type OIDCAuthenticator struct {
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCAuthenticator discovers the issuer and builds the verifier
func NewOIDCAuthenticator(ctx context.Context, config OIDCConfig) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: config.ClientID})

	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	oauth2Config := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  config.RedirectURL,
		Scopes:       scopes,
	}

	return &OIDCAuthenticator{verifier: verifier, oauth2Config: oauth2Config}, nil
}

// InitiateLogin redirects to the authorization endpoint
func (a *OIDCAuthenticator) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) {
	authURL := a.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback exchanges the authorization code and verifies the ID token
func (a *OIDCAuthenticator) HandleCallback(ctx context.Context, r *http.Request) (*Claims, error) {
	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	token, err := a.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in response")
	}
	return a.VerifyToken(ctx, rawIDToken)
}

// VerifyToken verifies a raw ID token and extracts its claims
func (a *OIDCAuthenticator) VerifyToken(ctx context.Context, rawIDToken string) (*Claims, error) {
	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var raw struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	return &Claims{Subject: idToken.Subject, Email: raw.Email, Name: raw.Name}, nil
}
