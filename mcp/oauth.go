package mcp

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// NewOAuthFactory builds a Factory for ServerSpecs of TransportOAuth. router
// resolves the authorization code once the provider redirects back to the
// host application (spec §6 "OAuth callback routing is performed by an
// injectable callback router; the connection waits on a registered state
// token"). The resulting Caller is a plain JSON-RPC-over-HTTP client (like
// dialHTTP) whose requests carry the exchanged token.
func NewOAuthFactory(router CallbackRouter) Factory {
	return func(ctx context.Context, spec ServerSpec, report ProgressFunc) (Caller, error) {
		if spec.URL == "" || spec.AuthURL == "" || spec.TokenURL == "" {
			return nil, &Error{Message: "oauth server spec requires url, auth_url and token_url"}
		}
		if router == nil {
			return nil, &Error{Message: "oauth transport requires a CallbackRouter"}
		}

		cfg := oauth2.Config{
			ClientID:     spec.ClientID,
			ClientSecret: spec.ClientSecret,
			RedirectURL:  spec.RedirectScheme,
			Scopes:       spec.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spec.AuthURL,
				TokenURL: spec.TokenURL,
			},
		}

		report(AuthStarting, "")

		state := uuid.NewString()
		wait, cancel := router.Register(state)
		defer cancel()

		authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
		report(AuthOpeningBrowser, authURL)
		report(AuthWaitingForCallback, authURL)

		code, err := wait(ctx)
		if err != nil {
			return nil, err
		}

		report(AuthExchangingToken, authURL)
		token, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, err
		}

		client := cfg.Client(ctx, token)
		return dialAuthenticatedHTTP(ctx, spec, client)
	}
}

// dialAuthenticatedHTTP mirrors dialHTTP but sends requests through an
// oauth2-wrapped http.Client carrying the exchanged token.
func dialAuthenticatedHTTP(ctx context.Context, spec ServerSpec, client *http.Client) (Caller, error) {
	c := &httpCaller{endpoint: spec.URL, client: client}
	payload := map[string]any{
		"protocolVersion": DefaultProtocolVersion,
		"clientInfo":      map[string]any{"name": "agentrt", "version": "dev"},
	}
	if err := c.call(ctx, "initialize", payload, nil); err != nil {
		return nil, err
	}
	return c, nil
}
