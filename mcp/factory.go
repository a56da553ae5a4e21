package mcp

import (
	"context"
	"fmt"
)

// DefaultFactory dispatches a ServerSpec to the matching built-in transport:
// stdio, plain HTTP, or OAuth-then-HTTP (spec §6 "each connection factory
// receives a ServerSpec ... and returns a live MCP client"). router is only
// consulted for TransportOAuth specs; pass nil if a fleet never uses OAuth.
func DefaultFactory(router CallbackRouter) Factory {
	oauthFactory := NewOAuthFactory(router)
	return func(ctx context.Context, spec ServerSpec, report ProgressFunc) (Caller, error) {
		switch spec.Kind {
		case TransportStdio:
			return dialStdio(ctx, spec, report)
		case TransportHTTP:
			return dialHTTP(ctx, spec, report)
		case TransportOAuth:
			return oauthFactory(ctx, spec, report)
		default:
			return nil, &Error{Message: fmt.Sprintf("unknown transport kind %q", spec.Kind)}
		}
	}
}
