package handlers

import (
	"context"
	"net/http"

	"github.com/BaSui01/reviewflow/hitl"
)

type identityKey struct{}

// ContextWithIdentity stores the authenticated caller on the context.
// The auth middleware calls this once per request.
func ContextWithIdentity(ctx context.Context, id hitl.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromRequest returns the caller stored by the auth middleware.
// Without middleware (auth disabled) it falls back to identifying
// headers so local development still scopes data per user.
func IdentityFromRequest(r *http.Request) hitl.Identity {
	if id, ok := r.Context().Value(identityKey{}).(hitl.Identity); ok {
		return id
	}
	return hitl.Identity{
		UserID: r.Header.Get("X-User-ID"),
		OrgID:  r.Header.Get("X-Org-ID"),
	}
}
