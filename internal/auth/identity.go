// Package auth implements the AuthResolver from spec.md §4.7: it maps an
// inbound HTTP request's credentials to an AuthContext describing the
// caller's realm and rights, trying three credential forms in a fixed
// precedence order (signed request, bearer JWT, opaque bearer token).
package auth

import (
	"context"

	"github.com/wisbric/strata/pkg/digest"
)

// Method identifies which credential form produced an AuthContext.
type Method string

const (
	MethodSignedRequest Method = "signed_request"
	MethodJWT           Method = "jwt"
	MethodUserToken     Method = "user_token"
	MethodAgentToken    Method = "agent_token"
	MethodTicket        Method = "ticket"
)

// Context is the resolved identity and rights for the current request,
// spec.md §4.7's AuthContext.
type Context struct {
	UserID         string
	Realm          string
	CanRead        bool
	CanWrite       bool
	CanIssueTicket bool
	TokenID        string
	// AllowedKeys restricts reads to this set when non-nil (ticket read
	// scope); nil means unrestricted within the realm.
	AllowedKeys []digest.Key
	Method      Method
}

// AllowsKey reports whether the context's read scope permits key k.
func (c *Context) AllowsKey(k digest.Key) bool {
	if c.AllowedKeys == nil {
		return true
	}
	for _, a := range c.AllowedKeys {
		if a == k {
			return true
		}
	}
	return false
}

type ctxKey struct{ name string }

var authContextKey = &ctxKey{"strata_auth_context"}

// NewContext returns a copy of ctx carrying the resolved AuthContext.
func NewContext(ctx context.Context, ac *Context) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// FromContext extracts the AuthContext stored by NewContext, or nil.
func FromContext(ctx context.Context) *Context {
	v, _ := ctx.Value(authContextKey).(*Context)
	return v
}
