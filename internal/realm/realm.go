// Package realm handles canonicalisation and context-threading of the
// opaque tenant identifier ("realm") used throughout strata.
package realm

import (
	"context"
	"errors"
	"strings"
)

// Prefix is prepended to a user ID to form the canonical realm string.
const Prefix = "usr_"

// ErrEmptyUserID is returned by Canonical when userID is empty.
var ErrEmptyUserID = errors.New("realm: user id must not be empty")

// Canonical builds the canonical realm identifier for a user id.
func Canonical(userID string) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	return Prefix + userID, nil
}

// Resolve rewrites the symbolic aliases "@me" and "~" in a request path's
// realm segment to the caller's own realm, leaving any other value
// untouched (the caller is responsible for then checking it equals
// authRealm per the realm scoping rule).
func Resolve(pathRealm, authRealm string) string {
	if pathRealm == "@me" || pathRealm == "~" {
		return authRealm
	}
	return pathRealm
}

// Permitted reports whether a request path referring to realm R is
// permitted for a caller authenticated into authRealm: R must equal
// authRealm once the @me/~ aliases are resolved.
func Permitted(pathRealm, authRealm string) bool {
	return Resolve(pathRealm, authRealm) == authRealm
}

// Valid reports whether s looks like a canonical realm string.
func Valid(s string) bool {
	return strings.HasPrefix(s, Prefix) && len(s) > len(Prefix)
}

type contextKey struct{ name string }

var realmKey = &contextKey{"strata_realm"}

// NewContext returns a copy of ctx carrying the resolved realm.
func NewContext(ctx context.Context, r string) context.Context {
	return context.WithValue(ctx, realmKey, r)
}

// FromContext extracts the realm previously stored by NewContext. The
// second return value is false if no realm has been set.
func FromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(realmKey).(string)
	return v, ok
}
