// Package identity carries the acting identity of a request through its
// call chain, and defines the identity key that scopes cookie jars,
// outbound sessions and credentials.
//
// Every request gets its own context, so concurrent requests never observe
// each other's identity, and an inner scope (eg switching to a bound remote
// account mid-request) is dropped when its context goes out of scope.
// Store operations that accept an explicit user argument always prefer it
// over the ambient value.
package identity

import (
	"context"
	"strings"
)

type ctxKey int

const (
	siteUserKey ctxKey = iota
	identityKeyKey
)

// GuestPrefix distinguishes the guest identity namespace from site usernames.
const GuestPrefix = "g:"

// Anonymous is the identity used when nothing else is known.
const Anonymous = "anon"

// WithSiteUser returns a context carrying the site user (or guest identity).
func WithSiteUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, siteUserKey, user)
}

// SiteUser returns the ambient site user, or "" if none was set.
func SiteUser(ctx context.Context) string {
	u, _ := ctx.Value(siteUserKey).(string)
	return u
}

// WithKey returns a context carrying the full identity key (site user,
// optionally composed with the bound remote account).
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, identityKeyKey, key)
}

// Key returns the ambient identity key. Falls back to the site user, and
// finally to Anonymous, so callers always get a usable key.
func Key(ctx context.Context) string {
	if k, _ := ctx.Value(identityKeyKey).(string); k != "" {
		return k
	}
	if u := SiteUser(ctx); u != "" {
		return u
	}
	return Anonymous
}

// Compose builds the identity key for a site user bound to a remote account.
// Two different site users bound to the same remote account get distinct keys.
func Compose(siteUser, remoteUser string) string {
	if remoteUser == "" {
		return siteUser
	}
	return siteUser + "#jm#" + remoteUser
}

// Split is the inverse of Compose: it recovers the site user and the bound
// remote account from an identity key.
func Split(key string) (siteUser, remoteUser string) {
	if i := strings.Index(key, "#jm#"); i >= 0 {
		return key[:i], key[i+4:]
	}
	return key, ""
}

// IsGuest reports whether an identity belongs to the guest namespace.
func IsGuest(identity string) bool {
	return strings.HasPrefix(strings.TrimSpace(identity), GuestPrefix)
}

// Sanitize turns an identity key into a string that is safe to use as a
// filename: anything outside [A-Za-z0-9-_.@] is substituted, and the result
// is capped at 80 characters.
func Sanitize(identity string) string {
	s := strings.TrimSpace(identity)
	if s == "" {
		return Anonymous
	}
	out := make([]byte, 0, len(s))
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			out = append(out, byte(ch))
		case ch == '-' || ch == '_' || ch == '.' || ch == '@':
			out = append(out, byte(ch))
		default:
			out = append(out, '_')
		}
	}
	if len(out) > 80 {
		out = out[:80]
	}
	if len(out) == 0 {
		return Anonymous
	}
	return string(out)
}
