package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"
)

// HeaderAPIKey is the request header carrying the cleartext key.
const HeaderAPIKey = "x-api-key"

// KeyStore is the persistence surface the authenticator needs.
type KeyStore interface {
	// GetByDigest resolves a peppered digest to a stored key, including its
	// route and CIDR allow-lists. Returns ErrNotFound when no key matches.
	GetByDigest(ctx context.Context, digest string) (*APIKey, error)
	// RecordUsage increments the (key, ip) usage counter and touches
	// last-used, both per-IP and on the key itself.
	RecordUsage(ctx context.Context, keyID int64, ip string) error
}

// Authenticator resolves a presented API key to a stored record and enforces
// its allow-lists. Usage is recorded only for accepted requests.
type Authenticator struct {
	store    KeyStore
	hasher   *Hasher
	now      func() time.Time
	observer func(outcome string)
}

// NewAuthenticator creates an API-key authenticator.
func NewAuthenticator(store KeyStore, hasher *Hasher) *Authenticator {
	return &Authenticator{
		store:  store,
		hasher: hasher,
		now:    time.Now,
	}
}

// SetObserver attaches an outcome counter. Outcomes are "accepted" or
// the deny reason. Optional.
func (a *Authenticator) SetObserver(fn func(outcome string)) {
	a.observer = fn
}

func (a *Authenticator) observe(outcome string) {
	if a.observer != nil {
		a.observer(outcome)
	}
}

// Authenticate validates the x-api-key header on r. On success it returns
// the key record with usage recorded; on failure it returns a *KeyAuthError
// with a distinct reason and no usage is recorded.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*APIKey, error) {
	key, err := a.authenticate(ctx, r)
	switch e := err.(type) {
	case nil:
		a.observe("accepted")
	case *KeyAuthError:
		a.observe(string(e.Reason))
	default:
		a.observe("error")
	}
	return key, err
}

func (a *Authenticator) authenticate(ctx context.Context, r *http.Request) (*APIKey, error) {
	cleartext := r.Header.Get(HeaderAPIKey)
	if cleartext == "" {
		return nil, &KeyAuthError{Reason: DenyMissing}
	}

	key, err := a.store.GetByDigest(ctx, a.hasher.Hash(cleartext))
	if err != nil {
		return nil, &KeyAuthError{Reason: DenyInvalid}
	}

	if key.ExpiredAt(a.now()) {
		return nil, &KeyAuthError{Reason: DenyExpired}
	}

	if err := checkRoute(key, r.URL.Path, r.Method); err != nil {
		return nil, err
	}

	ip := clientIP(r)
	if err := checkIP(key, ip); err != nil {
		return nil, err
	}

	if err := a.store.RecordUsage(ctx, key.ID, ip); err != nil {
		return nil, err
	}

	return key, nil
}

// checkRoute evaluates the route allow-list. An empty list passes. Otherwise
// at least one rule must match the path literally and contain the method.
func checkRoute(key *APIKey, path, method string) error {
	if len(key.Permissions) == 0 {
		return nil
	}

	pathMatched := false
	for _, rule := range key.Permissions {
		if rule.Path != path {
			continue
		}
		pathMatched = true
		if rule.AllowsMethod(method) {
			return nil
		}
	}

	if pathMatched {
		return &KeyAuthError{Reason: DenyMethod, Detail: method + " " + path}
	}
	return &KeyAuthError{Reason: DenyPath, Detail: path}
}

// checkIP evaluates the CIDR allow-list. An empty list passes.
func checkIP(key *APIKey, ip string) error {
	if len(key.IPRestrictions) == 0 {
		return nil
	}

	addr := net.ParseIP(ip)
	if addr == nil {
		return &KeyAuthError{Reason: DenyIP, Detail: ip}
	}

	for _, cidr := range key.IPRestrictions {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			// A malformed stored range never grants access.
			continue
		}
		if network.Contains(addr) {
			return nil
		}
	}

	return &KeyAuthError{Reason: DenyIP, Detail: ip}
}

// clientIP returns the forwarded-for head when present, else the peer
// address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		head := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		if head != "" {
			return head
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
