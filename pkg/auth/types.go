package auth

import (
	"strings"
	"time"
)

// APIKey represents a process-wide bearer credential. A key is not scoped to
// a company; its reach is expressed only through its route and IP allow-lists.
type APIKey struct {
	ID          int64      `json:"id"`
	Digest      string     `json:"-"` // never exposed
	Prefix      string     `json:"prefix"`
	Description string     `json:"description,omitempty"`
	ExpiresOn   *time.Time `json:"expires_on,omitempty"` // inclusive calendar date, UTC
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`

	// Permissions is the route allow-list. Empty means unrestricted.
	Permissions []RoutePermission `json:"permissions"`
	// IPRestrictions is the CIDR allow-list. Empty means no IP restriction.
	IPRestrictions []string `json:"ip_restrictions"`
}

// RoutePermission is one allow-list rule: a literal path plus a method set.
// Path comparison is exact; there is no wildcard or prefix syntax, so a key
// permissioned for "/api/licenses" does not reach "/api/licenses/1".
type RoutePermission struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
}

// AllowsMethod reports whether the rule's method set contains method
// (compared upper-case).
func (p RoutePermission) AllowsMethod(method string) bool {
	method = strings.ToUpper(method)
	for _, m := range p.Methods {
		if strings.ToUpper(m) == method {
			return true
		}
	}
	return false
}

// KeyUsage is one per-IP usage counter for a key. Written under an upsert so
// concurrent hits accumulate without lost updates.
type KeyUsage struct {
	KeyID      int64     `json:"key_id"`
	IPAddress  string    `json:"ip_address"`
	Count      int64     `json:"count"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Masked returns the key's display form.
func (k *APIKey) Masked() string {
	return Mask(k.Prefix)
}

// ExpiredAt reports whether the key is past its expiry date as of now.
// Expiry is an inclusive UTC calendar date: a key expiring today is still
// accepted today and rejected tomorrow.
func (k *APIKey) ExpiredAt(now time.Time) bool {
	if k.ExpiresOn == nil {
		return false
	}
	today := now.UTC().Truncate(24 * time.Hour)
	expiry := k.ExpiresOn.UTC().Truncate(24 * time.Hour)
	return today.After(expiry)
}
