package model

import "time"

type ScopeKind string

const (
	ScopePrivate ScopeKind = "private"
	ScopeShared  ScopeKind = "shared"
)

// CacheScope partitions cache entries. Private scopes belong to one org;
// shared scopes belong to one artifact category.
type CacheScope struct {
	Kind     ScopeKind     `json:"kind"`
	OrgID    string        `json:"orgId,omitempty"`
	Category CacheCategory `json:"category"`
}

func PrivateScope(orgID string, category CacheCategory) CacheScope {
	return CacheScope{Kind: ScopePrivate, OrgID: orgID, Category: category}
}

func SharedScope(category CacheCategory) CacheScope {
	return CacheScope{Kind: ScopeShared, Category: category}
}

// Key is the storage prefix of the scope.
func (s CacheScope) Key() string {
	if s.Kind == ScopeShared {
		return "shared:" + string(s.Category)
	}
	return "org:" + s.OrgID + ":" + string(s.Category)
}

// CacheEntry is immutable; a refresh stores a new entry under the same fingerprint.
type CacheEntry struct {
	Fingerprint string     `json:"fingerprint"`
	Scope       CacheScope `json:"scope"`
	Payload     []byte     `json:"payload"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
}

func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}
