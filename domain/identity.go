package domain

// Identity is a resolved participant identity from the directory service.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// CacheEntry is one identity cache slot. A nil Identity tags the entry as
// negative: the directory was asked and reported the participant missing.
type CacheEntry struct {
	Identity *Identity `json:"identity,omitempty"`
	// ExpiresAt is an absolute Unix-millisecond deadline. An expired entry
	// is treated as absent by readers.
	ExpiresAt int64 `json:"expiresAt"`
}

// Negative reports whether the entry records a failed directory lookup.
func (e CacheEntry) Negative() bool { return e.Identity == nil }

// Expired reports whether the entry is past its deadline at the given
// Unix-millisecond instant.
func (e CacheEntry) Expired(nowMillis int64) bool { return nowMillis >= e.ExpiresAt }

// PositiveEntry builds a cache entry for a resolved identity.
func PositiveEntry(id Identity, expiresAt int64) CacheEntry {
	return CacheEntry{Identity: &id, ExpiresAt: expiresAt}
}

// NegativeEntry builds a cache entry recording "looked up, not found".
func NegativeEntry(expiresAt int64) CacheEntry {
	return CacheEntry{ExpiresAt: expiresAt}
}
