package rbac

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheTTL is the validity window for cached role and permission
// lists. Entries older than this are treated as absent and re-fetched.
const DefaultCacheTTL = 5 * time.Minute

// DefaultCacheSize bounds the number of users held per map.
const DefaultCacheSize = 4096

// AccessCache memoizes per-user role-name and permission-name lists with a
// fixed TTL. The two maps are independent: a role list may be cached while
// the permission list is not. Eviction is lazy; expired entries simply stop
// being returned. The cache knows nothing about why a value changed;
// mutation call-sites are responsible for invalidating.
//
// The cache is process-local. In a multi-instance deployment pair it with a
// Broadcaster so invalidations propagate to every instance.
type AccessCache struct {
	roles *lru.LRU[int64, []string]
	perms *lru.LRU[int64, []string]
}

// NewAccessCache creates a cache holding up to size users per map, with the
// given validity window. Zero values fall back to the defaults.
func NewAccessCache(size int, ttl time.Duration) *AccessCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &AccessCache{
		roles: lru.NewLRU[int64, []string](size, nil, ttl),
		perms: lru.NewLRU[int64, []string](size, nil, ttl),
	}
}

// Roles returns the cached role list for a user, if present and fresh.
func (c *AccessCache) Roles(userID int64) ([]string, bool) {
	return c.roles.Get(userID)
}

// SetRoles overwrites the cached role list for a user unconditionally.
func (c *AccessCache) SetRoles(userID int64, roles []string) {
	c.roles.Add(userID, roles)
}

// Permissions returns the cached permission list for a user, if present and
// fresh.
func (c *AccessCache) Permissions(userID int64) ([]string, bool) {
	return c.perms.Get(userID)
}

// SetPermissions overwrites the cached permission list for a user.
func (c *AccessCache) SetPermissions(userID int64, perms []string) {
	c.perms.Add(userID, perms)
}

// Invalidate removes both entries for a user. Called after every mutation
// that can change the user's roles or effective permissions.
func (c *AccessCache) Invalidate(userID int64) {
	c.roles.Remove(userID)
	c.perms.Remove(userID)
}

// InvalidateAll clears every entry. Used after operations that can affect
// many users at once, such as catalog reconciliation.
func (c *AccessCache) InvalidateAll() {
	c.roles.Purge()
	c.perms.Purge()
}

// Len returns the number of live entries across both maps, for metrics.
func (c *AccessCache) Len() int {
	return c.roles.Len() + c.perms.Len()
}
