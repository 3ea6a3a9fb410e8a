package rbac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessCacheRoundTrip(t *testing.T) {
	cache := NewAccessCache(8, time.Minute)

	_, ok := cache.Roles(42)
	assert.False(t, ok)

	cache.SetRoles(42, []string{RoleSales})
	cache.SetPermissions(42, []string{PermExportData})

	roles, ok := cache.Roles(42)
	require.True(t, ok)
	assert.Equal(t, []string{RoleSales}, roles)

	perms, ok := cache.Permissions(42)
	require.True(t, ok)
	assert.Equal(t, []string{PermExportData}, perms)
}

func TestAccessCacheMapsAreIndependent(t *testing.T) {
	cache := NewAccessCache(8, time.Minute)
	cache.SetRoles(42, []string{RoleSales})

	_, ok := cache.Permissions(42)
	assert.False(t, ok)
}

func TestAccessCacheInvalidateDropsBothMaps(t *testing.T) {
	cache := NewAccessCache(8, time.Minute)
	cache.SetRoles(42, []string{RoleSales})
	cache.SetPermissions(42, []string{PermExportData})
	cache.SetRoles(7, []string{RoleSupport})

	cache.Invalidate(42)

	_, ok := cache.Roles(42)
	assert.False(t, ok)
	_, ok = cache.Permissions(42)
	assert.False(t, ok)

	// Other users are untouched.
	_, ok = cache.Roles(7)
	assert.True(t, ok)
}

func TestAccessCacheInvalidateAll(t *testing.T) {
	cache := NewAccessCache(8, time.Minute)
	cache.SetRoles(1, []string{RoleSales})
	cache.SetPermissions(2, []string{PermViewLeads})

	cache.InvalidateAll()
	assert.Zero(t, cache.Len())
}

func TestAccessCacheExpiry(t *testing.T) {
	cache := NewAccessCache(8, 20*time.Millisecond)
	cache.SetRoles(42, []string{RoleSales})

	_, ok := cache.Roles(42)
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = cache.Roles(42)
	assert.False(t, ok)
}

func TestAccessCacheZeroValuesFallBackToDefaults(t *testing.T) {
	cache := NewAccessCache(0, 0)
	cache.SetRoles(1, []string{RoleSupport})
	_, ok := cache.Roles(1)
	assert.True(t, ok)
}
