package featureflag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestAbsenceAllows(t *testing.T) {
	assert.True(t, IsEnabled(nil, "ENABLE_CASH_ENGINE", ""))
	assert.True(t, IsEnabled([]Flag{}, "ENABLE_CASH_ENGINE", "br-1"))
}

func TestBusinessWideDisable(t *testing.T) {
	flags := []Flag{
		{FlagKey: "ENABLE_CASH_ENGINE", TenantID: "t1", Status: Disabled, CreatedAt: t0},
	}
	assert.False(t, IsEnabled(flags, "ENABLE_CASH_ENGINE", ""))
	assert.False(t, IsEnabled(flags, "ENABLE_CASH_ENGINE", "br-1"), "business entry applies to branches")
	assert.True(t, IsEnabled(flags, "ENABLE_INVENTORY_ENGINE", ""), "other keys unaffected")
}

func TestBranchOverridesBusiness(t *testing.T) {
	flags := []Flag{
		{FlagKey: "ENABLE_CASH_ENGINE", TenantID: "t1", Status: Enabled, CreatedAt: t0},
		{FlagKey: "ENABLE_CASH_ENGINE", TenantID: "t1", BranchID: "br-1", Status: Disabled, CreatedAt: t0},
	}
	assert.False(t, IsEnabled(flags, "ENABLE_CASH_ENGINE", "br-1"))
	assert.True(t, IsEnabled(flags, "ENABLE_CASH_ENGINE", "br-2"))
	assert.True(t, IsEnabled(flags, "ENABLE_CASH_ENGINE", ""))
}

func TestDisabledDominatesOnDuplicate(t *testing.T) {
	flags := []Flag{
		{FlagKey: "F", TenantID: "t1", Status: Enabled, CreatedAt: t0.Add(time.Hour)},
		{FlagKey: "F", TenantID: "t1", Status: Disabled, CreatedAt: t0},
	}
	// The older DISABLED entry still wins.
	assert.False(t, IsEnabled(flags, "F", ""))
}

func TestLaterCreatedWinsAmongEqualStatus(t *testing.T) {
	flags := []Flag{
		{FlagKey: "F", TenantID: "t1", Status: Enabled, CreatedAt: t0},
		{FlagKey: "F", TenantID: "t1", Status: Enabled, CreatedAt: t0.Add(time.Minute)},
	}
	table := Canonicalise(flags)
	assert.Equal(t, Enabled, table["F"][""])
}

func TestCanonicaliseIsOrderInsensitive(t *testing.T) {
	a := []Flag{
		{FlagKey: "F", TenantID: "t1", Status: Enabled, CreatedAt: t0},
		{FlagKey: "F", TenantID: "t1", Status: Disabled, CreatedAt: t0.Add(time.Minute)},
	}
	b := []Flag{a[1], a[0]}
	assert.Equal(t, Canonicalise(a), Canonicalise(b))
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider()
	p.Put(Flag{FlagKey: "F", TenantID: "t1", Status: Disabled, CreatedAt: t0})
	p.Put(Flag{FlagKey: "G", TenantID: "t2", Status: Enabled, CreatedAt: t0})

	flags, err := p.FlagsForTenant("t1")
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "F", flags[0].FlagKey)

	none, err := p.FlagsForTenant("t3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestKeyRegistry(t *testing.T) {
	r := NewKeyRegistry()
	r.Bind("cash.session.open.request", "ENABLE_CASH_ENGINE")
	r.BindAll("ENABLE_INVENTORY_ENGINE",
		"inventory.stock.receive.request", "inventory.stock.issue.request")

	k, ok := r.KeyFor("cash.session.open.request")
	require.True(t, ok)
	assert.Equal(t, "ENABLE_CASH_ENGINE", k)

	k, ok = r.KeyFor("inventory.stock.issue.request")
	require.True(t, ok)
	assert.Equal(t, "ENABLE_INVENTORY_ENGINE", k)

	_, ok = r.KeyFor("accounting.journal.post.request")
	assert.False(t, ok)
}
