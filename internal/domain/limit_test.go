package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveLimit_TokenCapWins(t *testing.T) {
	ceiling, unlimited := ResolveLimit(Cap(10), Cap(20), true, Cap(30))
	assert.False(t, unlimited)
	assert.Equal(t, uint64(10), ceiling)
}

func TestResolveLimit_TokenUnlimitedOverridesDept(t *testing.T) {
	ceiling, unlimited := ResolveLimit(Unlimited(), Cap(20), true, Cap(30))
	assert.True(t, unlimited)
	assert.Equal(t, uint64(0), ceiling)
}

func TestResolveLimit_InheritsToDeptWhenEnabled(t *testing.T) {
	ceiling, unlimited := ResolveLimit(Inherit(), Cap(20), true, Cap(30))
	assert.False(t, unlimited)
	assert.Equal(t, uint64(20), ceiling)
}

func TestResolveLimit_SkipsDisabledDept(t *testing.T) {
	ceiling, unlimited := ResolveLimit(Inherit(), Cap(20), false, Cap(30))
	assert.False(t, unlimited)
	assert.Equal(t, uint64(30), ceiling)
}

func TestResolveLimit_FallsThroughToGlobalUnlimited(t *testing.T) {
	ceiling, unlimited := ResolveLimit(Inherit(), Inherit(), true, Unlimited())
	assert.True(t, unlimited)
	assert.Equal(t, uint64(0), ceiling)
}

func TestLimitFromNullable(t *testing.T) {
	assert.True(t, LimitFromNullable(nil).IsInherit())
	zero := int64(0)
	assert.True(t, LimitFromNullable(&zero).IsUnlimited())
	five := int64(5)
	got := LimitFromNullable(&five)
	assert.True(t, got.IsCap())
	assert.Equal(t, uint64(5), got.Value())
}
