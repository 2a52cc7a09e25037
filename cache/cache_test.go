package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupMissThenHitAfterReplace(t *testing.T) {
	c := New(4, 512)
	_, hit := c.Lookup(1024)
	assert.False(t, hit)

	victim := c.SelectVictim()
	c.Replace(victim, 1024)
	idx, hit := c.Lookup(1024)
	require.True(t, hit)
	assert.Equal(t, victim, idx)
}

func TestTouchAndSelectVictimPrefersLowestLRU(t *testing.T) {
	c := New(3, 512)
	c.Replace(0, 0)
	c.Replace(1, 512)
	c.Replace(2, 1024)
	c.Touch(1)
	c.Touch(1)
	c.Touch(2)

	victim := c.SelectVictim()
	assert.Equal(t, 0, victim)
}

func TestResetAroundKeepsRelativeOrder(t *testing.T) {
	c := New(3, 512)
	c.Replace(0, 0)
	c.Replace(1, 512)
	c.Replace(2, 1024)
	for i := 0; i < 5; i++ {
		c.Touch(1)
	}
	for i := 0; i < 2; i++ {
		c.Touch(2)
	}
	c.ResetAround(1)
	assert.Equal(t, uint8(6), c.Item(1).LRU)
	assert.Equal(t, uint8(0), c.Item(2).LRU)
}

func TestInvalidateBlockDropsOnlyMatchingWindows(t *testing.T) {
	c := New(2, 256)
	c.Replace(0, 0)
	c.Replace(1, 1024)
	c.InvalidateBlock(0, 512)
	_, hit := c.Lookup(0)
	assert.False(t, hit)
	_, hit = c.Lookup(1024)
	assert.True(t, hit)
}

func TestFindCaching(t *testing.T) {
	c := New(2, 512)
	c.Replace(0, 0)
	c.Replace(1, 2048)
	idx, ok := c.FindCaching(100, 1)
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	_, ok = c.FindCaching(100, 0)
	assert.False(t, ok)
}
