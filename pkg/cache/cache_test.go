package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCachePutGet(t *testing.T) {
	c := New(Options{L1Bytes: 1 << 10, L2Bytes: 4 << 10, Policy: PolicyLRU})
	c.Put("a", []byte("1"))
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", string(v))

	_, ok = c.Get("missing")
	require.False(t, ok)

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
}

func TestCacheOversizeBypasses(t *testing.T) {
	c := New(Options{L1Bytes: 100, L2Bytes: 400, Policy: PolicyLRU})
	big := make([]byte, 60) // > L1Bytes/4 == 25
	c.Put("big", big)
	require.False(t, c.Contains("big"))
}

func TestCachePollutionResistance(t *testing.T) {
	c := New(Options{L1Bytes: 4096, L2Bytes: 4096, Policy: PolicyLRU})

	// Scan 2000 unique cold keys once each.
	for i := 0; i < 2000; i++ {
		c.Put(fmt.Sprintf("cold-%d", i), []byte("x"))
	}

	// Populate and repeatedly access 10 hot keys.
	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("hot-%d", i), []byte("y"))
	}
	hits, total := 0, 0
	for round := 0; round < 50; round++ {
		for i := 0; i < 10; i++ {
			total++
			if _, ok := c.Get(fmt.Sprintf("hot-%d", i)); ok {
				hits++
			}
		}
	}
	ratio := float64(hits) / float64(total)
	require.Greater(t, ratio, 0.9)
}

func TestEvictionPolicies(t *testing.T) {
	for _, p := range []Policy{PolicyLRU, PolicyLFU, PolicyFIFO} {
		c := New(Options{L1Bytes: 30, L2Bytes: 30, Policy: p})
		for i := 0; i < 20; i++ {
			c.Put(fmt.Sprintf("k%d", i), []byte("xx"))
		}
		require.Greater(t, c.Stats().Evictions, int64(0))
	}
}

func TestL2PromotionOnAdmission(t *testing.T) {
	c := New(Options{L1Bytes: 1000, L2Bytes: 1000, Policy: PolicyLRU})
	medium := make([]byte, 150) // between L1/10=100 and L1/4=250
	c.l2.put("m", medium, nil)

	_, ok := c.Get("m")
	require.True(t, ok)
	require.True(t, c.l2.contains("m"))

	_, ok = c.Get("m")
	require.True(t, ok)
	require.True(t, c.l1.contains("m"), "second access should promote medium entry to L1")
}
