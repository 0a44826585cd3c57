package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetSet(t *testing.T) {
	c := New[string](10, time.Minute, nil)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", "value")
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "value", got)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New[int](10, 20*time.Millisecond, nil)

	c.Set("k", 42)
	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	c := New[int](2, time.Minute, nil)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCache_Purge(t *testing.T) {
	c := New[int](10, time.Minute, nil)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestKey_NormalizesQuery(t *testing.T) {
	a := Key(KeyParams{Query: "Hello   World", K: 10})
	b := Key(KeyParams{Query: "hello world", K: 10})
	c := Key(KeyParams{Query: "  HELLO WORLD  ", K: 10})

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestKey_FilterOrderIrrelevant(t *testing.T) {
	a := Key(KeyParams{Query: "q", K: 5, Filters: map[string]string{"x": "1", "y": "2"}})
	b := Key(KeyParams{Query: "q", K: 5, Filters: map[string]string{"y": "2", "x": "1"}})
	assert.Equal(t, a, b)
}

func TestKey_ParamsChangeKey(t *testing.T) {
	base := KeyParams{Query: "q", K: 10, FusionMethod: "rrf", RRFK: 60, Alpha: 0.5}

	baseline := Key(base)

	k := base
	k.K = 20
	assert.NotEqual(t, baseline, Key(k))

	method := base
	method.FusionMethod = "linear"
	assert.NotEqual(t, baseline, Key(method))

	alpha := base
	alpha.Alpha = 0.7
	assert.NotEqual(t, baseline, Key(alpha))

	rerank := base
	rerank.Rerank = true
	assert.NotEqual(t, baseline, Key(rerank))

	filters := base
	filters.Filters = map[string]string{"lang": "en"}
	assert.NotEqual(t, baseline, Key(filters))
}
