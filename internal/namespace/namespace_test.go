package namespace

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gammanik/livestore/internal/resource"
)

func TestShouldLookupExactPath(t *testing.T) {
	ns := New()
	rec := resource.New("a/b", "", 4)
	assert.Nil(t, ns.Insert("a/b", rec))

	got, ok := ns.Lookup("a/b")
	require.True(t, ok)
	assert.Same(t, rec, got)

	_, ok = ns.Lookup("a")
	assert.False(t, ok)
	_, ok = ns.Lookup("a/b/c")
	assert.False(t, ok)
}

func TestShouldReplaceExistingRecord(t *testing.T) {
	ns := New()
	first := resource.New("a", "", 4)
	second := resource.New("a", "", 4)

	ns.Insert("a", first)
	assert.Same(t, first, ns.Insert("a", second))

	got, _ := ns.Lookup("a")
	assert.Same(t, second, got)
	assert.Equal(t, 1, ns.Len())
}

func TestShouldEnumerateSubtreeStrippingWildcard(t *testing.T) {
	ns := New()
	for _, p := range []string{"a/c", "a/b", "b/a", "a/b/d"} {
		ns.Insert(p, resource.New(p, "", 4))
	}

	var paths []string
	for _, e := range ns.LookupSubtree("a/*") {
		paths = append(paths, e.Path)
		assert.Equal(t, e.Path, e.Record.Path())
	}
	assert.Equal(t, []string{"a/b", "a/b/d", "a/c"}, paths)

	assert.Empty(t, ns.LookupSubtree("zzz"))
	assert.Len(t, ns.LookupSubtree("*"), 4)
}

func TestShouldMatchSubtreeByRawPrefix(t *testing.T) {
	ns := New()
	for _, p := range []string{"a/x", "ab/x", "b"} {
		ns.Insert(p, resource.New(p, "", 4))
	}

	var paths []string
	for _, e := range ns.LookupSubtree("a") {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"a/x", "ab/x"}, paths)

	require.Len(t, ns.LookupSubtree("a/"), 1)
	assert.Equal(t, "a/x", ns.LookupSubtree("a/")[0].Path)
}

func TestShouldRemoveWithoutAffectingHeldRecords(t *testing.T) {
	ns := New()
	rec := resource.New("a", "", 4)
	ns.Insert("a", rec)

	held, _ := ns.Lookup("a")
	assert.True(t, ns.Remove("a"))
	assert.False(t, ns.Remove("a"))

	_, ok := ns.Lookup("a")
	assert.False(t, ok)

	require.NoError(t, held.Append([]byte("still writable")))
	assert.Equal(t, 1, held.Info().Chunks)
}

func TestShouldHandleConcurrentAccess(t *testing.T) {
	ns := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := fmt.Sprintf("dir/%d", i)
			ns.Insert(p, resource.New(p, "", 4))
			ns.Lookup(p)
			ns.LookupSubtree("dir/")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, ns.Len())
}
