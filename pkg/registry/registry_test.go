package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avi3tal/graphengine/pkg/graph"
)

func simpleGraph(id, version string) *graph.Graph {
	g := graph.NewGraph(id).AddNode(graph.NewNode("work", "noop"))
	g.Version = version
	return g
}

func TestRegisterGraph(t *testing.T) {
	t.Parallel()
	r := New()

	require.NoError(t, r.RegisterGraph("a", simpleGraph("a", "v1")))

	t.Run("duplicate id", func(t *testing.T) {
		err := r.RegisterGraph("a", simpleGraph("a", "v2"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDuplicateID))

		cg, ok := r.GetGraph("a")
		require.True(t, ok)
		assert.Equal(t, "v1", cg.Version(), "failed registration leaves the original in place")
	})

	t.Run("empty id", func(t *testing.T) {
		assert.ErrorIs(t, r.RegisterGraph("", simpleGraph("x", "")), ErrEmptyID)
	})

	t.Run("nil graph", func(t *testing.T) {
		assert.ErrorIs(t, r.RegisterGraph("nil", nil), ErrNilGraph)
	})

	t.Run("invalid graph", func(t *testing.T) {
		bad := graph.NewGraph("bad").AddNode(graph.NewNode("x", "h"), graph.NewNode("x", "h"))
		err := r.RegisterGraph("bad", bad)
		require.Error(t, err)
		assert.ErrorIs(t, err, graph.ErrDuplicateNode)
		assert.False(t, r.ContainsGraph("bad"))
	})

	t.Run("lookup miss", func(t *testing.T) {
		cg, ok := r.GetGraph("missing")
		assert.False(t, ok)
		assert.Nil(t, cg)
	})
}

func TestUnregisterAndClear(t *testing.T) {
	t.Parallel()
	r := New()

	require.NoError(t, r.RegisterGraph("b", simpleGraph("b", "")))
	require.NoError(t, r.RegisterGraph("a", simpleGraph("a", "")))
	assert.Equal(t, []string{"a", "b"}, r.GetGraphIDs())

	assert.True(t, r.UnregisterGraph("a"))
	assert.False(t, r.UnregisterGraph("a"), "unregister is idempotent")
	assert.Equal(t, []string{"b"}, r.GetGraphIDs())

	r.Clear()
	assert.Empty(t, r.GetGraphIDs())
	assert.Equal(t, 0, r.Len())
}

func TestConcurrentLookups(t *testing.T) {
	t.Parallel()
	r := New()

	require.NoError(t, r.RegisterGraph("alpha", simpleGraph("alpha", "1")))
	require.NoError(t, r.RegisterGraph("beta", simpleGraph("beta", "2")))

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, want := "alpha", "1"
			if i%2 == 1 {
				id, want = "beta", "2"
			}
			cg, ok := r.GetGraph(id)
			if !ok {
				errs <- fmt.Errorf("lookup %d: %s not found", i, id)
				return
			}
			if cg.ID() != id || cg.Version() != want {
				errs <- fmt.Errorf("lookup %d: got %s@%s, want %s@%s", i, cg.ID(), cg.Version(), id, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestHotSwap(t *testing.T) {
	t.Parallel()
	r := New()
	require.NoError(t, r.RegisterGraph("g", simpleGraph("g", "v0")))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				cg, ok := r.GetGraph("g")
				if !ok || cg == nil {
					t.Error("reader observed a missing graph during replace")
					return
				}
				if _, ok := cg.Node("work"); !ok {
					t.Error("reader observed a torn graph")
					return
				}
			}
		}()
	}

	for v := 1; v <= 50; v++ {
		require.NoError(t, r.ReplaceGraph("g", simpleGraph("g", fmt.Sprintf("v%d", v))))
	}
	close(stop)
	wg.Wait()

	cg, ok := r.GetGraph("g")
	require.True(t, ok)
	assert.Equal(t, "v50", cg.Version())
}

func TestCompareAndReplace(t *testing.T) {
	t.Parallel()
	r := New()

	gen, err := r.CompareAndReplace("g", 0, simpleGraph("g", "v1"))
	require.NoError(t, err)
	assert.Equal(t, gen, r.Generation("g"))

	_, err = r.CompareAndReplace("g", 0, simpleGraph("g", "v-stale"))
	assert.ErrorIs(t, err, ErrStaleGeneration)

	next, err := r.CompareAndReplace("g", gen, simpleGraph("g", "v2"))
	require.NoError(t, err)
	assert.Greater(t, next, gen)

	_, err = r.CompareAndReplace("g", gen, simpleGraph("g", "v3"))
	assert.ErrorIs(t, err, ErrStaleGeneration)

	cg, _ := r.GetGraph("g")
	assert.Equal(t, "v2", cg.Version())

	require.NoError(t, r.ReplaceGraph("g", simpleGraph("g", "v4")))
	assert.Greater(t, r.Generation("g"), next, "every mutation advances the generation")
	assert.Equal(t, uint64(0), r.Generation("missing"))
}

func TestGraphIDMatchesRegistryID(t *testing.T) {
	t.Parallel()

	t.Run("mismatch is rejected by every mutation", func(t *testing.T) {
		r := New()
		assert.ErrorIs(t, r.RegisterGraph("public-id", simpleGraph("inner-id", "v1")), ErrIDMismatch)
		assert.ErrorIs(t, r.ReplaceGraph("public-id", simpleGraph("inner-id", "v1")), ErrIDMismatch)
		_, err := r.CompareAndReplace("public-id", 0, simpleGraph("inner-id", "v1"))
		assert.ErrorIs(t, err, ErrIDMismatch)
		assert.False(t, r.ContainsGraph("public-id"))
	})

	t.Run("empty graph id takes the registry id", func(t *testing.T) {
		r := New()
		g := simpleGraph("", "v1")
		require.NoError(t, r.RegisterGraph("public-id", g))

		cg, ok := r.GetGraph("public-id")
		require.True(t, ok)
		assert.Equal(t, "public-id", cg.ID())
		assert.Empty(t, g.ID, "the caller's graph is not modified")

		require.NoError(t, r.ReplaceGraph("public-id", simpleGraph("", "v2")))
		cg, _ = r.GetGraph("public-id")
		assert.Equal(t, "public-id", cg.ID())
		assert.Equal(t, "v2", cg.Version())
	})
}
