package xref

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	m := NewManager(opts...)
	t.Cleanup(func() { m.Shutdown() })
	return m
}

func definitionsOf(t *testing.T, m *Manager, name string) []CodeSymbol {
	t.Helper()
	var out []CodeSymbol
	require.NoError(t, m.WithGraph(func(mp *Mapper) error {
		out = mp.FindDefinitions(name, "")
		return nil
	}))
	return out
}

// ===== Lifecycle =====

func TestManager_NotInitialized(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	state, root := m.State()
	assert.Equal(t, StateUninitialized, state)
	assert.Empty(t, root)

	err := m.WithGraph(func(*Mapper) error { return nil })
	assert.ErrorIs(t, err, ErrNotInitialized)
	err = m.TryWithGraph(func(*Mapper) error { return nil })
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestManager_BuildAndNoopUpdate(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{
		"b.go": "package p\n\nfunc B() {}\n",
		"a.go": "package p\n\nfunc A() {\n\tB()\n}\n",
	})
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.EnsureGraphForPath(ctx, root))
	state, current := m.State()
	assert.Equal(t, StateReady, state)
	abs, _ := filepath.Abs(root)
	assert.Equal(t, abs, current)

	changes := m.LastChanges()
	assert.True(t, changes.Rebuilt)
	assert.Equal(t, []string{"a.go", "b.go"}, changes.Added)
	assert.Len(t, m.Snapshot(), 2)

	require.NoError(t, m.EnsureGraphForPath(ctx, root))
	assert.True(t, m.LastChanges().Empty())
	assert.Len(t, definitionsOf(t, m, "B"), 1)
}

func TestManager_DetectsChangesAndTombstones(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{
		"a.go": "package p\n\nfunc A() {}\n",
		"b.go": "package p\n\nfunc B() {}\n",
	})
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.EnsureGraphForPath(ctx, root))

	touch(t, root, "a.go", "package p\n\nfunc A() {}\n\nfunc A2() {}\n", time.Minute)
	writeFile(t, root, "c.go", "package p\n\nfunc C() {}\n")
	require.NoError(t, os.Remove(filepath.Join(root, "b.go")))

	require.NoError(t, m.EnsureGraphForPath(ctx, root))
	changes := m.LastChanges()
	assert.False(t, changes.Rebuilt)
	assert.Equal(t, []string{"c.go"}, changes.Added)
	assert.Equal(t, []string{"a.go"}, changes.Modified)
	assert.Equal(t, []string{"b.go"}, changes.Deleted)

	assert.Empty(t, definitionsOf(t, m, "B"))
	assert.Len(t, definitionsOf(t, m, "A2"), 1)
	assert.Len(t, definitionsOf(t, m, "C"), 1)

	snap := m.Snapshot()
	assert.NotContains(t, snap, "b.go")
	assert.Contains(t, snap, "c.go")

	state, _ := m.State()
	assert.Equal(t, StateReady, state)
}

func TestManager_NewRootRebuilds(t *testing.T) {
	t.Parallel()
	first := writeTree(t, map[string]string{"a.go": "package a\n\nfunc A() {}\n"})
	second := writeTree(t, map[string]string{"b.go": "package b\n\nfunc B() {}\n"})
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.EnsureGraphForPath(ctx, first))
	require.NoError(t, m.EnsureGraphForPath(ctx, second))

	assert.True(t, m.LastChanges().Rebuilt)
	assert.Empty(t, definitionsOf(t, m, "A"))
	assert.Len(t, definitionsOf(t, m, "B"), 1)
}

func TestManager_FailedBuildLeavesUninitialized(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	err := m.EnsureGraphForPath(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrIO)

	state, root := m.State()
	assert.Equal(t, StateUninitialized, state)
	assert.Empty(t, root)
	assert.ErrorIs(t, m.WithGraph(func(*Mapper) error { return nil }), ErrNotInitialized)
}

func TestManager_TryWithGraphWhileLocked(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{"a.go": "package a\n"})
	m := newTestManager(t)
	require.NoError(t, m.EnsureGraphForPath(context.Background(), root))

	m.mu.Lock()
	err := m.TryWithGraph(func(*Mapper) error { return nil })
	m.mu.Unlock()
	assert.ErrorIs(t, err, ErrLock)

	assert.NoError(t, m.TryWithGraph(func(*Mapper) error { return nil }))
}

func TestManager_Shutdown(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{"a.go": "package a\n"})
	m := NewManager()
	ctx := context.Background()
	require.NoError(t, m.EnsureGraphForPath(ctx, root))

	require.NoError(t, m.Shutdown())
	state, _ := m.State()
	assert.Equal(t, StateShutDown, state)
	assert.ErrorIs(t, m.WithGraph(func(*Mapper) error { return nil }), ErrNotInitialized)
	assert.ErrorIs(t, m.EnsureGraphForPath(ctx, root), ErrNotInitialized)

	assert.NoError(t, m.Shutdown())
}

func TestManager_StoreBacked(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Store.Enabled = true
	cfg.Store.Backend = "memory"
	root := writeTree(t, map[string]string{"a.go": "package a\n\nfunc A() {}\n"})
	m := newTestManager(t, WithManagerConfig(cfg))

	require.NoError(t, m.EnsureGraphForPath(context.Background(), root))
	require.NoError(t, m.WithGraph(func(mp *Mapper) error {
		st := mp.Stats()
		require.NotNil(t, st.Store)
		assert.Equal(t, 5000, st.Store.CacheCapacity)

		sym, ok, err := mp.Symbol("a.go::A")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, SymbolFunction, sym.Type)
		return nil
	}))
}

func TestGraphState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "updating", StateUpdating.String())
	assert.Equal(t, "shut_down", StateShutDown.String())
	assert.Equal(t, "unknown", GraphState(42).String())
}

// ===== Cross-project resolution =====

func TestManager_ResolvesAgainstRegistry(t *testing.T) {
	t.Parallel()
	reg := NewSupplementaryRegistry()
	require.NoError(t, reg.Add(SupplementarySymbolInfo{
		FQN:         "lib::User",
		Name:        "User",
		Type:        SymbolClass,
		ProjectName: "lib",
		FilePath:    "/deps/lib/models.py",
		StartLine:   1,
		EndLine:     3,
	}))

	root := writeTree(t, map[string]string{
		"app.py": "class ExtendedUser(User):\n    pass\n",
	})
	m := newTestManager(t, WithRegistry(reg))
	ctx := context.Background()
	require.NoError(t, m.EnsureGraphForPath(ctx, root))

	res := m.Resolutions()
	require.Len(t, res, 1)
	assert.Equal(t, "lib::User", res[0].TargetFQN)
	assert.Equal(t, "lib", res[0].ProjectName)
	assert.Equal(t, DetectExactName, res[0].DetectionMethod)
	assert.InDelta(t, 1.0, res[0].Confidence, 1e-9)
	assert.Equal(t, "app.py::ExtendedUser", res[0].Reference.SourceFQN)

	require.NoError(t, m.WithGraph(func(mp *Mapper) error {
		for _, u := range mp.Unresolved() {
			assert.NotEqual(t, "User", u.TargetName)
		}
		return nil
	}))

	touch(t, root, "app.py", "\nclass ExtendedUser(User):\n    pass\n", time.Minute)
	require.NoError(t, m.EnsureGraphForPath(ctx, root))
	res = m.Resolutions()
	require.Len(t, res, 1)
	assert.Equal(t, 2, res[0].Reference.Line)
}
