package xref

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_RequiresGraph(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	assert.ErrorIs(t, m.Watch(context.Background(), 0), ErrNotInitialized)
}

func TestWatch_AppliesChanges(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{"a.go": "package a\n\nfunc A() {}\n"})
	m := newTestManager(t)
	require.NoError(t, m.EnsureGraphForPath(context.Background(), root))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, 20*time.Millisecond) }()

	// The watcher registers asynchronously; rewrite until an event lands.
	assert.Eventually(t, func() bool {
		if len(definitionsOf(t, m, "B")) > 0 {
			return true
		}
		writeFile(t, root, "pkg/b.go", "package pkg\n\nfunc B() {}\n")
		return false
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_FollowsRootSwitch(t *testing.T) {
	t.Parallel()
	rootA := writeTree(t, map[string]string{"a.go": "package a\n\nfunc A() {}\n"})
	rootB := writeTree(t, map[string]string{"b.go": "package b\n\nfunc B() {}\n"})
	m := newTestManager(t)
	require.NoError(t, m.EnsureGraphForPath(context.Background(), rootA))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, 20*time.Millisecond) }()

	require.Eventually(t, func() bool {
		if len(definitionsOf(t, m, "Extra")) > 0 {
			return true
		}
		writeFile(t, rootA, "extra.go", "package a\n\nfunc Extra() {}\n")
		return false
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, m.EnsureGraphForPath(context.Background(), rootB))
	absB := m.Root()

	// Changes under the old root must not pull the graph back.
	for i := 0; i < 5; i++ {
		writeFile(t, rootA, "a.go", fmt.Sprintf("package a\n\nfunc A%d() {}\n", i))
		time.Sleep(60 * time.Millisecond)
	}
	assert.Equal(t, absB, m.Root())
	assert.Empty(t, definitionsOf(t, m, "Extra"))
	assert.NotEmpty(t, definitionsOf(t, m, "B"))

	// The watcher follows the new root.
	assert.Eventually(t, func() bool {
		if len(definitionsOf(t, m, "C")) > 0 {
			return true
		}
		writeFile(t, rootB, "c.go", "package b\n\nfunc C() {}\n")
		return false
	}, 10*time.Second, 100*time.Millisecond)
	assert.Equal(t, absB, m.Root())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_StopsOnShutdown(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{"a.go": "package a\n"})
	m := NewManager()
	require.NoError(t, m.EnsureGraphForPath(context.Background(), root))

	done := make(chan error, 1)
	go func() { done <- m.Watch(context.Background(), 0) }()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.Shutdown())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestRelevantEvent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ev   fsnotify.Event
		want bool
	}{
		{ev: fsnotify.Event{Name: "/r/a.go", Op: fsnotify.Write}, want: true},
		{ev: fsnotify.Event{Name: "/r/a.go", Op: fsnotify.Chmod}, want: false},
		{ev: fsnotify.Event{Name: "/r/notes.txt", Op: fsnotify.Write}, want: false},
		{ev: fsnotify.Event{Name: "/r/pkg", Op: fsnotify.Remove}, want: true},
		{ev: fsnotify.Event{Name: "/r/pkg", Op: fsnotify.Create}, want: true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, relevantEvent(tt.ev), tt.ev.String())
	}
}

func TestSkipDir(t *testing.T) {
	t.Parallel()
	assert.True(t, skipDir(".git"))
	assert.True(t, skipDir("node_modules"))
	assert.True(t, skipDir("__pycache__"))
	assert.False(t, skipDir("internal"))
}
