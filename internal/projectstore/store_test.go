package projectstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberworks/ember/internal/pubsub"
)

func TestSetGetDelete(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()

	s.Set("proj-1", "main.go", "package main")
	content, ok := s.Get("proj-1", "main.go")
	require.True(t, ok)
	assert.Equal(t, "package main", content)

	_, ok = s.Get("proj-2", "main.go")
	assert.False(t, ok, "projects are isolated")

	s.Delete("proj-1", "main.go")
	_, ok = s.Get("proj-1", "main.go")
	assert.False(t, ok)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	s.Set("proj-1", "a.go", "1")

	snapshot := s.Snapshot("proj-1")
	snapshot["a.go"] = "mutated"
	snapshot["b.go"] = "2"

	content, ok := s.Get("proj-1", "a.go")
	require.True(t, ok)
	assert.Equal(t, "1", content)
	_, ok = s.Get("proj-1", "b.go")
	assert.False(t, ok)
}

func TestRestoreReplacesProject(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	s.Set("proj-1", "old.go", "stale")

	s.Restore("proj-1", map[string]string{"new.go": "fresh"})

	_, ok := s.Get("proj-1", "old.go")
	assert.False(t, ok)
	content, ok := s.Get("proj-1", "new.go")
	require.True(t, ok)
	assert.Equal(t, "fresh", content)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := s.Subscribe(ctx)

	s.Set("proj-1", "a.go", "1")
	s.Set("proj-1", "a.go", "2")
	s.Delete("proj-1", "a.go")

	expect := []pubsub.EventType{pubsub.CreatedEvent, pubsub.UpdatedEvent, pubsub.DeletedEvent}
	for _, want := range expect {
		select {
		case ev := <-events:
			assert.Equal(t, want, ev.Type)
			assert.Equal(t, "proj-1", ev.Payload.ProjectID)
			assert.Equal(t, "a.go", ev.Payload.Path)
		case <-time.After(time.Second):
			t.Fatalf("no %s event received", want)
		}
	}
}
