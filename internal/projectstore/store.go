// Package projectstore holds the mutable per-project file state that tools
// operate on.
//
// The store is externally owned from the turn loop's point of view: the loop
// only snapshots it into continuation state. Within one turn tool calls run
// strictly sequentially, so there is no intra-turn race. Concurrent turns
// against the same project id can race with each other; that is a known,
// accepted limitation rather than a guarantee this package tries to provide.
package projectstore

import (
	"github.com/emberworks/ember/internal/csync"
	"github.com/emberworks/ember/internal/pubsub"
)

// FileChange is published on every store mutation.
type FileChange struct {
	ProjectID string `json:"project_id"`
	Path      string `json:"path"`
}

// Store is the narrow interface tools and the turn loop see. It is also a
// [pubsub.Suscriber] for file change events.
type Store interface {
	pubsub.Suscriber[FileChange]

	Get(projectID, path string) (string, bool)
	Set(projectID, path, content string)
	Delete(projectID, path string)
	// Snapshot returns a copy of every path -> content entry for a project.
	Snapshot(projectID string) map[string]string
	// Restore replaces a project's entries with the given snapshot.
	Restore(projectID string, files map[string]string)
}

type memoryStore struct {
	*pubsub.Broker[FileChange]
	projects *csync.Map[string, *csync.Map[string, string]]
}

// NewMemoryStore returns an in-process [Store].
func NewMemoryStore() Store {
	return &memoryStore{
		Broker:   pubsub.NewBroker[FileChange](),
		projects: csync.NewMap[string, *csync.Map[string, string]](),
	}
}

func (s *memoryStore) project(projectID string) *csync.Map[string, string] {
	if files, ok := s.projects.Get(projectID); ok {
		return files
	}
	files := csync.NewMap[string, string]()
	s.projects.Set(projectID, files)
	return files
}

func (s *memoryStore) Get(projectID, path string) (string, bool) {
	files, ok := s.projects.Get(projectID)
	if !ok {
		return "", false
	}
	return files.Get(path)
}

func (s *memoryStore) Set(projectID, path, content string) {
	files := s.project(projectID)
	_, existed := files.Get(path)
	files.Set(path, content)

	eventType := pubsub.CreatedEvent
	if existed {
		eventType = pubsub.UpdatedEvent
	}
	s.Publish(eventType, FileChange{ProjectID: projectID, Path: path})
}

func (s *memoryStore) Delete(projectID, path string) {
	if files, ok := s.projects.Get(projectID); ok {
		files.Del(path)
		s.Publish(pubsub.DeletedEvent, FileChange{ProjectID: projectID, Path: path})
	}
}

func (s *memoryStore) Snapshot(projectID string) map[string]string {
	snapshot := make(map[string]string)
	if files, ok := s.projects.Get(projectID); ok {
		for path, content := range files.Seq2() {
			snapshot[path] = content
		}
	}
	return snapshot
}

func (s *memoryStore) Restore(projectID string, files map[string]string) {
	fresh := csync.NewMap[string, string]()
	for path, content := range files {
		fresh.Set(path, content)
	}
	s.projects.Set(projectID, fresh)
	for path := range files {
		s.Publish(pubsub.UpdatedEvent, FileChange{ProjectID: projectID, Path: path})
	}
}
