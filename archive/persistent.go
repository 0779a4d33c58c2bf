// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package archive

import (
	"context"
	"sync"

	"github.com/007pig/fred-sub004/fecqueue"
	"github.com/007pig/fred-sub004/fetchctx"
	"github.com/007pig/fred-sub004/metadata"
)

// TagStore durably records an in-progress persistent extraction so that a
// crashed process retries it on restart.
type TagStore interface {
	Put(key, internalName string) error
	Delete(key, internalName string) error
}

// MemoryTagStore is a non-durable TagStore, sufficient where the caller has
// no durable-storage requirement (e.g. the reference CLI).
type MemoryTagStore struct {
	mu   sync.Mutex
	tags map[string]struct{}
}

// NewMemoryTagStore constructs an empty MemoryTagStore.
func NewMemoryTagStore() *MemoryTagStore {
	return &MemoryTagStore{tags: make(map[string]struct{})}
}

func (s *MemoryTagStore) Put(key, internalName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tags == nil {
		s.tags = make(map[string]struct{})
	}
	s.tags[key+"\x00"+internalName] = struct{}{}
	return nil
}

func (s *MemoryTagStore) Delete(key, internalName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, key+"\x00"+internalName)
	return nil
}

// extractPriority is the persistent-runner lane off-thread extraction
// callbacks are delivered on; archive work is not otherwise priority
// differentiated.
const extractPriority fecqueue.Priority = 3

// ExtractPersistentOffThread writes a durable tag record, runs the
// extraction on a worker goroutine, then hops onto runner (the
// persistent-jobs runner) to deliver cb with exclusive access to persistent
// state and delete the tag.
func (m *Manager) ExtractPersistentOffThread(ctx context.Context, tags TagStore, runner *fecqueue.Runner, key, internalName string, actx *fetchctx.ArchiveContext, kind metadata.ArchiveKind, fetchArchive func(context.Context) ([]byte, error), cb ExtractCallback) {
	if err := tags.Put(key, internalName); err != nil {
		cb.OnFailed(Error.Wrap(err))
		return
	}

	go func() {
		res, err := m.GetWithRestart(ctx, key, internalName, actx, kind, fetchArchive)

		runner.Submit(extractPriority, false, func() {
			defer func() { _ = tags.Delete(key, internalName) }()
			switch {
			case err != nil:
				cb.OnFailed(err)
			case !res.Found:
				cb.NotInArchive()
			default:
				cb.GotBucket(res.Bucket)
			}
		})
	}()
}
