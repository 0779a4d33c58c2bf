// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

// Package archive turns (archive key, internal name) into a Bucket by
// extracting a container stream exactly once per key and caching the
// result, evicting whole archive entries (never individual files) under an
// LRU policy.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/zeebo/errs"

	"github.com/007pig/fred-sub004/bucket"
	"github.com/007pig/fred-sub004/fetchctx"
	"github.com/007pig/fred-sub004/metadata"
)

// Error is the error class for archive extraction failures.
var Error = errs.Class("archive")

// ErrLoopDetected is ARCHIVE_LOOP: the same key was seen twice on the
// descent through nested archives/redirects.
var ErrLoopDetected = Error.New("ARCHIVE_LOOP_DETECTED")

// RestartError is ArchiveRestartException: the archive bucket looked
// incomplete or the container was malformed in a way the caller can retry
// by refetching the underlying archive bucket.
type RestartError struct{ Cause error }

func (e *RestartError) Error() string { return Error.New("restart: %v", e.Cause).Error() }
func (e *RestartError) Unwrap() error { return e.Cause }

// FailureError is ArchiveFailureException: the restart budget is
// exhausted, or the container is malformed beyond any chance of recovery.
type FailureError struct{ Cause error }

func (e *FailureError) Error() string { return Error.New("failure: %v", e.Cause).Error() }
func (e *FailureError) Unwrap() error { return e.Cause }

// Entry is one record produced by a container's sequential scan.
type Entry struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// Reader yields a container's entries by forward-sequential scan only; no
// random access within the archive bucket is required or supported.
type Reader interface {
	// Next returns the next entry, or io.EOF once exhausted.
	Next() (Entry, error)
}

// OpenReader builds a Reader over raw for the given container kind.
func OpenReader(kind metadata.ArchiveKind, raw []byte) (Reader, error) {
	switch kind {
	case metadata.ArchiveZip:
		zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
		if err != nil {
			return nil, &RestartError{Cause: Error.Wrap(err)}
		}
		return &zipReader{files: zr.File}, nil
	case metadata.ArchiveTar:
		return &tarReader{tr: tar.NewReader(bytes.NewReader(raw))}, nil
	case metadata.ArchiveTarGz:
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, &RestartError{Cause: Error.Wrap(err)}
		}
		return &tarReader{tr: tar.NewReader(gr), gz: gr}, nil
	default:
		return nil, &FailureError{Cause: Error.New("unrecognized archive kind %d", kind)}
	}
}

type zipReader struct {
	files []*zip.File
	pos   int
}

func (r *zipReader) Next() (Entry, error) {
	for r.pos < len(r.files) {
		f := r.files[r.pos]
		r.pos++
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return Entry{}, &RestartError{Cause: Error.Wrap(err)}
		}
		return Entry{Name: f.Name, Size: int64(f.UncompressedSize64), Reader: rc}, nil
	}
	return Entry{}, io.EOF
}

type tarReader struct {
	tr *tar.Reader
	gz *gzip.Reader
}

func (r *tarReader) Next() (Entry, error) {
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return Entry{}, io.EOF
		}
		if err != nil {
			return Entry{}, &RestartError{Cause: Error.Wrap(err)}
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		return Entry{Name: hdr.Name, Size: hdr.Size, Reader: r.tr}, nil
	}
}

// entrySet is one archive's fully-extracted, ordered name→Bucket mapping.
type entrySet struct {
	names   []string
	buckets map[string]bucket.Bucket
	size    int64
	overflowed bool
}

func (s *entrySet) free() {
	for _, b := range s.buckets {
		_ = b.Free()
	}
}

// ExtractResult is delivered to a Manager.Get caller or callback.
type ExtractResult struct {
	Bucket bucket.Bucket
	Found  bool
}

// ExtractCallback fires exactly one of its three methods for any
// extraction.
type ExtractCallback interface {
	GotBucket(b bucket.Bucket)
	NotInArchive()
	OnFailed(err error)
}

// inflight tracks a single in-progress extraction so concurrent Get calls
// for the same key wait for it rather than racing a second extraction.
type inflight struct {
	done chan struct{}
	set  *entrySet
	err  error
}

// Manager is a content-addressed, LRU-evicted, archive-granularity cache in
// front of container extraction.
type Manager struct {
	mu           sync.Mutex
	maxTotalSize int64
	maxArchiveSize int64
	totalSize    int64
	order        []string // front = most recently used
	cache        map[string]*entrySet
	inflight     map[string]*inflight
	factory      bucket.Factory
}

// New constructs a Manager. maxTotalSize bounds the cache's aggregate
// extracted-byte footprint across all archives; maxArchiveSize bounds how
// much of any single archive's entries extraction will admit before it
// stops accepting new entries.
func New(maxTotalSize, maxArchiveSize int64, factory bucket.Factory) *Manager {
	return &Manager{
		maxTotalSize:   maxTotalSize,
		maxArchiveSize: maxArchiveSize,
		cache:          make(map[string]*entrySet),
		inflight:       make(map[string]*inflight),
		factory:        factory,
	}
}

// Get resolves (key, internalName) to a Bucket. key must be a stable string
// identifying the archive (its CHK/URI string form).
// The loop-detection check (archive_ctx.detect_loop) fires once, on entry;
// a later Get or GetWithRestart for the same key with the same actx fails
// with ErrLoopDetected. GetWithRestart runs the check once and retries a
// RestartError internally without repeating it.
func (m *Manager) Get(ctx context.Context, key, internalName string, actx *fetchctx.ArchiveContext, kind metadata.ArchiveKind, fetchArchive func(context.Context) ([]byte, error)) (ExtractResult, error) {
	if !actx.MarkVisited(key) {
		return ExtractResult{}, ErrLoopDetected
	}
	return m.lookup(ctx, key, internalName, kind, fetchArchive)
}

// GetWithRestart wraps Get with a restart policy: a RestartError retries
// (refetching the archive bucket) up to actx.ConsumeRestart's budget, then
// surfaces as a FailureError. Retries
// reuse the original descent's loop-detection marking rather than
// re-checking it, since a restart is not a new visit to key.
func (m *Manager) GetWithRestart(ctx context.Context, key, internalName string, actx *fetchctx.ArchiveContext, kind metadata.ArchiveKind, fetchArchive func(context.Context) ([]byte, error)) (ExtractResult, error) {
	if !actx.MarkVisited(key) {
		return ExtractResult{}, ErrLoopDetected
	}
	for {
		res, err := m.lookup(ctx, key, internalName, kind, fetchArchive)
		var restart *RestartError
		if err == nil || !errors.As(err, &restart) {
			return res, err
		}
		if !actx.ConsumeRestart() {
			return ExtractResult{}, &FailureError{Cause: restart.Cause}
		}
		m.mu.Lock()
		m.evictLocked(key)
		m.mu.Unlock()
	}
}

// LookupEntry resolves another internalName within a key already entered
// via Get/GetWithRestart earlier in the same descent, without re-running
// loop detection: looking up a second name inside an archive you are
// already inside is not a new visit.
func (m *Manager) LookupEntry(ctx context.Context, key, internalName string, kind metadata.ArchiveKind, fetchArchive func(context.Context) ([]byte, error)) (ExtractResult, error) {
	return m.lookup(ctx, key, internalName, kind, fetchArchive)
}

// lookup resolves key's entrySet (extracting or joining an in-progress
// extraction) and looks up internalName within it, without touching loop
// detection.
func (m *Manager) lookup(ctx context.Context, key, internalName string, kind metadata.ArchiveKind, fetchArchive func(context.Context) ([]byte, error)) (ExtractResult, error) {
	set, err := m.resolve(ctx, key, kind, fetchArchive, false)
	if err != nil {
		return ExtractResult{}, err
	}

	m.mu.Lock()
	b, ok := set.buckets[internalName]
	m.mu.Unlock()
	if !ok {
		return ExtractResult{Found: false}, nil
	}
	return ExtractResult{Bucket: b, Found: true}, nil
}

// ForceRefetch clears key's cache entry (if any) and re-extracts.
func (m *Manager) ForceRefetch(ctx context.Context, key string, kind metadata.ArchiveKind, fetchArchive func(context.Context) ([]byte, error)) error {
	_, err := m.resolve(ctx, key, kind, fetchArchive, true)
	return err
}

// resolve returns key's cached entrySet, extracting (or waiting for an
// in-progress extraction) as needed. The "at-most-one-extraction-per-key"
// invariant is enforced by m.inflight.
func (m *Manager) resolve(ctx context.Context, key string, kind metadata.ArchiveKind, fetchArchive func(context.Context) ([]byte, error), forceRefetch bool) (*entrySet, error) {
	m.mu.Lock()
	if forceRefetch {
		m.evictLocked(key)
	} else if set, ok := m.cache[key]; ok {
		m.touchLocked(key)
		m.mu.Unlock()
		return set, nil
	}
	if inf, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		<-inf.done
		if inf.err != nil {
			return nil, inf.err
		}
		return inf.set, nil
	}
	inf := &inflight{done: make(chan struct{})}
	m.inflight[key] = inf
	m.mu.Unlock()

	set, err := m.extract(ctx, kind, fetchArchive)

	m.mu.Lock()
	delete(m.inflight, key)
	if err == nil {
		m.admitLocked(key, set)
	}
	m.mu.Unlock()

	inf.set, inf.err = set, err
	close(inf.done)
	if err != nil {
		return nil, err
	}
	return set, nil
}

// extract runs extract_to_cache: fetches the archive bucket, parses the
// container via forward-sequential scan only, and buffers entries into
// Buckets until maxArchiveSize is exceeded.
func (m *Manager) extract(ctx context.Context, kind metadata.ArchiveKind, fetchArchive func(context.Context) ([]byte, error)) (*entrySet, error) {
	raw, err := fetchArchive(ctx)
	if err != nil {
		return nil, &RestartError{Cause: Error.Wrap(err)}
	}

	r, err := OpenReader(kind, raw)
	if err != nil {
		return nil, err
	}

	set := &entrySet{buckets: make(map[string]bucket.Bucket)}
	for {
		ent, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			set.free()
			return nil, err
		}
		if set.overflowed {
			continue // stop admitting further entries; skipped entries are not counted in set.size
		}
		if set.size+ent.Size > m.maxArchiveSize {
			set.overflowed = true
			continue
		}
		b, err := m.factory.New(ent.Size)
		if err != nil {
			set.free()
			return nil, &FailureError{Cause: Error.Wrap(err)}
		}
		data, err := io.ReadAll(ent.Reader)
		if err != nil {
			set.free()
			return nil, &RestartError{Cause: Error.Wrap(err)}
		}
		if err := bucket.WriteAll(b, data); err != nil {
			set.free()
			return nil, &FailureError{Cause: Error.Wrap(err)}
		}
		set.names = append(set.names, ent.Name)
		set.buckets[ent.Name] = b
		set.size += int64(len(data))
	}
	return set, nil
}

// admitLocked inserts set into the cache as the most-recently-used entry,
// evicting LRU entries (whole archives, never individual files) until the
// aggregate footprint fits within maxTotalSize. Must hold m.mu.
func (m *Manager) admitLocked(key string, set *entrySet) {
	m.cache[key] = set
	m.order = append([]string{key}, m.order...)
	m.totalSize += set.size

	for m.totalSize > m.maxTotalSize && len(m.order) > 1 {
		tail := m.order[len(m.order)-1]
		if tail == key {
			break // the entry just admitted is the only one left; keep it regardless of size
		}
		m.evictLocked(tail)
	}
}

// touchLocked moves key to the front of the LRU order. Must hold m.mu.
func (m *Manager) touchLocked(key string) {
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.order = append([]string{key}, m.order...)
}

// evictLocked drops key's cache entry entirely. Must hold m.mu.
func (m *Manager) evictLocked(key string) {
	if set, ok := m.cache[key]; ok {
		set.free()
		m.totalSize -= set.size
		delete(m.cache, key)
	}
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
