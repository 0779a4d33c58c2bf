// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

// Package fetchctx provides the immutable configuration bundles
// (FetchContext, InsertContext) and per-request mutable state
// (ArchiveContext) that parameterize a fetch or insert, plus the Go
// interfaces for collaborators this module treats as external: routing,
// transport, and the datastore live outside this package, so
// BlockFetcher/BlockInserter/EventSink stand in for them.
package fetchctx

import (
	"context"
	"sync"

	"github.com/007pig/fred-sub004/curi"
)

// FetchContext is immutable configuration for a fetch. Construct with New
// and derive variants with WithXxx-named overrides; there is no in-place
// mutation after construction.
type FetchContext struct {
	MaxOutputLen                  int64
	MaxTempLen                    int64
	MaxMetadataSize               int64
	MaxRecursionLevel             int
	MaxArchiveRestarts            int
	MaxArchiveLevels              int
	DontEnterImplicitArchives     bool
	MaxSplitfileWorkers           int
	MaxSplitfileBlockRetries      int
	MaxNonSplitRetries            int
	AllowSplitfiles               bool
	FollowRedirects                bool
	LocalOnly                      bool
	IgnoreStore                    bool
	MaxDataBlocksPerSegment        int
	MaxCheckBlocksPerSegment       int
	CacheLocalRequests             bool
	ReturnArchiveManifestsAsData   bool
	IgnoreTooManyPathComponents    bool
	UseDefaultDocument             bool // use entry "" when no meta-string remains
	EventSink                      EventSink
	AllowedMIMETypes               []string // nil means unrestricted
	PrefetchedBlocks                map[curi.ContentURI][]byte
}

// New returns the default FetchContext: generous limits, splitfiles and
// redirects allowed, no MIME restriction.
func New() FetchContext {
	return FetchContext{
		MaxOutputLen:             1 << 30,
		MaxTempLen:               1 << 30,
		MaxMetadataSize:          1 << 20,
		MaxRecursionLevel:        10,
		MaxArchiveRestarts:       3,
		MaxArchiveLevels:         4,
		MaxSplitfileWorkers:      8,
		MaxSplitfileBlockRetries: 3,
		MaxNonSplitRetries:       3,
		AllowSplitfiles:          true,
		FollowRedirects:          true,
		MaxDataBlocksPerSegment:  128,
		MaxCheckBlocksPerSegment: 64,
		CacheLocalRequests:       true,
		EventSink:                NopEventSink{},
	}
}

// WithSplitfileDefaultBlockMask returns the variant the splitfile engine
// uses for each individual per-block fetch: recursion level pinned to 1,
// archives and nested splitfiles disabled.
func (c FetchContext) WithSplitfileDefaultBlockMask() FetchContext {
	out := c
	out.MaxRecursionLevel = 1
	out.AllowSplitfiles = false
	out.DontEnterImplicitArchives = true
	return out
}

// WithReturnArchiveManifestsAsData returns a variant that surfaces an
// ArchiveManifest's own bytes instead of descending into it.
func (c FetchContext) WithReturnArchiveManifestsAsData() FetchContext {
	out := c
	out.ReturnArchiveManifestsAsData = true
	return out
}

// WithLocalOnly returns a variant restricted to already-cached/local data.
func (c FetchContext) WithLocalOnly() FetchContext {
	out := c
	out.LocalOnly = true
	return out
}

// WithEventSink returns a variant reporting to sink instead of the default.
func (c FetchContext) WithEventSink(sink EventSink) FetchContext {
	out := c
	out.EventSink = sink
	return out
}

// InsertContext is immutable configuration for an insert, modeled
// symmetrically to FetchContext.
type InsertContext struct {
	CompressPayload            bool
	SplitfileSegmentDataBlocks int
	SplitfileSegmentCheckBlocks int
	MaxSplitfileWorkers        int
	MaxMetadataSize            int64
	EventSink                  EventSink
}

// NewInsertContext returns the default InsertContext: GZIP compression on,
// segment sizes matching FetchContext's defaults.
func NewInsertContext() InsertContext {
	return InsertContext{
		CompressPayload:             true,
		SplitfileSegmentDataBlocks:  128,
		SplitfileSegmentCheckBlocks: 64,
		MaxSplitfileWorkers:         8,
		MaxMetadataSize:             1 << 20,
		EventSink:                   NopEventSink{},
	}
}

// WithEventSink returns a variant reporting to sink instead of the default.
func (c InsertContext) WithEventSink(sink EventSink) InsertContext {
	out := c
	out.EventSink = sink
	return out
}

// ArchiveContext is per-top-level-request mutable state threaded through a
// descending fetch: it tracks visited URIs (cycle detection) and the
// remaining archive-restart budget.
type ArchiveContext struct {
	mu               sync.Mutex
	visited          map[string]struct{}
	MaxArchiveLevels int
	restartsRemaining int
}

// NewArchiveContext constructs an ArchiveContext with the given restart
// budget, per FetchContext.MaxArchiveRestarts.
func NewArchiveContext(maxArchiveLevels, maxRestarts int) *ArchiveContext {
	return &ArchiveContext{
		visited:           make(map[string]struct{}),
		MaxArchiveLevels:  maxArchiveLevels,
		restartsRemaining: maxRestarts,
	}
}

// MarkVisited records uri as visited, returning false if it was already
// visited (cycle detected).
func (a *ArchiveContext) MarkVisited(uri string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.visited[uri]; ok {
		return false
	}
	a.visited[uri] = struct{}{}
	return true
}

// ConsumeRestart decrements the shared restart budget, returning false once
// exhausted.
func (a *ArchiveContext) ConsumeRestart() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.restartsRemaining <= 0 {
		return false
	}
	a.restartsRemaining--
	return true
}

// BlockFetcher is the out-of-scope routing/transport collaborator that
// resolves a single CHK/SSK to its stored bytes.
type BlockFetcher interface {
	FetchBlock(ctx context.Context, uri curi.ContentURI) ([]byte, error)
}

// BlockInserter is the out-of-scope routing/transport collaborator that
// stores a single block and returns its resulting CHK.
type BlockInserter interface {
	InsertBlock(ctx context.Context, data []byte) (curi.ContentURI, error)
}

// EventSink receives progress/diagnostic events from a fetch or insert; it
// is this module's hook for the metrics/observability layer that sits
// outside its scope.
type EventSink interface {
	OnEvent(name string, fields map[string]interface{})
}

// NopEventSink discards every event; it is the default.
type NopEventSink struct{}

// OnEvent implements EventSink.
func (NopEventSink) OnEvent(string, map[string]interface{}) {}

// MemoryPressureSource is the out-of-scope collaborator that notifies
// FECQueue (and any other subscriber) of low-memory/OOM conditions.
type MemoryPressureSource interface {
	Subscribe(onLowMemory, onOOM func())
}
