// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

// Package fetch implements the top-level fetch/insert orchestration state
// machine: it drives a (URI, ArchiveContext, FetchContext, depth) descent
// through metadata documents, splitfiles, and archives down to terminal
// bytes, plus the symmetric insert path.
package fetch

import (
	"bytes"
	"context"
	"io"
	"strings"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/007pig/fred-sub004/archive"
	"github.com/007pig/fred-sub004/bucket"
	"github.com/007pig/fred-sub004/curi"
	"github.com/007pig/fred-sub004/fecqueue"
	"github.com/007pig/fred-sub004/fetchctx"
	"github.com/007pig/fred-sub004/metadata"
	"github.com/007pig/fred-sub004/splitfile"
)

var mon = monkit.Package()

// Fetcher drives fetches, wiring together the collaborator packages:
// BlockFetcher for individual blocks, fecqueue for FEC decode jobs,
// archive.Manager for container extraction.
type Fetcher struct {
	log      *zap.Logger
	fetcher  fetchctx.BlockFetcher
	queue    *fecqueue.Queue
	factory  bucket.Factory
	archives *archive.Manager
}

// New constructs a Fetcher. log defaults to zap.NewNop() if nil.
func New(fetcher fetchctx.BlockFetcher, queue *fecqueue.Queue, factory bucket.Factory, archives *archive.Manager, log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{log: log, fetcher: fetcher, queue: queue, factory: factory, archives: archives}
}

// descent carries the per-request mutable/derived state threaded through a
// single Fetch call's recursion: the (URI, ArchiveContext, FetchContext,
// depth) state machine.
type descent struct {
	actx         *fetchctx.ArchiveContext
	fctx         fetchctx.FetchContext
	depth        int
	archiveLevel int

	// Set while resolving names inside an archive, so a later
	// ArchiveInternalRedirect document (reached via a SimpleManifest entry
	// or an archive's own .metadata) knows which extraction to query.
	archiveKey       string
	archiveKind      metadata.ArchiveKind
	fetchArchiveFunc func(context.Context) ([]byte, error)
}

func (d descent) descended() descent {
	out := d
	out.depth++
	return out
}

// Fetch resolves uri down to its terminal bytes, writing them to sink.
func (f *Fetcher) Fetch(ctx context.Context, uri curi.ContentURI, fctx fetchctx.FetchContext, sink io.Writer) (err error) {
	defer mon.Task()(&ctx)(&err)

	d := descent{
		actx: fetchctx.NewArchiveContext(fctx.MaxArchiveLevels, fctx.MaxArchiveRestarts),
		fctx: fctx,
	}
	return f.fetchURI(ctx, uri, d, sink)
}

func (f *Fetcher) fetchURI(ctx context.Context, uri curi.ContentURI, d descent, sink io.Writer) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	if d.depth > d.fctx.MaxRecursionLevel {
		return ErrRecursionTooDeep
	}

	data, err := f.fetchBlockWithRetry(ctx, uri, d.fctx.MaxNonSplitRetries)
	if err != nil {
		return Error.Wrap(err)
	}

	if m, perr := metadata.Parse(data); perr == nil {
		d.fctx.EventSink.OnEvent("MetadataParsed", map[string]interface{}{"type": m.Type.String()})
		return f.fetchMetadata(ctx, m, uri, d, sink)
	}

	if len(uri.MetaStrings) > 0 && !d.fctx.IgnoreTooManyPathComponents {
		return ErrTooManyPathComponents
	}
	return f.deliver(data, d.fctx, sink)
}

// resolveArchiveBytes delivers data fetched from within an archive,
// descending into it as another metadata document when it parses as one
// (an archive entry may itself be a redirect or manifest), or else
// delivering it as terminal bytes.
func (f *Fetcher) resolveArchiveBytes(ctx context.Context, data []byte, uri curi.ContentURI, d descent, sink io.Writer) error {
	if m, err := metadata.Parse(data); err == nil {
		return f.fetchMetadata(ctx, m, uri, d, sink)
	}
	return f.deliver(data, d.fctx, sink)
}

// fetchMetadata dispatches on m.Type. uri is the URI whose block produced m,
// possibly still carrying unconsumed meta-strings.
func (f *Fetcher) fetchMetadata(ctx context.Context, m metadata.Metadata, uri curi.ContentURI, d descent, sink io.Writer) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	if m.Client.HasMIME && !mimeAllowed(m.Client.MIME, d.fctx.AllowedMIMETypes) {
		return ErrUnsafeContentType
	}

	switch m.Type {
	case metadata.DocSimpleRedirect:
		return f.fetchSimpleRedirect(ctx, m, d, sink)
	case metadata.DocMultiLevelMetadata:
		return f.fetchMultiLevel(ctx, m, uri, d, sink)
	case metadata.DocSimpleManifest:
		return f.fetchSimpleManifest(ctx, m, uri, d, sink)
	case metadata.DocArchiveManifest:
		return f.fetchArchiveManifest(ctx, m, uri, d, sink)
	case metadata.DocArchiveInternalRedirect:
		return f.fetchArchiveInternalRedirect(ctx, m, uri, d, sink)
	default:
		return Error.New("unrecognized document type %d", m.Type)
	}
}

func (f *Fetcher) fetchSimpleRedirect(ctx context.Context, m metadata.Metadata, d descent, sink io.Writer) error {
	if !d.fctx.FollowRedirects {
		return ErrRedirectsDisabled
	}
	return f.fetchTarget(ctx, m.Target, d.descended(), sink)
}

// fetchMultiLevel does not consume a meta-string or count against
// max_archive_levels; it re-parses the fetched inner bucket as another
// Metadata document and continues at the same depth.
func (f *Fetcher) fetchMultiLevel(ctx context.Context, m metadata.Metadata, uri curi.ContentURI, d descent, sink io.Writer) error {
	data, err := f.fetchTargetBytes(ctx, m.Target, d)
	if err != nil {
		return err
	}
	inner, err := metadata.Parse(data)
	if err != nil {
		return Error.Wrap(err)
	}
	return f.fetchMetadata(ctx, inner, uri, d, sink)
}

func (f *Fetcher) fetchSimpleManifest(ctx context.Context, m metadata.Metadata, uri curi.ContentURI, d descent, sink io.Writer) error {
	rest, name, ok := uri.PopMetaString()
	if !ok {
		if d.fctx.UseDefaultDocument {
			if e, found := findEntry(m.Entries, ""); found {
				return f.fetchMetadata(ctx, e.Body, rest, d.descended(), sink)
			}
		}
		return ErrNotEnoughMetaStrings
	}
	e, found := findEntry(m.Entries, name)
	if !found {
		return ErrEntryNotFound
	}
	return f.fetchMetadata(ctx, e.Body, rest, d.descended(), sink)
}

func (f *Fetcher) fetchArchiveManifest(ctx context.Context, m metadata.Metadata, uri curi.ContentURI, d descent, sink io.Writer) error {
	if d.fctx.ReturnArchiveManifestsAsData {
		blob, err := metadata.Emit(m)
		if err != nil {
			return Error.Wrap(err)
		}
		return f.deliver(blob, d.fctx, sink)
	}
	if d.archiveLevel+1 > d.fctx.MaxArchiveLevels {
		return ErrRecursionTooDeep
	}

	key := targetKey(m.Target, uri)
	target := m.Target
	fetchArchive := func(ctx context.Context) ([]byte, error) {
		return f.fetchTargetBytes(ctx, target, d)
	}

	next := d
	next.archiveLevel++
	next.archiveKey = key
	next.archiveKind = m.ArchiveType
	next.fetchArchiveFunc = fetchArchive

	res, err := f.archives.GetWithRestart(ctx, key, ".metadata", d.actx, m.ArchiveType, fetchArchive)
	if err != nil {
		return archiveErr(err)
	}
	d.fctx.EventSink.OnEvent("ArchiveExtracted", map[string]interface{}{"key": key})

	if res.Found {
		data, err := bucket.ReadAll(res.Bucket)
		if err != nil {
			return Error.Wrap(err)
		}
		inner, err := metadata.Parse(data)
		if err != nil {
			return &archive.FailureError{Cause: Error.Wrap(err)}
		}
		return f.fetchMetadata(ctx, inner, uri, next.descended(), sink)
	}

	if d.fctx.DontEnterImplicitArchives {
		return ErrEntryNotFound
	}
	if len(uri.MetaStrings) == 0 {
		return ErrEntryNotFound
	}
	name := strings.Join(uri.MetaStrings, "/")
	res2, err := f.archives.LookupEntry(ctx, key, name, m.ArchiveType, fetchArchive)
	if err != nil {
		return archiveErr(err)
	}
	if !res2.Found {
		return ErrEntryNotFound
	}
	data, err := bucket.ReadAll(res2.Bucket)
	if err != nil {
		return Error.Wrap(err)
	}
	return f.resolveArchiveBytes(ctx, data, uri, next.descended(), sink)
}

func (f *Fetcher) fetchArchiveInternalRedirect(ctx context.Context, m metadata.Metadata, uri curi.ContentURI, d descent, sink io.Writer) error {
	if d.archiveKey == "" {
		return ErrNoEnclosingArchive
	}
	res, err := f.archives.LookupEntry(ctx, d.archiveKey, m.NameInArchive, d.archiveKind, d.fetchArchiveFunc)
	if err != nil {
		return archiveErr(err)
	}
	if !res.Found {
		return ErrEntryNotFound
	}
	data, err := bucket.ReadAll(res.Bucket)
	if err != nil {
		return Error.Wrap(err)
	}
	return f.resolveArchiveBytes(ctx, data, uri, d, sink)
}

// fetchTarget streams t's bytes directly to sink: a single block (another
// fetchURI descent) or a splitfile.
func (f *Fetcher) fetchTarget(ctx context.Context, t metadata.Target, d descent, sink io.Writer) error {
	if t.IsSplitfile() {
		if !d.fctx.AllowSplitfiles {
			return ErrSplitfilesDisabled
		}
		if err := splitfile.Fetch(ctx, *t.Splitfile, d.fctx, f.fetcher, f.queue, f.factory, sink); err != nil {
			return Error.Wrap(err)
		}
		d.fctx.EventSink.OnEvent("SplitfileCompleted", nil)
		return nil
	}
	return f.fetchURI(ctx, *t.URI, d, sink)
}

// fetchTargetBytes is fetchTarget's in-memory counterpart, used where the
// caller needs t's bytes to parse as a nested document rather than stream
// to the final sink (MultiLevelMetadata's inner bucket, an archive's
// container bytes).
func (f *Fetcher) fetchTargetBytes(ctx context.Context, t metadata.Target, d descent) ([]byte, error) {
	if t.IsSplitfile() {
		if !d.fctx.AllowSplitfiles {
			return nil, ErrSplitfilesDisabled
		}
		var buf bytes.Buffer
		if err := splitfile.Fetch(ctx, *t.Splitfile, d.fctx, f.fetcher, f.queue, f.factory, &buf); err != nil {
			return nil, Error.Wrap(err)
		}
		return buf.Bytes(), nil
	}
	return f.fetchBlockWithRetry(ctx, *t.URI, d.fctx.MaxNonSplitRetries)
}

func (f *Fetcher) fetchBlockWithRetry(ctx context.Context, uri curi.ContentURI, maxRetries int) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		data, err := f.fetcher.FetchBlock(ctx, uri)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// deliver writes data to sink once it has passed the FetchContext's output
// cap, the last gate before bytes leave this subsystem.
func (f *Fetcher) deliver(data []byte, fctx fetchctx.FetchContext, sink io.Writer) error {
	if int64(len(data)) > fctx.MaxOutputLen {
		return splitfile.ErrTooBig
	}
	_, err := sink.Write(data)
	if err != nil {
		return Error.Wrap(err)
	}
	fctx.EventSink.OnEvent("FetchCompleted", map[string]interface{}{"bytes": len(data)})
	return nil
}

func findEntry(entries []metadata.ManifestEntry, name string) (metadata.ManifestEntry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return metadata.ManifestEntry{}, false
}

func mimeAllowed(mime string, allowed []string) bool {
	if allowed == nil {
		return true
	}
	for _, a := range allowed {
		if a == mime {
			return true
		}
	}
	return false
}

// targetKey derives a stable cache/loop-detection key for an archive
// container: the container's own URI string when it has one, or else a
// key derived from the enclosing document's URI plus the splitfile's
// first data key, for the (rarer) case of an archive embedded directly as
// a splitfile with no wrapping URI of its own.
func targetKey(t metadata.Target, enclosing curi.ContentURI) string {
	if t.URI != nil {
		return t.URI.String()
	}
	if t.Splitfile != nil && len(t.Splitfile.DataKeys) > 0 {
		return enclosing.String() + "#" + t.Splitfile.DataKeys[0].String()
	}
	return enclosing.String()
}

// archiveErr maps archive package error types onto this package's taxonomy.
func archiveErr(err error) error {
	switch {
	case err == archive.ErrLoopDetected:
		return ErrArchiveLoop
	default:
		if _, ok := err.(*archive.FailureError); ok {
			return ErrArchiveFailure
		}
		return Error.Wrap(err)
	}
}
