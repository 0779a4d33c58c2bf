// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package fetch

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"reflect"

	"go.uber.org/zap"

	"github.com/007pig/fred-sub004/bucket"
	"github.com/007pig/fred-sub004/curi"
	"github.com/007pig/fred-sub004/fecqueue"
	"github.com/007pig/fred-sub004/fetchctx"
	"github.com/007pig/fred-sub004/metadata"
	"github.com/007pig/fred-sub004/splitfile"
)

// Inserter is the symmetric counterpart to Fetcher: it turns payloads,
// manifests, and archive contents into stored documents.
type Inserter struct {
	log      *zap.Logger
	inserter fetchctx.BlockInserter
	queue    *fecqueue.Queue
	factory  bucket.Factory
}

// NewInserter constructs an Inserter. log defaults to zap.NewNop() if nil.
func NewInserter(inserter fetchctx.BlockInserter, queue *fecqueue.Queue, factory bucket.Factory, log *zap.Logger) *Inserter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Inserter{log: log, inserter: inserter, queue: queue, factory: factory}
}

// InsertData stores payload as a single-level document: one block or a
// splitfile depending on size, wrapped in a SimpleRedirect carrying mime.
func (ins *Inserter) InsertData(ctx context.Context, payload []byte, mime string, ic fetchctx.InsertContext) (uri curi.ContentURI, err error) {
	defer mon.Task()(&ctx)(&err)

	client := metadata.ClientMetadata{}
	if mime != "" {
		client.MIME = mime
		client.HasMIME = true
	}

	target, err := ins.storeBytes(ctx, payload, ic)
	if err != nil {
		return curi.ContentURI{}, err
	}

	doc := metadata.Metadata{Type: metadata.DocSimpleRedirect, Client: client, Target: target}
	blob, err := metadata.Emit(doc)
	if err != nil {
		return curi.ContentURI{}, Error.Wrap(err)
	}
	out, err := ins.insertBlob(ctx, blob, ic)
	if err != nil {
		return curi.ContentURI{}, err
	}
	ic.EventSink.OnEvent("DataInserted", map[string]interface{}{"bytes": len(payload)})
	return out, nil
}

// InsertManifest builds and stores a directory tree of entries, resolving
// any sub-entry that serializes too large to inline by inserting it as its
// own document and substituting a SimpleRedirect placeholder, per
// metadata.UnresolvedError's contract.
func (ins *Inserter) InsertManifest(ctx context.Context, order []string, children map[string]metadata.EntrySource, ic fetchctx.InsertContext) (uri curi.ContentURI, err error) {
	defer mon.Task()(&ctx)(&err)

	root := metadata.BuildManifest(order, children)
	blob, err := ins.emitResolved(ctx, root, ic)
	if err != nil {
		return curi.ContentURI{}, err
	}
	out, err := ins.insertBlob(ctx, blob, ic)
	if err != nil {
		return curi.ContentURI{}, err
	}
	ic.EventSink.OnEvent("ManifestInserted", map[string]interface{}{"entries": len(order)})
	return out, nil
}

// ArchiveFileEntry is one file to pack into an archive container built by
// InsertArchive.
type ArchiveFileEntry struct {
	Name string
	Data []byte
}

// InsertArchive packs files into a real container of the given kind
// (archive/zip, archive/tar, compress/gzip) and stores it as an
// ArchiveManifest document.
func (ins *Inserter) InsertArchive(ctx context.Context, kind metadata.ArchiveKind, files []ArchiveFileEntry, ic fetchctx.InsertContext) (uri curi.ContentURI, err error) {
	defer mon.Task()(&ctx)(&err)

	raw, err := buildContainer(kind, files)
	if err != nil {
		return curi.ContentURI{}, err
	}

	target, err := ins.storeBytes(ctx, raw, ic)
	if err != nil {
		return curi.ContentURI{}, err
	}

	doc := metadata.ArchiveManifestDoc(target, kind, metadata.ClientMetadata{})
	blob, err := metadata.Emit(doc)
	if err != nil {
		return curi.ContentURI{}, Error.Wrap(err)
	}
	out, err := ins.insertBlob(ctx, blob, ic)
	if err != nil {
		return curi.ContentURI{}, err
	}
	ic.EventSink.OnEvent("ArchiveInserted", map[string]interface{}{"files": len(files)})
	return out, nil
}

// emitResolved emits m, resolving every UnresolvedError round by inserting
// each pending sub-Metadata as its own document and substituting a
// SimpleRedirect in its place, until Emit succeeds.
func (ins *Inserter) emitResolved(ctx context.Context, m metadata.Metadata, ic fetchctx.InsertContext) ([]byte, error) {
	for {
		blob, err := metadata.Emit(m)
		if err == nil {
			return blob, nil
		}
		unresolved, ok := metadata.AsUnresolved(err)
		if !ok {
			return nil, Error.Wrap(err)
		}
		for _, pending := range unresolved.Pending {
			resolvedURI, rerr := ins.resolveToURI(ctx, pending, ic)
			if rerr != nil {
				return nil, rerr
			}
			replacement := metadata.SimpleRedirect(resolvedURI, metadata.ClientMetadata{})
			if !replacePending(&m, pending, replacement) {
				return nil, Error.New("could not locate pending manifest entry to resolve")
			}
		}
	}
}

// resolveToURI fully resolves body (recursively, if it is itself an
// oversized manifest) and inserts it as its own document, returning the
// URI a SimpleRedirect should target.
func (ins *Inserter) resolveToURI(ctx context.Context, body metadata.Metadata, ic fetchctx.InsertContext) (curi.ContentURI, error) {
	blob, err := ins.emitResolved(ctx, body, ic)
	if err != nil {
		return curi.ContentURI{}, err
	}
	return ins.insertBlob(ctx, blob, ic)
}

// storeBytes inserts data as a single block, or as a splitfile when it
// exceeds one block, returning the corresponding Target.
func (ins *Inserter) storeBytes(ctx context.Context, data []byte, ic fetchctx.InsertContext) (metadata.Target, error) {
	if int64(len(data)) <= splitfile.DefaultBlockLen {
		u, err := ins.inserter.InsertBlock(ctx, data)
		if err != nil {
			return metadata.Target{}, Error.Wrap(err)
		}
		return metadata.TargetURI(u), nil
	}
	sf, err := splitfile.Insert(ctx, data, ic, ins.inserter, ins.queue, ins.factory)
	if err != nil {
		return metadata.Target{}, Error.Wrap(err)
	}
	return metadata.TargetSplitfile(sf), nil
}

// insertBlob stores an already-serialized document blob as a single block,
// indirecting through a thin wrapper block when the blob itself is too
// large for one block.
func (ins *Inserter) insertBlob(ctx context.Context, blob []byte, ic fetchctx.InsertContext) (curi.ContentURI, error) {
	if int64(len(blob)) <= splitfile.DefaultBlockLen {
		u, err := ins.inserter.InsertBlock(ctx, blob)
		if err != nil {
			return curi.ContentURI{}, Error.Wrap(err)
		}
		return u, nil
	}

	sf, err := splitfile.Insert(ctx, blob, ic, ins.inserter, ins.queue, ins.factory)
	if err != nil {
		return curi.ContentURI{}, Error.Wrap(err)
	}
	wrapper := metadata.Metadata{Type: metadata.DocSimpleRedirect, Target: metadata.TargetSplitfile(sf)}
	wrapperBlob, err := metadata.Emit(wrapper)
	if err != nil {
		return curi.ContentURI{}, Error.Wrap(err)
	}
	u, err := ins.inserter.InsertBlock(ctx, wrapperBlob)
	if err != nil {
		return curi.ContentURI{}, Error.Wrap(err)
	}
	return u, nil
}

// replacePending finds the first SimpleManifest entry within m whose Body
// deep-equals target and overwrites it with replacement, matching the
// depth-first order metadata.Emit itself walks entries in.
func replacePending(m *metadata.Metadata, target, replacement metadata.Metadata) bool {
	for i := range m.Entries {
		if reflect.DeepEqual(m.Entries[i].Body, target) {
			m.Entries[i].Body = replacement
			return true
		}
		if replacePending(&m.Entries[i].Body, target, replacement) {
			return true
		}
	}
	return false
}

func buildContainer(kind metadata.ArchiveKind, files []ArchiveFileEntry) ([]byte, error) {
	switch kind {
	case metadata.ArchiveZip:
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		for _, f := range files {
			w, err := zw.Create(f.Name)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			if _, err := w.Write(f.Data); err != nil {
				return nil, Error.Wrap(err)
			}
		}
		if err := zw.Close(); err != nil {
			return nil, Error.Wrap(err)
		}
		return buf.Bytes(), nil

	case metadata.ArchiveTar, metadata.ArchiveTarGz:
		var buf bytes.Buffer
		var w io.Writer = &buf
		var gz *gzip.Writer
		if kind == metadata.ArchiveTarGz {
			gz = gzip.NewWriter(&buf)
			w = gz
		}
		tw := tar.NewWriter(w)
		for _, f := range files {
			if err := tw.WriteHeader(&tar.Header{Name: f.Name, Size: int64(len(f.Data)), Mode: 0o644}); err != nil {
				return nil, Error.Wrap(err)
			}
			if _, err := tw.Write(f.Data); err != nil {
				return nil, Error.Wrap(err)
			}
		}
		if err := tw.Close(); err != nil {
			return nil, Error.Wrap(err)
		}
		if gz != nil {
			if err := gz.Close(); err != nil {
				return nil, Error.Wrap(err)
			}
		}
		return buf.Bytes(), nil

	default:
		return nil, Error.New("unsupported archive kind %s", kind)
	}
}
