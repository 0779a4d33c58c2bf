// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

// Package metadata implements the data model and the binary parse/emit
// codec for the document-describing metadata blob.
package metadata

import (
	"github.com/007pig/fred-sub004/curi"
)

// Wire-format constants.
const (
	Magic   uint64 = 0xF053B2842D91482B
	Version uint16 = 0

	MaxInlineParamsLen  = 32768
	MaxBlocksPerSide    = 1_000_000
	MaxInlineSubEntry   = 32767
)

// Flag bits.
const (
	FlagSplitfile       uint16 = 1
	FlagDBR             uint16 = 2
	FlagNoMIME          uint16 = 4
	FlagCompressedMIME  uint16 = 8
	FlagExtraMetadata   uint16 = 16
	FlagFullKeys        uint16 = 32
	FlagSplitUseLengths uint16 = 64 // reserved, must be zero
	FlagCompressed      uint16 = 128
)

// DocType is the document_type wire field.
type DocType uint8

// Document types.
const (
	DocSimpleRedirect DocType = iota
	DocMultiLevelMetadata
	DocSimpleManifest
	DocArchiveManifest
	DocArchiveInternalRedirect
)

func (t DocType) String() string {
	switch t {
	case DocSimpleRedirect:
		return "SimpleRedirect"
	case DocMultiLevelMetadata:
		return "MultiLevelMetadata"
	case DocSimpleManifest:
		return "SimpleManifest"
	case DocArchiveManifest:
		return "ArchiveManifest"
	case DocArchiveInternalRedirect:
		return "ArchiveInternalRedirect"
	default:
		return "Unknown"
	}
}

// ArchiveKind enumerates the recognized container formats, each carrying a
// metadata_id used on the wire.
type ArchiveKind uint16

// Recognized archive kinds.
const (
	ArchiveZip    ArchiveKind = 0
	ArchiveTarGz  ArchiveKind = 1
	ArchiveTar    ArchiveKind = 2
)

func (k ArchiveKind) String() string {
	switch k {
	case ArchiveZip:
		return "ZIP"
	case ArchiveTarGz:
		return "TAR_GZ"
	case ArchiveTar:
		return "TAR"
	default:
		return "UNKNOWN"
	}
}

// GuessArchiveKindFromMIME guesses an ArchiveKind from a MIME type.
func GuessArchiveKindFromMIME(mime string) (ArchiveKind, bool) {
	switch mime {
	case "application/zip", "application/x-zip-compressed":
		return ArchiveZip, true
	case "application/x-gtar", "application/x-tar-gz", "application/gzip":
		return ArchiveTarGz, true
	case "application/x-tar":
		return ArchiveTar, true
	default:
		return 0, false
	}
}

func archiveKindByID(id uint16) (ArchiveKind, bool) {
	switch ArchiveKind(id) {
	case ArchiveZip, ArchiveTarGz, ArchiveTar:
		return ArchiveKind(id), true
	default:
		return 0, false
	}
}

// CompressionCodec identifies a compression algorithm by its metadata_id.
type CompressionCodec uint16

// CompressionGzip is the minimum required codec.
const CompressionGzip CompressionCodec = 0

// Compression records the codec and the exact decompressed length.
type Compression struct {
	Codec              CompressionCodec
	DecompressedLength int64
}

// ClientMetadata is common to every document variant.
type ClientMetadata struct {
	MIME    string
	HasMIME bool
}

// SplitfileAlgorithm identifies the segmentation/FEC scheme. Only
// AlgorithmOnionStandard is accepted; a "nonredundant" (no-FEC) splitfile is
// rejected.
type SplitfileAlgorithm uint16

// Splitfile algorithms.
const (
	AlgorithmNonRedundant  SplitfileAlgorithm = 0
	AlgorithmOnionStandard SplitfileAlgorithm = 1
)

// SegmentParams carries the two block-per-segment counts, serialized as an
// opaque byte string.
type SegmentParams struct {
	SegmentSize      uint32
	CheckSegmentSize uint32
}

// Splitfile is the FEC-protected-file descriptor.
type Splitfile struct {
	Algorithm   SplitfileAlgorithm
	DataKeys    []curi.ContentURI
	CheckKeys   []curi.ContentURI
	DataLength  int64
	Params      SegmentParams
	Compression *Compression
}

// SegmentCount returns ceil(len(DataKeys) / Params.SegmentSize), the number
// of segments the splitfile is carved into.
func (sf Splitfile) SegmentCount() int {
	if sf.Params.SegmentSize == 0 {
		return 0
	}
	k := len(sf.DataKeys)
	size := int(sf.Params.SegmentSize)
	return (k + size - 1) / size
}

// Target is either a single URI or an embedded Splitfile, the
// "target: URI | Splitfile" shape used by several document variants.
type Target struct {
	URI       *curi.ContentURI
	Splitfile *Splitfile
}

// TargetURI builds a Target wrapping a plain URI.
func TargetURI(u curi.ContentURI) Target { return Target{URI: &u} }

// TargetSplitfile builds a Target wrapping an embedded Splitfile.
func TargetSplitfile(sf Splitfile) Target { return Target{Splitfile: &sf} }

// IsSplitfile reports whether t wraps an embedded Splitfile rather than a
// single URI.
func (t Target) IsSplitfile() bool { return t.Splitfile != nil }

// ManifestEntry is one named child of a SimpleManifest, holding the fully
// resolved nested Metadata for that child (the wire format's "recursively
// nested metadata blob").
type ManifestEntry struct {
	Name string
	Body Metadata
}

// Metadata is the sum type over the five document variants.
type Metadata struct {
	Type   DocType
	Client ClientMetadata

	// SimpleRedirect, MultiLevelMetadata, ArchiveManifest.
	Target Target

	// ArchiveManifest only.
	ArchiveType ArchiveKind

	// SimpleManifest only, ordered.
	Entries []ManifestEntry

	// ArchiveInternalRedirect only.
	NameInArchive string
}

// SimpleRedirect builds a SimpleRedirect Metadata.
func SimpleRedirect(target curi.ContentURI, client ClientMetadata) Metadata {
	return Metadata{Type: DocSimpleRedirect, Client: client, Target: TargetURI(target)}
}

// MultiLevel builds a MultiLevelMetadata Metadata.
func MultiLevel(target Target, client ClientMetadata) Metadata {
	return Metadata{Type: DocMultiLevelMetadata, Client: client, Target: target}
}

// ArchiveManifestDoc builds an ArchiveManifest Metadata.
func ArchiveManifestDoc(target Target, kind ArchiveKind, client ClientMetadata) Metadata {
	return Metadata{Type: DocArchiveManifest, Client: client, Target: target, ArchiveType: kind}
}

// ArchiveInternalRedirectDoc builds an ArchiveInternalRedirect Metadata.
func ArchiveInternalRedirectDoc(name string, client ClientMetadata) Metadata {
	return Metadata{Type: DocArchiveInternalRedirect, Client: client, NameInArchive: name}
}

// SimpleManifestDoc builds a SimpleManifest Metadata from already-resolved
// entries, preserving order.
func SimpleManifestDoc(entries []ManifestEntry, client ClientMetadata) Metadata {
	return Metadata{Type: DocSimpleManifest, Client: client, Entries: entries}
}

// EntrySource is the tagged union a caller builds a manifest tree from
// before resolving it down to wire-ready Metadata: a leaf URI, a directory of
// further entries, or an already-built Metadata document.
type EntrySource interface{ isEntrySource() }

// FileEntry is a leaf entry pointing at a single URI.
type FileEntry struct{ Target curi.ContentURI }

// DirectoryEntry is an interior entry that becomes a nested SimpleManifest.
type DirectoryEntry struct{ Children map[string]EntrySource }

// PrebuiltEntry is an entry whose Metadata the caller has already built.
type PrebuiltEntry struct{ Metadata Metadata }

func (FileEntry) isEntrySource()      {}
func (DirectoryEntry) isEntrySource() {}
func (PrebuiltEntry) isEntrySource()  {}

// BuildManifest recursively turns a tree of EntrySource values into a
// SimpleManifest Metadata, in the order names are supplied.
func BuildManifest(order []string, children map[string]EntrySource) Metadata {
	entries := make([]ManifestEntry, 0, len(order))
	for _, name := range order {
		src := children[name]
		var body Metadata
		switch v := src.(type) {
		case FileEntry:
			body = SimpleRedirect(v.Target, ClientMetadata{})
		case DirectoryEntry:
			subOrder := make([]string, 0, len(v.Children))
			for k := range v.Children {
				subOrder = append(subOrder, k)
			}
			body = BuildManifest(subOrder, v.Children)
		case PrebuiltEntry:
			body = v.Metadata
		}
		entries = append(entries, ManifestEntry{Name: name, Body: body})
	}
	return SimpleManifestDoc(entries, ClientMetadata{})
}
