// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/007pig/fred-sub004/curi"
	"github.com/007pig/fred-sub004/metadata"
)

func chk(seed byte) curi.ContentURI {
	var routing, crypto [32]byte
	routing[0], crypto[0] = seed, seed+1
	return curi.NewCHK(routing, crypto, curi.CryptoParams{Algorithm: 2, Extra: []byte{0, 0, 0, 0}})
}

// S1: magic check.
func TestParseBadMagic(t *testing.T) {
	_, err := metadata.Parse([]byte{0x00, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid magic")
}

// S2: too-many-blocks.
func TestParseTooManySplitfileBlocks(t *testing.T) {
	m := metadata.ArchiveManifestDoc(
		metadata.TargetSplitfile(metadata.Splitfile{
			Algorithm: metadata.AlgorithmOnionStandard,
			DataKeys:  make([]curi.ContentURI, 0),
			CheckKeys: make([]curi.ContentURI, 0),
			Params:    metadata.SegmentParams{SegmentSize: 128, CheckSegmentSize: 64},
		}),
		metadata.ArchiveZip,
		metadata.ClientMetadata{},
	)
	blob, err := metadata.Emit(m)
	require.NoError(t, err)

	// Splice in an oversized block_count field directly: emit() writes
	// algorithm(2) + params_len(4) + params(8) + block_count(4) ...
	offset := findBlockCountOffset(blob)
	require.GreaterOrEqual(t, offset, 0)
	blob[offset+0] = 0x00
	blob[offset+1] = 0x98
	blob[offset+2] = 0x96
	blob[offset+3] = 0x81 // 10,000,001

	_, err = metadata.Parse(blob)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Too many splitfile blocks")
}

func findBlockCountOffset(blob []byte) int {
	// magic(8)+version(2)+type(1)+flags(2)+archive_type(2)+data_length(8) = 23
	// then algorithm(2)+params_len(4)+params(8) = 14 -> block_count at 23+14=37
	return 37
}

// S3: emit/parse round-trip.
func TestEmitParseSimpleRedirectFullKeysCompressedMIME(t *testing.T) {
	target := chk(9).WithMetaString("foo").WithMetaString("bar")
	m := metadata.SimpleRedirect(target, metadata.ClientMetadata{MIME: "text/html", HasMIME: true})

	blob, err := metadata.Emit(m)
	require.NoError(t, err)

	require.Equal(t, metadata.Magic, beU64(blob[0:8]))
	require.Equal(t, uint16(0), beU16(blob[8:10]))
	require.Equal(t, uint8(0), blob[10])
	flags := beU16(blob[11:13])
	assert.Equal(t, metadata.FlagFullKeys|metadata.FlagCompressedMIME, flags)

	got, err := metadata.Parse(blob)
	require.NoError(t, err)
	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.Client, got.Client)
	require.NotNil(t, got.Target.URI)
	assert.Equal(t, target.MetaStrings, got.Target.URI.MetaStrings)
	assert.Equal(t, target.RoutingKey, got.Target.URI.RoutingKey)
}

func beU64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func beU16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// Property 1: parse(emit(m)) == m for well-formed Metadata.
func TestRoundTripProperty(t *testing.T) {
	cases := []metadata.Metadata{
		metadata.SimpleRedirect(chk(1), metadata.ClientMetadata{MIME: "application/json", HasMIME: true}),
		metadata.ArchiveInternalRedirectDoc("index.html", metadata.ClientMetadata{MIME: "text/html", HasMIME: true}),
		metadata.ArchiveManifestDoc(metadata.TargetURI(chk(2)), metadata.ArchiveZip, metadata.ClientMetadata{}),
		metadata.MultiLevel(metadata.TargetURI(chk(3)), metadata.ClientMetadata{}),
	}
	for i, m := range cases {
		blob, err := metadata.Emit(m)
		require.NoError(t, err, "case %d", i)
		got, err := metadata.Parse(blob)
		require.NoError(t, err, "case %d", i)
		assert.Equal(t, m.Type, got.Type, "case %d", i)
		assert.Equal(t, m.Client, got.Client, "case %d", i)
	}
}

func TestSimpleManifestRoundTrip(t *testing.T) {
	entries := []metadata.ManifestEntry{
		{Name: "index.html", Body: metadata.SimpleRedirect(chk(4), metadata.ClientMetadata{MIME: "text/html", HasMIME: true})},
		{Name: "style.css", Body: metadata.SimpleRedirect(chk(5), metadata.ClientMetadata{MIME: "text/css", HasMIME: true})},
	}
	m := metadata.SimpleManifestDoc(entries, metadata.ClientMetadata{})

	blob, err := metadata.Emit(m)
	require.NoError(t, err)

	got, err := metadata.Parse(blob)
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "index.html", got.Entries[0].Name)
	assert.Equal(t, "style.css", got.Entries[1].Name)
}

// Property 4: oversized manifest entries trigger UnresolvedError, and after
// resolving they round-trip via a SimpleRedirect placeholder.
func TestUnresolvedResolutionFlow(t *testing.T) {
	bigEntries := make([]metadata.ManifestEntry, 0, 2000)
	for i := 0; i < 2000; i++ {
		bigEntries = append(bigEntries, metadata.ManifestEntry{
			Name: "f",
			Body: metadata.SimpleRedirect(chk(byte(i)), metadata.ClientMetadata{}),
		})
	}
	oversized := metadata.SimpleManifestDoc(bigEntries, metadata.ClientMetadata{})

	top := metadata.SimpleManifestDoc([]metadata.ManifestEntry{
		{Name: "big", Body: oversized},
	}, metadata.ClientMetadata{})

	_, err := metadata.Emit(top)
	require.Error(t, err)
	unresolved, ok := metadata.AsUnresolved(err)
	require.True(t, ok)
	require.Len(t, unresolved.Pending, 1)

	// Caller "inserts" the pending sub-Metadata and gets back a URI; we
	// fake that with a deterministic CHK here.
	resolvedURI := chk(200)
	top.Entries[0].Body = metadata.SimpleRedirect(resolvedURI, metadata.ClientMetadata{})

	blob, err := metadata.Emit(top)
	require.NoError(t, err)

	got, err := metadata.Parse(blob)
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, metadata.DocSimpleRedirect, got.Entries[0].Body.Type)
}

func TestBuildManifestFromEntrySources(t *testing.T) {
	m := metadata.BuildManifest([]string{"a", "b"}, map[string]metadata.EntrySource{
		"a": metadata.FileEntry{Target: chk(1)},
		"b": metadata.PrebuiltEntry{Metadata: metadata.ArchiveInternalRedirectDoc("x", metadata.ClientMetadata{})},
	})
	require.Len(t, m.Entries, 2)
	assert.Equal(t, metadata.DocSimpleRedirect, m.Entries[0].Body.Type)
	assert.Equal(t, metadata.DocArchiveInternalRedirect, m.Entries[1].Body.Type)
}
