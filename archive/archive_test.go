// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package archive_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/007pig/fred-sub004/archive"
	"github.com/007pig/fred-sub004/bucket"
	"github.com/007pig/fred-sub004/fetchctx"
	"github.com/007pig/fred-sub004/metadata"
)

type testGzipWriter struct {
	gw *gzip.Writer
	tw *tar.Writer
}

func newTestGzipWriter(buf *bytes.Buffer) *testGzipWriter {
	gw := gzip.NewWriter(buf)
	return &testGzipWriter{gw: gw, tw: tar.NewWriter(gw)}
}

func writeTestTarEntry(t *testing.T, tw *tar.Writer, name, content string) {
	t.Helper()
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: name,
		Size: int64(len(content)),
		Mode: 0o644,
	}))
	_, err := tw.Write([]byte(content))
	require.NoError(t, err)
}

// zipEntry is one name/content pair, kept as an ordered slice (rather than
// a map) so tests relying on entry-arrival order stay deterministic.
type zipEntry struct {
	name, content string
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func readBucket(t *testing.T, b bucket.Bucket) string {
	t.Helper()
	data, err := bucket.ReadAll(b)
	require.NoError(t, err)
	return string(data)
}

func TestGetExtractsAndCachesZipEntries(t *testing.T) {
	raw := buildZip(t, zipEntry{"a.txt", "hello"}, zipEntry{"b.txt", "world"})
	var fetchCount int32
	fetchArchive := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&fetchCount, 1)
		return raw, nil
	}

	m := archive.New(1<<20, 1<<20, bucket.MemoryFactory{})
	actx := fetchctx.NewArchiveContext(4, 3)

	res, err := m.Get(context.Background(), "CHK@A", "a.txt", actx, metadata.ArchiveZip, fetchArchive)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, "hello", readBucket(t, res.Bucket))

	// A second internal-name lookup against the same key must reuse the
	// cached extraction rather than re-extracting.
	res2, err := m.Get(context.Background(), "CHK@A", "b.txt", actx, metadata.ArchiveZip, fetchArchive)
	require.NoError(t, err)
	require.True(t, res2.Found)
	assert.Equal(t, "world", readBucket(t, res2.Bucket))
	assert.EqualValues(t, 1, atomic.LoadInt32(&fetchCount))
}

func TestGetMissingEntryReturnsNotFound(t *testing.T) {
	raw := buildZip(t, zipEntry{"a.txt", "hello"})
	m := archive.New(1<<20, 1<<20, bucket.MemoryFactory{})
	actx := fetchctx.NewArchiveContext(4, 3)

	res, err := m.Get(context.Background(), "CHK@A", "missing.txt", actx, metadata.ArchiveZip,
		func(context.Context) ([]byte, error) { return raw, nil })
	require.NoError(t, err)
	assert.False(t, res.Found)
}

// TestLoopDetection is scenario S6: revisiting the same archive key within
// one descent (the same ArchiveContext) fails with ErrLoopDetected instead
// of re-extracting or diverging.
func TestLoopDetection(t *testing.T) {
	raw := buildZip(t, zipEntry{"a.txt", "hello"})
	m := archive.New(1<<20, 1<<20, bucket.MemoryFactory{})
	actx := fetchctx.NewArchiveContext(4, 3)

	_, err := m.Get(context.Background(), "CHK@A", "a.txt", actx, metadata.ArchiveZip,
		func(context.Context) ([]byte, error) { return raw, nil })
	require.NoError(t, err)

	_, err = m.Get(context.Background(), "CHK@A", "a.txt", actx, metadata.ArchiveZip,
		func(context.Context) ([]byte, error) { return raw, nil })
	assert.ErrorIs(t, err, archive.ErrLoopDetected)
}

// TestAtMostOneExtractionPerKey: concurrent Gets for the same key from
// different requests (distinct ArchiveContexts, as real concurrent fetches
// would use) must trigger exactly one extraction.
func TestAtMostOneExtractionPerKey(t *testing.T) {
	raw := buildZip(t, zipEntry{"a.txt", "hello"})
	var fetchCount int32
	release := make(chan struct{})
	fetchArchive := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&fetchCount, 1)
		<-release
		return raw, nil
	}

	m := archive.New(1<<20, 1<<20, bucket.MemoryFactory{})

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	results := make([]archive.ExtractResult, n)
	errsOut := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			actx := fetchctx.NewArchiveContext(4, 3)
			results[i], errsOut[i] = m.Get(context.Background(), "CHK@A", "a.txt", actx, metadata.ArchiveZip, fetchArchive)
		}()
	}
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&fetchCount))
	for i := 0; i < n; i++ {
		require.NoError(t, errsOut[i])
		assert.True(t, results[i].Found)
		assert.Equal(t, "hello", readBucket(t, results[i].Bucket))
	}
}

// TestArchiveCacheEvictsLRUWholeArchive: a cache too small to hold two
// archives at once evicts the least-recently-used archive in its entirety,
// never individual files from within it.
func TestArchiveCacheEvictsLRUWholeArchive(t *testing.T) {
	rawA := buildZip(t, zipEntry{"a.txt", "AAAAAAAAAA"})
	rawB := buildZip(t, zipEntry{"b.txt", "BBBBBBBBBB"})

	m := archive.New(15, 1<<20, bucket.MemoryFactory{})

	_, err := m.Get(context.Background(), "CHK@A", "a.txt", fetchctx.NewArchiveContext(4, 3), metadata.ArchiveZip,
		func(context.Context) ([]byte, error) { return rawA, nil })
	require.NoError(t, err)

	_, err = m.Get(context.Background(), "CHK@B", "b.txt", fetchctx.NewArchiveContext(4, 3), metadata.ArchiveZip,
		func(context.Context) ([]byte, error) { return rawB, nil })
	require.NoError(t, err)

	// A is now evicted (LRU, and both archives don't fit within 15 bytes
	// together); fetching it again must re-extract.
	var refetched int32
	_, err = m.Get(context.Background(), "CHK@A", "a.txt", fetchctx.NewArchiveContext(4, 3), metadata.ArchiveZip,
		func(context.Context) ([]byte, error) { atomic.AddInt32(&refetched, 1); return rawA, nil })
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&refetched))
}

// TestExtractStopsAdmittingEntriesPastMaxArchiveSize: entries beyond the
// per-archive cap are not admitted, but already-cached entries still serve
// and the extraction itself still succeeds (no error).
func TestExtractStopsAdmittingEntriesPastMaxArchiveSize(t *testing.T) {
	raw := buildZip(t, zipEntry{"a.txt", "1234567890"}, zipEntry{"b.txt", "1234567890"})
	m := archive.New(1<<20, 10, bucket.MemoryFactory{})
	actx := fetchctx.NewArchiveContext(4, 3)

	resA, err := m.Get(context.Background(), "CHK@A", "a.txt", actx, metadata.ArchiveZip,
		func(context.Context) ([]byte, error) { return raw, nil })
	require.NoError(t, err)
	assert.True(t, resA.Found)

	resB, err := m.LookupEntry(context.Background(), "CHK@A", "b.txt", metadata.ArchiveZip,
		func(context.Context) ([]byte, error) { return raw, nil })
	require.NoError(t, err)
	assert.False(t, resB.Found)
}

func TestGetWithRestartRetriesThenFails(t *testing.T) {
	var attempts int32
	fetchArchive := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&attempts, 1)
		return []byte{0x00, 0x01, 0x02}, nil // not a valid zip
	}

	m := archive.New(1<<20, 1<<20, bucket.MemoryFactory{})
	actx := fetchctx.NewArchiveContext(4, 2) // 2 restarts allowed

	_, err := m.GetWithRestart(context.Background(), "CHK@BAD", "a.txt", actx, metadata.ArchiveZip, fetchArchive)
	require.Error(t, err)
	var failure *archive.FailureError
	assert.ErrorAs(t, err, &failure)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts)) // initial + 2 retries
}

func TestTarGzRoundTrip(t *testing.T) {
	// Exercises the ArchiveTarGz kind end to end via archive/tar +
	// compress/gzip, alongside zip.
	var buf bytes.Buffer
	gz := newTestGzipWriter(&buf)
	writeTestTarEntry(t, gz.tw, "site/index.html", "<html/>")
	require.NoError(t, gz.tw.Close())
	require.NoError(t, gz.gw.Close())

	m := archive.New(1<<20, 1<<20, bucket.MemoryFactory{})
	actx := fetchctx.NewArchiveContext(4, 3)
	res, err := m.Get(context.Background(), "CHK@TGZ", "site/index.html", actx, metadata.ArchiveTarGz,
		func(context.Context) ([]byte, error) { return buf.Bytes(), nil })
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, "<html/>", readBucket(t, res.Bucket))
}
