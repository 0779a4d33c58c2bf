// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

// Package bucket provides the Bucket/BucketFactory abstraction: an opaque,
// stream-only byte store handle. Components in this module never seek
// inside a Bucket; all access goes through ReadStream/WriteStream.
package bucket

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/zeebo/errs"
)

// Error is the error class for bucket operations.
var Error = errs.Class("bucket")

// Bucket is an opaque byte-store handle with exclusive-owner semantics: the
// caller that obtains a Bucket is responsible for calling Free when done.
type Bucket interface {
	// ReadStream opens a fresh reader over the bucket's current contents.
	ReadStream() (io.ReadCloser, error)
	// WriteStream opens a writer; writes replace the bucket's contents.
	// Only one writer may be open at a time.
	WriteStream() (io.WriteCloser, error)
	// Size returns the number of bytes currently written to the bucket.
	Size() int64
	// Free releases the bucket's storage. The bucket must not be used
	// afterwards.
	Free() error
}

// Factory creates new Buckets.
type Factory interface {
	// New allocates a Bucket sized to hold roughly sizeHint bytes. The
	// hint is advisory; the bucket grows as needed.
	New(sizeHint int64) (Bucket, error)
}

// memBucket is an in-memory Bucket, used for small blocks and tests.
type memBucket struct {
	mu   sync.RWMutex
	data []byte
	freed bool
}

// MemoryFactory creates in-memory Buckets. It is the default factory used
// by the splitfile engine for per-block temporary storage.
type MemoryFactory struct{}

// New implements Factory.
func (MemoryFactory) New(sizeHint int64) (Bucket, error) {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &memBucket{data: make([]byte, 0, sizeHint)}, nil
}

func (b *memBucket) ReadStream() (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.freed {
		return nil, Error.New("read from freed bucket")
	}
	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return io.NopCloser(bytes.NewReader(cp)), nil
}

type memWriter struct {
	b   *memBucket
	buf bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriter) Close() error {
	w.b.mu.Lock()
	defer w.b.mu.Unlock()
	if w.b.freed {
		return Error.New("write to freed bucket")
	}
	w.b.data = w.buf.Bytes()
	return nil
}

func (b *memBucket) WriteStream() (io.WriteCloser, error) {
	b.mu.RLock()
	freed := b.freed
	b.mu.RUnlock()
	if freed {
		return nil, Error.New("write to freed bucket")
	}
	return &memWriter{b: b}, nil
}

func (b *memBucket) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.data))
}

func (b *memBucket) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.freed = true
	b.data = nil
	return nil
}

// fileBucket is a file-backed Bucket, used for large buckets (e.g. the
// assembled output of a fetch) where holding everything in memory would
// defeat FetchContext's size caps.
type fileBucket struct {
	mu   sync.Mutex
	path string
	size int64
	freed bool
}

// FileFactory creates file-backed Buckets rooted at Dir.
type FileFactory struct {
	Dir string
}

// New implements Factory.
func (f FileFactory) New(sizeHint int64) (Bucket, error) {
	file, err := os.CreateTemp(f.Dir, "fred-bucket-*")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	path := file.Name()
	if err := file.Close(); err != nil {
		return nil, Error.Wrap(err)
	}
	return &fileBucket{path: path}, nil
}

func (b *fileBucket) ReadStream() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return nil, Error.New("read from freed bucket")
	}
	f, err := os.Open(b.path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return f, nil
}

type fileWriter struct {
	b *fileBucket
	f *os.File
	n int64
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.n += int64(n)
	return n, err
}

func (w *fileWriter) Close() error {
	err := w.f.Close()
	w.b.mu.Lock()
	w.b.size = w.n
	w.b.mu.Unlock()
	if err != nil {
		return Error.Wrap(err)
	}
	return nil
}

func (b *fileBucket) WriteStream() (io.WriteCloser, error) {
	b.mu.Lock()
	freed := b.freed
	b.mu.Unlock()
	if freed {
		return nil, Error.New("write to freed bucket")
	}
	f, err := os.Create(b.path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &fileWriter{b: b, f: f}, nil
}

func (b *fileBucket) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *fileBucket) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return nil
	}
	b.freed = true
	return Error.Wrap(os.Remove(b.path))
}

// ReadAll drains a Bucket's current contents into memory. It exists for
// tests and for small, known-bounded reads (e.g. an already-capped fetch
// result); callers on a hot path should stream instead.
func ReadAll(b Bucket) ([]byte, error) {
	r, err := b.ReadStream()
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return data, nil
}

// WriteAll replaces a Bucket's contents with data.
func WriteAll(b Bucket, data []byte) error {
	w, err := b.WriteStream()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return Error.Wrap(err)
	}
	return Error.Wrap(w.Close())
}
