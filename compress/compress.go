// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

// Package compress implements the compression-framing layer: a registry of
// codecs keyed by their wire metadata_id, each exposing streaming
// compress/decompress operations with size caps.
package compress

import (
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/errs"

	"github.com/007pig/fred-sub004/metadata"
)

// Error is the error class for compression framing failures.
var Error = errs.Class("compress")

// ErrCapExceeded is returned (via errors.Is) by Compress or Decompress when a
// size cap was the reason the operation failed, distinguishing it from a
// malformed or truncated stream.
var ErrCapExceeded = Error.New("size cap exceeded")

// Codec wraps/unwraps a compressed stream, enforcing caller-supplied size
// limits so a malicious or corrupt stream can't exhaust memory.
type Codec interface {
	// ID is the wire metadata_id for this codec.
	ID() metadata.CompressionCodec
	// Compress reads up to maxRead bytes from src, writing at most
	// maxWrite compressed bytes to dst.
	Compress(dst io.Writer, src io.Reader, maxRead, maxWrite int64) error
	// Decompress reads a compressed stream from src, writing at most
	// maxLen decompressed bytes to dst. maxOverread caps the total number
	// of compressed bytes that may be read from src.
	Decompress(dst io.Writer, src io.Reader, maxLen, maxOverread int64) error
}

// registry holds the known codecs by metadata_id.
var registry = map[metadata.CompressionCodec]Codec{}

// Register adds c to the codec registry. Called from each codec's init.
func Register(c Codec) { registry[c.ID()] = c }

// ByID looks up a codec by its wire metadata_id.
func ByID(id metadata.CompressionCodec) (Codec, bool) {
	c, ok := registry[id]
	return c, ok
}

func init() {
	Register(gzipCodec{})
}

// limitedWriter caps the number of bytes that may be written to it, failing
// with ErrCapExceeded once the cap is exceeded.
type limitedWriter struct {
	w         io.Writer
	remaining int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > lw.remaining {
		return 0, Error.Wrap(ErrCapExceeded)
	}
	n, err := lw.w.Write(p)
	lw.remaining -= int64(n)
	return n, err
}

// limitedReader caps the number of bytes readable from it, failing with
// ErrCapExceeded once the source holds more than the cap.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	if lr.remaining <= 0 {
		var probe [1]byte
		n, err := lr.r.Read(probe[:])
		if n > 0 {
			return 0, Error.Wrap(ErrCapExceeded)
		}
		return 0, err
	}
	if int64(len(p)) > lr.remaining {
		p = p[:lr.remaining]
	}
	n, err := lr.r.Read(p)
	lr.remaining -= int64(n)
	return n, err
}

type gzipCodec struct{}

func (gzipCodec) ID() metadata.CompressionCodec { return metadata.CompressionGzip }

func (gzipCodec) Compress(dst io.Writer, src io.Reader, maxRead, maxWrite int64) error {
	lr := &limitedReader{r: src, remaining: maxRead}
	lw := &limitedWriter{w: dst, remaining: maxWrite}
	zw := gzip.NewWriter(lw)
	if _, err := io.Copy(zw, lr); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(zw.Close())
}

func (gzipCodec) Decompress(dst io.Writer, src io.Reader, maxLen, maxOverread int64) error {
	lr := &limitedReader{r: src, remaining: maxOverread}
	zr, err := gzip.NewReader(lr)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = zr.Close() }()

	lw := &limitedWriter{w: dst, remaining: maxLen}
	if _, err := io.Copy(lw, zr); err != nil {
		return Error.Wrap(err)
	}
	return nil
}
