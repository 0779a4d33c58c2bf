// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

// Package splitfile implements the segmentation, FEC orchestration, and
// reassembly engine for both fetch and insert: it partitions a Splitfile's
// data+check blocks into segments, drives concurrent block fetch/insert, and
// hands each segment to FECQueue for decode/encode.
package splitfile

import (
	"github.com/zeebo/errs"

	"github.com/007pig/fred-sub004/curi"
	"github.com/007pig/fred-sub004/metadata"
)

// Error is the error class for splitfile engine failures.
var Error = errs.Class("splitfile")

// ErrSegmentUnrecoverable is SPLITFILE_SEGMENT_UNRECOVERABLE: a segment
// could not be decoded from the blocks that arrived.
var ErrSegmentUnrecoverable = Error.New("SPLITFILE_SEGMENT_UNRECOVERABLE")

// ErrTooBig is SPLITFILE_TOO_BIG: data_length, decompressed_length, or an
// intermediate output exceeded a FetchContext cap.
var ErrTooBig = Error.New("SPLITFILE_TOO_BIG")

// DefaultBlockLen is the fixed per-block payload size FEC operates over.
// Not specified by name in the source material; 32768 matches Freenet's own
// CHK block payload size, the natural choice for a splitfile built from CHKs.
const DefaultBlockLen = 32768

// segment describes one slice of a Splitfile's data/check keys.
type segment struct {
	index      int
	dataKeys   []curi.ContentURI
	checkKeys  []curi.ContentURI
	dataStart  int // offset of dataKeys[0] within the full DataKeys slice
	checkStart int
}

// planSegments partitions sf's data and check keys into segments per its
// Params: carved into ceil(K/segment_size) segments.
func planSegments(sf metadata.Splitfile) []segment {
	n := sf.SegmentCount()
	segments := make([]segment, 0, n)
	dataSize := int(sf.Params.SegmentSize)
	checkSize := int(sf.Params.CheckSegmentSize)

	for i := 0; i < n; i++ {
		dataStart := i * dataSize
		dataEnd := dataStart + dataSize
		if dataEnd > len(sf.DataKeys) {
			dataEnd = len(sf.DataKeys)
		}
		checkStart := i * checkSize
		checkEnd := checkStart + checkSize
		if checkEnd > len(sf.CheckKeys) {
			checkEnd = len(sf.CheckKeys)
		}
		segments = append(segments, segment{
			index:      i,
			dataKeys:   sf.DataKeys[dataStart:dataEnd],
			checkKeys:  sf.CheckKeys[checkStart:checkEnd],
			dataStart:  dataStart,
			checkStart: checkStart,
		})
	}
	return segments
}

// planInsertSegments partitions a flat block count into segments of at most
// maxDataPerSegment each.
func planInsertSegments(totalBlocks, maxDataPerSegment int) []segment {
	if maxDataPerSegment <= 0 {
		maxDataPerSegment = totalBlocks
	}
	n := (totalBlocks + maxDataPerSegment - 1) / maxDataPerSegment
	if n == 0 {
		n = 1
	}
	segments := make([]segment, 0, n)
	for i := 0; i < n; i++ {
		start := i * maxDataPerSegment
		end := start + maxDataPerSegment
		if end > totalBlocks {
			end = totalBlocks
		}
		segments = append(segments, segment{index: i, dataStart: start, checkStart: 0, dataKeys: make([]curi.ContentURI, end-start)})
	}
	return segments
}
