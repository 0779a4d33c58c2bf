// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package splitfile

import (
	"bytes"
	"context"
	"sync"

	"github.com/007pig/fred-sub004/bucket"
	"github.com/007pig/fred-sub004/compress"
	"github.com/007pig/fred-sub004/curi"
	"github.com/007pig/fred-sub004/fec"
	"github.com/007pig/fred-sub004/fecqueue"
	"github.com/007pig/fred-sub004/fetchctx"
	"github.com/007pig/fred-sub004/internal/sync2"
	"github.com/007pig/fred-sub004/metadata"
)

const encodePriority fecqueue.Priority = 3

// Insert partitions payload into a FEC-protected Splitfile, inserting every
// data and check block through inserter.
func Insert(ctx context.Context, payload []byte, ic fetchctx.InsertContext, inserter fetchctx.BlockInserter, queue *fecqueue.Queue, factory bucket.Factory) (metadata.Splitfile, error) {
	dataLength := int64(len(payload))

	var compression *metadata.Compression
	if ic.CompressPayload {
		codec, ok := compress.ByID(metadata.CompressionGzip)
		if !ok {
			return metadata.Splitfile{}, Error.New("gzip codec not registered")
		}
		var compressed bytes.Buffer
		if err := codec.Compress(&compressed, bytes.NewReader(payload), dataLength, dataLength+dataLength/2+64); err != nil {
			return metadata.Splitfile{}, Error.Wrap(err)
		}
		payload = compressed.Bytes()
		compression = &metadata.Compression{Codec: metadata.CompressionGzip, DecompressedLength: dataLength}
	}

	blockLen := DefaultBlockLen
	numDataBlocks := (len(payload) + blockLen - 1) / blockLen
	if numDataBlocks == 0 {
		numDataBlocks = 1
	}

	dataBuckets := make([]bucket.Bucket, numDataBlocks)
	for i := 0; i < numDataBlocks; i++ {
		start := i * blockLen
		end := start + blockLen
		if end > len(payload) {
			end = len(payload)
		}
		b, err := factory.New(int64(end - start))
		if err != nil {
			return metadata.Splitfile{}, Error.Wrap(err)
		}
		if err := bucket.WriteAll(b, payload[start:end]); err != nil {
			return metadata.Splitfile{}, Error.Wrap(err)
		}
		dataBuckets[i] = b
	}

	segments := planInsertSegments(numDataBlocks, ic.SplitfileSegmentDataBlocks)
	checkBucketsBySegment := make([][]bucket.Bucket, len(segments))

	var wg sync.WaitGroup
	wg.Add(len(segments))
	var encodeErrMu sync.Mutex
	var encodeErr error

	for _, seg := range segments {
		seg := seg
		segData := dataBuckets[seg.dataStart : seg.dataStart+len(seg.dataKeys)]
		job := &fecqueue.Job{
			Priority: encodePriority,
			Work: func() (fecqueue.Result, error) {
				return fec.Encode(segData, ic.SplitfileSegmentCheckBlocks, blockLen, factory)
			},
			Callback: func(res fecqueue.Result, err error) {
				defer wg.Done()
				if err != nil {
					encodeErrMu.Lock()
					if encodeErr == nil {
						encodeErr = Error.Wrap(err)
					}
					encodeErrMu.Unlock()
					return
				}
				checkBucketsBySegment[seg.index] = res.([]bucket.Bucket)
			},
		}
		if err := queue.Enqueue(job); err != nil {
			encodeErrMu.Lock()
			if encodeErr == nil {
				encodeErr = Error.Wrap(err)
			}
			encodeErrMu.Unlock()
			wg.Done()
		}
	}
	wg.Wait()
	if encodeErr != nil {
		return metadata.Splitfile{}, encodeErr
	}

	dataKeys := make([]curi.ContentURI, numDataBlocks)
	var totalCheckBlocks int
	for _, cb := range checkBucketsBySegment {
		totalCheckBlocks += len(cb)
	}
	checkKeys := make([]curi.ContentURI, totalCheckBlocks)

	limiter := sync2.NewLimiter(maxInt(1, ic.MaxSplitfileWorkers))
	var insertWG sync.WaitGroup
	var insertErrMu sync.Mutex
	var insertErr error

	insertOne := func(b bucket.Bucket, dest *curi.ContentURI) {
		insertWG.Add(1)
		ok := limiter.Go(ctx, func() {
			defer insertWG.Done()
			data, err := bucket.ReadAll(b)
			if err != nil {
				insertErrMu.Lock()
				if insertErr == nil {
					insertErr = Error.Wrap(err)
				}
				insertErrMu.Unlock()
				return
			}
			uri, err := inserter.InsertBlock(ctx, data)
			if err != nil {
				insertErrMu.Lock()
				if insertErr == nil {
					insertErr = Error.Wrap(err)
				}
				insertErrMu.Unlock()
				return
			}
			*dest = uri
		})
		if !ok {
			insertWG.Done()
			insertErrMu.Lock()
			if insertErr == nil {
				insertErr = Error.Wrap(ctx.Err())
			}
			insertErrMu.Unlock()
		}
	}

	for i, b := range dataBuckets {
		insertOne(b, &dataKeys[i])
	}
	checkOffset := 0
	for _, cb := range checkBucketsBySegment {
		for j, b := range cb {
			insertOne(b, &checkKeys[checkOffset+j])
		}
		checkOffset += len(cb)
	}
	insertWG.Wait()
	if insertErr != nil {
		return metadata.Splitfile{}, insertErr
	}

	return metadata.Splitfile{
		Algorithm:  metadata.AlgorithmOnionStandard,
		DataKeys:   dataKeys,
		CheckKeys:  checkKeys,
		DataLength: int64(len(payload)),
		Params: metadata.SegmentParams{
			SegmentSize:      uint32(ic.SplitfileSegmentDataBlocks),
			CheckSegmentSize: uint32(ic.SplitfileSegmentCheckBlocks),
		},
		Compression: compression,
	}, nil
}
