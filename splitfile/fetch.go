// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package splitfile

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/007pig/fred-sub004/bucket"
	"github.com/007pig/fred-sub004/compress"
	"github.com/007pig/fred-sub004/curi"
	"github.com/007pig/fred-sub004/fec"
	"github.com/007pig/fred-sub004/fecqueue"
	"github.com/007pig/fred-sub004/fetchctx"
	"github.com/007pig/fred-sub004/internal/sync2"
	"github.com/007pig/fred-sub004/metadata"
)

// decodePriority is the fixed FECQueue priority segment decode jobs run at.
// Splitfile jobs are not otherwise priority-differentiated.
const decodePriority fecqueue.Priority = 3

// Fetch reassembles sf's original payload, writing it to sink. fetcher
// resolves individual blocks; queue runs the FEC decode jobs; factory backs
// per-block temporary storage.
func Fetch(ctx context.Context, sf metadata.Splitfile, fctx fetchctx.FetchContext, fetcher fetchctx.BlockFetcher, queue *fecqueue.Queue, factory bucket.Factory, sink io.Writer) error {
	if sf.Algorithm != metadata.AlgorithmOnionStandard {
		return Error.New("non-redundant splitfile fetch is rejected")
	}

	segments := planSegments(sf)
	blockLen := DefaultBlockLen

	var cacheMu sync.Mutex
	cache := make(map[curi.ContentURI][]byte)
	if fctx.PrefetchedBlocks != nil {
		for k, v := range fctx.PrefetchedBlocks {
			cache[k] = v
		}
	}

	limiter := sync2.NewLimiter(maxInt(1, fctx.MaxSplitfileWorkers))

	decoded := make([][]byte, len(segments))
	errs := make([]error, len(segments))
	var wg sync.WaitGroup
	wg.Add(len(segments))

	for _, seg := range segments {
		seg := seg
		threshold := len(seg.dataKeys)
		if threshold == 0 {
			decoded[seg.index] = nil
			wg.Done()
			continue
		}

		dataBuckets := make([]bucket.Bucket, len(seg.dataKeys))
		dataPresent := make([]bool, len(seg.dataKeys))
		checkBuckets := make([]bucket.Bucket, len(seg.checkKeys))
		checkPresent := make([]bool, len(seg.checkKeys))

		var segMu sync.Mutex
		submitted := false
		arrived := 0

		submitDecode := func() {
			dataStatus := make([]fec.BlockStatus, len(seg.dataKeys))
			checkStatus := make([]fec.BlockStatus, len(seg.checkKeys))
			for i := range dataStatus {
				dataStatus[i] = fec.BlockStatus{Present: dataPresent[i], Data: dataBuckets[i]}
			}
			for i := range checkStatus {
				checkStatus[i] = fec.BlockStatus{Present: checkPresent[i], Data: checkBuckets[i]}
			}

			job := &fecqueue.Job{
				Priority: decodePriority,
				Work: func() (fecqueue.Result, error) {
					return fec.Decode(dataStatus, checkStatus, blockLen, factory)
				},
				Callback: func(res fecqueue.Result, err error) {
					defer wg.Done()
					if err != nil {
						errs[seg.index] = Error.Wrap(ErrSegmentUnrecoverable)
						return
					}
					blocks := res.([]bucket.Bucket)
					var buf bytes.Buffer
					for _, b := range blocks {
						data, readErr := bucket.ReadAll(b)
						if readErr != nil {
							errs[seg.index] = Error.Wrap(readErr)
							return
						}
						buf.Write(data)
					}
					decoded[seg.index] = buf.Bytes()
				},
			}
			if err := queue.Enqueue(job); err != nil {
				errs[seg.index] = Error.Wrap(err)
				wg.Done()
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		fetchOne := func(uri curi.ContentURI, isCheck bool, idx int) error {
			cacheMu.Lock()
			data, ok := cache[uri]
			cacheMu.Unlock()
			if !ok {
				var err error
				data, err = fetchWithRetry(gctx, fetcher, uri, fctx.MaxSplitfileBlockRetries, limiter)
				if err != nil {
					return nil // a block failing to fetch just means it doesn't count toward the threshold
				}
				cacheMu.Lock()
				cache[uri] = data
				cacheMu.Unlock()
			}
			// fec.Decode takes present blocks of exactly blockLen bytes; a
			// short final data block is zero-padded, and the padding is cut
			// off by the DataLength truncation after reassembly.
			if !isCheck && len(data) < blockLen {
				padded := make([]byte, blockLen)
				copy(padded, data)
				data = padded
			}

			b, err := factory.New(int64(len(data)))
			if err != nil {
				return Error.Wrap(err)
			}
			if err := bucket.WriteAll(b, data); err != nil {
				return Error.Wrap(err)
			}

			segMu.Lock()
			defer segMu.Unlock()
			if submitted {
				return nil // arrived after decode was already triggered; dropped.
			}
			if isCheck {
				checkBuckets[idx] = b
				checkPresent[idx] = true
			} else {
				dataBuckets[idx] = b
				dataPresent[idx] = true
			}
			arrived++
			if arrived >= threshold {
				submitted = true
				submitDecode()
			}
			return nil
		}

		for i, uri := range seg.dataKeys {
			i, uri := i, uri
			g.Go(func() error { return fetchOne(uri, false, i) })
		}
		for i, uri := range seg.checkKeys {
			i, uri := i, uri
			g.Go(func() error { return fetchOne(uri, true, i) })
		}

		go func() {
			err := g.Wait()
			segMu.Lock()
			defer segMu.Unlock()
			if submitted {
				// Decode was already triggered; its own callback owns
				// wg.Done() for this segment.
				return
			}
			submitted = true
			if err != nil {
				errs[seg.index] = Error.Wrap(err)
			} else {
				// Every block fetch returned (possibly after exhausting
				// retries) but the threshold was never reached.
				errs[seg.index] = Error.Wrap(ErrSegmentUnrecoverable)
			}
			wg.Done()
		}()
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	var assembled bytes.Buffer
	for _, d := range decoded {
		assembled.Write(d)
	}
	payload := assembled.Bytes()
	if int64(len(payload)) > sf.DataLength {
		payload = payload[:sf.DataLength]
	}

	if sf.Compression != nil {
		codec, ok := compress.ByID(sf.Compression.Codec)
		if !ok {
			return Error.New("unknown compression codec %d", sf.Compression.Codec)
		}
		maxLen := fctx.MaxOutputLen
		if sf.Compression.DecompressedLength < maxLen {
			maxLen = sf.Compression.DecompressedLength
		}
		if err := codec.Decompress(sink, bytes.NewReader(payload), maxLen, fctx.MaxTempLen); err != nil {
			if errors.Is(err, compress.ErrCapExceeded) {
				return Error.Wrap(ErrTooBig)
			}
			return Error.Wrap(err)
		}
		return nil
	}

	if int64(len(payload)) > fctx.MaxOutputLen {
		return ErrTooBig
	}
	if _, err := sink.Write(payload); err != nil {
		return Error.Wrap(err)
	}
	return nil
}

func fetchWithRetry(ctx context.Context, fetcher fetchctx.BlockFetcher, uri curi.ContentURI, maxRetries int, limiter *sync2.Limiter) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		var data []byte
		var err error
		done := make(chan struct{})
		ok := limiter.Go(ctx, func() {
			data, err = fetcher.FetchBlock(ctx, uri)
			close(done)
		})
		if !ok {
			return nil, ctx.Err()
		}
		<-done
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
