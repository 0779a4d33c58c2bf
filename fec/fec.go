// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

// Package fec implements bulk, blocking erasure encode/decode over
// fixed-length blocks, backed by vivint/infectious, a systematic
// Reed-Solomon library.
package fec

import (
	"fmt"

	"github.com/vivint/infectious"
	"github.com/zeebo/errs"

	"github.com/007pig/fred-sub004/bucket"
)

// Error is the error class for FECCodec failures.
var Error = errs.Class("fec")

// ErrInsufficientBlocks is returned by Decode when fewer than K blocks are
// present across data and check slots.
var ErrInsufficientBlocks = Error.New("FEC_INSUFFICIENT_BLOCKS")

// ErrMalformed is returned when a present block's length doesn't match
// blockLen.
var ErrMalformed = Error.New("FEC_MALFORMED")

// BlockStatus is one slot of a decode input: either present (Data holds
// exactly blockLen bytes) or absent.
type BlockStatus struct {
	Present bool
	Data    bucket.Bucket
}

// Encode computes len(checkBlocks) parity blocks over dataBlocks, each
// exactly blockLen bytes; data blocks shorter than blockLen are zero-padded
// for the purpose of encoding only -- the padding is never written back.
// Runs are deterministic given the same inputs.
func Encode(dataBlocks []bucket.Bucket, numCheckBlocks, blockLen int, factory bucket.Factory) ([]bucket.Bucket, error) {
	k := len(dataBlocks)
	m := numCheckBlocks
	fc, err := infectious.NewFEC(k, k+m)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	combined := make([]byte, 0, k*blockLen)
	for i, b := range dataBlocks {
		data, err := bucket.ReadAll(b)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if len(data) > blockLen {
			return nil, fmt.Errorf("%w: data block %d exceeds block length", ErrMalformed, i)
		}
		padded := make([]byte, blockLen)
		copy(padded, data)
		combined = append(combined, padded...)
	}

	checkBlocks := make([]bucket.Bucket, m)
	encodeErr := fc.Encode(combined, func(s infectious.Share) {
		if s.Number < k {
			return
		}
		idx := s.Number - k
		b, allocErr := factory.New(int64(blockLen))
		if allocErr != nil {
			err = allocErr
			return
		}
		if writeErr := bucket.WriteAll(b, s.Data); writeErr != nil {
			err = writeErr
			return
		}
		checkBlocks[idx] = b
	})
	if encodeErr != nil {
		return nil, Error.Wrap(encodeErr)
	}
	if err != nil {
		return nil, err
	}
	return checkBlocks, nil
}

// Decode reconstructs all K data blocks from whatever subset of
// dataStatus/checkStatus is present, requiring at least K present blocks in
// total.
func Decode(dataStatus, checkStatus []BlockStatus, blockLen int, factory bucket.Factory) ([]bucket.Bucket, error) {
	k := len(dataStatus)
	m := len(checkStatus)

	shares := make([]infectious.Share, 0, k+m)
	present := 0
	for i, s := range dataStatus {
		if !s.Present {
			continue
		}
		data, err := bucket.ReadAll(s.Data)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if len(data) != blockLen {
			return nil, fmt.Errorf("%w: data block %d length mismatch", ErrMalformed, i)
		}
		shares = append(shares, infectious.Share{Number: i, Data: data})
		present++
	}
	for j, s := range checkStatus {
		if !s.Present {
			continue
		}
		data, err := bucket.ReadAll(s.Data)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if len(data) != blockLen {
			return nil, fmt.Errorf("%w: check block %d length mismatch", ErrMalformed, j)
		}
		shares = append(shares, infectious.Share{Number: k + j, Data: data})
		present++
	}

	if present < k {
		return nil, ErrInsufficientBlocks
	}

	fc, err := infectious.NewFEC(k, k+m)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	result := make([]bucket.Bucket, k)
	var rebuildErr error
	err = fc.Rebuild(shares, func(s infectious.Share) {
		if s.Number >= k {
			return
		}
		b, allocErr := factory.New(int64(blockLen))
		if allocErr != nil {
			rebuildErr = allocErr
			return
		}
		if writeErr := bucket.WriteAll(b, s.Data); writeErr != nil {
			rebuildErr = writeErr
			return
		}
		result[s.Number] = b
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if rebuildErr != nil {
		return nil, rebuildErr
	}
	return result, nil
}
