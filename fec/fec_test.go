// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package fec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/007pig/fred-sub004/bucket"
	"github.com/007pig/fred-sub004/fec"
)

func toBuckets(t *testing.T, factory bucket.Factory, blocks [][]byte) []bucket.Bucket {
	t.Helper()
	out := make([]bucket.Bucket, len(blocks))
	for i, b := range blocks {
		buck, err := factory.New(int64(len(b)))
		require.NoError(t, err)
		require.NoError(t, bucket.WriteAll(buck, b))
		out[i] = buck
	}
	return out
}

// S4: K=2, M=1 encode then decode with one data block missing.
func TestEncodeDecodeSingleMissingDataBlock(t *testing.T) {
	factory := bucket.MemoryFactory{}

	b0 := []byte{0x01, 0x02, 0x03, 0x04}
	b1 := []byte{0x05, 0x06, 0x07, 0x08}
	dataBlocks := toBuckets(t, factory, [][]byte{b0, b1})

	checkBlocks, err := fec.Encode(dataBlocks, 1, 4, factory)
	require.NoError(t, err)
	require.Len(t, checkBlocks, 1)

	dataStatus := []fec.BlockStatus{
		{Present: true, Data: dataBlocks[0]},
		{Present: false},
	}
	checkStatus := []fec.BlockStatus{
		{Present: true, Data: checkBlocks[0]},
	}

	reconstructed, err := fec.Decode(dataStatus, checkStatus, 4, factory)
	require.NoError(t, err)
	require.Len(t, reconstructed, 2)

	got0, err := bucket.ReadAll(reconstructed[0])
	require.NoError(t, err)
	assert.Equal(t, b0, got0)

	got1, err := bucket.ReadAll(reconstructed[1])
	require.NoError(t, err)
	assert.Equal(t, b1, got1)
}

// Property 3: decode from any subset of at least K of the K+M blocks
// reconstructs the original data blocks, for every choice of which block is
// missing.
func TestDecodeFromAnySufficientSubset(t *testing.T) {
	factory := bucket.MemoryFactory{}
	original := [][]byte{
		{1, 2, 3, 4, 5, 6, 7, 8},
		{9, 10, 11, 12, 13, 14, 15, 16},
		{17, 18, 19, 20, 21, 22, 23, 24},
	}
	const blockLen = 8
	const m = 2

	for missing := 0; missing < len(original)+m; missing++ {
		dataBlocks := toBuckets(t, factory, original)
		checkBlocks, err := fec.Encode(dataBlocks, m, blockLen, factory)
		require.NoError(t, err)

		dataStatus := make([]fec.BlockStatus, len(original))
		for i := range dataStatus {
			dataStatus[i] = fec.BlockStatus{Present: i != missing, Data: dataBlocks[i]}
		}
		checkStatus := make([]fec.BlockStatus, m)
		for j := range checkStatus {
			idx := len(original) + j
			checkStatus[j] = fec.BlockStatus{Present: idx != missing, Data: checkBlocks[j]}
		}

		reconstructed, err := fec.Decode(dataStatus, checkStatus, blockLen, factory)
		require.NoError(t, err, "missing index %d", missing)
		for i, want := range original {
			got, err := bucket.ReadAll(reconstructed[i])
			require.NoError(t, err)
			assert.Equal(t, want, got, "missing index %d, data block %d", missing, i)
		}
	}
}

func TestEncodeZeroPadsShortDataBlock(t *testing.T) {
	factory := bucket.MemoryFactory{}
	dataBlocks := toBuckets(t, factory, [][]byte{{1, 2}, {3, 4, 5, 6}})

	checkBlocks, err := fec.Encode(dataBlocks, 1, 4, factory)
	require.NoError(t, err)
	require.Len(t, checkBlocks, 1)

	dataStatus := []fec.BlockStatus{
		{Present: false},
		{Present: true, Data: dataBlocks[1]},
	}
	checkStatus := []fec.BlockStatus{{Present: true, Data: checkBlocks[0]}}

	reconstructed, err := fec.Decode(dataStatus, checkStatus, 4, factory)
	require.NoError(t, err)
	got0, err := bucket.ReadAll(reconstructed[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 0, 0}, got0)
}

func TestDecodeInsufficientBlocks(t *testing.T) {
	factory := bucket.MemoryFactory{}
	dataBlocks := toBuckets(t, factory, [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}})
	checkBlocks, err := fec.Encode(dataBlocks, 1, 4, factory)
	require.NoError(t, err)

	dataStatus := []fec.BlockStatus{{Present: false}, {Present: false}}
	checkStatus := []fec.BlockStatus{{Present: true, Data: checkBlocks[0]}}

	_, err = fec.Decode(dataStatus, checkStatus, 4, factory)
	require.Error(t, err)
	assert.ErrorIs(t, err, fec.ErrInsufficientBlocks)
}

func TestDecodeMalformedBlockLength(t *testing.T) {
	factory := bucket.MemoryFactory{}
	badBlock, err := factory.New(3)
	require.NoError(t, err)
	require.NoError(t, bucket.WriteAll(badBlock, []byte{1, 2, 3}))

	dataStatus := []fec.BlockStatus{
		{Present: true, Data: badBlock},
		{Present: false},
	}
	checkStatus := []fec.BlockStatus{{Present: false}}

	_, err = fec.Decode(dataStatus, checkStatus, 4, factory)
	require.Error(t, err)
}
