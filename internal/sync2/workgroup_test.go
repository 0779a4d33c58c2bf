// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package sync2_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/007pig/fred-sub004/internal/sync2"
)

func TestWorkGroupWait(t *testing.T) {
	const wait = 100 * time.Millisecond
	const timeError = 40 * time.Millisecond

	var group sync2.WorkGroup

	require.True(t, group.Start())
	go func() {
		defer group.Done()
		time.Sleep(wait)
	}()

	require.True(t, group.Go(func() {
		time.Sleep(wait)
	}))

	start := time.Now()
	group.Wait()
	duration := time.Since(start)

	require.True(t, duration >= wait-timeError)
}

func TestWorkGroupClose(t *testing.T) {
	const wait = 100 * time.Millisecond
	const longWait = 500 * time.Millisecond

	var group sync2.WorkGroup

	require.True(t, group.Go(func() {
		time.Sleep(wait)
	}))

	group.Close()

	require.False(t, group.Go(func() {
		time.Sleep(longWait)
	}))

	start := time.Now()
	group.Wait()
	duration := time.Since(start)

	require.True(t, duration < longWait)
	_ = start
}
