// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package sync2_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/007pig/fred-sub004/internal/sync2"
)

func TestLimiterLimiting(t *testing.T) {
	const n, limit = 200, 10
	ctx := context.Background()
	limiter := sync2.NewLimiter(limit)
	counter := int32(0)
	for i := 0; i < n; i++ {
		limiter.Go(ctx, func() {
			if atomic.AddInt32(&counter, 1) > limit {
				panic("limit exceeded")
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&counter, -1)
		})
	}
	limiter.Wait()
}

func TestLimiterCancelling(t *testing.T) {
	const n, limit = 50, 5
	limiter := sync2.NewLimiter(limit)

	ctx, cancel := context.WithCancel(context.Background())

	counter := int32(0)
	waitForCancel := make(chan struct{}, n)
	block := make(chan struct{})
	allReturned := make(chan struct{})

	go func() {
		for i := 0; i < n; i++ {
			limiter.Go(ctx, func() {
				if atomic.AddInt32(&counter, 1) > limit {
					panic("limit exceeded")
				}
				waitForCancel <- struct{}{}
				<-block
			})
		}
		close(allReturned)
	}()

	for i := 0; i < limit; i++ {
		<-waitForCancel
	}
	cancel()
	<-allReturned
	close(block)

	limiter.Wait()
	if counter > limit {
		t.Fatal("too many concurrent runs")
	}
}
