// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

// Package testcontext provides a context.Context fixture for tests that
// tracks background goroutines and temporary directories: cleanup waits for
// the goroutines and removes the directories. It does not check for leaks.
package testcontext

import (
	"context"
	"os"
	"testing"

	"github.com/007pig/fred-sub004/internal/sync2"
)

// Context is a context.Context bound to a *testing.T that tracks spawned
// goroutines and temporary directories.
type Context struct {
	context.Context
	t   *testing.T
	group sync2.WorkGroup
	dirs  []string
}

// New returns a new test Context. When the test completes it is cancelled,
// its goroutines are waited for, and its directories are removed.
func New(t *testing.T) *Context {
	ctx, cancel := context.WithCancel(context.Background())
	tctx := &Context{Context: ctx, t: t}
	t.Cleanup(func() {
		cancel()
		tctx.group.Wait()
		for _, dir := range tctx.dirs {
			_ = os.RemoveAll(dir)
		}
	})
	return tctx
}

// Go runs fn in a goroutine tracked by the context; Wait/cleanup blocks
// until it returns.
func (ctx *Context) Go(fn func() error) {
	ctx.group.Go(func() {
		if err := fn(); err != nil {
			ctx.t.Error(err)
		}
	})
}

// Wait blocks until every goroutine started with Go has returned.
func (ctx *Context) Wait() {
	ctx.group.Wait()
}

// Dir creates a temporary directory removed during cleanup.
func (ctx *Context) Dir(subdir ...string) string {
	dir, err := os.MkdirTemp("", "fred-sub004-test")
	if err != nil {
		ctx.t.Fatal(err)
	}
	ctx.dirs = append(ctx.dirs, dir)
	for _, s := range subdir {
		dir = dir + string(os.PathSeparator) + s
	}
	if len(subdir) > 0 {
		if err := os.MkdirAll(dir, 0700); err != nil {
			ctx.t.Fatal(err)
		}
	}
	return dir
}
