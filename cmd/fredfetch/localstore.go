// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/zeebo/errs"

	"github.com/007pig/fred-sub004/curi"
)

// Error is this command's error class.
var Error = errs.Class("fredfetch")

// localBlockStore is the BlockFetcher/BlockInserter this demonstration CLI
// wires in place of a real routing/transport/datastore layer: a directory of
// content-addressed files, one per stored block, keyed by the SHA-256 of its
// bytes.
type localBlockStore struct {
	dir string
}

func newLocalBlockStore(dir string) (*localBlockStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, Error.Wrap(err)
	}
	return &localBlockStore{dir: dir}, nil
}

func (s *localBlockStore) InsertBlock(_ context.Context, data []byte) (curi.ContentURI, error) {
	sum := sha256.Sum256(data)
	uri := curi.NewCHK(sum, sum, curi.CryptoParams{Algorithm: 0})
	if err := os.WriteFile(s.path(uri), data, 0o644); err != nil {
		return curi.ContentURI{}, Error.Wrap(err)
	}
	return uri, nil
}

func (s *localBlockStore) FetchBlock(_ context.Context, uri curi.ContentURI) ([]byte, error) {
	data, err := os.ReadFile(s.path(uri))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return data, nil
}

func (s *localBlockStore) path(uri curi.ContentURI) string {
	return filepath.Join(s.dir, hex.EncodeToString(uri.RoutingKey[:]))
}
