// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

// Package testrand provides deterministic random data generators for tests,
// so that block/segment fixtures are reproducible across runs.
package testrand

import "math/rand"

// Bytes returns n pseudo-random bytes read from math/rand's global source;
// use BytesDeterministic where the output must repeat across runs.
func Bytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

// BytesDeterministic returns n pseudo-random bytes generated from seed, so
// that two calls with the same seed and n produce identical output.
func BytesDeterministic(seed int64, n int) []byte {
	src := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	_, _ = src.Read(b)
	return b
}

// RoutingKey returns a 32-byte value shaped like a CHK routing key.
func RoutingKey() [32]byte {
	var key [32]byte
	copy(key[:], Bytes(32))
	return key
}
