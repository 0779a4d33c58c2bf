// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package curi_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/007pig/fred-sub004/curi"
)

func TestRawEligible(t *testing.T) {
	u := curi.NewCHK([32]byte{1}, [32]byte{2}, curi.CryptoParams{Algorithm: 3})
	assert.True(t, u.RawEligible())

	withPath := u.WithMetaString("foo")
	assert.False(t, withPath.RawEligible())

	ssk := curi.ContentURI{Kind: curi.SSK}
	assert.False(t, ssk.RawEligible())
}

func TestCloneIndependence(t *testing.T) {
	u := curi.NewCHK([32]byte{1}, [32]byte{2}, curi.CryptoParams{}).WithMetaString("a")
	clone := u.Clone()
	clone.MetaStrings[0] = "mutated"
	assert.Equal(t, "a", u.MetaStrings[0])
}

func TestPopMetaString(t *testing.T) {
	u := curi.NewCHK([32]byte{1}, [32]byte{2}, curi.CryptoParams{}).WithMetaString("foo").WithMetaString("bar")
	rest, popped, ok := u.PopMetaString()
	require.True(t, ok)
	assert.Equal(t, "foo", popped)
	assert.Equal(t, []string{"bar"}, rest.MetaStrings)

	_, _, ok = curi.ContentURI{}.PopMetaString()
	assert.False(t, ok)
}

func TestStringRoundTripShape(t *testing.T) {
	u := curi.NewCHK([32]byte{0xAB}, [32]byte{0xCD}, curi.CryptoParams{Algorithm: 2}).
		WithMetaString("foo").WithMetaString("bar")
	s := u.String()
	assert.Contains(t, s, "CHK@")
	assert.Contains(t, s, "/foo/bar")
}

func TestRawCHKRoundTrip(t *testing.T) {
	want := curi.NewCHK([32]byte{9, 8, 7}, [32]byte{1, 2, 3}, curi.CryptoParams{
		Algorithm: 5,
		Extra:     []byte{1, 2, 3, 4},
	})

	var buf bytes.Buffer
	require.NoError(t, curi.WriteRaw(&buf, want))
	assert.Equal(t, curi.RawCHKLen, buf.Len())

	got, err := curi.ReadRaw(&buf)
	require.NoError(t, err)
	assert.Equal(t, want.RoutingKey, got.RoutingKey)
	assert.Equal(t, want.CryptoKey, got.CryptoKey)
	assert.Equal(t, want.CryptoParams, got.CryptoParams)
}

func TestWriteRawRejectsNonCHK(t *testing.T) {
	var buf bytes.Buffer
	err := curi.WriteRaw(&buf, curi.ContentURI{Kind: curi.SSK})
	assert.Error(t, err)
}
