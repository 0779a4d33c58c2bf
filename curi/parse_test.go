// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package curi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/007pig/fred-sub004/curi"
)

func TestParseCHKRoundTrip(t *testing.T) {
	want := curi.NewCHK([32]byte{0xAB}, [32]byte{0xCD}, curi.CryptoParams{Algorithm: 2, Extra: []byte{1, 2}}).
		WithMetaString("foo").WithMetaString("bar")

	got, err := curi.Parse(want.String())
	require.NoError(t, err)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.RoutingKey, got.RoutingKey)
	assert.Equal(t, want.CryptoKey, got.CryptoKey)
	assert.Equal(t, want.CryptoParams, got.CryptoParams)
	assert.Equal(t, want.MetaStrings, got.MetaStrings)
}

func TestParseKSK(t *testing.T) {
	want := curi.ContentURI{Kind: curi.KSK, Name: "my-key"}.WithMetaString("index.html")
	got, err := curi.Parse(want.String())
	require.NoError(t, err)
	assert.Equal(t, curi.KSK, got.Kind)
	assert.Equal(t, "my-key", got.Name)
	assert.Equal(t, []string{"index.html"}, got.MetaStrings)
}

func TestParseUSKWithEdition(t *testing.T) {
	want := curi.ContentURI{Kind: curi.USK, PubKeyHash: [32]byte{1}, Salt: [32]byte{2}, Name: "site", SuggestedEdition: 42, HasEdition: true}
	got, err := curi.Parse(want.String())
	require.NoError(t, err)
	assert.Equal(t, curi.USK, got.Kind)
	assert.Equal(t, "site", got.Name)
	assert.Equal(t, int64(42), got.SuggestedEdition)
	assert.True(t, got.HasEdition)
}

func TestParseRejectsMissingAt(t *testing.T) {
	_, err := curi.Parse("not-a-uri")
	assert.Error(t, err)
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := curi.Parse("XYZ@abc")
	assert.Error(t, err)
}
