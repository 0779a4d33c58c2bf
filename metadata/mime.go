// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package metadata

// defaultMIMETable is the compressed-MIME lookup table referenced by the
// COMPRESSED_MIME flag: common MIME types are written as a 2-byte index
// instead of a length-prefixed literal. Index 0 holds the empty MIME string.
var defaultMIMETable = []string{
	"",
	"text/plain",
	"text/html",
	"text/css",
	"application/javascript",
	"application/json",
	"image/png",
	"image/jpeg",
	"image/gif",
	"application/octet-stream",
	"application/zip",
	"application/x-tar",
	"application/gzip",
}

var mimeToIndex = func() map[string]uint16 {
	m := make(map[string]uint16, len(defaultMIMETable))
	for i, mime := range defaultMIMETable {
		m[mime] = uint16(i)
	}
	return m
}()

func mimeByIndex(index uint16) (string, bool) {
	if int(index) >= len(defaultMIMETable) {
		return "", false
	}
	return defaultMIMETable[index], true
}

func mimeIndex(mime string) (uint16, bool) {
	idx, ok := mimeToIndex[mime]
	return idx, ok
}
