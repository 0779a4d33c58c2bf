// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package metadata

import (
	"bytes"
	"encoding/binary"

	"github.com/007pig/fred-sub004/curi"
)

// Emit encodes m. If any manifest entry (at any depth) serializes larger
// than MaxInlineSubEntry, Emit returns an *UnresolvedError listing every such
// sub-Metadata instead of a partial blob; the caller must resolve each one
// (insert it as its own document, obtain a URI, replace the entry's Body
// with a SimpleRedirect to that URI) and call Emit again.
func Emit(m Metadata) ([]byte, error) {
	var pending []Metadata
	out, err := emit(m, &pending)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return nil, &UnresolvedError{Pending: pending}
	}
	return out, nil
}

func emit(m Metadata, pending *[]Metadata) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, Magic); err != nil {
		return nil, Error.Wrap(err)
	}
	if err := binary.Write(&buf, binary.BigEndian, Version); err != nil {
		return nil, Error.Wrap(err)
	}
	if err := binary.Write(&buf, binary.BigEndian, uint8(m.Type)); err != nil {
		return nil, Error.Wrap(err)
	}

	isSplitfile := hasFlags(m.Type) && m.Target.IsSplitfile()
	fullKeys := needsFullKeys(m)

	var flags uint16
	if hasFlags(m.Type) {
		if isSplitfile {
			flags |= FlagSplitfile
		}
		if m.Client.HasMIME {
			if _, ok := mimeIndex(m.Client.MIME); ok {
				flags |= FlagCompressedMIME
			}
		} else {
			flags |= FlagNoMIME
		}
		if isSplitfile && m.Target.Splitfile.Compression != nil {
			flags |= FlagCompressed
		}
		if fullKeys {
			flags |= FlagFullKeys
		}
		if err := binary.Write(&buf, binary.BigEndian, flags); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	if m.Type == DocArchiveManifest {
		if err := binary.Write(&buf, binary.BigEndian, uint16(m.ArchiveType)); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	if isSplitfile {
		if err := binary.Write(&buf, binary.BigEndian, m.Target.Splitfile.DataLength); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	var compression *Compression
	if isSplitfile {
		compression = m.Target.Splitfile.Compression
	}
	if compression != nil {
		if err := binary.Write(&buf, binary.BigEndian, uint16(compression.Codec)); err != nil {
			return nil, Error.Wrap(err)
		}
		if err := binary.Write(&buf, binary.BigEndian, compression.DecompressedLength); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	if hasFlags(m.Type) {
		if flags&FlagNoMIME == 0 {
			if err := writeMIME(&buf, m.Client.MIME); err != nil {
				return nil, err
			}
		}
	}

	if hasSingleTargetSlot(m.Type) && !isSplitfile {
		if m.Target.URI == nil {
			return nil, Error.New("missing single target for %s", m.Type)
		}
		if err := writeKey(&buf, *m.Target.URI, fullKeys); err != nil {
			return nil, Error.New("malformed embedded key: %v", err)
		}
	}

	if isSplitfile {
		if err := writeSplitfile(&buf, *m.Target.Splitfile); err != nil {
			return nil, err
		}
	}

	switch m.Type {
	case DocSimpleManifest:
		if err := writeManifestEntries(&buf, m.Entries, pending); err != nil {
			return nil, err
		}
	case DocArchiveInternalRedirect:
		if err := writeString16(&buf, m.NameInArchive); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	return buf.Bytes(), nil
}

// needsFullKeys reports whether m's single target (if any) requires the
// length-prefixed "full key" encoding -- i.e. it carries meta-strings or is
// not a CHK, which the compact raw-CHK encoding cannot represent.
func needsFullKeys(m Metadata) bool {
	if m.Target.URI == nil {
		return false
	}
	return !m.Target.URI.RawEligible()
}

func writeMIME(buf *bytes.Buffer, mime string) error {
	if idx, ok := mimeIndex(mime); ok {
		if err := binary.Write(buf, binary.BigEndian, idx); err != nil {
			return Error.Wrap(err)
		}
		return nil
	}
	if len(mime) > 0xFF {
		return Error.New("MIME type too long: %d bytes", len(mime))
	}
	if err := binary.Write(buf, binary.BigEndian, uint8(len(mime))); err != nil {
		return Error.Wrap(err)
	}
	buf.WriteString(mime)
	return nil
}

func writeSplitfile(buf *bytes.Buffer, sf Splitfile) error {
	if sf.Algorithm != AlgorithmOnionStandard {
		return Error.New("non-redundant splitfile is rejected")
	}
	if len(sf.DataKeys) > MaxBlocksPerSide || len(sf.CheckKeys) > MaxBlocksPerSide {
		return Error.New("Too many splitfile blocks")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(sf.Algorithm)); err != nil {
		return Error.Wrap(err)
	}
	params := sf.Params.MarshalBinary()
	if err := binary.Write(buf, binary.BigEndian, uint32(len(params))); err != nil {
		return Error.Wrap(err)
	}
	buf.Write(params)
	if err := binary.Write(buf, binary.BigEndian, uint32(len(sf.DataKeys))); err != nil {
		return Error.Wrap(err)
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(sf.CheckKeys))); err != nil {
		return Error.Wrap(err)
	}
	for _, k := range sf.DataKeys {
		if err := curi.WriteRaw(buf, k); err != nil {
			return Error.New("malformed embedded key: %v", err)
		}
	}
	for _, k := range sf.CheckKeys {
		if err := curi.WriteRaw(buf, k); err != nil {
			return Error.New("malformed embedded key: %v", err)
		}
	}
	return nil
}

func writeManifestEntries(buf *bytes.Buffer, entries []ManifestEntry, pending *[]Metadata) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(entries))); err != nil {
		return Error.Wrap(err)
	}
	for _, e := range entries {
		if err := writeString16(buf, e.Name); err != nil {
			return Error.Wrap(err)
		}
		body, err := emit(e.Body, pending)
		if err != nil {
			return err
		}
		if len(body) > MaxInlineSubEntry {
			*pending = append(*pending, e.Body)
			body = nil
		}
		if err := binary.Write(buf, binary.BigEndian, uint16(len(body))); err != nil {
			return Error.Wrap(err)
		}
		buf.Write(body)
	}
	return nil
}

func writeString16(buf *bytes.Buffer, s string) error {
	if len(s) > 0xFFFF {
		return Error.New("string too long: %d bytes", len(s))
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}
