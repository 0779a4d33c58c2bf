// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package metadata

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/007pig/fred-sub004/curi"
)

// hasFlags reports the document types that carry a flags field on the wire.
func hasFlags(t DocType) bool {
	switch t {
	case DocSimpleRedirect, DocMultiLevelMetadata, DocArchiveManifest, DocArchiveInternalRedirect:
		return true
	default:
		return false
	}
}

// hasSingleTargetSlot reports the document types that carry a single-target
// key. It includes DocMultiLevelMetadata: its target is "URI | Splitfile"
// exactly like SimpleRedirect/ArchiveManifest, and excluding it would make a
// non-splitfile MultiLevelMetadata impossible to round-trip.
func hasSingleTargetSlot(t DocType) bool {
	switch t {
	case DocSimpleRedirect, DocMultiLevelMetadata, DocArchiveManifest:
		return true
	default:
		return false
	}
}

// Parse decodes a metadata blob.
func Parse(data []byte) (Metadata, error) {
	r := bytes.NewReader(data)

	var magic uint64
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return Metadata{}, Error.New("Invalid magic: too short")
	}
	if magic != Magic {
		return Metadata{}, Error.New("Invalid magic")
	}

	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return Metadata{}, Error.Wrap(err)
	}
	if version != Version {
		return Metadata{}, Error.New("Unsupported version: %d", version)
	}

	var docTypeByte uint8
	if err := binary.Read(r, binary.BigEndian, &docTypeByte); err != nil {
		return Metadata{}, Error.Wrap(err)
	}
	docType := DocType(docTypeByte)
	if docType > DocArchiveInternalRedirect {
		return Metadata{}, Error.New("Unsupported document type: %d", docType)
	}

	m := Metadata{Type: docType}

	var flags uint16
	if hasFlags(docType) {
		if err := binary.Read(r, binary.BigEndian, &flags); err != nil {
			return Metadata{}, Error.Wrap(err)
		}
		if flags&FlagDBR != 0 {
			return Metadata{}, Error.New("DBR flag is not supported")
		}
		if flags&FlagExtraMetadata != 0 {
			return Metadata{}, Error.New("EXTRA_METADATA flag is not supported")
		}
		if flags&FlagSplitUseLengths != 0 {
			return Metadata{}, Error.New("reserved flag bit 6 is set")
		}
	}

	if docType == DocArchiveManifest {
		var archiveTypeID uint16
		if err := binary.Read(r, binary.BigEndian, &archiveTypeID); err != nil {
			return Metadata{}, Error.Wrap(err)
		}
		kind, ok := archiveKindByID(archiveTypeID)
		if !ok {
			return Metadata{}, Error.New("Unknown archive type: %d", archiveTypeID)
		}
		m.ArchiveType = kind
	}

	isSplitfile := flags&FlagSplitfile != 0
	var dataLength int64
	if isSplitfile {
		if err := binary.Read(r, binary.BigEndian, &dataLength); err != nil {
			return Metadata{}, Error.Wrap(err)
		}
	}

	var compression *Compression
	if flags&FlagCompressed != 0 {
		var codec uint16
		if err := binary.Read(r, binary.BigEndian, &codec); err != nil {
			return Metadata{}, Error.Wrap(err)
		}
		if CompressionCodec(codec) != CompressionGzip {
			return Metadata{}, Error.New("Unknown compression codec: %d", codec)
		}
		var decompLen int64
		if err := binary.Read(r, binary.BigEndian, &decompLen); err != nil {
			return Metadata{}, Error.Wrap(err)
		}
		compression = &Compression{Codec: CompressionCodec(codec), DecompressedLength: decompLen}
	}

	if hasFlags(docType) {
		if flags&FlagNoMIME == 0 {
			mime, err := readMIME(r, flags)
			if err != nil {
				return Metadata{}, err
			}
			m.Client.MIME = mime
			m.Client.HasMIME = true
		}
	}

	if hasSingleTargetSlot(docType) && !isSplitfile {
		u, err := readKey(r, flags)
		if err != nil {
			return Metadata{}, Error.New("malformed embedded key: %v", err)
		}
		m.Target = TargetURI(u)
	}

	if isSplitfile {
		sf, err := readSplitfile(r, flags, dataLength, compression)
		if err != nil {
			return Metadata{}, err
		}
		m.Target = TargetSplitfile(sf)
	}

	switch docType {
	case DocSimpleManifest:
		entries, err := readManifestEntries(r)
		if err != nil {
			return Metadata{}, err
		}
		m.Entries = entries
	case DocArchiveInternalRedirect:
		name, err := readString16(r)
		if err != nil {
			return Metadata{}, Error.Wrap(err)
		}
		m.NameInArchive = name
	}

	return m, nil
}

func readMIME(r io.Reader, flags uint16) (string, error) {
	if flags&FlagCompressedMIME != 0 {
		var index uint16
		if err := binary.Read(r, binary.BigEndian, &index); err != nil {
			return "", Error.Wrap(err)
		}
		hasParams := index&0x8000 != 0
		mime, ok := mimeByIndex(index &^ 0x8000)
		if !ok {
			return "", Error.New("unknown compressed MIME index: %d", index&^0x8000)
		}
		if hasParams {
			var params uint16
			if err := binary.Read(r, binary.BigEndian, &params); err != nil {
				return "", Error.Wrap(err)
			}
		}
		return mime, nil
	}
	var length uint8
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", Error.Wrap(err)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", Error.Wrap(err)
	}
	return string(buf), nil
}

func readKey(r io.Reader, flags uint16) (curi.ContentURI, error) {
	if flags&FlagFullKeys != 0 {
		return curi.ReadFull(r)
	}
	return curi.ReadRaw(r)
}

func writeKey(w io.Writer, u curi.ContentURI, full bool) error {
	if full {
		return curi.WriteFull(w, u)
	}
	return curi.WriteRaw(w, u)
}

func readSplitfile(r io.Reader, flags uint16, dataLength int64, compression *Compression) (Splitfile, error) {
	if flags&FlagFullKeys != 0 {
		return Splitfile{}, Error.New("full keys are not permitted inside a splitfile body")
	}

	var algorithm uint16
	if err := binary.Read(r, binary.BigEndian, &algorithm); err != nil {
		return Splitfile{}, Error.Wrap(err)
	}
	if SplitfileAlgorithm(algorithm) != AlgorithmOnionStandard {
		return Splitfile{}, Error.New("non-redundant splitfile is rejected")
	}

	var paramsLen uint32
	if err := binary.Read(r, binary.BigEndian, &paramsLen); err != nil {
		return Splitfile{}, Error.Wrap(err)
	}
	if paramsLen > MaxInlineParamsLen {
		return Splitfile{}, Error.New("splitfile params exceed the inline limit: %d", paramsLen)
	}
	paramsBuf := make([]byte, paramsLen)
	if _, err := io.ReadFull(r, paramsBuf); err != nil {
		return Splitfile{}, Error.Wrap(err)
	}
	params, err := ParseSegmentParams(paramsBuf)
	if err != nil {
		return Splitfile{}, err
	}

	var blockCount, checkCount uint32
	if err := binary.Read(r, binary.BigEndian, &blockCount); err != nil {
		return Splitfile{}, Error.Wrap(err)
	}
	if err := binary.Read(r, binary.BigEndian, &checkCount); err != nil {
		return Splitfile{}, Error.Wrap(err)
	}
	if blockCount > MaxBlocksPerSide || checkCount > MaxBlocksPerSide {
		return Splitfile{}, Error.New("Too many splitfile blocks")
	}

	dataKeys := make([]curi.ContentURI, blockCount)
	for i := range dataKeys {
		u, err := curi.ReadRaw(r)
		if err != nil {
			return Splitfile{}, Error.New("malformed embedded key: %v", err)
		}
		dataKeys[i] = u
	}
	checkKeys := make([]curi.ContentURI, checkCount)
	for i := range checkKeys {
		u, err := curi.ReadRaw(r)
		if err != nil {
			return Splitfile{}, Error.New("malformed embedded key: %v", err)
		}
		checkKeys[i] = u
	}

	return Splitfile{
		Algorithm:   SplitfileAlgorithm(algorithm),
		DataKeys:    dataKeys,
		CheckKeys:   checkKeys,
		DataLength:  dataLength,
		Params:      params,
		Compression: compression,
	}, nil
}

func readManifestEntries(r io.Reader) ([]ManifestEntry, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, Error.Wrap(err)
	}
	entries := make([]ManifestEntry, count)
	for i := range entries {
		name, err := readString16(r)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		var bodyLen uint16
		if err := binary.Read(r, binary.BigEndian, &bodyLen); err != nil {
			return nil, Error.Wrap(err)
		}
		if bodyLen > MaxInlineSubEntry {
			return nil, Error.New("too-large manifest entry: %d bytes", bodyLen)
		}
		bodyBuf := make([]byte, bodyLen)
		if _, err := io.ReadFull(r, bodyBuf); err != nil {
			return nil, Error.Wrap(err)
		}
		body, err := Parse(bodyBuf)
		if err != nil {
			return nil, err
		}
		entries[i] = ManifestEntry{Name: name, Body: body}
	}
	return entries, nil
}

func readString16(r io.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ParseSegmentParams decodes the opaque two-u32 byte string.
func ParseSegmentParams(b []byte) (SegmentParams, error) {
	if len(b) != 8 {
		return SegmentParams{}, Error.New("malformed segment params: expected 8 bytes, got %d", len(b))
	}
	return SegmentParams{
		SegmentSize:      binary.BigEndian.Uint32(b[0:4]),
		CheckSegmentSize: binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// MarshalBinary encodes p as the opaque two-u32 byte string.
func (p SegmentParams) MarshalBinary() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], p.SegmentSize)
	binary.BigEndian.PutUint32(buf[4:8], p.CheckSegmentSize)
	return buf
}
