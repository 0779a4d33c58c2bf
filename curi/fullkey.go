// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package curi

import (
	"encoding/binary"
	"io"
)

// WriteFull writes u in the length-prefixed, key-type-tagged "full key"
// layout used when the metadata FULL_KEYS flag is set. Full keys are not
// permitted inside a splitfile body; WriteRaw/ReadRaw are used there
// instead.
func WriteFull(w io.Writer, u ContentURI) error {
	if _, err := w.Write([]byte{byte(u.Kind)}); err != nil {
		return err
	}
	switch u.Kind {
	case CHK:
		if err := WriteRaw(w, u); err != nil {
			return err
		}
	case SSK, USK:
		if _, err := w.Write(u.PubKeyHash[:]); err != nil {
			return err
		}
		if _, err := w.Write(u.Salt[:]); err != nil {
			return err
		}
		if err := writeString16(w, u.Name); err != nil {
			return err
		}
		if u.Kind == USK {
			hasEdition := byte(0)
			if u.HasEdition {
				hasEdition = 1
			}
			if _, err := w.Write([]byte{hasEdition}); err != nil {
				return err
			}
			if err := binary.Write(w, binary.BigEndian, u.SuggestedEdition); err != nil {
				return err
			}
		}
	case KSK:
		if err := writeString16(w, u.Name); err != nil {
			return err
		}
	default:
		return Error.New("write_full: unknown key kind %d", u.Kind)
	}
	return writeMetaStrings(w, u.MetaStrings)
}

// ReadFull reads a URI written by WriteFull.
func ReadFull(r io.Reader) (ContentURI, error) {
	var kindByte [1]byte
	if _, err := io.ReadFull(r, kindByte[:]); err != nil {
		return ContentURI{}, Error.Wrap(err)
	}
	var u ContentURI
	u.Kind = Kind(kindByte[0])
	switch u.Kind {
	case CHK:
		raw, err := ReadRaw(r)
		if err != nil {
			return ContentURI{}, err
		}
		u.RoutingKey, u.CryptoKey, u.CryptoParams = raw.RoutingKey, raw.CryptoKey, raw.CryptoParams
	case SSK, USK:
		if _, err := io.ReadFull(r, u.PubKeyHash[:]); err != nil {
			return ContentURI{}, Error.Wrap(err)
		}
		if _, err := io.ReadFull(r, u.Salt[:]); err != nil {
			return ContentURI{}, Error.Wrap(err)
		}
		name, err := readString16(r)
		if err != nil {
			return ContentURI{}, err
		}
		u.Name = name
		if u.Kind == USK {
			var hasEdition [1]byte
			if _, err := io.ReadFull(r, hasEdition[:]); err != nil {
				return ContentURI{}, Error.Wrap(err)
			}
			u.HasEdition = hasEdition[0] != 0
			if err := binary.Read(r, binary.BigEndian, &u.SuggestedEdition); err != nil {
				return ContentURI{}, Error.Wrap(err)
			}
		}
	case KSK:
		name, err := readString16(r)
		if err != nil {
			return ContentURI{}, err
		}
		u.Name = name
	default:
		return ContentURI{}, Error.New("read_full: unknown key kind %d", u.Kind)
	}
	metas, err := readMetaStrings(r)
	if err != nil {
		return ContentURI{}, err
	}
	u.MetaStrings = metas
	return u, nil
}

func writeString16(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return Error.New("string too long: %d bytes", len(s))
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString16(r io.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", Error.Wrap(err)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", Error.Wrap(err)
	}
	return string(buf), nil
}

func writeMetaStrings(w io.Writer, metas []string) error {
	if len(metas) > 0xFFFF {
		return Error.New("too many meta strings: %d", len(metas))
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(metas))); err != nil {
		return err
	}
	for _, m := range metas {
		if err := writeString16(w, m); err != nil {
			return err
		}
	}
	return nil
}

func readMetaStrings(r io.Reader) ([]string, error) {
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, Error.Wrap(err)
	}
	if count == 0 {
		return nil, nil
	}
	metas := make([]string, count)
	for i := range metas {
		m, err := readString16(r)
		if err != nil {
			return nil, err
		}
		metas[i] = m
	}
	return metas, nil
}
