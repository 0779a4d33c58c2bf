// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

// Package curi defines ContentURI, the tagged union over the key kinds this
// module addresses content by: CHK, SSK, KSK, and USK, each carrying the
// ordered path components ("meta strings") that follow the key.
package curi

import (
	"strings"

	"github.com/zeebo/errs"
)

// Error is the error class for URI parsing/validation failures.
var Error = errs.Class("curi")

// Kind identifies which key variant a ContentURI carries.
type Kind uint8

// Key kinds.
const (
	CHK Kind = iota
	SSK
	KSK
	USK
)

func (k Kind) String() string {
	switch k {
	case CHK:
		return "CHK"
	case SSK:
		return "SSK"
	case KSK:
		return "KSK"
	case USK:
		return "USK"
	default:
		return "UNKNOWN"
	}
}

// CryptoParams describes the encryption/keying parameters bound to a CHK,
// opaque to this subsystem beyond their raw bytes.
type CryptoParams struct {
	Algorithm byte
	Extra     []byte
}

// ContentURI is the tagged union over CHK/SSK/KSK/USK. Only a CHK with no
// meta-strings may be stored "raw" (unframed) inside a splitfile body --
// RawEligible reports that.
type ContentURI struct {
	Kind Kind

	// CHK fields.
	RoutingKey   [32]byte
	CryptoKey    [32]byte
	CryptoParams CryptoParams

	// SSK/USK fields.
	PubKeyHash [32]byte
	Salt       [32]byte

	// KSK/SSK/USK.
	Name string

	// USK only.
	SuggestedEdition int64
	HasEdition       bool

	MetaStrings []string
}

// NewCHK builds a CHK ContentURI from its routing key, crypto key, and
// crypto params.
func NewCHK(routingKey, cryptoKey [32]byte, params CryptoParams) ContentURI {
	return ContentURI{Kind: CHK, RoutingKey: routingKey, CryptoKey: cryptoKey, CryptoParams: params}
}

// RawEligible reports whether this URI may be stored unframed (as a raw CHK
// tuple) inside a splitfile body.
func (u ContentURI) RawEligible() bool {
	return u.Kind == CHK && len(u.MetaStrings) == 0
}

// Clone returns a deep copy of u; MetaStrings is copied so mutating the
// clone's slice never aliases the original.
func (u ContentURI) Clone() ContentURI {
	clone := u
	if u.MetaStrings != nil {
		clone.MetaStrings = append([]string(nil), u.MetaStrings...)
	}
	return clone
}

// WithMetaString returns a clone of u with s appended to MetaStrings --
// used by the fetch orchestrator when descending into a SimpleManifest.
func (u ContentURI) WithMetaString(s string) ContentURI {
	clone := u.Clone()
	clone.MetaStrings = append(clone.MetaStrings, s)
	return clone
}

// PopMetaString returns a clone of u with its first meta-string removed,
// the popped string, and whether one was present.
func (u ContentURI) PopMetaString() (rest ContentURI, popped string, ok bool) {
	if len(u.MetaStrings) == 0 {
		return u, "", false
	}
	clone := u.Clone()
	popped = clone.MetaStrings[0]
	clone.MetaStrings = clone.MetaStrings[1:]
	return clone, popped, true
}

// freenetAlphabet is Freenet's own non-standard base64 variant, grounded on
// the Go port of the wire format in the retrieval pack.
const freenetAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789~-"

var freenetEncoding = newFreenetEncoding()

func newFreenetEncoding() *encoding {
	return &encoding{alphabet: freenetAlphabet}
}

// encoding is a minimal, unpadded base64 codec using Freenet's alphabet.
// It is not simply base64.NewEncoding because Freenet's variant is also
// unpadded and tolerates truncated trailing groups the stdlib encoder does
// not produce identically.
type encoding struct {
	alphabet string
}

func (e *encoding) EncodeToString(data []byte) string {
	var sb strings.Builder
	for i := 0; i < len(data); i += 3 {
		remaining := len(data) - i
		var block uint32
		switch {
		case remaining == 1:
			block = uint32(data[i]) << 16
		case remaining == 2:
			block = uint32(data[i])<<16 | uint32(data[i+1])<<8
		default:
			block = uint32(data[i])<<16 | uint32(data[i+1])<<8 | uint32(data[i+2])
		}
		sb.WriteByte(e.alphabet[(block>>18)&0x3F])
		sb.WriteByte(e.alphabet[(block>>12)&0x3F])
		if remaining > 1 {
			sb.WriteByte(e.alphabet[(block>>6)&0x3F])
		}
		if remaining > 2 {
			sb.WriteByte(e.alphabet[block&0x3F])
		}
	}
	return sb.String()
}

func (e *encoding) DecodeString(s string) ([]byte, error) {
	rev := make(map[byte]uint32, len(e.alphabet))
	for i := 0; i < len(e.alphabet); i++ {
		rev[e.alphabet[i]] = uint32(i)
	}
	var out []byte
	chars := []byte(s)
	for i := 0; i < len(chars); i += 4 {
		n := len(chars) - i
		if n > 4 {
			n = 4
		}
		var vals [4]uint32
		for j := 0; j < n; j++ {
			v, ok := rev[chars[i+j]]
			if !ok {
				return nil, Error.New("invalid character %q in freenet base64", chars[i+j])
			}
			vals[j] = v
		}
		block := vals[0]<<18 | vals[1]<<12 | vals[2]<<6 | vals[3]
		out = append(out, byte(block>>16))
		if n > 2 {
			out = append(out, byte(block>>8))
		}
		if n > 3 {
			out = append(out, byte(block))
		}
	}
	return out, nil
}

// String renders u in Freenet's conventional textual form, e.g.
// "CHK@<routing>,<crypto>,<extra>/path/to/file".
func (u ContentURI) String() string {
	var sb strings.Builder
	sb.WriteString(u.Kind.String())
	sb.WriteByte('@')
	switch u.Kind {
	case CHK:
		sb.WriteString(freenetEncoding.EncodeToString(u.RoutingKey[:]))
		sb.WriteByte(',')
		sb.WriteString(freenetEncoding.EncodeToString(u.CryptoKey[:]))
		sb.WriteByte(',')
		extra := append([]byte{u.CryptoParams.Algorithm}, u.CryptoParams.Extra...)
		sb.WriteString(freenetEncoding.EncodeToString(extra))
	case SSK, USK:
		sb.WriteString(freenetEncoding.EncodeToString(u.PubKeyHash[:]))
		sb.WriteByte(',')
		sb.WriteString(freenetEncoding.EncodeToString(u.Salt[:]))
		sb.WriteByte(',')
		sb.WriteString(u.Name)
		if u.Kind == USK {
			sb.WriteByte('/')
			if u.HasEdition {
				sb.WriteString(itoa(u.SuggestedEdition))
			} else {
				sb.WriteByte('0')
			}
		}
	case KSK:
		sb.WriteString(u.Name)
	}
	for _, m := range u.MetaStrings {
		sb.WriteByte('/')
		sb.WriteString(m)
	}
	return sb.String()
}

func itoa(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
