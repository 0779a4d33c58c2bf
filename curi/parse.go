// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package curi

import "strings"

// Parse reverses ContentURI.String, accepting the same "KIND@...,/path"
// textual form the CLI and any future over-the-wire URI argument would
// receive. It is deliberately symmetric with String rather than a general
// grammar: each Kind's body is split on ',' exactly the way String joined it.
func Parse(s string) (ContentURI, error) {
	kindPart, rest, ok := strings.Cut(s, "@")
	if !ok {
		return ContentURI{}, Error.New("missing '@' in uri %q", s)
	}

	var kind Kind
	switch kindPart {
	case "CHK":
		kind = CHK
	case "SSK":
		kind = SSK
	case "KSK":
		kind = KSK
	case "USK":
		kind = USK
	default:
		return ContentURI{}, Error.New("unknown uri kind %q", kindPart)
	}

	body, metaStrings := splitMetaStrings(rest, kind)

	switch kind {
	case CHK:
		fields := strings.Split(body, ",")
		if len(fields) != 3 {
			return ContentURI{}, Error.New("malformed CHK body %q", body)
		}
		routing, err := decodeFixed32(fields[0])
		if err != nil {
			return ContentURI{}, err
		}
		crypto, err := decodeFixed32(fields[1])
		if err != nil {
			return ContentURI{}, err
		}
		extra, err := freenetEncoding.DecodeString(fields[2])
		if err != nil {
			return ContentURI{}, Error.Wrap(err)
		}
		if len(extra) == 0 {
			return ContentURI{}, Error.New("empty CHK crypto params %q", fields[2])
		}
		return ContentURI{
			Kind:         CHK,
			RoutingKey:   routing,
			CryptoKey:    crypto,
			CryptoParams: CryptoParams{Algorithm: extra[0], Extra: extra[1:]},
			MetaStrings:  metaStrings,
		}, nil

	case SSK, USK:
		fields := strings.SplitN(body, ",", 3)
		if len(fields) != 3 {
			return ContentURI{}, Error.New("malformed %s body %q", kind, body)
		}
		pubKeyHash, err := decodeFixed32(fields[0])
		if err != nil {
			return ContentURI{}, err
		}
		salt, err := decodeFixed32(fields[1])
		if err != nil {
			return ContentURI{}, err
		}
		name := fields[2]
		u := ContentURI{Kind: kind, PubKeyHash: pubKeyHash, Salt: salt, MetaStrings: metaStrings}
		if kind == USK {
			name, editionPart, ok := strings.Cut(name, "/")
			if !ok {
				return ContentURI{}, Error.New("USK missing edition suffix %q", body)
			}
			u.Name = name
			if editionPart != "0" {
				edition, err := atoi(editionPart)
				if err != nil {
					return ContentURI{}, Error.New("malformed USK edition %q", editionPart)
				}
				u.SuggestedEdition = edition
				u.HasEdition = true
			}
			return u, nil
		}
		u.Name = name
		return u, nil

	case KSK:
		return ContentURI{Kind: KSK, Name: body, MetaStrings: metaStrings}, nil

	default:
		return ContentURI{}, Error.New("unknown uri kind %q", kindPart)
	}
}

// splitMetaStrings peels off trailing "/component" path segments. A USK's
// mandatory "/<edition>" suffix is not a meta-string, so for USK the first
// two '/'-delimited fields stay in body.
func splitMetaStrings(s string, kind Kind) (body string, metaStrings []string) {
	parts := strings.Split(s, "/")
	bodyFields := 1
	if kind == USK {
		bodyFields = 2
	}
	if len(parts) <= bodyFields {
		return s, nil
	}
	return strings.Join(parts[:bodyFields], "/"), parts[bodyFields:]
}

func decodeFixed32(s string) ([32]byte, error) {
	var out [32]byte
	decoded, err := freenetEncoding.DecodeString(s)
	if err != nil {
		return out, Error.Wrap(err)
	}
	if len(decoded) != 32 {
		return out, Error.New("expected 32 decoded bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func atoi(s string) (int64, error) {
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if s == "" {
		return 0, Error.New("empty integer")
	}
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, Error.New("invalid digit %q", c)
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}
