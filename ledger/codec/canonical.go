// Package codec implements the canonical serialization and content
// hashing every ledger section and manifest is built on: deterministic,
// sorted-key JSON and SHA-256 section hashes. Manifest and attestation
// signatures are computed over canonical bytes produced here, never raw
// struct bytes.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// Canonicalize re-marshals v into JSON with object keys sorted and no
// insignificant whitespace, the wire form every hash in this package is
// computed over. v may be a struct (via its json tags), a map, a slice,
// or a scalar.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal")
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, errors.Wrap(err, "decode for canonicalization")
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return errors.Wrap(err, "marshal key")
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return errors.Wrap(err, "marshal scalar")
		}
		buf.Write(b)
	}
	return nil
}

// HashSection returns the hex-encoded SHA-256 of v's canonical form. It
// hashes record sections directly and, through HashNamedSection, list
// sections; the results are stored in a manifest's content_hashes map.
func HashSection(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hexEncode(sum[:]), nil
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}
