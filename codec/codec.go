// Package codec provides the serialization formats used by the durable cache
// tiers. A Codec turns a value into bytes and back; the file and SQLite tiers
// store whatever the configured codec produces, so the on-disk format is
// chosen by the caller.
package codec

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Codec encodes/decodes values of T to []byte for storage.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

// Format names a built-in codec.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
	FormatCBOR    Format = "cbor"
	FormatYAML    Format = "yaml"
)

// DefaultFormat is used when no format is configured.
const DefaultFormat = FormatJSON

// ErrUnknownFormat is returned by Lookup for a name it does not recognize.
var ErrUnknownFormat = errors.New("codec: unknown format")

// Formats returns the names of all built-in formats.
func Formats() []Format {
	return []Format{FormatJSON, FormatMsgpack, FormatCBOR, FormatYAML}
}

// ParseFormat normalizes a user supplied format name. An empty name selects
// DefaultFormat.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	if f == "" {
		return DefaultFormat, nil
	}
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownFormat, "%q", name)
}

// Lookup returns the built-in codec for the format.
func Lookup[T any](format Format) (Codec[T], error) {
	switch format {
	case FormatJSON, "":
		return JSON[T]{}, nil
	case FormatMsgpack:
		return Msgpack[T]{}, nil
	case FormatCBOR:
		return NewCBOR[T](false)
	case FormatYAML:
		return YAML[T]{}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "%q", string(format))
	}
}
