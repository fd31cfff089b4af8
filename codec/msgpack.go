package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack is a Codec that serializes values using vmihailenco/msgpack/v5.
// The zero value is ready to use.
//
// Struct fields are matched by their `msgpack` tag, falling back to the Go
// field name, so types shared with the JSON codec should carry both tags.
type Msgpack[T any] struct{}

var _ Codec[struct{}] = Msgpack[struct{}]{}

func (Msgpack[T]) Encode(v T) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Msgpack[T]) Decode(b []byte) (T, error) {
	var v T
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
