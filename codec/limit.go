package codec

import "github.com/cockroachdb/errors"

// ErrPayloadTooLarge is returned by Limit.Decode for oversized input.
var ErrPayloadTooLarge = errors.New("codec: payload too large")

// Limit wraps another codec and refuses to decode payloads larger than
// MaxDecode bytes. A MaxDecode <= 0 disables the check. Encode is forwarded
// unchanged.
type Limit[T any] struct {
	Inner     Codec[T]
	MaxDecode int
}

var _ Codec[struct{}] = Limit[struct{}]{}

func (c Limit[T]) Encode(v T) ([]byte, error) { return c.Inner.Encode(v) }

func (c Limit[T]) Decode(b []byte) (T, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero T
		return zero, errors.Wrapf(ErrPayloadTooLarge, "%d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
