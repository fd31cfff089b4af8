package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBOR is a Codec backed by fxamacker/cbor. The zero value is NOT ready to
// use; construct it with NewCBOR.
//
// Times are encoded as RFC3339Nano strings so cached expirations stay
// readable with generic CBOR tooling.
type CBOR[T any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

// NewCBOR constructs a CBOR codec. With deterministic set the RFC 8949 core
// deterministic encoding is used, which gives byte-stable output.
func NewCBOR[T any](deterministic bool) (CBOR[T], error) {
	var eo cbor.EncOptions
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	} else {
		eo = cbor.PreferredUnsortedEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return CBOR[T]{}, err
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return CBOR[T]{}, err
	}
	return CBOR[T]{enc: em, dec: dm}, nil
}

func (c CBOR[T]) Encode(v T) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c CBOR[T]) Decode(b []byte) (T, error) {
	var v T
	err := c.dec.Unmarshal(b, &v)
	return v, err
}
