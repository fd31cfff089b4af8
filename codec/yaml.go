package codec

import "gopkg.in/yaml.v3"

// YAML stores values as YAML documents, handy when cache files are meant to
// be inspected or hand edited. The zero value is ready to use.
type YAML[T any] struct{}

var _ Codec[struct{}] = YAML[struct{}]{}

func (YAML[T]) Encode(v T) ([]byte, error) { return yaml.Marshal(v) }
func (YAML[T]) Decode(b []byte) (T, error) {
	var v T
	err := yaml.Unmarshal(b, &v)
	return v, err
}
