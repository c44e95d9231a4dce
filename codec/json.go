package codec

import "encoding/json"

// JSON stores values with encoding/json. Binary fields are base64 encoded, so prefer
// CBOR or Msgpack for tile bodies.
type JSON[V any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
