package codec

import "google.golang.org/protobuf/proto"

// Protobuf stores proto messages with deterministic marshaling, so equal messages
// produce equal cache bytes.
type Protobuf[T proto.Message] struct {
	empty func() T
}

// NewProtobuf returns a codec decoding into messages built by empty,
// e.g. func() *structpb.Struct { return &structpb.Struct{} }.
func NewProtobuf[T proto.Message](empty func() T) Protobuf[T] {
	return Protobuf[T]{empty: empty}
}

func (c Protobuf[T]) Encode(m T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.empty()
	if err := (proto.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(b, m); err != nil {
		var zero T
		return zero, err
	}
	return m, nil
}
