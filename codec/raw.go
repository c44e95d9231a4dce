package codec

// Bytes is the identity codec for raw tile bodies that need only the cache framing.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) {
	// the provider may reuse its buffer
	return append([]byte(nil), b...), nil
}

// Mapped stores V through the codec of another representation M, e.g. a response
// struct kept as a proto message or as its bare body.
type Mapped[V, M any] struct {
	Inner Codec[M]
	To    func(V) (M, error)
	From  func(M) (V, error)
}

func (c Mapped[V, M]) Encode(v V) ([]byte, error) {
	m, err := c.To(v)
	if err != nil {
		return nil, err
	}
	return c.Inner.Encode(m)
}

func (c Mapped[V, M]) Decode(b []byte) (V, error) {
	m, err := c.Inner.Decode(b)
	if err != nil {
		var zero V
		return zero, err
	}
	return c.From(m)
}
