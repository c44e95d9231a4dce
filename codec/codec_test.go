package codec

import (
	"bytes"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

type response struct {
	Body         []byte    `json:"body" cbor:"body" msgpack:"body"`
	ContentType  string    `json:"content_type" cbor:"content_type" msgpack:"content_type"`
	CacheControl string    `json:"cache_control" cbor:"cache_control" msgpack:"cache_control"`
	Expires      time.Time `json:"expires" cbor:"expires" msgpack:"expires"`
}

func sample() response {
	return response{
		Body:         []byte{0x1f, 0x8b, 0x08, 0x00, 0xff},
		ContentType:  "application/vnd.mapbox-vector-tile",
		CacheControl: "max-age=3600",
		Expires:      time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func checkResponse(t *testing.T, name string, c Codec[response]) {
	t.Helper()
	in := sample()
	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("%s encode: %v", name, err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatalf("%s decode: %v", name, err)
	}
	if !bytes.Equal(out.Body, in.Body) || out.ContentType != in.ContentType ||
		out.CacheControl != in.CacheControl || !out.Expires.Equal(in.Expires) {
		t.Fatalf("%s: got=%+v want=%+v", name, out, in)
	}
}

func TestStructCodecs(t *testing.T) {
	checkResponse(t, "json", JSON[response]{})
	checkResponse(t, "cbor", MustCBOR[response](false))
	checkResponse(t, "cbor-det", MustCBOR[response](true))
	checkResponse(t, "msgpack", Msgpack[response]{})
}

func TestCBORDeterministicStable(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	a, err := c.Encode(map[string]int{"z": 1, "a": 2, "m": 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for i := 0; i < 10; i++ {
		b, _ := c.Encode(map[string]int{"m": 3, "z": 1, "a": 2})
		if !bytes.Equal(a, b) {
			t.Fatalf("deterministic encoding differs: %x vs %x", a, b)
		}
	}
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.BytesValue { return &wrapperspb.BytesValue{} })
	b, err := c.Encode(wrapperspb.Bytes([]byte("tile")))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(m.GetValue()) != "tile" {
		t.Fatalf("got=%q", m.GetValue())
	}
}

func TestBytesDecodeCopies(t *testing.T) {
	src := []byte("abc")
	out, _ := Bytes{}.Decode(src)
	src[0] = 'X'
	if string(out) != "abc" {
		t.Fatalf("decode aliased input: %q", out)
	}
}

func TestMappedProtobuf(t *testing.T) {
	c := Mapped[string, *wrapperspb.StringValue]{
		Inner: NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }),
		To:    func(s string) (*wrapperspb.StringValue, error) { return wrapperspb.String(s), nil },
		From:  func(m *wrapperspb.StringValue) (string, error) { return m.GetValue(), nil },
	}
	b, err := c.Encode("3/4/5")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := c.Decode(b)
	if err != nil || got != "3/4/5" {
		t.Fatalf("got=%q err=%v want=%q", got, err, "3/4/5")
	}
	if _, err := c.Decode([]byte{0xff}); err == nil {
		t.Fatalf("expected error for malformed proto")
	}
}

func TestLimit(t *testing.T) {
	c := Limit[[]byte]{Inner: Bytes{}, MaxDecode: 3}
	if _, err := c.Decode([]byte("abcd")); err == nil {
		t.Fatalf("expected size error")
	}
	if out, err := c.Decode([]byte("abc")); err != nil || string(out) != "abc" {
		t.Fatalf("out=%q err=%v", out, err)
	}
	unlimited := Limit[[]byte]{Inner: Bytes{}}
	if _, err := unlimited.Decode(bytes.Repeat([]byte{1}, 1<<16)); err != nil {
		t.Fatalf("unlimited decode: %v", err)
	}
}
