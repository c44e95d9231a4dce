package loader

import (
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unkn0wn-root/tilepyramid/codec"
)

// ProtoCodec stores responses as a protobuf Struct. The body travels base64 encoded
// and Expires as RFC 3339, so the bytes stay readable by any proto tooling.
func ProtoCodec() codec.Codec[Response] {
	return codec.Mapped[Response, *structpb.Struct]{
		Inner: codec.NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} }),
		To:    responseToStruct,
		From:  structToResponse,
	}
}

// BodyCodec stores the body alone. Cache hits come back without headers; expiry
// still survives in the cache frame.
func BodyCodec() codec.Codec[Response] {
	return codec.Mapped[Response, []byte]{
		Inner: codec.Bytes{},
		To:    func(r Response) ([]byte, error) { return r.Body, nil },
		From:  func(b []byte) (Response, error) { return Response{Body: b}, nil },
	}
}

func responseToStruct(r Response) (*structpb.Struct, error) {
	f := map[string]*structpb.Value{
		"body": structpb.NewStringValue(base64.StdEncoding.EncodeToString(r.Body)),
	}
	put := func(k, v string) {
		if v != "" {
			f[k] = structpb.NewStringValue(v)
		}
	}
	put("content_type", r.ContentType)
	put("cache_control", r.CacheControl)
	put("etag", r.ETag)
	if !r.Expires.IsZero() {
		put("expires", r.Expires.UTC().Format(time.RFC3339Nano))
	}
	return &structpb.Struct{Fields: f}, nil
}

func structToResponse(s *structpb.Struct) (Response, error) {
	f := s.GetFields()
	body, err := base64.StdEncoding.DecodeString(f["body"].GetStringValue())
	if err != nil {
		return Response{}, fmt.Errorf("loader: proto body: %w", err)
	}
	r := Response{
		Body:         body,
		ContentType:  f["content_type"].GetStringValue(),
		CacheControl: f["cache_control"].GetStringValue(),
		ETag:         f["etag"].GetStringValue(),
	}
	if v := f["expires"].GetStringValue(); v != "" {
		if r.Expires, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return Response{}, fmt.Errorf("loader: proto expires: %w", err)
		}
	}
	return r, nil
}
