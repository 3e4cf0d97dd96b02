package handler

import (
	"google.golang.org/grpc/encoding"
)

// JSONCodecName is the gRPC content-subtype served by LoanService.
const JSONCodecName = "json"

// jsonCodec carries gRPC messages as JSON using jsoniter.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return JSONCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
