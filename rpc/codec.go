package rpc

import (
	"encoding/json"
)

// jsonCodec lets the command surface speak plain JSON over gRPC framing,
// so no generated protobuf types are needed.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}
