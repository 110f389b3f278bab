// Package jsoncodec lets Connect clients and handlers exchange plain Go structs as JSON,
// without generated protobuf types.
//
// Usage:
//
//	connect.NewClient[Req, Res](httpClient, url, connect.WithCodec(jsoncodec.Codec{}))
//	connect.NewUnaryHandler(procedure, fn, connect.WithCodec(jsoncodec.Codec{}))
package jsoncodec

import "encoding/json"

// Name is registered under the same name as Connect's built-in JSON codec, so the wire
// content type stays application/json.
const Name = "json"

// Codec marshals messages with encoding/json.
type Codec struct{}

func (Codec) Name() string { return Name }

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
