package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// JSONCodec carries heartbeat messages as JSON so device SDKs need no
// generated stubs.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (JSONCodec) Name() string { return "json" }

var _ encoding.Codec = JSONCodec{}
