package api

import (
	"encoding/json"
	"fmt"
)

// jsonCodec replaces the default protobuf-backed JSON codec so the RPC
// surface can serve plain Go structs. Registering under the name "json"
// makes Connect negotiate application/json with any HTTP client.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(message any) ([]byte, error) {
	return json.Marshal(message)
}

func (jsonCodec) Unmarshal(data []byte, message any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, message); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
