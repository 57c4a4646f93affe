package codec

import (
	"encoding/json"
	"errors"

	"contest-rpc/message"
	"contest-rpc/protocol"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Tags travel as their names ("LOGIN", "PARTICIPANT_ADDED"), so payloads stay
// readable when debugging with a packet capture.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	switch msg := v.(type) {
	case *message.Request:
		if err := msg.Validate(); err != nil {
			return nil, err
		}
	case *message.Response:
		if err := msg.Validate(); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("JSONCodec: v must be *message.Request or *message.Response")
	}
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	switch msg := v.(type) {
	case *message.Request:
		*msg = message.Request{}
		if err := json.Unmarshal(data, msg); err != nil {
			return protocol.Malformed("decode request", err)
		}
		if err := msg.Validate(); err != nil {
			return protocol.Malformed("decode request", err)
		}
	case *message.Response:
		*msg = message.Response{}
		if err := json.Unmarshal(data, msg); err != nil {
			return protocol.Malformed("decode response", err)
		}
		if err := msg.Validate(); err != nil {
			return protocol.Malformed("decode response", err)
		}
	default:
		return errors.New("JSONCodec: v must be *message.Request or *message.Response")
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
