// Package codec turns message.Request and message.Response values into frame
// bodies and back. The codec byte in the frame header selects the format.
package codec

import (
	"fmt"

	"contest-rpc/protocol"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = CodecType(protocol.CodecTypeJSON)
	CodecTypeBinary CodecType = CodecType(protocol.CodecTypeBinary)
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

// Codec encodes and decodes *message.Request and *message.Response.
//
// Decode errors caused by the payload (unknown tag, missing field, bad
// encoding) are non-fatal *protocol.ProtocolError values: the frame was read
// intact, so the connection can continue.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}

// ParseCodecType maps a configuration name to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "json", "":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec %q", name)
	}
}
