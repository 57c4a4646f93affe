// Package protocol implements the binary frame protocol spoken between the
// contest client and server.
//
// Every frame is a fixed 14-byte header followed by a variable-length body.
// The receiver reads the header first to learn the body length, then reads
// exactly that many bytes, so frame boundaries survive TCP's byte stream.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ crp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// A request carries the seq chosen by the client; the server echoes it on the
// reply. Push notifications are not correlated to any request and carry seq 0.
package protocol

import (
	"encoding/binary"
	"io"
)

// Magic number bytes: "crp" (contest rpc protocol).
// Rejects non-protocol connections (e.g., HTTP clients hitting the wrong port).
const (
	MagicNumber byte = 0x63 // 'c'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)
)

// Body size limits. A header announcing more than the configured limit is
// rejected before anything is allocated.
const (
	DefaultMaxBodyLen uint32 = 4 * 1024 * 1024
	HardMaxBodyLen    uint32 = 16 * 1024 * 1024
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server RPC request
	MsgTypeResponse  MsgType = 1 // Server → Client reply or push
	MsgTypeHeartbeat MsgType = 2 // KeepAlive probe (no body)
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRequest:
		return "request"
	case MsgTypeResponse:
		return "response"
	case MsgTypeHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Codec type constants, mirrored from the codec package to avoid a circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header represents the fixed 14-byte frame header.
type Header struct {
	CodecType byte    // Serialization format: 0=JSON, 1=Binary
	MsgType   MsgType // Request, Response, or Heartbeat
	Seq       uint32  // Echoed by the server; 0 on push frames
	BodyLen   uint32  // Body length in bytes
}

// Encode writes a complete frame (header + body) to w.
// BodyLen is taken from len(body), so the prefix always matches the payload.
// The caller must hold a write lock if multiple goroutines share the same
// writer, otherwise frames interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint64(len(body)) > uint64(HardMaxBodyLen) {
		return &ProtocolError{Op: "encode", Fatal: true, Err: ErrFrameTooLarge}
	}
	h.BodyLen = uint32(len(body))

	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)

	// Header and body go out in one write so a concurrent reader on the
	// other side never observes a half-written frame followed by a stall.
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame using DefaultMaxBodyLen.
func Decode(r io.Reader) (*Header, []byte, error) {
	return DecodeLimit(r, DefaultMaxBodyLen)
}

// DecodeLimit reads a complete frame (header + body) from r, rejecting bodies
// longer than maxBodyLen.
//
// io.EOF is returned untouched when the stream ends cleanly before a header;
// a frame cut short yields io.ErrUnexpectedEOF. Malformed headers yield a
// fatal *ProtocolError.
func DecodeLimit(r io.Reader, maxBodyLen uint32) (*Header, []byte, error) {
	if maxBodyLen == 0 || maxBodyLen > HardMaxBodyLen {
		maxBodyLen = HardMaxBodyLen
	}

	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	h, err := parseHeader(headerBuf)
	if err != nil {
		return nil, nil, err
	}

	if h.BodyLen > maxBodyLen {
		return nil, nil, &ProtocolError{Op: "decode", Fatal: true, Err: ErrFrameTooLarge}
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, nil, err
	}

	return h, body, nil
}

func parseHeader(buf []byte) (*Header, error) {
	if buf[0] != MagicNumber || buf[1] != MagicByte2 || buf[2] != MagicByte3 {
		return nil, fatalf("invalid magic number: %x", buf[0:3])
	}
	if buf[3] != Version {
		return nil, fatalf("unsupported version: %d", buf[3])
	}
	if buf[4] != CodecTypeJSON && buf[4] != CodecTypeBinary {
		return nil, fatalf("unsupported codec type: %d", buf[4])
	}
	msgType := MsgType(buf[5])
	if msgType != MsgTypeRequest && msgType != MsgTypeResponse && msgType != MsgTypeHeartbeat {
		return nil, fatalf("unsupported message type: %d", buf[5])
	}

	return &Header{
		CodecType: buf[4],
		MsgType:   msgType,
		Seq:       binary.BigEndian.Uint32(buf[6:10]),
		BodyLen:   binary.BigEndian.Uint32(buf[10:14]),
	}, nil
}
