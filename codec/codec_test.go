package codec

import (
	"errors"
	"reflect"
	"testing"

	"contest-rpc/message"
	"contest-rpc/model"
	"contest-rpc/protocol"

	"github.com/google/uuid"
)

func sampleParticipant() *model.Participant {
	return &model.Participant{
		ID:             uuid.MustParse("6f1c2a9e-3b7d-4a51-9e0f-2d8c4b6a1e3f"),
		FirstName:      "Ana",
		LastName:       "Pop",
		Team:           "Honda",
		EngineCapacity: 125,
	}
}

func sampleRequests() []*message.Request {
	return []*message.Request{
		message.NewLoginRequest("alice", "pw1"),
		message.NewLoginRequest("bob", ""),
		message.NewLogoutRequest(&model.User{ID: 7, FirstName: "Alice", LastName: "Ionescu", Username: "alice"}),
		{Type: message.RequestAddParticipant, Participant: sampleParticipant()},
		message.NewFindParticipantsByTeamRequest("Honda"),
		message.NewFindParticipantsByTeamRequest(""),
		message.NewFindRacesRequest(),
		message.NewFindEngineCapacitiesRequest(),
	}
}

func sampleResponses() []*message.Response {
	p := sampleParticipant()
	return []*message.Response{
		message.NewOKResponse(),
		message.NewErrorResponse("already logged in"),
		message.NewConnectionClosedResponse(),
		message.NewParticipantAddedResponse(p),
		message.NewLoginResponse(&model.User{ID: 1, Username: "alice"}),
		message.NewAddParticipantResponse(p),
		message.NewParticipantsResponse([]model.Participant{*p, {ID: uuid.New(), FirstName: "Ion", Team: "Honda", EngineCapacity: -1}}),
		message.NewParticipantsResponse([]model.Participant{}),
		message.NewRacesResponse([]model.Race{{ID: 1, EngineCapacity: 125, NoParticipants: 2}, {ID: 2, EngineCapacity: 250}}),
		message.NewEngineCapacitiesResponse([]int32{125, 250, 500}),
		message.NewEngineCapacitiesResponse([]int32{}),
	}
}

func codecs() []Codec {
	return []Codec{GetCodec(CodecTypeJSON), GetCodec(CodecTypeBinary)}
}

func TestRequestRoundTrip(t *testing.T) {
	for _, c := range codecs() {
		for _, req := range sampleRequests() {
			data, err := c.Encode(req)
			if err != nil {
				t.Fatalf("%s: Encode(%s) failed: %v", c.Type(), req.Type, err)
			}
			var got message.Request
			if err := c.Decode(data, &got); err != nil {
				t.Fatalf("%s: Decode(%s) failed: %v", c.Type(), req.Type, err)
			}
			if !reflect.DeepEqual(*req, got) {
				t.Errorf("%s: round trip mismatch:\n want %+v\n got  %+v", c.Type(), *req, got)
			}
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	for _, c := range codecs() {
		for _, resp := range sampleResponses() {
			data, err := c.Encode(resp)
			if err != nil {
				t.Fatalf("%s: Encode(%s) failed: %v", c.Type(), resp.Type, err)
			}
			var got message.Response
			if err := c.Decode(data, &got); err != nil {
				t.Fatalf("%s: Decode(%s) failed: %v", c.Type(), resp.Type, err)
			}
			if !reflect.DeepEqual(*resp, got) {
				t.Errorf("%s: round trip mismatch:\n want %+v\n got  %+v", c.Type(), *resp, got)
			}
		}
	}
}

func TestDecodeResetsTarget(t *testing.T) {
	for _, c := range codecs() {
		data, err := c.Encode(message.NewFindRacesRequest())
		if err != nil {
			t.Fatal(err)
		}
		got := message.Request{Team: "stale"}
		if err := c.Decode(data, &got); err != nil {
			t.Fatal(err)
		}
		if got.Team != "" {
			t.Errorf("%s: decode kept a stale field: %+v", c.Type(), got)
		}
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	for _, c := range codecs() {
		if _, err := c.Encode(&message.Request{Type: message.RequestLogout}); err == nil {
			t.Errorf("%s: expect error for LOGOUT without user", c.Type())
		}
		if _, err := c.Encode(&message.Response{Type: 99}); err == nil {
			t.Errorf("%s: expect error for unknown response tag", c.Type())
		}
		if _, err := c.Encode("not a message"); err == nil {
			t.Errorf("%s: expect error for unsupported value", c.Type())
		}
	}
}

func assertMalformed(t *testing.T, name string, err error) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expect decode error", name)
	}
	var pe *protocol.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("%s: expect *protocol.ProtocolError, got %T: %v", name, err, err)
	}
	if protocol.IsFatal(err) {
		t.Fatalf("%s: payload errors must not be fatal: %v", name, err)
	}
}

func TestJSONDecodeMalformed(t *testing.T) {
	c := &JSONCodec{}
	cases := map[string]string{
		"unknown tag":   `{"type":"SHUTDOWN_SERVER"}`,
		"missing tag":   `{"team":"Honda"}`,
		"not json":      `{"type":`,
		"missing field": `{"type":"LOGOUT"}`,
		"wrong type":    `{"type":"LOGIN","username":12}`,
	}
	for name, body := range cases {
		var req message.Request
		assertMalformed(t, name, c.Decode([]byte(body), &req))
	}
	var resp message.Response
	assertMalformed(t, "push without participant", c.Decode([]byte(`{"type":"PARTICIPANT_ADDED"}`), &resp))
}

func TestBinaryDecodeMalformed(t *testing.T) {
	c := &BinaryCodec{}
	valid, err := c.Encode(message.NewLoginRequest("alice", "pw1"))
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string][]byte{
		"empty":          {},
		"unknown tag":    {0xEE},
		"zero tag":       {0x00},
		"truncated":      valid[:len(valid)-1],
		"trailing bytes": append(append([]byte{}, valid...), 0x01),
		"huge string":    {byte(message.RequestFindParticipantsByTeam), 0xFF, 0xFF, 0xFF, 0x7F},
		"bad varint":     {byte(message.RequestFindParticipantsByTeam), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	}
	for name, body := range cases {
		var req message.Request
		assertMalformed(t, name, c.Decode(body, &req))
	}

	// An OK response announcing a million capacities in a few bytes.
	huge := []byte{byte(message.ResponseOK), okCapacities, 0xC0, 0x84, 0x3D}
	var resp message.Response
	assertMalformed(t, "huge collection", c.Decode(huge, &resp))
}

func TestBinaryIsCompact(t *testing.T) {
	req := message.NewFindRacesRequest()
	data, err := (&BinaryCodec{}).Encode(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 1 {
		t.Fatalf("FIND_RACES should encode to the tag byte only, got %d bytes", len(data))
	}
}

func TestParseCodecType(t *testing.T) {
	for name, want := range map[string]CodecType{"json": CodecTypeJSON, "": CodecTypeJSON, "binary": CodecTypeBinary} {
		got, err := ParseCodecType(name)
		if err != nil || got != want {
			t.Errorf("ParseCodecType(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseCodecType("xml"); err == nil {
		t.Error("expect error for unknown codec name")
	}
}

func TestBinaryDecodeRejectsWideInt32(t *testing.T) {
	c := &BinaryCodec{}

	w := &writer{}
	w.byte(byte(message.RequestAddParticipant))
	w.uuid(uuid.New())
	w.string("Ana")
	w.string("Pop")
	w.string("Honda")
	w.varint(1<<32 + 125) // 截断后会变成 125
	var req message.Request
	assertMalformed(t, "wide engine capacity", c.Decode(w.buf, &req))

	w = &writer{}
	w.byte(byte(message.ResponseOK))
	w.byte(okCapacities)
	w.uvarint(1)
	w.varint(-1 << 40)
	var resp message.Response
	assertMalformed(t, "wide capacity entry", c.Decode(w.buf, &resp))
}
