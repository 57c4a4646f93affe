package codec

import (
	"errors"
	"fmt"

	"contest-rpc/message"
	"contest-rpc/model"
	"contest-rpc/protocol"
)

// BinaryCodec writes a tag byte followed by only the fields of that variant.
// Strings and list lengths are varint-prefixed; integers are zigzag varints;
// UUIDs are their 16 raw bytes.
type BinaryCodec struct{}

// OK responses may carry any subset of payload parts; a presence byte says which.
const (
	okUser byte = 1 << iota
	okParticipant
	okParticipants
	okRaces
	okCapacities
)

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	w := &writer{buf: make([]byte, 0, 64)}
	switch msg := v.(type) {
	case *message.Request:
		if err := encodeRequest(w, msg); err != nil {
			return nil, err
		}
	case *message.Response:
		if err := encodeResponse(w, msg); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("BinaryCodec: v must be *message.Request or *message.Response")
	}
	return w.buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	r := &reader{buf: data}
	switch msg := v.(type) {
	case *message.Request:
		*msg = message.Request{}
		if err := decodeRequest(r, msg); err != nil {
			return protocol.Malformed("decode request", err)
		}
		if err := msg.Validate(); err != nil {
			return protocol.Malformed("decode request", err)
		}
	case *message.Response:
		*msg = message.Response{}
		if err := decodeResponse(r, msg); err != nil {
			return protocol.Malformed("decode response", err)
		}
		if err := msg.Validate(); err != nil {
			return protocol.Malformed("decode response", err)
		}
	default:
		return errors.New("BinaryCodec: v must be *message.Request or *message.Response")
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func encodeRequest(w *writer, req *message.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	w.byte(byte(req.Type))
	switch req.Type {
	case message.RequestLogin:
		w.string(req.Username)
		w.string(req.Password)
	case message.RequestLogout:
		writeUser(w, req.User)
	case message.RequestAddParticipant:
		writeParticipant(w, req.Participant)
	case message.RequestFindParticipantsByTeam:
		w.string(req.Team)
	case message.RequestFindRaces, message.RequestFindEngineCapacities:
	}
	return nil
}

func decodeRequest(r *reader, req *message.Request) error {
	req.Type = message.RequestType(r.byte())
	if r.err == nil && !req.Type.Valid() {
		return fmt.Errorf("unknown request tag %d", req.Type)
	}
	switch req.Type {
	case message.RequestLogin:
		req.Username = r.string()
		req.Password = r.string()
	case message.RequestLogout:
		req.User = readUser(r)
	case message.RequestAddParticipant:
		req.Participant = readParticipant(r)
	case message.RequestFindParticipantsByTeam:
		req.Team = r.string()
	}
	return r.done()
}

func encodeResponse(w *writer, resp *message.Response) error {
	if err := resp.Validate(); err != nil {
		return err
	}
	w.byte(byte(resp.Type))
	switch resp.Type {
	case message.ResponseOK:
		var present byte
		if resp.User != nil {
			present |= okUser
		}
		if resp.Participant != nil {
			present |= okParticipant
		}
		if resp.Participants != nil {
			present |= okParticipants
		}
		if resp.Races != nil {
			present |= okRaces
		}
		if resp.EngineCapacities != nil {
			present |= okCapacities
		}
		w.byte(present)
		if resp.User != nil {
			writeUser(w, resp.User)
		}
		if resp.Participant != nil {
			writeParticipant(w, resp.Participant)
		}
		if resp.Participants != nil {
			w.uvarint(uint64(len(resp.Participants)))
			for i := range resp.Participants {
				writeParticipant(w, &resp.Participants[i])
			}
		}
		if resp.Races != nil {
			w.uvarint(uint64(len(resp.Races)))
			for _, race := range resp.Races {
				w.varint(race.ID)
				w.varint(int64(race.EngineCapacity))
				w.varint(int64(race.NoParticipants))
			}
		}
		if resp.EngineCapacities != nil {
			w.uvarint(uint64(len(resp.EngineCapacities)))
			for _, capacity := range resp.EngineCapacities {
				w.varint(int64(capacity))
			}
		}
	case message.ResponseError:
		w.string(resp.Error)
	case message.ResponseConnectionClosed:
	case message.ResponseParticipantAdded:
		writeParticipant(w, resp.Participant)
	}
	return nil
}

func decodeResponse(r *reader, resp *message.Response) error {
	resp.Type = message.ResponseType(r.byte())
	if r.err == nil && !resp.Type.Valid() {
		return fmt.Errorf("unknown response tag %d", resp.Type)
	}
	switch resp.Type {
	case message.ResponseOK:
		present := r.byte()
		if present&okUser != 0 {
			resp.User = readUser(r)
		}
		if present&okParticipant != 0 {
			resp.Participant = readParticipant(r)
		}
		if present&okParticipants != 0 {
			n := r.count(participantMinSize)
			resp.Participants = make([]model.Participant, 0, n)
			for i := 0; i < n && r.err == nil; i++ {
				resp.Participants = append(resp.Participants, *readParticipant(r))
			}
		}
		if present&okRaces != 0 {
			n := r.count(3)
			resp.Races = make([]model.Race, 0, n)
			for i := 0; i < n && r.err == nil; i++ {
				resp.Races = append(resp.Races, model.Race{
					ID:             r.varint(),
					EngineCapacity: r.int32(),
					NoParticipants: r.int32(),
				})
			}
		}
		if present&okCapacities != 0 {
			n := r.count(1)
			resp.EngineCapacities = make([]int32, 0, n)
			for i := 0; i < n && r.err == nil; i++ {
				resp.EngineCapacities = append(resp.EngineCapacities, r.int32())
			}
		}
	case message.ResponseError:
		resp.Error = r.string()
	case message.ResponseParticipantAdded:
		resp.Participant = readParticipant(r)
	}
	return r.done()
}

// uuid + three empty strings + one varint
const participantMinSize = 16 + 3 + 1

func writeParticipant(w *writer, p *model.Participant) {
	w.uuid(p.ID)
	w.string(p.FirstName)
	w.string(p.LastName)
	w.string(p.Team)
	w.varint(int64(p.EngineCapacity))
}

func readParticipant(r *reader) *model.Participant {
	return &model.Participant{
		ID:             r.uuid(),
		FirstName:      r.string(),
		LastName:       r.string(),
		Team:           r.string(),
		EngineCapacity: r.int32(),
	}
}

func writeUser(w *writer, u *model.User) {
	w.varint(u.ID)
	w.string(u.FirstName)
	w.string(u.LastName)
	w.string(u.Username)
}

func readUser(r *reader) *model.User {
	return &model.User{
		ID:        r.varint(),
		FirstName: r.string(),
		LastName:  r.string(),
		Username:  r.string(),
	}
}
