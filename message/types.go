package message

import "fmt"

// RequestType is the tag of a Request.
type RequestType uint8

const (
	RequestLogin RequestType = iota + 1
	RequestLogout
	RequestAddParticipant
	RequestFindParticipantsByTeam
	RequestFindRaces
	RequestFindEngineCapacities
)

var requestTypeNames = map[RequestType]string{
	RequestLogin:                  "LOGIN",
	RequestLogout:                 "LOGOUT",
	RequestAddParticipant:         "ADD_PARTICIPANT",
	RequestFindParticipantsByTeam: "FIND_PARTICIPANTS_BY_TEAM",
	RequestFindRaces:              "FIND_RACES",
	RequestFindEngineCapacities:   "FIND_ENGINE_CAPACITIES",
}

// RequestTypes lists every request tag in wire order.
func RequestTypes() []RequestType {
	return []RequestType{
		RequestLogin,
		RequestLogout,
		RequestAddParticipant,
		RequestFindParticipantsByTeam,
		RequestFindRaces,
		RequestFindEngineCapacities,
	}
}

func (t RequestType) Valid() bool {
	_, ok := requestTypeNames[t]
	return ok
}

func (t RequestType) String() string {
	if name, ok := requestTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("REQUEST(%d)", uint8(t))
}

func (t RequestType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("message: unknown request type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *RequestType) UnmarshalText(text []byte) error {
	for tag, name := range requestTypeNames {
		if name == string(text) {
			*t = tag
			return nil
		}
	}
	return fmt.Errorf("message: unknown request type %q", text)
}

// ResponseType is the tag of a Response.
type ResponseType uint8

const (
	ResponseOK ResponseType = iota + 1
	ResponseError
	ResponseConnectionClosed
	ResponseParticipantAdded
)

type responseTypeInfo struct {
	name string
	// push responses are unsolicited and never answer a pending call.
	push bool
}

// responseTypes is the single place that decides which tags bypass the
// pending-reply slot. A new tag must be listed here explicitly.
var responseTypes = map[ResponseType]responseTypeInfo{
	ResponseOK:               {name: "OK"},
	ResponseError:            {name: "ERROR"},
	ResponseConnectionClosed: {name: "CONNECTION_CLOSED"},
	ResponseParticipantAdded: {name: "PARTICIPANT_ADDED", push: true},
}

// ResponseTypes lists every response tag in wire order.
func ResponseTypes() []ResponseType {
	return []ResponseType{
		ResponseOK,
		ResponseError,
		ResponseConnectionClosed,
		ResponseParticipantAdded,
	}
}

// PushTypes lists the response tags that are push notifications.
func PushTypes() []ResponseType {
	var out []ResponseType
	for _, t := range ResponseTypes() {
		if t.IsPush() {
			out = append(out, t)
		}
	}
	return out
}

func (t ResponseType) Valid() bool {
	_, ok := responseTypes[t]
	return ok
}

func (t ResponseType) IsPush() bool {
	return responseTypes[t].push
}

func (t ResponseType) String() string {
	if info, ok := responseTypes[t]; ok {
		return info.name
	}
	return fmt.Sprintf("RESPONSE(%d)", uint8(t))
}

func (t ResponseType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("message: unknown response type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *ResponseType) UnmarshalText(text []byte) error {
	for tag, info := range responseTypes {
		if info.name == string(text) {
			*t = tag
			return nil
		}
	}
	return fmt.Errorf("message: unknown response type %q", text)
}
