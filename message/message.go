// Package message defines the tagged-union messages exchanged between the
// contest client and server.
//
// A Request or Response is exactly one variant, named by its Type. Only the
// fields relevant to that variant are meaningful; codecs encode nothing else.
//
//	Request:  LOGIN(username, password) | LOGOUT(user) | ADD_PARTICIPANT(participant)
//	          FIND_PARTICIPANTS_BY_TEAM(team) | FIND_RACES | FIND_ENGINE_CAPACITIES
//	Response: OK(user? participant? participants? races? engineCapacities?)
//	          ERROR(message) | CONNECTION_CLOSED | PARTICIPANT_ADDED(participant)
package message

import (
	"errors"
	"fmt"

	"contest-rpc/model"
)

// ErrMissingField is returned by Validate when a variant lacks a required field.
var ErrMissingField = errors.New("message: missing field")

// Request is one RPC call issued by a client.
type Request struct {
	Type        RequestType        `json:"type"`
	Username    string             `json:"username,omitempty"`
	Password    string             `json:"password,omitempty"`
	User        *model.User        `json:"user,omitempty"`
	Participant *model.Participant `json:"participant,omitempty"`
	Team        string             `json:"team,omitempty"`
}

// Validate checks that the variant carries the fields it needs.
func (r *Request) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("message: unknown request type %d", r.Type)
	}
	switch r.Type {
	case RequestLogin:
		if r.Username == "" {
			return fmt.Errorf("%w: %s requires username", ErrMissingField, r.Type)
		}
	case RequestLogout:
		if r.User == nil {
			return fmt.Errorf("%w: %s requires user", ErrMissingField, r.Type)
		}
	case RequestAddParticipant:
		if r.Participant == nil {
			return fmt.Errorf("%w: %s requires participant", ErrMissingField, r.Type)
		}
	}
	return nil
}

func NewLoginRequest(username, password string) *Request {
	return &Request{Type: RequestLogin, Username: username, Password: password}
}

func NewLogoutRequest(user *model.User) *Request {
	return &Request{Type: RequestLogout, User: user}
}

func NewAddParticipantRequest(firstName, lastName, team string, engineCapacity int32) *Request {
	return &Request{
		Type: RequestAddParticipant,
		Participant: &model.Participant{
			FirstName:      firstName,
			LastName:       lastName,
			Team:           team,
			EngineCapacity: engineCapacity,
		},
	}
}

func NewFindParticipantsByTeamRequest(team string) *Request {
	return &Request{Type: RequestFindParticipantsByTeam, Team: team}
}

func NewFindRacesRequest() *Request {
	return &Request{Type: RequestFindRaces}
}

func NewFindEngineCapacitiesRequest() *Request {
	return &Request{Type: RequestFindEngineCapacities}
}

// Response is either the reply to one Request or an unsolicited push.
//
// Slices are not tagged omitempty so that an empty result and an absent
// result stay distinguishable on the wire.
type Response struct {
	Type             ResponseType        `json:"type"`
	Error            string              `json:"error,omitempty"`
	User             *model.User         `json:"user,omitempty"`
	Participant      *model.Participant  `json:"participant,omitempty"`
	Participants     []model.Participant `json:"participants"`
	Races            []model.Race        `json:"races"`
	EngineCapacities []int32             `json:"engine_capacities"`
}

// IsPush reports whether the response is an unsolicited notification.
func (r *Response) IsPush() bool {
	return r.Type.IsPush()
}

// Err converts an ERROR response into a Go error; other variants return nil.
func (r *Response) Err() error {
	if r.Type != ResponseError {
		return nil
	}
	return &RemoteError{Message: r.Error}
}

// Validate checks that the variant carries the fields it needs.
func (r *Response) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("message: unknown response type %d", r.Type)
	}
	if r.Type == ResponseParticipantAdded && r.Participant == nil {
		return fmt.Errorf("%w: %s requires participant", ErrMissingField, r.Type)
	}
	return nil
}

// RemoteError is an ERROR response surfaced as a Go error on the client.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

func NewOKResponse() *Response {
	return &Response{Type: ResponseOK}
}

func NewErrorResponse(msg string) *Response {
	return &Response{Type: ResponseError, Error: msg}
}

func NewConnectionClosedResponse() *Response {
	return &Response{Type: ResponseConnectionClosed}
}

func NewLoginResponse(user *model.User) *Response {
	return &Response{Type: ResponseOK, User: user}
}

func NewAddParticipantResponse(p *model.Participant) *Response {
	return &Response{Type: ResponseOK, Participant: p}
}

func NewParticipantAddedResponse(p *model.Participant) *Response {
	return &Response{Type: ResponseParticipantAdded, Participant: p}
}

func NewParticipantsResponse(ps []model.Participant) *Response {
	return &Response{Type: ResponseOK, Participants: ps}
}

func NewRacesResponse(races []model.Race) *Response {
	return &Response{Type: ResponseOK, Races: races}
}

func NewEngineCapacitiesResponse(capacities []int32) *Response {
	return &Response{Type: ResponseOK, EngineCapacities: capacities}
}
