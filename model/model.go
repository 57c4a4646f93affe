// Package model defines the contest entities exchanged between client and server.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// User is an operator account that can log in to the contest server.
type User struct {
	ID        int64  `json:"id" yaml:"id"`
	FirstName string `json:"first_name" yaml:"first_name"`
	LastName  string `json:"last_name" yaml:"last_name"`
	Username  string `json:"username" yaml:"username"`
}

func (u User) String() string {
	return fmt.Sprintf("User{id=%d, username=%s}", u.ID, u.Username)
}

// Participant is a rider registered in the contest.
type Participant struct {
	ID             uuid.UUID `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Team           string    `json:"team"`
	EngineCapacity int32     `json:"engine_capacity"`
}

// SameFields reports whether two participants carry the same rider data,
// ignoring the generated ID.
func (p Participant) SameFields(o Participant) bool {
	return p.FirstName == o.FirstName &&
		p.LastName == o.LastName &&
		p.Team == o.Team &&
		p.EngineCapacity == o.EngineCapacity
}

func (p Participant) String() string {
	return fmt.Sprintf("Participant{%s %s, team=%s, cc=%d}", p.FirstName, p.LastName, p.Team, p.EngineCapacity)
}

// Race is the race held for one engine capacity class.
// NoParticipants is derived from the participants with the same capacity.
type Race struct {
	ID             int64 `json:"id" yaml:"id"`
	EngineCapacity int32 `json:"engine_capacity" yaml:"engine_capacity"`
	NoParticipants int32 `json:"no_participants" yaml:"-"`
}
