// Package store persists users, races and participants behind repository
// interfaces, with an in-memory and a Redis implementation.
package store

import (
	"context"
	"errors"
	"sort"

	"contest-rpc/model"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate participant")
)

// UserRecord is a user together with the secret the credential verifier
// checks. The secret never leaves the server.
type UserRecord struct {
	model.User `yaml:",inline"`
	Password   string `yaml:"password"`
}

type UserRepository interface {
	FindUser(ctx context.Context, username string) (*UserRecord, error)
	SaveUser(ctx context.Context, u UserRecord) error
}

type RaceRepository interface {
	// FindAllRaces returns races ordered by engine capacity. NoParticipants
	// is left zero; callers derive it from the participants.
	FindAllRaces(ctx context.Context) ([]model.Race, error)
	FindRaceByCapacity(ctx context.Context, engineCapacity int32) (*model.Race, error)
	SaveRace(ctx context.Context, r model.Race) error
}

type ParticipantRepository interface {
	// SaveParticipant fails with ErrDuplicate when a participant with the same
	// name, team and engine capacity exists.
	SaveParticipant(ctx context.Context, p model.Participant) error
	FindParticipantsByTeam(ctx context.Context, team string) ([]model.Participant, error)
	CountByEngineCapacity(ctx context.Context, engineCapacity int32) (int32, error)
}

// Store is the full persistence surface used by the service layer.
type Store interface {
	UserRepository
	RaceRepository
	ParticipantRepository
	Close() error
}

func sortParticipants(ps []model.Participant) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		return a.ID.String() < b.ID.String()
	})
}

func sortRaces(rs []model.Race) {
	sort.Slice(rs, func(i, j int) bool {
		return rs[i].EngineCapacity < rs[j].EngineCapacity
	})
}
