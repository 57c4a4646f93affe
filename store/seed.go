package store

import (
	"context"
	"os"

	"contest-rpc/model"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Seed is the fixture format loaded at startup:
//
//	users:
//	  - {id: 1, first_name: Alice, last_name: Ionescu, username: alice, password: pw1}
//	races:
//	  - {id: 1, engine_capacity: 125}
//	participants:
//	  - {first_name: Ana, last_name: Pop, team: Honda, engine_capacity: 125}
type Seed struct {
	Users        []UserRecord      `yaml:"users"`
	Races        []model.Race      `yaml:"races"`
	Participants []SeedParticipant `yaml:"participants"`
}

// SeedParticipant gets a fresh ID when applied.
type SeedParticipant struct {
	FirstName      string `yaml:"first_name"`
	LastName       string `yaml:"last_name"`
	Team           string `yaml:"team"`
	EngineCapacity int32  `yaml:"engine_capacity"`
}

// LoadSeed reads a YAML fixture file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "seed: read")
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.UnmarshalStrict(data, &seed); err != nil {
		return nil, errors.Wrap(err, "seed: parse")
	}
	return &seed, nil
}

// DefaultSeed is used when no fixture file is configured.
func DefaultSeed() *Seed {
	return &Seed{
		Users: []UserRecord{
			{User: model.User{ID: 1, FirstName: "Alice", LastName: "Ionescu", Username: "alice"}, Password: "pw1"},
			{User: model.User{ID: 2, FirstName: "Bogdan", LastName: "Marin", Username: "bob"}, Password: "pw2"},
			{User: model.User{ID: 3, FirstName: "Carla", LastName: "Dinu", Username: "carol"}, Password: "pw3"},
		},
		Races: []model.Race{
			{ID: 1, EngineCapacity: 50},
			{ID: 2, EngineCapacity: 125},
			{ID: 3, EngineCapacity: 250},
			{ID: 4, EngineCapacity: 500},
		},
		Participants: []SeedParticipant{
			{FirstName: "Ana", LastName: "Pop", Team: "Honda", EngineCapacity: 125},
			{FirstName: "Mihai", LastName: "Stan", Team: "Honda", EngineCapacity: 250},
			{FirstName: "Ion", LastName: "Radu", Team: "Suzuki", EngineCapacity: 125},
		},
	}
}

// Apply writes the seed into s. Participants already present are skipped.
func (seed *Seed) Apply(ctx context.Context, s Store) error {
	for _, u := range seed.Users {
		if err := s.SaveUser(ctx, u); err != nil {
			return errors.Wrapf(err, "seed: user %s", u.Username)
		}
	}
	for _, r := range seed.Races {
		if err := s.SaveRace(ctx, r); err != nil {
			return errors.Wrapf(err, "seed: race %d", r.EngineCapacity)
		}
	}
	for _, sp := range seed.Participants {
		p := model.Participant{
			ID:             uuid.New(),
			FirstName:      sp.FirstName,
			LastName:       sp.LastName,
			Team:           sp.Team,
			EngineCapacity: sp.EngineCapacity,
		}
		if err := s.SaveParticipant(ctx, p); err != nil && errors.Cause(err) != ErrDuplicate {
			return errors.Wrapf(err, "seed: participant %s", p)
		}
	}
	return nil
}
