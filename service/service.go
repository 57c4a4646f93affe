// Package service implements the contest business logic the dispatcher
// calls into: authentication, sessions, and the participant and race
// operations.
package service

import (
	"context"
	"strings"

	"contest-rpc/log"
	"contest-rpc/message"
	"contest-rpc/model"
	"contest-rpc/session"
	"contest-rpc/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Service is the business surface exposed to clients.
type Service interface {
	Login(ctx context.Context, username, password string, obs session.Observer) (*model.User, error)
	Logout(ctx context.Context, user *model.User) error
	AddParticipant(ctx context.Context, firstName, lastName, team string, engineCapacity int32) (*model.Participant, error)
	FindParticipantsByTeam(ctx context.Context, team string) ([]model.Participant, error)
	FindAllRaces(ctx context.Context) ([]model.Race, error)
	FindAllRaceEngineCapacities(ctx context.Context) ([]int32, error)
}

type ContestService struct {
	store    store.Store
	verifier CredentialVerifier
	sessions *session.Registry
	log      *logrus.Entry
}

func NewContestService(st store.Store, verifier CredentialVerifier, sessions *session.Registry) *ContestService {
	if verifier == nil {
		verifier = &StoreVerifier{Users: st}
	}
	return &ContestService{
		store:    st,
		verifier: verifier,
		sessions: sessions,
		log:      log.Component("service"),
	}
}

// Sessions exposes the registry, e.g. for the admin endpoint.
func (s *ContestService) Sessions() *session.Registry {
	return s.sessions
}

// Login checks for an existing session before looking at the credentials,
// so a second login for an active user fails the same way whatever password
// it carries.
func (s *ContestService) Login(ctx context.Context, username, password string, obs session.Observer) (*model.User, error) {
	entry := s.log.WithField("user", username)
	if _, ok := s.sessions.Lookup(username); ok {
		entry.Warn("login rejected: already logged in")
		return nil, session.ErrAlreadyLoggedIn
	}

	user, err := s.verifier.Verify(ctx, username, password)
	if err != nil {
		entry.WithError(err).Warn("login rejected")
		return nil, err
	}

	// The registry makes the final decision when two logins race.
	if err := s.sessions.Register(username, obs); err != nil {
		entry.Warn("login rejected: already logged in")
		return nil, err
	}
	entry.Info("user logged in")
	return user, nil
}

func (s *ContestService) Logout(ctx context.Context, user *model.User) error {
	if _, err := s.sessions.Unregister(user.Username); err != nil {
		return err
	}
	s.log.WithField("user", user.Username).Info("user logged out")
	return nil
}

// AddParticipant stores a new participant and pushes PARTICIPANT_ADDED to
// every logged-in client, the one that added it included.
func (s *ContestService) AddParticipant(ctx context.Context, firstName, lastName, team string, engineCapacity int32) (*model.Participant, error) {
	firstName, lastName, team = strings.TrimSpace(firstName), strings.TrimSpace(lastName), strings.TrimSpace(team)
	if firstName == "" || lastName == "" || team == "" {
		return nil, ErrInvalidParticipant
	}

	if _, err := s.store.FindRaceByCapacity(ctx, engineCapacity); err != nil {
		if errors.Cause(err) == store.ErrNotFound {
			return nil, ErrUnknownEngineCapacity
		}
		return nil, errors.Wrap(err, "add participant")
	}

	// nothing is stored for a caller that already gave up
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "add participant")
	}

	p := model.Participant{
		ID:             uuid.New(),
		FirstName:      firstName,
		LastName:       lastName,
		Team:           team,
		EngineCapacity: engineCapacity,
	}
	if err := s.store.SaveParticipant(ctx, p); err != nil {
		if errors.Cause(err) == store.ErrDuplicate {
			return nil, ErrDuplicateParticipant
		}
		return nil, errors.Wrap(err, "add participant")
	}

	n := s.sessions.Broadcast(message.NewParticipantAddedResponse(&p))
	s.log.WithFields(logrus.Fields{"participant": p.ID, "notified": n}).Info("participant added")
	return &p, nil
}

func (s *ContestService) FindParticipantsByTeam(ctx context.Context, team string) ([]model.Participant, error) {
	ps, err := s.store.FindParticipantsByTeam(ctx, strings.TrimSpace(team))
	if err != nil {
		return nil, errors.Wrap(err, "find participants by team")
	}
	if len(ps) == 0 {
		return nil, ErrTeamNotFound
	}
	return ps, nil
}

// FindAllRaces returns every race with its participant count filled in.
func (s *ContestService) FindAllRaces(ctx context.Context) ([]model.Race, error) {
	races, err := s.store.FindAllRaces(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "find races")
	}
	for i := range races {
		n, err := s.store.CountByEngineCapacity(ctx, races[i].EngineCapacity)
		if err != nil {
			return nil, errors.Wrap(err, "count participants")
		}
		races[i].NoParticipants = n
	}
	return races, nil
}

func (s *ContestService) FindAllRaceEngineCapacities(ctx context.Context) ([]int32, error) {
	races, err := s.store.FindAllRaces(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "find engine capacities")
	}
	capacities := make([]int32, 0, len(races))
	for _, r := range races {
		capacities = append(capacities, r.EngineCapacity)
	}
	return capacities, nil
}
