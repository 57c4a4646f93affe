package server

import (
	"context"
	"errors"
	"fmt"

	"contest-rpc/message"
	"contest-rpc/session"
)

// handlerFunc serves one request type. A returned error becomes an ERROR
// response carrying err.Error().
type handlerFunc func(ctx context.Context, w *worker, req *message.Request) (*message.Response, error)

// handlers must have an entry for every tag in message.RequestTypes().
var handlers = map[message.RequestType]handlerFunc{
	message.RequestLogin:                  handleLogin,
	message.RequestLogout:                 handleLogout,
	message.RequestAddParticipant:         handleAddParticipant,
	message.RequestFindParticipantsByTeam: handleFindParticipantsByTeam,
	message.RequestFindRaces:              handleFindRaces,
	message.RequestFindEngineCapacities:   handleFindEngineCapacities,
}

var errLogoutOtherUser = errors.New("cannot log out another user")

// dispatch is the innermost handler of every connection's chain.
func (w *worker) dispatch(ctx context.Context, req *message.Request) *message.Response {
	handle, ok := handlers[req.Type]
	if !ok {
		return message.NewErrorResponse(fmt.Sprintf("unsupported request %s", req.Type))
	}
	if req.Type != message.RequestLogin && w.currentUser() == nil {
		return message.NewErrorResponse(session.ErrNotLoggedIn.Error())
	}

	resp, err := handle(ctx, w, req)
	if err != nil {
		return message.NewErrorResponse(err.Error())
	}
	return resp
}

func handleLogin(ctx context.Context, w *worker, req *message.Request) (*message.Response, error) {
	if w.currentUser() != nil {
		return nil, session.ErrAlreadyLoggedIn
	}
	user, err := w.svr.svc.Login(ctx, req.Username, req.Password, w)
	if err != nil {
		return nil, err
	}
	w.setUser(user)
	return message.NewLoginResponse(user), nil
}

func handleLogout(ctx context.Context, w *worker, req *message.Request) (*message.Response, error) {
	user := w.currentUser()
	if req.User.Username != user.Username {
		return nil, errLogoutOtherUser
	}
	if err := w.svr.svc.Logout(ctx, user); err != nil {
		return nil, err
	}
	w.setUser(nil)
	return message.NewOKResponse(), nil
}

func handleAddParticipant(ctx context.Context, w *worker, req *message.Request) (*message.Response, error) {
	p := req.Participant
	added, err := w.svr.svc.AddParticipant(ctx, p.FirstName, p.LastName, p.Team, p.EngineCapacity)
	if err != nil {
		return nil, err
	}
	return message.NewAddParticipantResponse(added), nil
}

func handleFindParticipantsByTeam(ctx context.Context, w *worker, req *message.Request) (*message.Response, error) {
	ps, err := w.svr.svc.FindParticipantsByTeam(ctx, req.Team)
	if err != nil {
		return nil, err
	}
	return message.NewParticipantsResponse(ps), nil
}

func handleFindRaces(ctx context.Context, w *worker, req *message.Request) (*message.Response, error) {
	races, err := w.svr.svc.FindAllRaces(ctx)
	if err != nil {
		return nil, err
	}
	return message.NewRacesResponse(races), nil
}

func handleFindEngineCapacities(ctx context.Context, w *worker, req *message.Request) (*message.Response, error) {
	capacities, err := w.svr.svc.FindAllRaceEngineCapacities(ctx)
	if err != nil {
		return nil, err
	}
	return message.NewEngineCapacitiesResponse(capacities), nil
}
