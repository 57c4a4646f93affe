// Package client is the typed proxy a contest front end talks to. Each
// method maps to one request on the wire; ERROR replies come back as
// *message.RemoteError.
package client

import (
	"context"
	"sync"
	"time"

	"contest-rpc/codec"
	"contest-rpc/log"
	"contest-rpc/message"
	"contest-rpc/model"
	"contest-rpc/transport"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Options tune a Client. The zero value is usable.
type Options struct {
	Codec        codec.CodecType
	Heartbeat    time.Duration
	MaxBodyLen   uint32
	WriteTimeout time.Duration
	Retry        RetryPolicy
}

type Client struct {
	t   *transport.ClientTransport
	log *logrus.Entry

	mu   sync.Mutex
	user *model.User
}

// NewClient creates a client that is not yet connected. Login dials a
// server chosen by resolver. observer receives pushes and may be nil.
func NewClient(resolver Resolver, observer transport.Observer, opts Options) *Client {
	entry := log.Component("client")
	dial := retryDialer(resolver, opts.Retry, entry)
	return &Client{
		t: transport.NewClientTransport(dial, observer, transport.Options{
			Codec:        opts.Codec,
			Heartbeat:    opts.Heartbeat,
			MaxBodyLen:   opts.MaxBodyLen,
			WriteTimeout: opts.WriteTimeout,
		}),
		log: entry,
	}
}

// User returns the logged-in user, or nil.
func (c *Client) User() *model.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Done is closed when the connection of the current session goes away.
func (c *Client) Done() <-chan struct{} {
	return c.t.Done()
}

func (c *Client) State() transport.State {
	return c.t.State()
}

func (c *Client) Login(ctx context.Context, username, password string) (*model.User, error) {
	user, err := c.t.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	return user, nil
}

// Logout ends the session and closes the connection.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	user := c.user
	c.user = nil
	c.mu.Unlock()
	if user == nil {
		return transport.ErrNotConnected
	}
	return c.t.Logout(ctx, user)
}

// Close drops the connection without logging out.
func (c *Client) Close() error {
	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()
	return c.t.Close()
}

func (c *Client) AddParticipant(ctx context.Context, firstName, lastName, team string, engineCapacity int32) (*model.Participant, error) {
	resp, err := c.call(ctx, message.NewAddParticipantRequest(firstName, lastName, team, engineCapacity))
	if err != nil {
		return nil, err
	}
	if resp.Participant == nil {
		return nil, errors.Wrap(transport.ErrUnexpectedReply, "add participant")
	}
	return resp.Participant, nil
}

func (c *Client) FindParticipantsByTeam(ctx context.Context, team string) ([]model.Participant, error) {
	resp, err := c.call(ctx, message.NewFindParticipantsByTeamRequest(team))
	if err != nil {
		return nil, err
	}
	return resp.Participants, nil
}

func (c *Client) FindAllRaces(ctx context.Context) ([]model.Race, error) {
	resp, err := c.call(ctx, message.NewFindRacesRequest())
	if err != nil {
		return nil, err
	}
	return resp.Races, nil
}

func (c *Client) FindAllRaceEngineCapacities(ctx context.Context) ([]int32, error) {
	resp, err := c.call(ctx, message.NewFindEngineCapacitiesRequest())
	if err != nil {
		return nil, err
	}
	return resp.EngineCapacities, nil
}

func (c *Client) call(ctx context.Context, req *message.Request) (*message.Response, error) {
	resp, err := c.t.Call(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s", req.Type)
	}
	if err := resp.Err(); err != nil {
		c.log.WithField("type", req.Type).WithError(err).Debug("server returned error")
		return nil, err
	}
	if resp.Type != message.ResponseOK {
		return nil, errors.Wrapf(transport.ErrUnexpectedReply, "%s to %s", resp.Type, req.Type)
	}
	return resp, nil
}
