package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParticipant    = errors.New("first name, last name and team are required")
	ErrUnknownEngineCapacity = errors.New("no race for this engine capacity")
	ErrDuplicateParticipant  = errors.New("the participant already exists")
	ErrTeamNotFound          = errors.New("no participants for this team")
)

// AuthError reports a failed credential check. The message is the same for
// an unknown user and a wrong password.
type AuthError struct {
	Username string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("invalid credentials for user %q", e.Username)
}
