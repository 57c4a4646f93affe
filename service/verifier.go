package service

import (
	"context"
	"crypto/subtle"

	"contest-rpc/model"
	"contest-rpc/store"

	"github.com/pkg/errors"
)

// CredentialVerifier checks a username and password and returns the user.
// Failures that are the caller's fault are *AuthError.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (*model.User, error)
}

// StoreVerifier compares against the secret kept in the user repository.
type StoreVerifier struct {
	Users store.UserRepository
}

func (v *StoreVerifier) Verify(ctx context.Context, username, password string) (*model.User, error) {
	rec, err := v.Users.FindUser(ctx, username)
	if errors.Cause(err) == store.ErrNotFound {
		return nil, &AuthError{Username: username}
	}
	if err != nil {
		return nil, errors.Wrap(err, "verify credentials")
	}
	if subtle.ConstantTimeCompare([]byte(rec.Password), []byte(password)) != 1 {
		return nil, &AuthError{Username: username}
	}
	user := rec.User
	return &user, nil
}
