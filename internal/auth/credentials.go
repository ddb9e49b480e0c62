package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/openflea/fleachat/internal/model"
)

// ErrNoCredentials is returned when no bearer credential is available.
// Callers should prompt the user to re-run the external auth flow.
var ErrNoCredentials = errors.New("no credentials available")

// Credentials carry the bearer token and current-user identity issued by the
// external auth flow. The engine never refreshes them itself.
type Credentials struct {
	Token string            `json:"token"`
	User  model.Participant `json:"user"`
}

// Source supplies credentials to the REST client and the realtime channel.
type Source interface {
	Credentials() (Credentials, error)
}

// Static wraps fixed credentials, mainly for tests.
type Static Credentials

func (s Static) Credentials() (Credentials, error) {
	if s.Token == "" {
		return Credentials{}, ErrNoCredentials
	}
	return Credentials(s), nil
}

// FileSource reads credentials from a JSON file written by the auth flow.
// The file is re-read on every call so a token rotated on disk is picked up
// without restarting the session.
type FileSource struct {
	Path string
}

func (f FileSource) Credentials() (Credentials, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, ErrNoCredentials
		}
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.Token == "" {
		return Credentials{}, ErrNoCredentials
	}
	return creds, nil
}
