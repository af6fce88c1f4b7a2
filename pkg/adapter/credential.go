package adapter

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
)

// Credentials is the stored login pair for the suite auth page.
type Credentials struct {
	Email    string
	Password string
}

// CredentialStore is the read-only credential collaborator consumed by
// the auto-login machine.
type CredentialStore interface {
	Credentials(ctx context.Context) (*Credentials, error)
	TOTPSecret(ctx context.Context) (string, error)
}

// StaticCredentialStore holds fixed credentials, typically sourced from
// the environment by the host shell.
type StaticCredentialStore struct {
	Email    string
	Password string
	Secret   string
}

// NewCredentialStoreFromEnv reads DESKSHELL_EMAIL, DESKSHELL_PASSWORD
// and DESKSHELL_TOTP_SECRET.
func NewCredentialStoreFromEnv() *StaticCredentialStore {
	return &StaticCredentialStore{
		Email:    os.Getenv("DESKSHELL_EMAIL"),
		Password: os.Getenv("DESKSHELL_PASSWORD"),
		Secret:   os.Getenv("DESKSHELL_TOTP_SECRET"),
	}
}

func (s *StaticCredentialStore) Credentials(ctx context.Context) (*Credentials, error) {
	if s.Email == "" || s.Password == "" {
		return nil, goerr.New("credentials not configured")
	}
	return &Credentials{Email: s.Email, Password: s.Password}, nil
}

func (s *StaticCredentialStore) TOTPSecret(ctx context.Context) (string, error) {
	if s.Secret == "" {
		return "", goerr.New("TOTP secret not configured")
	}
	return s.Secret, nil
}
