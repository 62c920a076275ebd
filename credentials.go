package cbclusterboot

import (
	"context"
)

// CredentialsProvider resolves the administrator credentials management
// calls authenticate with.  Implementations may defer to secret stores;
// NodeManager caches the first successful resolution for its lifetime.
type CredentialsProvider interface {
	Credentials(ctx context.Context) (username string, password string, err error)
}

// StaticCredentials returns the same credentials on every call.
type StaticCredentials struct {
	Username string
	Password string
}

var _ CredentialsProvider = (*StaticCredentials)(nil)

func (c *StaticCredentials) Credentials(ctx context.Context) (string, string, error) {
	return c.Username, c.Password, nil
}
