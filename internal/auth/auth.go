// Package auth keeps the stored credentials: the bearer token and the user
// profile blob returned at login.
package auth

import (
	"fmt"
	"sync"

	"github.com/zulandar/droptrack/internal/models"
)

const (
	keyToken = "token"
	keyUser  = "user"
)

// KV is the subset of the key-value store credentials need.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(keys ...string) error
	GetJSON(key string, v any) (bool, error)
	SetJSON(key string, v any) error
}

// Credentials reads and writes the token and profile. The token is cached
// in memory after the first read.
type Credentials struct {
	kv KV

	mu     sync.Mutex
	token  string
	loaded bool
}

// New creates Credentials over kv.
func New(kv KV) (*Credentials, error) {
	if kv == nil {
		return nil, fmt.Errorf("auth: store is required")
	}
	return &Credentials{kv: kv}, nil
}

// Token returns the stored bearer token, or "" if none.
func (c *Credentials) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		tok, _, err := c.kv.Get(keyToken)
		if err != nil {
			return ""
		}
		c.token = tok
		c.loaded = true
	}
	return c.token
}

// SetToken stores tok.
func (c *Credentials) SetToken(tok string) error {
	if err := c.kv.Set(keyToken, tok); err != nil {
		return fmt.Errorf("auth: save token: %w", err)
	}
	c.mu.Lock()
	c.token = tok
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// User returns the stored profile. The bool is false when no profile is stored.
func (c *Credentials) User() (models.User, bool) {
	var u models.User
	ok, err := c.kv.GetJSON(keyUser, &u)
	if err != nil || !ok {
		return models.User{}, false
	}
	return u, true
}

// SetUser stores the profile.
func (c *Credentials) SetUser(u models.User) error {
	if err := c.kv.SetJSON(keyUser, u); err != nil {
		return fmt.Errorf("auth: save user: %w", err)
	}
	return nil
}

// Role returns the stored user's role tag, or "" when unknown.
func (c *Credentials) Role() string {
	u, _ := c.User()
	return u.Role
}

// Authenticated reports whether a token is stored.
func (c *Credentials) Authenticated() bool {
	return c.Token() != ""
}

// Clear removes the token and profile.
func (c *Credentials) Clear() error {
	c.mu.Lock()
	c.token = ""
	c.loaded = true
	c.mu.Unlock()
	if err := c.kv.Delete(keyToken, keyUser); err != nil {
		return fmt.Errorf("auth: clear: %w", err)
	}
	return nil
}

// CheckRole reports whether the stored user holds role. An empty role
// accepts any authenticated user.
func (c *Credentials) CheckRole(role string) error {
	if !c.Authenticated() {
		return fmt.Errorf("auth: not logged in")
	}
	if role == "" {
		return nil
	}
	u, ok := c.User()
	if !ok || u.Role != role {
		return fmt.Errorf("auth: role %q required", role)
	}
	return nil
}
