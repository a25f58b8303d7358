// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/danielhkuo/faceattend/models"
)

var (
	ErrNotLoggedIn       = errors.New("not logged in")
	ErrWrongRole         = errors.New("wrong role for this screen")
	ErrInvalidAdminLogin = errors.New("invalid admin username or password")
)

// Default admin credentials, used when no hash is configured
const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin123"
)

// TokenSetter receives the bearer token of the logged-in user.
// *apiclient.Client implements it.
type TokenSetter interface {
	SetToken(token string)
}

// Identity holds the logged-in user of one screen. The user lives only in
// memory and is gone after Clear.
type Identity struct {
	tokens TokenSetter

	mu   sync.RWMutex
	user *models.LoggedUser
}

// NewIdentity returns an empty identity. tokens may be nil.
func NewIdentity(tokens TokenSetter) *Identity {
	return &Identity{tokens: tokens}
}

// Set replaces the current user and forwards its token.
func (i *Identity) Set(u models.LoggedUser) {
	i.mu.Lock()
	i.user = &u
	i.mu.Unlock()

	if i.tokens != nil {
		i.tokens.SetToken(u.Token)
	}
}

// Current returns a copy of the logged-in user.
func (i *Identity) Current() (models.LoggedUser, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.user == nil {
		return models.LoggedUser{}, false
	}
	return *i.user, true
}

// Require returns the current user if it has the given role.
func (i *Identity) Require(role string) (models.LoggedUser, error) {
	u, ok := i.Current()
	if !ok {
		return models.LoggedUser{}, ErrNotLoggedIn
	}
	if u.Role != role {
		return models.LoggedUser{}, fmt.Errorf("%w: %s is %s, need %s", ErrWrongRole, u.UserID, u.Role, role)
	}
	return u, nil
}

// Clear forgets the user and its token.
func (i *Identity) Clear() {
	i.mu.Lock()
	i.user = nil
	i.mu.Unlock()

	if i.tokens != nil {
		i.tokens.SetToken("")
	}
}

// AdminGate checks admin credentials locally before the admin screen talks
// to the backend.
type AdminGate struct {
	username string
	hash     []byte
}

// NewAdminGate builds a gate from a bcrypt hash. With an empty hash the
// default password is accepted.
func NewAdminGate(username, passwordHash string) (*AdminGate, error) {
	if username == "" {
		username = DefaultAdminUsername
	}

	if passwordHash == "" {
		h, err := bcrypt.GenerateFromPassword([]byte(DefaultAdminPassword), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash default admin password: %w", err)
		}
		return &AdminGate{username: username, hash: h}, nil
	}

	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("invalid admin password hash: %w", err)
	}
	return &AdminGate{username: username, hash: []byte(passwordHash)}, nil
}

// Check returns ErrInvalidAdminLogin unless both fields match.
func (g *AdminGate) Check(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(g.username)) == 1
	// Always run bcrypt so a wrong username costs the same as a wrong password
	pwErr := bcrypt.CompareHashAndPassword(g.hash, []byte(password))
	if !userOK || pwErr != nil {
		return ErrInvalidAdminLogin
	}
	return nil
}

// Login checks the credentials and, on success, stores the admin in id.
func (g *AdminGate) Login(id *Identity, username, password string) error {
	if err := g.Check(username, password); err != nil {
		return err
	}
	id.Set(models.LoggedUser{UserID: username, Name: username, Role: models.RoleAdmin})
	return nil
}

// HashPassword returns the bcrypt hash to put in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}
