// Package auth holds the cosmetic credential gate of the lab and the
// short-lived entry pass that links a successful check to the session start.
//
// The check is an exact comparison against one configured pair. It has no
// hashing, no retry limit and no lockout, and is not a security boundary.
package auth

import (
	"context"
	"crypto/subtle"

	"github.com/ericfisherdev/hairscope-lab/internal/domain"
)

// Default credentials of the lab.
const (
	DefaultUsername = "Bhanuprasad"
	DefaultPassword = "Password@123"
)

// Messages returned by Validate.
const (
	MessageInvalidUsername   = "Invalid username"
	MessageIncorrectPassword = "Incorrect password"
	MessageSuccess           = "Login successful"

	// MessageInvalidCredentials is the only failure text shown to users.
	MessageInvalidCredentials = "Invalid username or password"
)

// Result is the outcome of Validate.
type Result struct {
	Valid   bool
	Message string
}

// Checker compares submitted credentials with the configured pair.
type Checker struct {
	username string
	password string
}

// NewChecker creates a checker. Empty values fall back to the defaults.
func NewChecker(username, password string) *Checker {
	if username == "" {
		username = DefaultUsername
	}
	if password == "" {
		password = DefaultPassword
	}
	return &Checker{username: username, password: password}
}

// Username returns the configured username.
func (c *Checker) Username() string {
	return c.username
}

// Check reports whether both values match exactly.
func (c *Checker) Check(_ context.Context, username, password string) bool {
	userOK := equal(username, c.username)
	passOK := equal(password, c.password)
	return userOK && passOK
}

// Validate reports which field failed. The reason is meant for logs; users
// only ever see MessageInvalidCredentials.
func (c *Checker) Validate(username, password string) Result {
	if !equal(username, c.username) {
		return Result{Message: MessageInvalidUsername}
	}
	if !equal(password, c.password) {
		return Result{Message: MessageIncorrectPassword}
	}
	return Result{Valid: true, Message: MessageSuccess}
}

// Login validates the request shape and checks the credentials.
func (c *Checker) Login(ctx context.Context, req domain.LoginRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if !c.Check(ctx, req.Username, req.Password) {
		return domain.NewAuthenticationError(domain.CodeInvalidCredentials, MessageInvalidCredentials)
	}
	return nil
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
