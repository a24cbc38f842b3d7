package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ericfisherdev/hairscope-lab/internal/domain"
	"github.com/ericfisherdev/hairscope-lab/internal/storage"
)

// DefaultEntryPassTTL is how long a pass stays redeemable. It covers the
// entry transition with room to spare.
const DefaultEntryPassTTL = 60 * time.Second

const (
	entryPassIssuer   = "hairscope-lab"
	entryPassAudience = "hairscope-lab-entry"
	usedPassPrefix    = "entry-pass:"
)

// Entry pass errors.
var (
	ErrPassInvalid = domain.NewAuthenticationError(domain.CodeEntryPassInvalid, "Entry pass is invalid or expired")
	ErrPassUsed    = domain.NewAuthenticationError(domain.CodeEntryPassUsed, "Entry pass has already been used")
)

// EntryPassClaims are the claims of an entry pass.
type EntryPassClaims struct {
	WindowID string `json:"wid,omitempty"`
	jwt.RegisteredClaims
}

// EntryPass issues and redeems the pass carried by the entry transition
// page to POST /enter.
type EntryPass struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
	used   storage.Backend
}

// NewEntryPass creates an issuer. When used is non-nil each pass can be
// redeemed once.
func NewEntryPass(secret string, ttl time.Duration, clock clockwork.Clock, used storage.Backend) *EntryPass {
	if ttl <= 0 {
		ttl = DefaultEntryPassTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &EntryPass{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clock,
		used:   used,
	}
}

// TTL returns the pass lifetime.
func (p *EntryPass) TTL() time.Duration {
	return p.ttl
}

// Issue signs a pass for profileID opened from windowID.
func (p *EntryPass) Issue(profileID, windowID string) (string, time.Time, error) {
	now := p.clock.Now()
	expiresAt := now.Add(p.ttl)

	claims := &EntryPassClaims{
		WindowID: windowID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profileID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    entryPassIssuer,
			Audience:  []string{entryPassAudience},
			ID:        uuid.New().String(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign entry pass: %w", err)
	}
	return token, expiresAt, nil
}

// Verify parses the pass and checks that it belongs to profileID.
func (p *EntryPass) Verify(tokenString, profileID string) (*EntryPassClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &EntryPassClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	},
		jwt.WithTimeFunc(p.clock.Now),
		jwt.WithIssuer(entryPassIssuer),
		jwt.WithAudience(entryPassAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrPassInvalid
	}

	claims, ok := token.Claims.(*EntryPassClaims)
	if !ok || !token.Valid || claims.Subject != profileID {
		return nil, ErrPassInvalid
	}
	return claims, nil
}

// Redeem verifies the pass and, with a store configured, records its id so
// it cannot be used twice.
func (p *EntryPass) Redeem(ctx context.Context, tokenString, profileID string) (*EntryPassClaims, error) {
	claims, err := p.Verify(tokenString, profileID)
	if err != nil {
		return nil, err
	}
	if p.used == nil {
		return claims, nil
	}

	ttl := claims.ExpiresAt.Sub(p.clock.Now())
	if ttl <= 0 {
		ttl = time.Second
	}
	fresh, err := p.used.SetNX(ctx, usedPassPrefix+claims.ID, "1", ttl)
	if err != nil {
		return nil, domain.NewStorageError(domain.CodeEntryPassStore, "Failed to record entry pass", err)
	}
	if !fresh {
		return nil, ErrPassUsed
	}
	return claims, nil
}
