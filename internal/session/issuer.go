// Package session mints and validates the signed, self-contained tokens that
// carry an authenticated identity between requests.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/authsvc/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

const DefaultTTL = 7 * 24 * time.Hour

// Denylist holds token IDs revoked before their natural expiry.
type Denylist interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type Config struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	Now    func() time.Time
	// Denylist is optional. Without one, logout cannot invalidate a token
	// before it expires.
	Denylist Denylist
}

type Token struct {
	Value     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Claims struct {
	UserID    string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Issuer struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	now      func() time.Time
	denylist Denylist
}

func NewIssuer(cfg Config) *Issuer {
	i := &Issuer{
		secret:   cfg.Secret,
		ttl:      cfg.TTL,
		issuer:   cfg.Issuer,
		now:      cfg.Now,
		denylist: cfg.Denylist,
	}
	if i.ttl <= 0 {
		i.ttl = DefaultTTL
	}
	if i.now == nil {
		i.now = time.Now
	}
	return i
}

// TTL is the lifetime given to every minted token.
func (i *Issuer) TTL() time.Duration { return i.ttl }

func (i *Issuer) Mint(userID string) (Token, error) {
	now := i.now().Truncate(time.Second)
	exp := now.Add(i.ttl)
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()

	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    i.issuer,
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign session token: %w", err)
	}
	return Token{Value: signed, ID: id, IssuedAt: now, ExpiresAt: exp}, nil
}

// Validate checks signature and expiry locally. The only remote call is the
// optional denylist lookup.
func (i *Issuer) Validate(ctx context.Context, raw string) (Claims, error) {
	c, err := i.parse(raw)
	if err != nil {
		return Claims{}, err
	}

	if i.denylist != nil && c.TokenID != "" {
		revoked, err := i.denylist.IsRevoked(ctx, c.TokenID)
		if err != nil {
			return Claims{}, fmt.Errorf("check revocation: %w: %w", domain.ErrUnavailable, err)
		}
		if revoked {
			return Claims{}, domain.ErrTokenInvalid
		}
	}
	return c, nil
}

// Revoke denies the token until its expiry. It is a no-op without a denylist.
func (i *Issuer) Revoke(ctx context.Context, c Claims) error {
	if i.denylist == nil || c.TokenID == "" {
		return nil
	}
	if err := i.denylist.Revoke(ctx, c.TokenID, c.ExpiresAt); err != nil {
		return fmt.Errorf("revoke session: %w: %w", domain.ErrUnavailable, err)
	}
	return nil
}

func (i *Issuer) parse(raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, domain.ErrTokenInvalid
	}

	var rc jwt.RegisteredClaims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &rc, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, domain.ErrTokenExpired
		}
		return Claims{}, domain.ErrTokenInvalid
	}
	if !token.Valid || rc.Subject == "" {
		return Claims{}, domain.ErrTokenInvalid
	}

	c := Claims{UserID: rc.Subject, TokenID: rc.ID}
	if rc.IssuedAt != nil {
		c.IssuedAt = rc.IssuedAt.Time
	}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c, nil
}
