package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/authsvc/internal/domain"
)

// UserRepository is the credential store. Emails are matched after
// domain.NormalizeEmail. Every write bumps the user's version.
type UserRepository interface {
	Create(ctx context.Context, email, name, secretHash string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	// Update applies upd atomically. With upd.IfVersion set, it fails with
	// domain.ErrVersionConflict when the stored version differs. An update
	// that names no fields fails with domain.ErrEmptyUpdate and bumps nothing.
	Update(ctx context.Context, id string, upd domain.UserUpdate) (*domain.User, error)
	// ClearExpiredOTPs drops every code whose expiry is before cutoff and
	// returns the number of users touched.
	ClearExpiredOTPs(ctx context.Context, cutoff time.Time) (int64, error)
}
