// Package memory holds in-process stores for local runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ErlanBelekov/authsvc/internal/domain"
	"github.com/ErlanBelekov/authsvc/internal/repository"
	"github.com/google/uuid"
)

var _ repository.UserRepository = (*UserRepository)(nil)

type UserRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.User
	byEmail map[string]string
	now     func() time.Time
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (r *UserRepository) Create(_ context.Context, email, name, secretHash string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[email]; ok {
		return nil, domain.ErrDuplicateEmail
	}
	u := &domain.User{
		ID:         uuid.NewString(),
		Email:      email,
		Name:       name,
		SecretHash: secretHash,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.byID[u.ID] = u
	r.byEmail[email] = u.ID
	return clone(u), nil
}

func (r *UserRepository) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return clone(r.byID[id]), nil
}

func (r *UserRepository) FindByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return clone(u), nil
}

func (r *UserRepository) Update(_ context.Context, id string, upd domain.UserUpdate) (*domain.User, error) {
	if upd.IsEmpty() {
		return nil, domain.ErrEmptyUpdate
	}
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	if upd.IfVersion != nil && *upd.IfVersion != u.Version {
		return nil, domain.ErrVersionConflict
	}

	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.SecretHash != nil {
		u.SecretHash = *upd.SecretHash
	}
	if upd.MarkVerified {
		u.IsVerified = true
	}
	if upd.ClearVerifyOTP {
		u.VerifyOTP = nil
	}
	if upd.SetVerifyOTP != nil {
		o := *upd.SetVerifyOTP
		u.VerifyOTP = &o
	}
	if upd.ClearResetOTP {
		u.ResetOTP = nil
	}
	if upd.SetResetOTP != nil {
		o := *upd.SetResetOTP
		u.ResetOTP = &o
	}
	u.Version++
	u.UpdatedAt = now
	return clone(u), nil
}

func (r *UserRepository) ClearExpiredOTPs(_ context.Context, cutoff time.Time) (int64, error) {
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, u := range r.byID {
		touched := false
		if u.VerifyOTP != nil && u.VerifyOTP.ExpiresAt.Before(cutoff) {
			u.VerifyOTP = nil
			touched = true
		}
		if u.ResetOTP != nil && u.ResetOTP.ExpiresAt.Before(cutoff) {
			u.ResetOTP = nil
			touched = true
		}
		if touched {
			u.Version++
			u.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func clone(u *domain.User) *domain.User {
	c := *u
	if u.VerifyOTP != nil {
		o := *u.VerifyOTP
		c.VerifyOTP = &o
	}
	if u.ResetOTP != nil {
		o := *u.ResetOTP
		c.ResetOTP = &o
	}
	return &c
}
