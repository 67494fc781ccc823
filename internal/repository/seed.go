package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"aits/tracker/internal/crypto"
	"aits/tracker/internal/model"
)

var demoUsers = []model.User{
	{Email: "student@demo.local", FirstName: "Stella", LastName: "Student", Role: model.RoleStudent},
	{Email: "lecturer@demo.local", FirstName: "Liam", LastName: "Lecturer", Role: model.RoleLecturer},
	{Email: "admin@demo.local", FirstName: "Ada", LastName: "Admin", Role: model.RoleAdmin},
}

// EnsureDemoUsers creates the demo accounts used by local development and the
// integration suite, skipping any that already exist. Guarded by
// SEED_DEMO_USERS in cmd/server; never enable in production.
func (s *Store) EnsureDemoUsers(ctx context.Context, password string) error {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	for _, user := range demoUsers {
		_, err := s.GetUserByEmail(ctx, user.Email)
		if err == nil {
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		now := time.Now().UTC()
		user.ID = uuid.NewString()
		user.PasswordHash = hash
		user.CreatedAt = now
		user.UpdatedAt = now
		if err := s.CreateUser(ctx, user); err != nil {
			return err
		}
	}
	return nil
}
