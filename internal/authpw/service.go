// Package authpw provides email/password authentication over the users
// collection.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"weldvault/api/internal/record"
	"weldvault/api/internal/util"
)

// ErrInvalidCredentials is deliberately the same for unknown emails and bad
// passwords.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrEmailTaken reports a sign-up against an existing account.
var ErrEmailTaken = errors.New("email already registered")

const minPasswordLen = 8

// Directory is the slice of the record backend the service needs.
type Directory interface {
	Get(ctx context.Context, collection, id string) (record.Record, error)
	FetchOnce(ctx context.Context, collection string, filters []record.Filter) ([]record.Record, error)
	Insert(ctx context.Context, collection string, rec record.Record) error
	ApplyPatch(ctx context.Context, collection, id string, patch map[string]any, stamp record.Stamp) error
}

// Service authenticates users against bcrypt hashes stored on their records.
type Service struct {
	dir        Directory
	collection string
	now        func() time.Time
}

func NewService(dir Directory) *Service {
	return &Service{dir: dir, collection: "users", now: time.Now}
}

// SignUpRequest contains sign-up parameters.
type SignUpRequest struct {
	Email    string
	Password string
	Name     string
	Role     string
}

// SignUp creates a new user account. The password hash never leaves this
// package.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (record.Actor, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" || req.Name == "" {
		return record.Actor{}, errors.New("email, password, and name are required")
	}
	if len(req.Password) < minPasswordLen {
		return record.Actor{}, fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	if _, err := s.findByEmail(ctx, email); err == nil {
		return record.Actor{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return record.Actor{}, fmt.Errorf("hash password: %w", err)
	}

	role := req.Role
	if role == "" {
		role = "welder"
	}
	now := s.now().UTC()
	user := record.Record{
		ID:     util.NewID("user"),
		Status: record.StatusActive,
		Fields: map[string]any{
			"email":        email,
			"name":         req.Name,
			"role":         role,
			"passwordHash": string(hash),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	user.CreatedBy = user.ID
	user.UpdatedBy = user.ID
	if err := s.dir.Insert(ctx, s.collection, user); err != nil {
		return record.Actor{}, fmt.Errorf("create user: %w", err)
	}
	return record.Actor{ID: user.ID, Name: req.Name, Role: role}, nil
}

// SignIn authenticates a user and returns the actor identity for token
// issuance.
func (s *Service) SignIn(ctx context.Context, email, password string) (record.Actor, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return record.Actor{}, ErrInvalidCredentials
	}

	user, err := s.findByEmail(ctx, email)
	if err != nil {
		// Equalize timing between unknown emails and wrong passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$invalidsaltinvalidsaltinvalidsaltinvalid"), []byte(password))
		return record.Actor{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.StringField("passwordHash")), []byte(password)); err != nil {
		return record.Actor{}, ErrInvalidCredentials
	}
	return record.Actor{ID: user.ID, Name: user.StringField("name"), Role: user.StringField("role")}, nil
}

// ChangePassword verifies the current password before storing a new hash.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if len(next) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	user, err := s.dir.Get(ctx, s.collection, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.StringField("passwordHash")), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	stamp := record.Stamp{At: s.now().UTC(), By: userID}
	if err := s.dir.ApplyPatch(ctx, s.collection, userID, map[string]any{"passwordHash": string(hash)}, stamp); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *Service) findByEmail(ctx context.Context, email string) (record.Record, error) {
	users, err := s.dir.FetchOnce(ctx, s.collection, []record.Filter{
		record.Eq("email", email),
		record.Neq("status", string(record.StatusDeleted)),
	})
	if err != nil {
		return record.Record{}, err
	}
	if len(users) == 0 {
		return record.Record{}, record.ErrNotFound
	}
	return users[0], nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
