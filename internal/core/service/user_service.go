package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/retail-pos/internal/auth"
	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/port"
)

const (
	defaultUserLimit  = 20
	minPasswordLength = 6
)

type UserInput struct {
	Name     string
	LastName string
	Email    string
	RUT      string
	Role     domain.Role
	Password string
}

type UserService struct {
	store port.DocumentStore
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewUserService(store port.DocumentStore, log logrus.FieldLogger) *UserService {
	return &UserService{store: store, log: log, now: time.Now}
}

func (s *UserService) Create(ctx context.Context, in UserInput) (domain.User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return domain.User{}, err
	}
	switch {
	case strings.TrimSpace(in.Name) == "":
		return domain.User{}, domain.Validation("name is required")
	case len(in.Password) < minPasswordLength:
		return domain.User{}, domain.Validation("password must be at least %d characters", minPasswordLength)
	}

	role := in.Role
	if role == "" {
		role = domain.RoleSeller
	}
	if !role.Valid() {
		return domain.User{}, domain.Validation("invalid role %q", role)
	}

	rut := strings.TrimSpace(in.RUT)
	if err := s.ensureUnique(ctx, "email", email, ""); err != nil {
		return domain.User{}, err
	}
	if rut != "" {
		if err := s.ensureUnique(ctx, "rut", rut, ""); err != nil {
			return domain.User{}, err
		}
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, errors.Wrap(err, "hash password")
	}

	u := domain.User{
		Name:     strings.TrimSpace(in.Name),
		LastName: strings.TrimSpace(in.LastName),
		Email:    email,
		RUT:      rut,
		Role:     role,
		Password: hash,
	}
	key, err := s.store.Insert(ctx, usersCollection, u)
	if err != nil {
		return domain.User{}, errors.Wrap(err, "insert user")
	}
	u.ID = key

	s.log.WithFields(logrus.Fields{"user_id": key, "role": role}).Info("user created")
	return u.Public(), nil
}

func (s *UserService) Get(ctx context.Context, id string) (domain.User, error) {
	u, err := s.get(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	return u.Public(), nil
}

// FindByEmail returns the stored user including its password hash, or nil
// when no user has that email.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	records, err := s.store.RangeByChild(ctx, usersCollection, port.ChildRange{
		Field:   "email",
		EqualTo: strings.ToLower(strings.TrimSpace(email)),
		Limit:   1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "find user by email")
	}
	if len(records) == 0 {
		return nil, nil
	}
	u, err := decodeUser(records[0])
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// List returns users in key order. Disabled users are included.
func (s *UserService) List(ctx context.Context, from string, limit int) (domain.Page[domain.User], error) {
	limit = pageSize(limit, defaultUserLimit)
	records, err := s.store.RangeByKey(ctx, usersCollection, port.KeyRange{StartAt: from, Limit: limit + 1})
	if err != nil {
		return domain.Page[domain.User]{}, errors.Wrap(err, "list users")
	}
	return page(records, limit,
		func(rec port.Record) (domain.User, error) {
			u, err := decodeUser(rec)
			return u.Public(), err
		},
		func(domain.User) bool { return true },
		func(rec port.Record, _ domain.User) domain.Cursor { return keyCursor(rec) },
	)
}

// Update edits the profile of id on behalf of actor. Non-admins may only edit
// themselves and never their role. Passwords are not changed here.
func (s *UserService) Update(ctx context.Context, actor domain.Identity, id string, in UserInput) (domain.User, error) {
	if !actor.Role.IsAdmin() && actor.ID != id {
		return domain.User{}, domain.Forbidden("insufficient role")
	}

	u, err := s.get(ctx, id)
	if err != nil {
		return domain.User{}, err
	}

	if strings.TrimSpace(in.Email) != "" {
		email, err := normalizeEmail(in.Email)
		if err != nil {
			return domain.User{}, err
		}
		if email != u.Email {
			if err := s.ensureUnique(ctx, "email", email, id); err != nil {
				return domain.User{}, err
			}
			u.Email = email
		}
	}
	if rut := strings.TrimSpace(in.RUT); rut != "" && rut != u.RUT {
		if err := s.ensureUnique(ctx, "rut", rut, id); err != nil {
			return domain.User{}, err
		}
		u.RUT = rut
	}
	if v := strings.TrimSpace(in.Name); v != "" {
		u.Name = v
	}
	if v := strings.TrimSpace(in.LastName); v != "" {
		u.LastName = v
	}
	if in.Role != "" && in.Role != u.Role {
		if !actor.Role.IsAdmin() {
			return domain.User{}, domain.Forbidden("insufficient role")
		}
		if !in.Role.Valid() {
			return domain.User{}, domain.Validation("invalid role %q", in.Role)
		}
		u.Role = in.Role
	}

	err = s.store.UpdateFields(ctx, port.Path(usersCollection, id), map[string]any{
		"name":     u.Name,
		"lastName": u.LastName,
		"email":    u.Email,
		"rut":      u.RUT,
		"role":     u.Role,
	})
	if errors.Is(err, port.ErrDocumentNotFound) {
		return domain.User{}, domain.NotFound("user %q not found", id)
	}
	if err != nil {
		return domain.User{}, errors.Wrapf(err, "update user %s", id)
	}
	return u.Public(), nil
}

// Delete disables the account. The record is kept.
func (s *UserService) Delete(ctx context.Context, id string) (domain.User, error) {
	u, err := s.get(ctx, id)
	if err != nil {
		return domain.User{}, err
	}

	u.Disabled = true
	u.DeletedAt = domain.EpochMillis(s.now())
	err = s.store.UpdateFields(ctx, port.Path(usersCollection, id), map[string]any{
		"disabled":  u.Disabled,
		"deletedAt": u.DeletedAt,
	})
	if errors.Is(err, port.ErrDocumentNotFound) {
		return domain.User{}, domain.NotFound("user %q not found", id)
	}
	if err != nil {
		return domain.User{}, errors.Wrapf(err, "disable user %s", id)
	}
	return u.Public(), nil
}

func (s *UserService) get(ctx context.Context, id string) (domain.User, error) {
	if !validKey(id) {
		return domain.User{}, domain.NotFound("user %q not found", id)
	}
	rec, err := s.store.Get(ctx, port.Path(usersCollection, id))
	if err != nil {
		return domain.User{}, errors.Wrapf(err, "get user %s", id)
	}
	if rec == nil {
		return domain.User{}, domain.NotFound("user %q not found", id)
	}
	return decodeUser(*rec)
}

// ensureUnique fails with Conflict when another user than self already has
// value in field.
func (s *UserService) ensureUnique(ctx context.Context, field, value, self string) error {
	records, err := s.store.RangeByChild(ctx, usersCollection, port.ChildRange{
		Field:   field,
		EqualTo: value,
		Limit:   2,
	})
	if err != nil {
		return errors.Wrapf(err, "check %s uniqueness", field)
	}
	for _, rec := range records {
		if rec.Key != self {
			return domain.Conflict("%s already exists", value)
		}
	}
	return nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", domain.Validation("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", domain.Validation("invalid email %q", raw)
	}
	return email, nil
}
