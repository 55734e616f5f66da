// Package auth keeps the signed-in session of the client: it logs in
// against the backend, persists the session so the next start can resume
// it, and tears it down on logout or when the backend rejects it.
package auth

import (
	"athena/internal/api"
	"athena/internal/models"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c-pro/geche"
)

// failedLoginsAllowed consecutive rejected logins go through before the
// client starts backing off.
const failedLoginsAllowed = 3

var (
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrInvalidCredentials = errors.New("invalid e-mail or password")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
)

// API is the part of the REST client the session needs.
type API interface {
	Login(ctx context.Context, email, password string) (models.User, error)
	Logout(ctx context.Context) error
	CurrentUser(ctx context.Context) (models.User, error)
	Session(user models.User) models.Credentials
	SetSession(creds models.Credentials)
	ClearSession()
}

// Store persists the session between runs.
type Store interface {
	SaveCredentials(creds models.Credentials) error
	LoadCredentials() (models.Credentials, error)
	DeleteCredentials() error
	Purge() error
}

type loginAttempts struct {
	failed int64
	last   int64
}

// wait returns how long the next login must be delayed.
func (a *loginAttempts) wait(now time.Time) time.Duration {
	if a.failed <= failedLoginsAllowed {
		return 0
	}
	next := a.last + 30*(a.failed*a.failed)
	if now.Unix() >= next {
		return 0
	}
	return time.Duration(next-now.Unix()) * time.Second
}

type Service struct {
	api      API
	store    Store
	log      *slog.Logger
	attempts *geche.Locker[string, *loginAttempts]
	now      func() time.Time

	mu   sync.RWMutex
	user models.User
}

func NewService(client API, store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		api:      client,
		store:    store,
		log:      log.With("component", "auth"),
		attempts: geche.NewLocker[string, *loginAttempts](geche.NewMapCache[string, *loginAttempts]()),
		now:      time.Now,
	}
}

// Login authenticates and saves the session. After several rejected
// attempts for the same e-mail further logins are refused for a growing
// period without contacting the backend.
func (s *Service) Login(ctx context.Context, email, password string) (models.User, error) {
	now := s.now()
	tx := s.attempts.Lock()
	a, err := tx.Get(email)
	if err != nil {
		a = &loginAttempts{}
		tx.Set(email, a)
	}
	wait := a.wait(now)
	tx.Unlock()
	if wait > 0 {
		return models.User{}, fmt.Errorf("%w: next attempt in %s", ErrTooManyAttempts, wait)
	}

	user, err := s.api.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, api.ErrSessionExpired) {
			tx := s.attempts.Lock()
			a.failed++
			a.last = now.Unix()
			tx.Unlock()
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, fmt.Errorf("login failed: %w", err)
	}

	tx = s.attempts.Lock()
	a.failed = 0
	a.last = now.Unix()
	tx.Unlock()

	if err := s.store.SaveCredentials(s.api.Session(user)); err != nil {
		// The session still works for this run.
		s.log.Warn("failed to save session", "user_id", user.ID, "error", err)
	}
	s.setUser(user)
	s.log.Info("logged in", "user_id", user.ID)
	return user, nil
}

// Restore resumes the saved session. Sessions the backend no longer
// accepts are deleted and reported as ErrNotLoggedIn. When the backend
// cannot be reached the saved user is trusted.
func (s *Service) Restore(ctx context.Context) (models.User, error) {
	creds, err := s.store.LoadCredentials()
	if errors.Is(err, models.ErrNotFound) {
		return models.User{}, ErrNotLoggedIn
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to load session: %w", err)
	}
	if creds.Expired(s.now()) {
		s.forget()
		return models.User{}, ErrNotLoggedIn
	}

	s.api.SetSession(creds)
	user, err := s.api.CurrentUser(ctx)
	switch {
	case errors.Is(err, api.ErrSessionExpired):
		s.api.ClearSession()
		s.forget()
		return models.User{}, ErrNotLoggedIn
	case err != nil:
		if creds.User.ID == 0 {
			return models.User{}, fmt.Errorf("failed to verify session: %w", err)
		}
		s.log.Warn("could not verify saved session", "user_id", creds.User.ID, "error", err)
		user = creds.User
	}

	s.setUser(user)
	s.log.Info("session restored", "user_id", user.ID)
	return user, nil
}

// Logout ends the session on the backend when possible. Local state is
// always cleared, cached chats and messages included.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.api.Logout(ctx); err != nil {
		s.log.Warn("server logout failed", "error", err)
	}
	s.api.ClearSession()
	s.setUser(models.User{})
	if err := s.store.Purge(); err != nil {
		return fmt.Errorf("failed to clear local data: %w", err)
	}
	return nil
}

// Expire drops a session the backend rejected.
func (s *Service) Expire() {
	user, _ := s.CurrentUser()
	s.api.ClearSession()
	s.setUser(models.User{})
	s.forget()
	s.log.Info("session expired", "user_id", user.ID)
}

func (s *Service) CurrentUser() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.user.ID != 0
}

func (s *Service) setUser(u models.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func (s *Service) forget() {
	if err := s.store.DeleteCredentials(); err != nil {
		s.log.Warn("failed to delete saved session", "error", err)
	}
}
