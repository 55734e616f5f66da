package commands

import (
	"athena/internal/auth"
	"athena/internal/models"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

type LoginService interface {
	Login(ctx context.Context, email, password string) (models.User, error)
	Logout(ctx context.Context) error
}

type Registrar interface {
	Register(ctx context.Context, req models.RegisterRequest) error
}

// Login signs in and saves the session for later runs.
func Login(ctx context.Context, svc LoginService, email, password string, out io.Writer) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return errors.New("e-mail and password are required (ATHENA_EMAIL, ATHENA_PASSWORD)")
	}

	user, err := svc.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrTooManyAttempts) {
			return err
		}
		return fmt.Errorf("%w. Is the backend running?", err)
	}

	_, _ = fmt.Fprintf(out, "\nLogged in successfully!\n")
	_, _ = fmt.Fprintf(out, "Name:     %s\n", user.Name)
	_, _ = fmt.Fprintf(out, "E-mail:   %s\n", user.Email)
	_, _ = fmt.Fprintf(out, "User ID:  %d\n\n", user.ID)
	_, _ = fmt.Fprintln(out, "The session is saved; run athena without flags to start chatting.")
	return nil
}

// Logout ends the saved session and clears the local cache.
func Logout(ctx context.Context, svc LoginService, out io.Writer) error {
	if err := svc.Logout(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "Logged out.")
	return nil
}

// Register creates an account. The new user still has to log in.
func Register(ctx context.Context, r Registrar, name, email, password string, out io.Writer) error {
	req := models.RegisterRequest{
		Name:     strings.TrimSpace(name),
		Email:    strings.TrimSpace(email),
		Password: password,
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return errors.New("name, e-mail and password are required")
	}

	if err := r.Register(ctx, req); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}

	_, _ = fmt.Fprintf(out, "\nAccount created for %s <%s>.\n", req.Name, req.Email)
	_, _ = fmt.Fprintln(out, "Run athena -login to sign in.")
	return nil
}
