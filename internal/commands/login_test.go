package commands

import (
	"athena/internal/auth"
	"athena/internal/models"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeLogin struct {
	err       error
	email     string
	loggedOut bool
}

func (f *fakeLogin) Login(ctx context.Context, email, password string) (models.User, error) {
	f.email = email
	if f.err != nil {
		return models.User{}, f.err
	}
	return models.User{ID: 5, Name: "Ana", Email: email}, nil
}

func (f *fakeLogin) Logout(ctx context.Context) error {
	f.loggedOut = true
	return f.err
}

type fakeRegistrar struct {
	got models.RegisterRequest
	err error
}

func (f *fakeRegistrar) Register(ctx context.Context, req models.RegisterRequest) error {
	f.got = req
	return f.err
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		svc := &fakeLogin{}
		var out bytes.Buffer
		require.NoError(t, Login(ctx, svc, " ana@example.com ", "secret", &out))
		require.Equal(t, "ana@example.com", svc.email)
		require.Contains(t, out.String(), "Name:     Ana")
		require.Contains(t, out.String(), "User ID:  5")
	})

	t.Run("MissingCredentials", func(t *testing.T) {
		var out bytes.Buffer
		require.Error(t, Login(ctx, &fakeLogin{}, "", "secret", &out))
		require.Error(t, Login(ctx, &fakeLogin{}, "ana@example.com", "", &out))
		require.Empty(t, out.String())
	})

	t.Run("Rejected", func(t *testing.T) {
		var out bytes.Buffer
		err := Login(ctx, &fakeLogin{err: auth.ErrInvalidCredentials}, "ana@example.com", "x", &out)
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
		require.NotContains(t, err.Error(), "backend")
	})

	t.Run("Unreachable", func(t *testing.T) {
		var out bytes.Buffer
		cause := errors.New("connection refused")
		err := Login(ctx, &fakeLogin{err: cause}, "ana@example.com", "x", &out)
		require.ErrorIs(t, err, cause)
		require.Contains(t, err.Error(), "backend running")
	})
}

func TestLogout(t *testing.T) {
	svc := &fakeLogin{}
	var out bytes.Buffer
	require.NoError(t, Logout(context.Background(), svc, &out))
	require.True(t, svc.loggedOut)
	require.Equal(t, "Logged out.\n", out.String())
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	r := &fakeRegistrar{}
	var out bytes.Buffer
	require.NoError(t, Register(ctx, r, " Ana ", "ana@example.com", "secret", &out))
	require.Equal(t, models.RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "secret"}, r.got)
	require.Contains(t, out.String(), "Ana <ana@example.com>")

	require.Error(t, Register(ctx, &fakeRegistrar{}, "", "ana@example.com", "secret", &out))

	failing := &fakeRegistrar{err: errors.New("e-mail taken")}
	require.ErrorContains(t, Register(ctx, failing, "Ana", "ana@example.com", "secret", &out), "e-mail taken")
}
