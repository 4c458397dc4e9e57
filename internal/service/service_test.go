package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/repository"
)

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user@example.com", "pass")
	b := hashPassword("user@example.com", "pass")
	c := hashPassword("user@example.com", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.RegisterUser(ctx, " Buyer@Example.com ", "secret", "")
	require.NoError(t, err)

	u, err := svc.AuthenticateUser(ctx, "buyer@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, model.RoleCustomer, u.Role)

	_, err = svc.AuthenticateUser(ctx, "buyer@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.AuthenticateUser(ctx, "nobody@example.com", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.RegisterUser(ctx, "buyer@example.com", "again", model.RoleSeller)
	assert.ErrorIs(t, err, repository.ErrUserExists)
}

func TestRegisterUserValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		role     model.Role
		wantErr  error
	}{
		{"empty email", "", "secret", model.RoleCustomer, ErrInvalidInput},
		{"empty password", "a@b.c", "", model.RoleCustomer, ErrInvalidInput},
		{"unknown role", "a@b.c", "secret", "ROOT", ErrInvalidInput},
		{"self-registered admin", "a@b.c", "secret", model.RoleAdmin, ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RegisterUser(ctx, tt.email, tt.password, tt.role)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureAdmin(ctx, "admin@partsmart.test", "root")
	require.NoError(t, err)
	second, err := svc.EnsureAdmin(ctx, "admin@partsmart.test", "root")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	u, err := svc.AuthenticateUser(ctx, "admin@partsmart.test", "root")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, u.Role)
}
