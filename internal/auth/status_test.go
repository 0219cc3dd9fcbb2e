package auth_test

import (
	"errors"
	"testing"

	"carelink/backend/internal/auth"
	"carelink/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) GetAccount(id string) (*models.Account, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func TestStatusCheckerIsActive(t *testing.T) {
	store := new(MockAccountStore)
	store.On("GetAccount", "p1").Return(&models.Account{ID: "p1", Role: models.RolePatient, IsActive: true}, nil)
	store.On("GetAccount", "p2").Return(&models.Account{ID: "p2", Role: models.RolePatient, IsActive: false}, nil)
	store.On("GetAccount", "d1").Return(&models.Account{ID: "d1", Role: models.RoleDoctor, IsActive: true, IsLocked: true}, nil)
	store.On("GetAccount", "ghost").Return(nil, nil)

	checker := auth.NewStatusChecker(store)

	ok, err := checker.IsActive("p1", models.RolePatient)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, _ = checker.IsActive("p1", models.RoleDoctor)
	assert.False(t, ok, "role must match the account")

	ok, _ = checker.IsActive("p2", models.RolePatient)
	assert.False(t, ok)

	ok, _ = checker.IsActive("d1", models.RoleDoctor)
	assert.False(t, ok)

	ok, _ = checker.IsActive("ghost", models.RolePatient)
	assert.False(t, ok)

	assert.ErrorIs(t, checker.Check("p2", models.RolePatient), models.ErrAccountInactive)
	assert.NoError(t, checker.Check("p1", models.RolePatient))
	store.AssertExpectations(t)
}

func TestStatusCheckerStorageError(t *testing.T) {
	store := new(MockAccountStore)
	store.On("GetAccount", "p1").Return(nil, errors.New("connection refused"))

	err := auth.NewStatusChecker(store).Check("p1", models.RolePatient)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrAccountInactive)
}
