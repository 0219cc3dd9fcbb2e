package chathub_test

import (
	"time"

	"carelink/backend/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify implementation of storage.Storage.
type MockStorage struct {
	mock.Mock
}

// Message operations
func (m *MockStorage) SaveMessage(msg *models.ChatMessage) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockStorage) FindMessageByID(id string) (*models.ChatMessage, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatMessage), args.Error(1)
}

func (m *MockStorage) AdvanceMessageStatus(id string, to models.DeliveryStatus, at time.Time) (bool, error) {
	args := m.Called(id, to, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) GetConversationHistory(patientID, doctorID string, before *time.Time, limit int) ([]models.ChatMessage, error) {
	args := m.Called(patientID, doctorID, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatMessage), args.Error(1)
}

// Call session operations
func (m *MockStorage) GetCallSession(id string) (*models.CallSession, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CallSession), args.Error(1)
}

func (m *MockStorage) SaveCallSession(call *models.CallSession) error {
	args := m.Called(call)
	return args.Error(0)
}

func (m *MockStorage) ListStaleWaitingCalls(enteredBefore time.Time) ([]models.CallSession, error) {
	args := m.Called(enteredBefore)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CallSession), args.Error(1)
}

// Account operations
func (m *MockStorage) GetAccount(id string) (*models.Account, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockStorage) SetAccountActive(id string, active bool) error {
	args := m.Called(id, active)
	return args.Error(0)
}

func (m *MockStorage) SetAccountLocked(id string, locked bool) error {
	args := m.Called(id, locked)
	return args.Error(0)
}

func (m *MockStorage) SetDoctorOnline(id string, online bool, at time.Time) error {
	args := m.Called(id, online, at)
	return args.Error(0)
}

// Presence operations
func (m *MockStorage) SetPresence(userID string, status models.PresenceStatus, ttl time.Duration) error {
	args := m.Called(userID, status, ttl)
	return args.Error(0)
}

func (m *MockStorage) ClearPresence(userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}

func (m *MockStorage) GetPresence(userID string) (models.PresenceStatus, bool, error) {
	args := m.Called(userID)
	return args.Get(0).(models.PresenceStatus), args.Bool(1), args.Error(2)
}

func (m *MockStorage) PublishNotification(channel string, payload []byte) error {
	args := m.Called(channel, payload)
	return args.Error(0)
}

// allowPresence accepts the asynchronous presence writes every admit and
// disconnect triggers.
func (m *MockStorage) allowPresence() {
	m.On("SetPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("ClearPresence", mock.Anything).Return(nil).Maybe()
	m.On("SetDoctorOnline", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
}
