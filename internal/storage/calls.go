package storage

import (
	"errors"
	"time"

	"carelink/backend/internal/models"

	"gorm.io/gorm"
)

// GetCallSession returns (nil, nil) when no session has that id.
func (s *Service) GetCallSession(id string) (*models.CallSession, error) {
	var call models.CallSession
	err := s.DB.Where("id = ?", id).First(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// SaveCallSession upserts the whole session document.
func (s *Service) SaveCallSession(call *models.CallSession) error {
	return s.DB.Save(call).Error
}

// ListStaleWaitingCalls returns waiting sessions whose first party entered
// the waiting room before enteredBefore.
func (s *Service) ListStaleWaitingCalls(enteredBefore time.Time) ([]models.CallSession, error) {
	var calls []models.CallSession
	err := s.DB.Where("state = ?", models.CallWaiting).
		Where("COALESCE(patient_entered_waiting_at, doctor_entered_waiting_at) < ?", enteredBefore).
		Order("scheduled_start_time asc").
		Find(&calls).Error
	if err != nil {
		return nil, err
	}
	return calls, nil
}
