package storage

import (
	"errors"
	"fmt"
	"time"

	"carelink/backend/internal/models"

	"gorm.io/gorm"
)

// GetAccount returns (nil, nil) for an unknown id.
func (s *Service) GetAccount(id string) (*models.Account, error) {
	var account models.Account
	err := s.DB.Where("id = ?", id).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Service) SetAccountActive(id string, active bool) error {
	return s.updateAccount(id, map[string]interface{}{"is_active": active})
}

func (s *Service) SetAccountLocked(id string, locked bool) error {
	return s.updateAccount(id, map[string]interface{}{"is_locked": locked})
}

// SetDoctorOnline persists the doctor's online flag and last activity time.
func (s *Service) SetDoctorOnline(id string, online bool, at time.Time) error {
	result := s.DB.Model(&models.Account{}).
		Where("id = ? AND role = ?", id, models.RoleDoctor).
		Updates(map[string]interface{}{"is_online": online, "last_active": at})
	return result.Error
}

func (s *Service) updateAccount(id string, updates map[string]interface{}) error {
	result := s.DB.Model(&models.Account{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	return nil
}
