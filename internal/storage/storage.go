package storage

import (
	"context"
	"errors"
	"time"

	"carelink/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Storage is the durable side of the realtime core: chat messages, call
// session documents, account status and the presence mirror.
type Storage interface {
	SaveMessage(msg *models.ChatMessage) error
	FindMessageByID(id string) (*models.ChatMessage, error)
	AdvanceMessageStatus(id string, to models.DeliveryStatus, at time.Time) (bool, error)
	GetConversationHistory(patientID, doctorID string, before *time.Time, limit int) ([]models.ChatMessage, error)

	GetCallSession(id string) (*models.CallSession, error)
	SaveCallSession(call *models.CallSession) error
	ListStaleWaitingCalls(enteredBefore time.Time) ([]models.CallSession, error)

	GetAccount(id string) (*models.Account, error)
	SetAccountActive(id string, active bool) error
	SetAccountLocked(id string, locked bool) error
	SetDoctorOnline(id string, online bool, at time.Time) error

	SetPresence(userID string, status models.PresenceStatus, ttl time.Duration) error
	ClearPresence(userID string) error
	GetPresence(userID string) (models.PresenceStatus, bool, error)
	PublishNotification(channel string, payload []byte) error
}

type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Ctx   context.Context
}

// NewStorageService Constructor. rdb may be nil for tools that do not need the presence mirror.
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		Ctx:   context.Background(),
	}
}

// AutoMigrate creates or updates the tables owned by this service.
func (s *Service) AutoMigrate() error {
	return s.DB.AutoMigrate(
		&models.Account{},
		&models.ChatMessage{},
		&models.CallSession{},
	)
}

// SaveMessage inserts a new chat message. msg.ID is filled by the model hook.
func (s *Service) SaveMessage(msg *models.ChatMessage) error {
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	if err := s.DB.Create(msg).Error; err != nil {
		log.Error().Str("module", "storage").Err(err).
			Str("patient", msg.PatientID).Str("doctor", msg.DoctorID).Msg("failed to save message")
		return err
	}
	return nil
}

// FindMessageByID returns (nil, nil) when the message does not exist.
func (s *Service) FindMessageByID(id string) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	err := s.DB.Where("id = ?", id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// AdvanceMessageStatus moves a message forward to `to` and stamps the matching
// timestamp. It reports false when the row was already at or past `to`, so
// concurrent callers see exactly one success.
func (s *Service) AdvanceMessageStatus(id string, to models.DeliveryStatus, at time.Time) (bool, error) {
	var earlier []models.DeliveryStatus
	for _, st := range []models.DeliveryStatus{models.StatusSent, models.StatusDelivered} {
		if st.Before(to) {
			earlier = append(earlier, st)
		}
	}
	if len(earlier) == 0 {
		return false, nil
	}

	updates := map[string]interface{}{"status": to}
	switch to {
	case models.StatusDelivered:
		updates["delivered_at"] = at
	case models.StatusRead:
		updates["read_at"] = at
	}

	result := s.DB.Model(&models.ChatMessage{}).
		Where("id = ? AND status IN ?", id, earlier).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetConversationHistory returns up to limit messages sent before `before`
// (or the newest ones), oldest first.
func (s *Service) GetConversationHistory(patientID, doctorID string, before *time.Time, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.DB.Where("patient_id = ? AND doctor_id = ?", patientID, doctorID)
	if before != nil {
		q = q.Where("sent_at < ?", *before)
	}

	var history []models.ChatMessage
	if err := q.Order("sent_at desc").Limit(limit).Find(&history).Error; err != nil {
		log.Error().Str("module", "storage").Err(err).
			Str("patient", patientID).Str("doctor", doctorID).Msg("failed to load history")
		return nil, err
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}
