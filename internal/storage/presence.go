package storage

import (
	"errors"
	"time"

	"carelink/backend/internal/config"
	"carelink/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

func presenceKey(userID string) string {
	return config.PresenceKeyPrefix + userID
}

// SetPresence mirrors a live status into Redis so tooling outside the process
// can answer isUserOnline. The key expires unless refreshed.
func (s *Service) SetPresence(userID string, status models.PresenceStatus, ttl time.Duration) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Set(s.Ctx, presenceKey(userID), string(status), ttl).Err()
}

func (s *Service) ClearPresence(userID string) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Del(s.Ctx, presenceKey(userID)).Err()
}

// GetPresence reports ok=false when no live status is mirrored for userID.
func (s *Service) GetPresence(userID string) (models.PresenceStatus, bool, error) {
	if s.Redis == nil {
		return "", false, nil
	}
	status, err := s.Redis.Get(s.Ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	st, ok := models.ParsePresenceStatus(status)
	return st, ok, nil
}

// PublishNotification hands a notification to every realtime instance.
func (s *Service) PublishNotification(channel string, payload []byte) error {
	if s.Redis == nil {
		return errors.New("redis is not configured")
	}
	return s.Redis.Publish(s.Ctx, channel, payload).Err()
}

// SubscribeNotifications opens the subscription consumed by the realtime hub.
func (s *Service) SubscribeNotifications(channel string) *redis.PubSub {
	return s.Redis.Subscribe(s.Ctx, channel)
}
