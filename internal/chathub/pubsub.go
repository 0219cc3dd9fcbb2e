package chathub

import (
	"context"
	"encoding/json"

	"carelink/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// NotificationChannel is the Redis channel other processes publish
// notifications on. Each instance delivers to the identities it holds.
const NotificationChannel = "carelink:notifications"

// ListenNotifications delivers notifications published on sub until ctx is
// done or the subscription is closed.
func (m *ManagerService) ListenNotifications(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m.DeliverNotification([]byte(msg.Payload))
		}
	}
}

// DeliverNotification pushes one published NotificationPayload to its target
// if the target is connected here. It reports whether it was delivered.
func (m *ManagerService) DeliverNotification(payload []byte) bool {
	var p models.NotificationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Warn().Str("module", "chathub.pubsub").Err(err).Msg("bad notification payload")
		return false
	}
	return m.notify(p)
}

// notify delivers p to its target's personal channel. An absent target is
// not an error.
func (m *ManagerService) notify(p models.NotificationPayload) bool {
	if p.TargetUserID == "" || len(p.Notification) == 0 {
		return false
	}
	target, ok := m.Registry.Lookup(p.TargetUserID)
	if !ok {
		return false
	}
	if err := target.TrySend(models.Event{Name: models.EventNotification, Data: p.Notification}); err != nil {
		m.metrics.Dropped()
		return false
	}
	return true
}
