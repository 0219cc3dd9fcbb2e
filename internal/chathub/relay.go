package chathub

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"carelink/backend/internal/config"
	"carelink/backend/internal/models"
	"carelink/backend/internal/observability"

	"github.com/rs/zerolog/log"
)

// MessageStore persists chat messages.
type MessageStore interface {
	SaveMessage(msg *models.ChatMessage) error
	FindMessageByID(id string) (*models.ChatMessage, error)
	AdvanceMessageStatus(id string, to models.DeliveryStatus, at time.Time) (bool, error)
}

type lane struct {
	mu   sync.Mutex
	refs int
}

// Relay accepts chat messages and delivers them to the conversation room.
// Each conversation has a single lane, so members see messages in the order
// the relay accepted them.
type Relay struct {
	store    MessageStore
	rooms    *RoomManager
	registry *Registry
	metrics  *observability.Metrics

	lanesMu sync.Mutex
	lanes   map[string]*lane
}

func NewRelay(store MessageStore, rooms *RoomManager, registry *Registry, metrics *observability.Metrics) *Relay {
	return &Relay{
		store:    store,
		rooms:    rooms,
		registry: registry,
		metrics:  metrics,
		lanes:    make(map[string]*lane),
	}
}

func (r *Relay) lock(key string) func() {
	r.lanesMu.Lock()
	l, ok := r.lanes[key]
	if !ok {
		l = &lane{}
		r.lanes[key] = l
	}
	l.refs++
	r.lanesMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.lanesMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.lanes, key)
		}
		r.lanesMu.Unlock()
	}
}

// Send persists a message from c and delivers it: newMessage to the room,
// messageNotification to an absent recipient, messageSent to the sender.
func (r *Relay) Send(c Client, p models.SendMessagePayload) (*models.ChatMessage, error) {
	if err := conversationParty(c, p.PatientID, p.DoctorID); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(p.Content.Text)
	if text == "" && len(p.Attachments) == 0 {
		return nil, fmt.Errorf("message has no text or attachments: %w", models.ErrValidationFailed)
	}
	if p.Content.Type == "" {
		p.Content.Type = "text"
	}
	if p.ReplyTo != nil && *p.ReplyTo == "" {
		p.ReplyTo = nil
	}
	if p.ReplyTo != nil {
		parent, err := r.store.FindMessageByID(*p.ReplyTo)
		if err != nil {
			return nil, fmt.Errorf("find reply target: %w", err)
		}
		if parent == nil || !parent.InConversation(p.PatientID, p.DoctorID) {
			return nil, fmt.Errorf("replyTo %q is not in this conversation: %w", *p.ReplyTo, models.ErrValidationFailed)
		}
	}

	msg := &models.ChatMessage{
		PatientID:   p.PatientID,
		DoctorID:    p.DoctorID,
		SenderID:    c.GetUserID(),
		SenderRole:  c.GetRole(),
		SenderName:  c.GetUserName(),
		Content:     p.Content,
		Attachments: p.Attachments,
		ReplyToID:   p.ReplyTo,
		Status:      models.StatusSent,
	}
	roomID := msg.ConversationRoomID()

	unlock := r.lock(roomID)
	defer unlock()

	msg.SentAt = time.Now()
	if err := r.store.SaveMessage(msg); err != nil {
		r.metrics.PersistFailed("message")
		return nil, fmt.Errorf("save message: %w", err)
	}

	members := r.rooms.Members(roomID)
	recipientID := msg.RecipientID()
	recipientInRoom := false
	for _, m := range members {
		if m.GetUserID() == recipientID {
			recipientInRoom = true
			break
		}
	}

	if recipientInRoom {
		now := time.Now()
		ok, err := r.store.AdvanceMessageStatus(msg.ID, models.StatusDelivered, now)
		switch {
		case err != nil:
			r.metrics.PersistFailed("message")
			log.Error().Str("module", "chathub.relay").Str("message", msg.ID).Err(err).Msg("failed to mark delivered")
		case ok:
			msg.Status = models.StatusDelivered
			msg.DeliveredAt = &now
		}
	}

	if ev, err := models.NewEvent(models.EventNewMessage, msg); err == nil {
		for _, m := range members {
			if err := m.TrySend(ev); err != nil {
				r.metrics.Dropped()
				log.Debug().Str("module", "chathub.relay").Str("user", m.GetUserID()).Err(err).Msg("newMessage dropped")
				// A gap in the ordered stream is not recoverable in place; the
				// client reconnects and catches up from history.
				if errors.Is(err, ErrBackpressure) {
					m.Close()
				}
				continue
			}
			r.metrics.MessageDelivered("room")
		}
	}

	if !recipientInRoom {
		r.notify(msg, roomID)
	}

	r.send(c, models.EventMessageSent, models.MessageSentPayload{MessageID: msg.ID, Status: msg.Status})
	return msg, nil
}

func (r *Relay) notify(msg *models.ChatMessage, roomID string) {
	target, ok := r.registry.Lookup(msg.RecipientID())
	if !ok {
		return
	}
	preview := msg.Content.Text
	if strings.TrimSpace(preview) == "" {
		preview = config.AttachmentPreview
	}
	if r.send(target, models.EventMessageNotification, models.MessageNotificationPayload{
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		Content:        preview,
		ConversationID: roomID,
	}) {
		r.metrics.MessageDelivered("notification")
	}
}

// MarkAsRead moves a message to read on behalf of its recipient and tells
// the sender. Repeated calls are no-ops.
func (r *Relay) MarkAsRead(c Client, messageID string) error {
	if messageID == "" {
		return fmt.Errorf("messageId is required: %w", models.ErrValidationFailed)
	}
	msg, err := r.store.FindMessageByID(messageID)
	if err != nil {
		return fmt.Errorf("find message: %w", err)
	}
	if msg == nil {
		return models.ErrNotFound
	}
	if !msg.IsParty(c.GetUserID()) || msg.SenderID == c.GetUserID() {
		return models.ErrPermissionDenied
	}
	if msg.Status == models.StatusRead {
		return nil
	}

	readAt := time.Now()
	ok, err := r.store.AdvanceMessageStatus(msg.ID, models.StatusRead, readAt)
	if err != nil {
		r.metrics.PersistFailed("message")
		return fmt.Errorf("mark read: %w", err)
	}
	if !ok {
		return nil
	}

	if sender, online := r.registry.Lookup(msg.SenderID); online {
		r.send(sender, models.EventMessageStatusUpdate, models.MessageStatusPayload{
			MessageID: msg.ID,
			Status:    models.StatusRead,
			ReadAt:    &readAt,
		})
	}
	return nil
}

// Typing tells the other members of the conversation that c is typing.
func (r *Relay) Typing(c Client, p models.TypingPayload) error {
	if err := conversationParty(c, p.PatientID, p.DoctorID); err != nil {
		return err
	}
	ev, err := models.NewEvent(models.EventUserTyping, models.UserTypingPayload{
		UserID:   c.GetUserID(),
		UserName: c.GetUserName(),
		IsTyping: p.IsTyping,
	})
	if err != nil {
		return err
	}
	r.rooms.Broadcast(models.ConversationRoomID(p.PatientID, p.DoctorID), ev, c)
	return nil
}

func (r *Relay) send(c Client, name string, data any) bool {
	ev, err := models.NewEvent(name, data)
	if err != nil {
		log.Error().Str("module", "chathub.relay").Str("event", name).Err(err).Msg("encode event")
		return false
	}
	if err := c.TrySend(ev); err != nil {
		r.metrics.Dropped()
		log.Debug().Str("module", "chathub.relay").Str("user", c.GetUserID()).Str("event", name).Err(err).Msg("event dropped")
		return false
	}
	return true
}
