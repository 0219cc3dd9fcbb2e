package models

import (
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// DeliveryStatus of a chat message. It only ever moves forward.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Before reports whether s precedes next in the sent→delivered→read order.
func (s DeliveryStatus) Before(next DeliveryStatus) bool {
	return s.rank() < next.rank()
}

// MessageContent is the payload of a chat message.
type MessageContent struct {
	Type string `json:"type,omitempty"` // "text", "image", "file"
	Text string `json:"text,omitempty"`
}

// ChatMessage represents a saved chat message between one patient and one doctor.
type ChatMessage struct {
	ID string `gorm:"primaryKey" json:"id"`

	// The conversation is keyed by the (patient, doctor) pair.
	PatientID string `gorm:"type:text;not null;index:idx_conversation" json:"patientId"`
	DoctorID  string `gorm:"type:text;not null;index:idx_conversation" json:"doctorId"`

	SenderID   string `gorm:"type:text;not null" json:"senderId"`
	SenderRole Role   `gorm:"type:text;not null" json:"senderRole"`
	SenderName string `gorm:"type:text" json:"senderName"`

	Content     MessageContent `gorm:"embedded;embeddedPrefix:content_" json:"content"`
	Attachments pq.StringArray `gorm:"type:text[]" json:"attachments"`
	// ReplyToID references another message in the same conversation.
	ReplyToID *string `gorm:"index" json:"replyTo,omitempty"`

	Status      DeliveryStatus `gorm:"type:text;not null;default:sent" json:"status"`
	SentAt      time.Time      `gorm:"not null;index:idx_conversation" json:"sentAt"`
	DeliveredAt *time.Time     `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time     `json:"readAt,omitempty"`
}

// BeforeCreate generates the message id.
func (m *ChatMessage) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}

// ConversationRoomID returns the room key of the message's conversation.
func (m *ChatMessage) ConversationRoomID() string {
	return ConversationRoomID(m.PatientID, m.DoctorID)
}

// RecipientID returns the party that did not send the message.
func (m *ChatMessage) RecipientID() string {
	if m.SenderRole == RolePatient {
		return m.DoctorID
	}
	return m.PatientID
}

// IsParty reports whether userID is one of the two conversation parties.
func (m *ChatMessage) IsParty(userID string) bool {
	return userID != "" && (userID == m.PatientID || userID == m.DoctorID)
}

// ConversationRoomID is the room key for the (patient, doctor) pair. Both ids
// are path-escaped so distinct pairs never share a key.
func ConversationRoomID(patientID, doctorID string) string {
	return "conversation/" + url.PathEscape(patientID) + "/" + url.PathEscape(doctorID)
}

// InConversation reports whether m belongs to the (patient, doctor) pair.
func (m *ChatMessage) InConversation(patientID, doctorID string) bool {
	return m.PatientID == patientID && m.DoctorID == doctorID
}

// CallRoomID is the room key for one call session.
func CallRoomID(callID string) string {
	return "call_" + callID
}
