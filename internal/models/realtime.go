package models

import (
	"encoding/json"
	"time"
)

// Event is the frame exchanged over a realtime channel in both directions.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes data as the payload of an outbound event.
func NewEvent(name string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: raw}, nil
}

// Inbound event names.
const (
	EventJoinConversation    = "joinConversation"
	EventLeaveConversation   = "leaveConversation"
	EventSendMessage         = "sendMessage"
	EventMarkAsRead          = "markAsRead"
	EventTyping              = "typing"
	EventJoinVideoCall       = "joinVideoCall"
	EventLeaveVideoCall      = "leaveVideoCall"
	EventWebRTCOffer         = "webrtc-offer"
	EventWebRTCAnswer        = "webrtc-answer"
	EventWebRTCICECandidate  = "webrtc-ice-candidate"
	EventStartScreenShare    = "startScreenShare"
	EventStopScreenShare     = "stopScreenShare"
	EventReportCallQuality   = "reportCallQuality"
	EventUpdateStatus        = "updateStatus"
	EventSendNotification    = "sendNotification"
	EventAppointmentReminder = "appointmentReminder"
	EventPrescriptionReady   = "prescriptionReady"
)

// Outbound event names.
const (
	EventNewMessage          = "newMessage"
	EventMessageNotification = "messageNotification"
	EventMessageSent         = "messageSent"
	EventMessageStatusUpdate = "messageStatusUpdate"
	EventUserTyping          = "userTyping"
	EventJoinedVideoCall     = "joinedVideoCall"
	EventParticipantJoined   = "participantJoined"
	EventParticipantLeft     = "participantLeft"
	EventScreenShareStarted  = "screenShareStarted"
	EventScreenShareStopped  = "screenShareStopped"
	EventUserStatusChange    = "userStatusChange"
	EventNotification        = "notification"
	EventError               = "error"
)

// ConversationPayload addresses a conversation room.
type ConversationPayload struct {
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId"`
}

// SendMessagePayload is the body of sendMessage.
type SendMessagePayload struct {
	PatientID   string         `json:"patientId"`
	DoctorID    string         `json:"doctorId"`
	Content     MessageContent `json:"content"`
	Attachments []string       `json:"attachments,omitempty"`
	ReplyTo     *string        `json:"replyTo,omitempty"`
}

// MarkAsReadPayload is the body of markAsRead.
type MarkAsReadPayload struct {
	MessageID string `json:"messageId"`
}

// TypingPayload is the body of typing.
type TypingPayload struct {
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId"`
	IsTyping  bool   `json:"isTyping"`
}

// CallPayload addresses a call session.
type CallPayload struct {
	CallID string `json:"callId"`
}

// QualityPayload is the body of reportCallQuality.
type QualityPayload struct {
	CallID      string         `json:"callId"`
	QualityData map[string]any `json:"qualityData"`
}

// StatusPayload is the body of updateStatus.
type StatusPayload struct {
	Status string `json:"status"`
}

// NotificationPayload is the body of sendNotification.
type NotificationPayload struct {
	TargetUserID string          `json:"targetUserId"`
	Notification json.RawMessage `json:"notification"`
}

// AppointmentReminderPayload is the body of appointmentReminder.
type AppointmentReminderPayload struct {
	AppointmentID string `json:"appointmentId"`
	Type          string `json:"type"` // "soon" or "now"
}

// PrescriptionReadyPayload is the body of prescriptionReady.
type PrescriptionReadyPayload struct {
	PatientID      string `json:"patientId"`
	PrescriptionID string `json:"prescriptionId"`
}

// ErrorPayload is the body of every error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// MessageSentPayload acknowledges a sendMessage to its sender.
type MessageSentPayload struct {
	MessageID string         `json:"messageId"`
	Status    DeliveryStatus `json:"status"`
}

// MessageNotificationPayload is pushed to a recipient who is not in the room.
type MessageNotificationPayload struct {
	MessageID      string `json:"messageId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
}

// MessageStatusPayload tells a sender its message changed status.
type MessageStatusPayload struct {
	MessageID string         `json:"messageId"`
	Status    DeliveryStatus `json:"status"`
	ReadAt    *time.Time     `json:"readAt,omitempty"`
}

// UserTypingPayload is broadcast to the other conversation members.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// JoinedVideoCallPayload answers joinVideoCall.
type JoinedVideoCallPayload struct {
	CallID       string       `json:"callId"`
	RoomID       string       `json:"roomId"`
	MeetingLink  string       `json:"meetingLink,omitempty"`
	State        CallState    `json:"state"`
	Participants Participants `json:"participants"`
}

// ParticipantJoinedPayload is sent to the rest of the call room.
type ParticipantJoinedPayload struct {
	UserID   string    `json:"userId"`
	UserType Role      `json:"userType"`
	UserName string    `json:"userName"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ParticipantLeftPayload is sent to the rest of the call room.
type ParticipantLeftPayload struct {
	UserID   string    `json:"userId"`
	UserType Role      `json:"userType"`
	LeftAt   time.Time `json:"leftAt"`
}

// ScreenSharePayload is sent to the rest of the call room.
type ScreenSharePayload struct {
	CallID   string `json:"callId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// StatusChangePayload is the presence broadcast.
type StatusChangePayload struct {
	UserID string         `json:"userId"`
	Status PresenceStatus `json:"status"`
}

// ReminderNotification is the notification sent for appointmentReminder.
type ReminderNotification struct {
	Type          string `json:"type"`
	AppointmentID string `json:"appointmentId"`
	Message       string `json:"message"`
}

// PrescriptionNotification is the notification sent for prescriptionReady.
type PrescriptionNotification struct {
	Type           string `json:"type"`
	PrescriptionID string `json:"prescriptionId"`
	Message        string `json:"message"`
}
