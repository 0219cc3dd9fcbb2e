package models

import (
	"maps"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CallState is the lifecycle state of a video consultation.
type CallState string

const (
	CallScheduled CallState = "scheduled"
	CallWaiting   CallState = "waiting"
	CallActive    CallState = "active"
	CallOnHold    CallState = "on_hold"
	CallEnded     CallState = "ended"
	CallCancelled CallState = "cancelled"
	CallFailed    CallState = "failed"
	CallNoShow    CallState = "no_show"
)

// IsTerminal reports whether no further transitions are allowed.
func (s CallState) IsTerminal() bool {
	switch s {
	case CallEnded, CallCancelled, CallFailed, CallNoShow:
		return true
	}
	return false
}

// Connection quality classes.
const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityFair      = "fair"
	QualityPoor      = "poor"
)

// ValidQualityClass reports whether q is one of the recognized quality classes.
func ValidQualityClass(q string) bool {
	switch q {
	case QualityExcellent, QualityGood, QualityFair, QualityPoor:
		return true
	}
	return false
}

// ParticipantStatus tracks one side of a call.
type ParticipantStatus struct {
	Joined            bool       `gorm:"not null;default:false" json:"joined"`
	JoinedAt          *time.Time `json:"joinedAt,omitempty"`
	LeftAt            *time.Time `json:"leftAt,omitempty"`
	ConnectionQuality string     `gorm:"type:text" json:"connectionQuality,omitempty"`
}

// Participants is the wire shape of both participant records.
type Participants struct {
	Patient ParticipantStatus `json:"patient"`
	Doctor  ParticipantStatus `json:"doctor"`
}

// CallSession is one scheduled or live video consultation.
type CallSession struct {
	ID            string `gorm:"primaryKey" json:"callId"`
	AppointmentID string `gorm:"type:text;index" json:"appointmentId"`
	PatientID     string `gorm:"type:text;not null;index" json:"patientId"`
	DoctorID      string `gorm:"type:text;not null;index" json:"doctorId"`

	RoomID      string `gorm:"type:text;uniqueIndex" json:"roomId"`
	MeetingLink string `gorm:"type:text" json:"meetingLink"`

	State              CallState `gorm:"type:text;not null;default:scheduled;index" json:"state"`
	ScheduledStartTime time.Time `json:"scheduledStartTime"`
	// ScheduledDuration is in minutes.
	ScheduledDuration int `gorm:"not null;default:30" json:"scheduledDuration"`

	ActualStartTime *time.Time `json:"actualStartTime,omitempty"`
	ActualEndTime   *time.Time `json:"actualEndTime,omitempty"`
	// ActualDuration is in whole minutes.
	ActualDuration *int `json:"actualDuration,omitempty"`

	Patient ParticipantStatus `gorm:"embedded;embeddedPrefix:patient_" json:"-"`
	Doctor  ParticipantStatus `gorm:"embedded;embeddedPrefix:doctor_" json:"-"`

	PatientEnteredWaitingAt *time.Time `json:"patientEnteredWaitingAt,omitempty"`
	DoctorEnteredWaitingAt  *time.Time `json:"doctorEnteredWaitingAt,omitempty"`
	// WaitingTime is how long, in minutes, the first party waited for the second.
	WaitingTime *int `json:"waitingTime,omitempty"`

	// Quality holds the last reported quality payload keyed by role.
	Quality datatypes.JSONMap `gorm:"type:jsonb" json:"quality,omitempty"`

	ScreenShareUsed bool `gorm:"not null;default:false" json:"screenShareUsed"`
	ScreenShareBy   Role `gorm:"type:text" json:"screenShareBy,omitempty"`

	CancellationReason string     `gorm:"type:text" json:"cancellationReason,omitempty"`
	CancelledBy        string     `gorm:"type:text" json:"cancelledBy,omitempty"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate fills in the generated identifiers.
func (c *CallSession) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.RoomID == "" {
		c.RoomID = "room-" + uuid.New().String()
	}
	if c.State == "" {
		c.State = CallScheduled
	}
	return
}

// Participant returns the record for role, or nil for an unknown role.
func (c *CallSession) Participant(role Role) *ParticipantStatus {
	switch role {
	case RolePatient:
		return &c.Patient
	case RoleDoctor:
		return &c.Doctor
	}
	return nil
}

// ParticipantID returns the identity recorded for role.
func (c *CallSession) ParticipantID(role Role) string {
	switch role {
	case RolePatient:
		return c.PatientID
	case RoleDoctor:
		return c.DoctorID
	}
	return ""
}

// IsParticipant reports whether userID takes part in the call under role.
func (c *CallSession) IsParticipant(userID string, role Role) bool {
	return userID != "" && c.ParticipantID(role) == userID
}

// CounterpartID returns the other party of userID, or "" if userID is not a party.
func (c *CallSession) CounterpartID(userID string) string {
	switch userID {
	case "":
		return ""
	case c.PatientID:
		return c.DoctorID
	case c.DoctorID:
		return c.PatientID
	}
	return ""
}

// ParticipantsView returns both participant records in wire form.
func (c *CallSession) ParticipantsView() Participants {
	return Participants{Patient: c.Patient, Doctor: c.Doctor}
}

// Clone returns a copy safe to hand out of the session lock.
// Time pointers are shared because transitions always assign fresh values.
func (c *CallSession) Clone() *CallSession {
	out := *c
	if c.Quality != nil {
		out.Quality = make(datatypes.JSONMap, len(c.Quality))
		for k, v := range c.Quality {
			if inner, ok := v.(map[string]any); ok {
				v = maps.Clone(inner)
			}
			out.Quality[k] = v
		}
	}
	return &out
}
