package chathub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"carelink/backend/internal/callsession"
	"carelink/backend/internal/config"
	"carelink/backend/internal/models"
	"carelink/backend/internal/observability"
	"carelink/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

// ManagerService is the realtime hub. It admits channels, dispatches their
// inbound events to the registry, rooms, relay and call sessions, and cleans
// up after disconnects.
type ManagerService struct {
	Registry *Registry
	Presence *Presence
	Rooms    *RoomManager
	Relay    *Relay
	Calls    CallSessions

	metrics *observability.Metrics
}

func NewManagerService(s storage.Storage, calls CallSessions, metrics *observability.Metrics, presenceTTL time.Duration) *ManagerService {
	registry := NewRegistry()
	rooms := NewRoomManager(calls)
	return &ManagerService{
		Registry: registry,
		Presence: NewPresence(registry, s, metrics, presenceTTL),
		Rooms:    rooms,
		Relay:    NewRelay(s, rooms, registry, metrics),
		Calls:    calls,
		metrics:  metrics,
	}
}

// Admit registers c as the current channel of its identity. A channel it
// replaces stays open but is detached from every room and no longer routed.
func (m *ManagerService) Admit(c Client) {
	prev := m.Registry.Admit(c)
	if prev != nil {
		left := m.Rooms.DetachAll(prev)
		log.Info().Str("module", "chathub").Str("user", c.GetUserID()).
			Int("rooms", len(left)).Msg("connection superseded")
	}
	m.metrics.ConnectionOpened(prev != nil)
	m.Presence.Online(c)
	log.Info().Str("module", "chathub").Str("user", c.GetUserID()).
		Str("role", string(c.GetRole())).Msg("client admitted")
}

// Disconnect cleans up after c's transport closed. A superseded channel
// leaves nothing behind because its identity belongs to a newer channel.
func (m *ManagerService) Disconnect(c Client) {
	if !m.Registry.Remove(c) {
		m.Rooms.DetachAll(c)
		log.Debug().Str("module", "chathub").Str("user", c.GetUserID()).Msg("superseded client disconnected")
		return
	}

	now := time.Now()
	for _, roomID := range m.Rooms.DetachAll(c) {
		if _, ok := callIDFromRoom(roomID); !ok {
			continue
		}
		m.broadcast(roomID, c, models.EventParticipantLeft, models.ParticipantLeftPayload{
			UserID:   c.GetUserID(),
			UserType: c.GetRole(),
			LeftAt:   now,
		})
	}
	m.metrics.ConnectionClosed()
	m.Presence.Offline(c)
	log.Info().Str("module", "chathub").Str("user", c.GetUserID()).Msg("client disconnected")
}

// Heartbeat refreshes the presence mirror of a live channel.
func (m *ManagerService) Heartbeat(c Client) {
	m.Presence.Refresh(c)
}

// IsUserOnline reports whether userID has a live channel.
func (m *ManagerService) IsUserOnline(userID string) bool {
	return m.Registry.IsUserOnline(userID)
}

// Connections lists every live channel for operator tooling.
func (m *ManagerService) Connections() []Connection {
	return m.Registry.All()
}

// HandleEvent dispatches one inbound event from c. A failing or panicking
// handler only drops that event.
func (m *ManagerService) HandleEvent(c Client, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.Event(ev.Name, "panic")
			log.Error().Str("module", "chathub").Str("user", c.GetUserID()).
				Str("event", ev.Name).Interface("panic", r).Msg("event handler panicked")
			m.sendError(c, "An error occurred")
		}
	}()

	if !m.Registry.IsCurrent(c) {
		m.metrics.Event(ev.Name, "dropped")
		log.Warn().Str("module", "chathub").Str("user", c.GetUserID()).
			Str("event", ev.Name).Msg("event from superseded connection dropped")
		return
	}

	err := m.dispatch(c, ev)
	if err != nil {
		m.metrics.Event(ev.Name, "error")
		log.Debug().Str("module", "chathub").Str("user", c.GetUserID()).
			Str("event", ev.Name).Err(err).Msg("event rejected")
		return
	}
	m.metrics.Event(ev.Name, "ok")
}

func (m *ManagerService) dispatch(c Client, ev models.Event) error {
	switch ev.Name {
	case models.EventJoinConversation:
		return m.handleJoinConversation(c, ev)
	case models.EventLeaveConversation:
		p, err := decode[models.ConversationPayload](ev)
		if err != nil {
			return m.reject(c, err, "")
		}
		m.Rooms.LeaveConversation(c, p.PatientID, p.DoctorID)
		return nil
	case models.EventSendMessage:
		return m.handleSendMessage(c, ev)
	case models.EventMarkAsRead:
		return m.handleMarkAsRead(c, ev)
	case models.EventTyping:
		p, err := decode[models.TypingPayload](ev)
		if err != nil {
			return m.reject(c, err, "")
		}
		if err := m.Relay.Typing(c, p); err != nil {
			return m.reject(c, err, "")
		}
		return nil
	case models.EventJoinVideoCall:
		return m.handleJoinVideoCall(c, ev)
	case models.EventLeaveVideoCall:
		return m.handleLeaveVideoCall(c, ev)
	case models.EventWebRTCOffer, models.EventWebRTCAnswer, models.EventWebRTCICECandidate:
		return m.handleSignal(c, ev)
	case models.EventStartScreenShare, models.EventStopScreenShare:
		return m.handleScreenShare(c, ev)
	case models.EventReportCallQuality:
		return m.handleReportQuality(c, ev)
	case models.EventUpdateStatus:
		p, err := decode[models.StatusPayload](ev)
		if err != nil {
			return err
		}
		m.Presence.Update(c, p.Status)
		return nil
	case models.EventSendNotification:
		return m.handleSendNotification(c, ev)
	case models.EventAppointmentReminder:
		return m.handleAppointmentReminder(c, ev)
	case models.EventPrescriptionReady:
		return m.handlePrescriptionReady(c, ev)
	default:
		return m.reject(c, fmt.Errorf("unknown event %q: %w", ev.Name, models.ErrValidationFailed), "Unknown event")
	}
}

func (m *ManagerService) handleJoinConversation(c Client, ev models.Event) error {
	p, err := decode[models.ConversationPayload](ev)
	if err != nil {
		return m.reject(c, err, "")
	}
	if err := m.Rooms.JoinConversation(c, p.PatientID, p.DoctorID); err != nil {
		return m.reject(c, err, "")
	}
	if !m.Registry.IsCurrent(c) {
		m.Rooms.LeaveConversation(c, p.PatientID, p.DoctorID)
		return ErrSuperseded
	}
	log.Debug().Str("module", "chathub").Str("user", c.GetUserID()).
		Str("room", models.ConversationRoomID(p.PatientID, p.DoctorID)).Msg("joined conversation")
	return nil
}

func (m *ManagerService) handleSendMessage(c Client, ev models.Event) error {
	p, err := decode[models.SendMessagePayload](ev)
	if err != nil {
		return m.reject(c, err, "")
	}
	if _, err := m.Relay.Send(c, p); err != nil {
		if isRejection(err) {
			return m.reject(c, err, "")
		}
		log.Error().Str("module", "chathub").Str("user", c.GetUserID()).Err(err).Msg("send message failed")
		m.sendError(c, "Failed to send message")
		return err
	}
	return nil
}

func (m *ManagerService) handleMarkAsRead(c Client, ev models.Event) error {
	p, err := decode[models.MarkAsReadPayload](ev)
	if err != nil {
		return m.reject(c, err, "")
	}
	if err := m.Relay.MarkAsRead(c, p.MessageID); err != nil {
		return m.reject(c, err, "Message not found")
	}
	return nil
}

func (m *ManagerService) handleJoinVideoCall(c Client, ev models.Event) error {
	p, err := decode[models.CallPayload](ev)
	if err != nil {
		return m.reject(c, err, "")
	}
	snap, err := m.Rooms.JoinCallRoom(c, p.CallID)
	if err != nil {
		return m.reject(c, err, "Video call not found")
	}
	// A newer channel may have been admitted while the join was in flight.
	if !m.Registry.IsCurrent(c) {
		m.Rooms.detach(models.CallRoomID(p.CallID), c)
		return ErrSuperseded
	}

	m.sendTo(c, models.EventJoinedVideoCall, models.JoinedVideoCallPayload{
		CallID:       snap.ID,
		RoomID:       snap.RoomID,
		MeetingLink:  snap.MeetingLink,
		State:        snap.State,
		Participants: snap.ParticipantsView(),
	})

	joinedAt := time.Now()
	if pj := snap.Participant(c.GetRole()); pj != nil && pj.JoinedAt != nil {
		joinedAt = *pj.JoinedAt
	}
	m.broadcast(models.CallRoomID(p.CallID), c, models.EventParticipantJoined, models.ParticipantJoinedPayload{
		UserID:   c.GetUserID(),
		UserType: c.GetRole(),
		UserName: c.GetUserName(),
		JoinedAt: joinedAt,
	})
	return nil
}

func (m *ManagerService) handleLeaveVideoCall(c Client, ev models.Event) error {
	p, err := decode[models.CallPayload](ev)
	if err != nil {
		return m.reject(c, err, "")
	}
	snap, err := m.Rooms.LeaveCallRoom(c, p.CallID)
	if err != nil {
		// Leaving is fire-and-forget for the client; nothing to report back.
		return err
	}

	leftAt := time.Now()
	if pl := snap.Participant(c.GetRole()); pl != nil && pl.LeftAt != nil {
		leftAt = *pl.LeftAt
	}
	m.broadcast(models.CallRoomID(p.CallID), c, models.EventParticipantLeft, models.ParticipantLeftPayload{
		UserID:   c.GetUserID(),
		UserType: c.GetRole(),
		LeftAt:   leftAt,
	})
	return nil
}

// handleSignal relays offer/answer/candidate frames verbatim to the other
// party of the call, tagged with the sender. An unreachable target drops the frame.
func (m *ManagerService) handleSignal(c Client, ev models.Event) error {
	var frame map[string]any
	if err := json.Unmarshal(ev.Data, &frame); err != nil || frame == nil {
		return m.reject(c, fmt.Errorf("decode %s: %w", ev.Name, models.ErrValidationFailed), "")
	}
	callID, _ := frame["callId"].(string)
	targetID, _ := frame["targetUserId"].(string)
	if callID == "" || targetID == "" {
		return m.reject(c, fmt.Errorf("callId and targetUserId are required: %w", models.ErrValidationFailed), "")
	}

	call, live := m.Calls.Lookup(callID)
	if !live || !m.Rooms.Has(models.CallRoomID(callID), c) || call.CounterpartID(c.GetUserID()) != targetID {
		return m.reject(c, models.ErrPermissionDenied, "")
	}

	target, ok := m.Registry.Lookup(targetID)
	if !ok {
		log.Debug().Str("module", "chathub.signal").Str("call", callID).Str("target", targetID).
			Str("event", ev.Name).Msg("signaling target offline, dropped")
		return nil
	}

	delete(frame, "targetUserId")
	frame["fromUserId"] = c.GetUserID()
	m.sendTo(target, ev.Name, frame)
	return nil
}

func (m *ManagerService) handleScreenShare(c Client, ev models.Event) error {
	p, err := decode[models.CallPayload](ev)
	if err != nil {
		return m.reject(c, err, "")
	}
	roomID := models.CallRoomID(p.CallID)
	if p.CallID == "" || !m.Rooms.Has(roomID, c) {
		return m.reject(c, models.ErrPermissionDenied, "")
	}

	payload := models.ScreenSharePayload{CallID: p.CallID, UserID: c.GetUserID()}
	name := models.EventScreenShareStopped
	if ev.Name == models.EventStartScreenShare {
		if err := m.Calls.StartScreenShare(p.CallID, c.GetUserID(), c.GetRole()); err != nil {
			log.Warn().Str("module", "chathub").Str("call", p.CallID).Err(err).Msg("screen share not recorded")
		}
		payload.UserName = c.GetUserName()
		name = models.EventScreenShareStarted
	}
	m.broadcast(roomID, c, name, payload)
	return nil
}

func (m *ManagerService) handleReportQuality(c Client, ev models.Event) error {
	p, err := decode[models.QualityPayload](ev)
	if err != nil {
		return m.reject(c, err, "")
	}
	if p.CallID == "" || len(p.QualityData) == 0 {
		return fmt.Errorf("callId and qualityData are required: %w", models.ErrValidationFailed)
	}
	return m.Calls.ReportQuality(p.CallID, c.GetUserID(), c.GetRole(), p.QualityData)
}

func (m *ManagerService) handleSendNotification(c Client, ev models.Event) error {
	p, err := decode[models.NotificationPayload](ev)
	if err != nil {
		return m.reject(c, err, "")
	}
	if p.TargetUserID == "" || len(p.Notification) == 0 {
		return m.reject(c, fmt.Errorf("targetUserId and notification are required: %w", models.ErrValidationFailed), "")
	}
	m.notify(p)
	return nil
}

func (m *ManagerService) handleAppointmentReminder(c Client, ev models.Event) error {
	p, err := decode[models.AppointmentReminderPayload](ev)
	if err != nil {
		return m.reject(c, err, "")
	}
	if p.AppointmentID == "" {
		return m.reject(c, fmt.Errorf("appointmentId is required: %w", models.ErrValidationFailed), "")
	}
	msg := config.ReminderNowMessage
	if p.Type == "soon" {
		msg = config.ReminderSoonMessage
	}
	m.sendTo(c, models.EventNotification, models.ReminderNotification{
		Type:          config.NotificationAppointmentReminder,
		AppointmentID: p.AppointmentID,
		Message:       msg,
	})
	return nil
}

func (m *ManagerService) handlePrescriptionReady(c Client, ev models.Event) error {
	p, err := decode[models.PrescriptionReadyPayload](ev)
	if err != nil {
		return m.reject(c, err, "")
	}
	if c.GetRole() != models.RoleDoctor {
		return m.reject(c, models.ErrPermissionDenied, "")
	}
	if p.PatientID == "" || p.PrescriptionID == "" {
		return m.reject(c, fmt.Errorf("patientId and prescriptionId are required: %w", models.ErrValidationFailed), "")
	}
	if target, ok := m.Registry.Lookup(p.PatientID); ok {
		m.sendTo(target, models.EventNotification, models.PrescriptionNotification{
			Type:           config.NotificationPrescriptionReady,
			PrescriptionID: p.PrescriptionID,
			Message:        config.PrescriptionReadyNotice,
		})
	}
	return nil
}

// reject reports err to c as an error event and returns it. notFound names
// the missing record for models.ErrNotFound.
func (m *ManagerService) reject(c Client, err error, notFound string) error {
	m.sendError(c, errorMessage(err, notFound))
	return err
}

func errorMessage(err error, notFound string) string {
	switch {
	case errors.Is(err, models.ErrPermissionDenied):
		return "Permission denied"
	case errors.Is(err, models.ErrValidationFailed):
		return "Invalid payload"
	case errors.Is(err, callsession.ErrTerminal):
		return "Video call has already ended"
	case errors.Is(err, models.ErrNotFound):
		if notFound != "" {
			return notFound
		}
		return "Not found"
	}
	return "An error occurred"
}

func isRejection(err error) bool {
	return errors.Is(err, models.ErrPermissionDenied) ||
		errors.Is(err, models.ErrValidationFailed) ||
		errors.Is(err, models.ErrNotFound)
}

func (m *ManagerService) sendError(c Client, message string) {
	m.sendTo(c, models.EventError, models.ErrorPayload{Message: message})
}

func (m *ManagerService) sendTo(c Client, name string, data any) {
	ev, err := models.NewEvent(name, data)
	if err != nil {
		log.Error().Str("module", "chathub").Str("event", name).Err(err).Msg("encode event")
		return
	}
	if err := c.TrySend(ev); err != nil {
		m.metrics.Dropped()
		log.Debug().Str("module", "chathub").Str("user", c.GetUserID()).Str("event", name).Err(err).Msg("event dropped")
	}
}

func (m *ManagerService) broadcast(roomID string, skip Client, name string, data any) {
	ev, err := models.NewEvent(name, data)
	if err != nil {
		log.Error().Str("module", "chathub").Str("event", name).Err(err).Msg("encode event")
		return
	}
	m.Rooms.Broadcast(roomID, ev, skip)
}

func decode[T any](ev models.Event) (T, error) {
	var v T
	if len(ev.Data) == 0 {
		return v, fmt.Errorf("%s: empty payload: %w", ev.Name, models.ErrValidationFailed)
	}
	if err := json.Unmarshal(ev.Data, &v); err != nil {
		return v, fmt.Errorf("%s: %v: %w", ev.Name, err, models.ErrValidationFailed)
	}
	return v, nil
}
