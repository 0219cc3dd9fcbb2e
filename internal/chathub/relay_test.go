package chathub_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"carelink/backend/internal/callsession"
	"carelink/backend/internal/chathub"
	"carelink/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*chathub.ManagerService, *MockStorage) {
	t.Helper()
	st := new(MockStorage)
	st.allowPresence()
	calls := callsession.NewManager(st, nil, 8)
	return chathub.NewManagerService(st, calls, nil, 0), st
}

// expectSave assigns sequential ids to saved messages.
func expectSave(st *MockStorage) *[]string {
	var mu sync.Mutex
	var order []string
	st.On("SaveMessage", mock.AnythingOfType("*models.ChatMessage")).Run(func(args mock.Arguments) {
		msg := args.Get(0).(*models.ChatMessage)
		mu.Lock()
		msg.ID = fmt.Sprintf("m%d", len(order)+1)
		order = append(order, msg.ID)
		mu.Unlock()
	}).Return(nil)
	return &order
}

func textPayload(text string) models.SendMessagePayload {
	return models.SendMessagePayload{PatientID: "p1", DoctorID: "d1", Content: models.MessageContent{Text: text}}
}

func TestRelay_SendToRoomMarksDelivered(t *testing.T) {
	hub, st := newTestHub(t)
	expectSave(st)
	st.On("AdvanceMessageStatus", "m1", models.StatusDelivered, mock.Anything).Return(true, nil).Once()

	patient := newMockClient("p1", models.RolePatient)
	doctor := newMockClient("d1", models.RoleDoctor)
	hub.Admit(patient)
	hub.Admit(doctor)
	require.NoError(t, hub.Rooms.JoinConversation(patient, "p1", "d1"))
	require.NoError(t, hub.Rooms.JoinConversation(doctor, "p1", "d1"))

	msg, err := hub.Relay.Send(patient, textPayload("hello doctor"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, msg.Status)
	assert.NotNil(t, msg.DeliveredAt)

	doctorEvents := doctor.drain()
	var newMessages []models.ChatMessage
	for _, ev := range doctorEvents {
		assert.NotEqual(t, models.EventMessageNotification, ev.Name, "recipient in the room gets no notification")
		if ev.Name == models.EventNewMessage {
			newMessages = append(newMessages, decodeData[models.ChatMessage](t, ev))
		}
	}
	require.Len(t, newMessages, 1)
	assert.Equal(t, "hello doctor", newMessages[0].Content.Text)
	assert.Equal(t, "text", newMessages[0].Content.Type)
	assert.Equal(t, "p1", newMessages[0].SenderID)

	patientEvents := patient.drain()
	var sent []models.MessageSentPayload
	for _, ev := range patientEvents {
		if ev.Name == models.EventMessageSent {
			sent = append(sent, decodeData[models.MessageSentPayload](t, ev))
		}
	}
	require.Len(t, sent, 1)
	assert.Equal(t, models.MessageSentPayload{MessageID: "m1", Status: models.StatusDelivered}, sent[0])
	st.AssertExpectations(t)
}

func TestRelay_SendNotifiesAbsentRecipientOnce(t *testing.T) {
	hub, st := newTestHub(t)
	expectSave(st)

	patient := newMockClient("p1", models.RolePatient)
	doctor := newMockClient("d1", models.RoleDoctor)
	hub.Admit(patient)
	hub.Admit(doctor)
	require.NoError(t, hub.Rooms.JoinConversation(patient, "p1", "d1"))
	doctor.drain()

	_, err := hub.Relay.Send(patient, textPayload("are you there?"))
	require.NoError(t, err)

	events := doctor.drain()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventMessageNotification, events[0].Name)
	note := decodeData[models.MessageNotificationPayload](t, events[0])
	assert.Equal(t, "m1", note.MessageID)
	assert.Equal(t, "are you there?", note.Content)
	assert.Equal(t, "User p1", note.SenderName)
	assert.Equal(t, models.ConversationRoomID("p1", "d1"), note.ConversationID)

	ack := decodeData[models.MessageSentPayload](t, patient.expect(t, models.EventMessageSent))
	assert.Equal(t, models.StatusSent, ack.Status)
	st.AssertNotCalled(t, "AdvanceMessageStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestRelay_SendAttachmentPreview(t *testing.T) {
	hub, st := newTestHub(t)
	expectSave(st)

	doctor := newMockClient("d1", models.RoleDoctor)
	patient := newMockClient("p1", models.RolePatient)
	hub.Admit(doctor)
	hub.Admit(patient)
	doctor.drain()

	_, err := hub.Relay.Send(doctor, models.SendMessagePayload{
		PatientID:   "p1",
		DoctorID:    "d1",
		Content:     models.MessageContent{Type: "file"},
		Attachments: []string{"https://files.example/lab.pdf"},
	})
	require.NoError(t, err)

	note := decodeData[models.MessageNotificationPayload](t, patient.expect(t, models.EventMessageNotification))
	assert.Equal(t, "Sent an attachment", note.Content)
}

func TestRelay_SendOfflineRecipient(t *testing.T) {
	hub, st := newTestHub(t)
	expectSave(st)

	patient := newMockClient("p1", models.RolePatient)
	hub.Admit(patient)

	msg, err := hub.Relay.Send(patient, textPayload("hello"))

	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, msg.Status)
	ack := decodeData[models.MessageSentPayload](t, patient.expect(t, models.EventMessageSent))
	assert.Equal(t, models.StatusSent, ack.Status)
}

func TestRelay_SendRejected(t *testing.T) {
	hub, st := newTestHub(t)
	patient := newMockClient("p1", models.RolePatient)
	hub.Admit(patient)

	_, err := hub.Relay.Send(patient, textPayload("   "))
	assert.ErrorIs(t, err, models.ErrValidationFailed)

	_, err = hub.Relay.Send(patient, models.SendMessagePayload{PatientID: "p2", DoctorID: "d1", Content: models.MessageContent{Text: "hi"}})
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	st.AssertNotCalled(t, "SaveMessage", mock.Anything)
}

func TestRelay_SendStorageFailure(t *testing.T) {
	hub, st := newTestHub(t)
	st.On("SaveMessage", mock.Anything).Return(errors.New("connection refused"))
	patient := newMockClient("p1", models.RolePatient)
	hub.Admit(patient)

	_, err := hub.Relay.Send(patient, textPayload("hello"))

	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrValidationFailed))
	assert.Empty(t, patient.named(models.EventMessageSent))
}

func TestRelay_OrderMatchesAcceptance(t *testing.T) {
	hub, st := newTestHub(t)
	order := expectSave(st)
	st.On("AdvanceMessageStatus", mock.Anything, models.StatusDelivered, mock.Anything).Return(true, nil)

	patient := newMockClient("p1", models.RolePatient)
	doctor := newMockClient("d1", models.RoleDoctor)
	patient.RecvChannel = make(chan models.Event, 256)
	doctor.RecvChannel = make(chan models.Event, 256)
	hub.Admit(patient)
	hub.Admit(doctor)
	require.NoError(t, hub.Rooms.JoinConversation(patient, "p1", "d1"))
	require.NoError(t, hub.Rooms.JoinConversation(doctor, "p1", "d1"))

	const perSender = 20
	var wg sync.WaitGroup
	for _, c := range []*MockClient{patient, doctor} {
		wg.Add(1)
		go func(c *MockClient) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := hub.Relay.Send(c, textPayload(fmt.Sprintf("%s-%d", c.userID, i)))
				assert.NoError(t, err)
			}
		}(c)
	}
	wg.Wait()

	for _, c := range []*MockClient{patient, doctor} {
		var got []string
		for _, ev := range c.named(models.EventNewMessage) {
			got = append(got, decodeData[models.ChatMessage](t, ev).ID)
		}
		assert.Equal(t, *order, got, "%s sees messages in acceptance order", c.userID)
	}
}

func TestRelay_MarkAsReadIsIdempotent(t *testing.T) {
	hub, st := newTestHub(t)
	msg := &models.ChatMessage{ID: "m1", PatientID: "p1", DoctorID: "d1", SenderID: "p1", SenderRole: models.RolePatient, Status: models.StatusDelivered}
	st.On("FindMessageByID", "m1").Return(msg, nil)
	st.On("AdvanceMessageStatus", "m1", models.StatusRead, mock.Anything).Return(true, nil).Once()
	st.On("AdvanceMessageStatus", "m1", models.StatusRead, mock.Anything).Return(false, nil)

	patient := newMockClient("p1", models.RolePatient)
	doctor := newMockClient("d1", models.RoleDoctor)
	hub.Admit(patient)
	hub.Admit(doctor)

	require.NoError(t, hub.Relay.MarkAsRead(doctor, "m1"))
	require.NoError(t, hub.Relay.MarkAsRead(doctor, "m1"))

	updates := patient.named(models.EventMessageStatusUpdate)
	require.Len(t, updates, 1)
	upd := decodeData[models.MessageStatusPayload](t, updates[0])
	assert.Equal(t, "m1", upd.MessageID)
	assert.Equal(t, models.StatusRead, upd.Status)
	assert.NotNil(t, upd.ReadAt)
}

func TestRelay_MarkAsReadAlreadyRead(t *testing.T) {
	hub, st := newTestHub(t)
	st.On("FindMessageByID", "m1").Return(&models.ChatMessage{
		ID: "m1", PatientID: "p1", DoctorID: "d1", SenderID: "p1", SenderRole: models.RolePatient, Status: models.StatusRead,
	}, nil)
	doctor := newMockClient("d1", models.RoleDoctor)
	hub.Admit(doctor)

	assert.NoError(t, hub.Relay.MarkAsRead(doctor, "m1"))
	st.AssertNotCalled(t, "AdvanceMessageStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestRelay_MarkAsReadRejected(t *testing.T) {
	hub, st := newTestHub(t)
	st.On("FindMessageByID", "m1").Return(&models.ChatMessage{
		ID: "m1", PatientID: "p1", DoctorID: "d1", SenderID: "p1", SenderRole: models.RolePatient, Status: models.StatusSent,
	}, nil)
	st.On("FindMessageByID", "gone").Return(nil, nil)

	sender := newMockClient("p1", models.RolePatient)
	stranger := newMockClient("d2", models.RoleDoctor)

	assert.ErrorIs(t, hub.Relay.MarkAsRead(sender, "m1"), models.ErrPermissionDenied)
	assert.ErrorIs(t, hub.Relay.MarkAsRead(stranger, "m1"), models.ErrPermissionDenied)
	assert.ErrorIs(t, hub.Relay.MarkAsRead(stranger, "gone"), models.ErrNotFound)
	assert.ErrorIs(t, hub.Relay.MarkAsRead(stranger, ""), models.ErrValidationFailed)
	st.AssertNotCalled(t, "AdvanceMessageStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestRelay_TypingReachesOthersOnly(t *testing.T) {
	hub, _ := newTestHub(t)
	patient := newMockClient("p1", models.RolePatient)
	doctor := newMockClient("d1", models.RoleDoctor)
	require.NoError(t, hub.Rooms.JoinConversation(patient, "p1", "d1"))
	require.NoError(t, hub.Rooms.JoinConversation(doctor, "p1", "d1"))

	require.NoError(t, hub.Relay.Typing(patient, models.TypingPayload{PatientID: "p1", DoctorID: "d1", IsTyping: true}))

	typing := decodeData[models.UserTypingPayload](t, doctor.expect(t, models.EventUserTyping))
	assert.Equal(t, models.UserTypingPayload{UserID: "p1", UserName: "User p1", IsTyping: true}, typing)
	assert.Empty(t, patient.named(models.EventUserTyping))
}

func TestRelay_SendReplyMustBelongToConversation(t *testing.T) {
	hub, st := newTestHub(t)
	order := expectSave(st)
	st.On("FindMessageByID", "m-own").Return(&models.ChatMessage{ID: "m-own", PatientID: "p1", DoctorID: "d1"}, nil)
	st.On("FindMessageByID", "m-other").Return(&models.ChatMessage{ID: "m-other", PatientID: "p2", DoctorID: "d1"}, nil)
	st.On("FindMessageByID", "m-gone").Return(nil, nil)

	patient := newMockClient("p1", models.RolePatient)
	hub.Admit(patient)

	for _, id := range []string{"m-other", "m-gone"} {
		p := textPayload("re")
		replyTo := id
		p.ReplyTo = &replyTo
		_, err := hub.Relay.Send(patient, p)
		assert.ErrorIs(t, err, models.ErrValidationFailed, id)
	}
	assert.Empty(t, *order, "rejected replies are not persisted")

	p := textPayload("re")
	replyTo := "m-own"
	p.ReplyTo = &replyTo
	msg, err := hub.Relay.Send(patient, p)
	require.NoError(t, err)
	require.NotNil(t, msg.ReplyToID)
	assert.Equal(t, "m-own", *msg.ReplyToID)

	empty := ""
	p.ReplyTo = &empty
	msg, err = hub.Relay.Send(patient, p)
	require.NoError(t, err)
	assert.Nil(t, msg.ReplyToID)
}

func TestRelay_SendClosesMemberThatFellBehind(t *testing.T) {
	hub, st := newTestHub(t)
	expectSave(st)
	st.On("AdvanceMessageStatus", mock.Anything, models.StatusDelivered, mock.Anything).Return(true, nil)

	patient := newMockClient("p1", models.RolePatient)
	doctor := newMockClient("d1", models.RoleDoctor)
	hub.Admit(patient)
	hub.Admit(doctor)
	require.NoError(t, hub.Rooms.JoinConversation(patient, "p1", "d1"))
	require.NoError(t, hub.Rooms.JoinConversation(doctor, "p1", "d1"))
	for doctor.TrySend(models.Event{Name: "filler"}) == nil {
	}

	_, err := hub.Relay.Send(patient, textPayload("one"))
	require.NoError(t, err)

	assert.True(t, doctor.isClosed(), "a member that missed a message is closed")
	assert.False(t, patient.isClosed())
	assert.Equal(t, models.EventNewMessage, patient.expect(t, models.EventNewMessage).Name)
}
