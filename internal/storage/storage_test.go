package storage_test

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"carelink/backend/internal/models"
	"carelink/backend/internal/storage"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupMockDB opens gorm over a sqlmock connection.
func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *storage.Service) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return mock, storage.NewStorageService(db, nil)
}

var messageColumns = []string{"id", "patient_id", "doctor_id", "sender_id", "sender_role", "content_type", "content_text", "status", "sent_at"}

func TestFindMessageByID(t *testing.T) {
	mock, s := setupMockDB(t)
	sentAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "chat_messages" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow("m1", "p1", "d1", "p1", "patient", "text", "hello", "sent", sentAt))

	msg, err := s.FindMessageByID("m1")

	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hello", msg.Content.Text)
	assert.Equal(t, models.RolePatient, msg.SenderRole)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindMessageByID_NotFound(t *testing.T) {
	mock, s := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "chat_messages"`)).
		WillReturnRows(sqlmock.NewRows(messageColumns))

	msg, err := s.FindMessageByID("missing")

	assert.NoError(t, err)
	assert.Nil(t, msg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceMessageStatus_Read(t *testing.T) {
	mock, s := setupMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "chat_messages" SET "read_at"=$1,"status"=$2 WHERE id = $3 AND status IN ($4,$5)`)).
		WithArgs(sqlmock.AnyArg(), "read", "m1", "sent", "delivered").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.AdvanceMessageStatus("m1", models.StatusRead, time.Now())

	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceMessageStatus_AlreadyRead(t *testing.T) {
	mock, s := setupMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "chat_messages" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.AdvanceMessageStatus("m1", models.StatusRead, time.Now())

	assert.NoError(t, err)
	assert.False(t, ok, "a second read must not report a transition")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceMessageStatus_Delivered(t *testing.T) {
	mock, s := setupMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "chat_messages" SET "delivered_at"=$1,"status"=$2 WHERE id = $3 AND status IN ($4)`)).
		WithArgs(sqlmock.AnyArg(), "delivered", "m1", "sent").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.AdvanceMessageStatus("m1", models.StatusDelivered, time.Now())

	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceMessageStatus_NeverBackwards(t *testing.T) {
	mock, s := setupMockDB(t)

	ok, err := s.AdvanceMessageStatus("m1", models.StatusSent, time.Now())

	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet(), "no query for a status that cannot move anything forward")
}

func TestAdvanceMessageStatus_DBError(t *testing.T) {
	mock, s := setupMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "chat_messages" SET`)).
		WillReturnError(errors.New("connection reset"))

	ok, err := s.AdvanceMessageStatus("m1", models.StatusRead, time.Now())

	assert.Error(t, err)
	assert.False(t, ok)
}

func TestGetConversationHistory_OldestFirst(t *testing.T) {
	mock, s := setupMockDB(t)
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "chat_messages" WHERE`)).
		WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow("m2", "p1", "d1", "d1", "doctor", "text", "second", "read", t0.Add(time.Minute)).
			AddRow("m1", "p1", "d1", "p1", "patient", "text", "first", "read", t0))

	history, err := s.GetConversationHistory("p1", "d1", nil, 0)

	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "m1", history[0].ID)
	assert.Equal(t, "m2", history[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCallSession_NotFound(t *testing.T) {
	mock, s := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "call_sessions" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	call, err := s.GetCallSession("C404")

	assert.NoError(t, err)
	assert.Nil(t, call)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCallSession(t *testing.T) {
	mock, s := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "call_sessions" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "patient_id", "doctor_id", "room_id", "state", "patient_joined", "doctor_joined"}).
			AddRow("C101", "p1", "d1", "room-1", "waiting", true, false))

	call, err := s.GetCallSession("C101")

	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, models.CallWaiting, call.State)
	assert.True(t, call.Patient.Joined)
	assert.False(t, call.Doctor.Joined)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStaleWaitingCalls(t *testing.T) {
	mock, s := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "call_sessions" WHERE state = $1 AND COALESCE(patient_entered_waiting_at, doctor_entered_waiting_at) < $2`)).
		WithArgs("waiting", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "state"}).AddRow("C7", "waiting"))

	calls, err := s.ListStaleWaitingCalls(time.Now().Add(-15 * time.Minute))

	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "C7", calls[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDoctorOnline(t *testing.T) {
	mock, s := setupMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "accounts" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, s.SetDoctorOnline("d1", false, time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetAccountActive_Unknown(t *testing.T) {
	mock, s := setupMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "accounts" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetAccountActive("ghost", false)

	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccount(t *testing.T) {
	mock, s := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "accounts" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "first_name", "last_name", "is_active", "is_locked"}).
			AddRow("d1", "doctor", "Olena", "Kovalenko", true, false))

	account, err := s.GetAccount("d1")

	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "Olena Kovalenko", account.FullName())
	assert.True(t, account.CanConnect())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPresenceWithoutRedis(t *testing.T) {
	_, s := setupMockDB(t)

	assert.NoError(t, s.SetPresence("p1", models.PresenceOnline, time.Minute))
	assert.NoError(t, s.ClearPresence("p1"))

	status, ok, err := s.GetPresence("p1")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, status)
}

func TestPublishNotificationWithoutRedis(t *testing.T) {
	_, s := setupMockDB(t)

	assert.Error(t, s.PublishNotification("carelink:notifications", []byte(`{}`)))
}
