package handler

import (
	"time"

	"carelink/backend/internal/auth"
	"carelink/backend/internal/callsession"
	"carelink/backend/internal/chathub"
	"carelink/backend/internal/config"
	"carelink/backend/internal/models"
	"carelink/backend/internal/observability"
)

// Store is the slice of storage the HTTP surface reads and publishes through.
type Store interface {
	GetConversationHistory(patientID, doctorID string, before *time.Time, limit int) ([]models.ChatMessage, error)
	GetPresence(userID string) (models.PresenceStatus, bool, error)
	PublishNotification(channel string, payload []byte) error
}

// CallAdmin is what operator endpoints need from the live call table.
type CallAdmin interface {
	Cancel(id, by, reason string) (*models.CallSession, callsession.Transition, error)
	Hold(id string) (*models.CallSession, callsession.Transition, error)
	Resume(id string) (*models.CallSession, callsession.Transition, error)
	Fail(id string) (*models.CallSession, callsession.Transition, error)
	MarkNoShow(id string) (*models.CallSession, callsession.Transition, error)
	Stale(grace time.Duration) []*models.CallSession
}

// Handler holds everything the HTTP routes talk to.
type Handler struct {
	Hub      *chathub.ManagerService
	Verifier *auth.Verifier
	Status   *auth.StatusChecker
	Store    Store
	Calls    CallAdmin
	Config   *config.Config
	Metrics  *observability.Metrics
}

func NewHandler(hub *chathub.ManagerService, verifier *auth.Verifier, status *auth.StatusChecker, store Store, calls CallAdmin, cfg *config.Config, metrics *observability.Metrics) *Handler {
	return &Handler{
		Hub:      hub,
		Verifier: verifier,
		Status:   status,
		Store:    store,
		Calls:    calls,
		Config:   cfg,
		Metrics:  metrics,
	}
}

func (h *Handler) clientOptions() chathub.ClientOptions {
	return chathub.ClientOptions{
		WriteWait:  h.Config.WriteWait,
		PongWait:   h.Config.PongWait,
		PingPeriod: h.Config.PingPeriod,
		ReadLimit:  h.Config.ReadLimit,
		SendBuffer: h.Config.SendBuffer,
	}
}
