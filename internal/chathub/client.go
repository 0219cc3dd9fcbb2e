package chathub

import (
	"errors"

	"carelink/backend/internal/models"
)

var (
	// ErrBackpressure is returned by TrySend when the client's send buffer is full.
	ErrBackpressure = errors.New("backpressure")
	// ErrClientClosed is returned by TrySend after Close.
	ErrClientClosed = errors.New("connection closed")
	// ErrSuperseded is returned when a newer channel of the same identity
	// took over while an event was being handled.
	ErrSuperseded = errors.New("connection superseded")
)

// Client is one authenticated realtime channel. The hub only ever pushes
// events into it; the transport behind it is up to the implementation.
type Client interface {
	// GetUserID returns the verified identity behind the channel.
	GetUserID() string
	// GetRole returns the verified role of the identity.
	GetRole() models.Role
	// GetUserName returns the display name carried by the credential.
	GetUserName() string

	// TrySend queues ev for delivery without blocking.
	TrySend(ev models.Event) error

	// Run starts the client's read and write pumps.
	Run()
	// Close stops the write pump. It is safe to call more than once.
	Close()
}
