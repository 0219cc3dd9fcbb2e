package chathub_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"carelink/backend/internal/chathub"
	"carelink/backend/internal/models"

	"github.com/stretchr/testify/require"
)

type MockClient struct {
	userID      string
	role        models.Role
	name        string
	RecvChannel chan models.Event

	mu     sync.Mutex
	closed bool
}

func newMockClient(userID string, role models.Role) *MockClient {
	return &MockClient{
		userID:      userID,
		role:        role,
		name:        "User " + userID,
		RecvChannel: make(chan models.Event, 32),
	}
}

func (c *MockClient) GetUserID() string    { return c.userID }
func (c *MockClient) GetRole() models.Role { return c.role }
func (c *MockClient) GetUserName() string  { return c.name }

func (c *MockClient) TrySend(ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return chathub.ErrClientClosed
	}
	select {
	case c.RecvChannel <- ev:
		return nil
	default:
		return chathub.ErrBackpressure
	}
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *MockClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// drain returns every event queued so far.
func (c *MockClient) drain() []models.Event {
	var out []models.Event
	for {
		select {
		case ev := <-c.RecvChannel:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// named returns the queued events called name, discarding the rest.
func (c *MockClient) named(name string) []models.Event {
	var out []models.Event
	for _, ev := range c.drain() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// expect waits briefly for the next event called name.
func (c *MockClient) expect(t *testing.T, name string) models.Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-c.RecvChannel:
			if ev.Name == name {
				return ev
			}
		case <-timeout:
			t.Fatalf("%s did not receive %q", c.userID, name)
			return models.Event{}
		}
	}
}

func decodeData[T any](t *testing.T, ev models.Event) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(ev.Data, &v))
	return v
}

func event(t *testing.T, name string, data any) models.Event {
	t.Helper()
	ev, err := models.NewEvent(name, data)
	require.NoError(t, err)
	return ev
}
