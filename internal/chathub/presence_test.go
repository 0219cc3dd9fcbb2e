package chathub_test

import (
	"sync"
	"testing"
	"time"

	"carelink/backend/internal/chathub"
	"carelink/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowPresenceStore delays every online write so a later offline write would
// overtake it without ordering.
type slowPresenceStore struct {
	delay time.Duration

	mu       sync.Mutex
	online   []bool
	mirrored []models.PresenceStatus
}

func (s *slowPresenceStore) SetPresence(userID string, status models.PresenceStatus, ttl time.Duration) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	s.mirrored = append(s.mirrored, status)
	s.mu.Unlock()
	return nil
}

func (s *slowPresenceStore) ClearPresence(userID string) error {
	s.mu.Lock()
	s.mirrored = append(s.mirrored, models.PresenceOffline)
	s.mu.Unlock()
	return nil
}

func (s *slowPresenceStore) SetDoctorOnline(id string, online bool, at time.Time) error {
	if online {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.online = append(s.online, online)
	s.mu.Unlock()
	return nil
}

func TestPresence_WritesOfOneIdentityStayOrdered(t *testing.T) {
	registry := chathub.NewRegistry()
	store := &slowPresenceStore{delay: 50 * time.Millisecond}
	presence := chathub.NewPresence(registry, store, nil, time.Minute)

	doctor := newMockClient("d1", models.RoleDoctor)
	registry.Admit(doctor)
	presence.Online(doctor)
	require.True(t, registry.Remove(doctor))
	presence.Offline(doctor)
	presence.Flush()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []bool{true, false}, store.online)
	assert.Equal(t, []models.PresenceStatus{models.PresenceOnline, models.PresenceOffline}, store.mirrored)
}

func TestPresence_PatientSkipsDoctorFlag(t *testing.T) {
	registry := chathub.NewRegistry()
	store := &slowPresenceStore{}
	presence := chathub.NewPresence(registry, store, nil, time.Minute)

	patient := newMockClient("p1", models.RolePatient)
	registry.Admit(patient)
	presence.Online(patient)
	assert.True(t, presence.Update(patient, "busy"))
	assert.False(t, presence.Update(patient, "sleeping"))
	presence.Refresh(patient)
	presence.Flush()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.online)
	assert.Equal(t, []models.PresenceStatus{models.PresenceOnline, models.PresenceBusy, models.PresenceBusy}, store.mirrored)
}

func TestPresence_RefreshIgnoresSupersededChannel(t *testing.T) {
	registry := chathub.NewRegistry()
	store := &slowPresenceStore{}
	presence := chathub.NewPresence(registry, store, nil, time.Minute)

	old := newMockClient("p1", models.RolePatient)
	registry.Admit(old)
	registry.Admit(newMockClient("p1", models.RolePatient))

	presence.Refresh(old)
	presence.Flush()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.mirrored)
}
