package callsession

import (
	"sort"
	"sync"
	"time"

	"carelink/backend/internal/models"
	"carelink/backend/internal/observability"

	"github.com/rs/zerolog/log"
)

// Store is the scheduling and durability collaborator for call sessions.
type Store interface {
	GetCallSession(id string) (*models.CallSession, error)
	SaveCallSession(call *models.CallSession) error
}

type entry struct {
	mu     sync.Mutex
	call   *models.CallSession
	dirty  bool
	queued bool
}

// Manager owns the live call sessions. Each session is guarded by its own
// lock; storage is written behind by a single persister goroutine that always
// saves the latest snapshot of a session.
type Manager struct {
	store   Store
	metrics *observability.Metrics

	// Now is the clock used for every timestamp. Tests replace it.
	Now func() time.Time

	mu   sync.RWMutex
	live map[string]*entry

	// pending holds entries waiting for the persister. An entry appears at
	// most once, so the list is bounded by the number of sessions.
	qmu     sync.Mutex
	pending []*entry
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewManager builds a manager. queueSize only sizes the initial pending list.
func NewManager(store Store, metrics *observability.Metrics, queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Manager{
		store:   store,
		metrics: metrics,
		Now:     time.Now,
		live:    make(map[string]*entry),
		pending: make([]*entry, 0, queueSize),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Run saves pending snapshots until Close is called, then drains what is left.
func (m *Manager) Run() {
	defer close(m.done)
	for range m.wake {
		for {
			m.qmu.Lock()
			batch := m.pending
			m.pending = nil
			closed := m.closed
			m.qmu.Unlock()

			for _, e := range batch {
				m.flush(e)
			}
			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
		}
	}
}

// Close stops accepting writes and waits for pending snapshots to be saved.
// Run must have been started.
func (m *Manager) Close() {
	m.qmu.Lock()
	if m.closed {
		m.qmu.Unlock()
		return
	}
	m.closed = true
	m.qmu.Unlock()
	m.signal()
	<-m.done
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// acquire returns the live entry for id, loading it from storage outside any
// lock when it is not live yet. Terminal sessions loaded from storage are not
// added to the live table.
func (m *Manager) acquire(id string) (*entry, error) {
	m.mu.RLock()
	e := m.live[id]
	m.mu.RUnlock()
	if e != nil {
		return e, nil
	}

	call, err := m.store.GetCallSession(id)
	if err != nil {
		return nil, err
	}
	if call == nil {
		return nil, models.ErrNotFound
	}
	if call.State.IsTerminal() {
		return &entry{call: call}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.live[id]; existing != nil {
		return existing, nil
	}
	e = &entry{call: call}
	m.live[id] = e
	return e, nil
}

// Op is a mutation applied to a session under its lock.
type Op func(c *models.CallSession, now time.Time) (Transition, error)

// Apply runs op on session id as userID/role. The caller must be the
// participant recorded for role. It returns a snapshot taken under the lock.
func (m *Manager) Apply(id, userID string, role models.Role, op Op) (*models.CallSession, Transition, error) {
	e, err := m.acquire(id)
	if err != nil {
		return nil, Transition{}, err
	}

	e.mu.Lock()
	if !e.call.IsParticipant(userID, role) {
		e.mu.Unlock()
		return nil, Transition{}, models.ErrPermissionDenied
	}
	snap, tr, err := m.mutate(e, op)
	e.mu.Unlock()

	m.afterTransition(snap, tr)
	return snap, tr, err
}

// Administer runs op on session id without a participant check.
func (m *Manager) Administer(id string, op Op) (*models.CallSession, Transition, error) {
	e, err := m.acquire(id)
	if err != nil {
		return nil, Transition{}, err
	}

	e.mu.Lock()
	snap, tr, err := m.mutate(e, op)
	e.mu.Unlock()

	m.afterTransition(snap, tr)
	return snap, tr, err
}

// mutate must be called with e.mu held.
func (m *Manager) mutate(e *entry, op Op) (*models.CallSession, Transition, error) {
	tr, err := op(e.call, m.Now())
	if err == nil {
		m.markDirty(e)
	}
	return e.call.Clone(), tr, err
}

// markDirty must be called with e.mu held.
func (m *Manager) markDirty(e *entry) {
	e.dirty = true
	if e.queued {
		return
	}

	m.qmu.Lock()
	if m.closed {
		m.qmu.Unlock()
		log.Warn().Str("module", "callsession").Str("call", e.call.ID).Msg("persister closed, snapshot not saved")
		m.metrics.PersistFailed("call")
		return
	}
	e.queued = true
	m.pending = append(m.pending, e)
	m.qmu.Unlock()
	m.signal()
}

func (m *Manager) flush(e *entry) {
	e.mu.Lock()
	snap := e.call.Clone()
	e.dirty = false
	e.queued = false
	e.mu.Unlock()

	if err := m.store.SaveCallSession(snap); err != nil {
		log.Error().Str("module", "callsession").Err(err).
			Str("call", snap.ID).Str("state", string(snap.State)).Msg("failed to persist call session")
		m.metrics.PersistFailed("call")
		return
	}

	if !snap.State.IsTerminal() {
		return
	}
	e.mu.Lock()
	archived := !e.dirty
	e.mu.Unlock()
	if !archived {
		return
	}
	m.mu.Lock()
	if m.live[snap.ID] == e {
		delete(m.live, snap.ID)
	}
	m.mu.Unlock()
	log.Debug().Str("module", "callsession").Str("call", snap.ID).Msg("archived finished call")
}

func (m *Manager) afterTransition(snap *models.CallSession, tr Transition) {
	if snap == nil || !tr.Changed() {
		return
	}
	m.metrics.CallTransition(string(tr.To))
	if tr.To == models.CallEnded && snap.ActualStartTime != nil && snap.ActualEndTime != nil {
		m.metrics.CallEnded(snap.ActualEndTime.Sub(*snap.ActualStartTime))
	}
	log.Info().Str("module", "callsession").Str("call", snap.ID).
		Str("from", string(tr.From)).Str("to", string(tr.To)).Msg("call state changed")
}

// Join records userID joining call id under role.
func (m *Manager) Join(id, userID string, role models.Role) (*models.CallSession, Transition, error) {
	return m.Apply(id, userID, role, func(c *models.CallSession, now time.Time) (Transition, error) {
		return Join(c, role, now)
	})
}

// Leave records userID leaving call id under role.
func (m *Manager) Leave(id, userID string, role models.Role) (*models.CallSession, Transition, error) {
	return m.Apply(id, userID, role, func(c *models.CallSession, now time.Time) (Transition, error) {
		return Leave(c, role, now)
	})
}

// ReportQuality merges data into the quality record of role.
func (m *Manager) ReportQuality(id, userID string, role models.Role, data map[string]any) error {
	_, _, err := m.Apply(id, userID, role, func(c *models.CallSession, _ time.Time) (Transition, error) {
		MergeQuality(c, role, data)
		return Transition{From: c.State, To: c.State}, nil
	})
	return err
}

// StartScreenShare marks the session as having used screen sharing.
func (m *Manager) StartScreenShare(id, userID string, role models.Role) error {
	_, _, err := m.Apply(id, userID, role, func(c *models.CallSession, _ time.Time) (Transition, error) {
		return Transition{From: c.State, To: c.State}, StartScreenShare(c, role)
	})
	return err
}

func (m *Manager) Hold(id string) (*models.CallSession, Transition, error) {
	return m.Administer(id, func(c *models.CallSession, _ time.Time) (Transition, error) {
		return Hold(c)
	})
}

func (m *Manager) Resume(id string) (*models.CallSession, Transition, error) {
	return m.Administer(id, func(c *models.CallSession, _ time.Time) (Transition, error) {
		return Resume(c)
	})
}

func (m *Manager) Cancel(id, by, reason string) (*models.CallSession, Transition, error) {
	return m.Administer(id, func(c *models.CallSession, now time.Time) (Transition, error) {
		return Cancel(c, by, reason, now)
	})
}

func (m *Manager) Fail(id string) (*models.CallSession, Transition, error) {
	return m.Administer(id, Fail)
}

func (m *Manager) MarkNoShow(id string) (*models.CallSession, Transition, error) {
	return m.Administer(id, func(c *models.CallSession, _ time.Time) (Transition, error) {
		return MarkNoShow(c)
	})
}

// Lookup returns a snapshot of a live session without touching storage.
func (m *Manager) Lookup(id string) (*models.CallSession, bool) {
	m.mu.RLock()
	e := m.live[id]
	m.mu.RUnlock()
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.call.Clone(), true
}

// Stale lists live sessions that have been waiting longer than grace,
// oldest first. Cancelling them is left to the scheduling side.
func (m *Manager) Stale(grace time.Duration) []*models.CallSession {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.live))
	for _, e := range m.live {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	cutoff := m.Now().Add(-grace)
	var out []*models.CallSession
	for _, e := range entries {
		e.mu.Lock()
		if e.call.State == models.CallWaiting {
			if first := firstEnteredWaiting(e.call); first != nil && first.Before(cutoff) {
				out = append(out, e.call.Clone())
			}
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return firstEnteredWaiting(out[i]).Before(*firstEnteredWaiting(out[j]))
	})
	return out
}

// Len returns the number of sessions in the live table.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}
