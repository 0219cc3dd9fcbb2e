package chathub

import (
	"sync"
	"time"

	"carelink/backend/internal/models"
	"carelink/backend/internal/observability"

	"github.com/rs/zerolog/log"
)

// PresenceStore is the durable side of presence: the Redis mirror and the
// doctor's online flag.
type PresenceStore interface {
	SetPresence(userID string, status models.PresenceStatus, ttl time.Duration) error
	ClearPresence(userID string) error
	SetDoctorOnline(id string, online bool, at time.Time) error
}

// Presence derives status changes from the registry and fans them out to
// every other connected identity. Delivery is best effort.
type Presence struct {
	registry *Registry
	store    PresenceStore
	metrics  *observability.Metrics
	ttl      time.Duration

	mu      sync.Mutex
	pending map[string][]presenceWrite
	idle    *sync.Cond
}

// presenceWrite is one queued storage update for an identity.
type presenceWrite struct {
	status models.PresenceStatus
	doctor bool
}

func NewPresence(registry *Registry, store PresenceStore, metrics *observability.Metrics, ttl time.Duration) *Presence {
	p := &Presence{
		registry: registry,
		store:    store,
		metrics:  metrics,
		ttl:      ttl,
		pending:  make(map[string][]presenceWrite),
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Online announces c after it was admitted.
func (p *Presence) Online(c Client) {
	p.announce(c.GetUserID(), models.PresenceOnline)
	p.persist(c, models.PresenceOnline)
}

// Offline announces c after it was removed.
func (p *Presence) Offline(c Client) {
	p.announce(c.GetUserID(), models.PresenceOffline)
	p.persist(c, models.PresenceOffline)
}

// Update applies a status requested by c. Unknown statuses are ignored
// without telling the client.
func (p *Presence) Update(c Client, raw string) bool {
	status, ok := models.ParsePresenceStatus(raw)
	if !ok {
		log.Debug().Str("module", "chathub.presence").Str("user", c.GetUserID()).Str("status", raw).Msg("ignored unknown status")
		return false
	}
	if !p.registry.SetStatus(c, status) {
		return false
	}
	p.announce(c.GetUserID(), status)
	p.enqueue(c.GetUserID(), presenceWrite{status: status})
	return true
}

func (p *Presence) announce(userID string, status models.PresenceStatus) {
	ev, err := models.NewEvent(models.EventUserStatusChange, models.StatusChangePayload{UserID: userID, Status: status})
	if err != nil {
		log.Error().Str("module", "chathub.presence").Err(err).Msg("encode status change")
		return
	}
	for _, conn := range p.registry.All() {
		if conn.UserID == userID {
			continue
		}
		if err := conn.Client.TrySend(ev); err != nil {
			p.metrics.Dropped()
			log.Debug().Str("module", "chathub.presence").Str("user", conn.UserID).Err(err).Msg("status change dropped")
		}
	}
}

// persist queues the storage side of a presence change. Writes of one
// identity are applied in order by a single worker, off the caller's goroutine.
func (p *Presence) persist(c Client, status models.PresenceStatus) {
	p.enqueue(c.GetUserID(), presenceWrite{status: status, doctor: c.GetRole() == models.RoleDoctor})
}

func (p *Presence) enqueue(userID string, w presenceWrite) {
	if p.store == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	queue, running := p.pending[userID]
	p.pending[userID] = append(queue, w)
	if !running {
		go p.drain(userID)
	}
}

// drain applies the queued writes of userID until none are left.
func (p *Presence) drain(userID string) {
	for {
		p.mu.Lock()
		queue := p.pending[userID]
		if len(queue) == 0 {
			delete(p.pending, userID)
			p.idle.Broadcast()
			p.mu.Unlock()
			return
		}
		w := queue[0]
		p.pending[userID] = queue[1:]
		p.mu.Unlock()

		p.apply(userID, w)
	}
}

func (p *Presence) apply(userID string, w presenceWrite) {
	p.mirror(userID, w.status)
	if !w.doctor {
		return
	}
	if err := p.store.SetDoctorOnline(userID, w.status != models.PresenceOffline, time.Now()); err != nil {
		p.metrics.PersistFailed("account")
		log.Error().Str("module", "chathub.presence").Str("user", userID).Err(err).Msg("failed to persist doctor presence")
	}
}

// Flush blocks until every queued presence write has been applied.
func (p *Presence) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.pending) > 0 {
		p.idle.Wait()
	}
}

func (p *Presence) mirror(userID string, status models.PresenceStatus) {
	if p.store == nil {
		return
	}
	var err error
	if status == models.PresenceOffline {
		err = p.store.ClearPresence(userID)
	} else {
		err = p.store.SetPresence(userID, status, p.ttl)
	}
	if err != nil {
		p.metrics.PersistFailed("presence")
		log.Warn().Str("module", "chathub.presence").Str("user", userID).Err(err).Msg("presence mirror update failed")
	}
}

// Refresh extends the mirrored status of c while it is still current.
func (p *Presence) Refresh(c Client) {
	if status, ok := p.registry.Status(c); ok {
		p.enqueue(c.GetUserID(), presenceWrite{status: status})
	}
}
