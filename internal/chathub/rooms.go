package chathub

import (
	"fmt"
	"strings"
	"sync"

	"carelink/backend/internal/callsession"
	"carelink/backend/internal/models"
)

// CallSessions is the part of the call session manager the hub drives.
type CallSessions interface {
	Join(id, userID string, role models.Role) (*models.CallSession, callsession.Transition, error)
	Leave(id, userID string, role models.Role) (*models.CallSession, callsession.Transition, error)
	ReportQuality(id, userID string, role models.Role, data map[string]any) error
	StartScreenShare(id, userID string, role models.Role) error
	Lookup(id string) (*models.CallSession, bool)
}

type room struct {
	mu      sync.Mutex
	members map[Client]struct{}
	// dead is set once the last member left and the room is being dropped.
	dead bool
}

// RoomManager groups channels into conversation and call rooms. Rooms hold
// membership only and disappear with their last member.
type RoomManager struct {
	calls CallSessions

	mu    sync.RWMutex
	rooms map[string]*room
}

func NewRoomManager(calls CallSessions) *RoomManager {
	return &RoomManager{calls: calls, rooms: make(map[string]*room)}
}

// attach adds c to roomID and reports whether it was newly added.
func (rm *RoomManager) attach(roomID string, c Client) bool {
	for {
		rm.mu.Lock()
		r, ok := rm.rooms[roomID]
		if !ok {
			r = &room{members: make(map[Client]struct{})}
			rm.rooms[roomID] = r
		}
		rm.mu.Unlock()

		r.mu.Lock()
		if r.dead {
			r.mu.Unlock()
			continue
		}
		_, had := r.members[c]
		r.members[c] = struct{}{}
		r.mu.Unlock()
		return !had
	}
}

// detach removes c from roomID and reports whether it was a member.
func (rm *RoomManager) detach(roomID string, c Client) bool {
	rm.mu.RLock()
	r, ok := rm.rooms[roomID]
	rm.mu.RUnlock()
	if !ok {
		return false
	}

	r.mu.Lock()
	_, had := r.members[c]
	delete(r.members, c)
	empty := len(r.members) == 0 && !r.dead
	if empty {
		r.dead = true
	}
	r.mu.Unlock()

	if empty {
		rm.mu.Lock()
		if rm.rooms[roomID] == r {
			delete(rm.rooms, roomID)
		}
		rm.mu.Unlock()
	}
	return had
}

// Members returns a snapshot of the channels attached to roomID.
func (rm *RoomManager) Members(roomID string) []Client {
	rm.mu.RLock()
	r, ok := rm.rooms[roomID]
	rm.mu.RUnlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Client, 0, len(r.members))
	for c := range r.members {
		out = append(out, c)
	}
	return out
}

// Has reports whether c is attached to roomID.
func (rm *RoomManager) Has(roomID string, c Client) bool {
	rm.mu.RLock()
	r, ok := rm.rooms[roomID]
	rm.mu.RUnlock()
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, member := r.members[c]
	return member
}

// RoomCount returns the number of rooms with at least one member.
func (rm *RoomManager) RoomCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}

// DetachAll removes c from every room and returns the rooms it left.
func (rm *RoomManager) DetachAll(c Client) []string {
	rm.mu.RLock()
	ids := make([]string, 0, len(rm.rooms))
	for id := range rm.rooms {
		ids = append(ids, id)
	}
	rm.mu.RUnlock()

	var left []string
	for _, id := range ids {
		if rm.detach(id, c) {
			left = append(left, id)
		}
	}
	return left
}

// Broadcast sends ev to every member of roomID except skip and returns the
// number of channels that accepted it.
func (rm *RoomManager) Broadcast(roomID string, ev models.Event, skip Client) int {
	sent := 0
	for _, c := range rm.Members(roomID) {
		if c == skip {
			continue
		}
		if c.TrySend(ev) == nil {
			sent++
		}
	}
	return sent
}

// conversationParty checks that c is the patient or doctor of the pair
// under its own role.
func conversationParty(c Client, patientID, doctorID string) error {
	if patientID == "" || doctorID == "" {
		return fmt.Errorf("patientId and doctorId are required: %w", models.ErrValidationFailed)
	}
	switch c.GetRole() {
	case models.RolePatient:
		if c.GetUserID() == patientID {
			return nil
		}
	case models.RoleDoctor:
		if c.GetUserID() == doctorID {
			return nil
		}
	}
	return models.ErrPermissionDenied
}

// JoinConversation attaches c to the conversation room of the pair. Re-joining is a no-op.
func (rm *RoomManager) JoinConversation(c Client, patientID, doctorID string) error {
	if err := conversationParty(c, patientID, doctorID); err != nil {
		return err
	}
	rm.attach(models.ConversationRoomID(patientID, doctorID), c)
	return nil
}

// LeaveConversation detaches c; leaving a room it never joined is a no-op.
func (rm *RoomManager) LeaveConversation(c Client, patientID, doctorID string) {
	rm.detach(models.ConversationRoomID(patientID, doctorID), c)
}

// JoinCallRoom records the join on the call session and attaches c to its
// call room. Nothing is attached when the session rejects the join.
func (rm *RoomManager) JoinCallRoom(c Client, callID string) (*models.CallSession, error) {
	if callID == "" {
		return nil, fmt.Errorf("callId is required: %w", models.ErrValidationFailed)
	}
	snap, _, err := rm.calls.Join(callID, c.GetUserID(), c.GetRole())
	if err != nil {
		return nil, err
	}
	rm.attach(models.CallRoomID(callID), c)
	return snap, nil
}

// LeaveCallRoom detaches c and records the leave on the call session.
func (rm *RoomManager) LeaveCallRoom(c Client, callID string) (*models.CallSession, error) {
	if callID == "" {
		return nil, fmt.Errorf("callId is required: %w", models.ErrValidationFailed)
	}
	rm.detach(models.CallRoomID(callID), c)
	snap, _, err := rm.calls.Leave(callID, c.GetUserID(), c.GetRole())
	return snap, err
}

// callIDFromRoom returns the call id of a call room key.
func callIDFromRoom(roomID string) (string, bool) {
	return strings.CutPrefix(roomID, models.CallRoomID(""))
}
