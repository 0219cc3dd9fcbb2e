package models

import "time"

// PresenceStatus is what other parties see for a connected identity.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceBusy    PresenceStatus = "busy"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// ParsePresenceStatus accepts only the four recognized statuses.
func ParsePresenceStatus(s string) (PresenceStatus, bool) {
	switch st := PresenceStatus(s); st {
	case PresenceOnline, PresenceBusy, PresenceAway, PresenceOffline:
		return st, true
	}
	return "", false
}

// PresenceRecord is derived from the connection registry and never authoritative.
type PresenceRecord struct {
	UserID    string         `json:"userId"`
	Status    PresenceStatus `json:"status"`
	ChangedAt time.Time      `json:"changedAt"`
}
