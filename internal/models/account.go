package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is the kind of party behind an identity.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Valid reports whether r is one of the two recognized roles.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// Account is the identity record consulted by the account status check.
// Patients and doctors share the table and are told apart by Role.
type Account struct {
	ID        string `gorm:"primaryKey" json:"id"`
	Role      Role   `gorm:"type:text;not null;index" json:"role"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	// IsActive is cleared when an operator disables the account.
	IsActive bool `gorm:"not null;default:true" json:"isActive"`
	// IsLocked is set after repeated failed logins.
	IsLocked bool `gorm:"not null;default:false" json:"isLocked"`

	// Doctor-only presence bookkeeping.
	IsOnline   bool       `gorm:"not null;default:false" json:"isOnline"`
	LastActive *time.Time `json:"lastActive,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate is a GORM hook that generates a UUID when no ID is set yet.
func (a *Account) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return
}

// FullName joins first and last name, skipping empty parts.
func (a *Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// CanConnect reports whether the account may open a realtime channel.
func (a *Account) CanConnect() bool {
	return a.IsActive && !a.IsLocked
}
