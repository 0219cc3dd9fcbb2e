package auth

import (
	"fmt"

	"carelink/backend/internal/models"
)

// AccountStore is the slice of storage the status check needs.
type AccountStore interface {
	GetAccount(id string) (*models.Account, error)
}

// StatusChecker answers whether an identity may hold a realtime channel.
type StatusChecker struct {
	Store AccountStore
}

func NewStatusChecker(store AccountStore) *StatusChecker {
	return &StatusChecker{Store: store}
}

// IsActive reports false for unknown accounts, role mismatches, disabled and locked accounts.
func (c *StatusChecker) IsActive(id string, role models.Role) (bool, error) {
	account, err := c.Store.GetAccount(id)
	if err != nil {
		return false, err
	}
	if account == nil || account.Role != role {
		return false, nil
	}
	return account.CanConnect(), nil
}

// Check is IsActive expressed as an error from the shared taxonomy.
func (c *StatusChecker) Check(id string, role models.Role) error {
	ok, err := c.IsActive(id, role)
	if err != nil {
		return fmt.Errorf("account status check: %w", err)
	}
	if !ok {
		return models.ErrAccountInactive
	}
	return nil
}
