package models

import (
	"time"

	"github.com/google/uuid"
)

type AccountTier string

const (
	TierUser  AccountTier = "user"
	TierPaid  AccountTier = "paid"
	TierAdmin AccountTier = "admin"
)

// Account maps an external identity to an internal id and contact info.
type Account struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	ExternalID string      `json:"external_id" db:"external_id"`
	Email      string      `json:"email" db:"email"`
	Name       string      `json:"name" db:"name"`
	Tier       AccountTier `json:"tier" db:"tier"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}

func (a *Account) CanRequestReports() bool {
	return a.Tier == TierPaid || a.Tier == TierAdmin
}
