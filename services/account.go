package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"propflow/identity"
	"propflow/models"
	"propflow/notify"
)

// AccountStore is the account slice of the record store.
type AccountStore interface {
	GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	UpdateAccountTier(ctx context.Context, id uuid.UUID, tier models.AccountTier) error
}

// AccountService handles the tier-upgrade side effect. Reads are otherwise
// plain pass-throughs and stay on the store.
type AccountService struct {
	store    AccountStore
	notifier Notifier
}

func NewAccountService(store AccountStore, notifier Notifier) *AccountService {
	return &AccountService{store: store, notifier: notifier}
}

// Upgrade changes an account's tier and attempts the upgrade notification.
func (s *AccountService) Upgrade(ctx context.Context, actor identity.Identity, accountID uuid.UUID, tier models.AccountTier) (*models.Account, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	switch tier {
	case models.TierUser, models.TierPaid, models.TierAdmin:
	default:
		return nil, fmt.Errorf("unknown tier: %s", tier)
	}

	acct, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrNotFound
	}

	if err := s.store.UpdateAccountTier(ctx, accountID, tier); err != nil {
		return nil, fmt.Errorf("update tier: %w", err)
	}
	acct.Tier = tier

	s.notifier.Dispatch(ctx, notify.EventTierUpgraded,
		notify.Recipient{Email: acct.Email, Name: acct.Name},
		notify.TemplateData{Tier: string(tier)})

	return acct, nil
}
