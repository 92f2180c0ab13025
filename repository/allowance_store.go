package repository

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Ishu-sri-001/neuro-nest/models"
)

// GuestCounterKey is the device storage key holding the guest message count.
const GuestCounterKey = "neuronest_guest_message_count"

// AllowanceStore reads and writes the allowance of an identity.
// It owns no consistency: concurrent writers race and the last write wins.
type AllowanceStore interface {
	Read(ctx context.Context, identity models.Identity) (models.Allowance, error)
	Write(ctx context.Context, identity models.Identity, allowance models.Allowance) error
}

type allowanceStore struct {
	devices    DeviceStorage
	accounts   AccountRepository
	guestLimit int
}

// NewAllowanceStore keeps guest counters in device storage and credits on account records.
func NewAllowanceStore(devices DeviceStorage, accounts AccountRepository, guestLimit int) AllowanceStore {
	return &allowanceStore{devices: devices, accounts: accounts, guestLimit: guestLimit}
}

func (s *allowanceStore) Read(ctx context.Context, identity models.Identity) (models.Allowance, error) {
	switch identity.Kind {
	case models.IdentityGuest:
		raw, ok, err := s.devices.Get(ctx, identity.ID, GuestCounterKey)
		if err != nil {
			return models.Allowance{}, err
		}
		count := 0
		if ok {
			count = parseCounter(raw)
		}
		return models.GuestAllowance(count, s.guestLimit), nil
	case models.IdentityAuthenticated:
		account, err := s.accounts.Get(ctx, identity.ID)
		if err != nil {
			return models.Allowance{}, err
		}
		return models.CreditAllowance(account.Credits), nil
	default:
		return models.Allowance{}, errors.Errorf("unknown identity kind %q", identity.Kind)
	}
}

func (s *allowanceStore) Write(ctx context.Context, identity models.Identity, allowance models.Allowance) error {
	switch identity.Kind {
	case models.IdentityGuest:
		used := allowance.Used
		if used < 0 {
			used = 0
		}
		return s.devices.Set(ctx, identity.ID, GuestCounterKey, strconv.Itoa(used))
	case models.IdentityAuthenticated:
		credits := allowance.Credits
		if credits < 0 {
			credits = 0
		}
		return s.accounts.Update(ctx, identity.ID, map[string]interface{}{"credits": credits})
	default:
		return errors.Errorf("unknown identity kind %q", identity.Kind)
	}
}

// parseCounter reads a stored guest counter; absent or unparsable values count as 0.
func parseCounter(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
