package wallet

import "context"

// Tier is the membership standing derived from lifetime spend.
type Tier int

const (
	TierStandard Tier = iota
	TierSilver
	TierGold
	TierDiamond
)

// Lifetime-spend thresholds in VND.
const (
	silverThreshold  = 2_000_000
	goldThreshold    = 5_000_000
	diamondThreshold = 10_000_000
)

func (t Tier) String() string {
	switch t {
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	case TierDiamond:
		return "diamond"
	default:
		return "standard"
	}
}

// TierForSpend maps accumulated lifetime spend to a membership tier.
func TierForSpend(lifetimeSpend int64) Tier {
	switch {
	case lifetimeSpend >= diamondThreshold:
		return TierDiamond
	case lifetimeSpend >= goldThreshold:
		return TierGold
	case lifetimeSpend >= silverThreshold:
		return TierSilver
	default:
		return TierStandard
	}
}

// EligibleForRecurring is the default recurring-booking capability check:
// gold or above. The booking manager only sees the boolean, so embedders can
// substitute their own membership lookup.
func (s *Store) EligibleForRecurring(ctx context.Context, accountID int64) (bool, error) {
	account, err := s.Account(ctx, accountID)
	if err != nil {
		return false, err
	}
	return TierForSpend(account.LifetimeSpend) >= TierGold, nil
}
