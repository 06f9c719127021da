package entitlements

import (
	"strings"
)

type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// FreeTierMaxChargeAmount caps a single charge for free accounts (minor units).
const FreeTierMaxChargeAmount int64 = 100000

// Limits bounds the usage counters of one tier.
type Limits struct {
	MaxAPICalls  int64
	MaxLoreDrops int64
}

var tierLimits = map[Tier]Limits{
	TierFree:       {MaxAPICalls: 100, MaxLoreDrops: 10},
	TierPremium:    {MaxAPICalls: 1000, MaxLoreDrops: 100},
	TierEnterprise: {MaxAPICalls: 100000, MaxLoreDrops: 10000},
}

// NormalizeTier maps stored or external tier strings to a known tier; anything
// unrecognised is treated as free.
func NormalizeTier(tier string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(tier))) {
	case TierPremium:
		return TierPremium
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

// LimitsFor returns the usage limits of tier.
func LimitsFor(tier Tier) Limits {
	return tierLimits[NormalizeTier(string(tier))]
}

// Rank orders tiers so callers can compare them.
func Rank(tier Tier) int {
	switch NormalizeTier(string(tier)) {
	case TierEnterprise:
		return 2
	case TierPremium:
		return 1
	default:
		return 0
	}
}

// MaxChargeAmount returns the largest single charge allowed for tier, 0 meaning
// no cap.
func MaxChargeAmount(tier Tier) int64 {
	if NormalizeTier(string(tier)) == TierFree {
		return FreeTierMaxChargeAmount
	}
	return 0
}
