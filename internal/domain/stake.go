package domain

import "math/big"

// SecondsPerYear is the annualisation base for reward rates.
const SecondsPerYear = 365 * 24 * 60 * 60

// StakeInfo is the accrual state for one active posted bond.
type StakeInfo struct {
	Principal          *big.Int `json:"principal"`
	StartTime          uint64   `json:"start_time"`
	LastRewardTime     uint64   `json:"last_reward_time"`
	AccumulatedRewards *big.Int `json:"accumulated_rewards"`
}

// Clone returns a deep copy of s.
func (s StakeInfo) Clone() StakeInfo {
	s.Principal = cloneInt(s.Principal)
	s.AccumulatedRewards = cloneInt(s.AccumulatedRewards)
	return s
}

// PendingReward computes principal*rateBps*elapsed / (10000*SecondsPerYear)
// with floor division. The truncated remainder is not carried forward.
func PendingReward(principal *big.Int, rateBps uint64, from, now uint64) *big.Int {
	if now <= from || principal == nil || principal.Sign() == 0 {
		return new(big.Int)
	}
	elapsed := new(big.Int).SetUint64(now - from)
	num := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBps))
	num.Mul(num, elapsed)
	den := big.NewInt(BPSDenominator * SecondsPerYear)
	return num.Quo(num, den)
}
