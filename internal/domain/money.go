/**
 * @description
 * Pure money arithmetic shared by the Postgres and in-memory stores. Everything is
 * integer math with explicit floor rounding; the only big.Int use is the pro-rata
 * share, where the product of two int64 amounts can exceed 64 bits.
 */

package domain

import (
	"math"
	"math/big"
)

const (
	// BpsDenominator converts basis points to a fraction: 1000 bps = 10%.
	BpsDenominator = 10_000

	// MaxCommissionRateBps caps the referral rate at 10%.
	MaxCommissionRateBps = 1_000

	// AltAssetScale is the number of smallest alt-asset units per whole unit.
	AltAssetScale = 1_000_000_000
)

// CommissionFor returns floor(amount * rateBps / 10000). The decomposition keeps every
// intermediate product inside int64 for any non-negative amount and rate <= 1000 bps.
func CommissionFor(amount, rateBps int64) int64 {
	if amount <= 0 || rateBps <= 0 {
		return 0
	}
	whole := amount / BpsDenominator
	rem := amount % BpsDenominator
	return whole*rateBps + rem*rateBps/BpsDenominator
}

// ProRataShare returns floor(snapshot * totalReward / snapshotTotal). The multiply can
// overflow int64 for large ledgers, so it runs through big.Int. Shares across a period
// never sum above totalReward; flooring leaves residual dust with the treasury.
func ProRataShare(snapshot, totalReward, snapshotTotal int64) int64 {
	if snapshot <= 0 || totalReward <= 0 || snapshotTotal <= 0 {
		return 0
	}
	share := new(big.Int).Mul(big.NewInt(snapshot), big.NewInt(totalReward))
	share.Quo(share, big.NewInt(snapshotTotal))
	return share.Int64()
}

// ConvertAlt converts altAmount (alt-asset smallest units) to settlement units at the
// given rate (settlement units per whole alt-asset unit), flooring the result.
func ConvertAlt(altAmount, rate int64) (int64, error) {
	if rate <= 0 {
		return 0, ErrInvalidPrice
	}
	if altAmount < 0 {
		return 0, ErrAmountOverflow
	}
	whole := altAmount / AltAssetScale
	rem := altAmount % AltAssetScale
	if whole != 0 && whole > math.MaxInt64/rate {
		return 0, ErrAmountOverflow
	}
	if rem != 0 && rem > math.MaxInt64/rate {
		return 0, ErrAmountOverflow
	}
	converted := whole*rate + rem*rate/AltAssetScale
	if converted < 0 {
		return 0, ErrAmountOverflow
	}
	return converted, nil
}
