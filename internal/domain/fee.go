package domain

// BpsDenominator is the basis-point scale used for all fee rates.
const BpsDenominator uint64 = 10_000

// DefaultEscrowFeeBps is the protocol fee charged when an escrow resolves
// (500 bps = 5%).
const DefaultEscrowFeeBps uint64 = 500

// FeeSplit divides total into (fee, remainder) at rateBps basis points.
// The fee rounds down, so fee+remainder always equals total and the fee
// never exceeds the exact percentage.
func FeeSplit(total, rateBps uint64) (fee, remainder uint64) {
	fee = MulDiv(total, rateBps, BpsDenominator)
	return fee, total - fee
}
