package settle

import "math/big"

// extractFee takes the routing fee out of the raw delivered amount. The fee is
// only ever taken from the excess above the user's guaranteed effective
// output: full fee when the excess covers it, a partial fee when it does not,
// no fee at all when delivery is at or under the effective output.
func extractFee(raw, effective, routingFee *big.Int) (feeTaken, remaining *big.Int) {
	raw = nonNil(raw)
	effective = nonNil(effective)
	routingFee = nonNil(routingFee)

	threshold := new(big.Int).Add(effective, routingFee)
	switch {
	case raw.Cmp(threshold) > 0:
		feeTaken = new(big.Int).Set(routingFee)
		remaining = new(big.Int).Sub(raw, routingFee)
	case raw.Cmp(effective) > 0:
		feeTaken = new(big.Int).Sub(raw, effective)
		remaining = new(big.Int).Set(effective)
	default:
		feeTaken = big.NewInt(0)
		remaining = new(big.Int).Set(raw)
	}
	return feeTaken, remaining
}

// splitShares apportions surplus and slippage between partner and protocol
// using the additive convention: surplus is the quoted output above the
// effective floor, slippage is whatever was delivered beyond the quote. The
// subset-of convention (slippage measured from the effective floor) was
// rejected; see DESIGN.md. All divisions truncate toward zero.
//
// The protocol takes every unit of surplus the partner does not, plus its bps
// of slippage; the rest of the slippage stays with the user.
func splitShares(remaining *big.Int, desc *RouteDescription, foldPartnerShare bool) ShareCalculation {
	calc := ShareCalculation{
		Surplus:       big.NewInt(0),
		Slippage:      big.NewInt(0),
		PartnerShare:  big.NewInt(0),
		ProtocolShare: big.NewInt(0),
	}
	output := nonNil(desc.OutputAmount)
	effective := nonNil(desc.EffectiveOutputAmount)

	switch {
	case remaining.Cmp(output) >= 0:
		calc.Surplus = new(big.Int).Sub(output, effective)
		calc.Slippage = new(big.Int).Sub(remaining, output)
	case remaining.Cmp(effective) > 0:
		calc.Surplus = new(big.Int).Sub(remaining, effective)
	default:
		return calc
	}
	if calc.Surplus.Sign() == 0 && calc.Slippage.Sign() == 0 {
		return calc
	}

	partnerSurplus := bpsOf(calc.Surplus, desc.PartnerSurplusShareBps)
	partnerSlippage := bpsOf(calc.Slippage, desc.PartnerSlippageShareBps)
	calc.PartnerShare = new(big.Int).Add(partnerSurplus, partnerSlippage)

	protocolSurplus := new(big.Int).Sub(calc.Surplus, partnerSurplus)
	protocolSlippage := bpsOf(calc.Slippage, desc.ProtocolSlippageShareBps)
	// The protocol can only draw slippage the partner left behind; this keeps
	// partnerShare+protocolShare within surplus+slippage for every bps pair.
	slippageLeft := new(big.Int).Sub(calc.Slippage, partnerSlippage)
	if protocolSlippage.Cmp(slippageLeft) > 0 {
		protocolSlippage = slippageLeft
	}
	calc.ProtocolShare = new(big.Int).Add(protocolSurplus, protocolSlippage)

	if !desc.HasPartner() {
		if foldPartnerShare {
			calc.ProtocolShare = calc.ProtocolShare.Add(calc.ProtocolShare, calc.PartnerShare)
		}
		calc.PartnerShare = big.NewInt(0)
	}
	return calc
}
