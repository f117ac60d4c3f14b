package settle

import (
	"fmt"
	"math/big"
)

// Violation codes reported by the route validator. Each maps 1:1 to a
// sentinel error so callers can branch on either form.
const (
	ViolationFeeAboveMax           = "FEE_ABOVE_MAX"
	ViolationFeeBelowMin           = "FEE_BELOW_MIN"
	ViolationPartnerSurplusShare   = "PARTNER_SURPLUS_SHARE_LIMIT"
	ViolationProtocolSurplusShare  = "PROTOCOL_SURPLUS_SHARE_FLOOR"
	ViolationPartnerSlippageShare  = "PARTNER_SLIPPAGE_SHARE_LIMIT"
	ViolationProtocolSlippageShare = "PROTOCOL_SLIPPAGE_SHARE_FLOOR"
	ViolationNullInputReceiver     = "NULL_INPUT_RECEIVER"
	ViolationNullOutputReceiver    = "NULL_OUTPUT_RECEIVER"
	ViolationMinAboveQuoted        = "MIN_OUTPUT_ABOVE_QUOTED"
	ViolationMinOutputZero         = "MIN_OUTPUT_ZERO"
	ViolationEffectiveAboveQuoted  = "EFFECTIVE_ABOVE_QUOTED"
	ViolationAmountInvalid         = "AMOUNT_INVALID"
	ViolationShareBpsRange         = "SHARE_BPS_RANGE"
)

// RouteViolation describes why a route description failed validation.
type RouteViolation struct {
	Code    string
	Message string
	Limit   *big.Int
	Current *big.Int
}

// ValidateRoute is the pure pre-settlement predicate over a route description
// and the policy in force. It is side-effect free and deterministic: the same
// inputs always yield the same verdict. Checks run in a fixed order and the
// first failure wins.
func ValidateRoute(desc *RouteDescription, policy Policy) (*RouteViolation, error) {
	if desc == nil {
		return &RouteViolation{Code: ViolationAmountInvalid, Message: "route description required"}, ErrAmountInvalid
	}
	if desc.InputAmount == nil || desc.InputAmount.Sign() <= 0 ||
		desc.OutputAmount == nil || desc.OutputAmount.Sign() <= 0 ||
		desc.EffectiveOutputAmount == nil || desc.EffectiveOutputAmount.Sign() < 0 ||
		desc.MinOutputAmount == nil || desc.MinOutputAmount.Sign() < 0 ||
		desc.RoutingFee == nil || desc.RoutingFee.Sign() < 0 {
		return &RouteViolation{Code: ViolationAmountInvalid, Message: "amounts must be present and non-negative"}, ErrAmountInvalid
	}
	if desc.PartnerSurplusShareBps > bpsDenominator || desc.ProtocolSurplusShareBps > bpsDenominator ||
		desc.PartnerSlippageShareBps > bpsDenominator || desc.ProtocolSlippageShareBps > bpsDenominator {
		return &RouteViolation{Code: ViolationShareBpsRange, Message: "shares must be within 0..10000 bps"}, ErrShareBpsRange
	}

	maxFee := bpsOf(desc.OutputAmount, policy.MaxFeeBps)
	if desc.RoutingFee.Cmp(maxFee) > 0 {
		return &RouteViolation{
			Code:    ViolationFeeAboveMax,
			Message: fmt.Sprintf("routing fee %s above maximum %s", desc.RoutingFee, maxFee),
			Limit:   maxFee,
			Current: new(big.Int).Set(desc.RoutingFee),
		}, ErrFeeAboveMax
	}
	minFee := bpsOf(desc.OutputAmount, policy.MinFeeBps)
	if desc.RoutingFee.Cmp(minFee) < 0 {
		return &RouteViolation{
			Code:    ViolationFeeBelowMin,
			Message: fmt.Sprintf("routing fee %s below minimum %s", desc.RoutingFee, minFee),
			Limit:   minFee,
			Current: new(big.Int).Set(desc.RoutingFee),
		}, ErrFeeBelowMin
	}
	if desc.PartnerSurplusShareBps > policy.PartnerSurplusShareLimitBps {
		return &RouteViolation{
			Code:    ViolationPartnerSurplusShare,
			Message: fmt.Sprintf("partner surplus share %d bps above limit %d", desc.PartnerSurplusShareBps, policy.PartnerSurplusShareLimitBps),
			Limit:   big.NewInt(int64(policy.PartnerSurplusShareLimitBps)),
			Current: big.NewInt(int64(desc.PartnerSurplusShareBps)),
		}, ErrPartnerSurplusShareTooHigh
	}
	if policy.ProtocolSurplusShareFloorBps > 0 && desc.ProtocolSurplusShareBps < policy.ProtocolSurplusShareFloorBps {
		return &RouteViolation{
			Code:    ViolationProtocolSurplusShare,
			Message: fmt.Sprintf("protocol surplus share %d bps below floor %d", desc.ProtocolSurplusShareBps, policy.ProtocolSurplusShareFloorBps),
			Limit:   big.NewInt(int64(policy.ProtocolSurplusShareFloorBps)),
			Current: big.NewInt(int64(desc.ProtocolSurplusShareBps)),
		}, ErrProtocolSurplusShareTooLow
	}
	if desc.PartnerSlippageShareBps > policy.PartnerSlippageShareLimitBps {
		return &RouteViolation{
			Code:    ViolationPartnerSlippageShare,
			Message: fmt.Sprintf("partner slippage share %d bps above limit %d", desc.PartnerSlippageShareBps, policy.PartnerSlippageShareLimitBps),
			Limit:   big.NewInt(int64(policy.PartnerSlippageShareLimitBps)),
			Current: big.NewInt(int64(desc.PartnerSlippageShareBps)),
		}, ErrPartnerSlippageShareTooHigh
	}
	if policy.ProtocolSlippageShareFloorBps > 0 && desc.ProtocolSlippageShareBps < policy.ProtocolSlippageShareFloorBps {
		return &RouteViolation{
			Code:    ViolationProtocolSlippageShare,
			Message: fmt.Sprintf("protocol slippage share %d bps below floor %d", desc.ProtocolSlippageShareBps, policy.ProtocolSlippageShareFloorBps),
			Limit:   big.NewInt(int64(policy.ProtocolSlippageShareFloorBps)),
			Current: big.NewInt(int64(desc.ProtocolSlippageShareBps)),
		}, ErrProtocolSlippageShareTooLow
	}
	if desc.InputReceiver == zeroAddress {
		return &RouteViolation{Code: ViolationNullInputReceiver, Message: "input receiver must not be null"}, ErrNullInputReceiver
	}
	if desc.OutputReceiver == zeroAddress {
		return &RouteViolation{Code: ViolationNullOutputReceiver, Message: "output receiver must not be null"}, ErrNullOutputReceiver
	}
	if desc.MinOutputAmount.Cmp(desc.OutputAmount) > 0 {
		return &RouteViolation{
			Code:    ViolationMinAboveQuoted,
			Message: fmt.Sprintf("minimum output %s above quoted %s", desc.MinOutputAmount, desc.OutputAmount),
			Limit:   new(big.Int).Set(desc.OutputAmount),
			Current: new(big.Int).Set(desc.MinOutputAmount),
		}, ErrMinAboveQuoted
	}
	// With the protocol floors disabled there is no lower bound on what the
	// protocol retains, so the user-side floor must carry the protection.
	if policy.ProtocolSurplusShareFloorBps == 0 && policy.ProtocolSlippageShareFloorBps == 0 && desc.MinOutputAmount.Sign() == 0 {
		return &RouteViolation{Code: ViolationMinOutputZero, Message: "minimum output must be positive"}, ErrMinOutputZero
	}
	if desc.EffectiveOutputAmount.Cmp(desc.OutputAmount) > 0 {
		return &RouteViolation{
			Code:    ViolationEffectiveAboveQuoted,
			Message: fmt.Sprintf("effective output %s above quoted %s", desc.EffectiveOutputAmount, desc.OutputAmount),
			Limit:   new(big.Int).Set(desc.OutputAmount),
			Current: new(big.Int).Set(desc.EffectiveOutputAmount),
		}, ErrEffectiveAboveQuoted
	}
	return nil, nil
}
