package settle

import "errors"

// Policy violations: rejected by the route validator before any asset moves.
var (
	// ErrFeeAboveMax indicates the routing fee exceeds the policy's maximum bps of the quoted output.
	ErrFeeAboveMax = errors.New("settle: routing fee above maximum")
	// ErrFeeBelowMin indicates the routing fee is below the policy's minimum bps of the quoted output.
	ErrFeeBelowMin = errors.New("settle: routing fee below minimum")
	// ErrPartnerSurplusShareTooHigh indicates the partner surplus share exceeds its policy limit.
	ErrPartnerSurplusShareTooHigh = errors.New("settle: partner surplus share above limit")
	// ErrProtocolSurplusShareTooLow indicates the protocol surplus share is below its policy floor.
	ErrProtocolSurplusShareTooLow = errors.New("settle: protocol surplus share below floor")
	// ErrPartnerSlippageShareTooHigh indicates the partner slippage share exceeds its policy limit.
	ErrPartnerSlippageShareTooHigh = errors.New("settle: partner slippage share above limit")
	// ErrProtocolSlippageShareTooLow indicates the protocol slippage share is below its policy floor.
	ErrProtocolSlippageShareTooLow = errors.New("settle: protocol slippage share below floor")
	// ErrNullInputReceiver indicates the input receiver is the zero address.
	ErrNullInputReceiver = errors.New("settle: input receiver is null")
	// ErrNullOutputReceiver indicates the output receiver is the zero address.
	ErrNullOutputReceiver = errors.New("settle: output receiver is null")
	// ErrMinAboveQuoted indicates the minimum output exceeds the quoted output.
	ErrMinAboveQuoted = errors.New("settle: minimum output above quoted output")
	// ErrMinOutputZero indicates the minimum output must be strictly positive.
	ErrMinOutputZero = errors.New("settle: minimum output must be positive")
	// ErrEffectiveAboveQuoted indicates the guaranteed effective output exceeds the quoted output.
	ErrEffectiveAboveQuoted = errors.New("settle: effective output above quoted output")
	// ErrAmountInvalid indicates a missing or non-positive amount field.
	ErrAmountInvalid = errors.New("settle: amount missing or not positive")
	// ErrShareBpsRange indicates a share outside the 0..10000 bps range.
	ErrShareBpsRange = errors.New("settle: share outside basis point range")
)

// Settlement execution failures.
var (
	// ErrValueMismatch indicates the attached native value does not match the custody rules.
	ErrValueMismatch = errors.New("settle: attached value mismatch")
	// ErrSlippageBreach indicates the final payout fell below the minimum output.
	ErrSlippageBreach = errors.New("settle: final output below minimum")
	// ErrHookFailed indicates a pre- or post-route callback aborted the settlement.
	ErrHookFailed = errors.New("settle: route callback failed")
	// ErrExecutorFailed indicates the route executor reported failure.
	ErrExecutorFailed = errors.New("settle: route execution failed")
	// ErrExecutorRequired indicates no executor capability was supplied.
	ErrExecutorRequired = errors.New("settle: executor required")
	// ErrSettlementInProgress indicates a settlement arrived while another one held the engine.
	ErrSettlementInProgress = errors.New("settle: settlement already in progress")
	// ErrNotAuthorized indicates the caller lacks the role required by a privileged operation.
	ErrNotAuthorized = errors.New("settle: caller not authorized")
	// ErrFeeBoundsInverted indicates a policy mutation would leave min fee above max fee.
	ErrFeeBoundsInverted = errors.New("settle: minimum fee above maximum fee")
	// ErrNullTreasury indicates the treasury address must not be zero.
	ErrNullTreasury = errors.New("settle: treasury address is null")
)
