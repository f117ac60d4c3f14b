package settle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"swapsettle/ledger"
)

// bpsDenominator is the resolution of every fee and share percentage.
const bpsDenominator = 10_000

var zeroAddress = common.Address{}

// RouteDescription is the immutable per-call specification of one settlement.
type RouteDescription struct {
	// InputAsset and OutputAsset identify the traded pair; the zero asset is
	// the native asset sentinel.
	InputAsset  ledger.Asset
	OutputAsset ledger.Asset
	// InputReceiver takes custody of collected input; OutputReceiver takes the
	// final payout. Both must be non-zero.
	InputReceiver  common.Address
	OutputReceiver common.Address
	// Partner optionally receives a share of surplus and slippage. The zero
	// address means no partner is configured.
	Partner common.Address
	// InputAmount is what the user supplies. MarginAmount, when non-zero,
	// switches the settlement to margin mode: only the margin is collected up
	// front and the executor sources the remainder.
	InputAmount  *big.Int
	MarginAmount *big.Int
	// OutputAmount is the externally quoted output and the reference point for
	// fee computation. EffectiveOutputAmount is the user's guaranteed floor
	// before surplus and fee logic; it must not exceed OutputAmount.
	OutputAmount          *big.Int
	EffectiveOutputAmount *big.Int
	// MinOutputAmount is the absolute floor: the settlement aborts if the
	// final payout would fall below it.
	MinOutputAmount *big.Int
	// RoutingFee is the flat protocol fee on top of the effective output,
	// bounded by the policy's bps range of OutputAmount.
	RoutingFee *big.Int
	// Basis-point splits of surplus and slippage.
	PartnerSurplusShareBps   uint32
	ProtocolSurplusShareBps  uint32
	PartnerSlippageShareBps  uint32
	ProtocolSlippageShareBps uint32
	// IsPermit2 selects the one-shot signature authorization path for input
	// collection instead of the standing allowance.
	IsPermit2 bool
	// UniquePID is an opaque partner/route identifier carried through to the
	// emitted settlement record for off-chain analytics. Never used for logic.
	UniquePID [32]byte
}

// HasPartner reports whether a partner recipient is configured.
func (d *RouteDescription) HasPartner() bool {
	return d.Partner != (common.Address{})
}

// OnMargin reports whether the settlement runs in margin mode.
func (d *RouteDescription) OnMargin() bool {
	return d.MarginAmount != nil && d.MarginAmount.Sign() > 0
}

// collectAmount is the amount pulled from the originator during input
// collection: the margin when on margin, the full input otherwise.
func (d *RouteDescription) collectAmount() *big.Int {
	if d.OnMargin() {
		return d.MarginAmount
	}
	return d.InputAmount
}

// Interaction is one opaque call the executor performs while converting the
// input asset into the output asset.
type Interaction struct {
	Target  common.Address
	Value   *big.Int
	Payload []byte
}

// CallbackData parameterises the pre- and post-route hooks. A zero-length
// payload is the no-op sentinel: the hook is not invoked at all.
type CallbackData struct {
	Payload []byte
	Value   *big.Int
}

// IsZero reports whether the callback is the no-op sentinel.
func (c CallbackData) IsZero() bool { return len(c.Payload) == 0 }

// ShareCalculation is the ephemeral result of the surplus/slippage split. It
// is computed once per settlement and never persisted.
type ShareCalculation struct {
	Surplus       *big.Int
	Slippage      *big.Int
	PartnerShare  *big.Int
	ProtocolShare *big.Int
}

// Result summarises a completed settlement.
type Result struct {
	SettlementID  [32]byte
	FinalOutput   *big.Int
	RoutingFee    *big.Int
	Surplus       *big.Int
	Slippage      *big.Int
	PartnerShare  *big.Int
	ProtocolShare *big.Int
}

// Hook is a pre/post-route callback collaborator. Implementations either
// complete or abort the whole settlement; the engine is the only caller.
type Hook interface {
	ExecutePreRouteCallback(payload []byte, value *big.Int) error
	ExecutePostRouteCallback(payload []byte, value *big.Int) error
}

// RouteExecutor hands control to untrusted route execution. The executor is
// trusted only to either move the output asset into the engine's custody or
// fail; the engine measures the delivered amount as a balance delta around
// the call and never inspects the call graph.
type RouteExecutor interface {
	// Address is the account native value is forwarded to ahead of execution.
	Address() common.Address
	// ExecuteRoute runs the interactions inside the settlement's unit of work.
	ExecuteRoute(uow *ledger.UnitOfWork, interactions []Interaction, outputAsset ledger.Asset, value *big.Int) error
}

func bpsOf(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return share.Div(share, big.NewInt(bpsDenominator))
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
