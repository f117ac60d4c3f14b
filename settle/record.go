package settle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"swapsettle/ledger"
)

// Record is the routed-settlement record emitted and persisted for every
// completed settlement. PartnerFee is carried for record compatibility with
// integrations that split the routing fee; this engine accrues the routing
// fee entirely to the protocol, so the field is always zero.
type Record struct {
	ID             [32]byte
	UniquePID      [32]byte
	Originator     common.Address
	OutputReceiver common.Address
	InputAsset     ledger.Asset
	InputAmount    *big.Int
	OutputAsset    ledger.Asset
	FinalOutput    *big.Int
	PartnerFee     *big.Int
	RoutingFee     *big.Int
	PartnerShare   *big.Int
	ProtocolShare  *big.Int
	Surplus        *big.Int
	Slippage       *big.Int
	SettledAt      int64
}

// Copy returns a deep copy so callers cannot mutate shared big.Int pointers.
func (r *Record) Copy() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.InputAmount = copyBig(r.InputAmount)
	clone.FinalOutput = copyBig(r.FinalOutput)
	clone.PartnerFee = copyBig(r.PartnerFee)
	clone.RoutingFee = copyBig(r.RoutingFee)
	clone.PartnerShare = copyBig(r.PartnerShare)
	clone.ProtocolShare = copyBig(r.ProtocolShare)
	clone.Surplus = copyBig(r.Surplus)
	clone.Slippage = copyBig(r.Slippage)
	return &clone
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
