package settle

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"swapsettle/core/types"
	"swapsettle/ledger"
)

// Event types emitted by the settlement engine.
const (
	TypeRouteSettled  = "settle.routed"
	TypeFeesCollected = "settle.fees_collected"
)

// RouteSettledEvent wraps a completed settlement record for emission.
type RouteSettledEvent struct {
	record *Record
}

// NewRouteSettledEvent builds the routed-settlement event for the record.
func NewRouteSettledEvent(record *Record) *RouteSettledEvent {
	return &RouteSettledEvent{record: record}
}

// EventType implements events.Event.
func (*RouteSettledEvent) EventType() string { return TypeRouteSettled }

// Record returns the settlement record carried by the event.
func (e *RouteSettledEvent) Record() *Record {
	if e == nil {
		return nil
	}
	return e.record.Copy()
}

// Event renders the wire form.
func (e *RouteSettledEvent) Event() *types.Event {
	r := e.record
	return &types.Event{
		Type: TypeRouteSettled,
		Attributes: map[string]string{
			"id":             hex.EncodeToString(r.ID[:]),
			"uniquePid":      hex.EncodeToString(r.UniquePID[:]),
			"originator":     r.Originator.Hex(),
			"outputReceiver": r.OutputReceiver.Hex(),
			"inputAsset":     r.InputAsset.String(),
			"inputAmount":    formatAmount(r.InputAmount),
			"outputAsset":    r.OutputAsset.String(),
			"finalOutput":    formatAmount(r.FinalOutput),
			"partnerFee":     formatAmount(r.PartnerFee),
			"routingFee":     formatAmount(r.RoutingFee),
			"partnerShare":   formatAmount(r.PartnerShare),
			"protocolShare":  formatAmount(r.ProtocolShare),
			"surplus":        formatAmount(r.Surplus),
			"slippage":       formatAmount(r.Slippage),
			"settledAt":      strconv.FormatInt(r.SettledAt, 10),
		},
	}
}

// FeesCollectedEvent records a privileged residual-fee sweep.
type FeesCollectedEvent struct {
	Caller      common.Address
	Receiver    common.Address
	Assets      []ledger.Asset
	Amounts     []*big.Int
	CollectedAt int64
}

// NewFeesCollectedEvent builds the fee-collection event.
func NewFeesCollectedEvent(caller, receiver common.Address, assets []ledger.Asset, amounts []*big.Int, collectedAt int64) *FeesCollectedEvent {
	return &FeesCollectedEvent{Caller: caller, Receiver: receiver, Assets: assets, Amounts: amounts, CollectedAt: collectedAt}
}

// EventType implements events.Event.
func (*FeesCollectedEvent) EventType() string { return TypeFeesCollected }

// Event renders the wire form.
func (e *FeesCollectedEvent) Event() *types.Event {
	assets := make([]string, 0, len(e.Assets))
	for _, asset := range e.Assets {
		assets = append(assets, asset.String())
	}
	amounts := make([]string, 0, len(e.Amounts))
	for _, amount := range e.Amounts {
		amounts = append(amounts, formatAmount(amount))
	}
	return &types.Event{
		Type: TypeFeesCollected,
		Attributes: map[string]string{
			"caller":      e.Caller.Hex(),
			"receiver":    e.Receiver.Hex(),
			"assets":      strings.Join(assets, ","),
			"amounts":     strings.Join(amounts, ","),
			"collectedAt": strconv.FormatInt(e.CollectedAt, 10),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
