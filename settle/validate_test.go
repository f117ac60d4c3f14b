package settle

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"swapsettle/ledger"
)

func testPolicy() Policy {
	return Policy{
		MaxFeeBps:                    100,
		MinFeeBps:                    0,
		PartnerSurplusShareLimitBps:  2000,
		PartnerSlippageShareLimitBps: 2000,
		RawCallGasStipend:            2300,
		Treasury:                     common.Address{0x02},
		FoldPartnerShare:             true,
	}
}

func validDesc() RouteDescription {
	return RouteDescription{
		InputAsset:            ledger.Asset{0xAA},
		OutputAsset:           ledger.Asset{0xBB},
		InputReceiver:         common.Address{0x07},
		OutputReceiver:        common.Address{0x06},
		InputAmount:           big.NewInt(500),
		MarginAmount:          big.NewInt(0),
		OutputAmount:          big.NewInt(1000),
		EffectiveOutputAmount: big.NewInt(950),
		MinOutputAmount:       big.NewInt(940),
		RoutingFee:            big.NewInt(5),
	}
}

func TestValidateRoutePasses(t *testing.T) {
	desc := validDesc()
	violation, err := ValidateRoute(&desc, testPolicy())
	if err != nil || violation != nil {
		t.Fatalf("expected pass, got violation %+v err %v", violation, err)
	}
}

func TestValidateRouteViolations(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*RouteDescription)
		policy   func(*Policy)
		wantCode string
		wantErr  error
	}{
		{
			name:     "fee above max",
			mutate:   func(d *RouteDescription) { d.RoutingFee = big.NewInt(11) },
			wantCode: ViolationFeeAboveMax,
			wantErr:  ErrFeeAboveMax,
		},
		{
			name:     "fee below min",
			mutate:   func(d *RouteDescription) { d.RoutingFee = big.NewInt(1) },
			policy:   func(p *Policy) { p.MinFeeBps = 50 },
			wantCode: ViolationFeeBelowMin,
			wantErr:  ErrFeeBelowMin,
		},
		{
			name:     "partner surplus share above limit",
			mutate:   func(d *RouteDescription) { d.PartnerSurplusShareBps = 2500 },
			wantCode: ViolationPartnerSurplusShare,
			wantErr:  ErrPartnerSurplusShareTooHigh,
		},
		{
			name:     "protocol surplus share below floor",
			mutate:   func(d *RouteDescription) { d.ProtocolSurplusShareBps = 1000 },
			policy:   func(p *Policy) { p.ProtocolSurplusShareFloorBps = 5000 },
			wantCode: ViolationProtocolSurplusShare,
			wantErr:  ErrProtocolSurplusShareTooLow,
		},
		{
			name:     "partner slippage share above limit",
			mutate:   func(d *RouteDescription) { d.PartnerSlippageShareBps = 2500 },
			wantCode: ViolationPartnerSlippageShare,
			wantErr:  ErrPartnerSlippageShareTooHigh,
		},
		{
			name:     "protocol slippage share below floor",
			mutate:   func(d *RouteDescription) { d.ProtocolSlippageShareBps = 1000 },
			policy:   func(p *Policy) { p.ProtocolSlippageShareFloorBps = 5000 },
			wantCode: ViolationProtocolSlippageShare,
			wantErr:  ErrProtocolSlippageShareTooLow,
		},
		{
			name:     "null input receiver",
			mutate:   func(d *RouteDescription) { d.InputReceiver = common.Address{} },
			wantCode: ViolationNullInputReceiver,
			wantErr:  ErrNullInputReceiver,
		},
		{
			name:     "null output receiver",
			mutate:   func(d *RouteDescription) { d.OutputReceiver = common.Address{} },
			wantCode: ViolationNullOutputReceiver,
			wantErr:  ErrNullOutputReceiver,
		},
		{
			name:     "min output above quoted",
			mutate:   func(d *RouteDescription) { d.MinOutputAmount = big.NewInt(1001) },
			wantCode: ViolationMinAboveQuoted,
			wantErr:  ErrMinAboveQuoted,
		},
		{
			name:     "zero min output without protocol floors",
			mutate:   func(d *RouteDescription) { d.MinOutputAmount = big.NewInt(0) },
			wantCode: ViolationMinOutputZero,
			wantErr:  ErrMinOutputZero,
		},
		{
			name:     "effective above quoted",
			mutate:   func(d *RouteDescription) { d.EffectiveOutputAmount = big.NewInt(1100) },
			wantCode: ViolationEffectiveAboveQuoted,
			wantErr:  ErrEffectiveAboveQuoted,
		},
		{
			name:     "missing amounts",
			mutate:   func(d *RouteDescription) { d.OutputAmount = nil },
			wantCode: ViolationAmountInvalid,
			wantErr:  ErrAmountInvalid,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			desc := validDesc()
			tc.mutate(&desc)
			policy := testPolicy()
			if tc.policy != nil {
				tc.policy(&policy)
			}
			violation, err := ValidateRoute(&desc, policy)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if violation == nil || violation.Code != tc.wantCode {
				t.Fatalf("violation = %+v, want code %s", violation, tc.wantCode)
			}
		})
	}
}

func TestValidateRouteZeroMinAllowedWithFloors(t *testing.T) {
	desc := validDesc()
	desc.MinOutputAmount = big.NewInt(0)
	desc.ProtocolSurplusShareBps = 6000
	desc.ProtocolSlippageShareBps = 6000
	policy := testPolicy()
	policy.ProtocolSurplusShareFloorBps = 5000
	policy.ProtocolSlippageShareFloorBps = 5000
	violation, err := ValidateRoute(&desc, policy)
	if err != nil || violation != nil {
		t.Fatalf("expected pass with protocol floors, got violation %+v err %v", violation, err)
	}
}

func TestValidateRouteIdempotent(t *testing.T) {
	desc := validDesc()
	desc.RoutingFee = big.NewInt(11)
	policy := testPolicy()
	first, errFirst := ValidateRoute(&desc, policy)
	second, errSecond := ValidateRoute(&desc, policy)
	if !errors.Is(errFirst, ErrFeeAboveMax) || !errors.Is(errSecond, ErrFeeAboveMax) {
		t.Fatalf("verdicts differ: %v vs %v", errFirst, errSecond)
	}
	if first.Code != second.Code {
		t.Fatalf("violation codes differ: %s vs %s", first.Code, second.Code)
	}
}

func TestValidateRouteFirstFailureWins(t *testing.T) {
	desc := validDesc()
	// Both the fee and the receiver are invalid; the fee check runs first.
	desc.RoutingFee = big.NewInt(11)
	desc.OutputReceiver = common.Address{}
	_, err := ValidateRoute(&desc, testPolicy())
	if !errors.Is(err, ErrFeeAboveMax) {
		t.Fatalf("expected fee violation to win, got %v", err)
	}
}
