package settle

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"swapsettle/core/events"
	"swapsettle/ledger"
)

var (
	ownerAddr    = common.Address{0x01}
	treasuryAddr = common.Address{0x02}
	custodyAddr  = common.Address{0x03}
	userAddr     = common.Address{0x04}
	partnerAddr  = common.Address{0x05}
	outReceiver  = common.Address{0x06}
	inReceiver   = common.Address{0x07}
	executorAddr = common.Address{0x08}
	hookAddr     = common.Address{0x09}
	inputToken   = ledger.Asset{0xAA}
	outputToken  = ledger.Asset{0xBB}
)

// deliverExecutor deposits a fixed amount of the output asset into custody,
// standing in for the opaque route execution.
type deliverExecutor struct {
	ledger   *ledger.Ledger
	custody  common.Address
	deliver  *big.Int
	fail     error
	calls    int
	gotValue *big.Int
}

func (x *deliverExecutor) Address() common.Address { return executorAddr }

func (x *deliverExecutor) ExecuteRoute(uow *ledger.UnitOfWork, interactions []Interaction, outputAsset ledger.Asset, value *big.Int) error {
	x.calls++
	x.gotValue = new(big.Int).Set(value)
	if x.fail != nil {
		return x.fail
	}
	if x.deliver != nil && x.deliver.Sign() > 0 {
		return x.ledger.Deposit(uow, outputAsset, x.custody, x.deliver)
	}
	return nil
}

type recordingHook struct {
	preCalls  int
	postCalls int
	failPre   bool
	failPost  bool
}

func (h *recordingHook) ExecutePreRouteCallback(payload []byte, value *big.Int) error {
	h.preCalls++
	if h.failPre {
		return errors.New("pre hook refused")
	}
	return nil
}

func (h *recordingHook) ExecutePostRouteCallback(payload []byte, value *big.Int) error {
	h.postCalls++
	if h.failPost {
		return errors.New("post hook refused")
	}
	return nil
}

type memRecordStore struct {
	records []*Record
	fail    error
}

func (s *memRecordStore) PutSettlement(r *Record) error {
	if s.fail != nil {
		return s.fail
	}
	s.records = append(s.records, r.Copy())
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *ledger.Ledger, *PolicyStore) {
	t.Helper()
	l := ledger.New()
	store, err := NewPolicyStore(ownerAddr, testPolicy())
	if err != nil {
		t.Fatalf("policy store: %v", err)
	}
	engine, err := NewEngine(l, store, custodyAddr)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return engine, l, store
}

func nativeDesc() RouteDescription {
	desc := validDesc()
	desc.InputAsset = ledger.NativeAsset
	desc.Partner = partnerAddr
	desc.PartnerSurplusShareBps = 1000
	desc.PartnerSlippageShareBps = 1000
	desc.ProtocolSlippageShareBps = 5000
	return desc
}

// Scenario: quote 1000, effective floor 950, routing fee 5, delivery 1010.
// Fee 5 is fully taken, surplus 50 and slippage 5 split at 10%/10%/50%,
// leaving 953 for the user.
func TestSettleApportionsSurplusAndSlippage(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	collector := &events.CollectorEmitter{}
	engine.SetEmitter(collector)
	records := &memRecordStore{}
	engine.SetRecordStore(records)

	if err := l.Mint(ledger.NativeAsset, userAddr, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	exec := &deliverExecutor{ledger: l, custody: custodyAddr, deliver: big.NewInt(1010)}
	desc := nativeDesc()

	result, err := engine.Settle(userAddr, big.NewInt(500), CallbackData{}, exec, desc, nil, CallbackData{})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.FinalOutput.Int64() != 953 {
		t.Fatalf("final output = %s, want 953", result.FinalOutput)
	}
	if result.RoutingFee.Int64() != 5 || result.Surplus.Int64() != 50 || result.Slippage.Int64() != 5 {
		t.Fatalf("fee/surplus/slippage = %s/%s/%s, want 5/50/5", result.RoutingFee, result.Surplus, result.Slippage)
	}
	if result.PartnerShare.Int64() != 5 || result.ProtocolShare.Int64() != 47 {
		t.Fatalf("partner/protocol = %s/%s, want 5/47", result.PartnerShare, result.ProtocolShare)
	}

	// Conservation: every delivered unit is accounted for.
	total := new(big.Int).Add(result.FinalOutput, result.RoutingFee)
	total.Add(total, result.PartnerShare)
	total.Add(total, result.ProtocolShare)
	if total.Int64() != 1010 {
		t.Fatalf("final+fee+partner+protocol = %s, want 1010", total)
	}

	if got := l.BalanceOf(outputToken, outReceiver); got.Int64() != 953 {
		t.Fatalf("output receiver balance = %s, want 953", got)
	}
	if got := l.BalanceOf(outputToken, partnerAddr); got.Int64() != 5 {
		t.Fatalf("partner balance = %s, want 5", got)
	}
	if got := l.BalanceOf(outputToken, treasuryAddr); got.Int64() != 52 {
		t.Fatalf("treasury balance = %s, want fee 5 + protocol 47 = 52", got)
	}
	// Full pass-through: custody holds nothing of the traded assets.
	if got := l.BalanceOf(outputToken, custodyAddr); got.Sign() != 0 {
		t.Fatalf("custody output balance = %s, want 0", got)
	}
	if got := l.BalanceOf(ledger.NativeAsset, custodyAddr); got.Sign() != 0 {
		t.Fatalf("custody native balance = %s, want 0", got)
	}
	if exec.gotValue.Int64() != 500 {
		t.Fatalf("executor received value %s, want full 500", exec.gotValue)
	}

	if len(records.records) != 1 {
		t.Fatalf("records persisted = %d, want 1", len(records.records))
	}
	if len(collector.Events) != 1 || collector.Events[0].EventType() != TypeRouteSettled {
		t.Fatalf("expected one %s event, got %+v", TypeRouteSettled, collector.Events)
	}
	rec := records.records[0]
	if rec.FinalOutput.Int64() != 953 || rec.RoutingFee.Int64() != 5 {
		t.Fatalf("record final/fee = %s/%s, want 953/5", rec.FinalOutput, rec.RoutingFee)
	}
}

// Margin-mode token settlement: only the margin moves up front, straight to
// the input receiver, and the executor sees no attached native value.
func TestSettleMarginTokenCollectsOnlyMargin(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	if err := l.Mint(inputToken, userAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Approve(inputToken, userAddr, custodyAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	exec := &deliverExecutor{ledger: l, custody: custodyAddr, deliver: big.NewInt(960)}
	desc := validDesc()
	desc.MarginAmount = big.NewInt(100)

	result, err := engine.Settle(userAddr, nil, CallbackData{}, exec, desc, nil, CallbackData{})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := l.BalanceOf(inputToken, userAddr); got.Int64() != 900 {
		t.Fatalf("user token balance = %s, want 900 (only margin collected)", got)
	}
	if got := l.BalanceOf(inputToken, inReceiver); got.Int64() != 100 {
		t.Fatalf("input receiver balance = %s, want 100", got)
	}
	if exec.gotValue.Sign() != 0 {
		t.Fatalf("executor received native value %s, want 0", exec.gotValue)
	}
	// Delivery 960: full fee 5, the 5 surplus above the floor goes to the
	// protocol, the user keeps the 950 floor.
	if result.FinalOutput.Int64() != 950 {
		t.Fatalf("final output = %s, want 950", result.FinalOutput)
	}
}

// Policy violation: the whole settlement aborts before any transfer.
func TestSettlePolicyViolationMovesNothing(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	if err := l.Mint(ledger.NativeAsset, userAddr, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	exec := &deliverExecutor{ledger: l, custody: custodyAddr, deliver: big.NewInt(1010)}
	desc := nativeDesc()
	desc.RoutingFee = big.NewInt(11) // above 1% of 1000

	_, err := engine.Settle(userAddr, big.NewInt(500), CallbackData{}, exec, desc, nil, CallbackData{})
	if !errors.Is(err, ErrFeeAboveMax) {
		t.Fatalf("expected ErrFeeAboveMax, got %v", err)
	}
	if exec.calls != 0 {
		t.Fatalf("executor invoked %d times on policy violation", exec.calls)
	}
	if got := l.BalanceOf(ledger.NativeAsset, userAddr); got.Int64() != 500 {
		t.Fatalf("user balance = %s, want untouched 500", got)
	}
	for _, addr := range []common.Address{custodyAddr, treasuryAddr, outReceiver, partnerAddr, executorAddr} {
		if got := l.BalanceOf(ledger.NativeAsset, addr); got.Sign() != 0 {
			t.Fatalf("address %s native balance = %s, want 0", addr.Hex(), got)
		}
		if got := l.BalanceOf(outputToken, addr); got.Sign() != 0 {
			t.Fatalf("address %s output balance = %s, want 0", addr.Hex(), got)
		}
	}
}

// Delivery just below the floor: full abort, zero balance change anywhere.
func TestSettleFloorBreachAbortsAtomically(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	if err := l.Mint(ledger.NativeAsset, userAddr, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	exec := &deliverExecutor{ledger: l, custody: custodyAddr, deliver: big.NewInt(939)}
	desc := nativeDesc()

	_, err := engine.Settle(userAddr, big.NewInt(500), CallbackData{}, exec, desc, nil, CallbackData{})
	if !errors.Is(err, ErrSlippageBreach) {
		t.Fatalf("expected ErrSlippageBreach, got %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("executor calls = %d, want 1", exec.calls)
	}
	if got := l.BalanceOf(ledger.NativeAsset, userAddr); got.Int64() != 500 {
		t.Fatalf("user balance after abort = %s, want 500", got)
	}
	for _, addr := range []common.Address{custodyAddr, treasuryAddr, outReceiver, partnerAddr, executorAddr} {
		if got := l.BalanceOf(outputToken, addr); got.Sign() != 0 {
			t.Fatalf("address %s output balance after abort = %s, want 0", addr.Hex(), got)
		}
	}
}

func TestSettleValueMismatch(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	if err := l.Mint(ledger.NativeAsset, userAddr, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	exec := &deliverExecutor{ledger: l, custody: custodyAddr, deliver: big.NewInt(1010)}

	desc := nativeDesc()
	_, err := engine.Settle(userAddr, big.NewInt(400), CallbackData{}, exec, desc, nil, CallbackData{})
	if !errors.Is(err, ErrValueMismatch) {
		t.Fatalf("expected ErrValueMismatch for short native value, got %v", err)
	}

	tokenDesc := validDesc()
	_, err = engine.Settle(userAddr, big.NewInt(1), CallbackData{}, exec, tokenDesc, nil, CallbackData{})
	if !errors.Is(err, ErrValueMismatch) {
		t.Fatalf("expected ErrValueMismatch for token input with value, got %v", err)
	}
}

func TestSettlePermitPathConsumesPermit(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	if err := l.Mint(inputToken, userAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	exec := &deliverExecutor{ledger: l, custody: custodyAddr, deliver: big.NewInt(1000)}
	desc := validDesc()
	desc.IsPermit2 = true

	if _, err := engine.Settle(userAddr, nil, CallbackData{}, exec, desc, nil, CallbackData{}); !errors.Is(err, ledger.ErrPermitMissing) {
		t.Fatalf("expected ErrPermitMissing without permit, got %v", err)
	}

	if err := l.Permit(inputToken, userAddr, custodyAddr, big.NewInt(500)); err != nil {
		t.Fatalf("permit: %v", err)
	}
	if _, err := engine.Settle(userAddr, nil, CallbackData{}, exec, desc, nil, CallbackData{}); err != nil {
		t.Fatalf("settle with permit: %v", err)
	}
	if got := l.BalanceOf(inputToken, inReceiver); got.Int64() != 500 {
		t.Fatalf("input receiver balance = %s, want 500", got)
	}
}

func TestSettleHookFailuresAbort(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	hook := &recordingHook{failPre: true}
	engine.SetHook(hookAddr, hook)
	if err := l.Mint(ledger.NativeAsset, userAddr, big.NewInt(600)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	exec := &deliverExecutor{ledger: l, custody: custodyAddr, deliver: big.NewInt(1010)}
	desc := nativeDesc()

	_, err := engine.Settle(userAddr, big.NewInt(500), CallbackData{Payload: []byte{0x01}}, exec, desc, nil, CallbackData{})
	if !errors.Is(err, ErrHookFailed) {
		t.Fatalf("expected ErrHookFailed from pre hook, got %v", err)
	}
	if exec.calls != 0 {
		t.Fatalf("executor ran despite failed pre hook")
	}

	// A failing post hook unwinds a settlement that had already paid out.
	hook.failPre = false
	hook.failPost = true
	records := &memRecordStore{}
	engine.SetRecordStore(records)
	_, err = engine.Settle(userAddr, big.NewInt(500), CallbackData{}, exec, desc, nil, CallbackData{Payload: []byte{0x02}})
	if !errors.Is(err, ErrHookFailed) {
		t.Fatalf("expected ErrHookFailed from post hook, got %v", err)
	}
	if hook.postCalls != 1 {
		t.Fatalf("post hook calls = %d, want 1", hook.postCalls)
	}
	if got := l.BalanceOf(outputToken, outReceiver); got.Sign() != 0 {
		t.Fatalf("output receiver balance after post-hook abort = %s, want 0", got)
	}
	if got := l.BalanceOf(ledger.NativeAsset, userAddr); got.Int64() != 600 {
		t.Fatalf("user balance after post-hook abort = %s, want 600", got)
	}
	if len(records.records) != 0 {
		t.Fatalf("records persisted despite abort: %d", len(records.records))
	}
}

func TestSettleExecutorFailureAborts(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	if err := l.Mint(ledger.NativeAsset, userAddr, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	exec := &deliverExecutor{ledger: l, custody: custodyAddr, fail: errors.New("route reverted")}
	desc := nativeDesc()

	_, err := engine.Settle(userAddr, big.NewInt(500), CallbackData{}, exec, desc, nil, CallbackData{})
	if !errors.Is(err, ErrExecutorFailed) {
		t.Fatalf("expected ErrExecutorFailed, got %v", err)
	}
	if got := l.BalanceOf(ledger.NativeAsset, userAddr); got.Int64() != 500 {
		t.Fatalf("user balance = %s, want 500", got)
	}
	if got := l.BalanceOf(ledger.NativeAsset, executorAddr); got.Sign() != 0 {
		t.Fatalf("executor kept forwarded value %s after abort", got)
	}
}

// A shortfall surfaces as a smaller delta, not an exception: the executor
// "succeeds" but delivers nothing, and the floor check aborts.
func TestSettleShortfallSurfacesAsDelta(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	if err := l.Mint(ledger.NativeAsset, userAddr, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	exec := &deliverExecutor{ledger: l, custody: custodyAddr, deliver: big.NewInt(0)}
	desc := nativeDesc()

	_, err := engine.Settle(userAddr, big.NewInt(500), CallbackData{}, exec, desc, nil, CallbackData{})
	if !errors.Is(err, ErrSlippageBreach) {
		t.Fatalf("expected ErrSlippageBreach on zero delivery, got %v", err)
	}
}

func TestCollectFeesSweepsResiduals(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	if err := l.Mint(outputToken, custodyAddr, big.NewInt(40)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Mint(ledger.NativeAsset, custodyAddr, big.NewInt(7)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := engine.CollectFees(userAddr, []ledger.Asset{outputToken}, treasuryAddr); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for non-privileged caller, got %v", err)
	}

	swept, err := engine.CollectFees(treasuryAddr, []ledger.Asset{outputToken, ledger.NativeAsset, inputToken}, treasuryAddr)
	if err != nil {
		t.Fatalf("collect fees: %v", err)
	}
	if swept[0].Int64() != 40 || swept[1].Int64() != 7 || swept[2].Sign() != 0 {
		t.Fatalf("swept = %v, want [40 7 0]", swept)
	}
	if got := l.BalanceOf(outputToken, custodyAddr); got.Sign() != 0 {
		t.Fatalf("custody output balance = %s, want 0 after sweep", got)
	}
	if got := l.BalanceOf(outputToken, treasuryAddr); got.Int64() != 40 {
		t.Fatalf("treasury output balance = %s, want 40", got)
	}
}

// reentrantExecutor attempts a second, complete settlement from inside the
// route execution of the first.
type reentrantExecutor struct {
	engine   *Engine
	ledger   *ledger.Ledger
	innerErr error
}

func (x *reentrantExecutor) Address() common.Address { return executorAddr }

func (x *reentrantExecutor) ExecuteRoute(uow *ledger.UnitOfWork, interactions []Interaction, outputAsset ledger.Asset, value *big.Int) error {
	inner := &deliverExecutor{ledger: x.ledger, custody: custodyAddr, deliver: big.NewInt(1010)}
	_, x.innerErr = x.engine.Settle(userAddr, big.NewInt(500), CallbackData{}, inner, nativeDesc(), nil, CallbackData{})
	return nil
}

// Settlements must not nest: the outer unit of work reverts to absolute
// pre-values, so a settlement committed in between would have its payouts
// erased or its collected inputs handed back. The nested call is rejected
// outright and the outer abort leaves the ledger untouched.
func TestSettleRejectsReentrantSettlement(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	records := &memRecordStore{}
	engine.SetRecordStore(records)
	if err := l.Mint(ledger.NativeAsset, userAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	exec := &reentrantExecutor{engine: engine, ledger: l}

	_, err := engine.Settle(userAddr, big.NewInt(500), CallbackData{}, exec, nativeDesc(), nil, CallbackData{})
	if !errors.Is(err, ErrSlippageBreach) {
		t.Fatalf("expected outer abort on zero delivery, got %v", err)
	}
	if !errors.Is(exec.innerErr, ErrSettlementInProgress) {
		t.Fatalf("expected nested settle to be rejected, got %v", exec.innerErr)
	}
	if got := l.BalanceOf(ledger.NativeAsset, userAddr); got.Int64() != 1000 {
		t.Fatalf("user balance = %s, want full 1000 restored", got)
	}
	for _, addr := range []common.Address{custodyAddr, treasuryAddr, outReceiver, partnerAddr, executorAddr} {
		if got := l.BalanceOf(outputToken, addr); got.Sign() != 0 {
			t.Fatalf("address %s output balance = %s, want 0", addr.Hex(), got)
		}
	}
	if len(records.records) != 0 {
		t.Fatalf("records persisted = %d, want 0", len(records.records))
	}
}

// sweepingHook tries a privileged fee sweep from inside the post callback.
type sweepingHook struct {
	engine *Engine
	err    error
}

func (h *sweepingHook) ExecutePreRouteCallback([]byte, *big.Int) error { return nil }

func (h *sweepingHook) ExecutePostRouteCallback(payload []byte, value *big.Int) error {
	_, h.err = h.engine.CollectFees(treasuryAddr, []ledger.Asset{outputToken}, treasuryAddr)
	return nil
}

func TestCollectFeesRejectedInsideCallback(t *testing.T) {
	engine, l, _ := newTestEngine(t)
	hook := &sweepingHook{engine: engine}
	engine.SetHook(hookAddr, hook)
	if err := l.Mint(ledger.NativeAsset, userAddr, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	exec := &deliverExecutor{ledger: l, custody: custodyAddr, deliver: big.NewInt(1010)}

	if _, err := engine.Settle(userAddr, big.NewInt(500), CallbackData{}, exec, nativeDesc(), nil, CallbackData{Payload: []byte{0x01}}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !errors.Is(hook.err, ErrSettlementInProgress) {
		t.Fatalf("expected sweep inside callback to be rejected, got %v", hook.err)
	}
}

// A restarted engine seeded with the persisted record count must not reuse
// the IDs of an earlier run for otherwise identical routes.
func TestSetNonceKeepsIDsUniqueAcrossRestarts(t *testing.T) {
	settleOnce := func(t *testing.T, seed uint64) [32]byte {
		t.Helper()
		engine, l, _ := newTestEngine(t)
		engine.SetNonce(seed)
		if err := l.Mint(ledger.NativeAsset, userAddr, big.NewInt(500)); err != nil {
			t.Fatalf("mint: %v", err)
		}
		exec := &deliverExecutor{ledger: l, custody: custodyAddr, deliver: big.NewInt(1010)}
		result, err := engine.Settle(userAddr, big.NewInt(500), CallbackData{}, exec, nativeDesc(), nil, CallbackData{})
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
		return result.SettlementID
	}

	first := settleOnce(t, 0)
	// ID derivation is deterministic, so a fresh engine with the default
	// nonce would repeat the first run's ID for the same route.
	if again := settleOnce(t, 0); again != first {
		t.Fatalf("unseeded engines disagree on the first ID: %x vs %x", again, first)
	}
	if seeded := settleOnce(t, 1); seeded == first {
		t.Fatalf("seeded engine reused settlement ID %x", first)
	}
}
