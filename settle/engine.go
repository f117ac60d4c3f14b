package settle

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"swapsettle/core/events"
	"swapsettle/ledger"
)

// RecordStore persists routed-settlement records. Persistence happens inside
// the settlement's atomic scope: a store failure aborts the settlement.
type RecordStore interface {
	PutSettlement(*Record) error
}

// Engine is the settlement accounting engine. It orchestrates one settlement
// as a strictly sequential state machine (pre-hook, input collection,
// execution, apportionment, floor enforcement, payout, post-hook) inside a
// single ledger unit of work, so any failure anywhere unwinds everything.
type Engine struct {
	ledger  *ledger.Ledger
	policy  *PolicyStore
	custody common.Address

	mu        sync.RWMutex
	hook      Hook
	hookAddr  common.Address
	executors map[string]RouteExecutor
	store     RecordStore
	emitter   events.Emitter

	// settleMu keeps settlements strictly sequential; inCallout marks the
	// window where untrusted executor or hook code is on the stack.
	settleMu  sync.Mutex
	inCallout atomic.Bool

	nowFn func() int64
	nonce atomic.Uint64
}

// NewEngine constructs an engine bound to the ledger, the policy store, and
// the custody account settlement funds flow through.
func NewEngine(l *ledger.Ledger, policy *PolicyStore, custody common.Address) (*Engine, error) {
	if l == nil {
		return nil, fmt.Errorf("settle: ledger not configured")
	}
	if policy == nil {
		return nil, fmt.Errorf("settle: policy store not configured")
	}
	if custody == zeroAddress {
		return nil, fmt.Errorf("settle: custody address not configured")
	}
	return &Engine{
		ledger:    l,
		policy:    policy,
		custody:   custody,
		executors: make(map[string]RouteExecutor),
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
	}, nil
}

// Custody returns the engine's custody account.
func (e *Engine) Custody() common.Address { return e.custody }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetRecordStore configures settlement record persistence.
func (e *Engine) SetRecordStore(store RecordStore) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store = store
}

// SetHook installs the pre/post-route callback handler together with the
// account value-bearing callbacks are funded at. The engine is the only
// invoker of the hook.
func (e *Engine) SetHook(addr common.Address, hook Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hookAddr = addr
	e.hook = hook
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// RegisterExecutor exposes a named executor capability for RPC callers.
func (e *Engine) RegisterExecutor(name string, exec RouteExecutor) error {
	name = strings.TrimSpace(name)
	if name == "" || exec == nil {
		return ErrExecutorRequired
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executors[name] = exec
	return nil
}

// Executor resolves a previously registered executor by name.
func (e *Engine) Executor(name string) (RouteExecutor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executors[strings.TrimSpace(name)]
	return exec, ok
}

// ExecutorNames lists the registered executor names in stable order.
func (e *Engine) ExecutorNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.executors))
	for name := range e.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) emit(evt events.Event) {
	e.mu.RLock()
	emitter := e.emitter
	e.mu.RUnlock()
	if emitter != nil && evt != nil {
		emitter.Emit(evt)
	}
}

func (e *Engine) currentHook() (common.Address, Hook) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hookAddr, e.hook
}

func (e *Engine) recordStore() RecordStore {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store
}

// Settle runs one settlement to completion. It validates the route against
// the policy in force, collects the input per the custody rules, hands off to
// the executor, measures the delivered output as a balance delta, extracts
// the routing fee, splits surplus and slippage, enforces the minimum-output
// floor, and pays out. All or nothing.
func (e *Engine) Settle(originator common.Address, attachedValue *big.Int, pre CallbackData, exec RouteExecutor, desc RouteDescription, interactions []Interaction, post CallbackData) (result *Result, err error) {
	if e == nil || e.ledger == nil {
		return nil, fmt.Errorf("settle: engine not configured")
	}
	if exec == nil {
		return nil, ErrExecutorRequired
	}
	if originator == zeroAddress {
		return nil, ErrNotAuthorized
	}
	attachedValue = nonNil(attachedValue)

	// Revert restores absolute pre-values, so the edits of two units of work
	// must never interleave. One settlement runs at a time; a call arriving
	// while untrusted route or hook code is on the stack is rejected rather
	// than queued, which also stops an executor or hook from settling
	// reentrantly.
	if e.inCallout.Load() {
		return nil, ErrSettlementInProgress
	}
	e.settleMu.Lock()
	defer e.settleMu.Unlock()

	policy := e.policy.Current()
	if _, verr := ValidateRoute(&desc, policy); verr != nil {
		return nil, verr
	}

	uow := e.ledger.Begin()
	defer func() {
		if err != nil {
			uow.Revert()
		}
	}()

	// PreHook.
	if err = e.invokeHook(uow, originator, pre, true); err != nil {
		return nil, err
	}

	// InputCollected.
	if err = e.collectInput(uow, originator, attachedValue, &desc); err != nil {
		return nil, err
	}

	// Executed. Native value is forwarded before the snapshot so a delta on a
	// native output route never counts the engine's own outflow.
	forward, err := e.forwardValue(uow, &desc, exec)
	if err != nil {
		return nil, err
	}
	before := e.ledger.BalanceOf(desc.OutputAsset, e.custody)
	e.inCallout.Store(true)
	execErr := exec.ExecuteRoute(uow, interactions, desc.OutputAsset, forward)
	e.inCallout.Store(false)
	if execErr != nil {
		err = fmt.Errorf("%w: %v", ErrExecutorFailed, execErr)
		return nil, err
	}
	after := e.ledger.BalanceOf(desc.OutputAsset, e.custody)
	raw := new(big.Int).Sub(after, before)
	if raw.Sign() < 0 {
		raw.SetInt64(0)
	}

	// Apportioned.
	feeTaken, remaining := extractFee(raw, desc.EffectiveOutputAmount, desc.RoutingFee)
	calc := splitShares(remaining, &desc, policy.FoldPartnerShare)
	remaining.Sub(remaining, calc.PartnerShare)
	remaining.Sub(remaining, calc.ProtocolShare)

	// Finalized: the floor is enforced before any payout is committed.
	if remaining.Cmp(desc.MinOutputAmount) < 0 {
		err = fmt.Errorf("%w: %s below %s", ErrSlippageBreach, remaining, desc.MinOutputAmount)
		return nil, err
	}

	stipend := policy.RawCallGasStipend
	if feeTaken.Sign() > 0 {
		if err = e.ledger.Send(uow, desc.OutputAsset, e.custody, policy.Treasury, feeTaken, stipend); err != nil {
			return nil, err
		}
	}
	if calc.PartnerShare.Sign() > 0 {
		if err = e.ledger.Send(uow, desc.OutputAsset, e.custody, desc.Partner, calc.PartnerShare, stipend); err != nil {
			return nil, err
		}
	}
	if calc.ProtocolShare.Sign() > 0 {
		if err = e.ledger.Send(uow, desc.OutputAsset, e.custody, policy.Treasury, calc.ProtocolShare, stipend); err != nil {
			return nil, err
		}
	}
	if remaining.Sign() > 0 {
		if err = e.ledger.Send(uow, desc.OutputAsset, e.custody, desc.OutputReceiver, remaining, stipend); err != nil {
			return nil, err
		}
	}

	// PostHook: a failure here still unwinds the whole settlement.
	if err = e.invokeHook(uow, originator, post, false); err != nil {
		return nil, err
	}

	id := e.settlementID(originator, &desc)
	record := &Record{
		ID:             id,
		UniquePID:      desc.UniquePID,
		Originator:     originator,
		OutputReceiver: desc.OutputReceiver,
		InputAsset:     desc.InputAsset,
		InputAmount:    new(big.Int).Set(desc.InputAmount),
		OutputAsset:    desc.OutputAsset,
		FinalOutput:    new(big.Int).Set(remaining),
		PartnerFee:     big.NewInt(0),
		RoutingFee:     feeTaken,
		PartnerShare:   new(big.Int).Set(calc.PartnerShare),
		ProtocolShare:  new(big.Int).Set(calc.ProtocolShare),
		Surplus:        new(big.Int).Set(calc.Surplus),
		Slippage:       new(big.Int).Set(calc.Slippage),
		SettledAt:      e.nowFn(),
	}
	if store := e.recordStore(); store != nil {
		if err = store.PutSettlement(record); err != nil {
			return nil, fmt.Errorf("settle: persist record: %w", err)
		}
	}

	uow.Commit()
	e.emit(NewRouteSettledEvent(record))

	return &Result{
		SettlementID:  id,
		FinalOutput:   record.FinalOutput,
		RoutingFee:    feeTaken,
		Surplus:       calc.Surplus,
		Slippage:      calc.Slippage,
		PartnerShare:  calc.PartnerShare,
		ProtocolShare: calc.ProtocolShare,
	}, nil
}

// invokeHook funds and runs one route callback. An empty payload is the no-op
// sentinel and skips the hook entirely.
func (e *Engine) invokeHook(uow *ledger.UnitOfWork, originator common.Address, cb CallbackData, pre bool) error {
	if cb.IsZero() {
		return nil
	}
	hookAddr, hook := e.currentHook()
	if hook == nil {
		return fmt.Errorf("%w: no callback handler registered", ErrHookFailed)
	}
	value := nonNil(cb.Value)
	if value.Sign() > 0 {
		if err := e.ledger.Transfer(uow, ledger.NativeAsset, originator, hookAddr, value); err != nil {
			return fmt.Errorf("%w: %v", ErrHookFailed, err)
		}
	}
	var err error
	e.inCallout.Store(true)
	if pre {
		err = hook.ExecutePreRouteCallback(cb.Payload, value)
	} else {
		err = hook.ExecutePostRouteCallback(cb.Payload, value)
	}
	e.inCallout.Store(false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHookFailed, err)
	}
	return nil
}

// collectInput enforces the custody rules for the input asset and moves the
// collected amount.
func (e *Engine) collectInput(uow *ledger.UnitOfWork, originator common.Address, attachedValue *big.Int, desc *RouteDescription) error {
	if desc.InputAsset.IsNative() {
		required := desc.collectAmount()
		if attachedValue.Cmp(required) != 0 {
			return fmt.Errorf("%w: attached %s, required %s", ErrValueMismatch, attachedValue, required)
		}
		return e.ledger.Transfer(uow, ledger.NativeAsset, originator, e.custody, attachedValue)
	}
	if attachedValue.Sign() != 0 {
		return fmt.Errorf("%w: token input must not attach native value", ErrValueMismatch)
	}
	amount := desc.collectAmount()
	return e.ledger.TransferFrom(uow, desc.InputAsset, originator, e.custody, desc.InputReceiver, amount, desc.IsPermit2)
}

// forwardValue moves the native value owed to the executor: the full custody
// balance off margin, only the margin delta on margin, and nothing at all for
// token-funded settlements.
func (e *Engine) forwardValue(uow *ledger.UnitOfWork, desc *RouteDescription, exec RouteExecutor) (*big.Int, error) {
	if !desc.InputAsset.IsNative() {
		return big.NewInt(0), nil
	}
	forward := e.ledger.BalanceOf(ledger.NativeAsset, e.custody)
	if desc.OnMargin() {
		forward = new(big.Int).Set(desc.MarginAmount)
	}
	if forward.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if err := e.ledger.Transfer(uow, ledger.NativeAsset, e.custody, exec.Address(), forward); err != nil {
		return nil, err
	}
	return forward, nil
}

// SetNonce seeds the settlement ID nonce, typically with the persisted record
// count, so IDs stay unique across process restarts.
func (e *Engine) SetNonce(n uint64) {
	e.nonce.Store(n)
}

func (e *Engine) settlementID(originator common.Address, desc *RouteDescription) [32]byte {
	var nonce [8]byte
	n := e.nonce.Add(1)
	for i := 0; i < 8; i++ {
		nonce[i] = byte(n >> (8 * (7 - i)))
	}
	hash := ethcrypto.Keccak256Hash(desc.UniquePID[:], originator[:], desc.InputAsset[:], desc.OutputAsset[:], nonce[:])
	return [32]byte(hash)
}

// CollectFees sweeps the engine's entire current holding of each listed asset
// to the receiver. It is a privileged residual-recovery operation, not part
// of the settlement hot path.
func (e *Engine) CollectFees(caller common.Address, assets []ledger.Asset, receiver common.Address) ([]*big.Int, error) {
	if e == nil || e.ledger == nil {
		return nil, fmt.Errorf("settle: engine not configured")
	}
	// The sweep opens its own unit of work, so it takes the same serialization
	// as Settle and is likewise rejected from inside a route or hook callout.
	if e.inCallout.Load() {
		return nil, ErrSettlementInProgress
	}
	e.settleMu.Lock()
	defer e.settleMu.Unlock()
	policy := e.policy.Current()
	if caller != e.policy.Owner() && caller != policy.Treasury {
		return nil, ErrNotAuthorized
	}
	if receiver == zeroAddress {
		return nil, ErrNullTreasury
	}
	swept := make([]*big.Int, len(assets))
	uow := e.ledger.Begin()
	for i, asset := range assets {
		balance := e.ledger.BalanceOf(asset, e.custody)
		swept[i] = balance
		if balance.Sign() == 0 {
			continue
		}
		if err := e.ledger.Send(uow, asset, e.custody, receiver, balance, policy.RawCallGasStipend); err != nil {
			uow.Revert()
			return nil, err
		}
	}
	uow.Commit()
	e.emit(NewFeesCollectedEvent(caller, receiver, assets, swept, e.nowFn()))
	return swept, nil
}
