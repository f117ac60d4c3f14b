package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrZeroAmount indicates a transfer was requested for a zero or negative amount.
	ErrZeroAmount = errors.New("ledger: transfer amount must be positive")
	// ErrInsufficientBalance indicates the sender does not hold enough of the asset.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrNativeTransferFailed indicates the recipient's receive hook rejected a native transfer.
	ErrNativeTransferFailed = errors.New("ledger: native transfer failed")
	// ErrTokenTransferFailed indicates the token mover reported a failed transfer.
	ErrTokenTransferFailed = errors.New("ledger: token transfer failed")
	// ErrAllowanceExceeded indicates the spender's standing allowance does not cover the amount.
	ErrAllowanceExceeded = errors.New("ledger: allowance exceeded")
	// ErrPermitMissing indicates no one-shot permit authorization covers the transfer.
	ErrPermitMissing = errors.New("ledger: permit authorization missing")
	// ErrAmountOverflow indicates an amount outside the 256-bit range.
	ErrAmountOverflow = errors.New("ledger: amount exceeds 256 bits")
)

// Asset identifies a transferable asset by its 20-byte handle. The zero value
// is the native asset sentinel.
type Asset common.Address

// NativeAsset is the sentinel for the ledger's native asset.
var NativeAsset = Asset{}

// IsNative reports whether the asset is the native asset sentinel.
func (a Asset) IsNative() bool { return a == NativeAsset }

// String renders the asset handle as 0x-prefixed hex; the native sentinel
// renders as "native".
func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return common.Address(a).Hex()
}

// Receiver is implemented by accounts that observe incoming native transfers.
// The hook runs under the supplied gas budget and must return an error if the
// budget is insufficient for its work; the ledger surfaces that as a failed
// transfer rather than granting more gas.
type Receiver interface {
	ReceiveNative(from common.Address, amount *big.Int, gasBudget uint64) error
}

// TokenMover is the safe-transfer capability for token assets. Implementations
// are expected to tolerate non-compliant token behaviour and report failure
// through the returned error; the ledger never inspects token internals.
type TokenMover interface {
	Move(uow *UnitOfWork, token Asset, from, to common.Address, amount *big.Int) error
}

type balanceKey struct {
	asset Asset
	addr  common.Address
}

type approvalKey struct {
	asset   Asset
	owner   common.Address
	spender common.Address
}

// Ledger tracks asset balances for every account together with the standing
// allowances and one-shot permits used by delegated transfers. All mutating
// operations go through a UnitOfWork so a failed settlement can unwind every
// movement it journaled.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[balanceKey]*uint256.Int
	allowances map[approvalKey]*uint256.Int
	permits    map[approvalKey]*uint256.Int
	receivers  map[common.Address]Receiver
	mover      TokenMover
}

// New constructs an empty ledger backed by the default balance-table mover.
func New() *Ledger {
	l := &Ledger{
		balances:   make(map[balanceKey]*uint256.Int),
		allowances: make(map[approvalKey]*uint256.Int),
		permits:    make(map[approvalKey]*uint256.Int),
		receivers:  make(map[common.Address]Receiver),
	}
	l.mover = balanceMover{ledger: l}
	return l
}

// SetTokenMover overrides the token transfer capability. Passing nil restores
// the default mover.
func (l *Ledger) SetTokenMover(mover TokenMover) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if mover == nil {
		l.mover = balanceMover{ledger: l}
		return
	}
	l.mover = mover
}

// RegisterReceiver installs a native-transfer hook for the given account.
// Passing nil removes any installed hook.
func (l *Ledger) RegisterReceiver(addr common.Address, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r == nil {
		delete(l.receivers, addr)
		return
	}
	l.receivers[addr] = r
}

// BalanceOf returns the account's current holding of the asset. Native and
// token assets read the same table, so the two paths behave symmetrically.
func (l *Ledger) BalanceOf(asset Asset, addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[balanceKey{asset: asset, addr: addr}]; ok {
		return bal.ToBig()
	}
	return big.NewInt(0)
}

// Mint credits an account outside any unit of work. It exists for genesis-style
// seeding and tests; settlement flows must use journaled operations instead.
func (l *Ledger) Mint(asset Asset, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrAmountOverflow
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey{asset: asset, addr: addr}
	bal := l.balance(key)
	next := new(uint256.Int).Add(bal, value)
	if next.Cmp(bal) < 0 {
		return ErrAmountOverflow
	}
	l.balances[key] = next
	return nil
}

// Approve sets the standing allowance the spender may draw from owner's
// holding of the asset.
func (l *Ledger) Approve(asset Asset, owner, spender common.Address, amount *big.Int) error {
	value, overflow := uint256.FromBig(amount)
	if amount == nil || amount.Sign() < 0 || overflow {
		return ErrAmountOverflow
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[approvalKey{asset: asset, owner: owner, spender: spender}] = value
	return nil
}

// Permit records a one-shot signature-style authorization for the spender to
// move up to amount of owner's asset. It is consumed in full by the first
// permit-flagged transfer.
func (l *Ledger) Permit(asset Asset, owner, spender common.Address, amount *big.Int) error {
	value, overflow := uint256.FromBig(amount)
	if amount == nil || amount.Sign() <= 0 || overflow {
		return ErrAmountOverflow
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.permits[approvalKey{asset: asset, owner: owner, spender: spender}] = value
	return nil
}

// Allowance returns the spender's remaining standing allowance.
func (l *Ledger) Allowance(asset Asset, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.allowances[approvalKey{asset: asset, owner: owner, spender: spender}]; ok {
		return a.ToBig()
	}
	return big.NewInt(0)
}

// balance returns the stored balance for key; callers must hold the lock.
func (l *Ledger) balance(key balanceKey) *uint256.Int {
	if bal, ok := l.balances[key]; ok {
		return bal
	}
	return uint256.NewInt(0)
}

func (l *Ledger) receiver(addr common.Address) Receiver {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.receivers[addr]
}

// move debits from and credits to within the unit of work. It performs no
// recipient-side dispatch; Send layers the safe-transfer semantics on top.
func (l *Ledger) move(uow *UnitOfWork, asset Asset, from, to common.Address, amount *big.Int) error {
	if uow == nil {
		return fmt.Errorf("ledger: unit of work required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrAmountOverflow
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromKey := balanceKey{asset: asset, addr: from}
	toKey := balanceKey{asset: asset, addr: to}
	fromBal := l.balance(fromKey)
	if fromBal.Cmp(value) < 0 {
		return ErrInsufficientBalance
	}
	toBal := l.balance(toKey)
	uow.recordBalance(fromKey, fromBal)
	uow.recordBalance(toKey, toBal)
	l.balances[fromKey] = new(uint256.Int).Sub(fromBal, value)
	next := new(uint256.Int).Add(toBal, value)
	if next.Cmp(toBal) < 0 {
		return ErrAmountOverflow
	}
	l.balances[toKey] = next
	return nil
}

// Transfer moves amount of asset between accounts inside the unit of work
// without invoking recipient hooks. It backs custody-internal movements where
// the recipient is a ledger-managed account.
func (l *Ledger) Transfer(uow *UnitOfWork, asset Asset, from, to common.Address, amount *big.Int) error {
	return l.move(uow, asset, from, to, amount)
}

// Deposit credits an account inside the unit of work, modelling asset inflow
// from outside the ledger's balance table (an external venue delivering the
// output asset during route execution).
func (l *Ledger) Deposit(uow *UnitOfWork, asset Asset, addr common.Address, amount *big.Int) error {
	if uow == nil {
		return fmt.Errorf("ledger: unit of work required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrAmountOverflow
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey{asset: asset, addr: addr}
	bal := l.balance(key)
	uow.recordBalance(key, bal)
	next := new(uint256.Int).Add(bal, value)
	if next.Cmp(bal) < 0 {
		return ErrAmountOverflow
	}
	l.balances[key] = next
	return nil
}

// Send is the safe-transfer primitive: it moves amount of asset from the
// sender's custody to the recipient, failing loudly on any shortfall. A zero
// amount is an error, not a no-op. Native transfers run the recipient's
// receive hook under gasStipend; token transfers delegate to the configured
// TokenMover.
func (l *Ledger) Send(uow *UnitOfWork, asset Asset, from, to common.Address, amount *big.Int, gasStipend uint64) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if asset.IsNative() {
		if err := l.move(uow, asset, from, to, amount); err != nil {
			return err
		}
		if hook := l.receiver(to); hook != nil {
			if err := hook.ReceiveNative(from, new(big.Int).Set(amount), gasStipend); err != nil {
				return fmt.Errorf("%w: %v", ErrNativeTransferFailed, err)
			}
		}
		return nil
	}
	mover := l.tokenMover()
	if err := mover.Move(uow, asset, from, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
	}
	return nil
}

// TransferFrom moves amount of asset from owner to the recipient on the
// spender's authority. With usePermit set it consumes a one-shot permit
// authorization; otherwise it draws down the standing allowance.
func (l *Ledger) TransferFrom(uow *UnitOfWork, asset Asset, owner, spender, to common.Address, amount *big.Int, usePermit bool) error {
	if uow == nil {
		return fmt.Errorf("ledger: unit of work required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrAmountOverflow
	}
	key := approvalKey{asset: asset, owner: owner, spender: spender}
	l.mu.Lock()
	if usePermit {
		permit, ok := l.permits[key]
		if !ok || permit.Cmp(value) < 0 {
			l.mu.Unlock()
			return ErrPermitMissing
		}
		uow.recordPermit(key, permit)
		delete(l.permits, key)
	} else {
		allowance, ok := l.allowances[key]
		if !ok || allowance.Cmp(value) < 0 {
			l.mu.Unlock()
			return ErrAllowanceExceeded
		}
		uow.recordAllowance(key, allowance)
		l.allowances[key] = new(uint256.Int).Sub(allowance, value)
	}
	l.mu.Unlock()
	return l.move(uow, asset, owner, to, amount)
}

func (l *Ledger) tokenMover() TokenMover {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mover
}

// balanceMover is the default TokenMover: token balances live in the same
// table as native balances, so a move is a plain journaled debit/credit.
type balanceMover struct {
	ledger *Ledger
}

func (m balanceMover) Move(uow *UnitOfWork, token Asset, from, to common.Address, amount *big.Int) error {
	return m.ledger.move(uow, token, from, to, amount)
}
