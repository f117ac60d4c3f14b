// Package executor provides the default route-execution capability: a
// dispatcher that runs a settlement's interactions by handing each call to a
// handler registered for its target. The settlement engine treats the whole
// dispatch as one opaque step and only measures the resulting balance delta.
package executor

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"swapsettle/ledger"
	"swapsettle/settle"
)

var (
	// ErrNoHandler indicates an interaction targeted an address with no registered handler.
	ErrNoHandler = errors.New("executor: no handler for target")
)

// Handler services the interactions aimed at one target address. The value is
// already credited to the target when the handler runs; handlers deliver
// output by depositing into the account the route ultimately settles to.
type Handler func(uow *ledger.UnitOfWork, caller common.Address, value *big.Int, payload []byte) error

// Dispatcher implements settle.RouteExecutor over a table of per-target
// handlers.
type Dispatcher struct {
	addr   common.Address
	ledger *ledger.Ledger

	mu       sync.RWMutex
	handlers map[common.Address]Handler
}

var _ settle.RouteExecutor = (*Dispatcher)(nil)

// NewDispatcher constructs a dispatcher operating from the given account.
func NewDispatcher(addr common.Address, l *ledger.Ledger) *Dispatcher {
	return &Dispatcher{
		addr:     addr,
		ledger:   l,
		handlers: make(map[common.Address]Handler),
	}
}

// Register installs the handler for a target address. A nil handler removes
// the registration.
func (d *Dispatcher) Register(target common.Address, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if handler == nil {
		delete(d.handlers, target)
		return
	}
	d.handlers[target] = handler
}

// Address implements settle.RouteExecutor.
func (d *Dispatcher) Address() common.Address { return d.addr }

// ExecuteRoute runs the interactions in order. Any failure aborts the whole
// route; the engine's unit of work unwinds whatever earlier interactions
// already moved.
func (d *Dispatcher) ExecuteRoute(uow *ledger.UnitOfWork, interactions []settle.Interaction, outputAsset ledger.Asset, value *big.Int) error {
	for i, call := range interactions {
		handler := d.handler(call.Target)
		if handler == nil {
			return fmt.Errorf("%w: interaction %d target %s", ErrNoHandler, i, call.Target.Hex())
		}
		callValue := big.NewInt(0)
		if call.Value != nil && call.Value.Sign() > 0 {
			callValue = new(big.Int).Set(call.Value)
			if err := d.ledger.Transfer(uow, ledger.NativeAsset, d.addr, call.Target, callValue); err != nil {
				return fmt.Errorf("executor: interaction %d value transfer: %w", i, err)
			}
		}
		if err := handler(uow, d.addr, callValue, call.Payload); err != nil {
			return fmt.Errorf("executor: interaction %d: %w", i, err)
		}
	}
	return nil
}

func (d *Dispatcher) handler(target common.Address) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[target]
}
