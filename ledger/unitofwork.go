package ledger

import (
	"github.com/holiman/uint256"
)

type journalKind int

const (
	journalBalance journalKind = iota
	journalAllowance
	journalPermit
)

// journalEntry captures the value a key held before its first mutation within
// the unit of work. Replaying entries in reverse restores the pre-unit state.
type journalEntry struct {
	kind    journalKind
	balKey  balanceKey
	apprKey approvalKey
	prev    *uint256.Int
	existed bool
}

// UnitOfWork journals every ledger mutation performed during one settlement so
// the whole sequence can be reverted on any failure. A unit is single-use:
// after Commit or Revert it records nothing further.
type UnitOfWork struct {
	ledger *Ledger
	edits  []journalEntry
	closed bool
}

// Begin opens a unit of work against the ledger.
func (l *Ledger) Begin() *UnitOfWork {
	return &UnitOfWork{ledger: l}
}

func (u *UnitOfWork) recordBalance(key balanceKey, prev *uint256.Int) {
	if u.closed {
		return
	}
	u.edits = append(u.edits, journalEntry{
		kind:    journalBalance,
		balKey:  key,
		prev:    new(uint256.Int).Set(prev),
		existed: true,
	})
}

func (u *UnitOfWork) recordAllowance(key approvalKey, prev *uint256.Int) {
	if u.closed {
		return
	}
	u.edits = append(u.edits, journalEntry{
		kind:    journalAllowance,
		apprKey: key,
		prev:    new(uint256.Int).Set(prev),
		existed: true,
	})
}

func (u *UnitOfWork) recordPermit(key approvalKey, prev *uint256.Int) {
	if u.closed {
		return
	}
	entry := journalEntry{kind: journalPermit, apprKey: key}
	if prev != nil {
		entry.prev = new(uint256.Int).Set(prev)
		entry.existed = true
	}
	u.edits = append(u.edits, entry)
}

// Commit finalises the unit; journaled state becomes permanent.
func (u *UnitOfWork) Commit() {
	if u == nil || u.closed {
		return
	}
	u.closed = true
	u.edits = nil
}

// Revert unwinds every mutation journaled by the unit, newest first.
func (u *UnitOfWork) Revert() {
	if u == nil || u.closed {
		return
	}
	u.closed = true
	u.ledger.mu.Lock()
	defer u.ledger.mu.Unlock()
	for i := len(u.edits) - 1; i >= 0; i-- {
		entry := u.edits[i]
		switch entry.kind {
		case journalBalance:
			u.ledger.balances[entry.balKey] = entry.prev
		case journalAllowance:
			u.ledger.allowances[entry.apprKey] = entry.prev
		case journalPermit:
			if entry.existed {
				u.ledger.permits[entry.apprKey] = entry.prev
			} else {
				delete(u.ledger.permits, entry.apprKey)
			}
		}
	}
	u.edits = nil
}
