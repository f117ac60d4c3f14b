package settle

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Policy is the process-wide settlement policy. It is set at boot, mutated
// only through the privileged PolicyStore mutators, and read once at the start
// of every settlement; it never changes mid-settlement.
type Policy struct {
	MaxFeeBps                     uint32
	MinFeeBps                     uint32
	PartnerSurplusShareLimitBps   uint32
	ProtocolSurplusShareFloorBps  uint32
	PartnerSlippageShareLimitBps  uint32
	ProtocolSlippageShareFloorBps uint32
	// RawCallGasStipend bounds the computation budget granted to a native
	// transfer recipient's receive hook.
	RawCallGasStipend uint64
	Treasury          common.Address
	// FoldPartnerShare controls whether an unassigned partner share is
	// absorbed by the protocol share when no partner address is configured.
	FoldPartnerShare bool
}

func (p Policy) validate() error {
	if p.MinFeeBps > p.MaxFeeBps {
		return ErrFeeBoundsInverted
	}
	if p.MaxFeeBps > bpsDenominator ||
		p.PartnerSurplusShareLimitBps > bpsDenominator ||
		p.ProtocolSurplusShareFloorBps > bpsDenominator ||
		p.PartnerSlippageShareLimitBps > bpsDenominator ||
		p.ProtocolSlippageShareFloorBps > bpsDenominator {
		return ErrShareBpsRange
	}
	if p.Treasury == (common.Address{}) {
		return ErrNullTreasury
	}
	return nil
}

// PolicyStore owns the mutable policy and guards every mutation behind an
// explicit role check. The owner role may mutate everything including the
// treasury; the treasury role may tune operational parameters.
type PolicyStore struct {
	mu     sync.RWMutex
	owner  common.Address
	policy Policy
}

// NewPolicyStore validates the initial policy and binds the owner role.
func NewPolicyStore(owner common.Address, initial Policy) (*PolicyStore, error) {
	if owner == (common.Address{}) {
		return nil, ErrNotAuthorized
	}
	if err := initial.validate(); err != nil {
		return nil, err
	}
	return &PolicyStore{owner: owner, policy: initial}, nil
}

// Current returns a copy of the policy in force.
func (s *PolicyStore) Current() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// Owner returns the address holding the owner role.
func (s *PolicyStore) Owner() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

func (s *PolicyStore) authorizeOperator(caller common.Address) error {
	if caller == s.owner || caller == s.policy.Treasury {
		return nil
	}
	return ErrNotAuthorized
}

// SetFeeBounds updates the routing fee bps range, preserving min <= max.
func (s *PolicyStore) SetFeeBounds(caller common.Address, minBps, maxBps uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeOperator(caller); err != nil {
		return err
	}
	next := s.policy
	next.MinFeeBps = minBps
	next.MaxFeeBps = maxBps
	if err := next.validate(); err != nil {
		return err
	}
	s.policy = next
	return nil
}

// SetShareLimits updates the partner share limits and protocol share floors.
func (s *PolicyStore) SetShareLimits(caller common.Address, partnerSurplusLimit, protocolSurplusFloor, partnerSlippageLimit, protocolSlippageFloor uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeOperator(caller); err != nil {
		return err
	}
	next := s.policy
	next.PartnerSurplusShareLimitBps = partnerSurplusLimit
	next.ProtocolSurplusShareFloorBps = protocolSurplusFloor
	next.PartnerSlippageShareLimitBps = partnerSlippageLimit
	next.ProtocolSlippageShareFloorBps = protocolSlippageFloor
	if err := next.validate(); err != nil {
		return err
	}
	s.policy = next
	return nil
}

// SetGasStipend updates the native transfer gas stipend.
func (s *PolicyStore) SetGasStipend(caller common.Address, stipend uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeOperator(caller); err != nil {
		return err
	}
	s.policy.RawCallGasStipend = stipend
	return nil
}

// SetFoldPartnerShare toggles absorption of unassigned partner shares.
func (s *PolicyStore) SetFoldPartnerShare(caller common.Address, fold bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeOperator(caller); err != nil {
		return err
	}
	s.policy.FoldPartnerShare = fold
	return nil
}

// SetTreasury rotates the treasury address. Rotation demands the owner role,
// not merely the treasury role it replaces.
func (s *PolicyStore) SetTreasury(caller, treasury common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.owner {
		return ErrNotAuthorized
	}
	if treasury == (common.Address{}) {
		return ErrNullTreasury
	}
	s.policy.Treasury = treasury
	return nil
}
