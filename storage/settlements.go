package storage

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"swapsettle/ledger"
	"swapsettle/settle"
)

var (
	recordPrefix = []byte("settle/record/")
	indexPrefix  = []byte("settle/index/")
	seqKey       = []byte("settle/seq")
)

// SettlementStore persists routed-settlement records. Records are keyed by
// settlement ID with a secondary sequence index so listings come back in
// settlement order.
type SettlementStore struct {
	db Database

	mu  sync.Mutex
	seq uint64
}

var _ settle.RecordStore = (*SettlementStore)(nil)

// storedRecord is the durable form of settle.Record. RLP cannot encode signed
// integers, so the settlement timestamp travels as uint64.
type storedRecord struct {
	ID             [32]byte
	UniquePID      [32]byte
	Originator     common.Address
	OutputReceiver common.Address
	InputAsset     common.Address
	InputAmount    *big.Int
	OutputAsset    common.Address
	FinalOutput    *big.Int
	PartnerFee     *big.Int
	RoutingFee     *big.Int
	PartnerShare   *big.Int
	ProtocolShare  *big.Int
	Surplus        *big.Int
	Slippage       *big.Int
	SettledAt      uint64
}

// NewSettlementStore opens the store over the given database, recovering the
// sequence counter left by a previous run.
func NewSettlementStore(db Database) (*SettlementStore, error) {
	store := &SettlementStore{db: db}
	raw, err := db.Get(seqKey)
	switch {
	case err == nil:
		if len(raw) != 8 {
			return nil, fmt.Errorf("storage: corrupt sequence counter (%d bytes)", len(raw))
		}
		store.seq = binary.BigEndian.Uint64(raw)
	case err == ErrNotFound:
		// Fresh database.
	default:
		return nil, fmt.Errorf("storage: load sequence counter: %w", err)
	}
	return store, nil
}

// PutSettlement persists the record and appends it to the sequence index.
func (s *SettlementStore) PutSettlement(record *settle.Record) error {
	if record == nil {
		return fmt.Errorf("storage: nil settlement record")
	}
	encoded, err := rlp.EncodeToBytes(toStored(record))
	if err != nil {
		return fmt.Errorf("storage: encode settlement %x: %w", record.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch _, err := s.db.Get(recordKey(record.ID)); err {
	case ErrNotFound:
	case nil:
		return fmt.Errorf("storage: settlement %x already recorded", record.ID)
	default:
		return fmt.Errorf("storage: check settlement %x: %w", record.ID, err)
	}
	if err := s.db.Put(recordKey(record.ID), encoded); err != nil {
		return fmt.Errorf("storage: persist settlement %x: %w", record.ID, err)
	}
	if err := s.db.Put(indexKey(s.seq), record.ID[:]); err != nil {
		return fmt.Errorf("storage: index settlement %x: %w", record.ID, err)
	}
	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, s.seq+1)
	if err := s.db.Put(seqKey, next); err != nil {
		return fmt.Errorf("storage: persist sequence counter: %w", err)
	}
	s.seq++
	return nil
}

// Sequence returns the number of records persisted so far. It seeds the
// engine's settlement ID nonce at startup.
func (s *SettlementStore) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Get loads the record for a settlement ID. ErrNotFound is returned when the
// settlement is unknown.
func (s *SettlementStore) Get(id [32]byte) (*settle.Record, error) {
	raw, err := s.db.Get(recordKey(id))
	if err != nil {
		return nil, err
	}
	var stored storedRecord
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("storage: decode settlement %x: %w", id, err)
	}
	return fromStored(&stored), nil
}

// List returns up to limit records, most recent first. A limit of zero or
// less returns every record.
func (s *SettlementStore) List(limit int) ([]*settle.Record, error) {
	var ids [][32]byte
	err := s.db.Iterate(indexPrefix, func(key, value []byte) bool {
		if len(value) != 32 {
			return true
		}
		var id [32]byte
		copy(id[:], value)
		ids = append(ids, id)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("storage: walk settlement index: %w", err)
	}

	count := len(ids)
	if limit > 0 && limit < count {
		count = limit
	}
	records := make([]*settle.Record, 0, count)
	for i := len(ids) - 1; i >= 0 && len(records) < count; i-- {
		record, err := s.Get(ids[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func recordKey(id [32]byte) []byte {
	key := make([]byte, 0, len(recordPrefix)+32)
	key = append(key, recordPrefix...)
	return append(key, id[:]...)
}

func indexKey(seq uint64) []byte {
	key := make([]byte, 0, len(indexPrefix)+8)
	key = append(key, indexPrefix...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}

func toStored(record *settle.Record) *storedRecord {
	return &storedRecord{
		ID:             record.ID,
		UniquePID:      record.UniquePID,
		Originator:     record.Originator,
		OutputReceiver: record.OutputReceiver,
		InputAsset:     common.Address(record.InputAsset),
		InputAmount:    ensureBig(record.InputAmount),
		OutputAsset:    common.Address(record.OutputAsset),
		FinalOutput:    ensureBig(record.FinalOutput),
		PartnerFee:     ensureBig(record.PartnerFee),
		RoutingFee:     ensureBig(record.RoutingFee),
		PartnerShare:   ensureBig(record.PartnerShare),
		ProtocolShare:  ensureBig(record.ProtocolShare),
		Surplus:        ensureBig(record.Surplus),
		Slippage:       ensureBig(record.Slippage),
		SettledAt:      uint64(record.SettledAt),
	}
}

func fromStored(stored *storedRecord) *settle.Record {
	return &settle.Record{
		ID:             stored.ID,
		UniquePID:      stored.UniquePID,
		Originator:     stored.Originator,
		OutputReceiver: stored.OutputReceiver,
		InputAsset:     ledger.Asset(stored.InputAsset),
		InputAmount:    stored.InputAmount,
		OutputAsset:    ledger.Asset(stored.OutputAsset),
		FinalOutput:    stored.FinalOutput,
		PartnerFee:     stored.PartnerFee,
		RoutingFee:     stored.RoutingFee,
		PartnerShare:   stored.PartnerShare,
		ProtocolShare:  stored.ProtocolShare,
		Surplus:        stored.Surplus,
		Slippage:       stored.Slippage,
		SettledAt:      int64(stored.SettledAt),
	}
}

func ensureBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
