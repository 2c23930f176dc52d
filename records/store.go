// Package records is the append-only record log of the accounting core:
// funding allocations, rebase decisions and claim outcomes. Components write
// records as they complete operations; consumers read them back by epoch
// range. Records are the protocol's only notification mechanism, so nothing
// here is ever rewritten or deleted.
//
// Payloads are RLP-encoded; keys are epoch-prefixed with a per-table append
// sequence so iteration order matches append order. RLP cannot carry signed
// integers, so rebase deltas are stored as separate expansion/contraction
// magnitudes.
package records

import (
	"math/big"
	"sync"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/kvdb"
	"github.com/Fantom-foundation/lachesis-base/kvdb/table"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/lume-fi/lumefi-contracts/inter"
)

// FundingRecord is emitted once per (epoch, asset) allocation. Exactly one of
// Minted and Contracted is nonzero, depending on whether the epoch expanded
// or delegated to a rebase contraction.
type FundingRecord struct {
	Asset     common.Address
	Epoch     idx.Epoch
	Time      inter.Timestamp
	Price     *big.Int
	Minted    *big.Int
	ToStakers *big.Int
	ToReserve *big.Int
	ToDev     *big.Int

	// Contracted is the absolute external-unit contraction applied through
	// the rebase policy, zero on expansion epochs.
	Contracted *big.Int
}

// RebaseRecord is emitted once per applied rebase cycle. Expansion and
// Contraction are absolute applied magnitudes; at most one is nonzero.
type RebaseRecord struct {
	Asset         common.Address
	Epoch         idx.Epoch
	Time          inter.Timestamp
	ObservedPrice *big.Int
	TargetPrice   *big.Int
	Expansion     *big.Int
	Contraction   *big.Int
	NewSupply     *big.Int
}

// ClaimRecord is emitted for every reward payout, sacrifice or expiry burn.
type ClaimRecord struct {
	Account common.Address
	Asset   common.Address
	Epoch   idx.Epoch
	Paid    *big.Int
	Burned  *big.Int
	Fee     *big.Int
	Option  uint8
}

// Store persists records in the ledger's own key-value storage.
type Store struct {
	mu  sync.Mutex
	log log.Logger

	funding kvdb.Store
	rebases kvdb.Store
	claims  kvdb.Store

	fundingSeq uint64
	rebaseSeq  uint64
	claimSeq   uint64
}

// NewStore creates a record store over a key-value database. Sequence
// counters resume from existing content, so reopening a database appends
// rather than overwrites.
func NewStore(db kvdb.Store) *Store {
	s := &Store{
		log:     log.New("module", "records"),
		funding: table.New(db, []byte("f")),
		rebases: table.New(db, []byte("r")),
		claims:  table.New(db, []byte("c")),
	}
	s.fundingSeq = lastSeq(s.funding)
	s.rebaseSeq = lastSeq(s.rebases)
	s.claimSeq = lastSeq(s.claims)
	return s
}

// AddFunding appends a funding record.
func (s *Store) AddFunding(rec FundingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fundingSeq++
	return s.append(s.funding, rec.Epoch, s.fundingSeq, &rec)
}

// AddRebase appends a rebase record.
func (s *Store) AddRebase(rec RebaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebaseSeq++
	return s.append(s.rebases, rec.Epoch, s.rebaseSeq, &rec)
}

// AddClaim appends a claim record.
func (s *Store) AddClaim(rec ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimSeq++
	return s.append(s.claims, rec.Epoch, s.claimSeq, &rec)
}

// FundingByEpoch returns the funding records of one epoch in append order.
func (s *Store) FundingByEpoch(epoch idx.Epoch) ([]FundingRecord, error) {
	var out []FundingRecord
	err := s.scan(s.funding, epochPrefix(epoch), func(payload []byte) error {
		var rec FundingRecord
		if err := rlp.DecodeBytes(payload, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// RebasesByEpoch returns the rebase records of one epoch in append order.
func (s *Store) RebasesByEpoch(epoch idx.Epoch) ([]RebaseRecord, error) {
	var out []RebaseRecord
	err := s.scan(s.rebases, epochPrefix(epoch), func(payload []byte) error {
		var rec RebaseRecord
		if err := rlp.DecodeBytes(payload, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// Claims returns every claim record in append order.
func (s *Store) Claims() ([]ClaimRecord, error) {
	var out []ClaimRecord
	err := s.scan(s.claims, nil, func(payload []byte) error {
		var rec ClaimRecord
		if err := rlp.DecodeBytes(payload, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func (s *Store) append(t kvdb.Store, epoch idx.Epoch, seq uint64, rec interface{}) error {
	payload, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return err
	}
	if err := t.Put(recordKey(epoch, seq), payload); err != nil {
		s.log.Error("failed to persist record", "err", err)
		return err
	}
	return nil
}

func (s *Store) scan(t kvdb.Store, prefix []byte, fn func(payload []byte) error) error {
	it := t.NewIterator(prefix, nil)
	defer it.Release()
	for it.Next() {
		if err := fn(it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

// recordKey is epoch (big-endian, for range scans) followed by a global
// append sequence (big-endian, for stable order inside an epoch).
func recordKey(epoch idx.Epoch, seq uint64) []byte {
	return append(epochPrefix(epoch), bigendian.Uint64ToBytes(seq)...)
}

func epochPrefix(epoch idx.Epoch) []byte {
	return bigendian.Uint32ToBytes(uint32(epoch))
}

func lastSeq(t kvdb.Store) uint64 {
	var last uint64
	it := t.NewIterator(nil, nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) == 12 {
			seq := bigendian.BytesToUint64(key[4:])
			if seq > last {
				last = seq
			}
		}
	}
	return last
}
