package database

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Store lookups that find nothing at the
// requested height.
var ErrNotFound = errors.New("database: block not found")

// Serializer is the persistence boundary the chain store is built on. The
// concrete implementation (boltstore) is a thin adapter over an embedded
// key/value engine; tests substitute an in-memory Serializer instead of
// standing up a real one on disk.
type Serializer interface {
	Write(height uint64, raw []byte) error
	Read(height uint64) ([]byte, error)
	ForEach(func(height uint64, raw []byte) error) error
	Tip() (uint64, bool, error)
	Close() error
}

// Store is the height-indexed, hash-linked block chain (§4.7). It holds the
// validated tip in memory and delegates durability to a Serializer. All
// registry/quorum validation belongs to the factory package; Store enforces
// only the structural chain-linkage invariants that hold regardless of who
// is proposing.
type Store struct {
	mu   sync.RWMutex
	ser  Serializer
	tip  Block
	have bool
}

// Open scans the heights already present in ser and loads the highest
// one as the tip. It does not re-verify stored blocks or the chain
// linkage between them. If ser is empty, genesis must be supplied via
// InitGenesis before Append can be called.
func Open(ser Serializer) (*Store, error) {
	s := &Store{ser: ser}

	var maxHeight uint64
	var any bool
	err := ser.ForEach(func(height uint64, raw []byte) error {
		if height > maxHeight || !any {
			maxHeight = height
			any = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	if !any {
		return s, nil
	}

	raw, err := ser.Read(maxHeight)
	if err != nil {
		return nil, fmt.Errorf("database: open: read tip: %w", err)
	}
	var tip Block
	if err := json.Unmarshal(raw, &tip); err != nil {
		return nil, fmt.Errorf("database: open: decode tip: %w", err)
	}
	s.tip = tip
	s.have = true
	return s, nil
}

// InitGenesis seeds an empty store with the network's genesis block. It is
// an error to call this on a store that already has a tip.
func (s *Store) InitGenesis(genesis Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.have {
		return errors.New("database: genesis already applied")
	}
	if genesis.Height != 0 {
		return errors.New("database: genesis must have height 0")
	}
	if err := genesis.VerifySelf(); err != nil {
		return fmt.Errorf("database: genesis: %w", err)
	}
	return s.writeLocked(genesis)
}

// Append validates block against the current tip's structural linkage and,
// if it fits, commits it and advances the tip. It does not check quorum or
// registry membership of the votes; the factory does that before calling
// Append.
func (s *Store) Append(block Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.have {
		return errors.New("database: no genesis, cannot append")
	}
	if err := block.VerifySelf(); err != nil {
		return err
	}
	if err := block.VerifyLinksTo(s.tip); err != nil {
		return err
	}
	return s.writeLocked(block)
}

func (s *Store) writeLocked(block Block) error {
	raw, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("database: encode block %d: %w", block.Height, err)
	}
	if err := s.ser.Write(block.Height, raw); err != nil {
		return fmt.Errorf("database: write block %d: %w", block.Height, err)
	}
	s.tip = block
	s.have = true
	return nil
}

// Tip returns the current chain head. The second return is false if no
// genesis has been applied yet.
func (s *Store) Tip() (Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip, s.have
}

// TipHeight returns the current chain height, or 0 with have=false before
// genesis.
func (s *Store) TipHeight() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip.Height, s.have
}

// Genesis returns the block at height 0.
func (s *Store) Genesis() (Block, error) {
	return s.GetByHeight(0)
}

// GetByHeight returns the block committed at the given height.
func (s *Store) GetByHeight(height uint64) (Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.have && height == s.tip.Height {
		return s.tip, nil
	}

	raw, err := s.ser.Read(height)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Block{}, ErrNotFound
		}
		return Block{}, fmt.Errorf("database: read block %d: %w", height, err)
	}
	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return Block{}, fmt.Errorf("database: decode block %d: %w", height, err)
	}
	return b, nil
}

// Range returns blocks with heights in [from, to], inclusive, honoring the
// page-size cap the HTTP layer applies (§6). It stops early once limit
// blocks have been collected.
func (s *Store) Range(from, to uint64, limit int) ([]Block, error) {
	if to < from {
		return nil, nil
	}
	out := make([]Block, 0, limit)
	for h := from; h <= to; h++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		b, err := s.GetByHeight(h)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return nil, err
		}
		out = append(out, b)
		if h == ^uint64(0) {
			break
		}
	}
	return out, nil
}

// Close releases the underlying Serializer's resources.
func (s *Store) Close() error {
	return s.ser.Close()
}

// heightKey renders a block height as a big-endian 8-byte key, so that a
// range scan over the underlying key/value engine visits blocks in height
// order (§6).
func heightKey(height uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return buf[:]
}
