// Package registry maintains the validator set as folded from committed
// blocks (§4.3). It never mutates itself in response to network chatter;
// the only path into the registry is Apply, called once per committed
// block by the store's caller.
package registry

import (
	"sort"
	"sync"

	"github.com/diva-exchange/divachain/foundation/blockchain/crypto"
	"github.com/diva-exchange/divachain/foundation/blockchain/database"
)

// Validator is one registry member's endpoint and stake, as folded from
// AddPeer/RemovePeer/ModifyStake commands.
type Validator struct {
	PublicKey string
	Host      string
	Port      uint16
	Stake     int64
}

// Registry holds the current publicKey → {host, port, stake} mapping. It is
// safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	set   map[string]Validator
	total int64
}

// New returns an empty registry. Apply the genesis block's commands before
// using it for anything else.
func New() *Registry {
	return &Registry{set: make(map[string]Validator)}
}

// Apply folds a single committed block's commands into the registry, in
// the block's transaction order and each transaction's seq order (§4.3).
// Blocks must be applied in height order; Apply itself does not check
// height, since that is the store's job.
func (r *Registry) Apply(block database.Block) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tx := range block.Tx {
		for _, cmd := range tx.Commands {
			r.applyCommand(cmd)
		}
	}
}

func (r *Registry) applyCommand(cmd database.Command) {
	switch cmd.Kind {
	case database.CommandAddPeer:
		v, existed := r.set[cmd.PublicKey]
		if !existed {
			v = Validator{PublicKey: cmd.PublicKey, Stake: 0}
		}
		v.Host = cmd.Host
		v.Port = cmd.Port
		r.set[cmd.PublicKey] = v
		if !existed {
			r.total += v.Stake
		}
	case database.CommandRemovePeer:
		if v, ok := r.set[cmd.PublicKey]; ok {
			r.total -= v.Stake
			delete(r.set, cmd.PublicKey)
		}
	case database.CommandModifyStake:
		v, ok := r.set[cmd.PublicKey]
		if !ok {
			return
		}
		stake := cmd.Stake
		if stake < 0 {
			stake = 0
		}
		r.total += stake - v.Stake
		v.Stake = stake
		r.set[cmd.PublicKey] = v
	}
}

// Contains reports whether publicKey is a current registry member.
func (r *Registry) Contains(publicKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.set[publicKey]
	return ok
}

// StakeOf returns publicKey's current stake, or 0 if it is not a member.
func (r *Registry) StakeOf(publicKey string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set[publicKey].Stake
}

// Total returns the sum of every member's stake.
func (r *Registry) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Quorum returns ⌈2/3 · total⌉, the stake-weighted commit threshold.
func (r *Registry) Quorum() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return quorumOf(r.total)
}

func quorumOf(total int64) int64 {
	return (2*total + 2) / 3
}

// Get returns a single validator's endpoint and stake.
func (r *Registry) Get(publicKey string) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.set[publicKey]
	return v, ok
}

// Snapshot returns every current validator, sorted by public key for
// deterministic iteration (proposer selection and the /peers endpoint both
// depend on stable ordering).
func (r *Registry) Snapshot() []Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Validator, 0, len(r.set))
	for _, v := range r.set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicKey < out[j].PublicKey })
	return out
}

// VerifyVotes checks that votes carries distinct, registry-member
// signatures over hash whose combined stake meets quorum (§8 invariant 3).
// It reports the summed stake and whether that sum reaches quorum.
func (r *Registry) VerifyVotes(hash string, votes []database.Vote) (sum int64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(votes))
	for _, v := range votes {
		if _, dup := seen[v.Origin]; dup {
			continue
		}
		validator, member := r.set[v.Origin]
		if !member {
			continue
		}
		if !crypto.VerifyString(v.Origin, v.Sig, []byte(hash)) {
			continue
		}
		seen[v.Origin] = struct{}{}
		sum += validator.Stake
	}
	return sum, sum >= quorumOf(r.total)
}
