// Package database owns the block and transaction domain types along with
// the height-indexed, append-only chain store (§3, §4.7). It knows how to
// hash and verify a block's own structure; it does not know about the
// validator registry or quorum, since those require chain state beyond a
// single block — that verification is the block factory's job.
package database

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/diva-exchange/divachain/foundation/blockchain/canonical"
	"github.com/diva-exchange/divachain/foundation/blockchain/crypto"
)

// Command kind tags (§3).
const (
	CommandAddPeer     = canonical.KindAddPeer
	CommandRemovePeer  = canonical.KindRemovePeer
	CommandModifyStake = canonical.KindModifyStake
	CommandData        = canonical.KindData
	CommandTestLoad    = canonical.KindTestLoad
)

// Command is a single validator-intent record inside a transaction.
type Command struct {
	Seq       uint32 `json:"seq"`
	Kind      string `json:"command"`
	Host      string `json:"host,omitempty"`
	Port      uint16 `json:"port,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`
	Stake     int64  `json:"stake,omitempty"`
	NS        string `json:"ns,omitempty"`
	Base64url string `json:"base64url,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (c Command) toCanonical() canonical.Command {
	return canonical.Command{
		Seq:       c.Seq,
		Kind:      c.Kind,
		Host:      c.Host,
		Port:      c.Port,
		PublicKey: c.PublicKey,
		Stake:     c.Stake,
		NS:        c.NS,
		Base64url: c.Base64url,
		Timestamp: c.Timestamp,
	}
}

func toCanonicalCommands(cmds []Command) []canonical.Command {
	out := make([]canonical.Command, len(cmds))
	for i, c := range cmds {
		out[i] = c.toCanonical()
	}
	return out
}

// Validate checks a single command's shape. Sequence monotonicity is a
// property of the containing transaction and is checked there.
func (c Command) Validate() error {
	if c.Seq < 1 {
		return errors.New("command: seq must be >= 1")
	}
	switch c.Kind {
	case CommandAddPeer:
		if c.Host == "" || c.Port == 0 {
			return errors.New("command: addPeer requires host and port")
		}
		if _, err := crypto.DecodePublicKey(c.PublicKey); err != nil {
			return fmt.Errorf("command: addPeer: %w", err)
		}
	case CommandRemovePeer:
		if _, err := crypto.DecodePublicKey(c.PublicKey); err != nil {
			return fmt.Errorf("command: removePeer: %w", err)
		}
	case CommandModifyStake:
		if _, err := crypto.DecodePublicKey(c.PublicKey); err != nil {
			return fmt.Errorf("command: modifyStake: %w", err)
		}
	case CommandData:
		if c.NS == "" {
			return errors.New("command: data requires ns")
		}
	case CommandTestLoad:
		if c.Timestamp <= 0 {
			return errors.New("command: testLoad requires timestamp")
		}
	default:
		return fmt.Errorf("command: unknown kind %q", c.Kind)
	}
	return nil
}

// =============================================================================

var identPattern = regexp.MustCompile(`^[A-Za-z0-9,_-]{1,32}$`)

// NewIdent generates a fresh 8-character URL-safe transaction ident, the
// default a caller of stack() gets when it does not supply its own (§4.4).
// 6 random bytes base64url-encode to exactly 8 characters with no padding.
func NewIdent() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("database: read random ident bytes: %s", err))
	}
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// Transaction is an authenticated batch of commands (§3).
type Transaction struct {
	Ident     string    `json:"ident"`
	Origin    string    `json:"origin"`
	Timestamp int64     `json:"timestamp"`
	Commands  []Command `json:"commands"`
	Sig       string    `json:"sig"`
}

// SigningBytes returns the exact byte string a transaction's signature
// covers: ident ∥ timestamp ∥ canonical(commands).
func (t Transaction) SigningBytes() []byte {
	return canonical.TransactionSigningBytes(t.Ident, t.Timestamp, toCanonicalCommands(t.Commands))
}

// Verify checks a transaction's structural shape, command sequencing, and
// signature (§3's transaction invariant, §8 invariant 4).
func (t Transaction) Verify() error {
	if !identPattern.MatchString(t.Ident) {
		return fmt.Errorf("transaction: invalid ident %q", t.Ident)
	}
	if _, err := crypto.DecodePublicKey(t.Origin); err != nil {
		return fmt.Errorf("transaction: invalid origin: %w", err)
	}
	if len(t.Sig) != crypto.SignatureStringLen {
		return errors.New("transaction: invalid signature length")
	}
	if len(t.Commands) == 0 {
		return errors.New("transaction: no commands")
	}

	var lastSeq uint32
	for _, c := range t.Commands {
		if err := c.Validate(); err != nil {
			return err
		}
		if c.Seq <= lastSeq {
			return fmt.Errorf("transaction: command seq not monotonic: %d after %d", c.Seq, lastSeq)
		}
		lastSeq = c.Seq
	}

	if !crypto.VerifyString(t.Origin, t.Sig, t.SigningBytes()) {
		return errors.New("transaction: signature verification failed")
	}
	return nil
}

func (t Transaction) toCanonical() canonical.TransactionEnvelope {
	return canonical.TransactionEnvelope{
		Ident:     t.Ident,
		Origin:    t.Origin,
		Timestamp: t.Timestamp,
		Commands:  toCanonicalCommands(t.Commands),
		Sig:       t.Sig,
	}
}

func toCanonicalTransactions(txs []Transaction) []canonical.TransactionEnvelope {
	out := make([]canonical.TransactionEnvelope, len(txs))
	for i, t := range txs {
		out[i] = t.toCanonical()
	}
	return out
}

// SortTransactions orders transactions ascending by origin, stably, as
// required for block assembly (§3).
func SortTransactions(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Origin < txs[j].Origin
	})
}

// DistinctOrigins reports whether txs contains at most one transaction per
// origin. It assumes txs is already sorted by SortTransactions.
func DistinctOrigins(txs []Transaction) bool {
	for i := 1; i < len(txs); i++ {
		if txs[i].Origin == txs[i-1].Origin {
			return false
		}
	}
	return true
}

// =============================================================================

// Vote is one validator's detached signature over a candidate block's hash.
type Vote struct {
	Origin string `json:"origin"`
	Sig    string `json:"sig"`
}

// =============================================================================

// Block is a committed, hash-chained group of transactions (§3).
type Block struct {
	Version      uint16        `json:"version"`
	Height       uint64        `json:"height"`
	Timestamp    int64         `json:"timestamp"`
	PreviousHash string        `json:"previousHash"`
	Hash         string        `json:"hash"`
	Tx           []Transaction `json:"tx"`
	Origin       string        `json:"origin"`
	Sig          string        `json:"sig"`
	Votes        []Vote        `json:"votes"`
}

// ComputeHash returns H(previousHash ∥ version ∥ timestamp ∥ height ∥
// canonical(tx)), the value that must equal b.Hash.
func (b Block) ComputeHash() string {
	input := canonical.BlockHashInput(b.PreviousHash, b.Version, b.Timestamp, b.Height, toCanonicalTransactions(b.Tx))
	return crypto.HashString(input)
}

// VerifySelf checks everything about a block that can be checked without
// consulting the validator registry or the chain it extends: hash
// correctness, the proposer's signature over that hash, transaction
// ordering/uniqueness, and every transaction's own signature.
func (b Block) VerifySelf() error {
	if b.ComputeHash() != b.Hash {
		return fmt.Errorf("block %d: hash mismatch", b.Height)
	}

	if b.Height > 0 {
		if _, err := crypto.DecodePublicKey(b.Origin); err != nil {
			return fmt.Errorf("block %d: invalid origin: %w", b.Height, err)
		}
		if !crypto.VerifyString(b.Origin, b.Sig, []byte(b.Hash)) {
			return fmt.Errorf("block %d: proposer signature verification failed", b.Height)
		}
	}

	sorted := make([]Transaction, len(b.Tx))
	copy(sorted, b.Tx)
	SortTransactions(sorted)
	for i := range sorted {
		if sorted[i].Ident != b.Tx[i].Ident || sorted[i].Origin != b.Tx[i].Origin {
			return fmt.Errorf("block %d: transactions not sorted by origin", b.Height)
		}
	}
	if !DistinctOrigins(b.Tx) {
		return fmt.Errorf("block %d: more than one transaction from the same origin", b.Height)
	}

	for _, tx := range b.Tx {
		if err := tx.Verify(); err != nil {
			return fmt.Errorf("block %d: %w", b.Height, err)
		}
	}

	return nil
}

// VerifyLinksTo checks that b correctly extends previous: height and
// previousHash chaining (§3, §8 invariant 2).
func (b Block) VerifyLinksTo(previous Block) error {
	if b.Height != previous.Height+1 {
		return fmt.Errorf("block %d: expected height %d", b.Height, previous.Height+1)
	}
	if b.PreviousHash != previous.Hash {
		return fmt.Errorf("block %d: previousHash does not match tip", b.Height)
	}
	return nil
}
