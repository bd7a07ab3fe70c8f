// Package message implements the tagged-variant wire envelope the
// consensus state machine speaks: a single Envelope struct carrying a Kind
// discriminant and a raw payload, dispatched by a Router to per-kind
// handlers. This replaces dynamic string-typed dispatch with a fixed set
// of compile-time known payload shapes decoded on demand.
package message

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/diva-exchange/divachain/foundation/blockchain/canonical"
	"github.com/diva-exchange/divachain/foundation/blockchain/crypto"
	"github.com/diva-exchange/divachain/foundation/blockchain/database"
)

// Envelope kinds.
const (
	KindTransaction = "tx"
	KindPropose     = "propose"
	KindSign        = "sign"
	KindConfirm     = "confirm"
	KindSync        = "sync"
)

// Envelope is the single wire shape every message takes, tagged by Kind so
// a receiver can decode Data into the right Go type before acting on it.
type Envelope struct {
	Ident  string          `json:"ident"`
	Seq    uint64          `json:"seq"`
	Kind   string          `json:"kind"`
	Origin string          `json:"origin"`
	Dest   string          `json:"dest,omitempty"`
	Data   json.RawMessage `json:"data"`
	Sig    string          `json:"sig"`
}

// SigningBytes returns the exact byte string an envelope's signature is
// computed over (§4.6).
func (e Envelope) SigningBytes() []byte {
	return canonical.MessageSigningBytes(e.Ident, e.Seq, e.Origin, e.Dest, e.Data)
}

// Verify checks an envelope's signature against its declared origin.
func (e Envelope) Verify() error {
	if !crypto.VerifyString(e.Origin, e.Sig, e.SigningBytes()) {
		return fmt.Errorf("message: signature verification failed for %s", e.Ident)
	}
	return nil
}

// TransactionData is the Kind=tx payload: a single signed transaction
// gossiped for pool admission.
type TransactionData struct {
	Tx database.Transaction `json:"tx"`
}

// ProposeData is the Kind=propose payload: a proposer's candidate block.
type ProposeData struct {
	Block database.Block `json:"block"`
}

// SignData is the Kind=sign payload: a validator's detached signature over
// a candidate block's hash.
type SignData struct {
	Hash string `json:"hash"`
	Sig  string `json:"sig"`
}

// ConfirmData is the Kind=confirm payload: the fully assembled block with
// its attached quorum of votes.
type ConfirmData struct {
	Block database.Block `json:"block"`
}

// SyncData is the Kind=sync payload: a range of heights requested from, or
// offered to, a peer during catch-up (§4.6, §7's chain-gap recovery).
// Blocks is empty on a request and populated on the reply: a request asks
// for [FromHeight, ToHeight] (ToHeight 0 meaning "whatever you have"), and
// the peer holding those heights answers with the same range and Blocks
// filled in.
type SyncData struct {
	FromHeight uint64           `json:"fromHeight"`
	ToHeight   uint64           `json:"toHeight"`
	Blocks     []database.Block `json:"blocks,omitempty"`
}

// Transport is the boundary between the router and however bytes actually
// reach a peer. The router never knows about sockets, ports, or retries;
// it only ever calls Send.
type Transport interface {
	Send(dest string, raw []byte) error
}

// Handler processes one already-verified, non-duplicate envelope.
type Handler func(Envelope) error

// IsMember reports whether publicKey currently belongs to the validator
// registry. The Router uses it to drop envelopes from non-validators before
// they ever reach a handler (§4.6).
type IsMember func(publicKey string) bool

// Router decodes, de-duplicates, and dispatches incoming envelopes, and
// signs and relays outgoing ones. Duplicate suppression is per-origin and
// keyed on the highest sequence number seen; gaps are tolerated per §4.6's
// ordering guarantee, but a sequence at or below the high-water mark is
// dropped as a duplicate.
type Router struct {
	mu        sync.Mutex
	lastSeq   map[string]uint64
	handlers  map[string]Handler
	transport Transport
	self      string
	nextSeq   uint64
	isMember  IsMember
}

// NewRouter constructs a Router that signs outbound envelopes as self and
// sends them through transport. isMember gates inbound envelopes on current
// registry membership; a nil isMember admits every signature-valid origin,
// which callers should only pass in tests that have no registry to check
// against.
func NewRouter(self string, transport Transport, isMember IsMember) *Router {
	return &Router{
		lastSeq:   make(map[string]uint64),
		handlers:  make(map[string]Handler),
		transport: transport,
		self:      self,
		isMember:  isMember,
	}
}

// Handle registers fn as the handler for envelopes of the given kind.
func (r *Router) Handle(kind string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = fn
}

// Receive verifies, de-duplicates, and dispatches an incoming envelope. It
// returns nil for a duplicate, non-member-origin, or unknown-kind envelope;
// those are dropped, not errors, per §4.6.
func (r *Router) Receive(raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("message: decode envelope: %w", err)
	}
	if err := env.Verify(); err != nil {
		return err
	}
	// Kind=tx is exempted here: a not-yet-registered node's bootstrap
	// self-registration transaction (§4.8) legitimately arrives from an
	// origin outside the current registry. The transaction handler enforces
	// the narrower rule — registry member, or a valid self-registration —
	// since only it can tell the two cases apart.
	if r.isMember != nil && env.Kind != KindTransaction && !r.isMember(env.Origin) {
		return nil
	}

	r.mu.Lock()
	if env.Seq <= r.lastSeq[env.Origin] {
		r.mu.Unlock()
		return nil
	}
	r.lastSeq[env.Origin] = env.Seq
	handler, known := r.handlers[env.Kind]
	r.mu.Unlock()

	if !known {
		return nil
	}
	return handler(env)
}

// Send builds, signs, and transmits an envelope of the given kind carrying
// data to dest. Pass an empty dest to broadcast, leaving relay/broadcast
// fan-out to the Transport implementation.
func (r *Router) Send(kind, dest string, data any, signer func([]byte) string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("message: encode %s payload: %w", kind, err)
	}

	r.mu.Lock()
	r.nextSeq++
	seq := r.nextSeq
	r.mu.Unlock()

	env := Envelope{
		Ident:  fmt.Sprintf("%s-%d", r.self, seq),
		Seq:    seq,
		Kind:   kind,
		Origin: r.self,
		Dest:   dest,
		Data:   raw,
	}
	env.Sig = signer(env.SigningBytes())

	out, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("message: encode envelope: %w", err)
	}
	return r.transport.Send(dest, out)
}
