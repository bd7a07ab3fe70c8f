// Package factory implements the consensus state machine that stacks
// local commands into candidate blocks and drives them through the
// propose/sign/confirm protocol until they commit (§4.5). It owns the
// mutex that guards the consensus state: every phase transition and the
// factory's own registry.Apply calls happen inside that lock. Transactions
// enter the mempool (mempool.Upsert) from the submission and gossip paths
// outside the factory's lock; the mempool serialises those with its own
// mutex.
package factory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/diva-exchange/divachain/foundation/blockchain/credit"
	"github.com/diva-exchange/divachain/foundation/blockchain/crypto"
	"github.com/diva-exchange/divachain/foundation/blockchain/database"
	"github.com/diva-exchange/divachain/foundation/blockchain/mempool"
	"github.com/diva-exchange/divachain/foundation/blockchain/message"
	"github.com/diva-exchange/divachain/foundation/blockchain/registry"
	"github.com/diva-exchange/divachain/foundation/blockchain/votepool"
	"github.com/diva-exchange/divachain/foundation/blockchain/wallet"
)

// Phase is the factory's consensus state: Idle, Signing or Confirming.
// There is no separate Proposing value: a proposer builds and broadcasts
// its candidate inside one locked step and moves from Idle straight to
// Signing. Every node starts and ends each height in Idle.
type Phase int

// Phase values.
const (
	PhaseIdle Phase = iota
	PhaseSigning
	PhaseConfirming
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSigning:
		return "signing"
	case PhaseConfirming:
		return "confirming"
	default:
		return "unknown"
	}
}

// EventHandler receives a trace message for every step of the state
// machine, the same shape the teacher's worker package uses to report
// progress without hard-wiring a logger dependency into the package.
type EventHandler func(v string, args ...any)

// noOpEventHandler is used when a caller passes a nil EventHandler.
func noOpEventHandler(v string, args ...any) {}

// Capabilities is the set of collaborators the factory needs, gathered
// into a single record and passed to New. This is the capability-record
// shape the module uses everywhere a would-be cyclic object graph (state
// package instantiating and being instantiated by a worker) is spec'd out.
type Capabilities struct {
	Wallet        *wallet.Wallet
	Router        *message.Router
	Registry      *registry.Registry
	Store         *database.Store
	Mempool       *mempool.Mempool
	Votes         *votepool.Pool
	Credit        *credit.Scheduler
	Feed          chan database.Block
	NetworkSize   int
	P2PInterval   time.Duration
	MorphInterval time.Duration
	EvHandler     EventHandler
}

// ValidationError wraps the name of a failed invariant together with the
// underlying cause (§7's Validation error row).
type ValidationError struct {
	Invariant string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("factory: invariant %q: %s", e.Invariant, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Factory drives the local node's participation in consensus: it decides
// when to propose, verifies what others propose, and commits whatever the
// network confirms first for a given height.
type Factory struct {
	cap Capabilities

	mu        sync.Mutex
	phase     Phase
	candidate database.Block
	timer     *time.Timer
	pending   map[string]struct{}

	pendingBlocks   map[uint64]database.Block
	syncRequestedAt time.Time

	shut chan struct{}
	wg   sync.WaitGroup
}

// maxPendingBlocks bounds how many out-of-order Confirms a node buffers
// while it catches up, so a burst of far-future heights can't grow the
// buffer without limit.
const maxPendingBlocks = 64

// New validates cap and constructs a Factory. The store must already have
// a genesis block committed; New does not load one.
func New(cap Capabilities) (*Factory, error) {
	if cap.Wallet == nil || cap.Router == nil || cap.Registry == nil || cap.Store == nil {
		return nil, fmt.Errorf("factory: incomplete capabilities")
	}
	if cap.Mempool == nil {
		cap.Mempool = mempool.New()
	}
	if cap.Votes == nil {
		cap.Votes = votepool.New()
	}
	if cap.Credit == nil {
		cap.Credit = credit.New()
	}
	if cap.EvHandler == nil {
		cap.EvHandler = noOpEventHandler
	}
	if cap.NetworkSize < 1 {
		cap.NetworkSize = 1
	}
	if cap.P2PInterval <= 0 {
		cap.P2PInterval = time.Second
	}
	if cap.MorphInterval <= 0 {
		cap.MorphInterval = cap.P2PInterval * time.Duration(cap.NetworkSize)
	}
	if _, ok := cap.Store.Tip(); !ok {
		return nil, fmt.Errorf("factory: store has no genesis")
	}

	f := &Factory{
		cap:           cap,
		pending:       make(map[string]struct{}),
		pendingBlocks: make(map[uint64]database.Block),
		shut:          make(chan struct{}),
	}

	cap.Router.Handle(message.KindPropose, f.handlePropose)
	cap.Router.Handle(message.KindSign, f.handleSign)
	cap.Router.Handle(message.KindConfirm, f.handleConfirm)
	cap.Router.Handle(message.KindTransaction, f.handleTransaction)
	cap.Router.Handle(message.KindSync, f.handleSync)

	return f, nil
}

// Run starts the background goroutines that drive proposing and the
// stake-credit admission window, following the teacher's worker shape:
// one goroutine per concern, coordinated by a shared shut channel and
// joined on shutdown.
func (f *Factory) Run() {
	f.cap.EvHandler("factory: run: started")

	operations := []func(){
		f.proposeOperations,
		f.creditOperations,
	}
	f.wg.Add(len(operations))
	for _, op := range operations {
		go func(op func()) {
			defer f.wg.Done()
			op()
		}(op)
	}
}

// Shutdown terminates the factory's background goroutines and waits for
// them to exit.
func (f *Factory) Shutdown() {
	f.cap.EvHandler("factory: shutdown: started")
	defer f.cap.EvHandler("factory: shutdown: completed")

	close(f.shut)
	f.wg.Wait()
}

func (f *Factory) isShutdown() bool {
	select {
	case <-f.shut:
		return true
	default:
		return false
	}
}

// Phase reports the factory's current phase, for the /state endpoint.
func (f *Factory) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

// SubmitTransaction admits a locally received, already-verified
// transaction into the mempool for the next stacking cycle.
func (f *Factory) SubmitTransaction(tx database.Transaction) bool {
	return f.cap.Mempool.Upsert(tx)
}

// =============================================================================
// proposer selection

// nearestValidator picks the registry member at position attempt in the
// distance ranking from H(previousHash ∥ height), the deterministic,
// election-free selection rule of §4.5. attempt 0 is the nearest validator;
// attempt 1 is the second-nearest, and so on, wrapping around the ranking
// once every member has had a turn. Ties break on the lexicographically
// smaller public key. Grounded on the teacher's worker.selection FNV-mod-N
// approach, generalized from a modulus pick to a true distance metric.
func nearestValidator(previousHash string, height uint64, validators []registry.Validator, attempt int) string {
	if len(validators) == 0 {
		return ""
	}

	target := crypto.Hash([]byte(previousHash + strconv.FormatUint(height, 10)))

	type ranked struct {
		key  string
		dist [crypto.HashSize]byte
	}
	ranks := make([]ranked, len(validators))
	for i, v := range validators {
		ranks[i] = ranked{key: v.PublicKey, dist: xorDistance(crypto.Hash([]byte(v.PublicKey)), target)}
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].dist != ranks[j].dist {
			return less(ranks[i].dist, ranks[j].dist)
		}
		return ranks[i].key < ranks[j].key
	})

	idx := attempt % len(ranks)
	if idx < 0 {
		idx += len(ranks)
	}
	return ranks[idx].key
}

// attemptDeadline is the span each failover round gets before the network
// moves on to the next-nearest validator: the same p2p_interval * network
// size window armTimer uses for the phase timeout, so a timeout and an
// attempt boundary always coincide.
func attemptDeadline(p2pInterval time.Duration, networkSize int) time.Duration {
	if networkSize < 1 {
		networkSize = 1
	}
	return p2pInterval * time.Duration(networkSize)
}

// currentAttempt derives which failover round is active for the height
// following tip, purely from wall-clock time elapsed since tip committed.
// No election or coordination message is needed: every honest node's clock
// crosses each attempt boundary at essentially the same moment, so a dead
// attempt-0 proposer's window elapses everywhere at once and hands height
// tip.Height+1 to the next-nearest validator without anyone announcing it
// (§4.5's timeout rule — timeouts never commit, they only free up the next
// cycle for the next-eligible proposer).
func (f *Factory) currentAttempt(tip database.Block, networkSize int) int {
	deadline := attemptDeadline(f.cap.P2PInterval, networkSize).Milliseconds()
	if deadline <= 0 {
		return 0
	}
	elapsed := time.Now().UnixMilli() - tip.Timestamp
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / deadline)
}

func xorDistance(a, b [crypto.HashSize]byte) [crypto.HashSize]byte {
	var out [crypto.HashSize]byte
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func less(a, b [crypto.HashSize]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// =============================================================================
// candidate assembly

func (f *Factory) buildCandidate(height uint64, previous database.Block) database.Block {
	txs := f.cap.Mempool.PickBest(-1)
	database.SortTransactions(txs)

	block := database.Block{
		Version:      1,
		Height:       height,
		Timestamp:    time.Now().UnixMilli(),
		PreviousHash: previous.Hash,
		Tx:           txs,
	}
	block.Hash = block.ComputeHash()
	block.Origin = f.cap.Wallet.PublicKeyString()
	block.Sig = f.cap.Wallet.SignString([]byte(block.Hash))
	return block
}

// =============================================================================
// state transitions — every entry point below acquires f.mu and never
// blocks on network I/O while holding it; outbound sends happen after the
// lock is released or on a spawned goroutine.

// proposeOperations runs on its own goroutine, checking once per
// p2p_interval whether the local node is the current height's proposer.
func (f *Factory) proposeOperations() {
	f.cap.EvHandler("factory: proposeOperations: G started")
	defer f.cap.EvHandler("factory: proposeOperations: G completed")

	ticker := time.NewTicker(f.cap.P2PInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !f.isShutdown() {
				f.tryPropose()
			}
		case <-f.shut:
			return
		}
	}
}

// tryPropose checks proposer eligibility for the height following the
// current tip and, if eligible and idle, stacks and broadcasts a
// candidate (§4.5 transition 1).
func (f *Factory) tryPropose() {
	tip, ok := f.cap.Store.Tip()
	if !ok {
		return
	}
	height := tip.Height + 1
	snapshot := f.cap.Registry.Snapshot()
	attempt := f.currentAttempt(tip, len(snapshot))
	proposer := nearestValidator(tip.Hash, height, snapshot, attempt)
	self := f.cap.Wallet.PublicKeyString()

	if proposer != self {
		f.considerCredit(proposer)
		return
	}

	f.mu.Lock()
	if f.phase != PhaseIdle {
		f.mu.Unlock()
		return
	}
	candidate := f.buildCandidate(height, tip)
	f.candidate = candidate
	f.phase = PhaseSigning
	f.cap.Votes.Reset(candidate.Hash)
	f.cap.Votes.Add(candidate.Hash, database.Vote{
		Origin: self,
		Sig:    f.cap.Wallet.SignString([]byte(candidate.Hash)),
	})
	f.armTimer(len(snapshot))
	f.mu.Unlock()

	f.cap.EvHandler("factory: tryPropose: height[%d] attempt[%d] hash[%.8s]", height, attempt, candidate.Hash)
	if err := f.cap.Router.Send(message.KindPropose, "", message.ProposeData{Block: candidate}, f.cap.Wallet.SignString); err != nil {
		f.cap.EvHandler("factory: tryPropose: broadcast: ERROR: %s", err)
	}

	f.mu.Lock()
	f.checkQuorumLocked()
	f.mu.Unlock()
}

// considerCredit runs the stake-credit admission check against the
// validator that won this round's proposer race (§4.5's liveness aid).
func (f *Factory) considerCredit(proposer string) {
	self := f.cap.Wallet.PublicKeyString()
	if proposer == "" || proposer == self {
		return
	}
	quorum := f.cap.Registry.Quorum()
	if !f.cap.Credit.Admit(proposer, quorum) {
		return
	}
	f.cap.Credit.DecStakeCredit(proposer)
	f.mu.Lock()
	f.pending[proposer] = struct{}{}
	f.mu.Unlock()
}

// creditOperations periodically stacks any accumulated stake-credit
// decrements into a single ModifyStake transaction (§4.5's admission
// window).
func (f *Factory) creditOperations() {
	f.cap.EvHandler("factory: creditOperations: G started")
	defer f.cap.EvHandler("factory: creditOperations: G completed")

	ticker := time.NewTicker(f.cap.MorphInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !f.isShutdown() {
				f.stackCreditTransaction()
			}
		case <-f.shut:
			return
		}
	}
}

func (f *Factory) stackCreditTransaction() {
	f.mu.Lock()
	targets := make([]string, 0, len(f.pending))
	for t := range f.pending {
		targets = append(targets, t)
	}
	f.pending = make(map[string]struct{})
	f.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	cmds := make([]database.Command, 0, len(targets))
	var seq uint32 = 1
	for _, target := range targets {
		v, ok := f.cap.Registry.Get(target)
		if !ok {
			continue
		}
		stake := v.Stake - 1
		if stake < 0 {
			stake = 0
		}
		cmds = append(cmds, database.Command{Seq: seq, Kind: database.CommandModifyStake, PublicKey: target, Stake: stake})
		seq++
	}
	if len(cmds) == 0 {
		return
	}

	self := f.cap.Wallet.PublicKeyString()
	ident := fmt.Sprintf("credit-%s-%d", self, time.Now().UnixNano())
	tx := database.Transaction{
		Ident:     ident,
		Origin:    self,
		Timestamp: time.Now().UnixMilli(),
		Commands:  cmds,
	}
	tx.Sig = f.cap.Wallet.SignString(tx.SigningBytes())

	f.cap.Mempool.Upsert(tx)
	f.cap.EvHandler("factory: stackCreditTransaction: targets[%d]", len(cmds))
}

// handleTransaction admits a gossiped transaction into the local mempool
// after re-verifying it. A transaction whose origin is not currently a
// registry member is dropped unless it is exactly the bootstrap
// self-registration a joining node stacks for itself (§4.8): the Router
// admits Kind=tx from any signature-valid origin precisely so this one
// case can reach here, and everything else from a non-member is rejected
// right at this gate.
func (f *Factory) handleTransaction(env message.Envelope) error {
	var data message.TransactionData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return err
	}
	if err := data.Tx.Verify(); err != nil {
		return nil
	}
	if !f.cap.Registry.Contains(data.Tx.Origin) && !isSelfRegistration(data.Tx) {
		return nil
	}
	f.cap.Mempool.Upsert(data.Tx)
	return nil
}

// isSelfRegistration reports whether tx is a joining node's own bootstrap
// AddPeer command: exactly one command, adding a peer whose public key is
// the transaction's own origin. That is the one transaction shape §4.8
// allows a non-member to submit.
func isSelfRegistration(tx database.Transaction) bool {
	if len(tx.Commands) != 1 {
		return false
	}
	c := tx.Commands[0]
	return c.Kind == database.CommandAddPeer && c.PublicKey == tx.Origin
}

// handlePropose is §4.5 transition 2: a non-proposer receiving a Propose
// message.
func (f *Factory) handlePropose(env message.Envelope) error {
	var data message.ProposeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return err
	}
	block := data.Block

	tip, ok := f.cap.Store.Tip()
	if !ok {
		return nil
	}
	if block.Height != tip.Height+1 || block.PreviousHash != tip.Hash {
		return nil
	}
	if err := block.VerifySelf(); err != nil {
		return nil
	}

	snapshot := f.cap.Registry.Snapshot()
	attempt := f.currentAttempt(tip, len(snapshot))
	proposer := nearestValidator(tip.Hash, block.Height, snapshot, attempt)
	if block.Origin != proposer {
		// A propose can arrive just after the receiver's own clock rolled
		// over into the next attempt; accept the previous attempt's
		// proposer too so ordinary timer skew doesn't reject an honest
		// block outright.
		if attempt == 0 || block.Origin != nearestValidator(tip.Hash, block.Height, snapshot, attempt-1) {
			return nil
		}
	}

	f.mu.Lock()
	if f.phase != PhaseIdle {
		f.mu.Unlock()
		return nil
	}
	f.candidate = block
	f.phase = PhaseSigning
	f.cap.Votes.Reset(block.Hash)
	f.armTimer(len(snapshot))
	f.mu.Unlock()

	sig := f.cap.Wallet.SignString([]byte(block.Hash))
	f.cap.EvHandler("factory: handlePropose: height[%d] hash[%.8s]", block.Height, block.Hash)
	if err := f.cap.Router.Send(message.KindSign, block.Origin, message.SignData{Hash: block.Hash, Sig: sig}, f.cap.Wallet.SignString); err != nil {
		f.cap.EvHandler("factory: handlePropose: send sign: ERROR: %s", err)
	}
	return nil
}

// handleSign is half of §4.5 transition 3: the proposer accumulating
// votes for its own candidate.
func (f *Factory) handleSign(env message.Envelope) error {
	var data message.SignData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.phase != PhaseSigning || f.candidate.Hash != data.Hash {
		return nil
	}
	f.cap.Votes.Add(data.Hash, database.Vote{Origin: env.Origin, Sig: data.Sig})
	f.checkQuorumLocked()
	return nil
}

// checkQuorumLocked completes §4.5 transition 3 once the vote pool for
// the current candidate reaches stake-weighted quorum. f.mu must be held.
func (f *Factory) checkQuorumLocked() {
	if f.phase != PhaseSigning {
		return
	}
	votes := f.cap.Votes.Votes()
	sum, ok := f.cap.Registry.VerifyVotes(f.candidate.Hash, votes)
	if !ok {
		return
	}

	block := f.candidate
	block.Votes = votes
	f.phase = PhaseConfirming
	f.cap.EvHandler("factory: checkQuorumLocked: height[%d] hash[%.8s] stake[%d]", block.Height, block.Hash, sum)

	go func() {
		if err := f.cap.Router.Send(message.KindConfirm, "", message.ConfirmData{Block: block}, f.cap.Wallet.SignString); err != nil {
			f.cap.EvHandler("factory: checkQuorumLocked: broadcast confirm: ERROR: %s", err)
		}
	}()

	f.commitLocked(block)
}

// handleConfirm is §4.5 transition 4: every node re-verifies and, on
// success, commits. A block for a height already committed is a stale
// duplicate and dropped; a block for a height beyond tip+1 is §7's chain
// gap — it and anything already buffered ahead of it are held in
// pendingBlocks, and a Sync request goes out for the missing range,
// rather than being dropped outright the way a dead end would.
func (f *Factory) handleConfirm(env message.Envelope) error {
	var data message.ConfirmData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return err
	}
	block := data.Block

	f.mu.Lock()
	defer f.mu.Unlock()

	tip, ok := f.cap.Store.Tip()
	if !ok {
		return nil
	}

	if block.Height <= tip.Height {
		return nil
	}

	if block.Height > tip.Height+1 {
		if err := block.VerifySelf(); err == nil && len(f.pendingBlocks) < maxPendingBlocks {
			f.pendingBlocks[block.Height] = block
		}
		f.requestSyncLocked(tip.Height + 1)
		f.cap.EvHandler("factory: handleConfirm: chain gap: tip[%d] got[%d]", tip.Height, block.Height)
		return nil
	}

	if err := block.VerifySelf(); err != nil {
		return nil
	}
	if err := block.VerifyLinksTo(tip); err != nil {
		return nil
	}
	if _, ok := f.cap.Registry.VerifyVotes(block.Hash, block.Votes); !ok {
		return nil
	}

	f.commitLocked(block)
	f.drainPendingLocked()
	return nil
}

// drainPendingLocked applies every buffered block that now extends the
// tip, in height order, stopping at the first gap still remaining.
// f.mu must be held.
func (f *Factory) drainPendingLocked() {
	for {
		tip, ok := f.cap.Store.Tip()
		if !ok {
			return
		}
		next, buffered := f.pendingBlocks[tip.Height+1]
		if !buffered {
			return
		}
		delete(f.pendingBlocks, tip.Height+1)

		if err := next.VerifySelf(); err != nil {
			continue
		}
		if err := next.VerifyLinksTo(tip); err != nil {
			continue
		}
		if _, ok := f.cap.Registry.VerifyVotes(next.Hash, next.Votes); !ok {
			continue
		}
		f.commitLocked(next)
	}
}

// requestSyncLocked broadcasts a Sync request for every height from
// fromHeight onward, §7's chain-gap trigger. Throttled to one outstanding
// request per P2PInterval so a run of gap Confirms arriving before a
// reply comes back doesn't flood the network. f.mu must be held; the
// request itself is sent from a goroutine so the round-trip never blocks
// the state machine.
func (f *Factory) requestSyncLocked(fromHeight uint64) {
	now := time.Now()
	if f.syncRequestedAt.Add(f.cap.P2PInterval).After(now) {
		return
	}
	f.syncRequestedAt = now

	data := message.SyncData{FromHeight: fromHeight}
	go func() {
		if err := f.cap.Router.Send(message.KindSync, "", data, f.cap.Wallet.SignString); err != nil {
			f.cap.EvHandler("factory: requestSync: broadcast: ERROR: %s", err)
		}
	}()
	f.cap.EvHandler("factory: requestSync: fromHeight[%d]", fromHeight)
}

// handleSync answers a peer's request for a height range with the blocks
// it has, or, for a reply carrying Blocks, applies them to catch the
// local chain up (§4.6, §7). This is the one message kind that legitimately
// runs both directions through the same handler.
func (f *Factory) handleSync(env message.Envelope) error {
	var data message.SyncData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return err
	}

	if data.Blocks != nil {
		f.applySyncedBlocks(data.Blocks)
		return nil
	}

	tip, ok := f.cap.Store.Tip()
	if !ok || data.FromHeight > tip.Height {
		return nil
	}
	to := data.ToHeight
	if to == 0 || to > tip.Height {
		to = tip.Height
	}

	blocks, err := f.cap.Store.Range(data.FromHeight, to, 0)
	if err != nil || len(blocks) == 0 {
		return nil
	}

	resp := message.SyncData{FromHeight: data.FromHeight, ToHeight: to, Blocks: blocks}
	go func() {
		if err := f.cap.Router.Send(message.KindSync, env.Origin, resp, f.cap.Wallet.SignString); err != nil {
			f.cap.EvHandler("factory: handleSync: reply to %s: ERROR: %s", env.Origin, err)
		}
	}()
	return nil
}

// applySyncedBlocks commits every block a Sync reply carries that extends
// the local tip, buffering any that still land ahead of a remaining gap,
// then drains whatever that newly unblocks.
func (f *Factory) applySyncedBlocks(blocks []database.Block) {
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Height < blocks[j].Height })

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, block := range blocks {
		tip, ok := f.cap.Store.Tip()
		if !ok {
			return
		}
		if block.Height <= tip.Height {
			continue
		}
		if block.Height > tip.Height+1 {
			if err := block.VerifySelf(); err == nil && len(f.pendingBlocks) < maxPendingBlocks {
				f.pendingBlocks[block.Height] = block
			}
			continue
		}
		if err := block.VerifySelf(); err != nil {
			continue
		}
		if err := block.VerifyLinksTo(tip); err != nil {
			continue
		}
		if _, ok := f.cap.Registry.VerifyVotes(block.Hash, block.Votes); !ok {
			continue
		}
		f.commitLocked(block)
	}

	f.drainPendingLocked()
}

// commitLocked appends block, folds it into the registry, clears
// pool/candidate state, and emits it on the block feed. f.mu must be
// held.
func (f *Factory) commitLocked(block database.Block) {
	if err := f.cap.Store.Append(block); err != nil {
		f.cap.EvHandler("factory: commitLocked: FATAL: append: %s", err)
		return
	}
	f.cap.Registry.Apply(block)
	f.cap.Mempool.DeleteCommitted(block)

	self := f.cap.Wallet.PublicKeyString()
	if block.Origin != self {
		f.cap.Credit.IncStakeCredit(block.Origin)
	}

	if f.cap.Feed != nil {
		select {
		case f.cap.Feed <- block:
		default:
			f.cap.EvHandler("factory: commitLocked: feed full, dropping height[%d]", block.Height)
		}
	}

	f.stopTimerLocked()
	f.phase = PhaseIdle
	f.candidate = database.Block{}
	f.cap.Votes.Reset("")
	f.cap.EvHandler("factory: commitLocked: height[%d] hash[%.8s]", block.Height, block.Hash)
}

// =============================================================================
// phase timeout

func (f *Factory) armTimer(networkSize int) {
	f.stopTimerLocked()
	f.timer = time.AfterFunc(attemptDeadline(f.cap.P2PInterval, networkSize), f.onTimeout)
}

func (f *Factory) stopTimerLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

// onTimeout resets to Idle on phase expiry (§4.5's timeout rule: timeouts
// never commit, they only free up the next cycle for the next-eligible
// proposer).
func (f *Factory) onTimeout() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.phase == PhaseIdle {
		return
	}
	f.cap.EvHandler("factory: onTimeout: phase[%s] height[%d]", f.phase, f.candidate.Height)
	f.phase = PhaseIdle
	f.candidate = database.Block{}
	f.timer = nil
}
