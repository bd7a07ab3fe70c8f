package factory_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/diva-exchange/divachain/foundation/blockchain/credit"
	"github.com/diva-exchange/divachain/foundation/blockchain/database"
	"github.com/diva-exchange/divachain/foundation/blockchain/factory"
	"github.com/diva-exchange/divachain/foundation/blockchain/mempool"
	"github.com/diva-exchange/divachain/foundation/blockchain/message"
	"github.com/diva-exchange/divachain/foundation/blockchain/registry"
	"github.com/diva-exchange/divachain/foundation/blockchain/votepool"
	"github.com/diva-exchange/divachain/foundation/blockchain/wallet"
)

const (
	success = "✓"
	failed  = "✗"
)

// fakeNetwork is an in-process fake fabric connecting several Router
// instances, grounded on the pattern of standing up several node
// instances against a shared in-process network rather than real
// sockets.
type fakeNetwork struct {
	mu      sync.Mutex
	routers map[string]*message.Router
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{routers: make(map[string]*message.Router)}
}

func (n *fakeNetwork) register(id string, r *message.Router) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routers[id] = r
}

func (n *fakeNetwork) transportFor(self string) message.Transport {
	return &fakeTransport{net: n, self: self}
}

// partition removes id's router from the network so nothing addressed to
// it is delivered, simulating a node dropping off the gossip layer. It
// returns the router so a later heal can restore it.
func (n *fakeNetwork) partition(id string) *message.Router {
	n.mu.Lock()
	defer n.mu.Unlock()
	r := n.routers[id]
	delete(n.routers, id)
	return r
}

// heal restores a previously partitioned router under id.
func (n *fakeNetwork) heal(id string, r *message.Router) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routers[id] = r
}

type fakeTransport struct {
	net  *fakeNetwork
	self string
}

func (t *fakeTransport) Send(dest string, raw []byte) error {
	t.net.mu.Lock()
	targets := make(map[string]*message.Router, len(t.net.routers))
	for k, v := range t.net.routers {
		targets[k] = v
	}
	t.net.mu.Unlock()

	if dest != "" {
		if r, ok := targets[dest]; ok {
			go r.Receive(raw)
		}
		return nil
	}
	for id, r := range targets {
		if id == t.self {
			continue
		}
		go r.Receive(raw)
	}
	return nil
}

// harnessNode bundles one simulated validator's full stack.
type harnessNode struct {
	wallet *wallet.Wallet
	store  *database.Store
	reg    *registry.Registry
	fac    *factory.Factory
	feed   chan database.Block
	net    *fakeNetwork
}

// goOffline cuts this node off from the fake network's inbound delivery,
// returning the router to hand back to comeOnline later.
func (h *harnessNode) goOffline() *message.Router {
	return h.net.partition(h.wallet.PublicKeyString())
}

// comeOnline restores inbound delivery for a router previously taken
// offline by goOffline.
func (h *harnessNode) comeOnline(r *message.Router) {
	h.net.heal(h.wallet.PublicKeyString(), r)
}

func buildHarness(t *testing.T, n int, dead ...int) ([]*harnessNode, database.Block) {
	t.Helper()
	dir := t.TempDir()
	net := newFakeNetwork()

	wallets := make([]*wallet.Wallet, n)
	for i := range wallets {
		w, err := wallet.Generate(dir, fmt.Sprintf("v%d", i))
		if err != nil {
			t.Fatalf("\t%s\tgenerate wallet %d: %s", failed, i, err)
		}
		wallets[i] = w
	}

	founder := wallets[0]
	cmds := make([]database.Command, 0, 2*n)
	var seq uint32 = 1
	for i, w := range wallets {
		cmds = append(cmds, database.Command{
			Seq: seq, Kind: database.CommandAddPeer,
			Host: fmt.Sprintf("node%d", i), Port: uint16(9000 + i), PublicKey: w.PublicKeyString(),
		})
		seq++
		cmds = append(cmds, database.Command{
			Seq: seq, Kind: database.CommandModifyStake, PublicKey: w.PublicKeyString(), Stake: 10,
		})
		seq++
	}
	genesisTx := database.Transaction{
		Ident:     "genesis-tx",
		Origin:    founder.PublicKeyString(),
		Timestamp: 1,
		Commands:  cmds,
	}
	genesisTx.Sig = founder.SignString(genesisTx.SigningBytes())
	genesis := database.Block{Height: 0, Tx: []database.Transaction{genesisTx}}
	genesis.Hash = genesis.ComputeHash()

	nodes := make([]*harnessNode, n)
	for i, w := range wallets {
		store, err := database.Open(database.NewMemStore())
		if err != nil {
			t.Fatalf("\t%s\topen store %d: %s", failed, i, err)
		}
		if err := store.InitGenesis(genesis); err != nil {
			t.Fatalf("\t%s\tinit genesis %d: %s", failed, i, err)
		}
		reg := registry.New()
		reg.Apply(genesis)

		router := message.NewRouter(w.PublicKeyString(), net.transportFor(w.PublicKeyString()), reg.Contains)
		net.register(w.PublicKeyString(), router)

		feed := make(chan database.Block, 16)
		fac, err := factory.New(factory.Capabilities{
			Wallet:      w,
			Router:      router,
			Registry:    reg,
			Store:       store,
			Mempool:     mempool.New(),
			Votes:       votepool.New(),
			Credit:      credit.New(),
			Feed:        feed,
			NetworkSize: n,
			P2PInterval: 15 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("\t%s\tnew factory %d: %s", failed, i, err)
		}

		nodes[i] = &harnessNode{wallet: w, store: store, reg: reg, fac: fac, feed: feed, net: net}
	}

	deadIdx := make(map[int]bool, len(dead))
	for _, i := range dead {
		deadIdx[i] = true
	}
	for i, node := range nodes {
		if deadIdx[i] {
			continue
		}
		node.fac.Run()
	}
	t.Cleanup(func() {
		for i, node := range nodes {
			if deadIdx[i] {
				continue
			}
			node.fac.Shutdown()
		}
	})

	return nodes, genesis
}

// TestScenarioSingleBlockCommit is scenario A: a network of validators
// with equal stake commits a submitted transaction to identical tip
// hashes within one propose/sign/confirm cycle.
func TestScenarioSingleBlockCommit(t *testing.T) {
	nodes, _ := buildHarness(t, 5)

	tx := database.Transaction{
		Ident:     "abc123",
		Origin:    nodes[0].wallet.PublicKeyString(),
		Timestamp: 1000,
		Commands: []database.Command{
			{Seq: 1, Kind: database.CommandData, NS: "t", Base64url: "YWJj"},
		},
	}
	tx.Sig = nodes[0].wallet.SignString(tx.SigningBytes())

	t.Log("Given the need for a network of validators to agree on one committed block.")
	{
		t.Logf("\tTest 0:\tWhen a transaction is submitted at one node.")
		{
			nodes[0].fac.SubmitTransaction(tx)

			deadline := time.After(2 * time.Second)
			committed := 0
			for committed < len(nodes) {
				select {
				case <-nodes[committed].feed:
					committed++
				case <-deadline:
					t.Fatalf("\t%s\ttimed out waiting for all nodes to commit height 1, got %d/%d.", failed, committed, len(nodes))
				}
			}
			t.Logf("\t%s\tall nodes observed a commit on the block feed.", success)
		}

		t.Logf("\tTest 1:\tWhen comparing every node's tip hash.")
		{
			first, _ := nodes[0].store.Tip()
			for i, node := range nodes {
				tip, ok := node.store.Tip()
				if !ok || tip.Height != 1 {
					t.Fatalf("\t%s\tnode %d did not reach height 1.", failed, i)
				}
				if tip.Hash != first.Hash {
					t.Fatalf("\t%s\tnode %d tip hash diverged from node 0.", failed, i)
				}
			}
			t.Logf("\t%s\tidentical tip hashes across all nodes.", success)
		}
	}
}

// TestScenarioAdversarialVote is scenario C: a Sign message signed by a
// key outside the registry must never count toward quorum.
func TestScenarioAdversarialVote(t *testing.T) {
	nodes, genesis := buildHarness(t, 5)

	outsider, err := wallet.Generate(t.TempDir(), "outsider")
	if err != nil {
		t.Fatalf("\t%s\tgenerate outsider: %s", failed, err)
	}

	t.Log("Given a Sign message signed by a key outside the registry.")
	{
		t.Logf("\tTest 0:\tWhen the registry evaluates a vote set containing only the outsider's signature.")
		{
			hash := "candidate"
			reg := nodes[0].reg
			votes := []database.Vote{
				{Origin: outsider.PublicKeyString(), Sig: outsider.SignString([]byte(hash))},
			}
			sum, ok := reg.VerifyVotes(hash, votes)
			if ok || sum != 0 {
				t.Fatalf("\t%s\toutsider-only votes must never reach quorum, got sum=%d ok=%v.", failed, sum, ok)
			}
			t.Logf("\t%s\toutsider vote excluded from quorum.", success)
		}
	}

	_ = genesis
}

// TestScenarioProposerFailover is scenario B: when the validator nearest
// the height's target hash never proposes, the network still commits by
// handing the round to the next-nearest validator once its attempt window
// elapses. Which of the n validators is nearest depends on the genesis
// hash, so this runs once per candidate index — exactly one run kills the
// true attempt-0 proposer and exercises the failover path; the rest commit
// immediately and merely confirm a dead non-proposer changes nothing.
func TestScenarioProposerFailover(t *testing.T) {
	const n = 4

	t.Log("Given a network where one validator never proposes.")
	{
		for dead := 0; dead < n; dead++ {
			t.Logf("\tTest %d:\tWhen validator %d is unresponsive.", dead, dead)
			{
				nodes, _ := buildHarness(t, n, dead)

				var origin *harnessNode
				for i, node := range nodes {
					if i != dead {
						origin = node
						break
					}
				}

				tx := database.Transaction{
					Ident:     "failover-tx",
					Origin:    origin.wallet.PublicKeyString(),
					Timestamp: 1000,
					Commands: []database.Command{
						{Seq: 1, Kind: database.CommandData, NS: "t", Base64url: "YWJj"},
					},
				}
				tx.Sig = origin.wallet.SignString(tx.SigningBytes())
				origin.fac.SubmitTransaction(tx)

				live := make([]*harnessNode, 0, n-1)
				for i, node := range nodes {
					if i != dead {
						live = append(live, node)
					}
				}

				deadline := time.After(2 * time.Second)
				remaining := make(map[int]bool, len(live))
				for i := range live {
					remaining[i] = true
				}
				for len(remaining) > 0 {
					committedThisRound := false
					for i, node := range live {
						if !remaining[i] {
							continue
						}
						select {
						case <-node.feed:
							delete(remaining, i)
							committedThisRound = true
						default:
						}
					}
					if committedThisRound {
						continue
					}
					select {
					case <-deadline:
						t.Fatalf("\t%s\ttimed out waiting for all live nodes to commit height 1, %d still pending.", failed, len(remaining))
					case <-time.After(5 * time.Millisecond):
					}
				}
				t.Logf("\t%s\tevery live node committed height 1 despite validator %d being down.", success, dead)
			}
		}
	}
}

// TestScenarioChainGapRecovery exercises §7's chain-gap recovery: a node
// that falls behind while offline must not drop every future Confirm
// forever once it rejoins. It buffers the out-of-range block, requests a
// Sync round trip, and catches all the way up, resuming consensus
// alongside the rest of the network.
func TestScenarioChainGapRecovery(t *testing.T) {
	nodes, _ := buildHarness(t, 4)

	stack := func(origin *harnessNode, ident string) {
		tx := database.Transaction{
			Ident:     ident,
			Origin:    origin.wallet.PublicKeyString(),
			Timestamp: 1000,
			Commands: []database.Command{
				{Seq: 1, Kind: database.CommandData, NS: "t", Base64url: "YWJj"},
			},
		}
		tx.Sig = origin.wallet.SignString(tx.SigningBytes())
		origin.fac.SubmitTransaction(tx)
	}

	waitHeight := func(node *harnessNode, height uint64, deadline time.Duration) bool {
		until := time.After(deadline)
		for {
			if tip, ok := node.store.Tip(); ok && tip.Height >= height {
				return true
			}
			select {
			case <-until:
				return false
			case <-time.After(5 * time.Millisecond):
			}
		}
	}

	t.Log("Given a node that falls behind while partitioned from the network.")
	{
		t.Logf("\tTest 0:\tWhen the network commits height 1 with every node present.")
		{
			stack(nodes[0], "gap-tx-1")
			for i, node := range nodes {
				if !waitHeight(node, 1, 2*time.Second) {
					t.Fatalf("\t%s\tnode %d never reached height 1.", failed, i)
				}
			}
			t.Logf("\t%s\tall nodes reached height 1.", success)
		}

		laggard := nodes[3]
		var offlineRouter *message.Router

		t.Logf("\tTest 1:\tWhen one node goes offline and the rest commit two more heights.")
		{
			offlineRouter = laggard.goOffline()

			stack(nodes[0], "gap-tx-2")
			for i, node := range nodes {
				if node == laggard {
					continue
				}
				if !waitHeight(node, 2, 2*time.Second) {
					t.Fatalf("\t%s\tnode %d never reached height 2.", failed, i)
				}
			}

			stack(nodes[0], "gap-tx-3")
			for i, node := range nodes {
				if node == laggard {
					continue
				}
				if !waitHeight(node, 3, 2*time.Second) {
					t.Fatalf("\t%s\tnode %d never reached height 3.", failed, i)
				}
			}
			t.Logf("\t%s\tlive nodes reached height 3 without the offline node.", success)
		}

		t.Logf("\tTest 2:\tWhen the offline node rejoins and a further Confirm arrives ahead of its tip.")
		{
			laggard.comeOnline(offlineRouter)

			stack(nodes[0], "gap-tx-4")
			if !waitHeight(laggard, 4, 2*time.Second) {
				tip, _ := laggard.store.Tip()
				t.Fatalf("\t%s\tlaggard never caught up to height 4, stuck at height %d.", failed, tip.Height)
			}
			for i, node := range nodes {
				if !waitHeight(node, 4, 2*time.Second) {
					t.Fatalf("\t%s\tnode %d never reached height 4.", failed, i)
				}
			}
			t.Logf("\t%s\tformerly offline node closed the gap and rejoined consensus.", success)
		}
	}
}
