// Package bootstrap drives a node's initial chain synchronization and
// self-registration (§4.8). It runs once at startup, before the factory
// is allowed to propose, generalizing the teacher's always-on periodic
// sync into a one-shot gate.
package bootstrap

import (
	"fmt"

	"github.com/diva-exchange/divachain/foundation/blockchain/database"
	"github.com/diva-exchange/divachain/foundation/blockchain/message"
	"github.com/diva-exchange/divachain/foundation/blockchain/peer"
	"github.com/diva-exchange/divachain/foundation/blockchain/registry"
)

// EventHandler receives a trace message for every step, the same shape
// used across the module.
type EventHandler func(v string, args ...any)

// PeerFetcher retrieves the block range [from, to] from a specific known
// peer, an abstraction over whatever HTTP client the caller wires in so
// this package stays free of transport concerns.
type PeerFetcher interface {
	FetchBlocks(p peer.Peer, from, to uint64) ([]database.Block, error)
}

// Sync pulls every block the local store is missing, in height order,
// from the first known peer that has them, applying each to store and reg
// as it goes. It is grounded on the teacher's worker.Sync "query status,
// pull missing blocks, apply in order" loop, generalized from a periodic
// tick to a one-shot startup gate.
func Sync(store *database.Store, reg *registry.Registry, peers []peer.Peer, fetcher PeerFetcher, evHandler EventHandler) error {
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}

	tip, ok := store.Tip()
	if !ok {
		return fmt.Errorf("bootstrap: store has no genesis")
	}

	for _, p := range peers {
		blocks, err := fetcher.FetchBlocks(p, tip.Height+1, ^uint64(0))
		if err != nil {
			evHandler("bootstrap: sync: fetch from %s: ERROR: %s", p.Host, err)
			continue
		}
		for _, block := range blocks {
			if err := store.Append(block); err != nil {
				evHandler("bootstrap: sync: append height[%d]: ERROR: %s", block.Height, err)
				return err
			}
			reg.Apply(block)
			evHandler("bootstrap: sync: applied height[%d]", block.Height)
		}
		if len(blocks) > 0 {
			break
		}
	}

	return nil
}

// SelfRegister broadcasts an AddPeer transaction for self, signed by
// signer (the node's own wallet). The caller is expected to poll
// reg.Contains(selfPublicKey) afterward and gate proposing until it
// returns true, per §4.8's stronger startup requirement.
func SelfRegister(router *message.Router, tx database.Transaction, signer func([]byte) string) error {
	return router.Send(message.KindTransaction, "", message.TransactionData{Tx: tx}, signer)
}
