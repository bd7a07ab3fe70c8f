// Package public maintains the group of externally reachable handlers:
// submitting transactions, and reading blocks, peers, network and pool
// state.
package public

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/diva-exchange/divachain/business/web/errs"
	"github.com/diva-exchange/divachain/foundation/blockchain/credit"
	"github.com/diva-exchange/divachain/foundation/blockchain/database"
	"github.com/diva-exchange/divachain/foundation/blockchain/factory"
	"github.com/diva-exchange/divachain/foundation/blockchain/mempool"
	"github.com/diva-exchange/divachain/foundation/blockchain/registry"
	"github.com/diva-exchange/divachain/foundation/blockchain/votepool"
	"github.com/diva-exchange/divachain/foundation/blockchain/wallet"
	"github.com/diva-exchange/divachain/foundation/events"
	"github.com/diva-exchange/divachain/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of externally reachable endpoints.
type Handlers struct {
	Log      *zap.SugaredLogger
	Wallet   *wallet.Wallet
	Factory  *factory.Factory
	Registry *registry.Registry
	Store    *database.Store
	Mempool  *mempool.Mempool
	Votes    *votepool.Pool
	Credit   *credit.Scheduler
	WS       websocket.Upgrader
	Evts     *events.Events
}

// SubmitTransaction accepts a command list (and an optional caller-chosen
// ident), wraps them into a signed transaction on behalf of this node, and
// hands it to the factory. This is stack(commands, ident) from §4.4: seq is
// assigned sequentially over the given commands, an empty ident is replaced
// with a fresh one, and a transaction already pending under the same
// (origin, ident) is rejected rather than silently replaced.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req submitTransactionRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusForbidden)
	}

	origin := h.Wallet.PublicKeyString()
	ident := req.Ident
	if ident == "" {
		ident = database.NewIdent()
	}
	if pending, ok := h.Mempool.Pending(origin); ok && pending == ident {
		return errs.NewTrusted(fmt.Errorf("transaction %q already pending", ident), http.StatusForbidden)
	}

	cmds := make([]database.Command, len(req.Commands))
	copy(cmds, req.Commands)
	for i := range cmds {
		cmds[i].Seq = uint32(i + 1)
	}

	tx := database.Transaction{
		Ident:     ident,
		Origin:    origin,
		Timestamp: time.Now().UnixMilli(),
		Commands:  cmds,
	}
	tx.Sig = h.Wallet.SignString(tx.SigningBytes())

	if err := tx.Verify(); err != nil {
		return errs.NewTrusted(fmt.Errorf("invalid transaction: %w", err), http.StatusForbidden)
	}

	if !h.Factory.SubmitTransaction(tx) {
		return errs.NewTrusted(fmt.Errorf("transaction rejected"), http.StatusForbidden)
	}

	return web.Respond(ctx, w, transactionResponse{Ident: tx.Ident}, http.StatusOK)
}

// Block returns a single block by "genesis", "latest", or a numeric height.
func (h Handlers) Block(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	sel := web.Param(r, "selector")

	var (
		block database.Block
		err   error
	)
	switch sel {
	case "genesis":
		block, err = h.Store.Genesis()
	case "latest":
		var ok bool
		block, ok = h.Store.Tip()
		if !ok {
			err = database.ErrNotFound
		}
	default:
		var height uint64
		height, err = strconv.ParseUint(sel, 10, 64)
		if err == nil {
			block, err = h.Store.GetByHeight(height)
		}
	}
	if err != nil {
		return errs.NewTrusted(err, http.StatusNotFound)
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}

// Blocks returns a range of blocks bounded by gte/lte query parameters and
// an optional limit.
func (h Handlers) Blocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := parseQueryUint(r, "gte", 0)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	to, err := parseQueryUint(r, "lte", ^uint64(0))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		limit = n
	}

	blocks, err := h.Store.Range(from, to, limit)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// BlocksPage returns a page of blocks counting back from the tip, size
// blocks per page, page 0 being the most recent.
func (h Handlers) BlocksPage(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	page, err := strconv.ParseUint(web.Param(r, "page"), 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	size := 20
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		size = n
	}

	tip, ok := h.Store.TipHeight()
	if !ok {
		return web.Respond(ctx, w, []database.Block{}, http.StatusOK)
	}

	hi := int64(tip) - int64(page)*int64(size)
	lo := hi - int64(size) + 1
	if hi < 0 {
		return web.Respond(ctx, w, []database.Block{}, http.StatusOK)
	}
	if lo < 0 {
		lo = 0
	}

	blocks, err := h.Store.Range(uint64(lo), uint64(hi), size)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// Peers returns the current validator registry snapshot.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	snapshot := h.Registry.Snapshot()

	views := make([]peerView, len(snapshot))
	for i, v := range snapshot {
		views[i] = peerView{PublicKey: v.PublicKey, Host: v.Host, Port: v.Port, Stake: v.Stake}
	}

	return web.Respond(ctx, w, views, http.StatusOK)
}

// Network returns aggregate registry and tip information.
func (h Handlers) Network(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	snapshot := h.Registry.Snapshot()
	views := make([]peerView, len(snapshot))
	for i, v := range snapshot {
		views[i] = peerView{PublicKey: v.PublicKey, Host: v.Host, Port: v.Port, Stake: v.Stake}
	}

	tip, _ := h.Store.Tip()

	view := networkView{
		Size:    len(snapshot),
		Quorum:  h.Registry.Quorum(),
		Total:   h.Registry.Total(),
		Peers:   views,
		Height:  tip.Height,
		TipHash: tip.Hash,
	}

	return web.Respond(ctx, w, view, http.StatusOK)
}

// State returns this node's own consensus state, or, when a peer:<pk>
// suffix is supplied, that peer's last-known registry entry.
func (h Handlers) State(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	sel := web.Param(r, "selector")

	if strings.HasPrefix(sel, "peer:") {
		pk := strings.TrimPrefix(sel, "peer:")
		v, ok := h.Registry.Get(pk)
		if !ok {
			return errs.NewTrusted(fmt.Errorf("unknown peer"), http.StatusNotFound)
		}
		return web.Respond(ctx, w, peerView{PublicKey: v.PublicKey, Host: v.Host, Port: v.Port, Stake: v.Stake}, http.StatusOK)
	}

	tip, _ := h.Store.Tip()

	view := stateView{
		PublicKey: h.Wallet.PublicKeyString(),
		Phase:     h.Factory.Phase().String(),
		Height:    tip.Height,
		TipHash:   tip.Hash,
	}

	return web.Respond(ctx, w, view, http.StatusOK)
}

// Pool returns the requested pool's contents: "transactions", "votes", or
// "commits".
func (h Handlers) Pool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	switch web.Param(r, "kind") {
	case "transactions":
		return web.Respond(ctx, w, poolTransactionsView{Transactions: h.Mempool.Copy()}, http.StatusOK)

	case "votes":
		votes := h.Votes.Votes()
		return web.Respond(ctx, w, poolVotesView{Hash: h.Votes.Hash(), Votes: votes, Count: len(votes)}, http.StatusOK)

	case "commits":
		tip, _ := h.Store.Tip()
		return web.Respond(ctx, w, poolCommitsView{Height: tip.Height, Phase: h.Factory.Phase().String()}, http.StatusOK)

	default:
		return errs.NewTrusted(fmt.Errorf("unknown pool %q", web.Param(r, "kind")), http.StatusNotFound)
	}
}

// StackTransactions returns the stake-credit scheduler's pending targets.
func (h Handlers) StackTransactions(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, stackView{Targets: h.Credit.Targets()}, http.StatusOK)
}

// Events streams every newly committed block as canonical JSON over a
// websocket, one message per commit, with a ping keepalive.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.ErrNoValues
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

func parseQueryUint(r *http.Request, key string, def uint64) (uint64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.ParseUint(v, 10, 64)
}
