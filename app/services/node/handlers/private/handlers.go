// Package private maintains the group of node-to-node handlers: chain
// catch-up for bootstrap, status, and the consensus message inbox that
// backs transport.HTTP on the receiving end.
package private

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/diva-exchange/divachain/business/web/errs"
	"github.com/diva-exchange/divachain/foundation/blockchain/database"
	"github.com/diva-exchange/divachain/foundation/blockchain/factory"
	"github.com/diva-exchange/divachain/foundation/blockchain/message"
	"github.com/diva-exchange/divachain/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node-to-node endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	Store   *database.Store
	Factory *factory.Factory
	Router  *message.Router
}

// Message accepts a raw envelope posted by transport.HTTP and hands it to
// the local router for verification and dispatch.
func (h Handlers) Message(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("reading message body: %w", err), http.StatusBadRequest)
	}

	if err := h.Router.Receive(raw); err != nil {
		return errs.NewTrusted(fmt.Errorf("rejected message: %w", err), http.StatusBadRequest)
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// BlocksByNumber returns every block with height in [from, to], the HTTP
// counterpart bootstrap's PeerFetcher calls into on a remote node.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := strconv.ParseUint(web.Param(r, "from"), 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	to, err := strconv.ParseUint(web.Param(r, "to"), 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	blocks, err := h.Store.Range(from, to, 0)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// Status returns the current tip and consensus phase, used by an operator
// polling a specific node directly rather than through the public API.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	tip, _ := h.Store.Tip()

	status := struct {
		Height uint64 `json:"height"`
		Hash   string `json:"hash"`
		Phase  string `json:"phase"`
	}{
		Height: tip.Height,
		Hash:   tip.Hash,
		Phase:  h.Factory.Phase().String(),
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}
