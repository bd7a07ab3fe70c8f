package public

import (
	"net/http"

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

// Config contains all the mandatory systems required by the public handlers.
type Config struct {
	Log      *zap.SugaredLogger
	Wallet   *wallet.Wallet
	Factory  *factory.Factory
	Registry *registry.Registry
	Store    *database.Store
	Mempool  *mempool.Mempool
	Votes    *votepool.Pool
	Credit   *credit.Scheduler
	Evts     *events.Events
}

// Routes binds all the public routes. mutating gates any handler that
// changes node state, per the diva-api-token requirement.
func Routes(app *web.App, cfg Config, mutating web.Middleware) {
	pbl := Handlers{
		Log:      cfg.Log,
		Wallet:   cfg.Wallet,
		Factory:  cfg.Factory,
		Registry: cfg.Registry,
		Store:    cfg.Store,
		Mempool:  cfg.Mempool,
		Votes:    cfg.Votes,
		Credit:   cfg.Credit,
		WS:       websocket.Upgrader{},
		Evts:     cfg.Evts,
	}

	const version = "v1"

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/block/:selector", pbl.Block)
	app.Handle(http.MethodGet, version, "/blocks", pbl.Blocks)
	app.Handle(http.MethodGet, version, "/blocks/page/:page", pbl.BlocksPage)
	app.Handle(http.MethodGet, version, "/peers", pbl.Peers)
	app.Handle(http.MethodGet, version, "/network", pbl.Network)
	app.Handle(http.MethodGet, version, "/state", pbl.State)
	app.Handle(http.MethodGet, version, "/state/:selector", pbl.State)
	app.Handle(http.MethodGet, version, "/pool/:kind", pbl.Pool)
	app.Handle(http.MethodGet, version, "/stack/transactions", pbl.StackTransactions)

	app.Handle(http.MethodPut, version, "/transaction", pbl.SubmitTransaction, mutating)
}
