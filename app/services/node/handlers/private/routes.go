package private

import (
	"net/http"

	"github.com/diva-exchange/divachain/foundation/blockchain/database"
	"github.com/diva-exchange/divachain/foundation/blockchain/factory"
	"github.com/diva-exchange/divachain/foundation/blockchain/message"
	"github.com/diva-exchange/divachain/foundation/web"
	"go.uber.org/zap"
)

// Config contains all the mandatory systems required by the private handlers.
type Config struct {
	Log     *zap.SugaredLogger
	Store   *database.Store
	Factory *factory.Factory
	Router  *message.Router
}

// Routes binds all the private routes.
func Routes(app *web.App, cfg Config) {
	prv := Handlers{
		Log:     cfg.Log,
		Store:   cfg.Store,
		Factory: cfg.Factory,
		Router:  cfg.Router,
	}

	const version = "v1"

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/blocks/:from/:to", prv.BlocksByNumber)
	app.Handle(http.MethodPost, version, "/node/message", prv.Message)
}
