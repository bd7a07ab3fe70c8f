package mid

import (
	"context"
	"net/http"
	"time"

	"github.com/diva-exchange/divachain/foundation/web"
	"go.uber.org/zap"
)

// Logger writes two entries for every request: one before the handler
// runs, and one after it returns that includes the status code and how
// long the request took.
func Logger(log *zap.SugaredLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			v, err := web.GetValues(ctx)
			if err != nil {
				return web.ErrNoValues
			}

			log.Infow("request started", "traceid", v.TraceID, "method", r.Method, "path", r.URL.Path, "remoteaddr", r.RemoteAddr)

			err = handler(ctx, w, r)

			log.Infow("request completed", "traceid", v.TraceID, "method", r.Method, "path", r.URL.Path,
				"statuscode", v.StatusCode, "since", time.Since(v.Now))

			return err
		}
		return h
	}
	return m
}
