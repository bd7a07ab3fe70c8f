package mid

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/diva-exchange/divachain/foundation/web"
)

// Panics recovers from panics inside a handler and converts the panic into
// an error so it is reported the same way any other error would be.
func Panics() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("panic: %v: %s", rec, debug.Stack())
				}
			}()

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
