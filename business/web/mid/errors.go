package mid

import (
	"context"
	"errors"
	"net/http"

	"github.com/diva-exchange/divachain/business/web/errs"
	"github.com/diva-exchange/divachain/foundation/blockchain/factory"
	"github.com/diva-exchange/divachain/foundation/web"
	"go.uber.org/zap"
)

// Errors handles errors coming out of the call chain. It detects normal
// application errors which are used to respond to the client in a uniform
// way. Unexpected errors (status code 500) are logged.
func Errors(log *zap.SugaredLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			v, err := web.GetValues(ctx)
			if err != nil {
				return web.ErrNoValues
			}

			if err := handler(ctx, w, r); err != nil {
				log.Errorw("ERROR", "traceid", v.TraceID, "ERROR", err)

				var status int
				switch {
				case errs.IsTrusted(err):
					status = errs.GetTrusted(err).Status
				case isValidationError(err):
					status = http.StatusForbidden
				default:
					status = http.StatusInternalServerError
				}

				resp := errs.Response{Error: err.Error()}
				if err := web.Respond(ctx, w, resp, status); err != nil {
					return err
				}
			}

			return nil
		}
		return h
	}
	return m
}

func isValidationError(err error) bool {
	var ve *factory.ValidationError
	return errors.As(err, &ve)
}
