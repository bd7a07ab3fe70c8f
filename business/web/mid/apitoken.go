package mid

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/diva-exchange/divachain/business/web/errs"
	"github.com/diva-exchange/divachain/foundation/web"
)

// APIToken requires the diva-api-token header to match the token stored in
// tokenFile, read once at middleware construction. Used to gate mutating
// routes such as PUT /transaction.
func APIToken(tokenFile string) web.Middleware {
	raw, err := os.ReadFile(tokenFile)
	token := strings.TrimSpace(string(raw))
	if err != nil {
		token = ""
	}

	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if token == "" || r.Header.Get("diva-api-token") != token {
				return errs.NewTrusted(errString("invalid or missing diva-api-token"), http.StatusForbidden)
			}

			return handler(ctx, w, r)
		}
		return h
	}

	return m
}

type errString string

func (e errString) Error() string { return string(e) }
