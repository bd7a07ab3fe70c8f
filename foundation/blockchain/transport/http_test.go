package transport_test

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/diva-exchange/divachain/foundation/blockchain/database"
	"github.com/diva-exchange/divachain/foundation/blockchain/registry"
	"github.com/diva-exchange/divachain/foundation/blockchain/transport"
)

const (
	success = "✓"
	failed  = "✗"
)

func TestHTTPSendToKnownPeer(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf []byte
		buf, _ = jsonBody(r)
		received <- buf
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	host, port := splitTestServer(t, srv.URL)

	reg := registry.New()
	genesis := database.Block{
		Height: 0,
		Tx: []database.Transaction{{
			Ident:  "g",
			Origin: "founder",
			Commands: []database.Command{
				{Seq: 1, Kind: database.CommandAddPeer, PublicKey: "peer-a", Host: host, Port: port},
			},
		}},
	}
	reg.Apply(genesis)

	tr := transport.NewHTTP("self", reg, nil)

	t.Log("Given the need to deliver a raw envelope to a known peer over HTTP.")
	{
		t.Logf("\tTest 0:\tWhen sending to a registered public key.")
		{
			if err := tr.Send("peer-a", []byte(`{"kind":"sign"}`)); err != nil {
				t.Fatalf("\t%s\tsend: %s", failed, err)
			}
			select {
			case body := <-received:
				if string(body) != `{"kind":"sign"}` {
					t.Fatalf("\t%s\tunexpected body: %s", failed, body)
				}
				t.Logf("\t%s\tpeer received the envelope.", success)
			case <-time.After(time.Second):
				t.Fatalf("\t%s\ttimed out waiting for delivery.", failed)
			}
		}

		t.Logf("\tTest 1:\tWhen sending to an unregistered public key.")
		{
			if err := tr.Send("unknown", []byte(`{}`)); err == nil {
				t.Fatalf("\t%s\texpected an error for an unknown destination.", failed)
			}
			t.Logf("\t%s\trejected the unknown destination.", success)
		}
	}
}

func jsonBody(r *http.Request) ([]byte, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func splitTestServer(t *testing.T, rawURL string) (string, uint16) {
	t.Helper()

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("\t%s\tparse test server url: %s", failed, err)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("\t%s\tsplit host/port: %s", failed, err)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		t.Fatalf("\t%s\tparse port: %s", failed, err)
	}

	return host, uint16(port)
}
