// Package transport supplies an HTTP-backed implementation of
// message.Transport, the concrete stand-in for the P2P/UDP overlay named
// out of scope by the consensus core (§1), grounded on the teacher's
// state/network.go "send" HTTP helper.
package transport

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/diva-exchange/divachain/foundation/blockchain/registry"
)

// EventHandler receives a trace message for every send attempt.
type EventHandler func(v string, args ...any)

// HTTP resolves a message destination (a validator's public key, or "" for
// broadcast) against the validator registry and POSTs the raw envelope to
// that peer's node-to-node message endpoint.
type HTTP struct {
	Self      string
	Registry  *registry.Registry
	Client    http.Client
	EvHandler EventHandler
}

// NewHTTP constructs an HTTP transport with a bounded per-request timeout.
func NewHTTP(self string, reg *registry.Registry, evHandler EventHandler) *HTTP {
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}
	return &HTTP{
		Self:      self,
		Registry:  reg,
		Client:    http.Client{Timeout: 5 * time.Second},
		EvHandler: evHandler,
	}
}

// Send implements message.Transport. dest == "" broadcasts to every known
// validator except self; a specific public key targets just that peer.
func (h *HTTP) Send(dest string, raw []byte) error {
	if dest != "" {
		v, ok := h.Registry.Get(dest)
		if !ok {
			return fmt.Errorf("transport: unknown destination %q", dest)
		}
		return h.post(v.Host, v.Port, raw)
	}

	for _, v := range h.Registry.Snapshot() {
		if v.PublicKey == h.Self {
			continue
		}
		go func(v registry.Validator) {
			if err := h.post(v.Host, v.Port, raw); err != nil {
				h.EvHandler("transport: broadcast to %s: ERROR: %s", v.PublicKey, err)
			}
		}(v)
	}

	return nil
}

func (h *HTTP) post(host string, port uint16, raw []byte) error {
	url := fmt.Sprintf("http://%s:%d/v1/node/message", host, port)

	resp, err := h.Client.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("transport: peer responded with status %d", resp.StatusCode)
	}

	return nil
}
