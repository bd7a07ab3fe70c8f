package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/diva-exchange/divachain/foundation/blockchain/database"
	"github.com/diva-exchange/divachain/foundation/blockchain/peer"
)

// HTTPFetcher implements bootstrap.PeerFetcher against a peer's private
// /v1/node/blocks/:from/:to endpoint.
type HTTPFetcher struct {
	Client http.Client
}

// NewHTTPFetcher constructs a fetcher with a bounded per-request timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: http.Client{Timeout: 10 * time.Second}}
}

// FetchBlocks retrieves every block in [from, to] from the given peer.
func (f *HTTPFetcher) FetchBlocks(p peer.Peer, from, to uint64) ([]database.Block, error) {
	url := fmt.Sprintf("http://%s:%d/v1/node/blocks/%d/%d", p.Host, p.Port, from, to)

	resp, err := f.Client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transport: fetcher: peer %s responded with status %d", p.Host, resp.StatusCode)
	}

	var blocks []database.Block
	if err := json.NewDecoder(resp.Body).Decode(&blocks); err != nil {
		return nil, err
	}

	return blocks, nil
}
