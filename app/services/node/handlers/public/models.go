package public

import "github.com/diva-exchange/divachain/foundation/blockchain/database"

// submitTransactionRequest is the PUT /transaction body: a command list plus
// an optional client-chosen ident. An empty ident is filled in server-side
// (§4.4).
type submitTransactionRequest struct {
	Ident    string             `json:"ident,omitempty"`
	Commands []database.Command `json:"commands"`
}

type transactionResponse struct {
	Ident string `json:"ident"`
}

type peerView struct {
	PublicKey string `json:"publicKey"`
	Host      string `json:"host"`
	Port      uint16 `json:"port"`
	Stake     int64  `json:"stake"`
}

type networkView struct {
	Size    int        `json:"size"`
	Quorum  int64      `json:"quorum"`
	Total   int64      `json:"totalStake"`
	Peers   []peerView `json:"peers"`
	Height  uint64     `json:"height"`
	TipHash string     `json:"tipHash"`
}

type stateView struct {
	PublicKey string `json:"publicKey"`
	Phase     string `json:"phase"`
	Height    uint64 `json:"height"`
	TipHash   string `json:"tipHash"`
}

type poolTransactionsView struct {
	Transactions []database.Transaction `json:"transactions"`
}

type poolVotesView struct {
	Hash  string          `json:"hash"`
	Votes []database.Vote `json:"votes"`
	Count int             `json:"count"`
}

type poolCommitsView struct {
	Height uint64 `json:"height"`
	Phase  string `json:"phase"`
}

type stackView struct {
	Targets []string `json:"targets"`
}
