package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/diva-exchange/divachain/foundation/blockchain/database"
	"github.com/spf13/cobra"
)

var (
	nodeURL     string
	apiToken    string
	commandKind string
	peerHost    string
	peerPort    uint16
	peerKey     string
	peerStake   int64
	dataNS      string
	dataValue   string
	txIdent     string
)

// submitTransactionRequest mirrors the node's PUT /transaction body shape.
type submitTransactionRequest struct {
	Ident    string             `json:"ident,omitempty"`
	Commands []database.Command `json:"commands"`
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a single command as a transaction to a node's public API",
	Run: func(cmd *cobra.Command, args []string) {
		c := database.Command{Seq: 1, Kind: commandKind}
		switch commandKind {
		case database.CommandAddPeer:
			c.Host, c.Port, c.PublicKey, c.Stake = peerHost, peerPort, peerKey, peerStake
		case database.CommandRemovePeer:
			c.PublicKey = peerKey
		case database.CommandModifyStake:
			c.PublicKey, c.Stake = peerKey, peerStake
		case database.CommandData:
			c.NS, c.Base64url = dataNS, dataValue
		default:
			log.Fatalf("unsupported command kind %q", commandKind)
		}

		body, err := json.Marshal(submitTransactionRequest{Ident: txIdent, Commands: []database.Command{c}})
		if err != nil {
			log.Fatal(err)
		}

		req, err := http.NewRequest(http.MethodPut, nodeURL+"/v1/transaction", bytes.NewReader(body))
		if err != nil {
			log.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if apiToken != "" {
			req.Header.Set("diva-api-token", apiToken)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatal(err)
		}
		defer resp.Body.Close()

		out, err := io.ReadAll(resp.Body)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s: %s\n", resp.Status, out)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVarP(&nodeURL, "node", "n", "http://localhost:8080", "Base URL of the node's public API.")
	submitCmd.Flags().StringVarP(&apiToken, "token", "t", "", "Value for the diva-api-token header.")
	submitCmd.Flags().StringVarP(&commandKind, "kind", "k", database.CommandAddPeer, "Command kind: addPeer, removePeer, modifyStake, data.")
	submitCmd.Flags().StringVar(&peerHost, "host", "", "addPeer: peer host.")
	submitCmd.Flags().Uint16Var(&peerPort, "peer-port", 0, "addPeer: peer node-to-node port.")
	submitCmd.Flags().StringVar(&peerKey, "public-key", "", "addPeer/removePeer/modifyStake: target public key.")
	submitCmd.Flags().Int64Var(&peerStake, "stake", 0, "addPeer/modifyStake: stake weight.")
	submitCmd.Flags().StringVar(&dataNS, "ns", "", "data: namespace.")
	submitCmd.Flags().StringVar(&dataValue, "value", "", "data: base64url payload.")
	submitCmd.Flags().StringVar(&txIdent, "ident", "", "transaction ident (generated server-side if omitted).")
}
