package main

import (
	"fmt"
	"log"

	"github.com/diva-exchange/divachain/foundation/blockchain/wallet"
	"github.com/spf13/cobra"
)

var publicKeyCmd = &cobra.Command{
	Use:   "public-key",
	Short: "Print the public key for an identity",
	Run: func(cmd *cobra.Command, args []string) {
		if ident == "" {
			log.Fatal("--ident is required")
		}

		w, err := wallet.Load(keyPath, ident)
		if err != nil {
			log.Fatal(err)
		}
		defer w.Close()

		fmt.Println(w.PublicKeyString())
	},
}

func init() {
	rootCmd.AddCommand(publicKeyCmd)
}
