package main

import (
	"fmt"
	"log"

	"github.com/diva-exchange/divachain/foundation/blockchain/wallet"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new Ed25519 identity",
	Run: func(cmd *cobra.Command, args []string) {
		if ident == "" {
			log.Fatal("--ident is required")
		}

		w, err := wallet.Generate(keyPath, ident)
		if err != nil {
			log.Fatal(err)
		}
		defer w.Close()

		fmt.Printf("generated %s in %s\n", ident, keyPath)
		fmt.Println(w.PublicKeyString())
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
