// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/diva-exchange/divachain/foundation/blockchain/database"
)

// Load opens and decodes the genesis block from path. The genesis block is
// height 0, carries no previousHash or proposer signature, and its
// transactions seed the validator registry via AddPeer/ModifyStake
// commands (§6).
func Load(path string) (database.Block, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return database.Block{}, fmt.Errorf("genesis: read %s: %w", path, err)
	}

	var block database.Block
	if err := json.Unmarshal(content, &block); err != nil {
		return database.Block{}, fmt.Errorf("genesis: decode %s: %w", path, err)
	}
	if block.Height != 0 {
		return database.Block{}, fmt.Errorf("genesis: %s: height must be 0, got %d", path, block.Height)
	}
	if err := block.VerifySelf(); err != nil {
		return database.Block{}, fmt.Errorf("genesis: %s: %w", path, err)
	}

	return block, nil
}
