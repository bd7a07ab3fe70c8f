package database_test

import (
	"testing"

	"github.com/diva-exchange/divachain/foundation/blockchain/database"
	"github.com/diva-exchange/divachain/foundation/blockchain/wallet"
)

func chainedBlock(t *testing.T, proposer *wallet.Wallet, previous database.Block, height uint64, ts int64) database.Block {
	t.Helper()
	b := database.Block{
		Version:      1,
		Height:       height,
		Timestamp:    ts,
		PreviousHash: previous.Hash,
	}
	b.Hash = b.ComputeHash()
	b.Origin = proposer.PublicKeyString()
	b.Sig = proposer.SignString([]byte(b.Hash))
	return b
}

func TestStoreAppend(t *testing.T) {
	dir := t.TempDir()
	proposer := newWallet(t, dir, "proposer")

	genesis := database.Block{Height: 0}
	genesis.Hash = genesis.ComputeHash()

	store, err := database.Open(database.NewMemStore())
	if err != nil {
		t.Fatalf("\t%s\topen store: %s", failed, err)
	}

	t.Log("Given the need to append blocks to the chain store.")
	{
		t.Logf("\tTest 0:\tWhen seeding an empty store with genesis.")
		{
			if err := store.InitGenesis(genesis); err != nil {
				t.Fatalf("\t%s\tshould accept genesis: %s", failed, err)
			}
			tip, ok := store.Tip()
			if !ok || tip.Height != 0 {
				t.Fatalf("\t%s\ttip should be genesis.", failed)
			}
			t.Logf("\t%s\tshould accept genesis.", success)
		}

		t.Logf("\tTest 1:\tWhen appending a correctly linked block.")
		{
			b1 := chainedBlock(t, proposer, genesis, 1, 1000)
			if err := store.Append(b1); err != nil {
				t.Fatalf("\t%s\tshould append: %s", failed, err)
			}
			height, ok := store.TipHeight()
			if !ok || height != 1 {
				t.Fatalf("\t%s\ttip height should advance to 1.", failed)
			}
			t.Logf("\t%s\tshould append.", success)
		}

		t.Logf("\tTest 2:\tWhen appending a block with a stale previousHash.")
		{
			tip, _ := store.Tip()
			bad := chainedBlock(t, proposer, tip, 2, 2000)
			bad.PreviousHash = genesis.Hash
			bad.Hash = bad.ComputeHash()
			bad.Sig = proposer.SignString([]byte(bad.Hash))
			if err := store.Append(bad); err == nil {
				t.Fatalf("\t%s\tshould reject stale previousHash.", failed)
			}
			t.Logf("\t%s\tshould reject stale previousHash.", success)
		}

		t.Logf("\tTest 3:\tWhen retrieving a previously appended block by height.")
		{
			got, err := store.GetByHeight(0)
			if err != nil {
				t.Fatalf("\t%s\tshould find genesis: %s", failed, err)
			}
			if got.Hash != genesis.Hash {
				t.Fatalf("\t%s\tgenesis hash mismatch.", failed)
			}
			t.Logf("\t%s\tshould find genesis.", success)
		}
	}
}

func TestStoreOpenReloadsTip(t *testing.T) {
	dir := t.TempDir()
	proposer := newWallet(t, dir, "proposer")
	genesis := database.Block{Height: 0}
	genesis.Hash = genesis.ComputeHash()

	mem := database.NewMemStore()
	store, err := database.Open(mem)
	if err != nil {
		t.Fatalf("\t%s\topen store: %s", failed, err)
	}
	if err := store.InitGenesis(genesis); err != nil {
		t.Fatalf("\t%s\tinit genesis: %s", failed, err)
	}
	b1 := chainedBlock(t, proposer, genesis, 1, 1000)
	if err := store.Append(b1); err != nil {
		t.Fatalf("\t%s\tappend: %s", failed, err)
	}

	t.Log("Given the need to reopen a store backed by existing data.")
	{
		t.Logf("\tTest 0:\tWhen a second Store is opened over the same Serializer.")
		{
			reopened, err := database.Open(mem)
			if err != nil {
				t.Fatalf("\t%s\tshould reopen: %s", failed, err)
			}
			height, ok := reopened.TipHeight()
			if !ok || height != 1 {
				t.Fatalf("\t%s\treopened tip should be height 1, got %d.", failed, height)
			}
			t.Logf("\t%s\tshould reopen at the persisted tip.", success)
		}
	}
}

func TestStoreRange(t *testing.T) {
	dir := t.TempDir()
	proposer := newWallet(t, dir, "proposer")
	genesis := database.Block{Height: 0}
	genesis.Hash = genesis.ComputeHash()

	store, err := database.Open(database.NewMemStore())
	if err != nil {
		t.Fatalf("\t%s\topen store: %s", failed, err)
	}
	if err := store.InitGenesis(genesis); err != nil {
		t.Fatalf("\t%s\tinit genesis: %s", failed, err)
	}

	prev := genesis
	for h := uint64(1); h <= 5; h++ {
		b := chainedBlock(t, proposer, prev, h, int64(1000*h))
		if err := store.Append(b); err != nil {
			t.Fatalf("\t%s\tappend %d: %s", failed, h, err)
		}
		prev = b
	}

	t.Log("Given the need to page over a range of committed blocks.")
	{
		t.Logf("\tTest 0:\tWhen requesting a bounded page within range.")
		{
			blocks, err := store.Range(1, 5, 3)
			if err != nil {
				t.Fatalf("\t%s\trange: %s", failed, err)
			}
			if len(blocks) != 3 || blocks[0].Height != 1 {
				t.Fatalf("\t%s\texpected 3 blocks starting at height 1, got %d.", failed, len(blocks))
			}
			t.Logf("\t%s\tshould return exactly the page limit.", success)
		}

		t.Logf("\tTest 1:\tWhen the upper bound exceeds the tip.")
		{
			blocks, err := store.Range(4, 100, 0)
			if err != nil {
				t.Fatalf("\t%s\trange: %s", failed, err)
			}
			if len(blocks) != 2 {
				t.Fatalf("\t%s\texpected 2 blocks, got %d.", failed, len(blocks))
			}
			t.Logf("\t%s\tshould stop at the tip.", success)
		}
	}
}
