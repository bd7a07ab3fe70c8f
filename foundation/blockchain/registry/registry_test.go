package registry_test

import (
	"testing"

	"github.com/diva-exchange/divachain/foundation/blockchain/database"
	"github.com/diva-exchange/divachain/foundation/blockchain/registry"
	"github.com/diva-exchange/divachain/foundation/blockchain/wallet"
)

const (
	success = "✓"
	failed  = "✗"
)

func addPeerTx(pub, host string, port uint16, stake int64) database.Transaction {
	cmds := []database.Command{
		{Seq: 1, Kind: database.CommandAddPeer, Host: host, Port: port, PublicKey: pub},
	}
	if stake != 0 {
		cmds = append(cmds, database.Command{Seq: 2, Kind: database.CommandModifyStake, PublicKey: pub, Stake: stake})
	}
	return database.Transaction{Commands: cmds}
}

func TestRegistryApply(t *testing.T) {
	dir := t.TempDir()
	w1, _ := wallet.Generate(dir, "v1")
	w2, _ := wallet.Generate(dir, "v2")
	w3, _ := wallet.Generate(dir, "v3")

	block := database.Block{
		Height: 0,
		Tx: []database.Transaction{
			addPeerTx(w1.PublicKeyString(), "n1", 9000, 10),
			addPeerTx(w2.PublicKeyString(), "n2", 9001, 10),
			addPeerTx(w3.PublicKeyString(), "n3", 9002, 10),
		},
	}

	r := registry.New()

	t.Log("Given the need to fold committed-block commands into the validator registry.")
	{
		t.Logf("\tTest 0:\tWhen applying a genesis block adding three validators with stake 10 each.")
		{
			r.Apply(block)
			if r.Total() != 30 {
				t.Fatalf("\t%s\texpected total 30, got %d.", failed, r.Total())
			}
			if got := r.Quorum(); got != 20 {
				t.Fatalf("\t%s\texpected quorum 20, got %d.", failed, got)
			}
			t.Logf("\t%s\ttotal and quorum computed correctly.", success)
		}

		t.Logf("\tTest 1:\tWhen removing one validator.")
		{
			rm := database.Block{Height: 1, Tx: []database.Transaction{
				{Commands: []database.Command{{Seq: 1, Kind: database.CommandRemovePeer, PublicKey: w3.PublicKeyString()}}},
			}}
			r.Apply(rm)
			if r.Contains(w3.PublicKeyString()) {
				t.Fatalf("\t%s\tremoved validator should no longer be a member.", failed)
			}
			if r.Total() != 20 {
				t.Fatalf("\t%s\texpected total 20 after removal, got %d.", failed, r.Total())
			}
			t.Logf("\t%s\tremoval updates membership and total stake.", success)
		}

		t.Logf("\tTest 2:\tWhen modifying a validator's stake.")
		{
			mod := database.Block{Height: 2, Tx: []database.Transaction{
				{Commands: []database.Command{{Seq: 1, Kind: database.CommandModifyStake, PublicKey: w1.PublicKeyString(), Stake: 25}}},
			}}
			r.Apply(mod)
			if r.StakeOf(w1.PublicKeyString()) != 25 {
				t.Fatalf("\t%s\texpected stake 25, got %d.", failed, r.StakeOf(w1.PublicKeyString()))
			}
			t.Logf("\t%s\tstake modification applied.", success)
		}
	}
}

func TestRegistryVerifyVotes(t *testing.T) {
	dir := t.TempDir()
	w1, _ := wallet.Generate(dir, "v1")
	w2, _ := wallet.Generate(dir, "v2")
	w3, _ := wallet.Generate(dir, "v3")
	outsider, _ := wallet.Generate(dir, "outsider")

	r := registry.New()
	r.Apply(database.Block{Tx: []database.Transaction{
		addPeerTx(w1.PublicKeyString(), "n1", 9000, 10),
		addPeerTx(w2.PublicKeyString(), "n2", 9001, 10),
		addPeerTx(w3.PublicKeyString(), "n3", 9002, 10),
	}})

	hash := "some-candidate-hash"

	t.Log("Given the need to verify a set of votes against stake-weighted quorum.")
	{
		t.Logf("\tTest 0:\tWhen enough distinct registry members sign the hash.")
		{
			votes := []database.Vote{
				{Origin: w1.PublicKeyString(), Sig: w1.SignString([]byte(hash))},
				{Origin: w2.PublicKeyString(), Sig: w2.SignString([]byte(hash))},
			}
			sum, ok := r.VerifyVotes(hash, votes)
			if !ok || sum != 20 {
				t.Fatalf("\t%s\texpected quorum reached with sum 20, got sum=%d ok=%v.", failed, sum, ok)
			}
			t.Logf("\t%s\tquorum reached.", success)
		}

		t.Logf("\tTest 1:\tWhen a vote comes from a signer outside the registry.")
		{
			votes := []database.Vote{
				{Origin: w1.PublicKeyString(), Sig: w1.SignString([]byte(hash))},
				{Origin: outsider.PublicKeyString(), Sig: outsider.SignString([]byte(hash))},
			}
			sum, ok := r.VerifyVotes(hash, votes)
			if ok || sum != 10 {
				t.Fatalf("\t%s\toutsider vote should not count toward quorum, got sum=%d ok=%v.", failed, sum, ok)
			}
			t.Logf("\t%s\toutsider vote excluded.", success)
		}

		t.Logf("\tTest 2:\tWhen the same origin votes twice.")
		{
			sig := w1.SignString([]byte(hash))
			votes := []database.Vote{
				{Origin: w1.PublicKeyString(), Sig: sig},
				{Origin: w1.PublicKeyString(), Sig: sig},
			}
			sum, _ := r.VerifyVotes(hash, votes)
			if sum != 10 {
				t.Fatalf("\t%s\tduplicate signer should count once, got sum=%d.", failed, sum)
			}
			t.Logf("\t%s\tduplicate signer counted once.", success)
		}
	}
}
