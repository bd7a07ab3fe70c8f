package votepool_test

import (
	"testing"

	"github.com/diva-exchange/divachain/foundation/blockchain/database"
	"github.com/diva-exchange/divachain/foundation/blockchain/votepool"
)

const (
	success = "✓"
	failed  = "✗"
)

func TestPoolAdd(t *testing.T) {
	p := votepool.New()
	p.Reset("candidate-hash")

	t.Log("Given the need to collect votes for a single candidate hash.")
	{
		t.Logf("\tTest 0:\tWhen adding a vote for the current candidate.")
		{
			if ok := p.Add("candidate-hash", database.Vote{Origin: "alice", Sig: "sig-a"}); !ok {
				t.Fatalf("\t%s\tshould accept vote for current candidate.", failed)
			}
			if p.Count() != 1 {
				t.Fatalf("\t%s\texpected 1 vote, got %d.", failed, p.Count())
			}
			t.Logf("\t%s\tvote accepted.", success)
		}

		t.Logf("\tTest 1:\tWhen adding a vote for a stale candidate hash.")
		{
			if ok := p.Add("other-hash", database.Vote{Origin: "bob", Sig: "sig-b"}); ok {
				t.Fatalf("\t%s\tshould reject vote for a different candidate.", failed)
			}
			t.Logf("\t%s\tstale-hash vote rejected.", success)
		}

		t.Logf("\tTest 2:\tWhen the same origin votes twice.")
		{
			p.Add("candidate-hash", database.Vote{Origin: "alice", Sig: "sig-a-dup"})
			if p.Count() != 1 {
				t.Fatalf("\t%s\texpected duplicate signer to not grow the pool, got %d.", failed, p.Count())
			}
			t.Logf("\t%s\tduplicate signer ignored.", success)
		}

		t.Logf("\tTest 3:\tWhen Reset is called for a new candidate.")
		{
			p.Reset("next-hash")
			if p.Count() != 0 {
				t.Fatalf("\t%s\texpected pool cleared, got %d.", failed, p.Count())
			}
			t.Logf("\t%s\tpool cleared on reset.", success)
		}
	}
}
