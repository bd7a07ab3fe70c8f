package credit_test

import (
	"testing"

	"github.com/diva-exchange/divachain/foundation/blockchain/credit"
)

const (
	success = "✓"
	failed  = "✗"
)

func TestSchedulerAdmit(t *testing.T) {
	s := credit.New()
	const quorum = int64(20)

	t.Log("Given the need to gate stake-credit decrements by the floor ratios.")
	{
		t.Logf("\tTest 0:\tWhen a target's credit is still well above its per-target floor.")
		{
			if !s.Admit("peerA", quorum) {
				t.Fatalf("\t%s\tshould admit first decrement.", failed)
			}
			s.DecStakeCredit("peerA")
			t.Logf("\t%s\tfirst decrement admitted.", success)
		}

		t.Logf("\tTest 1:\tWhen repeated decrements push a target past its per-target floor.")
		{
			// perTargetFloorRatio = -0.5, quorum = 20 -> floor = -10. Admit
			// checks the pre-decrement balance, so credit reaches exactly
			// -10 after 9 more admitted decrements (the first one already
			// happened in Test 0, starting this loop at -1).
			for i := 0; i < 9; i++ {
				if s.Admit("peerA", quorum) {
					s.DecStakeCredit("peerA")
				}
			}
			if s.Admit("peerA", quorum) {
				t.Fatalf("\t%s\tshould refuse once credit would cross the per-target floor.", failed)
			}
			t.Logf("\t%s\tper-target floor enforced at credit=%d.", success, s.CreditOf("peerA"))
		}

		t.Logf("\tTest 2:\tWhen a symmetric increment restores parity.")
		{
			before := s.CreditOf("peerA")
			s.IncStakeCredit("peerA")
			if s.CreditOf("peerA") != before+1 {
				t.Fatalf("\t%s\texpected credit to increase by one.", failed)
			}
			t.Logf("\t%s\tcredit restored.", success)
		}
	}
}

func TestSchedulerGlobalFloor(t *testing.T) {
	s := credit.New()
	const quorum = int64(10)

	t.Log("Given the need to enforce the global credit floor across all targets.")
	{
		t.Logf("\tTest 0:\tWhen many distinct targets each accumulate small decrements.")
		{
			targets := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8", "p9", "p10", "p11"}
			admittedCount := 0
			for _, target := range targets {
				if s.Admit(target, quorum) {
					s.DecStakeCredit(target)
					admittedCount++
				}
			}
			// globalFloorRatio = -1.0 -> global floor = -10; an 11th admitted
			// decrement would push the sum to -11, past the floor.
			if admittedCount >= len(targets) {
				t.Fatalf("\t%s\texpected the global floor to refuse at least one decrement, got %d/%d admitted.", failed, admittedCount, len(targets))
			}
			t.Logf("\t%s\tglobal floor capped admissions at %d/%d.", success, admittedCount, len(targets))
		}
	}
}
