package wallet

import (
	"os"
	"testing"

	"github.com/lollerfirst/cashuwallet/cashu"
	"github.com/lollerfirst/cashuwallet/wallet/storage"
)

func newTestExecutor(t *testing.T, dir string) (*executor, *proofStore, func()) {
	t.Helper()
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatalf("error creating test db dir: %v", err)
	}
	db, err := storage.InitBolt(dir)
	if err != nil {
		t.Fatalf("error opening test db: %v", err)
	}

	proofs := newProofStore(db)
	registry := newMintRegistry(db, nil, proofs, "http://localhost:3338", "")
	selector := newCoinSelector(registry)
	quotes := newQuoteEngine(db, registry)
	exec := newExecutor(db, nil, proofs, registry, selector, quotes)

	return exec, proofs, func() {
		db.Close()
		os.RemoveAll(dir)
	}
}

func TestChangeOutputCountNutEight(t *testing.T) {
	cases := []struct {
		feeReserve uint64
		want       int
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{3, 2},
		{4, 2},
		{5, 3},
		{100, 7},
	}
	for _, c := range cases {
		if got := changeOutputCount(c.feeReserve); got != c.want {
			t.Errorf("changeOutputCount(%v) = %v, want %v", c.feeReserve, got, c.want)
		}
	}
}

func TestSendLockedExactMatchNeedsNoSwap(t *testing.T) {
	exec, proofs, cleanup := newTestExecutor(t, "./testdbexecutor1")
	defer cleanup()

	available := cashu.Proofs{
		{Amount: 8, Id: "ks1", Secret: "exact-a"},
		{Amount: 2, Id: "ks1", Secret: "exact-b"},
	}
	if err := proofs.add(available); err != nil {
		t.Fatalf("error seeding proofs: %v", err)
	}

	keep, send, err := exec.sendLocked(available, 10, false, false, "")
	if err != nil {
		t.Fatalf("error in sendLocked: %v", err)
	}
	if len(keep) != 0 {
		t.Fatalf("expected no keep proofs on an exact match, got %v", keep)
	}
	if send.Amount() != 10 {
		t.Fatalf("expected send amount 10, got %v", send.Amount())
	}

	// the exact-match proofs must now be reserved, not spendable
	if proofs.unreserved().Amount() != 0 {
		t.Fatalf("expected proofs reserved after exact-match send, got %v unreserved", proofs.unreserved().Amount())
	}
}

func TestSendLockedInsufficientBalance(t *testing.T) {
	exec, proofs, cleanup := newTestExecutor(t, "./testdbexecutor2")
	defer cleanup()

	available := cashu.Proofs{{Amount: 1, Id: "ks1", Secret: "insufficient-a"}}
	if err := proofs.add(available); err != nil {
		t.Fatalf("error seeding proofs: %v", err)
	}

	_, _, err := exec.sendLocked(available, 1000, false, false, "")
	if err != ErrBalanceTooLow {
		t.Fatalf("expected ErrBalanceTooLow, got %v", err)
	}
}
