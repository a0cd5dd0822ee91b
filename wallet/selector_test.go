package wallet

import (
	"os"
	"testing"

	"github.com/lollerfirst/cashuwallet/cashu"
	"github.com/lollerfirst/cashuwallet/crypto"
	"github.com/lollerfirst/cashuwallet/wallet/storage"
)

func newTestSelector(t *testing.T, dir string) (*coinSelector, storage.WalletDB, func()) {
	t.Helper()
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatalf("error creating test db dir: %v", err)
	}
	db, err := storage.InitBolt(dir)
	if err != nil {
		t.Fatalf("error opening test db: %v", err)
	}

	registry := newMintRegistry(db, nil, newProofStore(db), "http://localhost:3338", "")
	return newCoinSelector(registry), db, func() {
		db.Close()
		os.RemoveAll(dir)
	}
}

func TestSplitAmountIsBinaryDecomposition(t *testing.T) {
	got := splitAmount(13)
	want := []uint64{1, 4, 8}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSelectProofsGreedyLargestFirst(t *testing.T) {
	cs, _, cleanup := newTestSelector(t, "./testdbselector1")
	defer cleanup()

	proofs := cashu.Proofs{
		{Amount: 1, Id: "ks1", Secret: "s1"},
		{Amount: 2, Id: "ks1", Secret: "s2"},
		{Amount: 8, Id: "ks1", Secret: "s3"},
		{Amount: 16, Id: "ks1", Secret: "s4"},
	}

	selected := cs.selectProofs(proofs, 10, false)
	if selected.Amount() < 10 {
		t.Fatalf("selection %v does not cover target 10", selected.Amount())
	}
	// greedy largest-first should pick 16 alone to cover 10
	if len(selected) != 1 || selected[0].Amount != 16 {
		t.Fatalf("expected greedy pick of the single 16 proof, got %v", selected)
	}
}

func TestSelectProofsInsufficientBalance(t *testing.T) {
	cs, _, cleanup := newTestSelector(t, "./testdbselector2")
	defer cleanup()

	proofs := cashu.Proofs{{Amount: 4, Id: "ks1", Secret: "s1"}}
	if got := cs.selectProofs(proofs, 100, false); got != nil {
		t.Fatalf("expected nil for insufficient balance, got %v", got)
	}
}

func TestGetFeesForProofsRoundsUp(t *testing.T) {
	cs, db, cleanup := newTestSelector(t, "./testdbselector3")
	defer cleanup()

	ks := crypto.WalletKeyset{Id: "ks-fee", MintURL: "http://localhost:3338", Unit: "sat", Active: true, InputFeePpk: 500}
	if err := db.SaveKeyset(&ks); err != nil {
		t.Fatalf("error saving keyset: %v", err)
	}

	proofs := cashu.Proofs{
		{Amount: 1, Id: "ks-fee", Secret: "f1"},
		{Amount: 1, Id: "ks-fee", Secret: "f2"},
	}
	// 2 proofs * 500 ppk = 1000 ppk = 1 sat exactly
	if fees := cs.getFeesForProofs(proofs); fees != 1 {
		t.Fatalf("expected 1 sat of fees, got %v", fees)
	}

	proofs = append(proofs, cashu.Proof{Amount: 1, Id: "ks-fee", Secret: "f3"})
	// 3 proofs * 500 ppk = 1500 ppk, rounds up to 2 sats
	if fees := cs.getFeesForProofs(proofs); fees != 2 {
		t.Fatalf("expected 2 sats of fees after rounding up, got %v", fees)
	}
}

func TestSelectBase64LegacyOnlyDrainsNonHexKeysets(t *testing.T) {
	cs, _, cleanup := newTestSelector(t, "./testdbselector4")
	defer cleanup()

	proofs := cashu.Proofs{
		{Amount: 8, Id: "0099aabbccddeeff", Secret: "hex-keyset"},
		{Amount: 8, Id: "legacyBase64Id==", Secret: "legacy-keyset"},
	}

	selected := cs.selectBase64Legacy(proofs, 8)
	if len(selected) != 1 || selected[0].Id != "legacyBase64Id==" {
		t.Fatalf("expected only the legacy-keyset proof selected, got %v", selected)
	}

	if got := cs.selectBase64Legacy(proofs, 100); got != nil {
		t.Fatalf("expected nil when legacy balance insufficient, got %v", got)
	}
}
