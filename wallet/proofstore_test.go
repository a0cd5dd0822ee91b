package wallet

import (
	"os"
	"testing"

	"github.com/lollerfirst/cashuwallet/cashu"
	"github.com/lollerfirst/cashuwallet/wallet/storage"
)

func newTestProofStore(t *testing.T, dir string) (*proofStore, func()) {
	t.Helper()
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatalf("error creating test db dir: %v", err)
	}
	db, err := storage.InitBolt(dir)
	if err != nil {
		t.Fatalf("error opening test db: %v", err)
	}
	return newProofStore(db), func() {
		db.Close()
		os.RemoveAll(dir)
	}
}

func TestProofStoreAddRemove(t *testing.T) {
	ps, cleanup := newTestProofStore(t, "./testdbproofstore1")
	defer cleanup()

	proofs := cashu.Proofs{
		{Amount: 1, Id: "ks1", Secret: "secret-a", C: "c-a"},
		{Amount: 2, Id: "ks1", Secret: "secret-b", C: "c-b"},
		{Amount: 4, Id: "ks2", Secret: "secret-c", C: "c-c"},
	}
	if err := ps.add(proofs); err != nil {
		t.Fatalf("error adding proofs: %v", err)
	}

	unreserved := ps.unreserved()
	if unreserved.Amount() != 7 {
		t.Fatalf("expected total of 7, got %v", unreserved.Amount())
	}

	keysetIds := map[string]bool{"ks1": true}
	ks1Proofs := ps.allForMint(keysetIds)
	if ks1Proofs.Amount() != 3 {
		t.Fatalf("expected 3 for ks1, got %v", ks1Proofs.Amount())
	}

	if err := ps.remove(cashu.Proofs{proofs[0]}); err != nil {
		t.Fatalf("error removing proof: %v", err)
	}
	if ps.unreserved().Amount() != 6 {
		t.Fatalf("expected total of 6 after removal, got %v", ps.unreserved().Amount())
	}
}

func TestProofStoreReservationRoundTrip(t *testing.T) {
	ps, cleanup := newTestProofStore(t, "./testdbproofstore2")
	defer cleanup()

	proofs := cashu.Proofs{
		{Amount: 8, Id: "ks1", Secret: "reserve-a", C: "c-a"},
		{Amount: 16, Id: "ks1", Secret: "reserve-b", C: "c-b"},
	}
	if err := ps.add(proofs); err != nil {
		t.Fatalf("error adding proofs: %v", err)
	}

	quoteId := "melt-quote-1"
	if err := ps.setReserved(proofs, true, quoteId); err != nil {
		t.Fatalf("error reserving proofs: %v", err)
	}
	if ps.unreserved().Amount() != 0 {
		t.Fatal("expected no unreserved proofs once reserved")
	}

	released, err := ps.releaseByQuote(quoteId)
	if err != nil {
		t.Fatalf("error releasing by quote: %v", err)
	}
	if released.Amount() != 24 {
		t.Fatalf("expected 24 released, got %v", released.Amount())
	}
	if ps.unreserved().Amount() != 24 {
		t.Fatalf("expected proofs back in the spendable set, got %v", ps.unreserved().Amount())
	}
}

func TestProofStoreSerializeRoundTrip(t *testing.T) {
	ps, cleanup := newTestProofStore(t, "./testdbproofstore3")
	defer cleanup()

	proofs := cashu.Proofs{
		{Amount: 4, Id: "00aabbccdd001122", Secret: "serialize-a", C: "02" + "aa"},
	}

	tokenStr, err := ps.serialize(proofs, "http://localhost:3338", cashu.Sat, false)
	if err != nil {
		t.Fatalf("error serializing token: %v", err)
	}
	if tokenStr == "" {
		t.Fatal("expected non-empty serialized token")
	}

	decoded, err := cashu.DecodeToken(tokenStr)
	if err != nil {
		t.Fatalf("error decoding serialized token: %v", err)
	}
	if decoded.Proofs().Amount() != proofs.Amount() {
		t.Fatalf("round-tripped amount mismatch: expected %v, got %v", proofs.Amount(), decoded.Proofs().Amount())
	}
	if decoded.Mint() != "http://localhost:3338" {
		t.Fatalf("round-tripped mint mismatch: got %v", decoded.Mint())
	}
}
