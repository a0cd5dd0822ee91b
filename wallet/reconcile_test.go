package wallet

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/lollerfirst/cashuwallet/cashu"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut07"
	"github.com/lollerfirst/cashuwallet/crypto"
	"github.com/lollerfirst/cashuwallet/wallet/storage"
)

func newTestReconciler(t *testing.T, dir string) (*reconciler, *proofStore, func()) {
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
	quotes := newQuoteEngine(db, registry)

	return newReconciler(db, proofs, registry, quotes), proofs, func() {
		db.Close()
		os.RemoveAll(dir)
	}
}

func TestCheckProofsSpendablePrunesSpent(t *testing.T) {
	rec, proofs, cleanup := newTestReconciler(t, "./testdbreconcile1")
	defer cleanup()

	unspentProof := cashu.Proof{Amount: 4, Id: "ks1", Secret: "unspent-secret"}
	spentProof := cashu.Proof{Amount: 8, Id: "ks1", Secret: "spent-secret"}
	if err := proofs.add(cashu.Proofs{unspentProof, spentProof}); err != nil {
		t.Fatalf("error seeding proofs: %v", err)
	}

	unspentY, err := proofY(unspentProof)
	if err != nil {
		t.Fatalf("error computing Y: %v", err)
	}
	spentY, err := proofY(spentProof)
	if err != nil {
		t.Fatalf("error computing Y: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// nut07.State has no MarshalJSON, so the wire format (a string per
		// NUT-07) is built by hand here rather than via the Go type.
		type wireProofState struct {
			Y     string `json:"Y"`
			State string `json:"state"`
		}
		resp := struct {
			States []wireProofState `json:"states"`
		}{States: []wireProofState{
			{Y: unspentY, State: "UNSPENT"},
			{Y: spentY, State: "SPENT"},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	spent, states, err := rec.checkProofsSpendable(srv.URL, cashu.Proofs{unspentProof, spentProof})
	if err != nil {
		t.Fatalf("error checking proofs spendable: %v", err)
	}
	if states[unspentY] != nut07.Unspent || states[spentY] != nut07.Spent {
		t.Fatalf("unexpected states: %+v", states)
	}
	if len(spent) != 1 || spent[0].Secret != spentProof.Secret {
		t.Fatalf("expected only the spent proof reported, got %+v", spent)
	}

	remaining := proofs.unreserved()
	if remaining.Amount() != unspentProof.Amount {
		t.Fatalf("expected only the unspent proof to remain, got %v", remaining)
	}
}

func TestProofYIsStableHashToCurve(t *testing.T) {
	p := cashu.Proof{Secret: "some-fixed-secret"}
	y1, err := proofY(p)
	if err != nil {
		t.Fatalf("error computing Y: %v", err)
	}
	y2, err := proofY(p)
	if err != nil {
		t.Fatalf("error computing Y: %v", err)
	}
	if y1 != y2 {
		t.Fatal("expected proofY to be deterministic for the same secret")
	}

	want, err := crypto.HashToCurve([]byte(p.Secret))
	if err != nil {
		t.Fatalf("error hashing to curve directly: %v", err)
	}
	if y1 != hex.EncodeToString(want.SerializeCompressed()) {
		t.Fatalf("proofY does not match direct HashToCurve encoding")
	}
}
