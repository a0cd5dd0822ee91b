package wallet

import (
	"encoding/hex"

	"github.com/lollerfirst/cashuwallet/cashu"
	"github.com/lollerfirst/cashuwallet/crypto"
	"github.com/lollerfirst/cashuwallet/wallet/storage"
)

// proofStore is the Proof Store collaborator: it owns every proof the
// wallet holds, split between the spendable set and the reserved set.
// A proof's identity is its secret; reservation is expressed by
// storage location (spendable bucket vs. pending bucket) rather than a
// boolean field, so "reserved, optionally tied to a quote" collapses
// to a single move instead of two parallel flags.
type proofStore struct {
	db storage.WalletDB
}

func newProofStore(db storage.WalletDB) *proofStore {
	return &proofStore{db: db}
}

func (ps *proofStore) add(proofs cashu.Proofs) error {
	if len(proofs) == 0 {
		return nil
	}
	return ps.db.SaveProofs(proofs)
}

func (ps *proofStore) remove(proofs cashu.Proofs) error {
	for _, proof := range proofs {
		if err := ps.db.DeleteProof(proof.Secret); err != nil && err != storage.ProofNotFound {
			return err
		}
	}
	return nil
}

// setReserved moves proofs between the spendable and reserved sets.
// quoteId, when non-empty, binds the reservation to a melt quote so it
// can later be released or confirmed by that quote's outcome.
func (ps *proofStore) setReserved(proofs cashu.Proofs, reserved bool, quoteId string) error {
	if len(proofs) == 0 {
		return nil
	}

	if reserved {
		var err error
		if quoteId != "" {
			err = ps.db.AddPendingProofsByQuoteId(proofs, quoteId)
		} else {
			err = ps.db.AddPendingProofs(proofs)
		}
		if err != nil {
			return err
		}
		return ps.remove(proofs)
	}

	Ys := make([]string, len(proofs))
	for i, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return err
		}
		Ys[i] = hex.EncodeToString(Y.SerializeCompressed())
	}
	if err := ps.db.DeletePendingProofs(Ys); err != nil {
		return err
	}
	return ps.db.SaveProofs(proofs)
}

// releaseByQuote unreserves every proof bound to quoteId, used on melt
// rollback.
func (ps *proofStore) releaseByQuote(quoteId string) (cashu.Proofs, error) {
	pending := ps.db.GetPendingProofsByQuoteId(quoteId)
	proofs := make(cashu.Proofs, len(pending))
	for i, p := range pending {
		proofs[i] = cashu.Proof{Amount: p.Amount, Id: p.Id, Secret: p.Secret, C: p.C, DLEQ: p.DLEQ}
	}
	if err := ps.db.DeletePendingProofsByQuoteId(quoteId); err != nil {
		return nil, err
	}
	if err := ps.db.SaveProofs(proofs); err != nil {
		return nil, err
	}
	return proofs, nil
}

// unreserved returns every currently spendable proof.
func (ps *proofStore) unreserved() cashu.Proofs {
	return ps.db.GetProofs()
}

func (ps *proofStore) sum(proofs cashu.Proofs) uint64 {
	return proofs.Amount()
}

// serialize builds a V4 (CBOR, "cashuB...") token out of proofs.
func (ps *proofStore) serialize(proofs cashu.Proofs, mintURL string, unit cashu.Unit, includeDLEQ bool) (string, error) {
	token, err := cashu.NewTokenV4(proofs, mintURL, unit, includeDLEQ)
	if err != nil {
		return "", err
	}
	return token.Serialize()
}

// allForMint returns the spendable proofs belonging to one of the
// given keyset ids, i.e. belonging to a single mint's keysets.
func (ps *proofStore) allForMint(keysetIds map[string]bool) cashu.Proofs {
	all := ps.db.GetProofs()
	out := make(cashu.Proofs, 0, len(all))
	for _, p := range all {
		if keysetIds[p.Id] {
			out = append(out, p)
		}
	}
	return out
}
