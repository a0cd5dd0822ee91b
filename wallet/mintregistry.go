package wallet

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lollerfirst/cashuwallet/cashu"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut06"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut15"
	"github.com/lollerfirst/cashuwallet/crypto"
	"github.com/lollerfirst/cashuwallet/wallet/client"
	"github.com/lollerfirst/cashuwallet/wallet/storage"
)

// mintRegistry is the Mint Registry collaborator: it owns the set of
// mints the wallet knows about, their keysets, and which one is
// "active" for new operations. A mint is trusted the moment its
// keysets are fetched and saved; nothing here talks to the network
// except activateMintURL and info.
type mintRegistry struct {
	db         storage.WalletDB
	seeds      *seedStore
	proofs     *proofStore
	activeMint string
	activeUnit string
}

func newMintRegistry(db storage.WalletDB, seeds *seedStore, proofs *proofStore, mintURL, unit string) *mintRegistry {
	if unit == "" {
		unit = cashu.Sat.String()
	}
	return &mintRegistry{db: db, seeds: seeds, proofs: proofs, activeMint: mintURL, activeUnit: unit}
}

func (r *mintRegistry) activeMintURL() string { return r.activeMint }
func (r *mintRegistry) unit() string          { return r.activeUnit }

// keysets returns every known keyset for mintURL, active and inactive.
func (r *mintRegistry) keysets(mintURL string) []crypto.WalletKeyset {
	return r.db.GetKeysets()[mintURL]
}

// activeKeyset returns the single active keyset for mintURL and the
// registry's unit.
func (r *mintRegistry) activeKeyset(mintURL string) (*crypto.WalletKeyset, error) {
	for _, ks := range r.keysets(mintURL) {
		if ks.Active && ks.Unit == r.activeUnit {
			k := ks
			return &k, nil
		}
	}
	return nil, ErrNoActiveKeysetForUnit
}

func (r *mintRegistry) keysetById(id string) *crypto.WalletKeyset {
	for _, keysets := range r.db.GetKeysets() {
		for _, ks := range keysets {
			if ks.Id == id {
				k := ks
				return &k
			}
		}
	}
	return nil
}

func (r *mintRegistry) info(mintURL string) (*nut06.MintInfo, error) {
	return client.GetMintInfo(mintURL)
}

// activateMintURL fetches every keyset (active and inactive) a mint
// publishes, merges them into storage, and makes mintURL the active
// mint. Existing counters for keysets already known are preserved.
func (r *mintRegistry) activateMintURL(mintURL string) error {
	allKeysets, err := client.GetAllKeysets(mintURL)
	if err != nil {
		return fmt.Errorf("error getting keysets from mint: %v", err)
	}
	if len(allKeysets.Keysets) == 0 {
		return ErrNoKeysets
	}

	activeRes, err := client.GetActiveKeysets(mintURL)
	if err != nil {
		return fmt.Errorf("error getting active keys from mint: %v", err)
	}
	activeKeys := make(map[string]map[uint64]*secp256k1.PublicKey, len(activeRes.Keysets))
	for _, ks := range activeRes.Keysets {
		pks, err := crypto.MapPubKeys(pubkeysToHex(ks.Keys))
		if err != nil {
			return fmt.Errorf("invalid public keys from mint: %v", err)
		}
		activeKeys[ks.Id] = pks
	}

	for _, ks := range allKeysets.Keysets {
		wk := crypto.WalletKeyset{
			Id:          ks.Id,
			MintURL:     mintURL,
			Unit:        ks.Unit,
			Active:      ks.Active,
			Counter:     r.db.GetKeysetCounter(ks.Id),
			InputFeePpk: ks.InputFeePpk,
		}
		if pks, ok := activeKeys[ks.Id]; ok {
			wk.PublicKeys = pks
		}
		if err := r.db.SaveKeyset(&wk); err != nil {
			return fmt.Errorf("error saving keyset: %v", err)
		}
	}

	r.activeMint = mintURL
	return nil
}

func pubkeysToHex(pks crypto.PublicKeys) map[uint64]string {
	out := make(map[uint64]string, len(pks))
	for amount, key := range pks {
		out[amount] = hex.EncodeToString(key.SerializeCompressed())
	}
	return out
}

func (r *mintRegistry) activeMintKeysetIds() map[string]bool {
	ids := map[string]bool{}
	for _, ks := range r.keysets(r.activeMint) {
		ids[ks.Id] = true
	}
	return ids
}

func (r *mintRegistry) activeMintBalance() uint64 {
	return r.proofs.sum(r.proofs.allForMint(r.activeMintKeysetIds()))
}

// multiMints returns the mint URLs the wallet knows about that
// advertise support for method/unit, used by the multi-path melt flow.
func (r *mintRegistry) multiMints(method, unit string) []string {
	seen := map[string]bool{}
	var mints []string
	for mintURL := range r.db.GetKeysets() {
		if seen[mintURL] {
			continue
		}
		seen[mintURL] = true

		mi, err := r.info(mintURL)
		if err != nil {
			continue
		}
		if nut15.Supports(mi, method, unit) {
			mints = append(mints, mintURL)
		}
	}
	return mints
}

// multiMintBalance returns the eligible mints for (method, unit), their
// overall combined balance, and each mint's weight (its share of the
// overall balance, summing to ~1). Used to size MPP partials.
func (r *mintRegistry) multiMintBalance(method, unit string) (mints []string, overall uint64, weights []float64) {
	mints = r.multiMints(method, unit)
	balances := make([]uint64, len(mints))
	for i, mintURL := range mints {
		ids := map[string]bool{}
		for _, ks := range r.keysets(mintURL) {
			if ks.Unit == unit {
				ids[ks.Id] = true
			}
		}
		balances[i] = r.proofs.sum(r.proofs.allForMint(ids))
		overall += balances[i]
	}

	weights = make([]float64, len(mints))
	if overall > 0 {
		for i, bal := range balances {
			weights[i] = float64(bal) / float64(overall)
		}
	}
	return mints, overall, weights
}

// assertMintError normalizes whatever the mint client returned into a
// *cashu.Error, so callers can branch on Code without type-asserting
// at every call site.
func assertMintError(err error) *cashu.Error {
	if err == nil {
		return nil
	}
	if cashuErr, ok := err.(cashu.Error); ok {
		return &cashuErr
	}
	return cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
}
