package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lollerfirst/cashuwallet/cashu"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut04"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut05"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut07"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut17"
	"github.com/lollerfirst/cashuwallet/crypto"
	"github.com/lollerfirst/cashuwallet/wallet/client"
	"github.com/lollerfirst/cashuwallet/wallet/storage"
	"github.com/lollerfirst/cashuwallet/wallet/submanager"
)

// reconciler is the Proof Reconciler: it reconciles the wallet's local
// view of proof and invoice state against the mint's, via NUT-07
// checkstate polling and, where a mint supports it, NUT-17 websocket
// subscriptions instead of polling.
type reconciler struct {
	db       storage.WalletDB
	proofs   *proofStore
	registry *mintRegistry
	quotes   *quoteEngine
}

func newReconciler(db storage.WalletDB, proofs *proofStore, registry *mintRegistry, quotes *quoteEngine) *reconciler {
	return &reconciler{db: db, proofs: proofs, registry: registry, quotes: quotes}
}

func proofY(p cashu.Proof) (string, error) {
	Y, err := crypto.HashToCurve([]byte(p.Secret))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(Y.SerializeCompressed()), nil
}

// checkProofsSpendable asks mintURL for the NUT-07 state of each
// proof, keyed by Y, and prunes any reported SPENT from local storage
// (both the spendable and the reserved/pending sets) since they were
// redeemed elsewhere — by the recipient of a token this wallet sent,
// or by another wallet instance sharing the same mnemonic. Every
// pruned proof's value is folded into the transaction history via
// reconcileSpentProofs, so redemption elsewhere never drops ecash
// silently off the ledger.
func (r *reconciler) checkProofsSpendable(mintURL string, proofs cashu.Proofs) (spent cashu.Proofs, states map[string]nut07.State, err error) {
	if len(proofs) == 0 {
		return nil, map[string]nut07.State{}, nil
	}

	Ys := make([]string, len(proofs))
	bySecret := make(map[string]cashu.Proof, len(proofs))
	for i, p := range proofs {
		Y, err := proofY(p)
		if err != nil {
			return nil, nil, err
		}
		Ys[i] = Y
		bySecret[Y] = p
	}

	resp, err := client.PostCheckProofState(mintURL, nut07.PostCheckStateRequest{Ys: Ys})
	if err != nil {
		return nil, nil, assertMintError(err)
	}

	states = make(map[string]nut07.State, len(resp.States))
	for _, s := range resp.States {
		states[s.Y] = s.State
		if s.State == nut07.Spent {
			if p, ok := bySecret[s.Y]; ok {
				spent = append(spent, p)
			}
		}
	}
	if len(spent) > 0 {
		if err := r.proofs.remove(spent); err != nil {
			return spent, states, err
		}
		if err := r.reconcileSpentProofs(mintURL, spent); err != nil {
			return spent, states, err
		}
	}

	return spent, states, nil
}

// reconcileSpentProofs folds newly-SPENT proofs into the transaction
// history. A proof reserved under a melt quote settles that quote's
// Invoice entry (in full, or split into a paid portion plus a new
// pending entry for whatever remains unredeemed); a proof with no
// quote tie (the generic reservation a plain Send leaves behind) gets
// a standalone Reconciled entry recording the value leaving the
// wallet.
func (r *reconciler) reconcileSpentProofs(mintURL string, spent cashu.Proofs) error {
	bySecret := make(map[string]bool, len(spent))
	for _, p := range spent {
		bySecret[p.Secret] = true
	}

	var prunedYs []string
	quoteAmounts := map[string]uint64{}
	var unquotedAmount uint64
	for _, p := range r.db.GetPendingProofs() {
		if !bySecret[p.Secret] {
			continue
		}
		prunedYs = append(prunedYs, p.Y)
		if p.MeltQuoteId != "" {
			quoteAmounts[p.MeltQuoteId] += p.Amount
		} else {
			unquotedAmount += p.Amount
		}
	}
	if len(prunedYs) > 0 {
		if err := r.db.DeletePendingProofs(prunedYs); err != nil {
			return err
		}
	}

	for quoteId, amount := range quoteAmounts {
		r.settleInvoiceAmount(quoteId, amount)
	}
	if unquotedAmount > 0 {
		r.appendReconciledHistory(mintURL, spent, unquotedAmount)
	}
	return nil
}

// settleInvoiceAmount marks quoteId's Invoice entry paid once spent
// value covers it, or splits it into a settled portion (preserved
// under the same ledger key) and a fresh pending entry for the
// remainder, preserving the outgoing (negative) amount sign.
func (r *reconciler) settleInvoiceAmount(quoteId string, spentAmount uint64) {
	inv := r.db.GetInvoiceByQuoteId(quoteId)
	if inv == nil {
		return
	}

	total := uint64(0)
	if inv.Amount < 0 {
		total = uint64(-inv.Amount)
	}

	if spentAmount >= total {
		inv.Status = storage.InvoiceStatusPaid
		r.db.SaveInvoice(*inv)
		return
	}

	settled := *inv
	settled.Amount = -int64(spentAmount)
	settled.Status = storage.InvoiceStatusPaid
	r.db.SaveInvoice(settled)

	remainder := *inv
	remainder.PaymentHash = inv.PaymentHash + "-remainder"
	remainder.Amount = -int64(total - spentAmount)
	remainder.Status = storage.InvoiceStatusPending
	r.db.SaveInvoice(remainder)
}

// appendReconciledHistory records a settled, quote-less outgoing entry
// for value observed spent elsewhere, keyed deterministically off the
// spent proofs so re-running reconciliation over the same proofs
// upserts rather than duplicates the entry.
func (r *reconciler) appendReconciledHistory(mintURL string, spent cashu.Proofs, amount uint64) {
	r.db.SaveInvoice(storage.Invoice{
		TransactionType: storage.Reconciled,
		Id:              reconciledHistoryKey(spent),
		Mint:            mintURL,
		Amount:          -int64(amount),
		Memo:            "Outgoing token redeemed",
		Unit:            r.registry.unit(),
		Status:          storage.InvoiceStatusPaid,
		PaymentHash:     reconciledHistoryKey(spent),
	})
}

// reconciledHistoryKey derives a stable ledger key from a proof set's
// secrets, independent of the order they were observed spent in.
func reconciledHistoryKey(proofs cashu.Proofs) string {
	secrets := make([]string, len(proofs))
	for i, p := range proofs {
		secrets[i] = p.Secret
	}
	sort.Strings(secrets)

	h := sha256.New()
	for _, s := range secrets {
		h.Write([]byte(s))
	}
	return "reconcile-" + hex.EncodeToString(h.Sum(nil))
}

// checkTokenSpendable decodes a serialized token, activates its mint
// if unknown, and reports whether every proof it carries is still
// unspent. Any proof found SPENT is reconciled into the transaction
// history by checkProofsSpendable.
func (r *reconciler) checkTokenSpendable(tokenStr string) (bool, error) {
	token, err := cashu.DecodeToken(tokenStr)
	if err != nil {
		return false, fmt.Errorf("invalid token: %v", err)
	}

	mintURL := token.Mint()
	if len(r.registry.keysets(mintURL)) == 0 {
		// best effort: checkstate itself needs no keysets, but a token
		// from an unknown mint is worth registering while we're here.
		r.registry.activateMintURL(mintURL)
	}

	_, states, err := r.checkProofsSpendable(mintURL, token.Proofs())
	if err != nil {
		return false, err
	}
	for _, state := range states {
		if state != nut07.Unspent {
			return false, nil
		}
	}
	return true, nil
}

// pollTokenSpendable polls a sent token's spendability at the given
// interval until it is found redeemed, an error occurs, or the
// deadline elapses.
func (r *reconciler) pollTokenSpendable(tokenStr string, interval time.Duration, deadline time.Time) (bool, error) {
	for {
		spendable, err := r.checkTokenSpendable(tokenStr)
		if err != nil {
			return false, err
		}
		if !spendable {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, ErrTokenStillPending
		}
		time.Sleep(interval)
	}
}

// onTokenPaid subscribes to NUT-17 proof_state notifications for a
// representative proof of a sent token, falling back to polling if
// the mint does not support NUT-17. It blocks until the token is
// observed SPENT (redeemed), a subscription error occurs, or the
// deadline passes.
func (r *reconciler) onTokenPaid(tokenStr string, deadline time.Time) (bool, error) {
	token, err := cashu.DecodeToken(tokenStr)
	if err != nil {
		return false, fmt.Errorf("invalid token: %v", err)
	}
	proofs := token.Proofs()
	if len(proofs) == 0 {
		return false, fmt.Errorf("token carries no proofs")
	}
	repY, err := proofY(proofs[0])
	if err != nil {
		return false, err
	}

	mintURL := token.Mint()
	sm, err := submanager.NewSubscriptionManager(mintURL)
	if err != nil {
		return r.pollTokenSpendable(tokenStr, 3*time.Second, deadline)
	}
	defer sm.Close()

	errCh := make(chan error, 1)
	go sm.Run(errCh)

	sub, err := sm.Subscribe(nut17.ProofState, []string{repY})
	if err != nil {
		return r.pollTokenSpendable(tokenStr, 3*time.Second, deadline)
	}
	defer sm.CloseSubscripton(sub.SubId())

	for {
		select {
		case err := <-errCh:
			return false, fmt.Errorf("subscription connection lost: %v", err)
		default:
		}

		if time.Now().After(deadline) {
			return false, ErrTokenStillPending
		}

		notif, err := sub.Read()
		if err != nil {
			return false, err
		}

		var payload nut07.ProofState
		if err := json.Unmarshal(notif.Params.Payload, &payload); err != nil {
			continue
		}
		if payload.State == nut07.Spent {
			stillSpendable, err := r.checkTokenSpendable(tokenStr)
			return !stillSpendable, err
		}
	}
}

// pollMintQuote polls an UNPAID mint quote at the given interval until
// it turns PAID, an error occurs, or the deadline elapses.
func (r *reconciler) pollMintQuote(quoteId string, interval time.Duration, deadline time.Time) (*nut04.PostMintQuoteBolt11Response, error) {
	for {
		resp, err := r.quotes.checkMintQuote(quoteId)
		if err != nil {
			return nil, err
		}
		if resp.State != nut04.Unpaid {
			return resp, nil
		}
		if time.Now().After(deadline) {
			return resp, ErrInvoiceStillPending
		}
		time.Sleep(interval)
	}
}

// onMintQuotePaid subscribes to NUT-17 notifications for a mint quote,
// falling back to polling if the mint does not support NUT-17. It
// blocks until the quote settles (PAID/ISSUED), a subscription error
// occurs, or deadline passes.
func (r *reconciler) onMintQuotePaid(mintURL, quoteId string, deadline time.Time) (*nut04.PostMintQuoteBolt11Response, error) {
	sm, err := submanager.NewSubscriptionManager(mintURL)
	if err != nil {
		return r.pollMintQuote(quoteId, 3*time.Second, deadline)
	}
	defer sm.Close()

	errCh := make(chan error, 1)
	go sm.Run(errCh)

	sub, err := sm.Subscribe(nut17.Bolt11MintQuote, []string{quoteId})
	if err != nil {
		return r.pollMintQuote(quoteId, 3*time.Second, deadline)
	}
	defer sm.CloseSubscripton(sub.SubId())

	for {
		select {
		case err := <-errCh:
			return nil, fmt.Errorf("subscription connection lost: %v", err)
		default:
		}

		if time.Now().After(deadline) {
			return nil, ErrInvoiceStillPending
		}

		notif, err := sub.Read()
		if err != nil {
			return nil, err
		}

		var payload nut04.PostMintQuoteBolt11Response
		if err := json.Unmarshal(notif.Params.Payload, &payload); err != nil {
			continue
		}
		if payload.State != nut04.Unpaid {
			quote := r.db.GetMintQuoteById(quoteId)
			if quote != nil {
				quote.State = payload.State
				r.db.SaveMintQuote(*quote)
			}
			return &payload, nil
		}
	}
}

// checkInvoice polls an incoming mint quote until it settles or the
// timeout elapses; used by callers that would rather wait synchronously
// than drive a subscription.
func (r *reconciler) checkInvoice(quoteId string, timeout time.Duration) (*nut04.PostMintQuoteBolt11Response, error) {
	return r.pollMintQuote(quoteId, 2*time.Second, time.Now().Add(timeout))
}

// checkOutgoingInvoice polls an outgoing melt quote's state, used to
// resolve a PENDING payment (one whose HTLC resolution raced the
// mint's own response) into a final PAID or UNPAID verdict.
func (r *reconciler) checkOutgoingInvoice(mintURL, quoteId string, timeout time.Duration) (*nut05.PostMeltQuoteBolt11Response, error) {
	deadline := time.Now().Add(timeout)
	for {
		resp, err := client.GetMeltQuoteState(mintURL, quoteId)
		if err != nil {
			return nil, assertMintError(err)
		}
		if resp.State != nut05.Pending {
			return resp, nil
		}
		if time.Now().After(deadline) {
			return resp, ErrInvoiceStillPending
		}
		time.Sleep(2 * time.Second)
	}
}
