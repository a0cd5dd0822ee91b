package wallet

import (
	"encoding/hex"
	"fmt"
	"math"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lollerfirst/cashuwallet/cashu"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut03"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut04"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut05"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut12"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut13"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut20"
	"github.com/lollerfirst/cashuwallet/crypto"
	"github.com/lollerfirst/cashuwallet/wallet/client"
	"github.com/lollerfirst/cashuwallet/wallet/storage"
)

// outputsAlreadySignedJump is how far a keyset's counter is advanced
// past whatever it already was whenever a mint reports that the
// outputs for the current counter position were signed previously
// (cashu.BlindedMessageAlreadySignedErrCode), so the next attempt
// lands on fresh, unused derivation indices.
const outputsAlreadySignedJump = 10

// executor is the Mint/Melt Executor: it drives the three crypto-heavy
// flows (mint, send/split, melt) under a single mutex, so counter
// bumps, blind-signature construction, and proof-store mutation for a
// given mint never interleave with one another.
type executor struct {
	db       storage.WalletDB
	seeds    *seedStore
	proofs   *proofStore
	registry *mintRegistry
	selector *coinSelector
	quotes   *quoteEngine

	mu        sync.Mutex
	unloading bool
}

func newExecutor(db storage.WalletDB, seeds *seedStore, proofs *proofStore, registry *mintRegistry, selector *coinSelector, quotes *quoteEngine) *executor {
	return &executor{db: db, seeds: seeds, proofs: proofs, registry: registry, selector: selector, quotes: quotes}
}

func (e *executor) lockMutex()   { e.mu.Lock() }
func (e *executor) unlockMutex() { e.mu.Unlock() }

// setUnloading marks the wallet as shutting down: in-flight melts stop
// rolling back proof reservations on failure, since a later session
// resuming the same quote needs to find them still reserved.
func (e *executor) setUnloading() {
	e.mu.Lock()
	e.unloading = true
	e.mu.Unlock()
}

// blindOutputs derives `len(amounts)` deterministic secrets and
// blinding factors from counter onward along keysetId's NUT-13 path,
// and blinds each into a BlindedMessage.
func (e *executor) blindOutputs(keysetId string, amounts []uint64, counter uint32) (cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	keysetPath, err := nut13.DeriveKeysetPath(e.seeds.masterKey(), keysetId)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error deriving keyset path: %v", err)
	}

	messages := make(cashu.BlindedMessages, len(amounts))
	secrets := make([]string, len(amounts))
	rs := make([]*secp256k1.PrivateKey, len(amounts))

	for i, amount := range amounts {
		idx := counter + uint32(i)

		secret, err := nut13.DeriveSecret(keysetPath, idx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("error deriving secret: %v", err)
		}
		blindingFactor, err := nut13.DeriveBlindingFactor(keysetPath, idx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("error deriving blinding factor: %v", err)
		}
		B_, r, err := crypto.BlindMessage(secret, blindingFactor)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("error blinding message: %v", err)
		}

		messages[i] = cashu.NewBlindedMessage(keysetId, amount, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return messages, secrets, rs, nil
}

// constructProofs unblinds each signature against the blinding factor
// and mint public key for its amount, turning them into spendable
// proofs bound to the secrets that produced the original outputs.
func constructProofs(sigs cashu.BlindedSignatures, keysetId string, secrets []string, rs []*secp256k1.PrivateKey, keys map[uint64]*secp256k1.PublicKey) (cashu.Proofs, error) {
	if len(sigs) != len(secrets) || len(sigs) != len(rs) {
		return nil, fmt.Errorf("mint returned %d signatures for %d outputs", len(sigs), len(secrets))
	}

	proofs := make(cashu.Proofs, len(sigs))
	for i, sig := range sigs {
		pub, ok := keys[sig.Amount]
		if !ok {
			return nil, fmt.Errorf("mint has no public key for amount %d", sig.Amount)
		}
		C, err := crypto.UnblindSignature(sig.C_, rs[i], pub)
		if err != nil {
			return nil, fmt.Errorf("error unblinding signature: %v", err)
		}
		proofs[i] = cashu.Proof{
			Amount: sig.Amount,
			Id:     keysetId,
			Secret: secrets[i],
			C:      C,
			DLEQ:   sig.DLEQ,
		}
	}

	if !nut12.VerifyProofsDLEQ(proofs, crypto.WalletKeyset{PublicKeys: keys}) {
		return nil, ErrDLEQVerificationFailed
	}

	return proofs, nil
}

// alreadySignedOrWrap probes a mint error for the "outputs already
// signed" code, jumping the keyset counter forward when it matches so
// the caller can retry against fresh indices; otherwise it rolls the
// counter back by numOutputs and returns the error as a *cashu.Error.
func (e *executor) alreadySignedOrWrap(keysetId string, numOutputs int, err error) error {
	mintErr := assertMintError(err)
	if mintErr.Code == cashu.BlindedMessageAlreadySignedErrCode {
		e.seeds.bumpCounter(keysetId, outputsAlreadySignedJump)
		return ErrOutputsAlreadySigned
	}
	e.seeds.bumpCounter(keysetId, -numOutputs)
	return mintErr
}

// mint redeems a paid mint-quote into proofs: checks the quote is PAID,
// blinds one output per binary denomination of the quote amount, asks
// the mint to sign them, and saves the resulting proofs.
func (e *executor) mint(quoteId string) (cashu.Proofs, error) {
	e.lockMutex()
	defer e.unlockMutex()

	quote := e.db.GetMintQuoteById(quoteId)
	if quote == nil {
		return nil, ErrQuoteNotFound
	}

	state, err := e.quotes.checkMintQuote(quoteId)
	if err != nil {
		return nil, err
	}
	if state.State == nut04.Unpaid {
		return nil, ErrInvoiceNotPaidYet
	}
	if state.State == nut04.Issued {
		return nil, ErrQuoteNotFound
	}

	ks, err := e.registry.activeKeyset(quote.Mint)
	if err != nil {
		return nil, err
	}

	amounts := splitAmount(quote.Amount)
	counter := e.seeds.counter(ks.Id)
	if err := e.seeds.bumpCounter(ks.Id, len(amounts)); err != nil {
		return nil, err
	}

	outputs, secrets, rs, err := e.blindOutputs(ks.Id, amounts, counter)
	if err != nil {
		e.seeds.bumpCounter(ks.Id, -len(amounts))
		return nil, err
	}

	mintReq := nut04.PostMintBolt11Request{Quote: quoteId, Outputs: outputs}
	if quote.PrivateKey != nil {
		sig, err := nut20.SignMintQuote(quote.PrivateKey, quoteId, outputs)
		if err != nil {
			e.seeds.bumpCounter(ks.Id, -len(amounts))
			return nil, fmt.Errorf("error signing NUT-20 mint request: %v", err)
		}
		mintReq.Signature = hex.EncodeToString(sig.Serialize())
	}

	resp, err := client.PostMintBolt11(quote.Mint, mintReq)
	if err != nil {
		return nil, e.alreadySignedOrWrap(ks.Id, len(amounts), err)
	}

	proofs, err := constructProofs(resp.Signatures, ks.Id, secrets, rs, ks.PublicKeys)
	if err != nil {
		return nil, err
	}
	if err := e.proofs.add(proofs); err != nil {
		return nil, err
	}

	quote.State = nut04.Issued
	quote.SettledAt = quote.CreatedAt
	e.db.SaveMintQuote(*quote)

	if inv := e.db.GetInvoiceByQuoteId(quoteId); inv != nil {
		inv.Status = storage.InvoiceStatusPaid
		e.db.SaveInvoice(*inv)
	}

	return proofs, nil
}

// sendLocked implements Send/Split without acquiring the executor
// mutex, so melt() can call it while already holding the lock.
// It selects candidate proofs covering amount (plus fees, if
// includeFees), reserves them, and — unless they already sum exactly
// to the target — swaps them for a fresh keep/send split. quoteId,
// when non-empty, binds the final send-side reservation to a melt
// quote instead of leaving it generically reserved.
func (e *executor) sendLocked(available cashu.Proofs, amount uint64, invalidate bool, includeFees bool, quoteId string) (keep cashu.Proofs, send cashu.Proofs, err error) {
	candidates := e.selector.selectProofs(available, amount, includeFees)
	if candidates == nil {
		candidates = e.selector.selectBase64Legacy(available, amount)
	}
	if candidates == nil {
		return nil, nil, ErrBalanceTooLow
	}

	total := candidates.Amount()
	var fees uint64
	if includeFees {
		fees = e.selector.getFeesForProofs(candidates)
	}

	// exact match: candidates themselves become the send set, reserved
	// directly under quoteId with no swap needed.
	if total == amount+fees {
		if err := e.proofs.setReserved(candidates, true, quoteId); err != nil {
			return nil, nil, err
		}
		return nil, candidates, nil
	}

	if err := e.proofs.setReserved(candidates, true, ""); err != nil {
		return nil, nil, err
	}
	rollback := func() { e.proofs.setReserved(candidates, false, "") }

	mintURL := e.registry.activeMintURL()
	ks, err := e.registry.activeKeyset(mintURL)
	if err != nil {
		rollback()
		return nil, nil, err
	}

	sendAmounts := splitAmount(amount + fees)
	keepAmounts := splitAmount(total - amount - fees)
	allAmounts := append(append([]uint64{}, sendAmounts...), keepAmounts...)

	counter := e.seeds.counter(ks.Id)
	if err := e.seeds.bumpCounter(ks.Id, len(allAmounts)); err != nil {
		rollback()
		return nil, nil, err
	}

	outputs, secrets, rs, err := e.blindOutputs(ks.Id, allAmounts, counter)
	if err != nil {
		e.seeds.bumpCounter(ks.Id, -len(allAmounts))
		rollback()
		return nil, nil, err
	}

	resp, err := client.PostSwap(mintURL, nut03.PostSwapRequest{Inputs: candidates, Outputs: outputs})
	if err != nil {
		wrapped := e.alreadySignedOrWrap(ks.Id, len(allAmounts), err)
		rollback()
		return nil, nil, wrapped
	}

	allProofs, err := constructProofs(resp.Signatures, ks.Id, secrets, rs, ks.PublicKeys)
	if err != nil {
		rollback()
		return nil, nil, err
	}

	sendProofs := allProofs[:len(sendAmounts)]
	keepProofs := allProofs[len(sendAmounts):]

	// candidates are fully consumed by the swap: unreserve them back to
	// spendable, then delete outright, and replace with the fresh split.
	e.proofs.setReserved(candidates, false, "")
	if err := e.proofs.remove(candidates); err != nil {
		return nil, nil, err
	}
	if err := e.proofs.add(keepProofs); err != nil {
		return nil, nil, err
	}
	if err := e.proofs.add(sendProofs); err != nil {
		return nil, nil, err
	}
	if err := e.proofs.setReserved(sendProofs, true, quoteId); err != nil {
		return nil, nil, err
	}

	if invalidate {
		e.proofs.remove(sendProofs)
	}

	return keepProofs, sendProofs, nil
}

// send is the public Send/Split entry point: same as sendLocked, but
// takes the executor mutex first.
func (e *executor) send(available cashu.Proofs, amount uint64, invalidate bool, includeFees bool) (keep cashu.Proofs, send cashu.Proofs, err error) {
	e.lockMutex()
	defer e.unlockMutex()
	return e.sendLocked(available, amount, invalidate, includeFees, "")
}

// changeOutputCount sizes the number of blank outputs offered to the
// mint for melt change: enough binary denominations to cover
// feeReserve exactly, per NUT-08's "ceil(log2(fee_reserve))" rule.
func changeOutputCount(feeReserve uint64) int {
	if feeReserve == 0 {
		return 0
	}
	n := int(math.Ceil(math.Log2(float64(feeReserve))))
	if n < 1 {
		n = 1
	}
	return n
}

// melt pays a BOLT-11 invoice against an already-fetched melt quote:
// it reserves inputs covering amount+fee_reserve, asks the mint to pay,
// and on a confirmed-unpaid failure unreserves the inputs and gives
// back the counter range taken for change outputs; the counter range
// of the swap that produced the inputs is not given back. A PAID or
// PENDING failure response, or a failure while the wallet is unloading,
// is left reserved and counted, since the payment may still have gone
// through.
func (e *executor) melt(session *PayInvoiceSession, quote *nut05.PostMeltQuoteBolt11Response, mintURL, request string) (*storage.Invoice, cashu.Proofs, error) {
	if !session.tryBlock() {
		return nil, nil, ErrAlreadyProcessingQuote
	}
	defer session.unblock()

	e.lockMutex()
	defer e.unlockMutex()

	amount := quote.Amount + quote.FeeReserve

	ids := map[string]bool{}
	for _, ks := range e.registry.keysets(mintURL) {
		ids[ks.Id] = true
	}
	available := e.proofs.allForMint(ids)

	_, sendProofs, err := e.sendLocked(available, amount, false, true, quote.Quote)
	if err != nil {
		return nil, nil, err
	}

	invoice := storage.Invoice{
		TransactionType: storage.Melt,
		Id:              quote.Quote,
		Mint:            mintURL,
		Amount:          -int64(amount),
		Memo:            "Outgoing invoice",
		Unit:            e.registry.unit(),
		Status:          storage.InvoiceStatusPending,
		PaymentRequest:  request,
		// PaymentHash doubles as the ledger key; the quote id stands in
		// for it, since the BOLT-11 payment hash is not passed in here.
		PaymentHash: quote.Quote,
		QuoteExpiry: uint64(quote.Expiry),
	}
	if err := e.db.SaveInvoice(invoice); err != nil {
		return nil, nil, err
	}

	n := changeOutputCount(quote.FeeReserve)
	var changeOutputs cashu.BlindedMessages
	var changeSecrets []string
	var changeRs []*secp256k1.PrivateKey
	var ks *crypto.WalletKeyset
	var counter uint32

	if n > 0 {
		ks, err = e.registry.activeKeyset(mintURL)
		if err == nil {
			counter = e.seeds.counter(ks.Id)
			changeAmounts := splitAmount((uint64(1) << uint(n)) - 1)
			if err := e.seeds.bumpCounter(ks.Id, len(changeAmounts)); err == nil {
				changeOutputs, changeSecrets, changeRs, err = e.blindOutputs(ks.Id, changeAmounts, counter)
				if err != nil {
					e.seeds.bumpCounter(ks.Id, -len(changeAmounts))
					changeOutputs = nil
				}
			}
		}
	}

	resp, err := client.PostMeltBolt11(mintURL, nut05.PostMeltBolt11Request{
		Quote:   quote.Quote,
		Inputs:  sendProofs,
		Outputs: changeOutputs,
	})

	if err != nil || !resp.Paid {
		if e.unloading {
			return nil, nil, ErrUnloading
		}

		state, stateErr := client.GetMeltQuoteState(mintURL, quote.Quote)
		if stateErr == nil && (state.State == nut05.Paid || state.State == nut05.Pending) {
			return nil, nil, ErrPaymentPossiblyInFlight
		}

		// confirmed unpaid: give back the change-output counter range,
		// release the reserved inputs and drop the pending history entry.
		if changeOutputs != nil {
			e.seeds.bumpCounter(ks.Id, -len(changeOutputs))
		}
		e.proofs.releaseByQuote(quote.Quote)
		e.db.DeleteInvoice(invoice.PaymentHash)
		if err != nil {
			return nil, nil, assertMintError(err)
		}
		return nil, nil, ErrPaymentFailed
	}

	// payment confirmed: the reserved inputs are spent, redeem any
	// change, and record the settled outgoing entry.
	spent, relErr := e.proofs.releaseByQuote(quote.Quote)
	if relErr == nil {
		e.proofs.remove(spent)
	}

	var changeProofs cashu.Proofs
	amountPaid := amount
	if len(resp.Change) > 0 && ks != nil {
		changeProofs, err = constructProofs(resp.Change, ks.Id, changeSecrets[:len(resp.Change)], changeRs[:len(resp.Change)], ks.PublicKeys)
		if err == nil {
			e.proofs.add(changeProofs)
			amountPaid = amount - changeProofs.Amount()
		}
	}

	invoice.Status = storage.InvoiceStatusPaid
	invoice.Amount = -int64(amountPaid)
	invoice.Preimage = resp.Preimage
	invoice.Paid = true
	e.db.SaveInvoice(invoice)

	return &invoice, changeProofs, nil
}
