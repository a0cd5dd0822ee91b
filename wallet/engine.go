package wallet

import (
	"fmt"
	"time"

	"github.com/lollerfirst/cashuwallet/cashu"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut03"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut05"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut06"
	"github.com/lollerfirst/cashuwallet/wallet/client"
	"github.com/lollerfirst/cashuwallet/wallet/storage"
)

// Wallet is the assembled engine: every collaborator (C1-C8) wired
// together behind the public operations a UI or CLI drives.
type Wallet struct {
	db        storage.WalletDB
	seeds     *seedStore
	proofs    *proofStore
	registry  *mintRegistry
	selector  *coinSelector
	quotes    *quoteEngine
	executor  *executor
	reconcile *reconciler
}

// LoadWallet opens (or initializes) the wallet at cfg.WalletPath and
// wires every collaborator together. If CurrentMintURL is set and not
// yet known, its keysets are fetched and it becomes the active mint.
func LoadWallet(cfg Config) (*Wallet, error) {
	db, err := storage.InitBolt(cfg.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("error starting wallet database: %v", err)
	}

	seeds, err := newSeedStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	proofs := newProofStore(db)
	registry := newMintRegistry(db, seeds, proofs, cfg.CurrentMintURL, cfg.CurrentUnit)
	selector := newCoinSelector(registry)
	quotes := newQuoteEngine(db, registry)
	exec := newExecutor(db, seeds, proofs, registry, selector, quotes)
	reconcile := newReconciler(db, proofs, registry, quotes)

	w := &Wallet{
		db:        db,
		seeds:     seeds,
		proofs:    proofs,
		registry:  registry,
		selector:  selector,
		quotes:    quotes,
		executor:  exec,
		reconcile: reconcile,
	}

	if cfg.CurrentMintURL != "" && len(registry.keysets(cfg.CurrentMintURL)) == 0 {
		if err := registry.activateMintURL(cfg.CurrentMintURL); err != nil {
			db.Close()
			return nil, err
		}
	}

	return w, nil
}

// Shutdown marks the wallet as unloading (suppressing melt rollback on
// failure) and closes the underlying store.
func (w *Wallet) Shutdown() error {
	w.executor.setUnloading()
	return w.db.Close()
}

// CurrentMint returns the active mint URL.
func (w *Wallet) CurrentMint() string { return w.registry.activeMintURL() }

// Mints lists every mint the wallet knows about.
func (w *Wallet) Mints() []string {
	seen := map[string]bool{}
	var out []string
	for mintURL := range w.db.GetKeysets() {
		if !seen[mintURL] {
			seen[mintURL] = true
			out = append(out, mintURL)
		}
	}
	return out
}

// AddMint fetches mintURL's keysets and makes it the active mint.
func (w *Wallet) AddMint(mintURL string) error {
	return w.registry.activateMintURL(mintURL)
}

// SwitchMint changes the active mint to an already-known mintURL.
func (w *Wallet) SwitchMint(mintURL string) error {
	if len(w.registry.keysets(mintURL)) == 0 {
		return ErrNoKeysets
	}
	w.registry.activeMint = mintURL
	return nil
}

// MintInfo fetches mintURL's NUT-06 info document.
func (w *Wallet) MintInfo(mintURL string) (*nut06.MintInfo, error) {
	return w.registry.info(mintURL)
}

// Balance returns the spendable balance at the active mint.
func (w *Wallet) Balance() uint64 {
	return w.registry.activeMintBalance()
}

// RequestMint asks the active mint for an invoice to mint amount sats.
func (w *Wallet) RequestMint(amount uint64) (*storage.MintQuote, error) {
	return w.quotes.requestMintQuote(amount, false)
}

// RequestLockedMint is RequestMint with a NUT-20 signature lock: the
// mint quote can only be redeemed by a request signed with the
// generated key, which LoadWallet's database persists alongside the
// quote.
func (w *Wallet) RequestLockedMint(amount uint64) (*storage.MintQuote, error) {
	return w.quotes.requestMintQuote(amount, true)
}

// MintQuoteState polls and returns a mint quote's current state.
func (w *Wallet) MintQuoteState(quoteId string) (*storage.MintQuote, error) {
	if _, err := w.quotes.checkMintQuote(quoteId); err != nil {
		return nil, err
	}
	return w.db.GetMintQuoteById(quoteId), nil
}

// MintTokens redeems a paid mint quote into spendable proofs.
func (w *Wallet) MintTokens(quoteId string) (cashu.Proofs, error) {
	return w.executor.mint(quoteId)
}

// Send selects amount sats worth of proofs (plus fees, if
// includeFees), splits them if necessary, and returns the keep and
// send halves. If invalidate is set, the send proofs are immediately
// removed from local storage (self-burn, for when the caller is about
// to hand the serialized token to someone else and never wants to see
// it again even if the receive never confirms).
func (w *Wallet) Send(amount uint64, includeFees bool, invalidate bool) (keep cashu.Proofs, send cashu.Proofs, err error) {
	available := w.proofs.allForMint(w.registry.activeMintKeysetIds())
	return w.executor.send(available, amount, invalidate, includeFees)
}

// SendToken is Send followed by serialization into a "cashuB..." token.
func (w *Wallet) SendToken(amount uint64, includeFees bool, invalidate bool, includeDLEQ bool) (string, error) {
	_, send, err := w.Send(amount, includeFees, invalidate)
	if err != nil {
		return "", err
	}
	return w.proofs.serialize(send, w.registry.activeMintURL(), cashu.Sat, includeDLEQ)
}

// Receive decodes a serialized token, activates its mint if unknown,
// and swaps its proofs for fresh ones under this wallet's own secrets.
func (w *Wallet) Receive(tokenStr string) (cashu.Proofs, error) {
	token, err := cashu.DecodeToken(tokenStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	mintURL := token.Mint()
	if len(w.registry.keysets(mintURL)) == 0 {
		if err := w.registry.activateMintURL(mintURL); err != nil {
			return nil, err
		}
	}

	proofs := token.Proofs()
	amount := proofs.Amount()

	w.executor.lockMutex()
	defer w.executor.unlockMutex()

	ks, err := w.registry.activeKeyset(mintURL)
	if err != nil {
		return nil, err
	}

	fees := w.selector.getFeesForProofs(proofs)
	receiveAmount := amount - fees
	if fees >= amount {
		return nil, fmt.Errorf("token amount %d too small to cover input fees", amount)
	}

	swapAmounts := splitAmount(receiveAmount)
	counter := w.seeds.counter(ks.Id)
	if err := w.seeds.bumpCounter(ks.Id, len(swapAmounts)); err != nil {
		return nil, err
	}

	outputs, secrets, rs, err := w.executor.blindOutputs(ks.Id, swapAmounts, counter)
	if err != nil {
		w.seeds.bumpCounter(ks.Id, -len(swapAmounts))
		return nil, err
	}

	resp, err := client.PostSwap(mintURL, nut03.PostSwapRequest{Inputs: proofs, Outputs: outputs})
	if err != nil {
		return nil, w.executor.alreadySignedOrWrap(ks.Id, len(swapAmounts), err)
	}

	newProofs, err := constructProofs(resp.Signatures, ks.Id, secrets, rs, ks.PublicKeys)
	if err != nil {
		return nil, err
	}
	if err := w.proofs.add(newProofs); err != nil {
		return nil, err
	}

	return newProofs, nil
}

// DecodeRequest classifies a pasted/scanned request string.
func (w *Wallet) DecodeRequest(input string) (*DecodedRequest, error) {
	return decodeRequest(input)
}

// NewPayInvoiceSession starts a fresh session for paying a decoded
// BOLT-11 target.
func (w *Wallet) NewPayInvoiceSession(decoded *DecodedRequest) *PayInvoiceSession {
	return &PayInvoiceSession{
		Bolt11:      decoded.Bolt11,
		AmountSat:   decoded.AmountSat,
		PaymentHash: decoded.PaymentHash,
		Description: decoded.Description,
		ExpireDate:  decoded.ExpireDate,
	}
}

// MeltQuote fetches a single-mint melt quote for the session's target.
func (w *Wallet) MeltQuote(session *PayInvoiceSession) (*nut05.PostMeltQuoteBolt11Response, error) {
	return w.quotes.meltQuote(session, session.Bolt11)
}

// MultiPathMeltQuotes fans the session's target out across every
// NUT-15-capable mint the wallet knows.
func (w *Wallet) MultiPathMeltQuotes(session *PayInvoiceSession) ([]MultiMintQuotePayload, error) {
	return w.quotes.multiPathMeltQuotes(session, session.Bolt11, session.AmountSat)
}

// Melt pays the session's already-quoted BOLT-11 invoice.
func (w *Wallet) Melt(session *PayInvoiceSession) (*storage.Invoice, cashu.Proofs, error) {
	if session.MeltQuote == nil {
		return nil, nil, ErrQuoteNotFound
	}
	return w.executor.melt(session, session.MeltQuote, session.MeltQuoteMint, session.Bolt11)
}

// ResolveLnurlPay fetches a LNURL-pay endpoint's parameters.
func (w *Wallet) ResolveLnurlPay(endpoint string) (*LnurlPayParams, error) {
	return fetchLnurlPayParams(endpoint)
}

// PayLnurl resolves amountSat (converting from USD first, if the
// active unit is usd) into an invoice via the LNURL callback, then
// decodes it exactly like a pasted BOLT-11 string.
func (w *Wallet) PayLnurl(params *LnurlPayParams, amountSat uint64) (*DecodedRequest, error) {
	if w.registry.unit() == "usd" {
		sats, err := usdToSats(float64(amountSat))
		if err != nil {
			return nil, err
		}
		amountSat = sats
	}

	invoice, err := requestLnurlInvoice(params.Callback, amountSat*1000)
	if err != nil {
		return nil, err
	}
	return decodeRequest(invoice)
}

// CheckProofsSpendable reconciles the wallet's own unreserved proofs
// against mintURL's NUT-07 state, pruning any already spent.
func (w *Wallet) CheckProofsSpendable() error {
	mintURL := w.registry.activeMintURL()
	_, _, err := w.reconcile.checkProofsSpendable(mintURL, w.proofs.unreserved())
	return err
}

// CheckTokenSpendable reports whether every proof in tokenStr is still
// unspent.
func (w *Wallet) CheckTokenSpendable(tokenStr string) (bool, error) {
	return w.reconcile.checkTokenSpendable(tokenStr)
}

// AwaitMintQuote blocks (subscribing via NUT-17 where supported, else
// polling) until a mint quote settles or timeout elapses.
func (w *Wallet) AwaitMintQuote(quoteId string, timeout time.Duration) error {
	mintURL := w.registry.activeMintURL()
	_, err := w.reconcile.onMintQuotePaid(mintURL, quoteId, time.Now().Add(timeout))
	return err
}

// AwaitTokenRedeemed blocks (subscribing via NUT-17 where supported,
// else polling) until a token this wallet sent is observed redeemed by
// its recipient, or timeout elapses.
func (w *Wallet) AwaitTokenRedeemed(tokenStr string, timeout time.Duration) (bool, error) {
	return w.reconcile.onTokenPaid(tokenStr, time.Now().Add(timeout))
}

// InvoiceHistory returns every recorded incoming/outgoing ledger entry.
func (w *Wallet) InvoiceHistory() []storage.Invoice {
	return w.db.GetInvoices()
}

// RotateMnemonic archives the current mnemonic and counters, and
// starts a fresh one.
func (w *Wallet) RotateMnemonic(now int64) (string, error) {
	return w.seeds.rotateMnemonic(now)
}

// Mnemonic returns the wallet's current recovery phrase.
func (w *Wallet) Mnemonic() string {
	return w.seeds.db.GetMnemonic()
}
