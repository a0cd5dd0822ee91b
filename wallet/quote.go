package wallet

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lollerfirst/cashuwallet/cashu"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut04"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut05"
	"github.com/lollerfirst/cashuwallet/wallet/client"
	"github.com/lollerfirst/cashuwallet/wallet/storage"
)

// PayInvoiceSession is the transient, UI-bound state of one in-flight
// "pay this request" interaction: the decoded target, whatever quotes
// have been fetched for it, and the blocking latch that prevents two
// quote requests from racing each other.
type PayInvoiceSession struct {
	mu       sync.Mutex
	blocking bool

	Bolt11      string
	AmountSat   uint64
	PaymentHash string
	Description string
	ExpireDate  int64

	MeltQuoteMint string
	MeltQuote     *nut05.PostMeltQuoteBolt11Response

	MultiMintQuotes []MultiMintQuotePayload

	LastError error
}

// MultiMintQuotePayload is one mint's slice of a multi-path payment:
// the partial amount it was asked to pay, and the quote it returned
// for that partial.
type MultiMintQuotePayload struct {
	Mint    string
	Partial uint64
	Quote   *nut05.PostMeltQuoteBolt11Response
}

// tryBlock acquires the latch, failing if it is already held.
func (s *PayInvoiceSession) tryBlock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocking {
		return false
	}
	s.blocking = true
	return true
}

func (s *PayInvoiceSession) unblock() {
	s.mu.Lock()
	s.blocking = false
	s.mu.Unlock()
}

// quoteEngine is the Quote Engine: it creates and polls mint-quotes and
// melt-quotes, including the NUT-15 multi-path fan-out, and records
// InvoiceHistory entries for the wallet engine.
type quoteEngine struct {
	db       storage.WalletDB
	registry *mintRegistry
}

func newQuoteEngine(db storage.WalletDB, registry *mintRegistry) *quoteEngine {
	return &quoteEngine{db: db, registry: registry}
}

// requestMintQuote asks the active mint for a bolt11 invoice to mint
// amount sats against, and records a pending incoming history entry.
// When lock is set, the quote is locked to a freshly generated NUT-20
// key: only a request signed by that key can later redeem it, so the
// quote survives interception of the payment request alone.
func (q *quoteEngine) requestMintQuote(amount uint64, lock bool) (*storage.MintQuote, error) {
	mintURL := q.registry.activeMintURL()

	req := nut04.PostMintQuoteBolt11Request{
		Amount: amount,
		Unit:   q.registry.unit(),
	}

	var lockingKey *secp256k1.PrivateKey
	if lock {
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("error generating NUT-20 locking key: %v", err)
		}
		lockingKey = priv
		req.Pubkey = hex.EncodeToString(priv.PubKey().SerializeCompressed())
	}

	resp, err := client.PostMintQuoteBolt11(mintURL, req)
	if err != nil {
		return nil, assertMintError(err)
	}

	quote := storage.MintQuote{
		QuoteId:        resp.Quote,
		Mint:           mintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          resp.State,
		Unit:           q.registry.unit(),
		PaymentRequest: resp.Request,
		Amount:         amount,
		QuoteExpiry:    uint64(resp.Expiry),
		PrivateKey:     lockingKey,
	}
	if err := q.db.SaveMintQuote(quote); err != nil {
		return nil, err
	}

	if err := q.db.SaveInvoice(storage.Invoice{
		TransactionType: storage.Mint,
		Id:              resp.Quote,
		Mint:            mintURL,
		Amount:          int64(amount),
		Memo:            "Incoming invoice",
		Unit:            q.registry.unit(),
		Status:          storage.InvoiceStatusPending,
		PaymentRequest:  resp.Request,
		// PaymentHash doubles as the ledger key; the quote id stands in
		// for it, since the returned request is not decoded here.
		PaymentHash: resp.Quote,
		QuoteExpiry: uint64(resp.Expiry),
	}); err != nil {
		return nil, err
	}

	return &quote, nil
}

func (q *quoteEngine) checkMintQuote(quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	quote := q.db.GetMintQuoteById(quoteId)
	if quote == nil {
		return nil, ErrQuoteNotFound
	}
	resp, err := client.GetMintQuoteState(quote.Mint, quoteId)
	if err != nil {
		return nil, assertMintError(err)
	}
	quote.State = resp.State
	q.db.SaveMintQuote(*quote)
	return resp, nil
}

// meltQuote requests a single-mint melt quote for request, under the
// session's blocking latch.
func (q *quoteEngine) meltQuote(session *PayInvoiceSession, request string) (*nut05.PostMeltQuoteBolt11Response, error) {
	if !session.tryBlock() {
		return nil, ErrAlreadyProcessingQuote
	}
	defer session.unblock()

	mintURL := q.registry.activeMintURL()
	resp, err := client.PostMeltQuoteBolt11(mintURL, nut05.PostMeltQuoteBolt11Request{
		Request: request,
		Unit:    q.registry.unit(),
	})
	if err != nil {
		session.LastError = assertMintError(err)
		return nil, session.LastError
	}

	session.MeltQuoteMint = mintURL
	session.MeltQuote = resp
	session.LastError = nil
	return resp, nil
}

// multiPathMeltQuotes fans a single BOLT-11 invoice out across every
// mint that advertises NUT-15 support for (bolt11, sat), sequentially
// requesting one melt-quote per mint with its allotted partial amount.
func (q *quoteEngine) multiPathMeltQuotes(session *PayInvoiceSession, request string, invoiceSat uint64) ([]MultiMintQuotePayload, error) {
	mints, overall, weights := q.registry.multiMintBalance(cashu.BOLT11_METHOD, q.registry.unit())
	if len(mints) == 0 {
		return nil, ErrNoMintSupportsMPP
	}
	if overall < invoiceSat {
		return nil, ErrInsufficientMultiMintBalance
	}

	partials := allocatePartials(invoiceSat, weights)

	payloads := make([]MultiMintQuotePayload, 0, len(mints))
	for i, mintURL := range mints {
		partial := partials[i]
		if partial <= 0 {
			continue
		}

		resp, err := client.PostMeltQuoteBolt11(mintURL, nut05.PostMeltQuoteBolt11Request{
			Request: request,
			Unit:    q.registry.unit(),
			Options: &nut05.PostMeltQuoteOptions{Mpp: &nut05.MppOptions{Amount: uint64(partial)}},
		})
		if err != nil {
			return nil, fmt.Errorf("mpp melt quote failed at mint %s: %v", mintURL, assertMintError(err))
		}

		payloads = append(payloads, MultiMintQuotePayload{Mint: mintURL, Partial: uint64(partial), Quote: resp})
	}

	session.MultiMintQuotes = payloads
	return payloads, nil
}

// allocatePartials splits total across weights using fixed-point
// round-with-carry: each weight is converted once to an integer
// numerator in millionths, then every mint's share is computed by exact
// integer division with the remainder carried into the next mint's
// numerator. Unlike accumulating the rounding error in a float
// (which can drift over many mints), the carry here is an integer
// count of millionths, so the total is exact by construction except
// for the single final rounding absorbed by the last mint.
func allocatePartials(total uint64, weights []float64) []int64 {
	const precision = 1_000_000

	basisPoints := make([]int64, len(weights))
	for i, w := range weights {
		basisPoints[i] = int64(w*precision + 0.5)
	}

	partials := make([]int64, len(weights))
	var carry int64
	var allocated int64
	for i, bp := range basisPoints {
		if i == len(basisPoints)-1 {
			partials[i] = int64(total) - allocated
			continue
		}
		numerator := int64(total)*bp + carry
		share := numerator / precision
		carry = numerator % precision
		partials[i] = share
		allocated += share
	}
	return partials
}
