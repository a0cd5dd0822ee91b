package wallet

import "errors"

// Error kinds surfaced by the engine. Mint-side errors pass through
// unwrapped as a *cashu.Error; these are the engine's own.
var (
	ErrNoKeysets              = errors.New("mint has no keysets")
	ErrNoActiveKeysetForUnit  = errors.New("no active keyset for unit")
	ErrBalanceTooLow          = errors.New("balance too low")
	ErrInvoiceNotPaidYet      = errors.New("invoice not paid yet")
	ErrInvoiceStillPending    = errors.New("invoice payment still pending")
	ErrAlreadyProcessingQuote = errors.New("already processing a quote for this session")
	ErrInsufficientMultiMintBalance = errors.New("insufficient balance across mints for multi-path payment")
	ErrNoMintSupportsMPP      = errors.New("no known mint supports multi-path payments for this unit")
	ErrOutputsAlreadySigned   = errors.New("outputs already signed, retry requested")
	ErrPaymentFailed          = errors.New("payment failed")
	ErrPaymentPossiblyInFlight = errors.New("payment may have gone through, not rolling back")
	ErrUnloading              = errors.New("wallet is shutting down")
	ErrDecodeFailed           = errors.New("could not decode request")
	ErrLNURLError             = errors.New("lnurl endpoint returned an error")
	ErrQuoteNotFound          = errors.New("quote not found")
	ErrMintNotActive          = errors.New("no active mint set")
	ErrDLEQVerificationFailed = errors.New("mint signature failed DLEQ verification")
	ErrTokenStillPending      = errors.New("token not yet redeemed")
)
