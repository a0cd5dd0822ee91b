//go:build ignore_vet
// +build ignore_vet

package main

import (
	"fmt"
	"time"

	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut04"
	"github.com/lollerfirst/cashuwallet/wallet"
)

func main() {
	config := wallet.Config{
		WalletPath:     "./cashu",
		CurrentMintURL: "http://localhost:3338",
	}

	w, err := wallet.LoadWallet(config)
	if err != nil {
		panic(err)
	}
	defer w.Shutdown()

	// Mint tokens
	mintQuote, err := w.RequestMint(42)
	if err != nil {
		panic(err)
	}

	// Check quote state
	quoteState, err := w.MintQuoteState(mintQuote.QuoteId)
	if err == nil && quoteState.State == nut04.Paid {
		// Mint tokens if invoice paid
		if _, err := w.MintTokens(mintQuote.QuoteId); err != nil {
			panic(err)
		}
	}

	// Send
	includeFees := true
	invalidate := false
	includeDLEQProof := false
	token, err := w.SendToken(21, includeFees, invalidate, includeDLEQProof)
	if err != nil {
		panic(err)
	}
	fmt.Println(token)

	// Wait for the recipient to redeem the sent token
	if redeemed, err := w.AwaitTokenRedeemed(token, 2*time.Minute); err == nil && redeemed {
		fmt.Println("token redeemed by recipient")
	}

	// Receive
	if _, err := w.Receive("cashuBo2FtdWh0dHBzOi8v..."); err != nil {
		panic(err)
	}

	// Pay an invoice: decode, quote, melt
	decoded, err := w.DecodeRequest("lnbc100n1pja0w9pdqqx...")
	if err != nil {
		panic(err)
	}
	session := w.NewPayInvoiceSession(decoded)
	if _, err := w.MeltQuote(session); err != nil {
		panic(err)
	}
	if _, _, err := w.Melt(session); err != nil {
		panic(err)
	}

	// Wait for an incoming mint quote to be paid
	if err := w.AwaitMintQuote(mintQuote.QuoteId, 2*time.Minute); err != nil {
		fmt.Println("quote not settled:", err)
	}
}
