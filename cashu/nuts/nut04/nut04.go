// Package nut04 contains structs as defined in [NUT-04]
//
// [NUT-04]: https://github.com/cashubtc/nuts/blob/main/04.md
package nut04

import (
	"encoding/json"
	"errors"

	"github.com/lollerfirst/cashuwallet/cashu"
)

// State is the lifecycle of a mint quote: a quote starts UNPAID, moves to
// PAID once the mint observes the underlying invoice settle, and finally
// to ISSUED once the wallet has redeemed it for blind signatures.
type State int

const (
	Unpaid State = iota
	Paid
	Issued
	UnknownState
)

func (state State) String() string {
	switch state {
	case Unpaid:
		return "UNPAID"
	case Paid:
		return "PAID"
	case Issued:
		return "ISSUED"
	default:
		return "unknown"
	}
}

func StringToState(state string) State {
	switch state {
	case "UNPAID":
		return Unpaid
	case "PAID":
		return Paid
	case "ISSUED":
		return Issued
	}
	return UnknownState
}

func (state State) MarshalJSON() ([]byte, error) {
	return json.Marshal(state.String())
}

func (state *State) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	val := StringToState(s)
	if val == UnknownState {
		return errors.New("invalid mint quote state: " + s)
	}
	*state = val
	return nil
}

type PostMintQuoteBolt11Request struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
	// Pubkey is an optional NUT-20 public key the mint should bind the
	// quote to, requiring a signature over the mint request.
	Pubkey string `json:"pubkey,omitempty"`
}

type PostMintQuoteBolt11Response struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	State   State  `json:"state"`
	Expiry  int64  `json:"expiry"`
	// Paid is kept for mints that still speak the pre-NUT04-state API.
	Paid bool `json:"paid,omitempty"`
}

type PostMintBolt11Request struct {
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
	// Signature is the NUT-20 schnorr signature over quote+outputs when
	// the quote was created with a pubkey.
	Signature string `json:"signature,omitempty"`
}

type PostMintBolt11Response struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
