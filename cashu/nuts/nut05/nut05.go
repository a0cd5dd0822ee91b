// Package nut05 contains structs as defined in [NUT-05]
//
// [NUT-05]: https://github.com/cashubtc/nuts/blob/main/05.md
package nut05

import (
	"encoding/json"
	"errors"

	"github.com/lollerfirst/cashuwallet/cashu"
)

// State is the lifecycle of a melt quote.
type State int

const (
	Unpaid State = iota
	Pending
	Paid
	UnknownState
)

func (state State) String() string {
	switch state {
	case Unpaid:
		return "UNPAID"
	case Pending:
		return "PENDING"
	case Paid:
		return "PAID"
	default:
		return "unknown"
	}
}

func StringToState(state string) State {
	switch state {
	case "UNPAID":
		return Unpaid
	case "PENDING":
		return Pending
	case "PAID":
		return Paid
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
		return errors.New("invalid melt quote state: " + s)
	}
	*state = val
	return nil
}

// MppOptions carries the NUT-15 multi-path-payment amount: the portion,
// in the request unit, that this particular mint is asked to pay out of
// a larger multi-mint payment.
type MppOptions struct {
	Amount uint64 `json:"amount"`
}

type PostMeltQuoteOptions struct {
	Mpp *MppOptions `json:"mpp,omitempty"`
}

type PostMeltQuoteBolt11Request struct {
	Request string                `json:"request"`
	Unit    string                `json:"unit"`
	Options *PostMeltQuoteOptions `json:"options,omitempty"`
}

type PostMeltQuoteBolt11Response struct {
	Quote      string `json:"quote"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	State      State  `json:"state"`
	Expiry     int64  `json:"expiry"`
	Preimage   string `json:"payment_preimage"`
	// Paid is kept for mints that still speak the pre-NUT05-state API.
	Paid bool `json:"paid,omitempty"`
}

type PostMeltBolt11Request struct {
	Quote  string       `json:"quote"`
	Inputs cashu.Proofs `json:"inputs"`
	// Outputs are blank blinded messages the mint can sign change into,
	// used to recover the difference between amount and actual fee paid.
	Outputs cashu.BlindedMessages `json:"outputs,omitempty"`
}

type PostMeltBolt11Response struct {
	Paid     bool                    `json:"paid"`
	Preimage string                  `json:"payment_preimage"`
	Change   cashu.BlindedSignatures `json:"change,omitempty"`
}
