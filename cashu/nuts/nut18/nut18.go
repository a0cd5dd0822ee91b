// Package nut18 contains structs as defined in [NUT-18]
//
// [NUT-18]: https://github.com/cashubtc/nuts/blob/main/18.md
package nut18

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Transport is one way a PaymentRequest's fulfillment (a Token) can be
// delivered back to the requester.
type Transport struct {
	Type   string `cbor:"t"`
	Target string `cbor:"a"`
	Tags   [][]string `cbor:"g,omitempty"`
}

// PaymentRequest is a "creqA..." request for payment: an optional fixed
// amount and unit, the mints the payer may draw from, and how the
// resulting token should be delivered.
type PaymentRequest struct {
	Id          string      `cbor:"i,omitempty"`
	Amount      uint64      `cbor:"a,omitempty"`
	Unit        string      `cbor:"u,omitempty"`
	SingleUse   bool        `cbor:"s,omitempty"`
	Mints       []string    `cbor:"m,omitempty"`
	Description string      `cbor:"d,omitempty"`
	Transports  []Transport `cbor:"t,omitempty"`
}

// Encode serializes req into a "creqA..." string.
func (req PaymentRequest) Encode() (string, error) {
	raw, err := cbor.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("cbor.Marshal: %v", err)
	}
	return "creqA" + base64.URLEncoding.EncodeToString(raw), nil
}

// Decode parses a "creqA..." string into a PaymentRequest.
func Decode(requestStr string) (*PaymentRequest, error) {
	const prefix = "creqA"
	if len(requestStr) < len(prefix) || requestStr[:len(prefix)] != prefix {
		return nil, fmt.Errorf("invalid payment request: missing %q prefix", prefix)
	}

	raw, err := base64.URLEncoding.DecodeString(requestStr[len(prefix):])
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(requestStr[len(prefix):])
		if err != nil {
			return nil, fmt.Errorf("error decoding payment request: %v", err)
		}
	}

	var req PaymentRequest
	if err := cbor.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("cbor.Unmarshal: %v", err)
	}
	return &req, nil
}
