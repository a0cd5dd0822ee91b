package wallet

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut18"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

// RequestKind is what decodeRequest classified a pasted/scanned string
// as.
type RequestKind int

const (
	KindBolt11 RequestKind = iota
	KindLnurlPay
	KindTokenReceive
	KindP2PKSend
	KindMintURL
	KindPaymentRequest
)

// DecodedRequest is the normalized result of classifying a
// user-supplied string, ready to feed the Quote Engine (BOLT-11/LNURL)
// or the relevant executor flow (token/mint-url/P2PK/payment-request).
type DecodedRequest struct {
	Kind RequestKind

	// KindBolt11
	Bolt11      string
	AmountSat   uint64
	PaymentHash string
	Description string
	Timestamp   int64
	Expiry      int64
	ExpireDate  int64

	// KindLnurlPay
	LnurlEndpoint string

	// KindTokenReceive
	Token string

	// KindP2PKSend
	Pubkey string

	// KindMintURL
	MintURL string

	// KindPaymentRequest
	PaymentRequest *nut18.PaymentRequest
}

var lnAddressPattern = regexp.MustCompile(`^[\w.+\-~_]+@[\w.+\-~_]+$`)

// decodeRequest classifies a pasted/scanned string per the decoder's
// pattern table, first match wins.
func decodeRequest(input string) (*DecodedRequest, error) {
	s := strings.TrimSpace(input)
	lower := strings.ToLower(s)

	switch {
	case strings.HasPrefix(lower, "lnbc"):
		return decodeBolt11(s)

	case strings.HasPrefix(lower, "lightning:"):
		return decodeBolt11(s[len("lightning:"):])

	case strings.HasPrefix(lower, "bitcoin:"):
		if inv, ok := extractBitcoinURILightning(s); ok {
			return decodeBolt11(inv)
		}
		return nil, fmt.Errorf("%w: bitcoin uri has no lightning invoice", ErrDecodeFailed)

	case strings.HasPrefix(lower, "lnurl:"):
		return decodeLnurlPay(s[len("lnurl:"):])

	case strings.Contains(lower, "lightning=lnurl1"):
		if idx := strings.Index(lower, "lnurl1"); idx >= 0 {
			rest := s[idx:]
			if amp := strings.IndexByte(rest, '&'); amp >= 0 {
				rest = rest[:amp]
			}
			return decodeLnurlPay(rest)
		}
		return nil, fmt.Errorf("%w: malformed lnurl1 query", ErrDecodeFailed)

	case strings.HasPrefix(lower, "lnurl1") || lnAddressPattern.MatchString(s):
		return decodeLnurlPay(s)

	case strings.HasPrefix(s, "cashuA") || strings.HasPrefix(s, "cashuB"):
		return &DecodedRequest{Kind: KindTokenReceive, Token: s}, nil

	case strings.Contains(s, "token=cashu"):
		idx := strings.Index(s, "token=cashu")
		return &DecodedRequest{Kind: KindTokenReceive, Token: s[idx+len("token="):]}, nil

	case isP2PKPubkey(s):
		return &DecodedRequest{Kind: KindP2PKSend, Pubkey: s}, nil

	case strings.HasPrefix(lower, "http"):
		return &DecodedRequest{Kind: KindMintURL, MintURL: strings.TrimRight(s, "/")}, nil

	case strings.HasPrefix(s, "creqA"):
		req, err := nut18.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		return &DecodedRequest{Kind: KindPaymentRequest, PaymentRequest: req}, nil
	}

	return nil, fmt.Errorf("%w: unrecognized request", ErrDecodeFailed)
}

// decodeBolt11 decodes a BOLT-11 invoice and computes its expiry.
func decodeBolt11(invoice string) (*DecodedRequest, error) {
	bolt11, err := decodepay.Decodepay(invoice)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	return &DecodedRequest{
		Kind:        KindBolt11,
		Bolt11:      invoice,
		AmountSat:   uint64(bolt11.MSatoshi) / 1000,
		PaymentHash: bolt11.PaymentHash,
		Description: bolt11.Description,
		Timestamp:   int64(bolt11.CreatedAt),
		Expiry:      int64(bolt11.Expiry),
		ExpireDate:  int64(bolt11.CreatedAt) + int64(bolt11.Expiry),
	}, nil
}

// decodeLnurlPay resolves an LN address or lnurl1... string to its
// HTTPS endpoint, ready for fetchLnurlPayParams.
func decodeLnurlPay(target string) (*DecodedRequest, error) {
	endpoint, err := resolveLnurlEndpoint(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return &DecodedRequest{Kind: KindLnurlPay, LnurlEndpoint: endpoint}, nil
}

// extractBitcoinURILightning pulls the lightning=<invoice> query
// parameter out of a "bitcoin:<addr>?..." URI.
func extractBitcoinURILightning(uri string) (string, bool) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", false
	}
	inv := parsed.Query().Get("lightning")
	return inv, inv != ""
}

// isP2PKPubkey reports whether s is a valid compressed secp256k1
// public key in hex, as used by NUT-11 P2PK locks.
func isP2PKPubkey(s string) bool {
	if len(s) != 66 {
		return false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return false
	}
	_, err = secp256k1.ParsePubKey(b)
	return err == nil
}

// expired reports whether a decoded invoice's validity window has
// passed.
func (d *DecodedRequest) expired(now int64) bool {
	return d.Timestamp+d.Expiry < now
}
