package wallet

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestDecodeRequestClassifiesTokens(t *testing.T) {
	decoded, err := decodeRequest("  cashuBo2FtdWh0dHBzOi8v  ")
	if err != nil {
		t.Fatalf("error decoding token: %v", err)
	}
	if decoded.Kind != KindTokenReceive {
		t.Fatalf("expected KindTokenReceive, got %v", decoded.Kind)
	}
	if decoded.Token != "cashuBo2FtdWh0dHBzOi8v" {
		t.Fatalf("expected trimmed token string, got %q", decoded.Token)
	}
}

func TestDecodeRequestClassifiesMintURL(t *testing.T) {
	decoded, err := decodeRequest("https://mint.example.com/")
	if err != nil {
		t.Fatalf("error decoding mint url: %v", err)
	}
	if decoded.Kind != KindMintURL {
		t.Fatalf("expected KindMintURL, got %v", decoded.Kind)
	}
	if decoded.MintURL != "https://mint.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", decoded.MintURL)
	}
}

func TestDecodeRequestClassifiesLightningAddress(t *testing.T) {
	decoded, err := decodeRequest("satoshi@example.com")
	if err != nil {
		t.Fatalf("error decoding lightning address: %v", err)
	}
	if decoded.Kind != KindLnurlPay {
		t.Fatalf("expected KindLnurlPay, got %v", decoded.Kind)
	}
	if decoded.LnurlEndpoint != "https://example.com/.well-known/lnurlp/satoshi" {
		t.Fatalf("unexpected lnurl endpoint: %q", decoded.LnurlEndpoint)
	}
}

func TestDecodeRequestClassifiesP2PKPubkey(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	decoded, err := decodeRequest(pubHex)
	if err != nil {
		t.Fatalf("error decoding pubkey: %v", err)
	}
	if decoded.Kind != KindP2PKSend {
		t.Fatalf("expected KindP2PKSend, got %v", decoded.Kind)
	}
	if decoded.Pubkey != pubHex {
		t.Fatalf("expected pubkey %q, got %q", pubHex, decoded.Pubkey)
	}
}

func TestDecodeRequestRejectsGarbage(t *testing.T) {
	if _, err := decodeRequest("not a recognizable request at all"); err == nil {
		t.Fatal("expected an error for an unrecognized request")
	} else if !strings.Contains(err.Error(), "could not decode request") {
		t.Fatalf("expected ErrDecodeFailed wrapped, got: %v", err)
	}
}

func TestDecodeRequestExtractsBitcoinURILightning(t *testing.T) {
	_, err := decodeRequest("bitcoin:bc1qxyz?amount=0.001")
	if err == nil {
		t.Fatal("expected an error when bitcoin uri has no lightning param")
	}
	if !strings.Contains(err.Error(), "no lightning invoice") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodedRequestExpired(t *testing.T) {
	d := &DecodedRequest{Timestamp: 1000, Expiry: 500}
	if d.expired(1400) {
		t.Fatal("expected not expired before timestamp+expiry")
	}
	if !d.expired(1600) {
		t.Fatal("expected expired after timestamp+expiry")
	}
}
