package wallet

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

var lnurlHTTPClient = &http.Client{Timeout: 15 * time.Second}

// lnurlWordLimit is the bech32 decode limit LNURL strings need: the
// bech32 package's Decode limit (90 characters) is sized for addresses, far
// too small for an encoded HTTPS URL.
const lnurlWordLimit = 20000

// LnurlPayParams is the metadata a LNURL-pay endpoint returns on the
// first GET, cached on the PayInvoiceSession until an amount is chosen.
type LnurlPayParams struct {
	Tag         string `json:"tag"`
	Callback    string `json:"callback"`
	MinSendable uint64 `json:"minSendable"`
	MaxSendable uint64 `json:"maxSendable"`
	Metadata    string `json:"metadata"`
}

type lnurlCallbackResponse struct {
	PR     string `json:"pr"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type coinbaseRatesResponse struct {
	Data struct {
		Rates map[string]string `json:"rates"`
	} `json:"data"`
}

func lnurlGetJSON(url string, out interface{}) error {
	resp, err := lnurlHTTPClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error decoding lnurl response: %v", err)
	}
	return nil
}

// decodeBech32URL turns a "lnurl1..." string into the HTTPS URL it
// encodes: bech32-decode (with a raised word limit, since the payload
// is a full URL rather than an address), regroup the 5-bit words into
// bytes, and read the result as UTF-8.
func decodeBech32URL(encoded string) (string, error) {
	_, data, err := bech32.DecodeNoLimit(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid lnurl: %v", err)
	}
	if len(data) > lnurlWordLimit {
		return "", fmt.Errorf("lnurl payload exceeds word limit")
	}
	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("invalid lnurl payload: %v", err)
	}
	if !utf8.Valid(converted) {
		return "", fmt.Errorf("lnurl payload is not valid utf-8")
	}
	return string(converted), nil
}

// lightningAddressURL builds the well-known lnurlp endpoint for a
// "user@host" LN address.
func lightningAddressURL(address string) (string, error) {
	at := strings.Index(address, "@")
	if at < 0 {
		return "", fmt.Errorf("not a lightning address: %s", address)
	}
	user, host := address[:at], address[at+1:]
	return fmt.Sprintf("https://%s/.well-known/lnurlp/%s", host, user), nil
}

// resolveLnurlEndpoint turns either a "user@host" LN address or a
// "lnurl1..."/"LNURL1..." bech32 string into the HTTPS URL to GET.
func resolveLnurlEndpoint(target string) (string, error) {
	if strings.Contains(target, "@") {
		return lightningAddressURL(target)
	}
	return decodeBech32URL(target)
}

// fetchLnurlPayParams GETs the LNURL endpoint and validates it
// advertises tag "payRequest".
func fetchLnurlPayParams(endpoint string) (*LnurlPayParams, error) {
	var params LnurlPayParams
	if err := lnurlGetJSON(endpoint, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLNURLError, err)
	}
	if params.Tag != "payRequest" {
		return nil, fmt.Errorf("%w: unexpected tag %q", ErrLNURLError, params.Tag)
	}
	return &params, nil
}

// usdToSats converts a USD amount to satoshis using Coinbase's spot
// BTC-USD exchange rate: sats = floor(usd * (1 / (price/1e8))), i.e.
// how many 1e-8 BTC units usd dollars buys.
func usdToSats(amountUSD float64) (uint64, error) {
	var rates coinbaseRatesResponse
	if err := lnurlGetJSON("https://api.coinbase.com/v2/exchange-rates?currency=BTC", &rates); err != nil {
		return 0, fmt.Errorf("error fetching BTC-USD rate: %v", err)
	}
	usdPerBTCStr, ok := rates.Data.Rates["USD"]
	if !ok {
		return 0, fmt.Errorf("coinbase response missing USD rate")
	}
	var usdPerBTC float64
	if _, err := fmt.Sscanf(usdPerBTCStr, "%f", &usdPerBTC); err != nil {
		return 0, fmt.Errorf("invalid USD rate %q: %v", usdPerBTCStr, err)
	}
	if usdPerBTC <= 0 {
		return 0, fmt.Errorf("invalid USD rate %q", usdPerBTCStr)
	}

	satsPerDollar := 1 / (usdPerBTC / 1e8)
	return uint64(math.Floor(amountUSD * satsPerDollar)), nil
}

// requestLnurlInvoice calls the payRequest callback for amountMsat and
// returns the BOLT-11 invoice it hands back.
func requestLnurlInvoice(callback string, amountMsat uint64) (string, error) {
	sep := "?"
	if strings.Contains(callback, "?") {
		sep = "&"
	}
	url := fmt.Sprintf("%s%samount=%d", callback, sep, amountMsat)

	var resp lnurlCallbackResponse
	if err := lnurlGetJSON(url, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrLNURLError, err)
	}
	if resp.Status == "ERROR" {
		return "", fmt.Errorf("%w: %s", ErrLNURLError, resp.Reason)
	}
	if resp.PR == "" {
		return "", fmt.Errorf("%w: callback returned no invoice", ErrLNURLError)
	}
	return resp.PR, nil
}
