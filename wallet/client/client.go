// Package client is a thin HTTP client for the Cashu mint API (NUT-01
// through NUT-09, NUT-15).
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lollerfirst/cashuwallet/cashu"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut01"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut02"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut03"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut04"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut05"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut06"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut07"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut09"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

func GetMintInfo(mintURL string) (*nut06.MintInfo, error) {
	var mintInfo nut06.MintInfo
	if err := getJSON(mintURL+"/v1/info", &mintInfo); err != nil {
		return nil, err
	}
	return &mintInfo, nil
}

func GetActiveKeysets(mintURL string) (*nut01.GetKeysResponse, error) {
	var keysetRes nut01.GetKeysResponse
	if err := getJSON(mintURL+"/v1/keys", &keysetRes); err != nil {
		return nil, err
	}
	return &keysetRes, nil
}

func GetAllKeysets(mintURL string) (*nut02.GetKeysetsResponse, error) {
	var keysetsRes nut02.GetKeysetsResponse
	if err := getJSON(mintURL+"/v1/keysets", &keysetsRes); err != nil {
		return nil, err
	}
	return &keysetsRes, nil
}

func GetKeysetById(mintURL, id string) (*nut01.GetKeysResponse, error) {
	var keysetRes nut01.GetKeysResponse
	if err := getJSON(mintURL+"/v1/keys/"+id, &keysetRes); err != nil {
		return nil, err
	}
	return &keysetRes, nil
}

func PostMintQuoteBolt11(mintURL string, req nut04.PostMintQuoteBolt11Request) (*nut04.PostMintQuoteBolt11Response, error) {
	var resp nut04.PostMintQuoteBolt11Response
	if err := postJSON(mintURL+"/v1/mint/quote/bolt11", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func GetMintQuoteState(mintURL, quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	var resp nut04.PostMintQuoteBolt11Response
	if err := getJSON(mintURL+"/v1/mint/quote/bolt11/"+quoteId, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func PostMintBolt11(mintURL string, req nut04.PostMintBolt11Request) (*nut04.PostMintBolt11Response, error) {
	var resp nut04.PostMintBolt11Response
	if err := postJSON(mintURL+"/v1/mint/bolt11", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func PostSwap(mintURL string, req nut03.PostSwapRequest) (*nut03.PostSwapResponse, error) {
	var resp nut03.PostSwapResponse
	if err := postJSON(mintURL+"/v1/swap", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func PostMeltQuoteBolt11(mintURL string, req nut05.PostMeltQuoteBolt11Request) (*nut05.PostMeltQuoteBolt11Response, error) {
	var resp nut05.PostMeltQuoteBolt11Response
	if err := postJSON(mintURL+"/v1/melt/quote/bolt11", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func GetMeltQuoteState(mintURL, quoteId string) (*nut05.PostMeltQuoteBolt11Response, error) {
	var resp nut05.PostMeltQuoteBolt11Response
	if err := getJSON(mintURL+"/v1/melt/quote/bolt11/"+quoteId, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func PostMeltBolt11(mintURL string, req nut05.PostMeltBolt11Request) (*nut05.PostMeltBolt11Response, error) {
	var resp nut05.PostMeltBolt11Response
	if err := postJSON(mintURL+"/v1/melt/bolt11", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func PostCheckProofState(mintURL string, req nut07.PostCheckStateRequest) (*nut07.PostCheckStateResponse, error) {
	var resp nut07.PostCheckStateResponse
	if err := postJSON(mintURL+"/v1/checkstate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func PostRestore(mintURL string, req nut09.PostRestoreRequest) (*nut09.PostRestoreResponse, error) {
	var resp nut09.PostRestoreResponse
	if err := postJSON(mintURL+"/v1/restore", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func getJSON(url string, out interface{}) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	resp, err = parse(resp)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error reading response from mint: %v", err)
	}
	return nil
}

func postJSON(url string, in, out interface{}) error {
	requestBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpClient.Post(url, "application/json", bytes.NewBuffer(requestBody))
	if err != nil {
		return err
	}
	resp, err = parse(resp)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error reading response from mint: %v", err)
	}
	return nil
}

func parse(response *http.Response) (*http.Response, error) {
	if response.StatusCode == 400 {
		var errResponse cashu.Error
		err := json.NewDecoder(response.Body).Decode(&errResponse)
		response.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("could not decode error response from mint: %v", err)
		}
		return nil, errResponse
	}

	if response.StatusCode != 200 {
		body, err := io.ReadAll(response.Body)
		response.Body.Close()
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s", body)
	}

	return response, nil
}
