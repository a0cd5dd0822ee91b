package nut15

import (
	"errors"
	"fmt"

	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut06"
	"github.com/lollerfirst/cashuwallet/wallet/client"
)

var (
	ErrSplitTooShort = errors.New("length of split too short")
)

// Supports reports whether mintInfo advertises NUT-15 support for
// method/unit. It degrades gracefully: a mint that only declares the
// NUT-15 key without per-method settings (the common case for mints
// that haven't updated to the newer info format yet) is treated as
// supporting every method/unit pair.
func Supports(mintInfo *nut06.MintInfo, method, unit string) bool {
	nut15, ok := mintInfo.Nuts[15]
	if !ok {
		return false
	}

	settings, ok := nut15.(map[string]interface{})
	if !ok {
		// NUT-15 advertised with no structured settings: assume support
		// rather than reject a mint for using the older info shape.
		return true
	}

	methods, ok := settings["methods"].([]interface{})
	if !ok {
		return true
	}

	for _, m := range methods {
		entry, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		if entry["method"] == method && entry["unit"] == unit {
			return true
		}
	}
	return false
}

// IsMppSupported fetches mint info and returns whether the mint
// supports NUT-15 for method/unit.
func IsMppSupported(mint, method, unit string) (bool, error) {
	mintInfo, err := client.GetMintInfo(mint)
	if err != nil {
		return false, fmt.Errorf("error getting info from mint: %v", err)
	}
	return Supports(mintInfo, method, unit), nil
}
