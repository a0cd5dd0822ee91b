package wallet

import (
	"sort"
	"strings"

	"github.com/lollerfirst/cashuwallet/cashu"
	"github.com/lollerfirst/cashuwallet/cashu/nuts/nut11"
)

// spendableProofs drops any proof locked by a NUT-11 P2PK secret: this
// wallet does not attach P2PK signatures to its inputs, so a locked
// proof would only be rejected by the mint if selected.
func spendableProofs(proofs cashu.Proofs) cashu.Proofs {
	out := make(cashu.Proofs, 0, len(proofs))
	for _, p := range proofs {
		if nut11.IsSecretP2PK(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// coinSelector is the Coin Selector: given a candidate proof set and a
// target amount, it picks a subset that covers the target (plus fees,
// when asked) using a greedy largest-first strategy, with a narrow
// legacy-keyset fallback for mints that predate hex keyset ids.
type coinSelector struct {
	registry *mintRegistry
}

func newCoinSelector(registry *mintRegistry) *coinSelector {
	return &coinSelector{registry: registry}
}

// getFeesForProofs sums each proof's keyset input_fee_ppk and rounds up
// to whole sats per NUT-02.
func (cs *coinSelector) getFeesForProofs(proofs cashu.Proofs) uint64 {
	var ppkSum uint64
	for _, p := range proofs {
		if ks := cs.registry.keysetById(p.Id); ks != nil {
			ppkSum += uint64(ks.InputFeePpk)
		}
	}
	return (ppkSum + 999) / 1000
}

// select greedily picks proofs, largest amount first, until the
// running sum covers amount (plus fees on the selection so far, when
// includeFees is set). Returns nil when the total available balance is
// insufficient.
func (cs *coinSelector) selectProofs(proofs cashu.Proofs, amount uint64, includeFees bool) cashu.Proofs {
	proofs = spendableProofs(proofs)
	if proofs.Amount() < amount {
		return nil
	}

	sorted := make(cashu.Proofs, len(proofs))
	copy(sorted, proofs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Amount > sorted[j].Amount })

	var selected cashu.Proofs
	var sum uint64
	target := amount
	for _, p := range sorted {
		if sum >= target {
			break
		}
		selected = append(selected, p)
		sum += p.Amount
		if includeFees {
			target = amount + cs.getFeesForProofs(selected)
		}
	}

	if sum < target {
		return nil
	}
	return selected
}

// selectBase64Legacy drains proofs belonging to legacy (non hex-prefixed,
// base64) keyset ids only; used as a last resort when the active
// hex-keyset balance alone cannot cover amount.
func (cs *coinSelector) selectBase64Legacy(proofs cashu.Proofs, amount uint64) cashu.Proofs {
	var legacy cashu.Proofs
	for _, p := range spendableProofs(proofs) {
		if !strings.HasPrefix(p.Id, "00") {
			legacy = append(legacy, p)
		}
	}
	if len(legacy) == 0 {
		return nil
	}

	sort.Slice(legacy, func(i, j int) bool { return legacy[i].Amount > legacy[j].Amount })

	var selected cashu.Proofs
	var sum uint64
	for _, p := range legacy {
		if sum >= amount {
			break
		}
		selected = append(selected, p)
		sum += p.Amount
	}
	if sum < amount {
		return nil
	}
	return selected
}

// spendable asserts the given proofs cover amount and returns them
// unchanged; it never mutates reservation state itself.
func (cs *coinSelector) spendable(proofs cashu.Proofs, amount uint64) (cashu.Proofs, error) {
	proofs = spendableProofs(proofs)
	if proofs.Amount() < amount {
		return nil, ErrBalanceTooLow
	}
	return proofs, nil
}

// splitAmount decomposes v into its binary representation, e.g.
// 13 -> [1, 4, 8].
func splitAmount(v uint64) []uint64 {
	return cashu.AmountSplit(v)
}
