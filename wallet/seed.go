package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lollerfirst/cashuwallet/wallet/storage"
	"github.com/tyler-smith/go-bip39"
)

// seedStore is the Seed & Keyset Counter Store (NUT-13 deterministic
// secret derivation support). It owns the mnemonic, the derived BIP-32
// master key, and every keyset's counter, delegating persistence to the
// supplied WalletDB snapshot store.
type seedStore struct {
	db     storage.WalletDB
	master *hdkeychain.ExtendedKey
}

func newSeedStore(db storage.WalletDB) (*seedStore, error) {
	s := &seedStore{db: db}

	mnemonic := db.GetMnemonic()
	if mnemonic == "" {
		if _, err := s.getOrCreateMnemonic(); err != nil {
			return nil, err
		}
	} else {
		master, err := hdkeychain.NewMaster(db.GetSeed(), &chaincfg.MainNetParams)
		if err != nil {
			return nil, fmt.Errorf("error deriving master key: %v", err)
		}
		s.master = master
	}

	return s, nil
}

// getOrCreateMnemonic generates a mnemonic on first call only; a
// mnemonic, once generated, is never overwritten silently.
func (s *seedStore) getOrCreateMnemonic() (string, error) {
	if existing := s.db.GetMnemonic(); existing != "" {
		return existing, nil
	}

	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("error generating entropy: %v", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("error generating mnemonic: %v", err)
	}

	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return "", fmt.Errorf("error deriving master key: %v", err)
	}

	s.db.SaveMnemonicSeed(mnemonic, seed)
	s.master = master
	return mnemonic, nil
}

func (s *seedStore) seed() []byte {
	return s.db.GetSeed()
}

func (s *seedStore) masterKey() *hdkeychain.ExtendedKey {
	return s.master
}

// counter returns the keyset's current counter, inserting 1 on first
// access — mirroring a mint-issued keyset whose first derivation index
// has already been consumed by the activation flow.
func (s *seedStore) counter(keysetId string) uint32 {
	c := s.db.GetKeysetCounter(keysetId)
	if c == 0 {
		if err := s.db.BumpKeysetCounter(keysetId, 1); err == nil {
			return 1
		}
	}
	return c
}

// bumpCounter adds delta (which may be negative, for rollback) to the
// keyset's counter.
func (s *seedStore) bumpCounter(keysetId string, delta int) error {
	return s.db.BumpKeysetCounter(keysetId, delta)
}

// rotateMnemonic archives the current mnemonic together with every
// known keyset's counter, then generates a fresh mnemonic with all
// counters starting back at zero.
func (s *seedStore) rotateMnemonic(now int64) (string, error) {
	old := s.db.GetMnemonic()
	if old == "" {
		return s.getOrCreateMnemonic()
	}

	counters := make(map[string]uint32)
	for _, keysets := range s.db.GetKeysets() {
		for _, ks := range keysets {
			counters[ks.Id] = s.db.GetKeysetCounter(ks.Id)
		}
	}

	archive := storage.MnemonicArchive{
		Mnemonic:       old,
		KeysetCounters: counters,
		RotatedAt:      now,
	}
	if err := s.db.ArchiveMnemonic(archive); err != nil {
		return "", fmt.Errorf("error archiving mnemonic: %v", err)
	}

	for id, c := range counters {
		if c > 0 {
			if err := s.db.BumpKeysetCounter(id, -int(c)); err != nil {
				return "", fmt.Errorf("error resetting keyset counter: %v", err)
			}
		}
	}

	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("error generating entropy: %v", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("error generating mnemonic: %v", err)
	}

	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return "", fmt.Errorf("error deriving master key: %v", err)
	}

	s.db.SaveMnemonicSeed(mnemonic, seed)
	s.master = master
	return mnemonic, nil
}
