package wallet

// Config carries the parameters needed to open or create a wallet.
type Config struct {
	WalletPath     string
	CurrentMintURL string
	// CurrentUnit defaults to sat when empty.
	CurrentUnit string
}
