package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/lollerfirst/cashuwallet/cashu"
	"github.com/lollerfirst/cashuwallet/wallet"
	"github.com/lollerfirst/cashuwallet/wallet/storage"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var nutw *wallet.Wallet

func walletConfig() wallet.Config {
	path := setWalletPath()
	// default config
	config := wallet.Config{WalletPath: path, CurrentMintURL: "http://127.0.0.1:3338"}

	envPath := filepath.Join(path, ".env")
	if _, err := os.Stat(envPath); err != nil {
		wd, err := os.Getwd()
		if err != nil {
			envPath = ""
		} else {
			envPath = filepath.Join(wd, ".env")
		}
	}

	if len(envPath) > 0 {
		if err := godotenv.Load(envPath); err == nil {
			config.CurrentMintURL = getMintURL()
		}
	}

	return config
}

func setWalletPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".gonuts", "wallet")
	if err := os.MkdirAll(path, 0700); err != nil {
		log.Fatal(err)
	}
	return path
}

func getMintURL() string {
	if mintURL := os.Getenv("MINT_URL"); len(mintURL) > 0 {
		return mintURL
	}

	mintHost := os.Getenv("MINT_HOST")
	mintPort := os.Getenv("MINT_PORT")
	if len(mintHost) == 0 || len(mintPort) == 0 {
		return "http://127.0.0.1:3338"
	}

	u := &url.URL{Scheme: "http", Host: mintHost + ":" + mintPort}
	return u.String()
}

func setupWallet(ctx *cli.Context) error {
	config := walletConfig()

	var err error
	nutw, err = wallet.LoadWallet(config)
	if err != nil {
		printErr(err)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "nutw",
		Usage: "cashu wallet",
		Commands: []*cli.Command{
			balanceCmd,
			mintsCmd,
			mintCmd,
			sendCmd,
			receiveCmd,
			payCmd,
			mnemonicCmd,
			decodeCmd,
			checkCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "Wallet balance at the active mint",
	Before: setupWallet,
	Action: getBalance,
}

func getBalance(ctx *cli.Context) error {
	fmt.Printf("Mint %v ---- balance: %v sats\n", nutw.CurrentMint(), nutw.Balance())
	return nil
}

var mintsCmd = &cli.Command{
	Name:   "mints",
	Usage:  "List known mints, or add a new one",
	Before: setupWallet,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "add", Usage: "fetch keysets from a mint and make it active"},
		&cli.StringFlag{Name: "switch", Usage: "switch the active mint to an already-known one"},
	},
	Action: mints,
}

func mints(ctx *cli.Context) error {
	if addURL := ctx.String("add"); addURL != "" {
		if err := nutw.AddMint(addURL); err != nil {
			printErr(err)
		}
		fmt.Printf("mint %v added and set active\n", addURL)
		return nil
	}
	if switchURL := ctx.String("switch"); switchURL != "" {
		if err := nutw.SwitchMint(switchURL); err != nil {
			printErr(err)
		}
		fmt.Printf("active mint switched to %v\n", switchURL)
		return nil
	}

	known := nutw.Mints()
	slices.Sort(known)
	for i, m := range known {
		marker := "  "
		if m == nutw.CurrentMint() {
			marker = "* "
		}
		fmt.Printf("%v%v: %v\n", marker, i+1, m)
	}
	return nil
}

const invoiceFlag = "invoice"

var mintCmd = &cli.Command{
	Name:      "mint",
	Usage:     "Request mint quote. It will return a lightning invoice to be paid",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  invoiceFlag,
			Usage: "redeem an already-paid quote id into ecash",
		},
		&cli.BoolFlag{
			Name:  lockFlag,
			Usage: "lock the quote to a NUT-20 key, so only this wallet can redeem it",
		},
	},
	Action: mint,
}

const lockFlag = "lock"

func mint(ctx *cli.Context) error {
	if ctx.IsSet(invoiceFlag) {
		if err := mintTokens(ctx.String(invoiceFlag)); err != nil {
			printErr(err)
		}
		return nil
	}

	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to mint"))
	}
	amountStr := args.First()
	if err := requestMint(amountStr, ctx.Bool(lockFlag)); err != nil {
		printErr(err)
	}

	return nil
}

func requestMint(amountStr string, lock bool) error {
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return errors.New("invalid amount")
	}

	var quote *storage.MintQuote
	if lock {
		quote, err = nutw.RequestLockedMint(amount)
	} else {
		quote, err = nutw.RequestMint(amount)
	}
	if err != nil {
		return err
	}

	fmt.Printf("invoice: %v\n\n", quote.PaymentRequest)
	fmt.Printf("after paying the invoice, redeem with: nutw mint --invoice %v\n", quote.QuoteId)
	return nil
}

func mintTokens(quoteId string) error {
	proofs, err := nutw.MintTokens(quoteId)
	if err != nil {
		return err
	}

	fmt.Printf("%v sats successfully minted\n", proofs.Amount())
	return nil
}

const (
	feesFlag       = "fees"
	invalidateFlag = "invalidate"
)

var sendCmd = &cli.Command{
	Name:      "send",
	Usage:     "Generates a token to be sent for the specified amount",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: feesFlag, Usage: "include input fees in the selected amount"},
		&cli.BoolFlag{Name: invalidateFlag, Usage: "burn the sent proofs from local storage immediately"},
	},
	Action: send,
}

func send(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to send"))
	}
	sendAmount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(err)
	}

	token, err := nutw.SendToken(sendAmount, ctx.Bool(feesFlag), ctx.Bool(invalidateFlag), false)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v\n", token)
	return nil
}

var receiveCmd = &cli.Command{
	Name:      "receive",
	Usage:     "Receive token",
	ArgsUsage: "[TOKEN]",
	Before:    setupWallet,
	Action:    receive,
}

func receive(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("token not provided"))
	}

	proofs, err := nutw.Receive(args.First())
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v sats received\n", proofs.Amount())
	return nil
}

var payCmd = &cli.Command{
	Name:      "pay",
	Usage:     "Pay a lightning invoice, LN address, or LNURL-pay target",
	ArgsUsage: "[REQUEST]",
	Before:    setupWallet,
	Action:    pay,
}

func pay(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an invoice, LN address, or LNURL to pay"))
	}

	decoded, err := nutw.DecodeRequest(args.First())
	if err != nil {
		printErr(err)
	}

	if decoded.Kind == wallet.KindLnurlPay {
		params, err := nutw.ResolveLnurlPay(decoded.LnurlEndpoint)
		if err != nil {
			printErr(err)
		}
		amount := params.MaxSendable / 1000
		if params.MinSendable != params.MaxSendable {
			fmt.Printf("amount in sats (min %v, max %v): ", params.MinSendable/1000, params.MaxSendable/1000)
			reader := bufio.NewReader(os.Stdin)
			input, err := reader.ReadString('\n')
			if err != nil {
				log.Fatal("error reading input, please try again")
			}
			amount, err = strconv.ParseUint(input[:len(input)-1], 10, 64)
			if err != nil {
				printErr(errors.New("invalid amount"))
			}
		}

		decoded, err = nutw.PayLnurl(params, amount)
		if err != nil {
			printErr(err)
		}
	}

	if decoded.Kind != wallet.KindBolt11 {
		printErr(errors.New("request did not resolve to a lightning invoice"))
	}

	session := nutw.NewPayInvoiceSession(decoded)
	quote, err := nutw.MeltQuote(session)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("paying %v sats (fee reserve: %v sats)\n", quote.Amount, quote.FeeReserve)

	invoice, _, err := nutw.Melt(session)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("invoice paid: %v\n", invoice.Paid)
	return nil
}

var mnemonicCmd = &cli.Command{
	Name:   "mnemonic",
	Usage:  "Mnemonic to restore wallet",
	Before: setupWallet,
	Action: mnemonic,
}

func mnemonic(ctx *cli.Context) error {
	fmt.Printf("mnemonic: %v\n", nutw.Mnemonic())
	return nil
}

var decodeCmd = &cli.Command{
	Name:      "decode",
	ArgsUsage: "[TOKEN]",
	Usage:     "Decode token",
	Action:    decode,
}

var checkCmd = &cli.Command{
	Name:      "check",
	ArgsUsage: "[TOKEN]",
	Usage:     "Check whether a previously sent token has been redeemed, reconciling local state if so. With no token, reconciles the wallet's own unreserved proofs instead",
	Before:    setupWallet,
	Action:    check,
}

func check(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		if err := nutw.CheckProofsSpendable(); err != nil {
			printErr(err)
		}
		fmt.Println("reconciled local proofs against mint state")
		return nil
	}

	spendable, err := nutw.CheckTokenSpendable(args.First())
	if err != nil {
		printErr(err)
	}
	if spendable {
		fmt.Println("token not yet redeemed")
	} else {
		fmt.Println("token already redeemed")
	}
	return nil
}

func decode(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("token not provided"))
	}

	token, err := cashu.DecodeToken(args.First())
	if err != nil {
		printErr(err)
	}

	jsonToken, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		printErr(err)
	}

	fmt.Println(string(jsonToken))
	return nil
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	os.Exit(0)
}
