package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/RUNSTR-LLC/nutzap/nutzap"
	"github.com/RUNSTR-LLC/nutzap/wallet"
	"github.com/urfave/cli/v2"
)

var session *wallet.Session

func setupWallet(ctx *cli.Context) error {
	config, err := wallet.LoadConfig()
	if err != nil {
		printErr(err)
	}

	signer, err := walletSigner()
	if err != nil {
		printErr(err)
	}

	logger := wallet.NewLogger(config.Debug)
	session, err = wallet.NewSession(config, signer, logger)
	if err != nil {
		printErr(err)
	}

	if _, err := session.Initialize(ctx.Context); err != nil {
		printErr(err)
	}
	return nil
}

// walletSigner resolves the signing identity: a raw secret key or
// a mnemonic from the environment, or a freshly generated mnemonic
// printed once for backup.
func walletSigner() (nutzap.Signer, error) {
	if secretKey := os.Getenv("NOSTR_SECRET_KEY"); secretKey != "" {
		return nutzap.NewLocalSigner(secretKey)
	}
	if mnemonic := os.Getenv("WALLET_MNEMONIC"); mnemonic != "" {
		return nutzap.NewLocalSignerFromMnemonic(mnemonic)
	}

	mnemonic, err := nutzap.GenerateMnemonic()
	if err != nil {
		return nil, err
	}
	fmt.Println("generated new wallet seed, back it up and export WALLET_MNEMONIC:")
	fmt.Println(mnemonic)
	return nutzap.NewLocalSignerFromMnemonic(mnemonic)
}

func main() {
	app := &cli.App{
		Name:   "nutw",
		Usage:  "nutzap ecash wallet",
		Before: setupWallet,
		Commands: []*cli.Command{
			balanceCmd,
			depositCmd,
			sendCmd,
			claimCmd,
			payCmd,
			tokenCmd,
			receiveCmd,
			historyCmd,
			discoverCmd,
			resetCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		printErr(err)
	}
}

var balanceCmd = &cli.Command{
	Name:  "balance",
	Usage: "Wallet balance in sats",
	Action: func(ctx *cli.Context) error {
		fmt.Printf("%v sats\n", session.Balance())
		return nil
	},
}

var depositCmd = &cli.Command{
	Name:      "deposit",
	Usage:     "Deposit sats via a Lightning invoice",
	ArgsUsage: "<amount>",
	Action: func(ctx *cli.Context) error {
		amount, err := parseAmount(ctx.Args().First())
		if err != nil {
			printErr(err)
		}

		deposit, err := session.CreateDeposit(ctx.Context, amount, "")
		if err != nil {
			printErr(err)
		}
		fmt.Printf("invoice: %v\n\n", deposit.Invoice)
		fmt.Println("waiting for payment...")

		if err := session.AwaitDeposit(ctx.Context, deposit.QuoteId); err != nil {
			printErr(err)
		}
		fmt.Printf("%v sats successfully minted\n", amount)
		return nil
	},
}

var sendCmd = &cli.Command{
	Name:      "send",
	Usage:     "Send a nutzap to a public key",
	ArgsUsage: "<amount> <pubkey>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "memo", Usage: "memo to attach"},
	},
	Action: func(ctx *cli.Context) error {
		args := ctx.Args()
		if args.Len() < 2 {
			printErr(fmt.Errorf("usage: send <amount> <pubkey>"))
		}
		amount, err := parseAmount(args.Get(0))
		if err != nil {
			printErr(err)
		}

		if err := session.SendNutzap(ctx.Context, args.Get(1), amount, ctx.String("memo")); err != nil {
			printErr(err)
		}
		fmt.Printf("%v sats sent\n", amount)
		return nil
	},
}

var claimCmd = &cli.Command{
	Name:  "claim",
	Usage: "Claim nutzaps sent to this wallet",
	Action: func(ctx *cli.Context) error {
		result, err := session.Claim(ctx.Context)
		if err != nil {
			printErr(err)
		}
		fmt.Printf("claimed %v of %v sats seen\n", result.Claimed, result.TotalSeen)
		return nil
	},
}

var payCmd = &cli.Command{
	Name:      "pay",
	Usage:     "Pay a bolt11 invoice or lightning address",
	ArgsUsage: "<invoice|address> [amount]",
	Action: func(ctx *cli.Context) error {
		args := ctx.Args()
		if args.Len() < 1 {
			printErr(fmt.Errorf("usage: pay <invoice|address> [amount]"))
		}

		var amount uint64
		if args.Len() > 1 {
			var err error
			amount, err = parseAmount(args.Get(1))
			if err != nil {
				printErr(err)
			}
		}

		result, err := session.PayInvoice(ctx.Context, args.Get(0), amount)
		if err != nil {
			printErr(err)
		}
		fmt.Printf("paid, fee: %v sats\n", result.Fee)
		return nil
	},
}

var tokenCmd = &cli.Command{
	Name:      "token",
	Usage:     "Generate a portable cashu token",
	ArgsUsage: "<amount>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "memo", Usage: "memo to attach"},
	},
	Action: func(ctx *cli.Context) error {
		amount, err := parseAmount(ctx.Args().First())
		if err != nil {
			printErr(err)
		}

		token, err := session.GeneratePortableToken(ctx.Context, amount, ctx.String("memo"))
		if err != nil {
			printErr(err)
		}
		fmt.Println(token)
		return nil
	},
}

var receiveCmd = &cli.Command{
	Name:      "receive",
	Usage:     "Redeem a portable cashu token",
	ArgsUsage: "<token>",
	Action: func(ctx *cli.Context) error {
		token := ctx.Args().First()
		if token == "" {
			printErr(fmt.Errorf("usage: receive <token>"))
		}

		amount, err := session.ReceivePortableToken(ctx.Context, token)
		if err != nil {
			printErr(err)
		}
		fmt.Printf("%v sats received\n", amount)
		return nil
	},
}

var historyCmd = &cli.Command{
	Name:  "history",
	Usage: "Recent transactions",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Value: 20},
	},
	Action: func(ctx *cli.Context) error {
		transactions, err := session.History(ctx.Int("limit"))
		if err != nil {
			printErr(err)
		}
		for _, transaction := range transactions {
			fmt.Printf("%v  %-18v %8v sats  %v\n",
				transaction.Timestamp.Format("2006-01-02 15:04"),
				transaction.Kind, transaction.Amount, transaction.Memo)
		}
		return nil
	},
}

var discoverCmd = &cli.Command{
	Name:      "discover",
	Usage:     "Look up the wallet descriptor of a public key",
	ArgsUsage: "<pubkey>",
	Action: func(ctx *cli.Context) error {
		descriptor, err := session.DiscoverWallet(ctx.Context, ctx.Args().First())
		if err != nil {
			printErr(err)
		}
		fmt.Printf("mint: %v\nname: %v\nbalance hint: %v sats\n",
			descriptor.MintURL, descriptor.DisplayName, descriptor.BalanceHint)
		return nil
	},
}

var resetCmd = &cli.Command{
	Name:  "reset",
	Usage: "Clear all local wallet state",
	Action: func(ctx *cli.Context) error {
		if err := session.Reset(); err != nil {
			printErr(err)
		}
		fmt.Println("wallet reset")
		return nil
	},
}

func parseAmount(arg string) (uint64, error) {
	amount, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount: %v", arg)
	}
	return amount, nil
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	os.Exit(1)
}
