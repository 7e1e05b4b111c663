// Command fedwallet drives federation wallets from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli"

	"github.com/rexliu/fedwallet/pkg/profile"
	"github.com/rexliu/fedwallet/pkg/rpc"
	"github.com/rexliu/fedwallet/pkg/wallet"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultProfileDir = "./_dev_profile"

func fatal(err error) {
	class := rpc.Classify(err)
	if class == rpc.ClassUnknown {
		fmt.Fprintf(os.Stderr, "[fedwallet] %v\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "[fedwallet] %s error: %v\n", class, err)
	}
	os.Exit(1)
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "fedwallet"
	app.Usage = "manage federation ecash wallets"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "profile",
			Value: defaultProfileDir,
			Usage: "path to the profile directory",
		},
		cli.StringFlag{
			Name:  "loglevel",
			Usage: "override the profile log level for this run",
		},
	}
	app.Commands = []cli.Command{
		initCommand,
		diagCommand,
		joinCommand,
		listCommand,
		infoCommand,
		removeCommand,
		exportCommand,
		importCommand,
		clearCommand,
		balanceCommand,
		operationsCommand,
		transactionsCommand,
		recoveryCommand,
		backupCommand,
		spendCommand,
		redeemCommand,
		validateNotesCommand,
		cancelSpendCommand,
		invoiceCommand,
		payCommand,
		gatewaysCommand,
		depositCommand,
		withdrawCommand,
		parseInviteCommand,
		previewCommand,
		decodeInvoiceCommand,
		mnemonicCommand,
	}
	return app
}

// withSession opens the profile, initializes the engine and runs fn. The
// session is closed afterwards. Interrupts cancel ctx.
func withSession(c *cli.Context, fn func(ctx context.Context, s *profile.Session) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := profile.Open(ctx, c.GlobalString("profile"), profile.WithQuietConsole())
	if err != nil {
		return err
	}
	defer s.Close(context.Background())

	if level := c.GlobalString("loglevel"); level != "" {
		if err := s.Director.SetLogLevel(level); err != nil {
			return err
		}
	}
	if err := s.Director.Initialize(ctx); err != nil {
		return err
	}
	return fn(ctx, s)
}

// withWallet is withSession plus opening the wallet named by --wallet, or the
// most recently used one.
func withWallet(c *cli.Context, fn func(ctx context.Context, w *wallet.Wallet) error) error {
	return withSession(c, func(ctx context.Context, s *profile.Session) error {
		id := c.String("wallet")
		if id == "" {
			list, err := s.Director.ListClients(ctx)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				return errors.New("no wallets yet, join a federation first")
			}
			id = list[0].ID
		}
		w, err := s.Director.OpenWallet(ctx, id)
		if err != nil {
			return err
		}
		return fn(ctx, w)
	})
}

var walletFlag = cli.StringFlag{
	Name:  "wallet",
	Usage: "wallet id (defaults to the most recently used wallet)",
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to encode output: %v\n", err)
		return
	}
	fmt.Println(string(b))
}

// requireArgs fails with the command's usage when fewer than n arguments
// were given.
func requireArgs(c *cli.Context, n int) error {
	if c.NArg() < n {
		cli.ShowCommandHelp(c, c.Command.Name)
		return fmt.Errorf("%s needs %d argument(s)", c.Command.Name, n)
	}
	return nil
}
