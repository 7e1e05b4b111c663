package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli"

	"github.com/rexliu/fedwallet/pkg/wallet"
)

var invoiceCommand = cli.Command{
	Name:      "invoice",
	Category:  "Lightning",
	Usage:     "Create a lightning invoice paying into the wallet.",
	ArgsUsage: "amount_msat [description]",
	Flags: []cli.Flag{
		walletFlag,
		cli.DurationFlag{
			Name:  "expiry",
			Usage: "invoice lifetime (engine default when unset)",
		},
		cli.BoolFlag{
			Name:  "wait",
			Usage: "wait until the invoice is paid and claimed",
		},
	},
	Action: invoice,
}

func invoice(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	amount, err := parseMsats(c.Args().First())
	if err != nil {
		return err
	}
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		inv, err := w.Lightning.CreateInvoice(ctx, amount, c.Args().Get(1), wallet.InvoiceOptions{
			Expiry: c.Duration("expiry"),
		})
		if err != nil {
			return err
		}
		printJSON(inv)
		if !c.Bool("wait") {
			return nil
		}
		if err := w.Lightning.WaitForReceive(ctx, inv.OperationID); err != nil {
			return err
		}
		fmt.Println("invoice claimed")
		return nil
	})
}

var payCommand = cli.Command{
	Name:      "pay",
	Category:  "Lightning",
	Usage:     "Pay a lightning invoice.",
	ArgsUsage: "invoice",
	Flags: []cli.Flag{
		walletFlag,
		cli.DurationFlag{
			Name:  "timeout",
			Value: time.Minute,
			Usage: "how long to wait for the payment outcome",
		},
	},
	Action: pay,
}

func pay(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
		defer cancel()
		res, err := w.Lightning.PayInvoiceSync(ctx, c.Args().First(), wallet.PayOptions{})
		if err != nil {
			return err
		}
		printJSON(map[string]any{
			"preimage": res.Preimage,
			"fee_msat": res.Fee,
		})
		return nil
	})
}

var gatewaysCommand = cli.Command{
	Name:     "gateways",
	Category: "Lightning",
	Usage:    "List the lightning gateways of the federation.",
	Flags: []cli.Flag{
		walletFlag,
		cli.BoolFlag{
			Name:  "refresh",
			Usage: "refresh the gateway cache first",
		},
	},
	Action: gateways,
}

func gateways(c *cli.Context) error {
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		if c.Bool("refresh") {
			if err := w.Lightning.UpdateGatewayCache(ctx); err != nil {
				return err
			}
		}
		gws, err := w.Lightning.ListGateways(ctx)
		if err != nil {
			return err
		}
		printJSON(gws)
		return nil
	})
}
