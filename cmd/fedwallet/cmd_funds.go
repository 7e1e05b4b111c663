package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/wallet"
)

var balanceCommand = cli.Command{
	Name:     "balance",
	Category: "Funds",
	Usage:    "Show the wallet balance in msats.",
	Flags: []cli.Flag{
		walletFlag,
		cli.BoolFlag{
			Name:  "watch",
			Usage: "keep printing balance changes until interrupted",
		},
	},
	Action: balance,
}

func balance(c *cli.Context) error {
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		if !c.Bool("watch") {
			bal, err := w.Balance.Get(ctx)
			if err != nil {
				return err
			}
			printJSON(map[string]core.MSats{"balance_msat": bal})
			return nil
		}

		ended := make(chan error, 1)
		sub, err := w.Balance.Subscribe(func(u wallet.Update[core.MSats]) {
			if u.Done {
				ended <- u.Err
				return
			}
			fmt.Printf("balance_msat=%d\n", u.Value)
		})
		if err != nil {
			return err
		}
		defer sub.Cancel()
		select {
		case err := <-ended:
			return err
		case <-ctx.Done():
			return nil
		}
	})
}

var operationsCommand = cli.Command{
	Name:     "operations",
	Category: "Funds",
	Usage:    "List the raw operation log.",
	Flags: []cli.Flag{
		walletFlag,
		cli.IntFlag{
			Name:  "limit",
			Value: 20,
			Usage: "maximum number of operations",
		},
	},
	Action: operations,
}

func operations(c *cli.Context) error {
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		ops, err := w.Federation.ListOperations(ctx, c.Int("limit"), nil)
		if err != nil {
			return err
		}
		printJSON(ops)
		return nil
	})
}

var transactionsCommand = cli.Command{
	Name:     "transactions",
	Category: "Funds",
	Usage:    "List payments, ecash and on-chain transfers.",
	Flags: []cli.Flag{
		walletFlag,
		cli.IntFlag{
			Name:  "limit",
			Value: 20,
			Usage: "maximum number of transactions",
		},
	},
	Action: transactions,
}

func transactions(c *cli.Context) error {
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		txs, err := w.Federation.ListTransactions(ctx, c.Int("limit"), nil)
		if err != nil {
			return err
		}
		printJSON(txs)
		return nil
	})
}

var recoveryCommand = cli.Command{
	Name:     "recovery",
	Category: "Funds",
	Usage:    "Show recovery progress of a wallet joined with --recover.",
	Flags: []cli.Flag{
		walletFlag,
		cli.BoolFlag{
			Name:  "wait",
			Usage: "print progress until recovery finishes",
		},
	},
	Action: recovery,
}

func recovery(c *cli.Context) error {
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		if !c.Bool("wait") {
			st, err := w.Recovery.Status(ctx)
			if err != nil {
				return err
			}
			printJSON(map[string]any{
				"recovering": w.Recovering(),
				"percentage": st.Percentage(),
				"modules":    st.Modules,
			})
			return nil
		}

		ended := make(chan error, 1)
		sub, err := w.Recovery.SubscribePercentage(func(u wallet.Update[float64]) {
			if u.Done {
				ended <- u.Err
				return
			}
			fmt.Printf("recovered %.0f%%\n", u.Value)
		})
		if err != nil {
			return err
		}
		defer sub.Cancel()
		select {
		case err := <-ended:
			if err != nil {
				return err
			}
			fmt.Println("recovery complete")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

var backupCommand = cli.Command{
	Name:     "backup",
	Category: "Funds",
	Usage:    "Upload an encrypted backup of the wallet to the federation.",
	Flags: []cli.Flag{
		walletFlag,
		cli.StringFlag{
			Name:  "metadata",
			Usage: "JSON object stored alongside the backup",
		},
	},
	Action: backup,
}

func backup(c *cli.Context) error {
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		meta, err := jsonFlag(c, "metadata")
		if err != nil {
			return err
		}
		if err := w.Recovery.BackupToFederation(ctx, meta); err != nil {
			return err
		}
		fmt.Println("backup uploaded")
		return nil
	})
}
