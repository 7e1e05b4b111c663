package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/wallet"
)

var depositCommand = cli.Command{
	Name:     "deposit",
	Category: "On-chain",
	Usage:    "Generate a bitcoin deposit address.",
	Flags: []cli.Flag{
		walletFlag,
		cli.BoolFlag{
			Name:  "wait",
			Usage: "wait until a deposit to the address is claimed",
		},
	},
	Action: deposit,
}

func deposit(c *cli.Context) error {
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		addr, err := w.Onchain.GenerateAddress(ctx, nil)
		if err != nil {
			return err
		}
		printJSON(addr)
		if !c.Bool("wait") {
			return nil
		}

		result := make(chan error, 1)
		settle := func(err error) {
			select {
			case result <- err:
			default:
			}
		}
		sub, err := w.Onchain.SubscribeDeposit(addr.OperationID, func(u wallet.Update[wallet.OperationState]) {
			switch {
			case u.Done:
				settle(u.Err)
			case u.Value.Tag() == "Claimed":
				settle(nil)
			case u.Value.Tag() == "Failed":
				settle(fmt.Errorf("deposit %s failed", addr.OperationID))
			default:
				fmt.Printf("deposit state: %s\n", u.Value.Tag())
			}
		})
		if err != nil {
			return err
		}
		defer sub.Cancel()
		select {
		case err := <-result:
			if err == nil {
				fmt.Println("deposit claimed")
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

var withdrawCommand = cli.Command{
	Name:      "withdraw",
	Category:  "On-chain",
	Usage:     "Send sats from the federation to a bitcoin address.",
	ArgsUsage: "address amount_sat",
	Flags:     []cli.Flag{walletFlag},
	Action:    withdraw,
}

func withdraw(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	sats, err := strconv.ParseUint(c.Args().Get(1), 10, 64)
	if err != nil || sats == 0 {
		return fmt.Errorf("invalid amount %q", c.Args().Get(1))
	}
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		opID, err := w.Onchain.Send(ctx, core.Sats(sats), c.Args().First(), nil)
		if err != nil {
			return err
		}
		printJSON(map[string]string{"operation_id": opID})
		return nil
	})
}
