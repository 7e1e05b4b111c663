package main

import (
	"context"
	stdjson "encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/wallet"
)

// parseMsats reads a positive amount in msats.
func parseMsats(s string) (core.MSats, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return core.MSats(v), nil
}

// jsonFlag returns the named flag as raw JSON, nil when unset.
func jsonFlag(c *cli.Context, name string) (stdjson.RawMessage, error) {
	v := c.String(name)
	if v == "" {
		return nil, nil
	}
	if !json.Valid([]byte(v)) {
		return nil, fmt.Errorf("--%s is not valid JSON", name)
	}
	return stdjson.RawMessage(v), nil
}

var spendCommand = cli.Command{
	Name:      "spend",
	Category:  "Ecash",
	Usage:     "Take ecash notes out of the wallet.",
	ArgsUsage: "amount_msat",
	Flags: []cli.Flag{
		walletFlag,
		cli.BoolFlag{
			Name:  "include_invite",
			Usage: "embed the federation invite in the notes",
		},
		cli.DurationFlag{
			Name:  "cancel_after",
			Value: wallet.DefaultTryCancelAfter,
			Usage: "reclaim the notes automatically if unclaimed after this long",
		},
	},
	Action: spend,
}

func spend(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	amount, err := parseMsats(c.Args().First())
	if err != nil {
		return err
	}
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		spent, err := w.Mint.SpendNotes(ctx, amount, wallet.SpendOptions{
			TryCancelAfter: c.Duration("cancel_after"),
			IncludeInvite:  c.Bool("include_invite"),
		})
		if err != nil {
			return err
		}
		printJSON(map[string]string{
			"operation_id": spent.OperationID,
			"notes":        spent.Notes,
		})
		return nil
	})
}

var redeemCommand = cli.Command{
	Name:      "redeem",
	Category:  "Ecash",
	Usage:     "Reissue ecash notes into the wallet.",
	ArgsUsage: "notes",
	Flags: []cli.Flag{
		walletFlag,
		cli.BoolFlag{
			Name:  "wait",
			Usage: "wait until the notes are reissued",
		},
	},
	Action: redeem,
}

func redeem(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		opID, err := w.Mint.RedeemEcash(ctx, c.Args().First())
		if err != nil {
			return err
		}
		if c.Bool("wait") {
			if err := waitReissue(ctx, w, opID); err != nil {
				return err
			}
		}
		printJSON(map[string]string{"operation_id": opID})
		return nil
	})
}

// waitReissue follows a reissue until the engine reports done or failed.
func waitReissue(ctx context.Context, w *wallet.Wallet, opID string) error {
	result := make(chan error, 1)
	settle := func(err error) {
		select {
		case result <- err:
		default:
		}
	}
	sub, err := w.Mint.SubscribeReissue(opID, func(u wallet.Update[wallet.OperationState]) {
		switch {
		case u.Done:
			settle(u.Err)
		case u.Value.Tag() == "Done":
			settle(nil)
		case u.Value.Tag() == "Failed":
			settle(fmt.Errorf("reissue %s failed", opID))
		}
	})
	if err != nil {
		return err
	}
	defer sub.Cancel()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

var validateNotesCommand = cli.Command{
	Name:      "validate-notes",
	Category:  "Ecash",
	Usage:     "Check notes and print their value.",
	ArgsUsage: "notes",
	Flags:     []cli.Flag{walletFlag},
	Action:    validateNotes,
}

func validateNotes(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		amount, err := w.Mint.ParseNotes(ctx, c.Args().First())
		if err != nil {
			return err
		}
		printJSON(map[string]core.MSats{"amount_msat": amount})
		return nil
	})
}

var cancelSpendCommand = cli.Command{
	Name:      "cancel-spend",
	Category:  "Ecash",
	Usage:     "Try to reclaim notes handed out by spend.",
	ArgsUsage: "operation_id",
	Flags: []cli.Flag{
		walletFlag,
		cli.DurationFlag{
			Name:  "timeout",
			Value: time.Minute,
			Usage: "how long to wait for the refund",
		},
	},
	Action: cancelSpend,
}

func cancelSpend(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		opID := c.Args().First()
		if err := w.Mint.TryCancelSpendNotes(ctx, opID); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
		defer cancel()
		refund, err := w.Mint.AwaitSpendOobRefund(ctx, opID)
		if err != nil {
			return err
		}
		printJSON(refund)
		return nil
	})
}
