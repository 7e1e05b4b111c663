package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/rexliu/fedwallet/pkg/director"
	"github.com/rexliu/fedwallet/pkg/profile"
	"github.com/rexliu/fedwallet/pkg/wallet"
)

var joinCommand = cli.Command{
	Name:      "join",
	Category:  "Wallets",
	Usage:     "Join a federation with a new wallet.",
	ArgsUsage: "invite_code",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "wallet",
			Usage: "wallet id to use (a fresh one is generated if empty)",
		},
		cli.BoolFlag{
			Name:  "recover",
			Usage: "restore the wallet from the federation backup",
		},
	},
	Action: join,
}

func join(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withSession(c, func(ctx context.Context, s *profile.Session) error {
		var opts []director.JoinOption
		if c.Bool("recover") {
			opts = append(opts, director.WithRecovery())
		}
		w, err := s.Director.JoinFederation(ctx, c.Args().First(), c.String("wallet"), opts...)
		if err != nil {
			return err
		}
		printJSON(map[string]any{
			"wallet_id":     w.ClientName(),
			"federation_id": w.FederationID().UnwrapOr(""),
			"recovering":    w.Recovering(),
		})
		return nil
	})
}

var listCommand = cli.Command{
	Name:     "list",
	Category: "Wallets",
	Usage:    "List stored wallets, most recently used first.",
	Action:   list,
}

func list(c *cli.Context) error {
	return withSession(c, func(ctx context.Context, s *profile.Session) error {
		ptrs, err := s.Director.ListClients(ctx)
		if err != nil {
			return err
		}
		type row struct {
			ID           string `json:"id"`
			FederationID string `json:"federation_id,omitempty"`
			Created      string `json:"created"`
			LastAccessed string `json:"last_accessed"`
		}
		rows := make([]row, len(ptrs))
		for i, p := range ptrs {
			rows[i] = row{
				ID:           p.ID,
				FederationID: p.Federation(),
				Created:      time.UnixMilli(p.CreatedAt).Format(time.RFC3339),
				LastAccessed: time.UnixMilli(p.LastAccessedAt).Format(time.RFC3339),
			}
		}
		printJSON(rows)
		return nil
	})
}

var infoCommand = cli.Command{
	Name:     "info",
	Category: "Wallets",
	Usage:    "Open a wallet and show its federation and balance.",
	Flags:    []cli.Flag{walletFlag},
	Action:   info,
}

func info(c *cli.Context) error {
	return withWallet(c, func(ctx context.Context, w *wallet.Wallet) error {
		out := map[string]any{
			"wallet_id":     w.ClientName(),
			"federation_id": w.FederationID().UnwrapOr(""),
			"recovering":    w.Recovering(),
		}
		if !w.Recovering() {
			bal, err := w.Balance.Get(ctx)
			if err != nil {
				return err
			}
			out["balance_msat"] = bal
			sessions, err := w.Federation.SessionCount(ctx)
			if err != nil {
				return err
			}
			out["session_count"] = sessions
		}
		printJSON(out)
		return nil
	})
}

var removeCommand = cli.Command{
	Name:      "remove",
	Category:  "Wallets",
	Usage:     "Forget a stored wallet.",
	ArgsUsage: "wallet_id",
	Action:    remove,
}

func remove(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withSession(c, func(ctx context.Context, s *profile.Session) error {
		id := c.Args().First()
		if !s.Director.HasWallet(ctx, id) {
			return fmt.Errorf("%w: %s", director.ErrNotFound, id)
		}
		if err := s.Director.RemoveWallet(ctx, id); err != nil {
			return err
		}
		fmt.Printf("removed wallet %s\n", id)
		return nil
	})
}

var exportCommand = cli.Command{
	Name:     "export",
	Category: "Wallets",
	Usage:    "Write every wallet pointer as a JSON blob.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "file",
			Usage: "write to this file instead of stdout",
		},
	},
	Action: export,
}

func export(c *cli.Context) error {
	return withSession(c, func(ctx context.Context, s *profile.Session) error {
		blob, err := s.Pointers.Export(ctx)
		if err != nil {
			return err
		}
		if path := c.String("file"); path != "" {
			return os.WriteFile(path, blob, 0o600)
		}
		fmt.Println(string(blob))
		return nil
	})
}

var importCommand = cli.Command{
	Name:      "import",
	Category:  "Wallets",
	Usage:     "Load wallet pointers from a JSON blob.",
	ArgsUsage: "[file]",
	Description: `
	Reads the blob from file, or from stdin when no file is given. Pointers
	whose id is already stored are replaced.`,
	Action: importBlob,
}

func importBlob(c *cli.Context) error {
	var (
		blob []byte
		err  error
	)
	if c.NArg() > 0 {
		blob, err = os.ReadFile(c.Args().First())
	} else {
		blob, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}
	return withSession(c, func(ctx context.Context, s *profile.Session) error {
		n, err := s.Pointers.Import(ctx, blob)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d wallets\n", n)
		return nil
	})
}

var clearCommand = cli.Command{
	Name:     "clear",
	Category: "Wallets",
	Usage:    "Forget every stored wallet.",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "yes",
			Usage: "confirm deleting all wallet pointers",
		},
	},
	Action: clearWallets,
}

func clearWallets(c *cli.Context) error {
	if !c.Bool("yes") {
		return fmt.Errorf("refusing to clear wallets without --yes")
	}
	return withSession(c, func(ctx context.Context, s *profile.Session) error {
		if err := s.Director.ClearAllWallets(ctx); err != nil {
			return err
		}
		fmt.Println("cleared all wallets")
		return nil
	})
}
