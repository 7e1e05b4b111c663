package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli"

	"github.com/rexliu/fedwallet/pkg/profile"
)

var parseInviteCommand = cli.Command{
	Name:      "parse-invite",
	Category:  "Engine",
	Usage:     "Decode an invite code without joining.",
	ArgsUsage: "invite_code",
	Action:    parseInvite,
}

func parseInvite(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withSession(c, func(ctx context.Context, s *profile.Session) error {
		parsed, err := s.Director.ParseInviteCode(ctx, c.Args().First())
		if err != nil {
			return err
		}
		printJSON(parsed)
		return nil
	})
}

var previewCommand = cli.Command{
	Name:      "preview",
	Category:  "Engine",
	Usage:     "Fetch the configuration of a federation before joining.",
	ArgsUsage: "invite_code",
	Action:    preview,
}

func preview(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withSession(c, func(ctx context.Context, s *profile.Session) error {
		p, err := s.Director.PreviewFederation(ctx, c.Args().First())
		if err != nil {
			return err
		}
		printJSON(p)
		return nil
	})
}

var decodeInvoiceCommand = cli.Command{
	Name:      "decode-invoice",
	Category:  "Engine",
	Usage:     "Decode a bolt11 invoice.",
	ArgsUsage: "invoice",
	Action:    decodeInvoice,
}

func decodeInvoice(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withSession(c, func(ctx context.Context, s *profile.Session) error {
		inv, err := s.Director.ParseBolt11Invoice(ctx, c.Args().First())
		if err != nil {
			return err
		}
		printJSON(inv)
		return nil
	})
}

var mnemonicCommand = cli.Command{
	Name:     "mnemonic",
	Category: "Engine",
	Usage:    "Manage the engine seed words.",
	Subcommands: []cli.Command{
		{
			Name:   "generate",
			Usage:  "Create seed words if none exist and print them.",
			Action: mnemonicGenerate,
		},
		{
			Name:   "show",
			Usage:  "Print the current seed words.",
			Action: mnemonicShow,
		},
		{
			Name:      "set",
			Usage:     "Replace the seed words.",
			ArgsUsage: "word...",
			Action:    mnemonicSet,
		},
	},
}

func mnemonicGenerate(c *cli.Context) error {
	return withSession(c, func(ctx context.Context, s *profile.Session) error {
		words, err := s.Director.GenerateMnemonic(ctx)
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(words, " "))
		return nil
	})
}

func mnemonicShow(c *cli.Context) error {
	return withSession(c, func(ctx context.Context, s *profile.Session) error {
		words, err := s.Director.GetMnemonic(ctx)
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(words, " "))
		return nil
	})
}

func mnemonicSet(c *cli.Context) error {
	words := c.Args()
	if len(words) == 1 {
		words = strings.Fields(words[0])
	}
	return withSession(c, func(ctx context.Context, s *profile.Session) error {
		if err := s.Director.SetMnemonic(ctx, words); err != nil {
			return err
		}
		fmt.Printf("stored %d seed words\n", len(words))
		return nil
	})
}
