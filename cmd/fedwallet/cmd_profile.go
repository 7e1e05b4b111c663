package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli"

	"github.com/rexliu/fedwallet/pkg/config"
)

var initCommand = cli.Command{
	Name:     "init",
	Category: "Profile",
	Usage:    "Initialize a local profile (writes config.toml).",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "name",
			Value: "dev",
			Usage: "profile name",
		},
		cli.StringFlag{
			Name:  "transport",
			Value: config.TransportWorker,
			Usage: "how to reach the engine: worker, inproc, bridge, spawn or websocket",
		},
		cli.BoolFlag{
			Name:  "force",
			Usage: "overwrite an existing config",
		},
	},
	Action: initProfile,
}

func initProfile(c *cli.Context) error {
	dir := c.GlobalString("profile")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	path := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}
	cfg := config.DefaultProfile(c.String("name"))
	cfg.Transport.Kind = c.String("transport")
	switch cfg.Transport.Kind {
	case config.TransportSpawn:
		cfg.Transport.Command = "walletd-bridge"
		cfg.Transport.Args = []string{"--profile", dir}
	case config.TransportWebSocket:
		cfg.Transport.URL = "ws://127.0.0.1:8547/"
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Printf("initialized profile %s at %s\n", cfg.ProfileName, dir)
	return nil
}

var diagCommand = cli.Command{
	Name:     "diag",
	Category: "Profile",
	Usage:    "Print profile configuration paths.",
	Action:   diag,
}

func diag(c *cli.Context) error {
	dir := c.GlobalString("profile")
	cfg, err := config.LoadProfile(dir)
	if err != nil {
		return err
	}
	fmt.Printf("Profile: %s\n", cfg.ProfileName)
	fmt.Printf("Config: %s\n", filepath.Join(dir, config.FileName))
	fmt.Printf("Transport: %s\n", cfg.Transport.Kind)
	switch cfg.Transport.Kind {
	case config.TransportBridge:
		fmt.Printf("Socket: %s\n", config.ResolvePath(dir, cfg.Transport.SocketPath))
	case config.TransportSpawn:
		fmt.Printf("Command: %s %v\n", cfg.Transport.Command, cfg.Transport.Args)
	case config.TransportWebSocket:
		fmt.Printf("URL: %s\n", cfg.Transport.URL)
	default:
		fmt.Printf("Engine DB: %s (%s)\n", config.ResolvePath(dir, cfg.Engine.DBPath), cfg.Engine.Backend)
	}
	fmt.Printf("Wallet DB: %s (%s, keep %d)\n", config.ResolvePath(dir, cfg.Storage.DBPath),
		cfg.Storage.Backend, cfg.Storage.MaxWallets)
	if cfg.Logging.FilePath != "" {
		fmt.Printf("Log File: %s\n", config.ResolvePath(dir, cfg.Logging.FilePath))
	}
	return nil
}
