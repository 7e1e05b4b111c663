// Command walletd-bridge hosts the wallet engine on its own stdin and stdout.
// Clients using the spawn transport start it as a child process.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"

	"github.com/rexliu/fedwallet/pkg/config"
	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/engine"
	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/logging"
	"github.com/rexliu/fedwallet/pkg/profile"
)

func main() {
	app := cli.NewApp()
	app.Name = "walletd-bridge"
	app.Usage = "serve the wallet engine over stdio"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "profile",
			Value: "./_dev_profile",
			Usage: "path to the profile directory",
		},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[walletd-bridge] %v\n", err)
		os.Exit(1)
	}
}

// stdio joins stdin and stdout into one stream. Closing it closes both.
type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error {
	os.Stdin.Close()
	return os.Stdout.Close()
}

func run(c *cli.Context) error {
	dir := c.String("profile")
	cfg, err := config.LoadProfile(dir)
	if err != nil {
		return err
	}

	// Stdout carries frames, so logs only go to the profile's log file.
	logs := logging.New()
	logs.Quiet()
	if err := logs.Configure(dir, cfg.Logging); err != nil {
		return err
	}
	defer logs.Close()
	logs.Wire()
	log := logs.Logger("WBRG")

	ctx := context.Background()
	factory, kv, err := profile.EngineFactory(ctx, dir, cfg)
	if err != nil {
		return err
	}
	defer kv.Close()
	host := engine.NewHost(factory)
	defer host.Close()

	srv := ipc.NewServer(host, log, core.NewTraceID, nil)
	srv.ServeConn(stdio{Reader: os.Stdin, Writer: os.Stdout})
	log.Infof("Engine bridge serving on stdio")

	return srv.Wait()
}
