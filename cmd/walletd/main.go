// Command walletd hosts the wallet engine for out-of-process clients. It
// serves length-prefixed frames on a unix socket and, optionally, the same
// traffic over a websocket, with Prometheus metrics alongside.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/rexliu/fedwallet/pkg/config"
	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/engine"
	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/logging"
	"github.com/rexliu/fedwallet/pkg/profile"
	"github.com/rexliu/fedwallet/pkg/transport/ws"
)

func main() {
	app := cli.NewApp()
	app.Name = "walletd"
	app.Usage = "host the wallet engine for fedwallet clients"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "profile",
			Value: "./_dev_profile",
			Usage: "path to the profile directory",
		},
		cli.StringFlag{
			Name:  "socket",
			Usage: "override the unix socket path",
		},
		cli.StringFlag{
			Name:  "ws",
			Usage: "also serve engine traffic over a websocket on this host:port",
		},
		cli.StringFlag{
			Name:  "metrics",
			Usage: "serve Prometheus metrics on this host:port",
		},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[walletd] %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dir := c.String("profile")
	cfg, err := config.LoadProfile(dir)
	if err != nil {
		return err
	}
	logs := logging.New()
	if err := logs.Configure(dir, cfg.Logging); err != nil {
		return err
	}
	defer logs.Close()
	logs.Wire()
	log := logs.Logger("WLTD")

	factory, kv, err := profile.EngineFactory(ctx, dir, cfg)
	if err != nil {
		return err
	}
	defer kv.Close()
	host := engine.NewHost(factory)
	defer host.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	owner := newGate()

	socketPath := c.String("socket")
	if socketPath == "" {
		socketPath = config.ResolvePath(dir, cfg.Daemon.SocketPath)
	}
	if err := cleanupSocket(socketPath); err != nil {
		return err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", socketPath, err)
	}
	srv := ipc.NewServer(host, log, core.NewTraceID, ipc.NewServerMetrics(reg))
	if err := srv.Serve(ctx, &gatedListener{Listener: ln, gate: owner, log: log}); err != nil {
		return fmt.Errorf("serve ipc: %w", err)
	}
	defer func() {
		srv.Stop()
		cleanupSocket(socketPath)
	}()
	log.Infof("Engine host ready on %s", socketPath)

	var servers []*http.Server
	if addr := firstOf(c.String("ws"), cfg.Daemon.WSAddr); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/", owner.guard(ws.NewHandler(host, log), log))
		servers = append(servers, listenHTTP(log, "websocket", addr, mux))
	}
	if addr := firstOf(c.String("metrics"), cfg.Daemon.MetricsAddr); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		servers = append(servers, listenHTTP(log, "metrics", addr, mux))
	}

	<-ctx.Done()
	log.Infof("Shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	for _, s := range servers {
		s.Shutdown(shutdownCtx)
	}
	return nil
}

func listenHTTP(log btclog.Logger, name, addr string, h http.Handler) *http.Server {
	s := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infof("Serving %s on %s", name, addr)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("%s server: %v", name, err)
		}
	}()
	return s
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func cleanupSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}
