// Command ircd runs the chat protocol server.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/perbu/ircsrv/pkg/logging"
	gnet "github.com/perbu/ircsrv/pkg/net"
	"github.com/perbu/ircsrv/pkg/server"
)

func main() {
	cmd := &cli.Command{
		Name:  "ircd",
		Usage: "chat protocol server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: "127.0.0.1",
				Usage: "address to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Value: 13180,
				Usage: "port to listen on",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "suppress the startup and shutdown log lines and debug-level logging",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ircd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger := logging.NewLogger("ircd")
	quiet := cmd.Bool("quiet")
	logging.SetVerbose(!quiet)

	listenAddr := net.JoinHostPort(cmd.String("addr"), fmt.Sprintf("%d", cmd.Int("port")))
	ln, addrInfo, err := gnet.TCPListen(listenAddr, 128)
	if err != nil {
		return fmt.Errorf("ircd: listen on %s: %w", listenAddr, err)
	}
	if !quiet {
		logger.Info("listening on %s:%s", addrInfo.Addr, addrInfo.Port)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(logger, nil)
	if err := srv.Serve(ctx, ln); err != nil {
		return fmt.Errorf("ircd: serve: %w", err)
	}
	if !quiet {
		logger.Info("shut down cleanly")
	}
	return nil
}
