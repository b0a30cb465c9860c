// File: cmd/relayd/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// relayd runs the pairing relay until SIGINT or SIGTERM.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/momentics/hioload-relay/internal/config"
	"github.com/momentics/hioload-relay/internal/logging"
	"github.com/momentics/hioload-relay/server"
)

// version is overridable at link time:
//
//	go build -ldflags "-X main.version=1.2.0"
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "relayd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("relayd", flag.ContinueOnError)
	config.RegisterFlags(fs)
	cfgPath := fs.StringP("config", "c", "", "YAML config file (or $RELAY_CONFIG)")
	printConfig := fs.Bool("print-config", false, "print the effective configuration and exit")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintf(stdout, "relayd %s\n", version)
		return nil
	}

	cfg, err := config.Load(*cfgPath, fs)
	if err != nil {
		return err
	}
	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	srv := server.New(cfg.ServerConfig(), server.WithLogger(log))
	if err := srv.Start(); err != nil {
		return err
	}
	log.Info("relayd running", zap.String("version", version), zap.Stringer("addr", srv.Addr()))

	<-ctx.Done()
	log.Info("shutdown signal received")
	return srv.Stop()
}
