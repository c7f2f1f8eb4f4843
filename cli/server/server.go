package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nspcc-dev/blockfeed/cli/cmdargs"
	"github.com/nspcc-dev/blockfeed/cli/options"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

// NewCommands returns 'node' and 'check-config' commands.
func NewCommands() []cli.Command {
	var cfgFlags = []cli.Flag{options.ConfigFile, options.Debug}
	return []cli.Command{
		{
			Name:      "node",
			Usage:     "Start the notification server",
			UsageText: "blockfeed node [--config-file file] [--debug]",
			Action:    startServer,
			Flags:     cfgFlags,
		},
		{
			Name:      "check-config",
			Usage:     "Check configuration file and exit",
			UsageText: "blockfeed check-config [--config-file file]",
			Action:    checkConfig,
			Flags:     []cli.Flag{options.ConfigFile},
		},
	}
}

func checkConfig(ctx *cli.Context) error {
	if err := cmdargs.EnsureNone(ctx); err != nil {
		return err
	}
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	_, err = options.GetLogLevel(false, cfg.ApplicationConfiguration)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintln(ctx.App.Writer, "configuration is valid")
	return nil
}

// newGraceContext returns a context cancelled on SIGINT or SIGTERM.
func newGraceContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func startServer(ctx *cli.Context) error {
	if err := cmdargs.EnsureNone(ctx); err != nil {
		return err
	}
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	var logDebug = ctx.Bool("debug")
	log, logLevel, err := options.HandleLoggingParams(logDebug, cfg.ApplicationConfiguration)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer func() { _ = log.Sync() }()

	grace, cancel := newGraceContext()
	defer cancel()

	errChan := make(chan error, 1)
	n, err := newNode(cfg.ApplicationConfiguration, log, errChan)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if err = n.start(grace); err != nil {
		n.shutdown()
		return cli.NewExitError(err, 1)
	}

	sighupCh := make(chan os.Signal, 1)
	signal.Notify(sighupCh, sighup)
	defer signal.Stop(sighupCh)

	fmt.Fprintln(ctx.App.Writer, "blockfeed is running, press Ctrl+C to stop")

	var shutdownErr error
Main:
	for {
		select {
		case err := <-errChan:
			shutdownErr = fmt.Errorf("server error: %w", err)
			cancel() // Fallthrough to the <-grace.Done() case.
		case sig := <-sighupCh:
			log.Info("signal received", zap.Stringer("name", sig))
			newCfg, err := options.GetConfigFromContext(ctx)
			if err != nil {
				log.Warn("can't reread the config file, signal ignored", zap.Error(err))
				break // Continue working.
			}
			level, err := options.GetLogLevel(logDebug, newCfg.ApplicationConfiguration)
			if err != nil {
				log.Warn("wrong LogLevel in ApplicationConfiguration, signal ignored", zap.Error(err))
				break // Continue working.
			}
			logLevel.SetLevel(level)
			log.Info("log level changed", zap.Stringer("level", level))
		case <-grace.Done():
			signal.Stop(sighupCh)
			n.shutdown()
			break Main
		}
	}

	if shutdownErr != nil {
		return cli.NewExitError(shutdownErr, 1)
	}
	return nil
}
