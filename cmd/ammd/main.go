package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/defistate/defistate-amm-go/cmd/ammd/config"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/client"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/codec"
)

const DefaultWatchBufferSize = 100

func main() {
	root := &cobra.Command{
		Use:          "ammd",
		Short:        "Concentrated liquidity pool engine with base token fee settlement",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "ammd.yaml", "path to the configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Seed the configured scenario and drive swaps and fee distribution",
			RunE:  runDaemon,
		},
		&cobra.Command{
			Use:   "check-config",
			Short: "Validate the configuration file and exit",
			RunE:  checkConfig,
		},
	)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the event stream of a running daemon as JSON lines",
		RunE:  watch,
	}
	watchCmd.Flags().String("url", "ws://localhost:8546", "stream websocket URL")
	root.AddCommand(watchCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*slog.Logger, error) {
	l, err := config.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})), nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.LoadConfig(path)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	// Cancel on interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize daemon", "error", err)
		return err
	}
	defer d.close()

	if err := d.run(ctx); err != nil {
		logger.Error("Daemon stopped", "error", err)
		return err
	}
	return nil
}

func checkConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d tokens, %d pools\n", len(cfg.Tokens), len(cfg.Pools))
	return nil
}

func watch(cmd *cobra.Command, _ []string) error {
	url, _ := cmd.Flags().GetString("url")
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.NewClient(ctx, client.Config{
		URL:          url,
		Logger:       logger.With("component", "jsonrpc-client"),
		BufferSize:   DefaultWatchBufferSize,
		EventDecoder: codec.DecodeEvent,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for {
		select {
		case u := <-c.Updates():
			var err error
			if u.Log != nil {
				err = enc.Encode(u.Log)
			} else {
				err = enc.Encode(u.Pool)
			}
			if err != nil {
				return err
			}
		case err, ok := <-c.Err():
			if ok {
				logger.Error("Fatal client error", "error", err)
				return err
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
