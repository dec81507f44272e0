package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/ndisc/common/go/logging"
	"github.com/yanet-platform/ndisc/common/go/xcmd"
	"github.com/yanet-platform/ndisc/pkg/ndiscd"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "ndiscd",
	Short: "IPv6 Neighbor Discovery daemon",
	Run: func(rawCmd *cobra.Command, args []string) {
		if err := run(cmd); err != nil {
			var interrupted xcmd.Interrupted
			if errors.As(err, &interrupted) {
				return
			}

			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	cfg, err := ndiscd.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, atomicLevel, err := logging.Init(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	director, err := ndiscd.NewDirector(cfg, ndiscd.WithLog(log), ndiscd.WithAtomicLogLevel(&atomicLevel))
	if err != nil {
		return fmt.Errorf("failed to create director: %w", err)
	}

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return director.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})
	wg.Go(func() error {
		// SIGHUP re-reads the logging level from the configuration file.
		err := xcmd.HandleSignals(ctx, func(os.Signal) {
			reloadLogLevel(cmd.ConfigPath, atomicLevel, log)
		}, syscall.SIGHUP)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return wg.Wait()
}

func reloadLogLevel(path string, level zap.AtomicLevel, log *zap.SugaredLogger) {
	cfg, err := ndiscd.LoadConfig(path)
	if err != nil {
		log.Warnw("failed to reload config", zap.String("path", path), zap.Error(err))
		return
	}

	if prev := level.Level(); prev != cfg.Logging.Level {
		level.SetLevel(cfg.Logging.Level)
		log.Infow("changed logging level", zap.Stringer("from", prev), zap.Stringer("to", cfg.Logging.Level))
	}
}
