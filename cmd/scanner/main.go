package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/0xNedAlbo/duncan-scanner/internal/common"
	"github.com/0xNedAlbo/duncan-scanner/internal/config"
	"github.com/0xNedAlbo/duncan-scanner/internal/db"
	"github.com/0xNedAlbo/duncan-scanner/internal/ledger"
	"github.com/0xNedAlbo/duncan-scanner/internal/logger"
	"github.com/0xNedAlbo/duncan-scanner/internal/metrics"
	"github.com/0xNedAlbo/duncan-scanner/internal/migrations"
	"github.com/0xNedAlbo/duncan-scanner/internal/rpc"
	"github.com/0xNedAlbo/duncan-scanner/internal/scanner"
	"github.com/0xNedAlbo/duncan-scanner/internal/watermark"
)

const version = "1.0.0"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scanner",
	Short: "Duncan scanner - Uniswap v3 position event scanner",
	Long: `Duncan scanner ingests IncreaseLiquidity, DecreaseLiquidity and Collect
events of the Uniswap v3 NonfungiblePositionManager into a durable,
reorg-resistant event ledger, one scan loop per chain.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runScanner,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
}

func runScanner(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	var logCfg logger.LoggingConfig
	if cfg.Logging != nil {
		logCfg = cfg.Logging
	}
	log := logger.NewComponentLoggerFromConfig(common.ComponentScanner, logCfg)
	defer log.Close() //nolint:errcheck

	// Metrics server
	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics, log)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
	}

	// Database
	log.Info("Running database migrations...")
	if err := migrations.RunMigrations(cfg.DB.Path); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer database.Close()

	watermarks := watermark.NewSQLiteStore(database, log)
	sink := ledger.NewSQLiteSink(database, log)

	// One RPC client and task per chain. A chain whose provider is down at
	// startup is skipped so the others still scan.
	var tasks []*scanner.ChainTask
	for _, chain := range cfg.ScanChains() {
		chainCfg := cfg.Chains[chain]

		log.Infof("Connecting to %s node: %s", chain, chainCfg.RPCURL)
		client, err := rpc.NewClient(ctx, chainCfg.RPCURL, cfg.Scanner.Retry)
		if err != nil {
			log.Errorf("Skipping chain %s, failed to connect: %v", chain, err)
			metrics.ChainHealthSet(chain, false)
			continue
		}
		defer client.Close()

		tasks = append(tasks, scanner.NewChainTask(
			chain,
			cfg.Scanner,
			chainCfg,
			client,
			watermarks,
			sink,
			log,
		))
	}

	if len(tasks) == 0 {
		return fmt.Errorf("no chains available, all %d configured chains failed to connect", len(cfg.ScanChains()))
	}

	log.Infof("Starting scanner with %d chain(s)...", len(tasks))

	s := scanner.New(cfg.Scanner, tasks, log)
	if err := s.Run(ctx); err != nil {
		return fmt.Errorf("scanner failed: %w", err)
	}

	log.Info("Scanner stopped successfully")
	return nil
}
