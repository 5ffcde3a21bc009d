package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Combine-Capital/cqre/internal/config"
	"github.com/Combine-Capital/cqre/internal/refresh"
	"github.com/Combine-Capital/cqre/internal/repository"
	"github.com/Combine-Capital/cqre/internal/service"
	"github.com/Combine-Capital/cqi/pkg/database"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	configPath   = flag.String("config", "config.yaml", "Path to configuration file")
	save         = flag.Bool("save", false, "Restore the registry snapshot first and save it after the cycle")
	holdersLimit = flag.Int("holders-limit", -1, "Cap the number of assets whose holders are refreshed (-1 = use config)")
	verbose      = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	// Setup logging
	setupLogging(*verbose)

	// A missing .env file is not an error
	_ = godotenv.Load()

	log.Info().
		Str("config", *configPath).
		Bool("save", *save).
		Int("holders_limit", *holdersLimit).
		Msg("Starting CQRE one-shot refresh")

	cfg, err := config.Load(*configPath, "CQRE")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *holdersLimit >= 0 {
		cfg.Engine.Holders.MaxAssets = *holdersLimit
	}

	if cfg.Providers.CoinGecko.APIKey == "" {
		log.Warn().Msg("CoinGecko API key not provided - using free tier rate limits")
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	var snapshotter refresh.Snapshotter
	var repo *repository.PostgresRepository
	if *save {
		if !cfg.DatabaseEnabled() {
			log.Fatal().Msg("--save requires a database configuration")
		}
		pool, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pool.Close()

		repo = repository.NewPostgresRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate snapshot schema")
		}
		snapshotter = repo
	}

	engine, err := service.NewEngine(cfg, snapshotter, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build engine")
	}

	if repo != nil && !cfg.Engine.ForceRefresh {
		assets, err := repo.LoadAssets(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load registry snapshot")
		}
		log.Info().Int("assets", engine.Store.Restore(assets)).Msg("Registry restored from snapshot")
	}

	report, err := engine.Orchestrator.RunCycle(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn().Msg("Refresh cancelled before it started")
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("Refresh cycle failed")
	}

	printSummary(report)
	if report.SaveErr != nil {
		os.Exit(1)
	}
}

// setupLogging configures structured logging with zerolog
func setupLogging(verbose bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func printSummary(report *refresh.CycleReport) {
	fmt.Println()
	fmt.Println("================ Refresh Summary ================")
	fmt.Printf("Cycle:     %s\n", report.ID)
	fmt.Printf("Duration:  %s\n", report.Duration().Round(time.Millisecond))
	fmt.Printf("Assets:    %d\n", report.Assets)
	fmt.Printf("Degraded:  %t\n", report.Degraded())
	for _, stage := range report.Stages {
		fmt.Printf("  %s\n", stage.Summary())
	}
	if report.Exchange != nil {
		fmt.Printf("Exchange feeds: %d (%d failed), prices updated: %d\n",
			len(report.Exchange.Outcomes), len(report.Exchange.Failed()), report.Exchange.PricesUpdated)
		for _, o := range report.Exchange.Failed() {
			fmt.Printf("  %s (%s): %v\n", o.ExchangeID, o.Kind, o.Err)
		}
	}
	switch {
	case report.SaveErr != nil:
		fmt.Printf("Snapshot:  FAILED (%v)\n", report.SaveErr)
	case report.Saved:
		fmt.Println("Snapshot:  saved")
	default:
		fmt.Println("Snapshot:  not saved (run with --save to persist)")
	}
	fmt.Println("=================================================")
}
