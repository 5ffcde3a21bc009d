package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Combine-Capital/cqre/internal/config"
	cqreservice "github.com/Combine-Capital/cqre/internal/service"
	"github.com/Combine-Capital/cqi/pkg/service"
	"github.com/joho/godotenv"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
	gitCommit = "unknown"

	configPath = flag.String("config", "config.yaml", "path to configuration file")
	showHelp   = flag.Bool("help", false, "show help message")
	showVer    = flag.Bool("version", false, "show version information")
)

func main() {
	flag.Parse()

	// Show help
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// Show version
	if *showVer {
		printVersion()
		os.Exit(0)
	}

	// A missing .env file is not an error
	_ = godotenv.Load()

	// Load configuration using CQI
	cfg := config.MustLoad(*configPath, "CQRE")

	// Create context
	ctx := context.Background()

	// Initialize observability via CQI Bootstrap
	bootstrap, err := service.NewBootstrap(ctx, &cfg.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer bootstrap.Cleanup(ctx)

	bootstrap.Logger.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Str("git_commit", gitCommit).
		Str("environment", cfg.Service.Env).
		Str("match_strategy", cfg.Engine.MatchStrategy).
		Dur("refresh_interval", cfg.Engine.RefreshInterval).
		Msg("Starting CQRE service")

	svc := cqreservice.New(cfg, bootstrap.Logger)
	if err := svc.Start(ctx); err != nil {
		bootstrap.Logger.Error().Err(err).Msg("Failed to start CQRE service")
		os.Exit(1)
	}

	// Wait for shutdown signal using CQI's WaitForShutdown
	bootstrap.Logger.Info().Msg("Service ready, waiting for shutdown signal")
	service.WaitForShutdown(ctx, svc)

	bootstrap.Logger.Info().Msg("CQRE service stopped")
}

func printHelp() {
	fmt.Fprintf(os.Stdout, "CQRE - Crypto Quant Reconciliation Engine\n\n")
	fmt.Fprintf(os.Stdout, "Reconciles crypto asset identity, market data, exchange listings and top\n")
	fmt.Fprintf(os.Stdout, "holders from several upstream providers into one canonical registry.\n\n")
	fmt.Fprintf(os.Stdout, "USAGE:\n")
	fmt.Fprintf(os.Stdout, "    cqre [OPTIONS]\n\n")
	fmt.Fprintf(os.Stdout, "OPTIONS:\n")
	fmt.Fprintf(os.Stdout, "    -config <path>     Path to configuration file (default: config.yaml)\n")
	fmt.Fprintf(os.Stdout, "    -help              Show this help message\n")
	fmt.Fprintf(os.Stdout, "    -version           Show version information\n\n")
	fmt.Fprintf(os.Stdout, "ENVIRONMENT VARIABLES:\n")
	fmt.Fprintf(os.Stdout, "    CQRE_DATABASE_HOST              Database hostname (snapshots disabled when empty)\n")
	fmt.Fprintf(os.Stdout, "    CQRE_DATABASE_PASSWORD          Database password\n")
	fmt.Fprintf(os.Stdout, "    CQRE_EVENT_BUS_SERVERS          NATS JetStream servers\n")
	fmt.Fprintf(os.Stdout, "    CQRE_ENGINE_REFRESH_INTERVAL    Refresh cycle interval (default: 1h)\n")
	fmt.Fprintf(os.Stdout, "    CQRE_ENGINE_FORCE_REFRESH       Skip snapshot restore on start\n")
	fmt.Fprintf(os.Stdout, "    COINGECKO_API_KEY               CoinGecko API key\n")
	fmt.Fprintf(os.Stdout, "    CMC_API_KEY                     CoinMarketCap API key\n")
	fmt.Fprintf(os.Stdout, "    ARKHAM_API_KEY, ARKHAM_COOKIE   Arkham credentials\n\n")
	fmt.Fprintf(os.Stdout, "For more information, see: https://github.com/Combine-Capital/cqre\n")
}

func printVersion() {
	fmt.Fprintf(os.Stdout, "CQRE %s\n", version)
	fmt.Fprintf(os.Stdout, "Build Time: %s\n", buildTime)
	fmt.Fprintf(os.Stdout, "Git Commit: %s\n", gitCommit)
}
