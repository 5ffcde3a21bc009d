package integration

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/Combine-Capital/cqre/internal/config"
	"github.com/Combine-Capital/cqre/internal/refresh"
	"github.com/Combine-Capital/cqre/internal/server"
	"github.com/Combine-Capital/cqre/internal/service"
	servicesv1 "github.com/Combine-Capital/cqc/gen/go/cqc/services/v1"
	cqiconfig "github.com/Combine-Capital/cqi/pkg/config"
	"github.com/Combine-Capital/cqi/pkg/database"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const (
	bufSize = 1024 * 1024
)

// upstreamRoutes maps provider endpoints to their canned responses in testdata/
var upstreamRoutes = map[string]string{
	"/coins/list":                            "coins_list.json",
	"/v1/cryptocurrency/listings/latest":     "cmc_listings.json",
	"/exchanges/binance/tickers":             "tickers_binance.json",
	"/derivatives/exchanges/binance_futures": "derivatives_binance_futures.json",
	"/token/holders/ethereum":                "holders_ethereum.json",
	"/token/holders/bitcoin":                 "holders_bitcoin.json",
}

// TestFixture holds all components needed for integration testing
type TestFixture struct {
	Upstream   *httptest.Server
	Config     *config.Config
	Engine     *service.Engine
	Server     servicesv1.AssetRegistryClient
	Health     grpc_health_v1.HealthClient
	HTTP       *httptest.Server
	GRPCServer *grpc.Server
	Listener   *bufconn.Listener
	Ctx        context.Context
	Cancel     context.CancelFunc
}

// NewTestFixture wires a full engine against fake upstream providers and
// serves it over an in-memory gRPC connection and an HTTP test server.
// snapshotter may be nil.
func NewTestFixture(t *testing.T, snapshotter refresh.Snapshotter) *TestFixture {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	upstream := newUpstream(t)
	cfg := testConfig(upstream.URL)

	engine, err := service.NewEngine(cfg, snapshotter, nil)
	require.NoError(t, err, "Failed to build engine")

	// Initialize gRPC server (in-memory)
	listener := bufconn.Listen(bufSize)
	grpcServer := grpc.NewServer()
	servicesv1.RegisterAssetRegistryServer(grpcServer, server.NewAssetRegistryServer(engine.Assets))
	grpc_health_v1.RegisterHealthServer(grpcServer, service.NewHealthServer(nil))

	// Start server in background
	go func() {
		_ = grpcServer.Serve(listener)
	}()

	// Create gRPC client
	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return listener.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err, "Failed to create gRPC client")

	api := server.NewAPI(engine.Assets, engine.Orchestrator, nil)
	httpServer := httptest.NewServer(api.Handler())

	f := &TestFixture{
		Upstream:   upstream,
		Config:     cfg,
		Engine:     engine,
		Server:     servicesv1.NewAssetRegistryClient(conn),
		Health:     grpc_health_v1.NewHealthClient(conn),
		HTTP:       httpServer,
		GRPCServer: grpcServer,
		Listener:   listener,
		Ctx:        ctx,
		Cancel:     cancel,
	}
	t.Cleanup(func() {
		_ = conn.Close()
		f.Cleanup(t)
	})
	return f
}

// Cleanup tears down all test resources
func (f *TestFixture) Cleanup(t *testing.T) {
	t.Helper()

	if f.Cancel != nil {
		f.Cancel()
	}

	if f.HTTP != nil {
		f.HTTP.Close()
	}

	if f.GRPCServer != nil {
		f.GRPCServer.Stop()
	}

	if f.Listener != nil {
		_ = f.Listener.Close()
	}

	if f.Upstream != nil {
		f.Upstream.Close()
	}
}

// RunCycle runs one refresh cycle and fails the test on error
func (f *TestFixture) RunCycle(t *testing.T) *refresh.CycleReport {
	t.Helper()
	report, err := f.Engine.Orchestrator.RunCycle(f.Ctx)
	require.NoError(t, err, "RunCycle should succeed")
	return report
}

// Helper functions

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	for route, file := range upstreamRoutes {
		data, err := os.ReadFile(filepath.Join("testdata", file))
		require.NoError(t, err, "Failed to read fixture %s", file)

		mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(data)
		})
	}
	return httptest.NewServer(mux)
}

func testConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Service.Name = "cqre-test"
	cfg.Engine.MatchStrategy = "exact"
	cfg.Engine.ConflictCapacity = 100
	cfg.Engine.MarketListingLimit = 100
	cfg.Engine.Exchanges.Spot = []string{"binance"}
	cfg.Engine.Exchanges.Derivatives = []string{"binance_futures"}
	cfg.Engine.Exchanges.Concurrency = 2
	cfg.Engine.Holders.Enabled = true

	for _, pc := range []*config.ProviderConfig{
		&cfg.Providers.CoinGecko,
		&cfg.Providers.CoinMarketCap,
		&cfg.Providers.Arkham.ProviderConfig,
	} {
		pc.BaseURL = baseURL
		pc.APIKey = "integration-test"
		pc.RateLimitPerSecond = 100
		pc.Timeout = 5 * time.Second
	}
	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// testDatabasePool connects to the database named by the TEST_DB_* variables.
// Tests are skipped unless TEST_DB_HOST is set.
func testDatabasePool(t *testing.T) *database.Pool {
	t.Helper()

	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping database integration test")
	}
	port, err := strconv.Atoi(getEnvOrDefault("TEST_DB_PORT", "5432"))
	require.NoError(t, err)

	var cfg cqiconfig.Config
	cfg.Database.Host = host
	cfg.Database.Port = port
	cfg.Database.User = getEnvOrDefault("TEST_DB_USER", "cqre_test")
	cfg.Database.Password = getEnvOrDefault("TEST_DB_PASSWORD", "cqre_test_password")
	cfg.Database.Database = getEnvOrDefault("TEST_DB_NAME", "cqre_test")
	cfg.Database.ConnectTimeout = 5 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.Database)
	require.NoError(t, err, "Failed to create database pool")
	t.Cleanup(pool.Close)
	return pool
}

func ptrString(s string) *string {
	return &s
}
