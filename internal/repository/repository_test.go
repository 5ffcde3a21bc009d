package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Combine-Capital/cqre/internal/registry"
	cqiconfig "github.com/Combine-Capital/cqi/pkg/config"
	"github.com/Combine-Capital/cqi/pkg/database"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// testDatabase returns a CQI pool and a plain database/sql handle to the
// same database. Tests are skipped unless TEST_DB_HOST is set.
func testDatabase(t *testing.T) (*database.Pool, *sql.DB) {
	t.Helper()

	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping Postgres snapshot tests")
	}
	port, err := strconv.Atoi(getEnvOrDefault("TEST_DB_PORT", "5432"))
	require.NoError(t, err)
	user := getEnvOrDefault("TEST_DB_USER", "cqre_test")
	password := getEnvOrDefault("TEST_DB_PASSWORD", "cqre_test_password")
	dbname := getEnvOrDefault("TEST_DB_NAME", "cqre_test")

	var cfg cqiconfig.Config
	cfg.Database.Host = host
	cfg.Database.Port = port
	cfg.Database.User = user
	cfg.Database.Password = password
	cfg.Database.Database = dbname
	cfg.Database.ConnectTimeout = 5 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.Database)
	require.NoError(t, err, "Failed to create database pool")
	t.Cleanup(pool.Close)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", user, password, host, port, dbname)
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx), "Failed to ping test database")

	return pool, db
}

// resetTables truncates the snapshot tables
func resetTables(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE TABLE holdings, holders, derivative_listings, spot_listings, on_chain_addresses, supply_snapshots, assets CASCADE`)
	require.NoError(t, err, "Failed to truncate snapshot tables")
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func testStore(t *testing.T) *registry.Store {
	t.Helper()
	store := registry.NewStore()

	_, err := store.Create("ethereum", "eth", "Ethereum")
	require.NoError(t, err)
	_, err = store.Create("weth", "weth", "WETH")
	require.NoError(t, err)

	price, circulating := 3000.0, 120_000_000.0
	require.NoError(t, store.SetSupply("ethereum", registry.SupplySnapshot{CachedPrice: &price, CirculatingSupply: &circulating}))
	_, _, err = store.AttachAddress("weth", registry.ChainAddress{Chain: "ethereum", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"})
	require.NoError(t, err)
	_, err = store.AddListing("ethereum", registry.ListingSpot, registry.Listing{ExchangeID: "binance", Pair: "ETH/USDT"})
	require.NoError(t, err)
	_, err = store.AddListing("ethereum", registry.ListingDerivative, registry.Listing{ExchangeID: "okex_swap", Pair: "ETH/USDT"})
	require.NoError(t, err)
	balance := 1_500_000.0
	_, err = store.UpsertHolder("ethereum", registry.HolderRecord{
		Address:    "0x00000000219ab540356cBB839Cbe05303d7705Fa",
		ChainType:  "ethereum",
		EntityName: "Beacon Deposit Contract",
		Balance:    &balance,
	})
	require.NoError(t, err)
	return store
}

func TestPostgresRepository_SaveAndLoad(t *testing.T) {
	pool, db := testDatabase(t)
	ctx := context.Background()

	repo := NewPostgresRepository(pool)
	require.NoError(t, repo.Migrate(ctx))
	require.NoError(t, repo.Ping(ctx))
	resetTables(t, db)

	store := testStore(t)
	require.NoError(t, repo.SaveAssets(ctx, store.Export()))

	// saving again is idempotent
	require.NoError(t, repo.SaveAssets(ctx, store.Export()))
	assert.Equal(t, 2, countRows(t, db, "assets"))
	assert.Equal(t, 1, countRows(t, db, "spot_listings"))
	assert.Equal(t, 1, countRows(t, db, "derivative_listings"))
	assert.Equal(t, 1, countRows(t, db, "holdings"))
	assert.Equal(t, 1, countRows(t, db, "holders"))

	loaded, err := repo.LoadAssets(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "ethereum", loaded[0].ID)
	assert.Equal(t, "weth", loaded[1].ID)

	restored := registry.NewStore()
	assert.Equal(t, 2, restored.Restore(loaded))

	eth, ok := restored.Get("ethereum")
	require.True(t, ok)
	require.NotNil(t, eth.Supply)
	assert.Equal(t, 3000.0, *eth.Supply.CachedPrice)
	assert.Nil(t, eth.Supply.TotalSupply)
	assert.Len(t, eth.SpotListings, 1)
	assert.Len(t, eth.DerivativeListings, 1)
	require.Len(t, eth.Holders, 1)
	assert.Equal(t, "Beacon Deposit Contract", eth.Holders[0].EntityName)

	assert.Len(t, restored.ByContractAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"), 1)
	assert.Len(t, restored.ByHolder("0x00000000219ab540356cbb839cbe05303d7705fa"), 1)
	assert.Len(t, restored.Search("eth/usdt"), 1)
}

func TestPostgresRepository_SaveRollsBackOnError(t *testing.T) {
	pool, db := testDatabase(t)
	ctx := context.Background()

	repo := NewPostgresRepository(pool)
	require.NoError(t, repo.Migrate(ctx))
	resetTables(t, db)

	seed := []registry.Asset{
		{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"},
		{ID: "tether", Symbol: "USDT", Name: "Tether"},
	}
	require.NoError(t, repo.SaveAssets(ctx, seed))
	assert.Equal(t, 2, countRows(t, db, "assets"))

	_, err := db.Exec(`ALTER TABLE spot_listings ADD CONSTRAINT spot_pair_not_bad CHECK (pair <> 'BAD/USDT')`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Exec(`ALTER TABLE spot_listings DROP CONSTRAINT IF EXISTS spot_pair_not_bad`)
	})

	err = repo.SaveAssets(ctx, []registry.Asset{
		{ID: "dogecoin", Symbol: "DOGE", Name: "Dogecoin"},
		{ID: "bad", Symbol: "BAD", Name: "Bad", SpotListings: []registry.Listing{{ExchangeID: "binance", Pair: "BAD/USDT"}}},
	})
	require.Error(t, err)
	assert.Equal(t, 2, countRows(t, db, "assets"))
}
