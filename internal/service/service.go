package service

import (
	"context"
	"fmt"

	"github.com/Combine-Capital/cqre/internal/config"
	"github.com/Combine-Capital/cqre/internal/manager"
	"github.com/Combine-Capital/cqre/internal/refresh"
	"github.com/Combine-Capital/cqre/internal/repository"
	"github.com/Combine-Capital/cqre/internal/server"
	servicesv1 "github.com/Combine-Capital/cqc/gen/go/cqc/services/v1"
	"github.com/Combine-Capital/cqi/pkg/auth"
	"github.com/Combine-Capital/cqi/pkg/bus"
	"github.com/Combine-Capital/cqi/pkg/database"
	"github.com/Combine-Capital/cqi/pkg/logging"
	"github.com/Combine-Capital/cqi/pkg/metrics"
	cqiservice "github.com/Combine-Capital/cqi/pkg/service"
	"github.com/Combine-Capital/cqi/pkg/tracing"
	"github.com/lightningnetwork/lnd/ticker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Service implements the CQI service interface for CQRE.
// It manages the lifecycle of all service components: optional database and
// event bus, the reconciliation engine and its scheduler, the gRPC server and
// the HTTP query API.
type Service struct {
	cfg         *config.Config
	logger      *logging.Logger
	dbPool      *database.Pool
	eventBus    bus.EventBus
	repo        *repository.PostgresRepository
	engine      *Engine
	scheduler   *refresh.Scheduler
	grpcService *cqiservice.GRPCService
	httpService *cqiservice.HTTPService
}

// New creates a new CQRE service instance with the given configuration and logger.
func New(cfg *config.Config, logger *logging.Logger) *Service {
	return &Service{
		cfg:    cfg,
		logger: logger,
	}
}

// Start initializes all service components and starts serving.
// Initialization order:
// 1. Database pool and snapshot schema (when configured)
// 2. Event bus (when configured)
// 3. Reconciliation engine, restored from the last snapshot
// 4. gRPC server with AssetRegistry implementation
// 5. HTTP query API
// 6. Refresh scheduler
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info().Msg("Initializing CQRE service components")

	if s.cfg.DatabaseEnabled() {
		if err := s.initDatabase(ctx); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
	} else {
		s.logger.Warn().Msg("Database not configured, registry snapshots disabled")
	}

	if s.cfg.EventBusEnabled() {
		if err := s.initEventBus(ctx); err != nil {
			return fmt.Errorf("failed to initialize event bus: %w", err)
		}
	} else {
		s.logger.Warn().Msg("Event bus not configured, registry events disabled")
	}

	eventPublisher := manager.NewEventPublisher(s.eventBus, s.logger)

	var snapshotter refresh.Snapshotter
	if s.repo != nil {
		snapshotter = s.repo
	}
	engine, err := NewEngine(s.cfg, snapshotter, eventPublisher)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	s.engine = engine

	if err := s.restoreSnapshot(ctx); err != nil {
		return fmt.Errorf("failed to restore registry snapshot: %w", err)
	}

	assetRegistryServer := server.NewAssetRegistryServer(engine.Assets)

	// Build interceptor chain: auth → logging → metrics → tracing
	// Note: Interceptors are applied in reverse order (last interceptor wraps first)
	unaryInterceptors := []grpc.UnaryServerInterceptor{
		tracing.GRPCUnaryServerInterceptor(s.cfg.Service.Name),
		metrics.UnaryServerInterceptor(s.cfg.Metrics.Namespace),
		logging.UnaryServerInterceptor(s.logger),
		auth.APIKeyUnaryInterceptor(s.cfg.Auth.APIKeys),
	}

	streamInterceptors := []grpc.StreamServerInterceptor{
		tracing.GRPCStreamServerInterceptor(s.cfg.Service.Name),
		metrics.StreamServerInterceptor(s.cfg.Metrics.Namespace),
		logging.StreamServerInterceptor(s.logger),
		auth.APIKeyStreamInterceptor(s.cfg.Auth.APIKeys),
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unaryInterceptors...),
		grpc.ChainStreamInterceptor(streamInterceptors...),
	)
	servicesv1.RegisterAssetRegistryServer(grpcServer, assetRegistryServer)
	grpc_health_v1.RegisterHealthServer(grpcServer, NewHealthServer(s.dbPool))
	reflection.Register(grpcServer) // Enable reflection for grpcurl

	grpcAddr := fmt.Sprintf(":%d", s.cfg.Server.GRPCPort)
	s.grpcService = cqiservice.NewGRPCServiceWithServer(
		"cqre-grpc",
		grpcAddr,
		grpcServer,
		cqiservice.WithGRPCShutdownTimeout(s.cfg.Server.ShutdownTimeout),
	)

	api := server.NewAPI(engine.Assets, engine.Orchestrator, s.ready)
	httpAddr := fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)
	s.httpService = cqiservice.NewHTTPService(
		"cqre-http",
		httpAddr,
		api.Handler(),
		cqiservice.WithReadTimeout(s.cfg.Server.ReadTimeout),
		cqiservice.WithWriteTimeout(s.cfg.Server.WriteTimeout),
		cqiservice.WithShutdownTimeout(s.cfg.Server.ShutdownTimeout),
	)

	s.logger.Info().
		Int("port", s.cfg.Server.GRPCPort).
		Msg("Starting gRPC server")
	if err := s.grpcService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gRPC server: %w", err)
	}

	s.logger.Info().
		Int("port", s.cfg.Server.HTTPPort).
		Msg("Starting HTTP API server")
	if err := s.httpService.Start(ctx); err != nil {
		// Stop gRPC server if HTTP server fails to start
		_ = s.grpcService.Stop(context.Background())
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.scheduler = refresh.NewScheduler(engine.Orchestrator, ticker.New(s.cfg.Engine.RefreshInterval))
	s.scheduler.Start()

	s.logger.Info().
		Int("grpc_port", s.cfg.Server.GRPCPort).
		Int("http_port", s.cfg.Server.HTTPPort).
		Dur("refresh_interval", s.cfg.Engine.RefreshInterval).
		Int("assets", engine.Store.Len()).
		Msg("CQRE service started successfully")

	return nil
}

// Stop gracefully shuts down all service components.
// Components are stopped in reverse order of initialization:
// 1. Refresh scheduler (waits for an in-flight cycle)
// 2. HTTP server
// 3. gRPC server (drain in-flight requests)
// 4. Final registry snapshot
// 5. Event bus (flush pending events)
// 6. Database pool (close connections)
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down CQRE service")

	if s.scheduler != nil {
		s.scheduler.Stop()
		s.logger.Info().Msg("Refresh scheduler stopped")
	}

	if s.httpService != nil {
		if err := s.httpService.Stop(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to stop HTTP server")
		}
	}

	if s.grpcService != nil {
		if err := s.grpcService.Stop(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to stop gRPC server")
		}
	}

	if s.repo != nil && s.engine != nil {
		if saved, err := s.engine.Orchestrator.Save(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to save registry snapshot on shutdown")
		} else {
			s.logger.Info().Int("assets", saved).Msg("Registry snapshot saved")
		}
	}

	if s.eventBus != nil {
		if err := s.eventBus.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to close event bus")
		} else {
			s.logger.Info().Msg("Event bus closed")
		}
	}

	if s.dbPool != nil {
		s.dbPool.Close()
		s.logger.Info().Msg("Database pool closed")
	}

	s.logger.Info().Msg("CQRE service stopped successfully")
	return nil
}

// Name returns the service name for identification.
func (s *Service) Name() string {
	return s.cfg.Service.Name
}

// Health performs a health check on the service.
// Without a database the registry is purely in-memory and always healthy.
func (s *Service) Health() error {
	if s.dbPool == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Database.ConnectTimeout)
	defer cancel()
	return s.dbPool.HealthCheck(ctx)
}

func (s *Service) ready(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	return s.repo.Ping(ctx)
}

// initDatabase initializes the PostgreSQL pool and the snapshot schema.
func (s *Service) initDatabase(ctx context.Context) error {
	s.logger.Info().
		Str("host", s.cfg.Database.Host).
		Int("port", s.cfg.Database.Port).
		Str("database", s.cfg.Database.Database).
		Msg("Connecting to database")

	pool, err := database.NewPool(ctx, s.cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}

	// Verify connectivity
	if err := pool.HealthCheck(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("database health check failed: %w", err)
	}

	repo := repository.NewPostgresRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to migrate snapshot schema: %w", err)
	}

	s.dbPool = pool
	s.repo = repo
	s.logger.Info().Msg("Database connection established")
	return nil
}

// initEventBus initializes the NATS JetStream event bus.
func (s *Service) initEventBus(ctx context.Context) error {
	s.logger.Info().
		Strs("servers", s.cfg.EventBus.Servers).
		Str("stream_name", s.cfg.EventBus.StreamName).
		Msg("Connecting to event bus")

	eventBus, err := bus.NewJetStream(ctx, s.cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}

	s.eventBus = eventBus
	s.logger.Info().Msg("Event bus connection established")
	return nil
}

// restoreSnapshot loads the last persisted registry unless a full refresh
// was requested.
func (s *Service) restoreSnapshot(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	if s.cfg.Engine.ForceRefresh {
		s.logger.Info().Msg("Force refresh requested, skipping snapshot restore")
		return nil
	}

	assets, err := s.repo.LoadAssets(ctx)
	if err != nil {
		return err
	}
	restored := s.engine.Store.Restore(assets)
	stats := s.engine.Assets.Stats()
	s.logger.Info().
		Int("assets", restored).
		Int("search_terms", stats.SearchIndexSize).
		Int("holders", stats.HolderCount).
		Msg("Registry restored from snapshot")
	return nil
}

// HealthServer implements gRPC health checking protocol.
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	dbPool *database.Pool
}

// NewHealthServer creates a new gRPC health server. dbPool may be nil.
func NewHealthServer(dbPool *database.Pool) *HealthServer {
	return &HealthServer{
		dbPool: dbPool,
	}
}

// Check performs a health check.
func (h *HealthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if h.dbPool != nil {
		if err := h.dbPool.HealthCheck(ctx); err != nil {
			return &grpc_health_v1.HealthCheckResponse{
				Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
			}, nil
		}
	}

	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

// Watch performs a streaming health check (not implemented).
func (h *HealthServer) Watch(req *grpc_health_v1.HealthCheckRequest, server grpc_health_v1.Health_WatchServer) error {
	return nil
}
