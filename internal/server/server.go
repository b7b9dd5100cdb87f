// Package server wires the gateway together: database pool, catalog cache,
// schema generator, transport handlers, change data capture, and the HTTP
// surface.
package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog/log"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/cdc"
	"github.com/pgqlgate/pgqlgate/internal/config"
	"github.com/pgqlgate/pgqlgate/internal/database"
	"github.com/pgqlgate/pgqlgate/internal/gql"
	"github.com/pgqlgate/pgqlgate/internal/observability"
	"github.com/pgqlgate/pgqlgate/internal/resolve"
	"github.com/pgqlgate/pgqlgate/internal/security"
	"github.com/pgqlgate/pgqlgate/internal/transport"
)

// Server is the assembled gateway
type Server struct {
	app       *fiber.App
	config    *config.Config
	db        *database.Connection
	catalogs  *catalog.Cache
	generator *gql.Generator
	handler   *transport.Handler
	metrics   *observability.Metrics
	publisher *cdc.Publisher
	engine    *cdc.Engine
	cdcCancel context.CancelFunc
	startTime time.Time
}

// NewServer assembles the gateway from configuration
func NewServer(cfg *config.Config, db *database.Connection) *Server {
	app := fiber.New(fiber.Config{
		ServerHeader:          "pgqlgate",
		AppName:               "pgqlgate",
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
	})

	metrics := observability.NewMetrics()
	db.SetMetrics(metrics)

	inspector, err := catalog.NewInspector(cfg.Graph.Dialect, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to construct catalog inspector")
	}
	catalogs := catalog.NewCache(inspector, cfg.Cache.SchemaTTL)

	var publisher *cdc.Publisher
	var engine *cdc.Engine
	var changes resolve.ChangeSource
	if cfg.CDC.Enabled {
		publisher = cdc.NewPublisher(cfg.CDC.BufferSize, cfg.CDC.HeartbeatInterval)
		publisher.SetMetrics(metrics)
		engine = cdc.NewEngine(cfg.CDC, cfg.Database, publisher)
		changes = publisher
	}

	resolvers := resolve.NewResolvers(db, catalogs, cfg.Graph.Schema, changes)
	generator := gql.NewGenerator(catalogs, cfg.Graph.Schema, resolvers)
	generator.OnRebuild(metrics.RecordSchemaRebuild)
	guard := security.NewGuard(cfg.Security)

	handler := transport.NewHandler(db, catalogs, generator, guard, cfg)
	handler.SetMetrics(metrics)

	s := &Server{
		app:       app,
		config:    cfg,
		db:        db,
		catalogs:  catalogs,
		generator: generator,
		handler:   handler,
		metrics:   metrics,
		publisher: publisher,
		engine:    engine,
		startTime: time.Now(),
	}

	s.setupMiddlewares()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddlewares() {
	s.app.Use(requestid.New())

	if s.config.Debug {
		s.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
		}))
	}

	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: s.config.Debug,
	}))

	s.app.Use(s.metrics.MetricsMiddleware())

	s.app.Use(compress.New(compress.Config{
		Level: compress.LevelDefault,
	}))
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handler.HandleHealth)
	s.app.Get("/metrics", s.metrics.Handler())

	s.app.Post("/graphql", s.handler.HandleGraphQL)
	s.app.Get("/graphql/ws", s.handler.HandleWebSocket)

	if s.config.Server.AdminRoutes {
		s.app.Post("/admin/invalidate-schema", s.handler.HandleInvalidate)
	}
}

// Start begins serving. The CDC engine runs alongside the listener when
// enabled.
func (s *Server) Start() error {
	if s.engine != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cdcCancel = cancel
		go s.engine.Run(ctx)
		log.Info().
			Str("slot", s.config.CDC.SlotName).
			Str("publication", s.config.CDC.PublicationName).
			Msg("Change data capture started")
	}

	go s.uptimeLoop()

	log.Info().Str("address", s.config.Server.Address).Msg("Server listening")
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown stops the CDC stream, closes subscriber channels, and drains the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cdcCancel != nil {
		s.cdcCancel()
	}
	if s.publisher != nil {
		s.publisher.Shutdown()
	}
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the Fiber app for tests
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) uptimeLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		s.metrics.UpdateUptime(s.startTime)
		if stats := s.db.Stats(); stats != nil {
			s.metrics.UpdateDBStats(stats.TotalConns(), stats.IdleConns(), stats.MaxConns())
		}
	}
}
