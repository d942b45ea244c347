package main

import (
	"context"
	"net/http"

	"github.com/BaSui01/aifallback"
	"github.com/BaSui01/aifallback/api/handlers"
	"github.com/BaSui01/aifallback/internal/server"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ 服务器
// =============================================================================

// Server 持有路由与 HTTP 服务器管理器
type Server struct {
	client  *aifallback.Client
	logger  *zap.Logger
	router  chi.Router
	manager *server.Manager
}

// NewServer 创建服务器并注册全部路由
func NewServer(client *aifallback.Client, logger *zap.Logger) *Server {
	s := &Server{client: client, logger: logger}
	s.router = s.routes()
	s.manager = server.NewManager(s.router, server.FromServerConfig(client.Config().Server), logger)
	return s
}

// Handler 返回根路由
func (s *Server) Handler() http.Handler { return s.router }

// Run 启动服务器，阻塞到 ctx 结束后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	return s.manager.Run(ctx)
}

func (s *Server) routes() chi.Router {
	cfg := s.client.Config()

	generate := handlers.NewGenerateHandler(s.client.Dispatcher(), cfg.Server.MaxBodyBytes, s.logger)
	health := handlers.NewHealthHandler(Version, s.logger)
	health.RegisterCheck(handlers.NewRegistryHealthCheck(s.client.Registry()))
	if rdb := s.client.Redis(); rdb != nil {
		health.RegisterCheck(handlers.NewFuncHealthCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders())
	r.Use(RequestLogger(s.logger))

	r.Get("/healthz", health.HandleHealthz)
	r.Get("/readyz", health.HandleReady)
	if g := s.client.Gatherer(); g != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{Registry: registererOf(g)}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(MetricsMiddleware(s.client.Metrics()))
		if cfg.Telemetry.Enabled {
			r.Use(OTelTracing())
		}
		r.Post("/text", generate.HandleText)
		r.Post("/object", generate.HandleObject)
		r.Post("/image", generate.HandleImage)
		r.Post("/stream", generate.HandleStream)
		r.Get("/stream/ws", generate.HandleStreamWS)
	})

	return r
}

// registererOf 让 promhttp 自身的错误计数注册到同一个 registry
func registererOf(g prometheus.Gatherer) prometheus.Registerer {
	if reg, ok := g.(prometheus.Registerer); ok {
		return reg
	}
	return nil
}
