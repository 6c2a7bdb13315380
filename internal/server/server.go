package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/wienernetze2mqtt/internal/config"
	"github.com/berfenger/wienernetze2mqtt/internal/core/port"
	"github.com/berfenger/wienernetze2mqtt/internal/core/service"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port        uint
	httpLog     bool
	rootContext *actor.RootContext
	masterActor *actor.PID
	coordinator *service.Coordinator
	history     port.ReadingHistory
	cache       *HistoryCache
	metrics     http.Handler
	now         func() time.Time
}

type Option func(*Server)

// WithHistory serves /history from h. Without it the endpoint answers 404.
func WithHistory(h port.ReadingHistory, cache *HistoryCache) Option {
	return func(s *Server) {
		s.history = h
		s.cache = cache
	}
}

func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func newServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, coordinator *service.Coordinator, opts ...Option) *Server {
	s := &Server{
		port:        cfg.Port,
		rootContext: rootContext,
		masterActor: masterActor,
		coordinator: coordinator,
		httpLog:     cfg.HttpLog,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, coordinator *service.Coordinator, opts ...Option) *http.Server {
	NewServer := newServer(cfg, rootContext, masterActor, coordinator, opts...)

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Minute,
	}

	return server
}
