// Package stream pushes live task events to websocket observers.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/kursadbilgin/codegen-engine/internal/domain"
	"github.com/kursadbilgin/codegen-engine/internal/observability"
	"github.com/kursadbilgin/codegen-engine/internal/transport"
	"go.uber.org/zap"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 4096
)

// TaskService is the part of the generation service the gateway drives.
type TaskService interface {
	Subscribe(id string) (<-chan domain.Event, func(), error)
	Start(ctx context.Context, id string, req *domain.GenerationRequest) (domain.TaskStatus, error)
	Cancel(ctx context.Context, id string) error
}

type Config struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

func (c Config) withDefaults() Config {
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	return c
}

type Server struct {
	tasks    TaskService
	metrics  *observability.Metrics
	logger   *zap.Logger
	cfg      Config
	upgrader websocket.Upgrader
}

func NewServer(tasks TaskService, cfg Config, metrics *observability.Metrics, logger *zap.Logger) (*Server, error) {
	if tasks == nil {
		return nil, fmt.Errorf("task service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		tasks:   tasks,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Router serves the task stream and the metrics endpoint.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws/generations/{id}", s.handleGeneration).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) handleGeneration(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["id"])

	ctx := r.Context()
	if correlationID := strings.TrimSpace(r.Header.Get(transport.HeaderCorrelationID)); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	logger := observability.WithTask(s.logger, ctx, id)

	// subscribe before the upgrade so unknown tasks get a plain 404
	events, unsubscribe, err := s.tasks.Subscribe(id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.metrics.IncStreamConnections()
	defer s.metrics.DecStreamConnections()
	logger.Info("stream observer connected")

	c := newClient(id, conn, events, s.tasks, s.cfg, logger)
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump()
	}()
	c.readPump()
	<-writeDone

	logger.Info("stream observer disconnected")
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"
	if errors.Is(err, domain.ErrNotFound) {
		status = http.StatusNotFound
		message = err.Error()
	}

	body := map[string]string{"error": message}
	if code := domain.ErrorCode(err); code != "" {
		body["code"] = code
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
