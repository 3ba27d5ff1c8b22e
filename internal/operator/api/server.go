package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/trigg3rX/mmlu-operator/internal/operator/tasks"
	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
	"github.com/trigg3rX/mmlu-operator/pkg/logging"
)

const shutdownTimeout = 5 * time.Second

// TaskStatusProvider exposes dispatcher state.
type TaskStatusProvider interface {
	Status(taskIndex uint32) (types.TaskStatus, bool)
	Statuses() []types.TaskStatus
}

// AccuracyProvider exposes the accuracy ledger.
type AccuracyProvider interface {
	Entries() []tasks.LedgerEntry
	Average() (float64, int)
}

// Server is the operator's read-only status API.
type Server struct {
	router     *mux.Router
	cors       *cors.Cors
	httpServer *http.Server
	logger     logging.Logger

	operator  common.Address
	tasks     TaskStatusProvider
	accuracy  AccuracyProvider
	startedAt time.Time
}

func NewServer(port int, operator common.Address, taskStatus TaskStatusProvider, accuracy AccuracyProvider, logger logging.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		cors: cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Accept", "Origin"},
		}),
		logger:    logger,
		operator:  operator,
		tasks:     taskStatus,
		accuracy:  accuracy,
		startedAt: time.Now(),
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(mux.CORSMethodMiddleware(api))
	api.HandleFunc("/accuracy", s.handleAccuracy).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.handleTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{index}", s.handleTask).Methods(http.MethodGet)
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	return s.cors.Handler(s.router)
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("Status API listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status API shutdown: %w", err)
	}
	s.logger.Info("Status API stopped")
	return nil
}
