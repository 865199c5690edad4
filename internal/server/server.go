// Package server exposes the scheduler trigger, reporting endpoints and the
// live execution stream over HTTP.
package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/dcaonink/dcaink/internal/cache"
	"github.com/dcaonink/dcaink/internal/domain"
	"github.com/dcaonink/dcaink/internal/storage"
)

const statsCacheTTL = 60 * time.Second

type sessionMatcher interface {
	DueSessions(ctx context.Context) ([]domain.Session, error)
}

type batchExecutor interface {
	Run(ctx context.Context, sessions []domain.Session) ([]domain.ExecutionResult, domain.RunSummary)
}

type attemptReader interface {
	StatsSince(ctx context.Context, cutoff time.Time, buyer, destinationToken string) (storage.AttemptStats, error)
}

type statsReader interface {
	Get(ctx context.Context, source, destination string) (domain.PairStats, error)
	TopByExecuted(ctx context.Context, limit int) ([]domain.PairStats, error)
	AddRegistered(ctx context.Context, source, destination common.Address, amount *big.Int) error
}

type userWriter interface {
	Upsert(ctx context.Context, address, buyTime string) error
}

type purchaseCache interface {
	Get(ctx context.Context, buyerAddress string) (storage.CachedEvents, bool, error)
	Upsert(ctx context.Context, buyerAddress string, cached storage.CachedEvents) error
}

// Server wires the HTTP API together.
type Server struct {
	Addr string

	cronSecret string
	matcher    sessionMatcher
	executor   batchExecutor
	attempts   attemptReader
	stats      statsReader
	users      userWriter
	purchases  purchaseCache
	statsCache *cache.TTLCache[string, domain.PairStats]
	stream     *Broadcaster
	logger     *zap.Logger
}

// New creates a server instance. The stats cache keeps pair-stats responses
// for a minute to shield Postgres from dashboard polling.
func New(addr, cronSecret string, matcher sessionMatcher, executor batchExecutor,
	attempts attemptReader, stats statsReader, users userWriter, purchases purchaseCache,
	stream *Broadcaster, logger *zap.Logger) *Server {

	return &Server{
		Addr:       addr,
		cronSecret: cronSecret,
		matcher:    matcher,
		executor:   executor,
		attempts:   attempts,
		stats:      stats,
		users:      users,
		purchases:  purchases,
		statsCache: cache.New[string, domain.PairStats](statsCacheTTL, nil),
		stream:     stream,
		logger:     logger,
	}
}

// Routes builds the request multiplexer.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/cron/run", s.handleCronRun)
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/stats", s.handlePairStats)
	mux.HandleFunc("/stats/attempts", s.handleAttemptStats)
	mux.HandleFunc("/halloffame", s.handleHallOfFame)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/history/sync", s.handleHistorySync)
	mux.HandleFunc("/executions/stream", s.stream.Handler())
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", s.Addr))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
