// Package executor drives DCA session batches: per-session config refresh,
// quote routing, transaction submission, a single delayed retry and
// telemetry persistence.
package executor

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dcaonink/dcaink/internal/domain"
	"github.com/dcaonink/dcaink/pkg/retrier"
)

const (
	// DefaultRetryDelay is the fixed pause before the single retry. A flat
	// delay rides out transient aggregator or RPC hiccups; there is no
	// exponential schedule because only one retry is ever made.
	DefaultRetryDelay = 3 * time.Second
	// DefaultMaxRetries bounds retries per session per run.
	DefaultMaxRetries = 1
)

type configFetcher interface {
	DCAConfig(ctx context.Context, buyer, destinationToken common.Address) (domain.Session, error)
}

type txSubmitter interface {
	RunDCA(ctx context.Context, buyer, destinationToken common.Address, steps []domain.Step) (common.Hash, error)
}

type quoteRouter interface {
	Quote(ctx context.Context, contract, source, destination common.Address, amountIn *big.Int) (*domain.Quote, error)
	Name() string
}

type attemptRecorder interface {
	Insert(ctx context.Context, attempt domain.ExecutionAttempt) error
}

type statsAggregator interface {
	AddExecuted(ctx context.Context, source, destination common.Address, amount *big.Int) error
	UpsertPriceImpact(ctx context.Context, rec domain.PriceImpactRecord) error
}

type resultPublisher interface {
	PublishResult(res domain.ExecutionResult)
}

// Executor processes batches of due sessions strictly sequentially.
// Sequential processing keeps the submitting account's nonce ordering simple
// and bounds aggregator and RPC load.
type Executor struct {
	contract   common.Address
	chain      configFetcher
	submitter  txSubmitter
	router     quoteRouter
	attempts   attemptRecorder
	stats      statsAggregator
	publisher  resultPublisher
	retryDelay time.Duration
	maxRetries int
	logger     *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRetryDelay overrides the pause before a retry.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Executor) {
		e.retryDelay = d
	}
}

// WithMaxRetries overrides the per-session retry budget.
func WithMaxRetries(n int) Option {
	return func(e *Executor) {
		e.maxRetries = n
	}
}

// WithPublisher registers a live result publisher.
func WithPublisher(p resultPublisher) Option {
	return func(e *Executor) {
		e.publisher = p
	}
}

// New creates an executor bound to the given contract and collaborators.
func New(contract common.Address, chain configFetcher, submitter txSubmitter, router quoteRouter,
	attempts attemptRecorder, stats statsAggregator, logger *zap.Logger, opts ...Option) *Executor {

	e := &Executor{
		contract:   contract,
		chain:      chain,
		submitter:  submitter,
		router:     router,
		attempts:   attempts,
		stats:      stats,
		retryDelay: DefaultRetryDelay,
		maxRetries: DefaultMaxRetries,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run executes every session in order. One session exhausting its retries
// never aborts the batch; only setup-level failures propagate to the caller
// (none exist inside Run itself, so the returned summary always covers all
// sessions).
func (e *Executor) Run(ctx context.Context, sessions []domain.Session) ([]domain.ExecutionResult, domain.RunSummary) {
	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run_id", runID))

	summary := domain.RunSummary{
		RunID:       runID,
		Total:       len(sessions),
		RouterUsage: make(map[string]int),
	}

	logger.Info("starting dca run", zap.Int("sessions", len(sessions)))

	results := make([]domain.ExecutionResult, 0, len(sessions))
	for _, sess := range sessions {
		result := e.executeSession(ctx, runID, sess, logger)
		results = append(results, result)

		switch {
		case result.Success:
			summary.Succeeded++
			summary.RouterUsage[result.Router]++
		case result.Skipped:
			summary.Skipped++
		default:
			summary.Failed++
		}

		if e.publisher != nil {
			e.publisher.PublishResult(result)
		}
	}

	logger.Info("dca run complete",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Any("router_usage", summary.RouterUsage))

	return results, summary
}

// executeSession runs one session through the retry state machine and
// persists telemetry for every try.
func (e *Executor) executeSession(ctx context.Context, runID string, sess domain.Session, logger *zap.Logger) domain.ExecutionResult {
	slog := logger.With(
		zap.String("buyer", sess.Buyer.Hex()),
		zap.String("destination", sess.DestinationToken.Hex()))

	var (
		result  domain.ExecutionResult
		current = sess
		tryNum  int
	)

	r := retrier.New(
		retrier.WithDelay(e.retryDelay),
		retrier.WithMaxRetries(e.maxRetries),
		retrier.WithOnRetry(func(attempt int, err error) {
			slog.Warn("session attempt failed, retrying",
				zap.Int("retry", attempt),
				zap.Error(err))
		}),
	)

	err := r.Do(ctx, func(ctx context.Context) error {
		retryCount := tryNum
		tryNum++

		res, fresh, attemptErr := e.attemptOne(ctx, current)
		current = fresh

		if attemptErr != nil {
			if skip, reason := softSkip(attemptErr); skip {
				slog.Info("session skipped", zap.String("reason", reason))
				result = domain.ExecutionResult{
					Buyer:            current.Buyer,
					SourceToken:      current.EffectiveSource(),
					DestinationToken: current.DestinationToken,
					Skipped:          true,
					SkipReason:       reason,
				}
				return nil
			}

			result = domain.ExecutionResult{
				Buyer:            current.Buyer,
				SourceToken:      current.EffectiveSource(),
				DestinationToken: current.DestinationToken,
				Err:              attemptErr.Error(),
				Retried:          retryCount > 0,
			}
			e.recordAttempt(ctx, runID, current, result, retryCount, slog)
			return attemptErr
		}

		res.Retried = retryCount > 0
		result = res
		e.recordAttempt(ctx, runID, current, result, retryCount, slog)
		return nil
	})
	if err != nil {
		slog.Error("session failed after retries", zap.Error(err))
		return result
	}

	if result.Success {
		e.aggregateSuccess(ctx, current, result, slog)
		slog.Info("session executed",
			zap.String("tx", result.TxHash.Hex()),
			zap.String("amount_out", result.AmountOut.String()),
			zap.String("price_impact", domain.FormatPriceImpact(result.PriceImpact)))
	}

	return result
}

// attemptOne performs a single full execution try. Nothing survives between
// tries: config, quote and submission are all redone on retry because price
// and chain state can change between attempts.
func (e *Executor) attemptOne(ctx context.Context, sess domain.Session) (domain.ExecutionResult, domain.Session, error) {
	cfg, err := e.chain.DCAConfig(ctx, sess.Buyer, sess.DestinationToken)
	if err != nil {
		return domain.ExecutionResult{}, sess, errors.Wrap(err, "failed to fetch session config")
	}

	source := cfg.EffectiveSource()

	quote, err := e.router.Quote(ctx, e.contract, source, cfg.DestinationToken, cfg.AmountPerDay)
	if err != nil {
		return domain.ExecutionResult{}, cfg, err
	}

	txHash, err := e.submitter.RunDCA(ctx, cfg.Buyer, cfg.DestinationToken, quote.Steps)
	if err != nil {
		return domain.ExecutionResult{}, cfg, errors.Wrap(err, "failed to submit runDCA")
	}

	impact := quote.PriceImpact

	return domain.ExecutionResult{
		Buyer:            cfg.Buyer,
		SourceToken:      source,
		DestinationToken: cfg.DestinationToken,
		Success:          true,
		TxHash:           &txHash,
		Router:           e.router.Name(),
		AmountOut:        quote.AmountOut,
		PriceImpact:      &impact,
		SlippagePct:      quote.SlippagePct,
	}, cfg, nil
}

// recordAttempt persists one try's audit row. Persistence failures are
// logged and swallowed: attempt tracking is observability, not
// correctness-critical state.
func (e *Executor) recordAttempt(ctx context.Context, runID string, sess domain.Session, res domain.ExecutionResult, retryCount int, logger *zap.Logger) {
	daysLeft := sess.DaysLeft

	attempt := domain.ExecutionAttempt{
		RunID:            runID,
		Buyer:            sess.Buyer,
		SourceToken:      res.SourceToken,
		DestinationToken: sess.DestinationToken,
		AmountPerDay:     sess.AmountPerDay,
		Success:          res.Success,
		ErrorMessage:     res.Err,
		RetryCount:       retryCount,
		TxHash:           res.TxHash,
		PriceImpact:      res.PriceImpact,
		SlippagePct:      res.SlippagePct,
		Router:           res.Router,
		DaysLeft:         &daysLeft,
		Timestamp:        time.Now().UTC(),
	}

	if err := e.attempts.Insert(ctx, attempt); err != nil {
		logger.Error("failed to store attempt record", zap.Error(err))
	}
}

// aggregateSuccess bumps pair counters and caches execution pricing after a
// confirmed purchase. Both writes are log-only on failure.
func (e *Executor) aggregateSuccess(ctx context.Context, sess domain.Session, res domain.ExecutionResult, logger *zap.Logger) {
	if err := e.stats.AddExecuted(ctx, res.SourceToken, res.DestinationToken, sess.AmountPerDay); err != nil {
		logger.Error("failed to update pair stats", zap.Error(err))
	}

	rec := domain.PriceImpactRecord{
		TxHash:           res.TxHash.Hex(),
		Buyer:            sess.Buyer.Hex(),
		SourceToken:      res.SourceToken.Hex(),
		DestinationToken: res.DestinationToken.Hex(),
		PriceImpact:      res.PriceImpact,
		SlippagePct:      res.SlippagePct,
		AmountIn:         sess.AmountPerDay.String(),
		CreatedAt:        time.Now().UTC(),
	}
	if res.AmountOut != nil {
		rec.AmountOut = res.AmountOut.String()
	}

	if err := e.stats.UpsertPriceImpact(ctx, rec); err != nil {
		logger.Error("failed to cache price impact", zap.Error(err))
	}
}

// softSkip classifies expected no-action quote outcomes: an aggregator
// rejection or a zero-output quote means "nothing to do this round", not a
// failure worth retrying.
func softSkip(err error) (bool, string) {
	var qerr *domain.QuoteError
	if errors.As(err, &qerr) {
		return true, string(qerr.Kind)
	}

	if errors.Is(err, domain.ErrNoQuote) {
		return true, "NO_QUOTE"
	}

	return false, ""
}
