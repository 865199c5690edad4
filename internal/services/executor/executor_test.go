package executor

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dcaonink/dcaink/internal/domain"
)

var (
	contractAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyerA       = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	buyerB       = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	buyerC       = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	destToken    = common.HexToAddress("0x0606FC632ee812bA970af72F8489baAa443C4B98")
	routerTarget = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func nativeSession(buyer common.Address) domain.Session {
	return domain.Session{
		Buyer:            buyer,
		DestinationToken: destToken,
		AmountPerDay:     big.NewInt(100),
		DaysLeft:         10,
		NativeSource:     true,
	}
}

type fakeChain struct {
	calls int
	err   error
}

func (f *fakeChain) DCAConfig(ctx context.Context, buyer, destinationToken common.Address) (domain.Session, error) {
	f.calls++
	if f.err != nil {
		return domain.Session{}, f.err
	}
	return nativeSession(buyer), nil
}

type fakeSubmitter struct {
	calls     int
	gotSteps  [][]domain.Step
	hash      common.Hash
	err       error
	errFor    map[common.Address]error
	failFirst int
}

func (f *fakeSubmitter) RunDCA(ctx context.Context, buyer, destinationToken common.Address, steps []domain.Step) (common.Hash, error) {
	f.calls++
	f.gotSteps = append(f.gotSteps, steps)
	if f.calls <= f.failFirst {
		return common.Hash{}, errors.New("nonce too low")
	}
	if err, ok := f.errFor[buyer]; ok && err != nil {
		return common.Hash{}, err
	}
	if f.err != nil {
		return common.Hash{}, f.err
	}
	return f.hash, nil
}

type routerCall struct {
	contract, source, destination common.Address
	amountIn                      *big.Int
}

type fakeRouter struct {
	calls []routerCall
	quote *domain.Quote
	err   error
}

func (f *fakeRouter) Quote(ctx context.Context, contract, source, destination common.Address, amountIn *big.Int) (*domain.Quote, error) {
	f.calls = append(f.calls, routerCall{contract, source, destination, amountIn})
	if f.err != nil {
		return nil, f.err
	}
	return f.quote, nil
}

func (f *fakeRouter) Name() string { return "Relay" }

type fakeAttempts struct {
	mu      sync.Mutex
	records []domain.ExecutionAttempt
	err     error
}

func (f *fakeAttempts) Insert(ctx context.Context, a domain.ExecutionAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, a)
	return f.err
}

type fakeStats struct {
	executed []string
	impacts  []domain.PriceImpactRecord
	err      error
}

func (f *fakeStats) AddExecuted(ctx context.Context, source, destination common.Address, amount *big.Int) error {
	f.executed = append(f.executed, source.Hex()+"-"+destination.Hex()+"-"+amount.String())
	return f.err
}

func (f *fakeStats) UpsertPriceImpact(ctx context.Context, rec domain.PriceImpactRecord) error {
	f.impacts = append(f.impacts, rec)
	return f.err
}

func goodQuote() *domain.Quote {
	return &domain.Quote{
		AmountOut:   big.NewInt(95),
		PriceImpact: decimal.RequireFromString("-0.5"),
		Steps:       []domain.Step{{To: routerTarget, Data: common.FromHex("0xdead"), Value: big.NewInt(0)}},
		RequestID:   "req-1",
	}
}

func newTestExecutor(chain *fakeChain, sub *fakeSubmitter, router *fakeRouter,
	attempts *fakeAttempts, stats *fakeStats, opts ...Option) *Executor {

	base := []Option{WithRetryDelay(time.Millisecond), WithMaxRetries(1)}
	return New(contractAddr, chain, sub, router, attempts, stats, zap.NewNop(), append(base, opts...)...)
}

func TestRunSingleSessionSuccess(t *testing.T) {
	chain := &fakeChain{}
	sub := &fakeSubmitter{hash: common.HexToHash("0xdead")}
	router := &fakeRouter{quote: goodQuote()}
	attempts := &fakeAttempts{}
	stats := &fakeStats{}

	exec := newTestExecutor(chain, sub, router, attempts, stats)

	results, summary := exec.Run(context.Background(), []domain.Session{nativeSession(buyerA)})

	require.Len(t, results, 1)
	res := results[0]
	require.True(t, res.Success)
	require.False(t, res.Retried)
	require.Equal(t, common.HexToHash("0xdead"), *res.TxHash)
	require.Equal(t, "Relay", res.Router)
	require.Equal(t, big.NewInt(95), res.AmountOut)
	require.True(t, res.PriceImpact.Equal(decimal.RequireFromString("-0.5")))

	// native source resolves to the sentinel address before quoting
	require.Len(t, router.calls, 1)
	require.Equal(t, domain.NativeToken, router.calls[0].source)
	require.Equal(t, contractAddr, router.calls[0].contract)
	require.Equal(t, big.NewInt(100), router.calls[0].amountIn)

	// the submitted steps are exactly the quote's steps
	require.Equal(t, router.quote.Steps, sub.gotSteps[0])

	require.Len(t, attempts.records, 1)
	rec := attempts.records[0]
	require.True(t, rec.Success)
	require.Equal(t, 0, rec.RetryCount)
	require.Equal(t, "Relay", rec.Router)
	require.NotNil(t, rec.DaysLeft)
	require.Equal(t, int64(10), *rec.DaysLeft)

	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 0, summary.Failed)
	require.Equal(t, map[string]int{"Relay": 1}, summary.RouterUsage)

	// success feeds both stats writes
	require.Len(t, stats.executed, 1)
	require.Len(t, stats.impacts, 1)
	require.Equal(t, common.HexToHash("0xdead").Hex(), stats.impacts[0].TxHash)
}

func TestRunAtMostOneRetry(t *testing.T) {
	chain := &fakeChain{}
	sub := &fakeSubmitter{err: errors.New("rpc hiccup")}
	router := &fakeRouter{quote: goodQuote()}
	attempts := &fakeAttempts{}
	stats := &fakeStats{}

	exec := newTestExecutor(chain, sub, router, attempts, stats)

	results, summary := exec.Run(context.Background(), []domain.Session{nativeSession(buyerA)})

	// initial attempt plus exactly one retry, everything recomputed
	require.Equal(t, 2, chain.calls)
	require.Len(t, router.calls, 2)
	require.Equal(t, 2, sub.calls)

	require.Len(t, attempts.records, 2)
	require.False(t, attempts.records[0].Success)
	require.Equal(t, 0, attempts.records[0].RetryCount)
	require.False(t, attempts.records[1].Success)
	require.Equal(t, 1, attempts.records[1].RetryCount)
	require.Contains(t, attempts.records[1].ErrorMessage, "rpc hiccup")

	require.Len(t, results, 1)
	require.False(t, results[0].Success)
	require.True(t, results[0].Retried)
	require.Equal(t, 1, summary.Failed)
	require.Empty(t, stats.executed)
}

func TestRunRetrySucceeds(t *testing.T) {
	chain := &fakeChain{}
	// first submission fails, the retry goes through
	sub := &fakeSubmitter{hash: common.HexToHash("0xbeef"), failFirst: 1}
	router := &fakeRouter{quote: goodQuote()}
	attempts := &fakeAttempts{}
	stats := &fakeStats{}

	exec := newTestExecutor(chain, sub, router, attempts, stats)

	results, summary := exec.Run(context.Background(), []domain.Session{nativeSession(buyerA)})

	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.True(t, results[0].Retried)
	require.Equal(t, 1, summary.Succeeded)

	require.Len(t, attempts.records, 2)
	require.False(t, attempts.records[0].Success)
	require.Equal(t, 0, attempts.records[0].RetryCount)
	require.True(t, attempts.records[1].Success)
	require.Equal(t, 1, attempts.records[1].RetryCount)
}

func TestRunBatchResilience(t *testing.T) {
	chain := &fakeChain{}
	sub := &fakeSubmitter{
		hash:   common.HexToHash("0xdead"),
		errFor: map[common.Address]error{buyerB: errors.New("always reverts")},
	}
	router := &fakeRouter{quote: goodQuote()}
	attempts := &fakeAttempts{}
	stats := &fakeStats{}

	exec := newTestExecutor(chain, sub, router, attempts, stats)

	sessions := []domain.Session{nativeSession(buyerA), nativeSession(buyerB), nativeSession(buyerC)}
	results, summary := exec.Run(context.Background(), sessions)

	require.Len(t, results, 3)
	// order preserved, middle failure does not stop the batch
	require.Equal(t, buyerA, results[0].Buyer)
	require.True(t, results[0].Success)
	require.Equal(t, buyerB, results[1].Buyer)
	require.False(t, results[1].Success)
	require.Equal(t, buyerC, results[2].Buyer)
	require.True(t, results[2].Success)

	require.Equal(t, 3, summary.Total)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, map[string]int{"Relay": 2}, summary.RouterUsage)
}

func TestRunZeroOutputQuoteSkips(t *testing.T) {
	chain := &fakeChain{}
	sub := &fakeSubmitter{}
	router := &fakeRouter{err: domain.ErrNoQuote}
	attempts := &fakeAttempts{}
	stats := &fakeStats{}

	exec := newTestExecutor(chain, sub, router, attempts, stats)

	results, summary := exec.Run(context.Background(), []domain.Session{nativeSession(buyerA)})

	require.Len(t, results, 1)
	require.True(t, results[0].Skipped)
	require.False(t, results[0].Success)
	require.Equal(t, "NO_QUOTE", results[0].SkipReason)

	// no submission, no retry, no attempt record
	require.Equal(t, 0, sub.calls)
	require.Len(t, router.calls, 1)
	require.Empty(t, attempts.records)

	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 0, summary.Failed)
}

func TestRunAmountNotSupportedSkips(t *testing.T) {
	chain := &fakeChain{}
	sub := &fakeSubmitter{}
	router := &fakeRouter{err: &domain.QuoteError{
		Kind:   domain.QuoteErrAmountNotSupported,
		Status: http.StatusBadRequest,
	}}
	attempts := &fakeAttempts{}
	stats := &fakeStats{}

	exec := newTestExecutor(chain, sub, router, attempts, stats)

	results, _ := exec.Run(context.Background(), []domain.Session{nativeSession(buyerA)})

	require.True(t, results[0].Skipped)
	require.Equal(t, "AMOUNT_NOT_SUPPORTED", results[0].SkipReason)
	require.Equal(t, 0, sub.calls)
	require.Len(t, router.calls, 1, "expected rejections are not retried")
	require.Empty(t, attempts.records)
}

func TestRunTelemetryFailureDoesNotFailSession(t *testing.T) {
	chain := &fakeChain{}
	sub := &fakeSubmitter{hash: common.HexToHash("0xdead")}
	router := &fakeRouter{quote: goodQuote()}
	attempts := &fakeAttempts{err: errors.New("postgres down")}
	stats := &fakeStats{err: errors.New("postgres down")}

	exec := newTestExecutor(chain, sub, router, attempts, stats)

	results, summary := exec.Run(context.Background(), []domain.Session{nativeSession(buyerA)})

	require.True(t, results[0].Success)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 0, summary.Failed)
}

func TestRunPublishesResults(t *testing.T) {
	chain := &fakeChain{}
	sub := &fakeSubmitter{hash: common.HexToHash("0xdead")}
	router := &fakeRouter{quote: goodQuote()}

	var published []domain.ExecutionResult
	pub := publisherFunc(func(res domain.ExecutionResult) {
		published = append(published, res)
	})

	exec := newTestExecutor(chain, sub, router, &fakeAttempts{}, &fakeStats{}, WithPublisher(pub))

	exec.Run(context.Background(), []domain.Session{nativeSession(buyerA), nativeSession(buyerB)})

	require.Len(t, published, 2)
	require.Equal(t, buyerA, published[0].Buyer)
	require.Equal(t, buyerB, published[1].Buyer)
}

type publisherFunc func(res domain.ExecutionResult)

func (f publisherFunc) PublishResult(res domain.ExecutionResult) { f(res) }
