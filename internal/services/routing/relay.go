// Package routing requests executable swap quotes from the Relay aggregator
// and converts them into on-chain call steps.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dcaonink/dcaink/internal/domain"
)

// RouterName identifies the aggregator in results and attempt records.
const RouterName = "Relay"

const userAgent = "dcaink/1.0"

// hopImpactEstimate is the assumed per-hop impact used when the aggregator
// omits both impact fields. A rough approximation kept for parity with
// observed router behavior.
var hopImpactEstimate = decimal.RequireFromString("-0.3")

// RelayRouter fetches quotes from the Relay HTTP API.
type RelayRouter struct {
	apiURL  string
	chainID int64
	client  *http.Client
	logger  *zap.Logger
}

// NewRelayRouter creates a router against the given quote endpoint. A nil
// httpClient falls back to http.DefaultClient.
func NewRelayRouter(apiURL string, chainID int64, httpClient *http.Client, logger *zap.Logger) *RelayRouter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &RelayRouter{
		apiURL:  apiURL,
		chainID: chainID,
		client:  httpClient,
		logger:  logger,
	}
}

// Name identifies the aggregator in execution results.
func (r *RelayRouter) Name() string { return RouterName }

type quoteRequest struct {
	User                string `json:"user"`
	OriginChainID       int64  `json:"originChainId"`
	DestinationChainID  int64  `json:"destinationChainId"`
	OriginCurrency      string `json:"originCurrency"`
	DestinationCurrency string `json:"destinationCurrency"`
	Amount              string `json:"amount"`
	TradeType           string `json:"tradeType"`
	Recipient           string `json:"recipient"`
}

type quoteResponse struct {
	Details   *quoteDetails `json:"details"`
	Steps     []quoteStep   `json:"steps"`
	RequestID string        `json:"requestId"`
}

type quoteDetails struct {
	CurrencyOut       *currencyOut       `json:"currencyOut"`
	SwapImpact        *percentField      `json:"swapImpact"`
	TotalImpact       *percentField      `json:"totalImpact"`
	SlippageTolerance *slippageTolerance `json:"slippageTolerance"`
}

type currencyOut struct {
	Amount        string `json:"amount"`
	MinimumAmount string `json:"minimumAmount"`
}

type percentField struct {
	Percent *string `json:"percent"`
}

type slippageTolerance struct {
	Origin *percentField `json:"origin"`
}

type quoteStep struct {
	Items []quoteStepItem `json:"items"`
}

type quoteStepItem struct {
	Data *stepCallData `json:"data"`
}

type stepCallData struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// Quote requests an exact-input quote for swapping amountIn of source into
// destination, executed by and delivered to the DCA contract.
//
// Expected rejections come back as *domain.QuoteError (non-2xx status) or
// domain.ErrNoQuote (zero output amount); anything else (transport failure,
// malformed body) is a hard error.
func (r *RelayRouter) Quote(ctx context.Context, contract, source, destination common.Address, amountIn *big.Int) (*domain.Quote, error) {
	body, err := json.Marshal(quoteRequest{
		User:                contract.Hex(),
		OriginChainID:       r.chainID,
		DestinationChainID:  r.chainID,
		OriginCurrency:      source.Hex(),
		DestinationCurrency: destination.Hex(),
		Amount:              amountIn.String(),
		TradeType:           "EXACT_INPUT",
		Recipient:           contract.Hex(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal quote request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build quote request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "quote request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read quote response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := domain.QuoteErrAPI
		if resp.StatusCode == http.StatusBadRequest {
			kind = domain.QuoteErrAmountNotSupported
		}

		r.logger.Warn("aggregator rejected quote request",
			zap.Int("status", resp.StatusCode),
			zap.String("kind", string(kind)),
			zap.String("source", source.Hex()),
			zap.String("destination", destination.Hex()))

		return nil, &domain.QuoteError{Kind: kind, Status: resp.StatusCode, Message: string(raw)}
	}

	var parsed quoteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(err, "failed to decode quote response")
	}

	amountOut := parseAmount(outAmount(&parsed))
	if amountOut.Sign() == 0 {
		r.logger.Info("aggregator returned zero output, skipping",
			zap.String("source", source.Hex()),
			zap.String("destination", destination.Hex()),
			zap.String("amount_in", amountIn.String()))
		return nil, domain.ErrNoQuote
	}

	steps, err := flattenSteps(parsed.Steps)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode quote steps")
	}

	quote := &domain.Quote{
		AmountOut:   amountOut,
		PriceImpact: extractPriceImpact(&parsed),
		Steps:       steps,
		RequestID:   parsed.RequestID,
		Raw:         json.RawMessage(raw),
	}

	if parsed.Details != nil && parsed.Details.CurrencyOut != nil && parsed.Details.CurrencyOut.MinimumAmount != "" {
		quote.MinAmountOut = parseAmount(parsed.Details.CurrencyOut.MinimumAmount)
	}
	if pct := slippagePercent(&parsed); pct != nil {
		quote.SlippagePct = pct
	}

	return quote, nil
}

func outAmount(q *quoteResponse) string {
	if q.Details == nil || q.Details.CurrencyOut == nil {
		return "0"
	}
	return q.Details.CurrencyOut.Amount
}

// extractPriceImpact prefers the swap-only impact, falls back to the total
// impact, then to a per-hop estimate. Sign is preserved throughout:
// positive means favorable, negative unfavorable.
func extractPriceImpact(q *quoteResponse) decimal.Decimal {
	if q.Details != nil {
		if pct := percentValue(q.Details.SwapImpact); pct != nil {
			return *pct
		}
		if pct := percentValue(q.Details.TotalImpact); pct != nil {
			return *pct
		}
	}

	return hopImpactEstimate.Mul(decimal.NewFromInt(int64(len(q.Steps))))
}

func slippagePercent(q *quoteResponse) *decimal.Decimal {
	if q.Details == nil || q.Details.SlippageTolerance == nil {
		return nil
	}
	return percentValue(q.Details.SlippageTolerance.Origin)
}

func percentValue(f *percentField) *decimal.Decimal {
	if f == nil || f.Percent == nil {
		return nil
	}

	pct, err := decimal.NewFromString(*f.Percent)
	if err != nil {
		return nil
	}

	return &pct
}

// flattenSteps linearizes the nested step list, dropping items that carry no
// call data. Step values come back in decimal or 0x-prefixed hex form; a
// value in neither form is a hard error, never a zero.
func flattenSteps(steps []quoteStep) ([]domain.Step, error) {
	var out []domain.Step
	for _, step := range steps {
		for _, item := range step.Items {
			if item.Data == nil {
				continue
			}

			value := new(big.Int)
			if item.Data.Value != "" {
				if _, ok := value.SetString(item.Data.Value, 0); !ok {
					return nil, errors.Errorf("unparseable step value %q", item.Data.Value)
				}
			}

			out = append(out, domain.Step{
				To:    common.HexToAddress(item.Data.To),
				Data:  common.FromHex(item.Data.Data),
				Value: value,
			})
		}
	}

	return out, nil
}

func parseAmount(s string) *big.Int {
	if s == "" {
		return new(big.Int)
	}

	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}

	return v
}
