package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/dcaonink/dcaink/internal/domain"
	"github.com/dcaonink/dcaink/internal/services/matcher"
	"github.com/dcaonink/dcaink/internal/storage"
)

// scheduleIDHeader carries the shared secret set on the cron schedule.
const scheduleIDHeader = "Upstash-Schedule-Id"

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sessionJSON is the wire shape of a matched session.
type sessionJSON struct {
	Address          string `json:"address"`
	SourceToken      string `json:"source_token"`
	DestinationToken string `json:"destination_token"`
	BuyTime          string `json:"buy_time"`
	AmountPerDay     string `json:"amount_per_day"`
	DaysLeft         string `json:"days_left"`
	IsNativeETH      bool   `json:"isNativeETH"`
}

func toSessionJSON(s domain.Session) sessionJSON {
	return sessionJSON{
		Address:          s.Buyer.Hex(),
		SourceToken:      s.SourceToken.Hex(),
		DestinationToken: s.DestinationToken.Hex(),
		BuyTime:          matcher.SlotString(s.BuyTime),
		AmountPerDay:     s.AmountPerDay.String(),
		DaysLeft:         strconv.FormatInt(s.DaysLeft, 10),
		IsNativeETH:      s.NativeSource,
	}
}

// handleCronRun is the scheduler-facing trigger. Individual session failures
// never surface as an endpoint error: the response is 200 with the matched
// list whenever matching itself worked, and failure detail lives in the
// per-session results and the attempt log.
func (s *Server) handleCronRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	got := r.Header.Get(scheduleIDHeader)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.cronSecret)) != 1 {
		s.logger.Error("cron trigger with invalid or missing schedule id")
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sessions, err := s.matcher.DueSessions(r.Context())
	if err != nil {
		s.logger.Error("session matching failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	matched := make([]sessionJSON, 0, len(sessions))
	for _, sess := range sessions {
		matched = append(matched, toSessionJSON(sess))
	}

	if len(sessions) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"matched": matched})
		return
	}

	results, summary := s.executor.Run(r.Context(), sessions)

	writeJSON(w, http.StatusOK, map[string]any{
		"matched": matched,
		"results": results,
		"summary": summary,
	})
}

type registerRequest struct {
	Address          string `json:"address"`
	BuyTime          string `json:"buy_time"`
	SourceToken      string `json:"source_token"`
	DestinationToken string `json:"destination_token"`
	AmountPerDay     string `json:"amount_per_day"`
}

// handleRegister validates and records a buyer registration, rounding the
// buy time onto the quarter-hour grid the scheduler fires on. When the pair
// and amount are supplied, registered volume is bumped as well.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !addressPattern.MatchString(req.Address) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	var hour, minute int
	if n, err := fmt.Sscanf(req.BuyTime, "%02d:%02d", &hour, &minute); n != 2 || err != nil {
		writeError(w, http.StatusBadRequest, "invalid buy_time format (expected HH:MM)")
		return
	}
	if hour > 23 || minute > 59 || hour < 0 || minute < 0 {
		writeError(w, http.StatusBadRequest, "invalid time value in buy_time")
		return
	}

	hour, minute = matcher.RoundToQuarterHour(hour, minute)
	buyTime := fmt.Sprintf("%02d:%02d", hour, minute)

	if err := s.users.Upsert(r.Context(), req.Address, buyTime); err != nil {
		s.logger.Error("failed to upsert registration", zap.Error(err))
		writeError(w, http.StatusBadRequest, "upsert failed")
		return
	}

	if req.SourceToken != "" && req.DestinationToken != "" && req.AmountPerDay != "" {
		amount, ok := new(big.Int).SetString(req.AmountPerDay, 10)
		if !ok || amount.Sign() <= 0 {
			writeError(w, http.StatusBadRequest, "invalid amount_per_day")
			return
		}

		err := s.stats.AddRegistered(r.Context(),
			common.HexToAddress(req.SourceToken),
			common.HexToAddress(req.DestinationToken),
			amount)
		if err != nil {
			// registration itself succeeded; the counter is telemetry
			s.logger.Error("failed to bump registered volume", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "buy_time": buyTime})
}

type pairStatsResponse struct {
	domain.PairStats
	Cached bool `json:"cached,omitempty"`
}

func (s *Server) handlePairStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	source := r.URL.Query().Get("source")
	destination := r.URL.Query().Get("destination")
	if source == "" || destination == "" {
		writeError(w, http.StatusBadRequest, "missing source or destination parameter")
		return
	}

	key := source + "-" + destination
	if stats, ok := s.statsCache.Get(key); ok {
		writeJSON(w, http.StatusOK, pairStatsResponse{PairStats: stats, Cached: true})
		return
	}

	stats, err := s.stats.Get(r.Context(), source, destination)
	if err != nil {
		s.logger.Error("failed to fetch pair stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch stats")
		return
	}

	s.statsCache.Set(key, stats)
	writeJSON(w, http.StatusOK, pairStatsResponse{PairStats: stats})
}

func (s *Server) handleAttemptStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid days parameter")
			return
		}
		days = parsed
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	stats, err := s.attempts.StatsSince(r.Context(), cutoff,
		r.URL.Query().Get("buyer"), r.URL.Query().Get("token"))
	if err != nil {
		s.logger.Error("failed to aggregate attempt stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch attempt stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHallOfFame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	pairs, err := s.stats.TopByExecuted(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to fetch hall of fame", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch hall of fame")
		return
	}

	if pairs == nil {
		pairs = []domain.PairStats{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"pairs": pairs})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	buyer := r.URL.Query().Get("buyer")
	if !addressPattern.MatchString(buyer) {
		writeError(w, http.StatusBadRequest, "invalid buyer parameter")
		return
	}

	cached, ok, err := s.purchases.Get(r.Context(), buyer)
	if err != nil {
		s.logger.Error("failed to read purchase cache", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read purchase history")
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, storage.CachedEvents{Events: json.RawMessage("[]")})
		return
	}

	writeJSON(w, http.StatusOK, cached)
}

type historySyncRequest struct {
	BuyerAddress     string          `json:"buyer_address"`
	Events           json.RawMessage `json:"events"`
	LastQueriedBlock int64           `json:"last_queried_block"`
}

func (s *Server) handleHistorySync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	var req historySyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !addressPattern.MatchString(req.BuyerAddress) || len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "missing buyer_address or events")
		return
	}

	err := s.purchases.Upsert(r.Context(), req.BuyerAddress, storage.CachedEvents{
		Events:           req.Events,
		LastQueriedBlock: req.LastQueriedBlock,
	})
	if err != nil {
		s.logger.Error("failed to sync purchase cache", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to sync purchase history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
