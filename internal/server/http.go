package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"PerpEngine/internal/engine"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/persistence"
	"PerpEngine/internal/state"
)

// HTTPServer serves the JSON query API plus health and metrics
// endpoints. Live state comes from the engine; history comes from the
// persisted event log when a reader is configured.
type HTTPServer struct {
	engine  *engine.Engine
	reader  *persistence.Reader // nil when Postgres is not configured
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
	addr    string
	srv     *http.Server
}

func NewHTTPServer(
	addr string,
	eng *engine.Engine,
	reader *persistence.Reader,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *HTTPServer {
	return &HTTPServer{
		engine:  eng,
		reader:  reader,
		health:  health,
		metrics: metrics,
		log:     log,
		addr:    addr,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
// Blocking.
func (s *HTTPServer) Start(ctx context.Context) error {
	mux := runtime.NewServeMux()
	if err := s.routes(mux); err != nil {
		return err
	}

	root := http.NewServeMux()
	root.HandleFunc("/healthz", s.health.LivenessHandler)
	root.HandleFunc("/readyz", s.health.ReadinessHandler)
	root.Handle("/metrics", promhttp.Handler())
	root.Handle("/", mux)

	s.srv = &http.Server{Addr: s.addr, Handler: root}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) routes(mux *runtime.ServeMux) error {
	handlers := []struct {
		path     string
		endpoint string
		h        runtime.HandlerFunc
	}{
		{"/v1/positions/{id}", "get_position", s.getPosition},
		{"/v1/positions/{id}/risk", "position_risk", s.getPositionRisk},
		{"/v1/users/{owner}/positions", "user_positions", s.getUserPositions},
		{"/v1/assets/{asset}/open-interest", "open_interest", s.getOpenInterest},
		{"/v1/assets/{asset}/funding", "funding", s.getFunding},
		{"/v1/assets/{asset}/funding/history", "funding_history", s.getFundingHistory},
		{"/v1/assets/{asset}/liquidations", "liquidations", s.getLiquidations},
		{"/v1/events", "events", s.getEvents},
		{"/v1/stats", "stats", s.getStats},
		{"/v1/breaker", "breaker", s.getBreaker},
	}
	for _, route := range handlers {
		if err := mux.HandlePath("GET", route.path, s.instrument(route.endpoint, route.h)); err != nil {
			return err
		}
	}
	return nil
}

func (s *HTTPServer) instrument(endpoint string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r, pathParams)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// positionJSON is the wire shape of a position.
type positionJSON struct {
	ID               int64  `json:"id"`
	Owner            string `json:"owner"`
	Asset            string `json:"asset"`
	Collateral       int64  `json:"collateral"`
	Leverage         int64  `json:"leverage"`
	Size             int64  `json:"size"`
	Side             string `json:"side"`
	EntryPrice       int64  `json:"entry_price"`
	StopLoss         int64  `json:"stop_loss,omitempty"`
	TakeProfit       int64  `json:"take_profit,omitempty"`
	FundingAccrued   int64  `json:"funding_accrued"`
	LastFundingEpoch int64  `json:"last_funding_epoch"`
	Active           bool   `json:"active"`
	OpenedAt         int64  `json:"opened_at"`
	ClosedAt         int64  `json:"closed_at,omitempty"`
}

func toPositionJSON(p state.Position) positionJSON {
	return positionJSON{
		ID:               p.ID,
		Owner:            p.Owner.String(),
		Asset:            p.Asset,
		Collateral:       p.Collateral,
		Leverage:         p.Leverage,
		Size:             p.Size,
		Side:             p.Side.String(),
		EntryPrice:       p.EntryPrice,
		StopLoss:         p.StopLoss,
		TakeProfit:       p.TakeProfit,
		FundingAccrued:   p.FundingAccrued,
		LastFundingEpoch: p.LastFundingEpoch,
		Active:           p.Active,
		OpenedAt:         p.OpenedAt,
		ClosedAt:         p.ClosedAt,
	}
}

func (s *HTTPServer) getPosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	id, err := strconv.ParseInt(pathParams["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}
	p, err := s.engine.GetPosition(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionJSON(p))
}

func (s *HTTPServer) getPositionRisk(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	id, err := strconv.ParseInt(pathParams["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}
	a, err := s.engine.CheckPositionRisk(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mark_price":           a.MarkPrice,
		"unrealized_pnl":       a.UnrealizedPnL,
		"equity":               a.Equity,
		"notional_at_mark":     a.NotionalAtMark,
		"collateral_ratio_bps": a.CollateralRatioBps,
		"below_maintenance":    a.BelowMaintenance,
		"liquidatable":         a.Liquidatable,
		"stop_loss_hit":        a.StopLossHit,
		"take_profit_hit":      a.TakeProfitHit,
	})
}

func (s *HTTPServer) getUserPositions(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	owner, err := uuid.Parse(pathParams["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner id")
		return
	}
	positions := s.engine.UserPositions(owner)
	out := make([]positionJSON, len(positions))
	for i, p := range positions {
		out[i] = toPositionJSON(p)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": out})
}

func (s *HTTPServer) getOpenInterest(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	oi := s.engine.OpenInterestFor(pathParams["asset"])
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset": pathParams["asset"],
		"long":  oi.Long,
		"short": oi.Short,
	})
}

func (s *HTTPServer) getFunding(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	asset := pathParams["asset"]
	st := s.engine.FundingState(asset)

	const analyticsWindow = 16
	vol, _ := s.engine.FundingVolatility(asset, analyticsWindow)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":              asset,
		"rate_bps":           st.RateBps,
		"epoch":              st.Epoch,
		"premium_bps":        st.PremiumBps,
		"skew_bps":           st.SkewBps,
		"mark_price":         st.MarkPrice,
		"index_price":        st.IndexPrice,
		"last_update_height": st.LastUpdateHeight,
		"twap_bps":           s.engine.TimeWeightedFundingRate(asset, analyticsWindow),
		"volatility_bps":     vol,
		"predicted_bps":      s.engine.PredictedFundingRate(asset, analyticsWindow),
	})
}

func (s *HTTPServer) getFundingHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if s.reader == nil {
		writeError(w, http.StatusNotImplemented, "event log not configured")
		return
	}
	rows, err := s.reader.FundingRates(r.Context(), pathParams["asset"], queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rates": rows})
}

func (s *HTTPServer) getLiquidations(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if s.reader == nil {
		writeError(w, http.StatusNotImplemented, "event log not configured")
		return
	}
	rows, err := s.reader.Liquidations(r.Context(), pathParams["asset"], queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"liquidations": rows})
}

func (s *HTTPServer) getEvents(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if s.reader == nil {
		writeError(w, http.StatusNotImplemented, "event log not configured")
		return
	}
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	rows, err := s.reader.EventsSince(r.Context(), after, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	type eventJSON struct {
		Sequence  int64           `json:"sequence"`
		EventType string          `json:"event_type"`
		Asset     string          `json:"asset,omitempty"`
		Height    int64           `json:"height"`
		Payload   json.RawMessage `json:"payload"`
	}
	out := make([]eventJSON, len(rows))
	for i, row := range rows {
		out[i] = eventJSON{
			Sequence:  row.Sequence,
			EventType: row.EventType,
			Asset:     row.Asset,
			Height:    row.Height,
			Payload:   row.Payload,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

func (s *HTTPServer) getStats(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	st := s.engine.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions_opened":   st.PositionsOpened,
		"positions_closed":   st.PositionsClosed,
		"liquidations":       st.Liquidations,
		"total_volume":       st.TotalVolume,
		"total_fees":         st.TotalFees,
		"total_value_locked": st.TotalValueLocked,
		"height":             s.engine.Height(),
	})
}

func (s *HTTPServer) getBreaker(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	status := s.engine.BreakerStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":            status.State.String(),
		"failure_count":    status.FailureCount,
		"success_count":    status.SuccessCount,
		"failure_rate_bps": status.FailureRateBps,
		"window_start":     status.WindowStart,
		"opened_at":        status.OpenedAt,
		"paused":           s.engine.Paused(),
	})
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrPositionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, state.ErrOracleUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, state.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
