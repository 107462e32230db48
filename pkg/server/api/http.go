// Package api provides the HTTP and WebSocket surface over the consensus engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"tc.com/oracle-consensus/pkg/logging"
	"tc.com/oracle-consensus/pkg/metrics"
	"tc.com/oracle-consensus/pkg/oracle"
	"tc.com/oracle-consensus/pkg/oracle/aggregator"
	"tc.com/oracle-consensus/pkg/oracle/engine"
	"tc.com/oracle-consensus/pkg/oracle/registry"
	"tc.com/oracle-consensus/pkg/oracle/validation"
)

// callerHeader carries the authenticated caller identity. Authentication
// itself happens upstream; the engine only compares IDs.
const callerHeader = "X-Caller-ID"

// Server is the HTTP API server.
type Server struct {
	addr   string
	engine *engine.Engine
	logger *logging.Logger
	server *http.Server
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, eng *engine.Engine, logger *logging.Logger) *Server {
	return &Server{addr: addr, engine: eng, logger: logger}
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/nodes", s.handleRegisterNode)
	mux.HandleFunc("GET /v1/nodes/{id}", s.handleNodeInfo)
	mux.HandleFunc("POST /v1/prices", s.handleSubmitPrice)
	mux.HandleFunc("GET /v1/prices/{asset}", s.handleGetPrice)
	mux.HandleFunc("GET /v1/prices/{asset}/fallback", s.handleFallbackPrice)
	mux.HandleFunc("GET /v1/prices/{asset}/history", s.handlePriceHistory)
	mux.HandleFunc("GET /v1/assets", s.handleListAssets)
	mux.HandleFunc("POST /v1/assets", s.handleAddAsset)
	mux.HandleFunc("POST /v1/admin/deactivate", s.handleDeactivate)
	mux.HandleFunc("POST /v1/admin/slash", s.handleSlash)
	mux.HandleFunc("POST /v1/admin/emergency", s.handleEmergencyStop)
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

// aggregatedPriceResponse renders an aggregate with the price both in base
// units and as a decimal display string.
type aggregatedPriceResponse struct {
	Asset        string `json:"asset"`
	Price        uint64 `json:"price"`
	PriceDisplay string `json:"price_display"`
	Timestamp    uint64 `json:"timestamp"`
	NumSources   uint32 `json:"num_sources"`
	Confidence   uint32 `json:"confidence"`
	Deviation    uint32 `json:"deviation"`
}

func toPriceResponse(p oracle.AggregatedPrice) aggregatedPriceResponse {
	return aggregatedPriceResponse{
		Asset:        p.Asset,
		Price:        p.Price,
		PriceDisplay: displayPrice(p.Price),
		Timestamp:    p.Timestamp,
		NumSources:   p.NumSources,
		Confidence:   p.Confidence,
		Deviation:    p.Deviation,
	}
}

// displayPrice converts base units to a decimal display string.
func displayPrice(base uint64) string {
	return decimal.New(int64(base), -7).String()
}

// parsePrice accepts either integer base units or a decimal display string.
func parsePrice(raw json.RawMessage) (uint64, error) {
	var asUint uint64
	if err := json.Unmarshal(raw, &asUint); err == nil {
		return asUint, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return 0, fmt.Errorf("price must be a number or decimal string")
	}
	d, err := decimal.NewFromString(asString)
	if err != nil {
		return 0, fmt.Errorf("invalid price: %w", err)
	}
	base := d.Shift(7)
	if base.IsNegative() || !base.IsInteger() {
		return 0, fmt.Errorf("price out of range or below base-unit precision")
	}
	return uint64(base.IntPart()), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPRequest("/health", "200", time.Since(start))
	}()
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type registerNodeRequest struct {
	NodeID   string          `json:"node_id"`
	Stake    json.RawMessage `json:"stake"`
	Metadata string          `json:"metadata,omitempty"`
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusCreated
	defer func() {
		metrics.RecordHTTPRequest("/v1/nodes", strconv.Itoa(status), time.Since(start))
	}()

	var req registerNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		s.sendError(w, status, err)
		return
	}
	stake, err := parsePrice(req.Stake)
	if err != nil {
		status = http.StatusBadRequest
		s.sendError(w, status, err)
		return
	}

	err = s.engine.RegisterNode(oracle.NodeRegistration{
		NodeID:      oracle.NodeID(req.NodeID),
		StakeAmount: stake,
		Metadata:    req.Metadata,
	})
	if err != nil {
		status = statusFor(err)
		s.sendError(w, status, err)
		return
	}
	s.sendJSON(w, status, map[string]string{"node_id": req.NodeID, "status": "registered"})
}

func (s *Server) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.RecordHTTPRequest("/v1/nodes/{id}", strconv.Itoa(status), time.Since(start))
	}()

	node, err := s.engine.GetNodeInfo(oracle.NodeID(r.PathValue("id")))
	if err != nil {
		status = statusFor(err)
		s.sendError(w, status, err)
		return
	}
	s.sendJSON(w, status, node)
}

type submitPriceRequest struct {
	Asset     string          `json:"asset"`
	Price     json.RawMessage `json:"price"`
	Timestamp uint64          `json:"timestamp"`
	Signature string          `json:"signature"`
}

type submitPriceResponse struct {
	Status     string                   `json:"status"`
	Aggregated *aggregatedPriceResponse `json:"aggregated,omitempty"`
}

func (s *Server) handleSubmitPrice(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusAccepted
	defer func() {
		metrics.RecordHTTPRequest("/v1/prices", strconv.Itoa(status), time.Since(start))
	}()

	caller := r.Header.Get(callerHeader)
	if caller == "" {
		status = http.StatusUnauthorized
		s.sendError(w, status, fmt.Errorf("missing %s header", callerHeader))
		return
	}

	var req submitPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		s.sendError(w, status, err)
		return
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		status = http.StatusBadRequest
		s.sendError(w, status, err)
		return
	}

	aggregated, err := s.engine.SubmitPrice(oracle.NodeID(caller), oracle.PriceUpdateRequest{
		Asset:     req.Asset,
		Price:     price,
		Timestamp: req.Timestamp,
		Signature: req.Signature,
	})
	if err != nil {
		status = statusFor(err)
		s.sendError(w, status, err)
		return
	}

	resp := submitPriceResponse{Status: "accepted"}
	if aggregated != nil {
		pr := toPriceResponse(*aggregated)
		resp.Aggregated = &pr
	}
	s.sendJSON(w, status, resp)
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.RecordHTTPRequest("/v1/prices/{asset}", strconv.Itoa(status), time.Since(start))
	}()

	price, err := s.engine.GetPrice(r.PathValue("asset"))
	if err != nil {
		status = statusFor(err)
		s.sendError(w, status, err)
		return
	}
	s.sendJSON(w, status, toPriceResponse(price))
}

func (s *Server) handleFallbackPrice(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.RecordHTTPRequest("/v1/prices/{asset}/fallback", strconv.Itoa(status), time.Since(start))
	}()

	price, err := s.engine.GetFallbackPrice(r.PathValue("asset"))
	if err != nil {
		status = statusFor(err)
		s.sendError(w, status, err)
		return
	}
	s.sendJSON(w, status, toPriceResponse(price))
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.RecordHTTPRequest("/v1/prices/{asset}/history", strconv.Itoa(status), time.Since(start))
	}()

	limit := oracle.MaxHistoryEntries
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			status = http.StatusBadRequest
			s.sendError(w, status, fmt.Errorf("invalid limit: %q", raw))
			return
		}
		limit = parsed
	}

	history, err := s.engine.GetPriceHistory(r.PathValue("asset"), limit)
	if err != nil {
		status = statusFor(err)
		s.sendError(w, status, err)
		return
	}

	out := make([]aggregatedPriceResponse, 0, len(history))
	for _, p := range history {
		out = append(out, toPriceResponse(p))
	}
	s.sendJSON(w, status, out)
}

func (s *Server) handleListAssets(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.RecordHTTPRequest("/v1/assets", strconv.Itoa(status), time.Since(start))
	}()

	assets, err := s.engine.SupportedAssets()
	if err != nil {
		status = statusFor(err)
		s.sendError(w, status, err)
		return
	}
	s.sendJSON(w, status, map[string][]string{"assets": assets})
}

func (s *Server) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusCreated
	defer func() {
		metrics.RecordHTTPRequest("/v1/assets", strconv.Itoa(status), time.Since(start))
	}()

	var req struct {
		Asset string `json:"asset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		s.sendError(w, status, err)
		return
	}

	if err := s.engine.AddSupportedAsset(r.Header.Get(callerHeader), req.Asset); err != nil {
		status = statusFor(err)
		s.sendError(w, status, err)
		return
	}
	s.sendJSON(w, status, map[string]string{"asset": req.Asset, "status": "added"})
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.RecordHTTPRequest("/v1/admin/deactivate", strconv.Itoa(status), time.Since(start))
	}()

	var req struct {
		NodeID string `json:"node_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		s.sendError(w, status, err)
		return
	}

	if err := s.engine.DeactivateNode(r.Header.Get(callerHeader), oracle.NodeID(req.NodeID)); err != nil {
		status = statusFor(err)
		s.sendError(w, status, err)
		return
	}
	s.sendJSON(w, status, map[string]string{"node_id": req.NodeID, "status": "deactivated"})
}

func (s *Server) handleSlash(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.RecordHTTPRequest("/v1/admin/slash", strconv.Itoa(status), time.Since(start))
	}()

	var req struct {
		NodeID string          `json:"node_id"`
		Amount json.RawMessage `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		s.sendError(w, status, err)
		return
	}
	amount, err := parsePrice(req.Amount)
	if err != nil {
		status = http.StatusBadRequest
		s.sendError(w, status, err)
		return
	}

	if err := s.engine.SlashNode(r.Header.Get(callerHeader), oracle.NodeID(req.NodeID), amount); err != nil {
		status = statusFor(err)
		s.sendError(w, status, err)
		return
	}
	s.sendJSON(w, status, map[string]string{"node_id": req.NodeID, "status": "slashed"})
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.RecordHTTPRequest("/v1/admin/emergency", strconv.Itoa(status), time.Since(start))
	}()

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		s.sendError(w, status, err)
		return
	}

	if err := s.engine.SetEmergencyStop(r.Header.Get(callerHeader), req.Active); err != nil {
		status = statusFor(err)
		s.sendError(w, status, err)
		return
	}
	s.sendJSON(w, status, map[string]bool{"emergency_stop": req.Active})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrEmergencyStopActive):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, validation.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, registry.ErrAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, registry.ErrNodeNotFound),
		errors.Is(err, engine.ErrPriceNotAvailable),
		errors.Is(err, aggregator.ErrNoFallbackAvailable):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrStalePrice),
		errors.Is(err, aggregator.ErrUnreliablePrice):
		return http.StatusGone
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, err error) {
	s.sendJSON(w, status, map[string]string{"error": err.Error()})
}
