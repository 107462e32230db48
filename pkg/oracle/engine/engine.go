// Package engine wires the registry, validator, aggregator and history store
// into the serialized price-consensus engine.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"tc.com/oracle-consensus/pkg/logging"
	"tc.com/oracle-consensus/pkg/metrics"
	"tc.com/oracle-consensus/pkg/oracle"
	"tc.com/oracle-consensus/pkg/oracle/aggregator"
	"tc.com/oracle-consensus/pkg/oracle/history"
	"tc.com/oracle-consensus/pkg/oracle/registry"
	"tc.com/oracle-consensus/pkg/oracle/validation"
)

// Clock is the engine's view of ledger time: monotonically non-decreasing unix
// seconds. Injected so tests control the timeline.
type Clock interface {
	Now() uint64
}

// Config carries the engine's administrative settings.
type Config struct {
	// Admin is the identity allowed to run administrative operations.
	Admin string
	// MinOracleNodes is how many fresh submissions must exist before an
	// aggregation round runs.
	MinOracleNodes int
	// EmergencyStop is the initial state of the global gate.
	EmergencyStop bool
}

// Publisher receives every successfully aggregated price. Used for the
// WebSocket stream and the Redis snapshot cache.
type Publisher interface {
	PublishAggregated(p oracle.AggregatedPrice)
}

// Engine is the price-consensus engine. A single mutex serializes every
// operation so each call reads and writes a mutually consistent snapshot of
// submissions, registry and history, matching the ledger-style execution model
// the algorithms assume.
type Engine struct {
	mu sync.Mutex

	cfg    Config
	clock  Clock
	logger *logging.Logger

	registry   *registry.Registry
	validator  *validation.Validator
	aggregator *aggregator.Aggregator
	history    *history.Store

	submissions     map[string][]oracle.PriceSubmission
	aggregated      map[string]oracle.AggregatedPrice
	supportedAssets []string
	emergencyStop   bool

	publishers []Publisher
}

// New creates an engine.
func New(cfg Config, clock Clock, logger *logging.Logger) *Engine {
	if cfg.MinOracleNodes <= 0 {
		cfg.MinOracleNodes = 3
	}
	return &Engine{
		cfg:           cfg,
		clock:         clock,
		logger:        logger,
		registry:      registry.New(logger),
		validator:     validation.New(logger),
		aggregator:    aggregator.New(logger),
		history:       history.New(),
		submissions:   make(map[string][]oracle.PriceSubmission),
		aggregated:    make(map[string]oracle.AggregatedPrice),
		emergencyStop: cfg.EmergencyStop,
	}
}

// AddPublisher registers a sink for aggregation results. Call before serving
// traffic; publishers are invoked while the engine lock is held.
func (e *Engine) AddPublisher(p Publisher) {
	e.publishers = append(e.publishers, p)
}

// RegisterNode registers a new oracle node.
func (e *Engine) RegisterNode(reg oracle.NodeRegistration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkEmergencyStop(); err != nil {
		return err
	}
	return e.registry.Register(reg, e.clock.Now())
}

// SubmitPrice runs the full submission path: validation, rate-limit
// accounting, historical confidence scoring, buffering, anomaly detection and,
// when enough fresh data exists, an aggregation round. The returned aggregate
// is non-nil only when a round ran and produced a reliable price; a failed
// round never fails the submission.
func (e *Engine) SubmitPrice(caller oracle.NodeID, req oracle.PriceUpdateRequest) (*oracle.AggregatedPrice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkEmergencyStop(); err != nil {
		return nil, err
	}
	now := e.clock.Now()

	if err := e.validator.ValidateSubmission(&req, caller, e.registry, now); err != nil {
		metrics.RecordSubmission(req.Asset, "rejected")
		metrics.RecordRejection(rejectionReason(err))
		return nil, err
	}

	// Every earlier check passed; only now may the rate-limit counter move.
	rl, ok := e.registry.RateLimit(caller)
	if !ok || !rl.TryRecord(now) {
		metrics.RecordSubmission(req.Asset, "rejected")
		metrics.RecordRejection("rate_limit_exceeded")
		return nil, fmt.Errorf("%w: %s", validation.ErrRateLimitExceeded, caller)
	}
	e.registry.MarkSubmission(caller, now)

	buffer := e.submissions[req.Asset]
	submission := oracle.PriceSubmission{
		Asset:      req.Asset,
		Price:      req.Price,
		Timestamp:  now,
		Submitter:  caller,
		Confidence: validation.HistoricalConfidence(buffer, req.Price, now),
	}

	buffer = append(buffer, submission)
	buffer = pruneOldSubmissions(buffer, now)
	e.submissions[req.Asset] = buffer

	metrics.RecordSubmission(req.Asset, "accepted")
	e.logger.Debug("Price submission accepted",
		"asset", req.Asset,
		"node", caller,
		"price", req.Price,
		"confidence", submission.Confidence)

	if anomalies := validation.DetectAnomalies(buffer, caller, now); len(anomalies) > 0 {
		for _, a := range anomalies {
			metrics.RecordAnomaly(string(a))
		}
		e.logger.Warn("Anomalous submission pattern detected",
			"asset", req.Asset,
			"node", caller,
			"anomalies", anomalies)
	}

	return e.tryAggregate(req.Asset, now), nil
}

// tryAggregate runs an aggregation round when enough fresh submissions exist.
// Failures are reported through logs and metrics only; the previously
// aggregated price stays queryable.
func (e *Engine) tryAggregate(asset string, now uint64) *oracle.AggregatedPrice {
	recent := freshSubmissions(e.submissions[asset], now)
	if len(recent) < e.cfg.MinOracleNodes {
		return nil
	}

	result, err := e.aggregator.Aggregate(asset, recent, e.registry, now)
	if err != nil {
		metrics.RecordAggregationOutcome(asset, "failed")
		e.logger.Warn("Aggregation round failed", "asset", asset, "error", err)
		return nil
	}

	e.aggregated[asset] = *result
	e.history.Append(*result)

	// Reputation feedback is a separate phase: the round is fully computed
	// before any registry record moves.
	for _, v := range aggregator.Verdicts(recent, result.Price) {
		e.registry.RecordOutcome(v.Node, v.WasAccurate)
	}

	metrics.RecordAggregationOutcome(asset, "success")
	e.logger.Info("Price aggregated",
		"asset", asset,
		"price", result.Price,
		"sources", result.NumSources,
		"confidence", result.Confidence)

	for _, p := range e.publishers {
		p.PublishAggregated(*result)
	}
	return result
}

// GetPrice returns the current aggregated price for an asset, failing when no
// aggregate exists, the stored aggregate is unreliable, or it has gone stale.
func (e *Engine) GetPrice(asset string) (oracle.AggregatedPrice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkEmergencyStop(); err != nil {
		return oracle.AggregatedPrice{}, err
	}

	price, ok := e.aggregated[asset]
	if !ok {
		return oracle.AggregatedPrice{}, fmt.Errorf("%w: %s", ErrPriceNotAvailable, asset)
	}
	if !price.IsReliable() {
		return oracle.AggregatedPrice{}, fmt.Errorf("%w: %s", aggregator.ErrUnreliablePrice, asset)
	}
	if price.IsStale(e.clock.Now(), oracle.PriceStalenessThreshold) {
		return oracle.AggregatedPrice{}, fmt.Errorf("%w: %s", ErrStalePrice, asset)
	}
	return price, nil
}

// GetFallbackPrice returns the most recent reliable history entry within the
// looser 30-minute staleness bound.
func (e *Engine) GetFallbackPrice(asset string) (oracle.AggregatedPrice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkEmergencyStop(); err != nil {
		return oracle.AggregatedPrice{}, err
	}

	entry, err := aggregator.FallbackPrice(e.history.All(asset), e.clock.Now())
	if err != nil {
		return oracle.AggregatedPrice{}, fmt.Errorf("%w: %s", err, asset)
	}
	metrics.RecordFallbackRead(asset)
	return *entry, nil
}

// GetNodeInfo returns a copy of a node's record.
func (e *Engine) GetNodeInfo(id oracle.NodeID) (oracle.OracleNode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkEmergencyStop(); err != nil {
		return oracle.OracleNode{}, err
	}

	node, ok := e.registry.Node(id)
	if !ok {
		return oracle.OracleNode{}, fmt.Errorf("%w: %s", registry.ErrNodeNotFound, id)
	}
	return *node, nil
}

// GetPriceHistory returns up to limit retained aggregates, oldest first.
func (e *Engine) GetPriceHistory(asset string, limit int) ([]oracle.AggregatedPrice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkEmergencyStop(); err != nil {
		return nil, err
	}
	return e.history.Recent(asset, limit), nil
}

// DeactivateNode marks a node inactive. Admin only.
func (e *Engine) DeactivateNode(caller string, id oracle.NodeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkEmergencyStop(); err != nil {
		return err
	}
	if err := e.checkAdmin(caller); err != nil {
		return err
	}
	return e.registry.Deactivate(id)
}

// SlashNode reduces a node's stake. Admin only.
func (e *Engine) SlashNode(caller string, id oracle.NodeID, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkEmergencyStop(); err != nil {
		return err
	}
	if err := e.checkAdmin(caller); err != nil {
		return err
	}
	return e.registry.Slash(id, amount)
}

// SetEmergencyStop toggles the global gate. Admin only; this is the one
// operation the gate itself never blocks.
func (e *Engine) SetEmergencyStop(caller string, stop bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkAdmin(caller); err != nil {
		return err
	}
	e.emergencyStop = stop
	e.logger.Warn("Emergency stop changed", "active", stop)
	return nil
}

// AddSupportedAsset appends to the advisory asset list. Admin only. The list
// is informational; validation does not consult it.
func (e *Engine) AddSupportedAsset(caller, asset string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkEmergencyStop(); err != nil {
		return err
	}
	if err := e.checkAdmin(caller); err != nil {
		return err
	}
	for _, a := range e.supportedAssets {
		if a == asset {
			return nil
		}
	}
	e.supportedAssets = append(e.supportedAssets, asset)
	e.logger.Info("Asset added to supported list", "asset", asset)
	return nil
}

// SupportedAssets lists the advisory asset list.
func (e *Engine) SupportedAssets() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkEmergencyStop(); err != nil {
		return nil, err
	}
	out := make([]string, len(e.supportedAssets))
	copy(out, e.supportedAssets)
	return out, nil
}

func (e *Engine) checkEmergencyStop() error {
	if e.emergencyStop {
		return ErrEmergencyStopActive
	}
	return nil
}

func (e *Engine) checkAdmin(caller string) error {
	if caller != e.cfg.Admin {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}

// rejectionReason maps a validation error to a low-cardinality metric label.
func rejectionReason(err error) string {
	for sentinel, reason := range rejectionReasons {
		if errors.Is(err, sentinel) {
			return reason
		}
	}
	return "other"
}

var rejectionReasons = map[error]string{
	validation.ErrUnregisteredNode:       "unregistered_node",
	validation.ErrNodeNotEligible:        "node_not_eligible",
	validation.ErrRateLimitExceeded:      "rate_limit_exceeded",
	validation.ErrInvalidPriceZero:       "invalid_price_zero",
	validation.ErrPriceTooHigh:           "price_too_high",
	validation.ErrPriceTooLow:            "price_too_low",
	validation.ErrInvalidAssetSymbol:     "invalid_asset_symbol",
	validation.ErrTimestampTooOld:        "timestamp_too_old",
	validation.ErrTimestampInFuture:      "timestamp_in_future",
	validation.ErrMissingSignature:       "missing_signature",
	validation.ErrInvalidSignatureFormat: "invalid_signature_format",
}

// freshSubmissions keeps submissions within the live staleness threshold.
func freshSubmissions(submissions []oracle.PriceSubmission, now uint64) []oracle.PriceSubmission {
	var recent []oracle.PriceSubmission
	for _, s := range submissions {
		if oracle.Elapsed(now, s.Timestamp) <= oracle.PriceStalenessThreshold {
			recent = append(recent, s)
		}
	}
	return recent
}

// pruneOldSubmissions drops buffered submissions past the 24h retention used
// by historical-confidence scoring.
func pruneOldSubmissions(submissions []oracle.PriceSubmission, now uint64) []oracle.PriceSubmission {
	kept := submissions[:0]
	for _, s := range submissions {
		if oracle.Elapsed(now, s.Timestamp) <= oracle.SubmissionRetention {
			kept = append(kept, s)
		}
	}
	return kept
}
