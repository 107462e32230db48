// Package registry tracks oracle nodes, their stakes, reputations and
// per-node rate limits.
package registry

import (
	"fmt"

	"tc.com/oracle-consensus/pkg/logging"
	"tc.com/oracle-consensus/pkg/metrics"
	"tc.com/oracle-consensus/pkg/oracle"
)

// Registry owns the node and rate-limit records, keyed by node ID. It is not
// safe for concurrent use; the engine serializes access.
type Registry struct {
	nodes      map[oracle.NodeID]*oracle.OracleNode
	rateLimits map[oracle.NodeID]*oracle.RateLimitInfo
	logger     *logging.Logger
}

// New creates an empty registry.
func New(logger *logging.Logger) *Registry {
	return &Registry{
		nodes:      make(map[oracle.NodeID]*oracle.OracleNode),
		rateLimits: make(map[oracle.NodeID]*oracle.RateLimitInfo),
		logger:     logger,
	}
}

// Register creates a node with perfect starting reputation and a fresh
// rate-limit window.
func (r *Registry) Register(reg oracle.NodeRegistration, now uint64) error {
	if _, ok := r.nodes[reg.NodeID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, reg.NodeID)
	}
	if reg.StakeAmount < oracle.MinStakeAmount {
		return fmt.Errorf("%w: got %d, need %d", ErrInsufficientStake, reg.StakeAmount, oracle.MinStakeAmount)
	}

	r.nodes[reg.NodeID] = oracle.NewOracleNode(reg.NodeID, reg.StakeAmount, now)
	r.rateLimits[reg.NodeID] = oracle.NewRateLimitInfo(reg.NodeID, now)

	metrics.RecordNodeReputation(string(reg.NodeID), 100)
	r.logger.Info("Oracle node registered", "node", reg.NodeID, "stake", reg.StakeAmount)
	return nil
}

// Deactivate marks a node inactive. Past submissions are not invalidated.
func (r *Registry) Deactivate(id oracle.NodeID) error {
	node, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	node.IsActive = false
	r.logger.Info("Oracle node deactivated", "node", id)
	return nil
}

// Slash reduces a node's stake, deactivating it if the remainder falls below
// the minimum stake.
func (r *Registry) Slash(id oracle.NodeID, amount uint64) error {
	node, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	node.SlashStake(amount)
	r.logger.Warn("Oracle node slashed",
		"node", id,
		"amount", amount,
		"remaining_stake", node.StakeAmount,
		"active", node.IsActive)
	return nil
}

// Node returns the node record for the given ID.
func (r *Registry) Node(id oracle.NodeID) (*oracle.OracleNode, bool) {
	node, ok := r.nodes[id]
	return node, ok
}

// RateLimit returns the rate-limit record for the given ID.
func (r *Registry) RateLimit(id oracle.NodeID) (*oracle.RateLimitInfo, bool) {
	rl, ok := r.rateLimits[id]
	return rl, ok
}

// RecordOutcome feeds one aggregation-round verdict back into a node's
// reputation. Unknown IDs are ignored; a node may have been registered after
// the contributing submission was buffered.
func (r *Registry) RecordOutcome(id oracle.NodeID, wasAccurate bool) {
	node, ok := r.nodes[id]
	if !ok {
		return
	}
	node.UpdateReputation(wasAccurate)
	metrics.RecordNodeReputation(string(id), node.ReputationScore)
}

// MarkSubmission updates the node's last-submission time so its reputation
// does not decay while it keeps contributing.
func (r *Registry) MarkSubmission(id oracle.NodeID, now uint64) {
	if node, ok := r.nodes[id]; ok {
		node.LastSubmissionTime = now
	}
}

// EligibleNodes lists the IDs of nodes currently allowed to contribute.
func (r *Registry) EligibleNodes(now uint64) []oracle.NodeID {
	var eligible []oracle.NodeID
	for id, node := range r.nodes {
		if node.IsEligible(now) {
			eligible = append(eligible, id)
		}
	}
	return eligible
}

// Len returns the number of registered nodes, active or not.
func (r *Registry) Len() int {
	return len(r.nodes)
}
