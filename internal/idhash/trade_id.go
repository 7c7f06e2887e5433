package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(agent_id|idempotency_key)
// Returns hex-encoded hash (64 characters). A retried settlement with the same
// idempotency key always maps onto the same trade_id.
func ComputeTradeID(agentID, idempotencyKey string) string {
	data := fmt.Sprintf("%s|%s", agentID, idempotencyKey)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeEventID computes the id of the graduation event of an agent.
// Formula: SHA256(graduation|agent_id|policy_id)
// There is at most one graduation per agent, so redelivered events share an id.
func ComputeEventID(agentID, policyID string) string {
	data := fmt.Sprintf("graduation|%s|%s", agentID, policyID)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
