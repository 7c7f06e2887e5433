package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeScheduleID computes a deterministic schedule_id.
// Formula: base58(SHA256(agent_id|purpose|beneficiary))
// Follow-up workers rely on it: re-creating a schedule yields the same id and
// the insert fails with a duplicate key instead of double-allocating.
func ComputeScheduleID(agentID, purpose, beneficiary string) string {
	data := fmt.Sprintf("%s|%s|%s", agentID, purpose, beneficiary)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

// ComputeClaimID computes a deterministic claim_id.
// Formula: base58(SHA256(schedule_id|idempotency_key))
func ComputeClaimID(scheduleID, idempotencyKey string) string {
	data := fmt.Sprintf("%s|%s", scheduleID, idempotencyKey)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
