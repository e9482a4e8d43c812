package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// AuditEventType identifies what kind of governance activity an event records.
type AuditEventType string

const (
	AuditValidationRun   AuditEventType = "validation_run"
	AuditStateTransition AuditEventType = "state_transition"
	AuditGateCheck       AuditEventType = "gate_check"
	AuditConflictScan    AuditEventType = "conflict_scan"
	AuditPublishDecision AuditEventType = "publish_decision"
	AuditDecommission    AuditEventType = "decommission_decision"
	AuditJobCreated      AuditEventType = "job_created"
)

// AuditEvent is an immutable append-only record of a validation run, state
// transition, or gate check. Events are never updated or deleted.
type AuditEvent struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Actor       string         `json:"actor"`
	EventType   AuditEventType `json:"event_type"`
	ArtifactID  string         `json:"artifact_id,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Outcome     string         `json:"outcome"` // pass, fail, applied, blocked, ...
	ErrorCode   string         `json:"error_code,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	PayloadHash string         `json:"payload_hash"`
}

// HashPayload computes the integrity hash recorded on audit events: the
// sha256 of the key-sorted JSON encoding of the payload. Deterministic for
// identical payloads regardless of map iteration order.
func HashPayload(payload map[string]any) string {
	if len(payload) == 0 {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:])
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		b, err := json.Marshal(payload[k])
		if err != nil {
			// Unencodable values still contribute their key so the hash
			// remains stable and the event is never dropped.
			continue
		}
		h.Write(b)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
