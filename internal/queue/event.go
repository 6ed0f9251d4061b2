// Package queue defines message payloads exchanged over the message broker.
package queue

// AuditQueueName is the durable queue carrying portal audit events.
const AuditQueueName = "portal.audit"

// Audit event types.
const (
	EventPatientRegistered = "patient.registered"
	EventFileUploaded      = "file.uploaded"
	EventLinkIssued        = "link.issued"
)

// AuditEvent is published after a successful gateway operation. It carries
// enough context for an audit trail without querying either store. It never
// contains credentials or file contents.
type AuditEvent struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Actor      string `json:"actor"`
	ActorRole  string `json:"actor_role"`
	Username   string `json:"username,omitempty"`
	Key        string `json:"key,omitempty"`
	Size       int64  `json:"size,omitempty"`
	OccurredAt string `json:"occurred_at"`
}
