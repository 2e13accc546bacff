// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names.
const (
	ProcessQueueName = "downgrade.process"
	EmailQueueName   = "email.send"
)

// ProcessDowngradeEvent is published by the scheduler when a pending
// downgrade is due.  RenewalOrderID is set when the trigger is a renewal
// payment and left zero when the original level expired.
type ProcessDowngradeEvent struct {
	DowngradeID    uint64 `json:"downgrade_id"`
	RenewalOrderID uint64 `json:"renewal_order_id,omitempty"`
}
