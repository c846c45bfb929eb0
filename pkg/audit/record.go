package audit

import (
	"time"

	"guardian-server/pkg/notify"
	"guardian-server/pkg/session"
)

// Alert types recorded in the audit trail
const (
	TypeConfirmationOpened = "emergency_confirmation"
	TypeEmergencyAlert     = "emergency_alert"
	TypeAutoEscalation     = "auto_escalation"
	TypeFalseAlarm         = "false_alarm"
)

// Delivery statuses recorded in the audit trail
const (
	StatusPendingConfirmation = "pending_confirmation"
	StatusNotified            = "notified"
	StatusFailed              = "failed"
	StatusCancelled           = "cancelled"
)

// Record is one write-only audit entry. The engine appends records and
// never reads them back; downstream consumers own retention and review.
type Record struct {
	AlertID         string            `json:"alert_id"`
	UserID          string            `json:"user_id"`
	AlertType       string            `json:"alert_type"`
	Severity        string            `json:"severity"`
	Message         string            `json:"message"`
	Categories      []string          `json:"categories,omitempty"`
	Location        *session.Location `json:"location,omitempty"`
	Status          string            `json:"status"`
	ChannelOutcomes []notify.Outcome  `json:"channel_outcomes,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// Log is the audit sink. Append is fire-and-forget: implementations log
// their own failures and never surface them to the chat-facing caller.
type Log interface {
	Append(record Record)
	Close()
}
