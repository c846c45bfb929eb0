package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"guardian-server/pkg/detection"
	"guardian-server/pkg/session"
)

// Alert is the payload handed to every notification channel when a
// caregiver must be reached
type Alert struct {
	AlertID       string
	UserID        string
	UserName      string
	CaregiverName string
	Severity      detection.Severity
	Message       string
	Categories    []string
	Location      *session.Location
	AutoEscalated bool
	Timestamp     time.Time
}

// Outcome is the per-channel delivery result. Channel errors are data, not
// control flow: a channel never lets a failure escape past its boundary.
type Outcome struct {
	Channel   string `json:"channel"`
	Delivered bool   `json:"delivered"`
	Reference string `json:"reference,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Channel is a transport used to reach a caregiver. Implementations must
// return failures inside the Outcome rather than panicking or blocking
// indefinitely, so one channel's trouble cannot abort its sibling.
type Channel interface {
	Send(ctx context.Context, alert Alert) Outcome
	Name() string
	Enabled() bool
}

// AnyDelivered reports whether at least one channel got through
func AnyDelivered(outcomes []Outcome) bool {
	for _, outcome := range outcomes {
		if outcome.Delivered {
			return true
		}
	}
	return false
}

// displayName falls back to the user ID when no name is known
func displayName(alert Alert) string {
	if alert.UserName != "" {
		return alert.UserName
	}
	return alert.UserID
}

// summaryLine builds the shared one-line description used by both channels
func summaryLine(alert Alert) string {
	kind := "reported an emergency"
	if alert.AutoEscalated {
		kind = "did not respond to an emergency check-in"
	}
	line := fmt.Sprintf("%s %s (%s severity)", displayName(alert), kind, alert.Severity)
	if len(alert.Categories) > 0 {
		line += ": " + strings.Join(alert.Categories, ", ")
	}
	return line
}
