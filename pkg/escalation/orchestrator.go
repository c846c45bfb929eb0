package escalation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"guardian-server/pkg/audit"
	"guardian-server/pkg/detection"
	"guardian-server/pkg/metrics"
	"guardian-server/pkg/notify"
	"guardian-server/pkg/session"
)

// Action tells the chat layer what the engine decided for an inbound message
type Action string

const (
	ActionLog      Action = "log"
	ActionConfirm  Action = "confirm"
	ActionEscalate Action = "escalate"
	ActionCooldown Action = "cooldown"
)

// ReplyAction tells the chat layer how a confirmation reply was handled
type ReplyAction string

const (
	ReplyEscalated ReplyAction = "escalated"
	ReplyCancelled ReplyAction = "cancelled"
	ReplyPending   ReplyAction = "pending"
	ReplyNoSession ReplyAction = "no_session"
)

// DetectionResult is the decision object returned to the chat layer
type DetectionResult struct {
	Emergency           bool     `json:"emergency"`
	Severity            string   `json:"severity"`
	SeverityLevel       int      `json:"severity_level"`
	Score               int      `json:"score"`
	MatchedCategories   []string `json:"matched_categories"`
	Action              Action   `json:"action"`
	ConfirmationMessage string   `json:"confirmation_message,omitempty"`
	CooldownRemaining   int      `json:"cooldown_remaining_seconds,omitempty"`
}

// ReplyResult is returned from the confirmation-reply path
type ReplyResult struct {
	Action  ReplyAction `json:"action"`
	Message string      `json:"message,omitempty"`
}

// UserMeta carries optional caller-supplied user details for alert text
type UserMeta struct {
	Name          string
	CaregiverName string
}

// User-facing messages. The degraded variants exist so a total dispatch
// failure can never read like success to someone who may need an ambulance.
const (
	msgConfirmHigh = "I'm concerned about what you just told me. Do you need help right now? " +
		"Reply YES and I will alert your caregiver immediately, or NO if you're okay."
	msgConfirmRepeat = "Please reply YES if you need help, or NO if you're okay."
	msgCriticalSent  = "This sounds serious, so I've already alerted your caregiver. " +
		"Help is on the way. If this was a false alarm, reply NO."
	msgCriticalDegraded = "This sounds serious, but I couldn't reach your caregiver right now. " +
		"Please call for help directly: dial 911 or your local emergency number."
	msgEscalated = "I've alerted your caregiver. Help is on the way. " +
		"Stay where you are if you can, and keep talking to me."
	msgEscalatedDegraded = "I tried to alert your caregiver but couldn't get through. " +
		"Please call for help directly: dial 911 or your local emergency number."
	msgCancelled = "Okay, I'm glad you're alright. I won't alert anyone. " +
		"I'm here if you need anything."
	msgRetracted = "Thank you for letting me know. I've flagged the alert as a false alarm " +
		"so your caregiver knows you're safe."
)

// Orchestrator is the engine facade: it scores inbound messages, drives the
// per-user confirmation state machine, fans alerts out to the notification
// channels and appends the audit trail.
//
// Its entry points never return an error to the chat layer; every failure
// is folded into the returned decision object.
type Orchestrator struct {
	scorer          *detection.Scorer
	store           *session.Store
	channels        []notify.Channel
	auditLog        audit.Log
	logger          *logrus.Logger
	dispatchTimeout time.Duration
}

// NewOrchestrator wires the engine together
func NewOrchestrator(scorer *detection.Scorer, store *session.Store, channels []notify.Channel, auditLog audit.Log, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		scorer:          scorer,
		store:           store,
		channels:        channels,
		auditLog:        auditLog,
		logger:          logger,
		dispatchTimeout: 15 * time.Second,
	}
}

// DetectAndProcess scores one inbound message and acts on the result.
//
// Severity none/mild is logged only. An active cooldown suppresses any new
// session or alert regardless of severity. High severity opens a
// confirmation dialogue; critical severity alerts immediately and opens an
// already-confirmed session so the user can still retract a false alarm.
func (o *Orchestrator) DetectAndProcess(ctx context.Context, userID, message string, contextMessages []string, loc *session.Location, meta *UserMeta) DetectionResult {
	scored := o.scorer.Score(message, contextMessages)
	metrics.RecordDetection(scored.Severity.String(), scored.Score)

	result := DetectionResult{
		Severity:          scored.Severity.String(),
		SeverityLevel:     scored.Severity.Level(),
		Score:             scored.Score,
		MatchedCategories: scored.MatchedCategories,
	}

	logEntry := o.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"severity": scored.Severity,
		"score":    scored.Score,
	})

	if scored.Severity < detection.SeverityHigh {
		logEntry.WithField("summary", scored.Summary).Debug("Message below escalation threshold")
		result.Action = ActionLog
		return result
	}

	result.Emergency = true

	if o.store.IsOnCooldown(userID) {
		metrics.RecordCooldownSuppressed()
		result.Emergency = false
		result.Action = ActionCooldown
		result.CooldownRemaining = o.store.RemainingCooldownSeconds(userID)
		logEntry.WithField("cooldown_remaining_s", result.CooldownRemaining).
			Info("Detection suppressed by cooldown")
		return result
	}

	if state, ok := o.store.StateOf(userID); ok && state == session.StateAwaitingConfirm {
		// A confirmation is already pending; the caller should route the
		// user's next message to ProcessConfirmationReply instead.
		result.Action = ActionConfirm
		result.ConfirmationMessage = msgConfirmRepeat
		logEntry.Debug("Confirmation already pending for user")
		return result
	}

	switch scored.Severity {
	case detection.SeverityHigh:
		o.store.OpenAwaiting(userID, scored.Severity, message, scored.MatchedCategories, loc)
		metrics.SetActiveSessions(o.store.ActiveCount())

		o.auditLog.Append(audit.Record{
			AlertID:    uuid.NewString(),
			UserID:     userID,
			AlertType:  audit.TypeConfirmationOpened,
			Severity:   scored.Severity.String(),
			Message:    excerpt(message),
			Categories: scored.MatchedCategories,
			Location:   loc,
			Status:     audit.StatusPendingConfirmation,
			Timestamp:  time.Now(),
		})

		logEntry.Warning("High severity detected, confirmation requested")
		result.Action = ActionConfirm
		result.ConfirmationMessage = msgConfirmHigh
		return result

	default: // critical: direct escalation, safety must not wait on a reply
		alertID := uuid.NewString()
		outcomes := o.dispatch(notify.Alert{
			AlertID:    alertID,
			UserID:     userID,
			Severity:   scored.Severity,
			Message:    excerpt(message),
			Categories: scored.MatchedCategories,
			Location:   loc,
			Timestamp:  time.Now(),
		}, meta)

		o.store.OpenConfirmed(userID, scored.Severity, message, scored.MatchedCategories, loc)
		// Cooldown starts at the moment of the real-world alert
		o.store.MarkAlerted(userID)
		metrics.SetActiveSessions(o.store.ActiveCount())

		o.auditLog.Append(audit.Record{
			AlertID:         alertID,
			UserID:          userID,
			AlertType:       audit.TypeEmergencyAlert,
			Severity:        scored.Severity.String(),
			Message:         excerpt(message),
			Categories:      scored.MatchedCategories,
			Location:        loc,
			Status:          dispatchStatus(outcomes),
			ChannelOutcomes: outcomes,
			Timestamp:       time.Now(),
		})

		logEntry.WithField("delivered", notify.AnyDelivered(outcomes)).
			Error("Critical severity detected, caregiver alert dispatched")

		result.Action = ActionEscalate
		if notify.AnyDelivered(outcomes) {
			result.ConfirmationMessage = msgCriticalSent
		} else {
			result.ConfirmationMessage = msgCriticalDegraded
		}
		return result
	}
}

// ProcessConfirmationReply handles the user's answer to a confirmation
// prompt, or a retraction after a direct escalation.
func (o *Orchestrator) ProcessConfirmationReply(ctx context.Context, userID, reply string, meta *UserMeta) ReplyResult {
	snap, ok := o.store.Snapshot(userID)
	if !ok {
		return ReplyResult{Action: ReplyNoSession}
	}

	kind := session.ClassifyReply(reply)
	logEntry := o.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"reply":   kind,
		"state":   snap.State,
	})

	switch snap.State {
	case session.StateAwaitingConfirm:
		switch kind {
		case session.ReplyAffirmative:
			confirmed, err := o.store.Confirm(userID)
			if err != nil {
				// The deadline fired between snapshot and confirm; the
				// sweeper will escalate it.
				logEntry.WithError(err).Debug("Session left awaiting state before confirm")
				return ReplyResult{Action: ReplyNoSession}
			}
			metrics.RecordConfirmationOutcome("confirmed")
			logEntry.Warning("User confirmed emergency, dispatching alerts")
			return o.escalateSession(confirmed, audit.TypeEmergencyAlert, meta)

		case session.ReplyNegative:
			if _, _, err := o.store.Deny(userID); err != nil {
				return ReplyResult{Action: ReplyNoSession}
			}
			o.store.Clear(userID)
			metrics.RecordConfirmationOutcome("denied")
			metrics.SetActiveSessions(o.store.ActiveCount())
			logEntry.Info("User denied emergency, session cleared")
			return ReplyResult{Action: ReplyCancelled, Message: msgCancelled}

		default:
			metrics.RecordConfirmationOutcome("pending")
			return ReplyResult{Action: ReplyPending, Message: msgConfirmRepeat}
		}

	case session.StateConfirmed:
		// Direct-escalation retraction window. Alerts already went out and
		// are not recalled; a "no" only flags them as a false alarm.
		if kind != session.ReplyNegative {
			return ReplyResult{Action: ReplyNoSession}
		}

		if _, _, err := o.store.Deny(userID); err != nil {
			return ReplyResult{Action: ReplyNoSession}
		}
		o.store.Clear(userID)
		metrics.RecordConfirmationOutcome("retracted")
		metrics.SetActiveSessions(o.store.ActiveCount())

		o.auditLog.Append(audit.Record{
			AlertID:    uuid.NewString(),
			UserID:     userID,
			AlertType:  audit.TypeFalseAlarm,
			Severity:   snap.Severity.String(),
			Message:    excerpt(snap.OriginalMessage),
			Categories: snap.MatchedCategories,
			Location:   snap.Location,
			Status:     audit.StatusCancelled,
			Timestamp:  time.Now(),
		})

		logEntry.Info("User retracted direct escalation as false alarm")
		return ReplyResult{Action: ReplyCancelled, Message: msgRetracted}

	default:
		return ReplyResult{Action: ReplyNoSession}
	}
}

// ProcessAutoEscalations drains sessions whose confirmation deadline
// elapsed unanswered and escalates each exactly as an explicit "yes" would
// have. Best effort per user: one user's dispatch trouble never blocks the
// next.
func (o *Orchestrator) ProcessAutoEscalations(ctx context.Context) {
	drained := o.store.DrainAutoEscalated()
	if len(drained) == 0 {
		return
	}

	o.logger.WithField("count", len(drained)).Warning("Escalating unanswered confirmation sessions")

	for _, snap := range drained {
		metrics.RecordAutoEscalation()
		metrics.RecordConfirmationOutcome("auto_escalated")
		o.escalateDrained(snap)
	}
	metrics.SetActiveSessions(o.store.ActiveCount())
}

// escalateSession dispatches alerts for a confirmed session and clears it
func (o *Orchestrator) escalateSession(snap session.Session, alertType string, meta *UserMeta) ReplyResult {
	alertID := uuid.NewString()
	outcomes := o.dispatch(notify.Alert{
		AlertID:       alertID,
		UserID:        snap.UserID,
		Severity:      snap.Severity,
		Message:       excerpt(snap.OriginalMessage),
		Categories:    snap.MatchedCategories,
		Location:      snap.Location,
		AutoEscalated: alertType == audit.TypeAutoEscalation,
		Timestamp:     time.Now(),
	}, meta)

	o.store.MarkAlerted(snap.UserID)
	o.store.Clear(snap.UserID)
	metrics.SetActiveSessions(o.store.ActiveCount())

	o.auditLog.Append(audit.Record{
		AlertID:         alertID,
		UserID:          snap.UserID,
		AlertType:       alertType,
		Severity:        snap.Severity.String(),
		Message:         excerpt(snap.OriginalMessage),
		Categories:      snap.MatchedCategories,
		Location:        snap.Location,
		Status:          dispatchStatus(outcomes),
		ChannelOutcomes: outcomes,
		Timestamp:       time.Now(),
	})

	if notify.AnyDelivered(outcomes) {
		return ReplyResult{Action: ReplyEscalated, Message: msgEscalated}
	}
	return ReplyResult{Action: ReplyEscalated, Message: msgEscalatedDegraded}
}

// escalateDrained handles one auto-escalated session that the store has
// already removed
func (o *Orchestrator) escalateDrained(snap session.Session) {
	alertID := uuid.NewString()
	outcomes := o.dispatch(notify.Alert{
		AlertID:       alertID,
		UserID:        snap.UserID,
		Severity:      snap.Severity,
		Message:       excerpt(snap.OriginalMessage),
		Categories:    snap.MatchedCategories,
		Location:      snap.Location,
		AutoEscalated: true,
		Timestamp:     time.Now(),
	}, nil)

	o.store.MarkAlerted(snap.UserID)

	o.auditLog.Append(audit.Record{
		AlertID:         alertID,
		UserID:          snap.UserID,
		AlertType:       audit.TypeAutoEscalation,
		Severity:        snap.Severity.String(),
		Message:         excerpt(snap.OriginalMessage),
		Categories:      snap.MatchedCategories,
		Location:        snap.Location,
		Status:          dispatchStatus(outcomes),
		ChannelOutcomes: outcomes,
		Timestamp:       time.Now(),
	})

	o.logger.WithFields(logrus.Fields{
		"user_id":   snap.UserID,
		"alert_id":  alertID,
		"delivered": notify.AnyDelivered(outcomes),
	}).Warning("Auto-escalated unanswered confirmation")
}

// dispatchStatus maps channel outcomes to an audit status
func dispatchStatus(outcomes []notify.Outcome) string {
	if notify.AnyDelivered(outcomes) {
		return audit.StatusNotified
	}
	return audit.StatusFailed
}

// excerpt bounds the free-text carried into alerts and audit records
func excerpt(message string) string {
	const maxLen = 200
	if len(message) <= maxLen {
		return message
	}
	return message[:maxLen] + "..."
}
