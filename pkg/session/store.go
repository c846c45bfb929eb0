package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"guardian-server/pkg/detection"
	"guardian-server/pkg/errors"
)

// State is the confirmation dialogue state for one user
type State int

const (
	StateIdle State = iota
	StateAwaitingConfirm
	StateConfirmed
	StateDenied
	StateAutoEscalated
)

// String returns a label for logs
func (s State) String() string {
	switch s {
	case StateAwaitingConfirm:
		return "awaiting_confirm"
	case StateConfirmed:
		return "confirmed"
	case StateDenied:
		return "denied"
	case StateAutoEscalated:
		return "auto_escalated"
	default:
		return "idle"
	}
}

// Location is an optional user position attached to a session
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Session is a snapshot of one user's confirmation dialogue. Snapshots are
// copies; mutating one has no effect on the store.
type Session struct {
	UserID            string
	State             State
	Severity          detection.Severity
	OriginalMessage   string
	MatchedCategories []string
	Location          *Location
	CreatedAt         time.Time
}

// entry is the store's internal record. The deadline timer handle lives
// inside the entry so arming a new timer and cancelling the old one happen
// as one operation under the store lock.
type entry struct {
	session    Session
	timer      *time.Timer
	generation uint64
}

// Store tracks at most one confirmation session per user identifier, plus
// the per-user timestamp of the last sent alert (which outlives sessions
// and drives the cooldown window).
//
// All reads and writes go through the store mutex; this is the single
// shared-mutable-state boundary of the engine. Deadline timers re-check
// state and generation under the lock when they fire, so a timer can never
// mutate a session it no longer matches.
type Store struct {
	mutex      sync.Mutex
	sessions   map[string]*entry
	lastAlert  map[string]time.Time
	timeout    time.Duration
	cooldown   time.Duration
	generation uint64
	onDeadline func(userID string)
	logger     *logrus.Logger
}

// NewStore creates a session store with the given confirmation timeout and
// cooldown window
func NewStore(timeout, cooldown time.Duration, logger *logrus.Logger) *Store {
	store := &Store{
		sessions:  make(map[string]*entry),
		lastAlert: make(map[string]time.Time),
		timeout:   timeout,
		cooldown:  cooldown,
		logger:    logger,
	}

	logger.WithFields(logrus.Fields{
		"confirmation_timeout": timeout,
		"cooldown_window":      cooldown,
	}).Info("Confirmation session store initialized")

	return store
}

// SetDeadlineCallback registers a function invoked (outside the store lock)
// after a session auto-escalates on timeout. Used to nudge the sweeper so a
// silent timeout is acted on promptly instead of waiting for the next tick.
func (s *Store) SetDeadlineCallback(fn func(userID string)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onDeadline = fn
}

// OpenAwaiting opens a session in AWAITING_CONFIRM and arms its deadline.
// An existing session for the user is replaced and its timer cancelled.
func (s *Store) OpenAwaiting(userID string, severity detection.Severity, message string, categories []string, loc *Location) Session {
	return s.open(userID, StateAwaitingConfirm, severity, message, categories, loc)
}

// OpenConfirmed opens a session already in CONFIRMED: the direct-escalation
// path for critical severity, where alerts have already been dispatched. A
// deadline is still armed so the user keeps a window to retract a false
// alarm; when it elapses the session is simply cleared.
func (s *Store) OpenConfirmed(userID string, severity detection.Severity, message string, categories []string, loc *Location) Session {
	return s.open(userID, StateConfirmed, severity, message, categories, loc)
}

func (s *Store) open(userID string, state State, severity detection.Severity, message string, categories []string, loc *Location) Session {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if existing, ok := s.sessions[userID]; ok && existing.timer != nil {
		existing.timer.Stop()
	}

	e := &entry{
		session: Session{
			UserID:            userID,
			State:             state,
			Severity:          severity,
			OriginalMessage:   message,
			MatchedCategories: append([]string(nil), categories...),
			Location:          loc,
			CreatedAt:         time.Now(),
		},
	}
	s.sessions[userID] = e
	s.armDeadlineLocked(userID, e)

	s.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"state":    state,
		"severity": severity,
	}).Info("Confirmation session opened")

	return e.session
}

// armDeadlineLocked arms the confirmation deadline for an entry. Caller
// must hold the store lock. Any prior timer for the entry must already be
// stopped.
func (s *Store) armDeadlineLocked(userID string, e *entry) {
	s.generation++
	gen := s.generation
	e.generation = gen
	e.timer = time.AfterFunc(s.timeout, func() {
		s.deadlineFired(userID, gen)
	})
}

// deadlineFired handles a deadline elapsing. The generation check makes a
// stale timer (one whose session was replaced, resolved or cleared between
// scheduling and firing) a no-op.
func (s *Store) deadlineFired(userID string, gen uint64) {
	s.mutex.Lock()

	e, ok := s.sessions[userID]
	if !ok || e.generation != gen {
		s.mutex.Unlock()
		return
	}

	switch e.session.State {
	case StateAwaitingConfirm:
		e.session.State = StateAutoEscalated
		e.timer = nil
		callback := s.onDeadline
		s.mutex.Unlock()

		s.logger.WithField("user_id", userID).Warning("Confirmation deadline elapsed, session marked for auto-escalation")
		if callback != nil {
			callback(userID)
		}

	case StateConfirmed:
		// Direct-escalation retraction window closed without a retraction
		delete(s.sessions, userID)
		s.mutex.Unlock()

		s.logger.WithField("user_id", userID).Debug("Retraction window closed, session cleared")

	default:
		s.mutex.Unlock()
	}
}

// Snapshot returns a copy of the user's session, if one exists
func (s *Store) Snapshot(userID string) (Session, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return e.snapshotLocked(), true
}

func (e *entry) snapshotLocked() Session {
	snap := e.session
	snap.MatchedCategories = append([]string(nil), e.session.MatchedCategories...)
	return snap
}

// StateOf returns the user's current session state, if a session exists
func (s *Store) StateOf(userID string) (State, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.sessions[userID]
	if !ok {
		return StateIdle, false
	}
	return e.session.State, true
}

// Confirm transitions AWAITING_CONFIRM to CONFIRMED, cancelling the
// deadline before the transition so the timer cannot fire afterwards.
func (s *Store) Confirm(userID string) (Session, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.sessions[userID]
	if !ok {
		return Session{}, errors.NewNoSession(userID)
	}
	if e.session.State != StateAwaitingConfirm {
		return Session{}, errors.Wrap(errors.ErrSessionNotAwaiting, "cannot confirm").
			WithField("user_id", userID).
			WithField("state", e.session.State.String())
	}

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.session.State = StateConfirmed

	s.logger.WithField("user_id", userID).Info("Session confirmed by user")
	return e.snapshotLocked(), nil
}

// Deny transitions AWAITING_CONFIRM or CONFIRMED to DENIED. The previous
// state is returned so the caller can tell a pre-alert cancellation from a
// post-alert retraction (alerts already sent are not recalled, only flagged
// downstream).
func (s *Store) Deny(userID string) (Session, State, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.sessions[userID]
	if !ok {
		return Session{}, StateIdle, errors.NewNoSession(userID)
	}

	previous := e.session.State
	if previous != StateAwaitingConfirm && previous != StateConfirmed {
		return Session{}, previous, errors.Wrap(errors.ErrSessionNotAwaiting, "cannot deny").
			WithField("user_id", userID).
			WithField("state", previous.String())
	}

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.session.State = StateDenied

	s.logger.WithFields(logrus.Fields{
		"user_id":        userID,
		"previous_state": previous,
	}).Info("Session denied by user")

	return e.snapshotLocked(), previous, nil
}

// Clear removes the user's session, cancelling any outstanding deadline.
// lastAlert is preserved so the cooldown keeps counting.
func (s *Store) Clear(userID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.sessions[userID]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.sessions, userID)

	s.logger.WithField("user_id", userID).Debug("Session cleared")
}

// MarkAlerted stamps the user's last-alert time, starting the cooldown.
// The stamp is monotonically non-decreasing.
func (s *Store) MarkAlerted(userID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	if now.After(s.lastAlert[userID]) {
		s.lastAlert[userID] = now
	}
}

// IsOnCooldown reports whether an alert for this user fired within the
// cooldown window. This is the gate that prevents alert storms from a
// single distressed conversation.
func (s *Store) IsOnCooldown(userID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	last, ok := s.lastAlert[userID]
	if !ok {
		return false
	}
	return time.Since(last) < s.cooldown
}

// RemainingCooldownSeconds returns how long the cooldown has left, for
// user-facing messaging only. Safety decisions must use IsOnCooldown.
func (s *Store) RemainingCooldownSeconds(userID string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	last, ok := s.lastAlert[userID]
	if !ok {
		return 0
	}
	remaining := s.cooldown - time.Since(last)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds() + 0.5)
}

// DrainAutoEscalated atomically removes every AUTO_ESCALATED session and
// returns snapshots for dispatch. Removal happens inside the drain so two
// overlapping sweeps can never dispatch the same session twice.
func (s *Store) DrainAutoEscalated() []Session {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var drained []Session
	for userID, e := range s.sessions {
		if e.session.State != StateAutoEscalated {
			continue
		}
		drained = append(drained, e.snapshotLocked())
		delete(s.sessions, userID)
	}
	return drained
}

// ActiveCount returns the number of open sessions
func (s *Store) ActiveCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.sessions)
}

// Shutdown cancels all outstanding deadline timers and drops all sessions
func (s *Store) Shutdown() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for userID, e := range s.sessions {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.sessions, userID)
	}

	s.logger.Info("Session store shut down")
}
