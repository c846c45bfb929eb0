package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian-server/pkg/audit"
	"guardian-server/pkg/detection"
	"guardian-server/pkg/keywords"
	"guardian-server/pkg/notify"
	"guardian-server/pkg/session"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// fakeChannel records the alerts it receives and can be told to fail or
// panic on send.
type fakeChannel struct {
	name   string
	fail   bool
	panics bool

	mutex sync.Mutex
	sent  []notify.Alert
}

func (c *fakeChannel) Name() string  { return c.name }
func (c *fakeChannel) Enabled() bool { return true }

func (c *fakeChannel) Send(ctx context.Context, alert notify.Alert) notify.Outcome {
	c.mutex.Lock()
	c.sent = append(c.sent, alert)
	c.mutex.Unlock()

	if c.panics {
		panic("simulated channel crash")
	}
	// A real channel's HTTP client fails the moment its context is done
	if err := ctx.Err(); err != nil {
		return notify.Outcome{Channel: c.name, Error: err.Error()}
	}
	if c.fail {
		return notify.Outcome{Channel: c.name, Error: "endpoint unreachable"}
	}
	return notify.Outcome{Channel: c.name, Delivered: true, Reference: "ref-1"}
}

func (c *fakeChannel) sentCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.sent)
}

func (c *fakeChannel) lastAlert() notify.Alert {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.sent[len(c.sent)-1]
}

// recordingLog captures audit records in memory
type recordingLog struct {
	mutex   sync.Mutex
	records []audit.Record
}

func (l *recordingLog) Append(record audit.Record) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.records = append(l.records, record)
}

func (l *recordingLog) Close() {}

func (l *recordingLog) byType(alertType string) []audit.Record {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	var out []audit.Record
	for _, record := range l.records {
		if record.AlertType == alertType {
			out = append(out, record)
		}
	}
	return out
}

func (l *recordingLog) count() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.records)
}

type testEngine struct {
	orchestrator *Orchestrator
	store        *session.Store
	telegram     *fakeChannel
	voice        *fakeChannel
	auditLog     *recordingLog
}

func newTestEngine(t *testing.T, timeout, cooldown time.Duration) *testEngine {
	t.Helper()

	provider, err := keywords.NewProvider("", newTestLogger())
	require.NoError(t, err)

	engine := &testEngine{
		store:    session.NewStore(timeout, cooldown, newTestLogger()),
		telegram: &fakeChannel{name: "telegram"},
		voice:    &fakeChannel{name: "voice_call"},
		auditLog: &recordingLog{},
	}
	t.Cleanup(engine.store.Shutdown)

	engine.orchestrator = NewOrchestrator(
		detection.NewScorer(provider),
		engine.store,
		[]notify.Channel{engine.telegram, engine.voice},
		engine.auditLog,
		newTestLogger(),
	)
	return engine
}

func TestLowSeverityLogsOnly(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)

	result := engine.orchestrator.DetectAndProcess(context.Background(), "user1",
		"What a lovely morning, the garden looks great", nil, nil, nil)

	assert.False(t, result.Emergency)
	assert.Equal(t, ActionLog, result.Action)
	assert.Equal(t, 0, engine.store.ActiveCount())
	assert.Zero(t, engine.telegram.sentCount())
	assert.Zero(t, engine.auditLog.count())
}

func TestHighSeverityOpensConfirmation(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)

	result := engine.orchestrator.DetectAndProcess(context.Background(), "user1",
		"I fell and can't get up", nil, nil, nil)

	assert.True(t, result.Emergency)
	assert.Equal(t, ActionConfirm, result.Action)
	assert.Equal(t, msgConfirmHigh, result.ConfirmationMessage)

	state, ok := engine.store.StateOf("user1")
	require.True(t, ok)
	assert.Equal(t, session.StateAwaitingConfirm, state)

	// Nothing dispatched before the user answers
	assert.Zero(t, engine.telegram.sentCount())
	assert.Zero(t, engine.voice.sentCount())

	opened := engine.auditLog.byType(audit.TypeConfirmationOpened)
	require.Len(t, opened, 1)
	assert.Equal(t, audit.StatusPendingConfirmation, opened[0].Status)
}

func TestConfirmedEmergencyDispatchesToBothChannels(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)
	ctx := context.Background()

	engine.orchestrator.DetectAndProcess(ctx, "user1", "I fell and can't get up", nil,
		&session.Location{Lat: 40.7, Lng: -74.0}, nil)
	result := engine.orchestrator.ProcessConfirmationReply(ctx, "user1", "yes please",
		&UserMeta{Name: "Margaret", CaregiverName: "Susan"})

	assert.Equal(t, ReplyEscalated, result.Action)
	assert.Equal(t, msgEscalated, result.Message)

	require.Equal(t, 1, engine.telegram.sentCount())
	require.Equal(t, 1, engine.voice.sentCount())
	alert := engine.telegram.lastAlert()
	assert.Equal(t, "Margaret", alert.UserName)
	assert.Equal(t, "Susan", alert.CaregiverName)
	require.NotNil(t, alert.Location)
	assert.False(t, alert.AutoEscalated)

	records := engine.auditLog.byType(audit.TypeEmergencyAlert)
	require.Len(t, records, 1)
	assert.Equal(t, audit.StatusNotified, records[0].Status)
	assert.Len(t, records[0].ChannelOutcomes, 2)

	assert.Equal(t, 0, engine.store.ActiveCount(), "session cleared after escalation")
	assert.True(t, engine.store.IsOnCooldown("user1"))
}

func TestDeniedEmergencyNeverDispatches(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)
	ctx := context.Background()

	engine.orchestrator.DetectAndProcess(ctx, "user1", "I fell and can't get up", nil, nil, nil)
	result := engine.orchestrator.ProcessConfirmationReply(ctx, "user1", "no, I'm fine", nil)

	assert.Equal(t, ReplyCancelled, result.Action)
	assert.Equal(t, msgCancelled, result.Message)
	assert.Zero(t, engine.telegram.sentCount())
	assert.Zero(t, engine.voice.sentCount())
	assert.Equal(t, 0, engine.store.ActiveCount())
	assert.False(t, engine.store.IsOnCooldown("user1"), "no alert means no cooldown")
	assert.Empty(t, engine.auditLog.byType(audit.TypeEmergencyAlert))
}

func TestUnclearReplyKeepsAwaiting(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)
	ctx := context.Background()

	engine.orchestrator.DetectAndProcess(ctx, "user1", "I fell and can't get up", nil, nil, nil)
	result := engine.orchestrator.ProcessConfirmationReply(ctx, "user1", "what do you mean", nil)

	assert.Equal(t, ReplyPending, result.Action)
	assert.Equal(t, msgConfirmRepeat, result.Message)

	state, ok := engine.store.StateOf("user1")
	require.True(t, ok)
	assert.Equal(t, session.StateAwaitingConfirm, state)
	assert.Zero(t, engine.telegram.sentCount())
}

func TestSecondAffirmativeReplyDoesNotRedispatch(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)
	ctx := context.Background()

	engine.orchestrator.DetectAndProcess(ctx, "user1", "I fell and can't get up", nil, nil, nil)

	first := engine.orchestrator.ProcessConfirmationReply(ctx, "user1", "yes", nil)
	assert.Equal(t, ReplyEscalated, first.Action)

	second := engine.orchestrator.ProcessConfirmationReply(ctx, "user1", "yes", nil)
	assert.Equal(t, ReplyNoSession, second.Action)

	// Exactly one dispatch per channel and one alert record for the episode
	assert.Equal(t, 1, engine.telegram.sentCount())
	assert.Equal(t, 1, engine.voice.sentCount())
	assert.Len(t, engine.auditLog.byType(audit.TypeEmergencyAlert), 1)
}

func TestReplyWithoutSession(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)

	result := engine.orchestrator.ProcessConfirmationReply(context.Background(), "ghost", "yes", nil)

	assert.Equal(t, ReplyNoSession, result.Action)
	assert.Zero(t, engine.telegram.sentCount())
}

func TestCriticalEscalatesImmediately(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)

	result := engine.orchestrator.DetectAndProcess(context.Background(), "user1",
		"I think I'm having a heart attack", nil, nil, nil)

	assert.True(t, result.Emergency)
	assert.Equal(t, ActionEscalate, result.Action)
	assert.Equal(t, msgCriticalSent, result.ConfirmationMessage)

	// Dispatch happened without waiting for a reply
	assert.Equal(t, 1, engine.telegram.sentCount())
	assert.Equal(t, 1, engine.voice.sentCount())
	assert.True(t, engine.store.IsOnCooldown("user1"))

	// Retraction window is open
	state, ok := engine.store.StateOf("user1")
	require.True(t, ok)
	assert.Equal(t, session.StateConfirmed, state)

	records := engine.auditLog.byType(audit.TypeEmergencyAlert)
	require.Len(t, records, 1)
	assert.Equal(t, audit.StatusNotified, records[0].Status)
}

func TestCriticalRetractionFlagsFalseAlarm(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)
	ctx := context.Background()

	engine.orchestrator.DetectAndProcess(ctx, "user1", "I think I'm having a heart attack", nil, nil, nil)
	result := engine.orchestrator.ProcessConfirmationReply(ctx, "user1", "no, false alarm", nil)

	assert.Equal(t, ReplyCancelled, result.Action)
	assert.Equal(t, msgRetracted, result.Message)
	assert.Equal(t, 0, engine.store.ActiveCount())

	retractions := engine.auditLog.byType(audit.TypeFalseAlarm)
	require.Len(t, retractions, 1)
	assert.Equal(t, audit.StatusCancelled, retractions[0].Status)

	// The alert itself is not recalled
	assert.Equal(t, 1, engine.telegram.sentCount())
}

func TestCriticalNonNegativeReplyIsNoSession(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)
	ctx := context.Background()

	engine.orchestrator.DetectAndProcess(ctx, "user1", "I think I'm having a heart attack", nil, nil, nil)
	result := engine.orchestrator.ProcessConfirmationReply(ctx, "user1", "thank you", nil)

	assert.Equal(t, ReplyNoSession, result.Action)
	state, ok := engine.store.StateOf("user1")
	require.True(t, ok)
	assert.Equal(t, session.StateConfirmed, state, "retraction window stays open")
}

func TestDispatchOutlivesCallerContext(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)

	// The chat client hung up before the engine acted on the message.
	// The caregiver alert must still go out on both channels.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := engine.orchestrator.DetectAndProcess(ctx, "user1",
		"I think I'm having a heart attack", nil, nil, nil)

	assert.Equal(t, ActionEscalate, result.Action)
	assert.Equal(t, msgCriticalSent, result.ConfirmationMessage)
	assert.Equal(t, 1, engine.telegram.sentCount())
	assert.Equal(t, 1, engine.voice.sentCount())

	records := engine.auditLog.byType(audit.TypeEmergencyAlert)
	require.Len(t, records, 1)
	assert.Equal(t, audit.StatusNotified, records[0].Status)
}

func TestConfirmedDispatchOutlivesCallerContext(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)

	engine.orchestrator.DetectAndProcess(context.Background(), "user1",
		"I fell and can't get up", nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := engine.orchestrator.ProcessConfirmationReply(ctx, "user1", "yes", nil)

	assert.Equal(t, msgEscalated, result.Message)
	assert.Equal(t, 1, engine.telegram.sentCount())
}

func TestCooldownSuppressesRepeatDetection(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)
	ctx := context.Background()

	engine.orchestrator.DetectAndProcess(ctx, "user1", "I fell and can't get up", nil, nil, nil)
	engine.orchestrator.ProcessConfirmationReply(ctx, "user1", "yes", nil)
	require.Equal(t, 1, engine.telegram.sentCount())

	result := engine.orchestrator.DetectAndProcess(ctx, "user1", "I fell and can't get up", nil, nil, nil)

	assert.Equal(t, ActionCooldown, result.Action)
	assert.False(t, result.Emergency)
	assert.Greater(t, result.CooldownRemaining, 0)
	assert.Equal(t, 0, engine.store.ActiveCount(), "no new session during cooldown")
	assert.Equal(t, 1, engine.telegram.sentCount(), "no second dispatch")
}

func TestCooldownIsPerUser(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)
	ctx := context.Background()

	engine.orchestrator.DetectAndProcess(ctx, "user1", "heart attack", nil, nil, nil)
	result := engine.orchestrator.DetectAndProcess(ctx, "user2", "heart attack", nil, nil, nil)

	assert.Equal(t, ActionEscalate, result.Action, "another user's cooldown must not apply")
	assert.Equal(t, 2, engine.telegram.sentCount())
}

func TestRepeatHighWhileAwaitingReprompts(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)
	ctx := context.Background()

	engine.orchestrator.DetectAndProcess(ctx, "user1", "I fell and can't get up", nil, nil, nil)
	result := engine.orchestrator.DetectAndProcess(ctx, "user1", "I'm still stuck on the floor and can't get up", nil, nil, nil)

	assert.Equal(t, ActionConfirm, result.Action)
	assert.Equal(t, msgConfirmRepeat, result.ConfirmationMessage)
	assert.Equal(t, 1, engine.store.ActiveCount())
	assert.Len(t, engine.auditLog.byType(audit.TypeConfirmationOpened), 1, "no duplicate session record")
}

func TestPartialChannelFailureStillNotified(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)
	engine.voice.fail = true
	ctx := context.Background()

	engine.orchestrator.DetectAndProcess(ctx, "user1", "I fell and can't get up", nil, nil, nil)
	result := engine.orchestrator.ProcessConfirmationReply(ctx, "user1", "yes", nil)

	assert.Equal(t, msgEscalated, result.Message, "one delivered channel is a success")

	records := engine.auditLog.byType(audit.TypeEmergencyAlert)
	require.Len(t, records, 1)
	assert.Equal(t, audit.StatusNotified, records[0].Status)

	// Both attempts are reported, failure included
	require.Len(t, records[0].ChannelOutcomes, 2)
	delivered := 0
	for _, outcome := range records[0].ChannelOutcomes {
		if outcome.Delivered {
			delivered++
		} else {
			assert.NotEmpty(t, outcome.Error)
		}
	}
	assert.Equal(t, 1, delivered)
}

func TestAllChannelsFailedIsDegraded(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)
	engine.telegram.fail = true
	engine.voice.fail = true
	ctx := context.Background()

	engine.orchestrator.DetectAndProcess(ctx, "user1", "I fell and can't get up", nil, nil, nil)
	result := engine.orchestrator.ProcessConfirmationReply(ctx, "user1", "yes", nil)

	assert.Equal(t, ReplyEscalated, result.Action)
	assert.Equal(t, msgEscalatedDegraded, result.Message)
	assert.Contains(t, result.Message, "call for help directly")

	records := engine.auditLog.byType(audit.TypeEmergencyAlert)
	require.Len(t, records, 1)
	assert.Equal(t, audit.StatusFailed, records[0].Status)
}

func TestCriticalDegradedMessage(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)
	engine.telegram.fail = true
	engine.voice.fail = true

	result := engine.orchestrator.DetectAndProcess(context.Background(), "user1",
		"I think I'm having a heart attack", nil, nil, nil)

	assert.Equal(t, ActionEscalate, result.Action)
	assert.Equal(t, msgCriticalDegraded, result.ConfirmationMessage)
	assert.Contains(t, result.ConfirmationMessage, "call for help directly")
}

func TestChannelPanicIsIsolated(t *testing.T) {
	engine := newTestEngine(t, time.Minute, 5*time.Minute)
	engine.voice.panics = true
	ctx := context.Background()

	engine.orchestrator.DetectAndProcess(ctx, "user1", "I fell and can't get up", nil, nil, nil)
	result := engine.orchestrator.ProcessConfirmationReply(ctx, "user1", "yes", nil)

	assert.Equal(t, msgEscalated, result.Message, "surviving channel still counts as delivery")

	records := engine.auditLog.byType(audit.TypeEmergencyAlert)
	require.Len(t, records, 1)
	var panicked bool
	for _, outcome := range records[0].ChannelOutcomes {
		if outcome.Channel == "voice_call" {
			assert.False(t, outcome.Delivered)
			assert.Contains(t, outcome.Error, "panicked")
			panicked = true
		}
	}
	assert.True(t, panicked)
}

func TestAutoEscalationOnTimeout(t *testing.T) {
	engine := newTestEngine(t, 25*time.Millisecond, 5*time.Minute)
	ctx := context.Background()

	engine.orchestrator.DetectAndProcess(ctx, "user1", "I fell and can't get up", nil, nil, nil)

	require.Eventually(t, func() bool {
		state, ok := engine.store.StateOf("user1")
		return ok && state == session.StateAutoEscalated
	}, time.Second, 5*time.Millisecond)

	engine.orchestrator.ProcessAutoEscalations(ctx)

	require.Equal(t, 1, engine.telegram.sentCount())
	assert.True(t, engine.telegram.lastAlert().AutoEscalated)
	assert.True(t, engine.store.IsOnCooldown("user1"))
	assert.Equal(t, 0, engine.store.ActiveCount())

	records := engine.auditLog.byType(audit.TypeAutoEscalation)
	require.Len(t, records, 1)
	assert.Equal(t, audit.StatusNotified, records[0].Status)
}

func TestAutoEscalationDispatchesOnlyOnce(t *testing.T) {
	engine := newTestEngine(t, 20*time.Millisecond, 5*time.Minute)
	ctx := context.Background()

	engine.orchestrator.DetectAndProcess(ctx, "user1", "I fell and can't get up", nil, nil, nil)

	require.Eventually(t, func() bool {
		state, ok := engine.store.StateOf("user1")
		return ok && state == session.StateAutoEscalated
	}, time.Second, 5*time.Millisecond)

	engine.orchestrator.ProcessAutoEscalations(ctx)
	engine.orchestrator.ProcessAutoEscalations(ctx)

	assert.Equal(t, 1, engine.telegram.sentCount())
	assert.Len(t, engine.auditLog.byType(audit.TypeAutoEscalation), 1)
}

func TestExcerptTruncatesLongMessages(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "I fell and I am in pain "
	}

	bounded := excerpt(long)
	assert.LessOrEqual(t, len(bounded), 203)
	assert.Contains(t, bounded, "...")
	assert.Equal(t, "short", excerpt("short"))
}
