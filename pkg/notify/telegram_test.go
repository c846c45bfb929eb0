package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardian-server/pkg/detection"
	"guardian-server/pkg/session"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testAlert() Alert {
	return Alert{
		AlertID:       "alert-1",
		UserID:        "user1",
		UserName:      "Margaret",
		CaregiverName: "Susan",
		Severity:      detection.SeverityHigh,
		Message:       "I fell and can't get up",
		Categories:    []string{"fall"},
		Timestamp:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// telegramStub records the bot API calls it receives
type telegramStub struct {
	mutex     sync.Mutex
	requests  []string
	bodies    []map[string]interface{}
	rejectAll bool
}

func (s *telegramStub) handler(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mutex.Lock()
	s.requests = append(s.requests, r.URL.Path)
	s.bodies = append(s.bodies, body)
	s.mutex.Unlock()

	if s.rejectAll {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": false, "description": "chat not found",
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":     true,
		"result": map[string]interface{}{"message_id": 42},
	})
}

func (s *telegramStub) calls() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.requests...)
}

func newStubbedTelegram(t *testing.T, stub *telegramStub) *TelegramChannel {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(stub.handler))
	t.Cleanup(server.Close)

	return NewTelegramChannel(TelegramConfig{
		BotToken: "bot-token",
		ChatID:   "chat-1",
		APIBase:  server.URL,
	}, newTestLogger())
}

func TestTelegramSendDelivers(t *testing.T) {
	stub := &telegramStub{}
	channel := newStubbedTelegram(t, stub)

	outcome := channel.Send(context.Background(), testAlert())

	assert.True(t, outcome.Delivered)
	assert.Equal(t, "telegram", outcome.Channel)
	assert.Equal(t, "42", outcome.Reference)
	assert.Empty(t, outcome.Error)

	calls := stub.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/botbot-token/sendMessage", calls[0])

	text, _ := stub.bodies[0]["text"].(string)
	assert.Contains(t, text, "EMERGENCY ALERT")
	assert.Contains(t, text, "Margaret")
	assert.Contains(t, text, "Susan, please check on them now.")
	assert.Contains(t, text, "fall")
}

func TestTelegramSendsLocationPin(t *testing.T) {
	stub := &telegramStub{}
	channel := newStubbedTelegram(t, stub)

	alert := testAlert()
	alert.Location = &session.Location{Lat: 40.7, Lng: -74.0}

	outcome := channel.Send(context.Background(), alert)

	assert.True(t, outcome.Delivered)
	calls := stub.calls()
	require.Len(t, calls, 2)
	assert.True(t, strings.HasSuffix(calls[1], "/sendLocation"))
	assert.Equal(t, 40.7, stub.bodies[1]["latitude"])
}

func TestTelegramAPIRejection(t *testing.T) {
	stub := &telegramStub{rejectAll: true}
	channel := newStubbedTelegram(t, stub)

	outcome := channel.Send(context.Background(), testAlert())

	assert.False(t, outcome.Delivered)
	assert.Contains(t, outcome.Error, "chat not found")
}

func TestTelegramUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	channel := NewTelegramChannel(TelegramConfig{
		BotToken: "bot-token",
		ChatID:   "chat-1",
		APIBase:  server.URL,
	}, newTestLogger())

	outcome := channel.Send(context.Background(), testAlert())

	assert.False(t, outcome.Delivered)
	assert.NotEmpty(t, outcome.Error)
}

func TestTelegramUnconfigured(t *testing.T) {
	channel := NewTelegramChannel(TelegramConfig{}, newTestLogger())

	assert.False(t, channel.Enabled())

	outcome := channel.Send(context.Background(), testAlert())
	assert.False(t, outcome.Delivered)
	assert.Equal(t, "notification channel not configured: telegram", outcome.Error)
}

func TestSummaryLine(t *testing.T) {
	alert := testAlert()
	line := summaryLine(alert)
	assert.Contains(t, line, "Margaret reported an emergency")
	assert.Contains(t, line, "high severity")
	assert.Contains(t, line, "fall")

	alert.AutoEscalated = true
	alert.UserName = ""
	line = summaryLine(alert)
	assert.Contains(t, line, "user1 did not respond to an emergency check-in")
}

func TestAnyDelivered(t *testing.T) {
	assert.False(t, AnyDelivered(nil))
	assert.False(t, AnyDelivered([]Outcome{{Channel: "telegram"}, {Channel: "voice_call"}}))
	assert.True(t, AnyDelivered([]Outcome{{Channel: "telegram"}, {Channel: "voice_call", Delivered: true}}))
}
