package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"LOG_LEVEL", "CONFIRMATION_TIMEOUT_SECONDS", "ALERT_COOLDOWN_MINUTES",
		"SWEEP_INTERVAL_SECONDS", "KEYWORD_RULES_PATH", "AMQP_QUEUE_NAME",
		"HTTP_ENABLED", "HTTP_PORT",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load(newTestLogger())
	require.NoError(t, err)

	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, 60*time.Second, cfg.ConfirmationTimeout)
	assert.Equal(t, 5*time.Minute, cfg.CooldownWindow)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.Equal(t, "guardian.alerts", cfg.AMQPQueueName)
	assert.True(t, cfg.HTTPEnabled)
	assert.Equal(t, 8080, cfg.HTTPPort)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CONFIRMATION_TIMEOUT_SECONDS", "30")
	t.Setenv("ALERT_COOLDOWN_MINUTES", "10")
	t.Setenv("TELEGRAM_BOT_TOKEN", "bot-token")
	t.Setenv("TELEGRAM_CHAT_ID", "chat-1")
	t.Setenv("AMQP_QUEUE_NAME", "custom.queue")
	t.Setenv("HTTP_ENABLED", "false")

	cfg, err := Load(newTestLogger())
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.ConfirmationTimeout)
	assert.Equal(t, 10*time.Minute, cfg.CooldownWindow)
	assert.Equal(t, "bot-token", cfg.TelegramBotToken)
	assert.Equal(t, "custom.queue", cfg.AMQPQueueName)
	assert.False(t, cfg.HTTPEnabled)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	t.Setenv("CONFIRMATION_TIMEOUT_SECONDS", "not-a-number")
	t.Setenv("HTTP_PORT", "eight thousand")

	cfg, err := Load(newTestLogger())
	require.NoError(t, err)

	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, 60*time.Second, cfg.ConfirmationTimeout)
	assert.Equal(t, 8080, cfg.HTTPPort)
}

func TestValidate(t *testing.T) {
	valid := &Configuration{
		ConfirmationTimeout: time.Minute,
		CooldownWindow:      5 * time.Minute,
		SweepInterval:       15 * time.Second,
		HTTPEnabled:         true,
		HTTPPort:            8080,
	}
	assert.NoError(t, valid.Validate())

	negative := *valid
	negative.ConfirmationTimeout = -time.Second
	assert.Error(t, negative.Validate())

	badPort := *valid
	badPort.HTTPPort = 70000
	assert.Error(t, badPort.Validate())

	portIgnoredWhenDisabled := *valid
	portIgnoredWhenDisabled.HTTPEnabled = false
	portIgnoredWhenDisabled.HTTPPort = 0
	assert.NoError(t, portIgnoredWhenDisabled.Validate())
}
