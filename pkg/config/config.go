package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Configuration defines the structure for storing application configuration
type Configuration struct {
	// Logging
	LogLevel logrus.Level

	// Escalation engine tunables
	ConfirmationTimeout time.Duration
	CooldownWindow      time.Duration
	SweepInterval       time.Duration

	// Keyword corpus
	KeywordRulesPath string
	KeywordHotReload bool

	// Messenger-bot channel (Telegram)
	TelegramBotToken string
	TelegramChatID   string

	// Telephony channel (Twilio)
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioToNumber   string

	// Audit trail
	AMQPUrl       string
	AMQPQueueName string

	// HTTP server (health + metrics + engine API)
	HTTPPort    int
	HTTPEnabled bool
}

// Load loads the application configuration from environment variables
func Load(logger *logrus.Logger) (*Configuration, error) {
	// A .env file is a convenience for development, not a requirement
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded, using process environment")
	}

	config := &Configuration{}

	config.LogLevel = parseLogLevel(os.Getenv("LOG_LEVEL"), logger)

	config.ConfirmationTimeout = getEnvDuration("CONFIRMATION_TIMEOUT_SECONDS", 60, time.Second, logger)
	config.CooldownWindow = getEnvDuration("ALERT_COOLDOWN_MINUTES", 5, time.Minute, logger)
	config.SweepInterval = getEnvDuration("SWEEP_INTERVAL_SECONDS", 15, time.Second, logger)

	config.KeywordRulesPath = os.Getenv("KEYWORD_RULES_PATH")
	config.KeywordHotReload = os.Getenv("KEYWORD_HOT_RELOAD") != "false"
	if config.KeywordRulesPath == "" {
		logger.Info("No KEYWORD_RULES_PATH specified, using built-in keyword tables")
	}

	config.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	config.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")

	config.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	config.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	config.TwilioFromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	config.TwilioToNumber = os.Getenv("TWILIO_TO_NUMBER")

	config.AMQPUrl = os.Getenv("AMQP_URL")
	config.AMQPQueueName = os.Getenv("AMQP_QUEUE_NAME")
	if config.AMQPQueueName == "" {
		config.AMQPQueueName = "guardian.alerts"
	}

	config.HTTPEnabled = os.Getenv("HTTP_ENABLED") != "false"
	config.HTTPPort = getEnvInt("HTTP_PORT", 8080, logger)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration for invalid values
func (c *Configuration) Validate() error {
	if c.ConfirmationTimeout <= 0 {
		return fmt.Errorf("confirmation timeout must be positive, got %v", c.ConfirmationTimeout)
	}
	if c.CooldownWindow <= 0 {
		return fmt.Errorf("cooldown window must be positive, got %v", c.CooldownWindow)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %v", c.SweepInterval)
	}
	if c.HTTPEnabled && (c.HTTPPort <= 0 || c.HTTPPort > 65535) {
		return fmt.Errorf("http port out of range: %d", c.HTTPPort)
	}
	return nil
}

func parseLogLevel(value string, logger *logrus.Logger) logrus.Level {
	if value == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(value)
	if err != nil {
		logger.WithField("log_level", value).Warning("Invalid LOG_LEVEL, defaulting to info")
		return logrus.InfoLevel
	}
	return level
}

func getEnvInt(key string, defaultValue int, logger *logrus.Logger) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"key":   key,
			"value": value,
		}).Warning("Invalid integer in environment, using default")
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue int, unit time.Duration, logger *logrus.Logger) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue, logger)) * unit
}
