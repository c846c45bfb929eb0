package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"guardian-server/pkg/errors"
)

const defaultTelegramAPIBase = "https://api.telegram.org"

// TelegramConfig holds the messenger-bot channel settings
type TelegramConfig struct {
	BotToken string
	ChatID   string
	// APIBase overrides the Telegram API endpoint, used by tests
	APIBase string
}

// TelegramChannel notifies the caregiver through a Telegram bot message.
// Location, when present, is sent as a separate best-effort pin.
type TelegramChannel struct {
	config TelegramConfig
	client *http.Client
	logger *logrus.Logger
}

// NewTelegramChannel creates the messenger-bot channel. An unconfigured
// channel is still constructed; it reports delivery failure with a
// descriptive error so the orchestrator can degrade instead of crash.
func NewTelegramChannel(config TelegramConfig, logger *logrus.Logger) *TelegramChannel {
	if config.APIBase == "" {
		config.APIBase = defaultTelegramAPIBase
	}

	if config.BotToken == "" || config.ChatID == "" {
		logger.Warn("TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID not set, telegram channel will report failures")
	}

	return &TelegramChannel{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Name returns the channel identifier used in audit records and metrics
func (t *TelegramChannel) Name() string {
	return "telegram"
}

// Enabled reports whether credentials are configured
func (t *TelegramChannel) Enabled() bool {
	return t.config.BotToken != "" && t.config.ChatID != ""
}

// Send delivers the alert text and, when available, a location pin
func (t *TelegramChannel) Send(ctx context.Context, alert Alert) Outcome {
	outcome := Outcome{Channel: t.Name()}

	if !t.Enabled() {
		outcome.Error = errors.NewChannelNotConfigured(t.Name()).Error()
		return outcome
	}

	messageID, err := t.sendMessage(ctx, t.buildText(alert))
	if err != nil {
		t.logger.WithError(err).WithField("alert_id", alert.AlertID).Error("Failed to send telegram alert")
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Delivered = true
	outcome.Reference = strconv.FormatInt(messageID, 10)

	if alert.Location != nil {
		if err := t.sendLocation(ctx, alert.Location.Lat, alert.Location.Lng); err != nil {
			// The text already went through; a missing pin is not a failed alert
			t.logger.WithError(err).Warning("Failed to send telegram location pin")
		}
	}

	t.logger.WithFields(logrus.Fields{
		"alert_id":   alert.AlertID,
		"message_id": messageID,
	}).Info("Telegram alert delivered")

	return outcome
}

func (t *TelegramChannel) buildText(alert Alert) string {
	text := "EMERGENCY ALERT\n" + summaryLine(alert)
	if alert.Message != "" {
		text += fmt.Sprintf("\nTheir message: %q", alert.Message)
	}
	if alert.CaregiverName != "" {
		text += fmt.Sprintf("\n%s, please check on them now.", alert.CaregiverName)
	} else {
		text += "\nPlease check on them now."
	}
	text += "\nSent " + alert.Timestamp.Format(time.RFC1123)
	return text
}

func (t *TelegramChannel) sendMessage(ctx context.Context, text string) (int64, error) {
	payload := map[string]interface{}{
		"chat_id": t.config.ChatID,
		"text":    text,
	}

	var response struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
		Description string `json:"description"`
	}

	if err := t.post(ctx, "sendMessage", payload, &response); err != nil {
		return 0, err
	}
	if !response.OK {
		return 0, fmt.Errorf("telegram API rejected message: %s", response.Description)
	}

	return response.Result.MessageID, nil
}

func (t *TelegramChannel) sendLocation(ctx context.Context, lat, lng float64) error {
	payload := map[string]interface{}{
		"chat_id":   t.config.ChatID,
		"latitude":  lat,
		"longitude": lng,
	}

	var response struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}

	if err := t.post(ctx, "sendLocation", payload, &response); err != nil {
		return err
	}
	if !response.OK {
		return fmt.Errorf("telegram API rejected location: %s", response.Description)
	}
	return nil
}

func (t *TelegramChannel) post(ctx context.Context, method string, payload interface{}, response interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.config.APIBase, t.config.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach telegram API: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("failed to decode telegram response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
