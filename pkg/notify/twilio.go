package notify

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"guardian-server/pkg/errors"
)

const defaultTwilioAPIBase = "https://api.twilio.com"

// TwilioConfig holds the telephony channel settings
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	ToNumber   string
	// APIBase overrides the Twilio API endpoint, used by tests
	APIBase string
}

// TwilioChannel notifies the caregiver by placing a voice call that reads
// the alert out loud. A phone ringing gets attention a chat message may
// not, which is why the telephony channel exists alongside the bot.
type TwilioChannel struct {
	config TwilioConfig
	client *http.Client
	logger *logrus.Logger
}

// NewTwilioChannel creates the telephony channel
func NewTwilioChannel(config TwilioConfig, logger *logrus.Logger) *TwilioChannel {
	if config.APIBase == "" {
		config.APIBase = defaultTwilioAPIBase
	}

	if !configured(config) {
		logger.Warn("Twilio credentials not fully set, telephony channel will report failures")
	}

	return &TwilioChannel{
		config: config,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

func configured(config TwilioConfig) bool {
	return config.AccountSID != "" && config.AuthToken != "" &&
		config.FromNumber != "" && config.ToNumber != ""
}

// Name returns the channel identifier used in audit records and metrics
func (t *TwilioChannel) Name() string {
	return "voice_call"
}

// Enabled reports whether credentials are configured
func (t *TwilioChannel) Enabled() bool {
	return configured(t.config)
}

// Send places the alert call
func (t *TwilioChannel) Send(ctx context.Context, alert Alert) Outcome {
	outcome := Outcome{Channel: t.Name()}

	if !t.Enabled() {
		outcome.Error = errors.NewChannelNotConfigured(t.Name()).Error()
		return outcome
	}

	form := url.Values{}
	form.Set("To", t.config.ToNumber)
	form.Set("From", t.config.FromNumber)
	form.Set("Twiml", t.buildTwiml(alert))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", t.config.APIBase, t.config.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		outcome.Error = fmt.Sprintf("failed to create call request: %v", err)
		return outcome
	}
	req.SetBasicAuth(t.config.AccountSID, t.config.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.WithError(err).WithField("alert_id", alert.AlertID).Error("Failed to reach twilio API")
		outcome.Error = fmt.Sprintf("failed to reach twilio API: %v", err)
		return outcome
	}
	defer resp.Body.Close()

	var response struct {
		SID     string `json:"sid"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		outcome.Error = fmt.Sprintf("failed to decode twilio response (status %d): %v", resp.StatusCode, err)
		return outcome
	}

	if resp.StatusCode != http.StatusCreated {
		t.logger.WithFields(logrus.Fields{
			"alert_id": alert.AlertID,
			"status":   resp.StatusCode,
			"message":  response.Message,
		}).Error("Twilio API rejected call")
		outcome.Error = fmt.Sprintf("twilio API returned status %d: %s", resp.StatusCode, response.Message)
		return outcome
	}

	outcome.Delivered = true
	outcome.Reference = response.SID

	t.logger.WithFields(logrus.Fields{
		"alert_id": alert.AlertID,
		"call_sid": response.SID,
	}).Info("Alert call placed")

	return outcome
}

// buildTwiml produces the spoken alert. The text is repeated once because
// the first seconds of a call are often missed.
func (t *TwilioChannel) buildTwiml(alert Alert) string {
	var spoken strings.Builder
	spoken.WriteString("This is an automated emergency alert. ")
	spoken.WriteString(summaryLine(alert))
	spoken.WriteString(". Please check on them immediately.")

	var escaped strings.Builder
	_ = xml.EscapeText(&escaped, []byte(spoken.String()))

	say := escaped.String()
	return fmt.Sprintf("<Response><Say voice=\"alice\">%s</Say><Pause length=\"1\"/><Say voice=\"alice\">%s</Say></Response>", say, say)
}
