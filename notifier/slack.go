// Package notifier sends operator alerts to a Slack incoming webhook.
package notifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"api-vuln-dashboard/config"
	"api-vuln-dashboard/mapping"
	"api-vuln-dashboard/report"
)

// SlackNotifier handles Slack notifications
type SlackNotifier struct {
	enabled    bool
	webhookURL string
	username   string
	channel    string
	iconEmoji  string
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
	now        func() time.Time
}

// NewSlackNotifier creates a new Slack notifier instance
func NewSlackNotifier(webhookURL, username, channel, iconEmoji string) *SlackNotifier {
	return &SlackNotifier{
		enabled:    true,
		webhookURL: webhookURL,
		username:   username,
		channel:    channel,
		iconEmoji:  iconEmoji,
		maxRetries: 3,
		retryDelay: time.Second * 2,
		httpClient: &http.Client{
			Timeout: time.Second * 30,
		},
		now: time.Now,
	}
}

// FromConfig creates a notifier that is a no-op unless Slack is enabled
func FromConfig(cfg config.NotificationConfig) *SlackNotifier {
	sn := NewSlackNotifier(cfg.SlackWebhookURL, cfg.SlackUsername, cfg.SlackChannel, ":rotating_light:")
	sn.enabled = cfg.SlackEnabled
	return sn
}

// Enabled reports whether messages are actually sent
func (sn *SlackNotifier) Enabled() bool {
	return sn.enabled
}

// SlackMessage represents a Slack message structure
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Username    string            `json:"username,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NotifyIngestFailure reports a report file whose ingestion was rolled back
func (sn *SlackNotifier) NotifyIngestFailure(file string, err error) error {
	if !sn.enabled {
		return nil
	}

	kind, action := classify(err)
	message := &SlackMessage{
		Text:      fmt.Sprintf(":x: Report `%s` was not ingested", filepath.Base(file)),
		Username:  sn.username,
		Channel:   sn.channel,
		IconEmoji: sn.iconEmoji,
		Attachments: []SlackAttachment{{
			Color: "danger",
			Title: kind,
			Text:  truncate(err.Error(), 500),
			Fields: []SlackField{
				{Title: "File", Value: file, Short: false},
				{Title: "Action", Value: action, Short: false},
			},
			Footer:    "API Vulnerability Dashboard",
			Timestamp: sn.now().Unix(),
		}},
	}
	return sn.sendMessage(message)
}

// NotifyScanFinished reports the outcome of a triggered ZAP scan
func (sn *SlackNotifier) NotifyScanFinished(mode, target string, scanErr error) error {
	if !sn.enabled {
		return nil
	}

	if mode != "" {
		mode = strings.ToUpper(mode[:1]) + mode[1:]
	}
	attachment := SlackAttachment{
		Color:     "good",
		Title:     fmt.Sprintf("%s scan of %s finished", mode, target),
		Footer:    "API Vulnerability Dashboard",
		Timestamp: sn.now().Unix(),
	}
	if scanErr != nil {
		attachment.Color = "danger"
		attachment.Title = fmt.Sprintf("%s scan of %s failed", mode, target)
		attachment.Text = truncate(scanErr.Error(), 500)
	}

	return sn.sendMessage(&SlackMessage{
		Username:    sn.username,
		Channel:     sn.channel,
		IconEmoji:   sn.iconEmoji,
		Attachments: []SlackAttachment{attachment},
	})
}

// classify names the failure kind and what the operator has to do about it
func classify(err error) (kind, action string) {
	switch {
	case errors.Is(err, mapping.ErrUnmapped):
		return "Unmapped vulnerability", "Add the vulnerability to the OWASP mapping table and resubmit the report."
	case errors.Is(err, report.ErrMalformed):
		return "Malformed report", "Check the scanner output and resubmit a valid report."
	default:
		return "Storage error", "Check the database and resubmit the report."
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// sendMessage sends a message to Slack with retry logic
func (sn *SlackNotifier) sendMessage(message *SlackMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= sn.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(sn.retryDelay)
		}
		attempts++

		resp, err := sn.httpClient.Post(sn.webhookURL, "application/json", bytes.NewBuffer(payload))
		if err != nil {
			lastErr = fmt.Errorf("failed to send request: %w", err)
			continue
		}

		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			return nil
		}

		lastErr = fmt.Errorf("slack API returned status %d", resp.StatusCode)

		// Don't retry for client errors
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			break
		}
	}

	return fmt.Errorf("failed to send Slack notification after %d attempt(s): %w", attempts, lastErr)
}

// ValidateConfiguration validates the Slack notifier configuration
func (sn *SlackNotifier) ValidateConfiguration() error {
	if sn.webhookURL == "" {
		return fmt.Errorf("Slack webhook URL is required")
	}

	if !strings.HasPrefix(sn.webhookURL, "https://hooks.slack.com/") {
		return fmt.Errorf("invalid Slack webhook URL format")
	}

	return nil
}

// TestConnection tests the Slack connection by sending a test message
func (sn *SlackNotifier) TestConnection() error {
	if err := sn.ValidateConfiguration(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	return sn.sendMessage(&SlackMessage{
		Text:      ":test_tube: API Vulnerability Dashboard test message",
		Username:  sn.username,
		Channel:   sn.channel,
		IconEmoji: sn.iconEmoji,
	})
}
