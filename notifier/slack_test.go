package notifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"api-vuln-dashboard/config"
	"api-vuln-dashboard/mapping"
	"api-vuln-dashboard/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slackServer records the messages posted to it and answers with status
func slackServer(t *testing.T, status int) (*httptest.Server, func() []SlackMessage, *atomic.Int32) {
	t.Helper()
	var mu sync.Mutex
	var messages []SlackMessage
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var msg SlackMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		mu.Lock()
		messages = append(messages, msg)
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	recorded := func() []SlackMessage {
		mu.Lock()
		defer mu.Unlock()
		return append([]SlackMessage(nil), messages...)
	}
	return srv, recorded, &calls
}

func testNotifier(url string) *SlackNotifier {
	sn := NewSlackNotifier(url, "Vuln Dashboard", "#security", ":shield:")
	sn.retryDelay = time.Millisecond
	sn.now = func() time.Time { return time.Unix(1724315982, 0) }
	return sn
}

func TestNewSlackNotifier(t *testing.T) {
	sn := NewSlackNotifier("https://hooks.slack.com/test", "Vuln Dashboard", "#security", ":shield:")

	assert.True(t, sn.Enabled())
	assert.Equal(t, "https://hooks.slack.com/test", sn.webhookURL)
	assert.Equal(t, "Vuln Dashboard", sn.username)
	assert.Equal(t, "#security", sn.channel)
	assert.Equal(t, 3, sn.maxRetries)
}

func TestFromConfig_DisabledIsNoop(t *testing.T) {
	srv, messages, _ := slackServer(t, http.StatusOK)

	sn := FromConfig(config.NotificationConfig{SlackEnabled: false, SlackWebhookURL: srv.URL})
	assert.False(t, sn.Enabled())

	assert.NoError(t, sn.NotifyIngestFailure("report.json", errors.New("boom")))
	assert.NoError(t, sn.NotifyScanFinished("passive", "https://x.test", nil))
	assert.Empty(t, messages())
}

func TestSlackNotifier_NotifyIngestFailure(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		title string
	}{
		{"unmapped", fmt.Errorf("failed to categorise: %w", &mapping.UnmappedError{Name: "Foo"}), "Unmapped vulnerability"},
		{"malformed", &report.ParseError{Field: "@generated", Reason: "missing"}, "Malformed report"},
		{"storage", errors.New("connection reset"), "Storage error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, messages, _ := slackServer(t, http.StatusOK)
			sn := testNotifier(srv.URL)

			require.NoError(t, sn.NotifyIngestFailure("/data/output/api-passive-scan-report_1.json", tt.err))
			require.Len(t, messages(), 1)

			msg := messages()[0]
			assert.Equal(t, "#security", msg.Channel)
			assert.Contains(t, msg.Text, "api-passive-scan-report_1.json")
			require.Len(t, msg.Attachments, 1)
			assert.Equal(t, "danger", msg.Attachments[0].Color)
			assert.Equal(t, tt.title, msg.Attachments[0].Title)
			assert.Equal(t, tt.err.Error(), msg.Attachments[0].Text)
			assert.Equal(t, int64(1724315982), msg.Attachments[0].Timestamp)
		})
	}
}

func TestSlackNotifier_NotifyScanFinished(t *testing.T) {
	srv, messages, _ := slackServer(t, http.StatusOK)
	sn := testNotifier(srv.URL)

	require.NoError(t, sn.NotifyScanFinished("passive", "https://x.test", nil))
	require.NoError(t, sn.NotifyScanFinished("active", "petstore.yaml", errors.New("scan timed out")))
	got := messages()
	require.Len(t, got, 2)

	assert.Equal(t, "good", got[0].Attachments[0].Color)
	assert.Equal(t, "Passive scan of https://x.test finished", got[0].Attachments[0].Title)
	assert.Equal(t, "danger", got[1].Attachments[0].Color)
	assert.Equal(t, "Active scan of petstore.yaml failed", got[1].Attachments[0].Title)
	assert.Equal(t, "scan timed out", got[1].Attachments[0].Text)
}

func TestSlackNotifier_RetriesServerErrors(t *testing.T) {
	srv, _, calls := slackServer(t, http.StatusInternalServerError)
	sn := testNotifier(srv.URL)

	err := sn.NotifyIngestFailure("report.json", errors.New("boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 4 attempt(s)")
	assert.Equal(t, int32(4), calls.Load())
}

func TestSlackNotifier_DoesNotRetryClientErrors(t *testing.T) {
	srv, _, calls := slackServer(t, http.StatusNotFound)
	sn := testNotifier(srv.URL)

	err := sn.NotifyIngestFailure("report.json", errors.New("boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "after 1 attempt(s)")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSlackNotifier_ValidateConfiguration(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://hooks.slack.com/services/T000/B000/XXXX", false},
		{"", true},
		{"https://example.com/webhook", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := NewSlackNotifier(tt.url, "", "", "").ValidateConfiguration()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// rewriteTransport sends every request to target, whatever host it names
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func TestSlackNotifier_TestConnection(t *testing.T) {
	t.Run("invalid webhook", func(t *testing.T) {
		srv, _, calls := slackServer(t, http.StatusOK)
		err := testNotifier(srv.URL).TestConnection()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration validation failed")
		assert.Zero(t, calls.Load())
	})

	t.Run("sends test message", func(t *testing.T) {
		srv, messages, _ := slackServer(t, http.StatusOK)
		target, err := url.Parse(srv.URL)
		require.NoError(t, err)

		sn := testNotifier("https://hooks.slack.com/services/T000/B000/XXXX")
		sn.httpClient = &http.Client{Transport: rewriteTransport{target: target}}

		require.NoError(t, sn.TestConnection())
		got := messages()
		require.Len(t, got, 1)
		assert.Contains(t, got[0].Text, "test message")
		assert.Equal(t, "#security", got[0].Channel)
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
