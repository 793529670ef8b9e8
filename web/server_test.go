package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"api-vuln-dashboard/db"
	"api-vuln-dashboard/models"
	"api-vuln-dashboard/scanner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestServer creates a test server backed by a temporary sqlite database
func setupTestServer(t *testing.T, zap *fakeScanner) (*AppServer, *db.Database, func()) {
	tempDir, err := os.MkdirTemp("", "web_test_*")
	require.NoError(t, err)

	database, err := db.NewDatabase("sqlite3", filepath.Join(tempDir, "test.db")+"?_foreign_keys=on&_busy_timeout=5000")
	require.NoError(t, err)

	var server *AppServer
	if zap != nil {
		zap.inputDir = filepath.Join(tempDir, "openapi")
		require.NoError(t, os.MkdirAll(zap.inputDir, 0755))
		server = NewAppServer(database, "0", zap, zap)
	} else {
		server = NewAppServer(database, "0", nil, nil)
	}

	cleanup := func() {
		database.Close()
		os.RemoveAll(tempDir)
	}
	return server, database, cleanup
}

// createTestData stores two scans of one URL and one of another
func createTestData(t *testing.T, database *db.Database) (int, int) {
	ctx := context.Background()
	tx, err := database.BeginIngest(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	toolID, err := tx.EnsureTool(ctx, "ZAP")
	require.NoError(t, err)

	insert := func(url string, date time.Time, active bool, findings map[string][]int) int {
		scan := &models.Scan{Date: date, URL: url, Active: active, ToolID: toolID}
		require.NoError(t, tx.InsertScan(ctx, scan))
		for name, categories := range findings {
			v := &models.Vulnerability{Name: name, ScanID: scan.ID, Priority: models.PriorityHigh, Count: 1, IsNew: true}
			require.NoError(t, tx.InsertVulnerability(ctx, v))
			require.NoError(t, tx.LinkCategories(ctx, v.ID, categories))
		}
		return scan.ID
	}

	first := insert("https://x.test", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), false,
		map[string][]int{"SQL Injection": {1, 3}})
	second := insert("https://x.test", time.Date(2024, 1, 11, 9, 0, 0, 0, time.UTC), true,
		map[string][]int{"SQL Injection": {1, 3}, "CSP Header Not Set": {8}})
	insert("https://y.test", time.Date(2024, 1, 11, 10, 0, 0, 0, time.UTC), false, nil)

	require.NoError(t, tx.Commit())
	return first, second
}

func doRequest(t *testing.T, server *AppServer, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func get(t *testing.T, server *AppServer, url string) (int, []byte) {
	return doRequest(t, server, httptest.NewRequest(http.MethodGet, url, nil))
}

func postJSON(t *testing.T, server *AppServer, url string, payload any) (int, []byte) {
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return doRequest(t, server, req)
}

func errorMessage(t *testing.T, body []byte) string {
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	msg, _ := payload["error"].(string)
	return msg
}

func TestHealthEndpoints(t *testing.T) {
	server, _, cleanup := setupTestServer(t, nil)
	defer cleanup()

	status, body := get(t, server, "/api/v1/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"ok"`)

	status, body = get(t, server, "/api/v1/health/db")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"driver":"sqlite3"`)
}

func TestScansEndpoint(t *testing.T) {
	server, database, cleanup := setupTestServer(t, nil)
	defer cleanup()
	first, second := createTestData(t, database)

	status, body := get(t, server, "/api/v1/scans")
	require.Equal(t, http.StatusOK, status)
	var scans []map[string]any
	require.NoError(t, json.Unmarshal(body, &scans))
	require.Len(t, scans, 3)
	assert.Equal(t, "ZAP", scans[0]["tool_name"])
	assert.Contains(t, scans[0], "active_scan")
	assert.NotContains(t, scans[0], "tool_id")

	status, body = get(t, server, "/api/v1/scans?scan_url=https://x.test")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &scans))
	require.Len(t, scans, 2)
	assert.Equal(t, float64(second), scans[0]["scan_id"])
	assert.Equal(t, float64(first), scans[1]["scan_id"])

	status, body = get(t, server, "/api/v1/scans?scan_date=2024-01-11")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &scans))
	assert.Len(t, scans, 2)

	status, body = get(t, server, "/api/v1/scans?scan_date=11.01.2024")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, errorMessage(t, body), "YYYY-MM-DD")
}

func TestScanDetailEndpoint(t *testing.T) {
	server, database, cleanup := setupTestServer(t, nil)
	defer cleanup()
	first, _ := createTestData(t, database)

	status, body := get(t, server, fmt.Sprintf("/api/v1/scans/%d", first))
	require.Equal(t, http.StatusOK, status)
	var scan models.Scan
	require.NoError(t, json.Unmarshal(body, &scan))
	assert.Equal(t, "https://x.test", scan.URL)

	status, _ = get(t, server, "/api/v1/scans/9999")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = get(t, server, "/api/v1/scans/abc")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestVulnerabilitiesEndpoint(t *testing.T) {
	server, database, cleanup := setupTestServer(t, nil)
	defer cleanup()
	first, _ := createTestData(t, database)

	status, body := get(t, server, "/api/v1/vulnerabilities?scan_url=https://x.test")
	require.Equal(t, http.StatusOK, status)
	var vulns []models.VulnerabilityView
	require.NoError(t, json.Unmarshal(body, &vulns))
	// SQL Injection twice per scan (two categories) plus one CSP row
	assert.Len(t, vulns, 5)

	status, body = get(t, server, fmt.Sprintf("/api/v1/vulnerabilities?scan_id=%d", first))
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &vulns))
	require.Len(t, vulns, 2)
	assert.Equal(t, "SQL Injection", vulns[0].Name)
	assert.Equal(t, "High", vulns[0].PriorityName)

	status, _ = get(t, server, "/api/v1/vulnerabilities?scan_id=abc")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = get(t, server, "/api/v1/vulnerabilities?scan_url=https://unknown.test")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "[]", string(body))
}

func TestVulnerabilityTrendEndpoint(t *testing.T) {
	server, database, cleanup := setupTestServer(t, nil)
	defer cleanup()
	createTestData(t, database)

	status, body := get(t, server, "/api/v1/vulnerability_trend?scan_url=https://x.test")
	require.Equal(t, http.StatusOK, status)

	var trend map[string][]any
	require.NoError(t, json.Unmarshal(body, &trend))
	assert.Equal(t, []any{"2024-01-01", "2024-01-11"}, trend["scan_date"])
	assert.Equal(t, []any{false, true}, trend["scan_active"])
	assert.Equal(t, []any{float64(1), float64(1)}, trend["API1 - Broken Object Level Authorization"])
	assert.Equal(t, []any{float64(0), float64(1)}, trend["API8 - Security Misconfiguration"])
	assert.NotContains(t, trend, "API2 - Broken Authentication")
	assert.Len(t, trend, 5)

	status, body = get(t, server, "/api/v1/vulnerability_trend")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Missing scan_url parameter", errorMessage(t, body))

	status, body = get(t, server, "/api/v1/vulnerability_trend?scan_url=https://y.test")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"scan_date":[],"scan_active":[]}`, string(body))
}

func TestCategoriesEndpoint(t *testing.T) {
	server, _, cleanup := setupTestServer(t, nil)
	defer cleanup()

	status, body := get(t, server, "/api/v1/categories")
	require.Equal(t, http.StatusOK, status)
	var categories []models.Category
	require.NoError(t, json.Unmarshal(body, &categories))
	assert.Len(t, categories, 11)
}

func TestCustomisationEndpoints(t *testing.T) {
	server, database, cleanup := setupTestServer(t, nil)
	defer cleanup()

	user, err := database.GetUserByEmail(context.Background(), "example@email.com")
	require.NoError(t, err)

	status, body := get(t, server, fmt.Sprintf("/api/v1/customisation?user_id=%d", user.ID))
	require.Equal(t, http.StatusOK, status)
	var weights []models.RiskWeight
	require.NoError(t, json.Unmarshal(body, &weights))
	require.Len(t, weights, 10)
	assert.Equal(t, "API1 - Broken Object Level Authorization", weights[0].Category)
	assert.Equal(t, 10, weights[0].Weight)

	status, body = postJSON(t, server, "/api/v1/customisation", []map[string]any{
		{"user_id": user.ID, "owasp_cat": "API1 - Broken Object Level Authorization", "weight": 40},
	})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.JSONEq(t, `{"status":"success"}`, string(body))

	status, body = get(t, server, "/api/v1/customisation?owasp_cat=API1%20-%20Broken%20Object%20Level%20Authorization")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &weights))
	require.Len(t, weights, 1)
	assert.Equal(t, 40, weights[0].Weight)

	t.Run("unknown category", func(t *testing.T) {
		status, _ := postJSON(t, server, "/api/v1/customisation", []map[string]any{
			{"user_id": user.ID, "owasp_cat": "API99 - Unknown", "weight": 1},
		})
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("invalid payloads", func(t *testing.T) {
		status, _ := postJSON(t, server, "/api/v1/customisation", []map[string]any{})
		assert.Equal(t, http.StatusBadRequest, status)

		status, _ = postJSON(t, server, "/api/v1/customisation", map[string]any{"user_id": 1})
		assert.Equal(t, http.StatusBadRequest, status)

		status, _ = postJSON(t, server, "/api/v1/customisation", []map[string]any{{"weight": 3}})
		assert.Equal(t, http.StatusBadRequest, status)

		status, _ = get(t, server, "/api/v1/customisation?user_id=x")
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestScanTriggerNotRegisteredWithoutScanner(t *testing.T) {
	server, _, cleanup := setupTestServer(t, nil)
	defer cleanup()

	status, body := postJSON(t, server, "/api/v1/run-passive-scan", map[string]string{"url": "https://x.test"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, errorMessage(t, body))
}

func TestRunPassiveScanEndpoint(t *testing.T) {
	zap := &fakeScanner{result: &scanner.ScanResult{ReportFile: "output/api-passive-scan-report_1.json", URLs: 7}}
	server, _, cleanup := setupTestServer(t, zap)
	defer cleanup()

	status, body := postJSON(t, server, "/api/v1/run-passive-scan", map[string]string{"url": "https://x.test"})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), "URL successfully scanned")
	assert.Equal(t, []string{"https://x.test"}, zap.passive)
	assert.Equal(t, []string{"passive https://x.test <nil>"}, zap.notified)

	status, body = postJSON(t, server, "/api/v1/run-passive-scan", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "URL is missing", errorMessage(t, body))
}

func TestRunPassiveScanEndpoint_Failures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"timeout", fmt.Errorf("%w after 10m0s", scanner.ErrTimeout), http.StatusGatewayTimeout},
		{"scan failed", &scanner.ScanError{ExitCode: 3, Stderr: "connection refused"}, http.StatusInternalServerError},
		{"docker missing", os.ErrNotExist, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			zap := &fakeScanner{err: tt.err}
			server, _, cleanup := setupTestServer(t, zap)
			defer cleanup()

			status, body := postJSON(t, server, "/api/v1/run-passive-scan", map[string]string{"url": "https://x.test"})
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, errorMessage(t, body))
			assert.Len(t, zap.notified, 1)
		})
	}
}

func multipartRequest(t *testing.T, field, filename, content string) *http.Request {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/run-active-scan", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestRunActiveScanEndpoint(t *testing.T) {
	zap := &fakeScanner{result: &scanner.ScanResult{ReportFile: "output/api-active-scan-report_1.json"}}
	server, _, cleanup := setupTestServer(t, zap)
	defer cleanup()

	status, body := doRequest(t, server, multipartRequest(t, "file", "petstore.yaml", "openapi: 3.0.0"))
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, []string{"petstore.yaml"}, zap.active)

	stored, err := os.ReadFile(filepath.Join(zap.inputDir, "petstore.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "openapi: 3.0.0", string(stored))

	status, body = doRequest(t, server, multipartRequest(t, "file", "notes.txt", "hello"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "File type not allowed", errorMessage(t, body))

	status, body = doRequest(t, server, multipartRequest(t, "", "", ""))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No file part", errorMessage(t, body))

	// Path components of the upload name are dropped
	status, _ = doRequest(t, server, multipartRequest(t, "file", "../../evil.json", "{}"))
	require.Equal(t, http.StatusOK, status)
	assert.FileExists(t, filepath.Join(zap.inputDir, "evil.json"))
}

type fakeScanner struct {
	inputDir string
	result   *scanner.ScanResult
	err      error

	passive  []string
	active   []string
	notified []string
}

func (f *fakeScanner) RunPassive(ctx context.Context, target string) (*scanner.ScanResult, error) {
	f.passive = append(f.passive, target)
	return f.result, f.err
}

func (f *fakeScanner) RunActive(ctx context.Context, definition string) (*scanner.ScanResult, error) {
	f.active = append(f.active, definition)
	return f.result, f.err
}

func (f *fakeScanner) InputDir() string {
	return f.inputDir
}

func (f *fakeScanner) NotifyScanFinished(mode, target string, scanErr error) error {
	f.notified = append(f.notified, fmt.Sprintf("%s %s %v", mode, target, scanErr))
	return nil
}

func TestAppServer_RunStopsWhenContextDone(t *testing.T) {
	database, err := db.NewDatabase("sqlite3", filepath.Join(t.TempDir(), "test.db")+"?_foreign_keys=on&_busy_timeout=5000")
	require.NoError(t, err)
	defer database.Close()

	// reserve a free port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := fmt.Sprint(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())

	server := NewAppServer(database, port, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + port + "/api/v1/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
