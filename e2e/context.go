package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// TestContext carries one scenario's HTTP client, last response, and the
// user and plan the scenario is working on.
type TestContext struct {
	BaseURL          string
	AdminToken       string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	UserID string
	PlanID string
}

func NewTestContext() *TestContext {
	return &TestContext{
		BaseURL:    envOr("BASE_URL", "http://localhost:8080"),
		AdminToken: envOr("ADMIN_API_TOKEN", "local-admin-token"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.POSTWithHeaders(path, body, nil)
}

func (tc *TestContext) POSTWithHeaders(path string, body interface{}, headers map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	return tc.send(http.MethodPost, path, bytes.NewReader(data), headers)
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.send(http.MethodGet, path, nil, headers)
}

// send performs the request and keeps the response for the assertion steps.
func (tc *TestContext) send(method, path string, body io.Reader, headers map[string]string) error {
	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s response: %w", method, path, err)
	}
	return nil
}

// GetResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}
	return value, nil
}

// ResponseContains reports whether the raw body mentions text.
func (tc *TestContext) ResponseContains(text string) bool {
	return strings.Contains(string(tc.LastResponseBody), text)
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

func (tc *TestContext) GetLastResponseBody() []byte { return tc.LastResponseBody }
func (tc *TestContext) GetAdminToken() string       { return tc.AdminToken }
func (tc *TestContext) GetUserID() string           { return tc.UserID }
func (tc *TestContext) SetUserID(userID string)     { tc.UserID = userID }
func (tc *TestContext) GetPlanID() string           { return tc.PlanID }
func (tc *TestContext) SetPlanID(planID string)     { tc.PlanID = planID }
