//go:build e2e

// Package e2e contains end-to-end tests that require running agents, a Splunk
// instance and an LLM key.
//
// Run with: go test -tags e2e -timeout 300s -v ./testing/e2e/...
//
// Environment variables:
//   - E2E_ROUTER_URL: routing agent base URL (default: http://localhost:8083)
//   - E2E_INVENTORY_URL: inventory agent base URL (default: http://localhost:8080)
//   - E2E_QUERY_URL: query agent base URL (default: http://localhost:8082)
//   - E2E_JIRA_URL: Jira agent base URL (optional)
package e2e

import (
	"net/http"
	"os"
	"testing"
	"time"
)

// Config holds E2E test configuration from environment.
type Config struct {
	RouterURL    string
	InventoryURL string
	QueryURL     string
	JiraURL      string
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		RouterURL:    getEnvDefault("E2E_ROUTER_URL", "http://localhost:8083"),
		InventoryURL: getEnvDefault("E2E_INVENTORY_URL", "http://localhost:8080"),
		QueryURL:     getEnvDefault("E2E_QUERY_URL", "http://localhost:8082"),
		JiraURL:      os.Getenv("E2E_JIRA_URL"),
	}
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// RequireAPIKey skips the test if no LLM API key is available.
func RequireAPIKey(t *testing.T) {
	t.Helper()
	if os.Getenv("SPLUNKDESK_API_KEY") == "" {
		t.Skip("SPLUNKDESK_API_KEY not set")
	}
}

// RequireAgent skips the test if the agent at baseURL is not serving.
func RequireAgent(t *testing.T, baseURL string) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/healthz")
	if err != nil {
		t.Skipf("agent not reachable at %s: %v", baseURL, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Skipf("agent at %s returned %d", baseURL, resp.StatusCode)
	}
}
