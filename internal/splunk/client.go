// Package splunk is a small client for the Splunk management REST API and
// the HTTP Event Collector.
package splunk

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// Config describes how to reach the Splunk management port.
type Config struct {
	Host        string
	Port        string
	Username    string
	Password    string
	InsecureTLS bool

	// BaseURL overrides Host and Port, e.g. "https://splunk:8089".
	BaseURL string
	Timeout time.Duration
}

// ConfigFromEnv reads SPLUNK_HOST, SPLUNK_MGMT_PORT, SPLUNK_USERNAME,
// SPLUNK_PASSWORD and SPLUNK_INSECURE_TLS.
func ConfigFromEnv() Config {
	cfg := Config{
		Host:        envOr("SPLUNK_HOST", "localhost"),
		Port:        envOr("SPLUNK_MGMT_PORT", "8089"),
		Username:    envOr("SPLUNK_USERNAME", "admin"),
		Password:    os.Getenv("SPLUNK_PASSWORD"),
		InsecureTLS: true,
	}
	if v := os.Getenv("SPLUNK_INSECURE_TLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.InsecureTLS = b
		}
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// StatusError is a non-2xx answer from Splunk.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("splunk: HTTP %d: %s", e.Code, e.Body)
}

// SearchError carries the FATAL and ERROR messages Splunk reported for a
// search, such as a syntax error in the SPL.
type SearchError struct {
	Messages []string
}

func (e *SearchError) Error() string {
	return "splunk: search failed: " + strings.Join(e.Messages, "; ")
}

// Client talks to the Splunk REST API.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	retry    retrypolicy.RetryPolicy[[]byte]
}

// NewClient creates a client from cfg.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s:%s", cfg.Host, cfg.Port)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed Splunk certs
	}

	return &Client{
		baseURL:  strings.TrimSuffix(base, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout, Transport: transport},
		retry: retrypolicy.NewBuilder[[]byte]().
			HandleIf(func(_ []byte, err error) bool { return retryable(err) }).
			WithMaxRetries(2).
			WithBackoff(200*time.Millisecond, 2*time.Second).
			ReturnLastFailure().
			Build(),
	}
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

// get performs a GET with output_mode=json, retrying transient failures.
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("output_mode", "json")
	u := c.baseURL + path + "?" + params.Encode()

	return failsafe.With[[]byte](c.retry).WithContext(ctx).Get(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		return c.do(req)
	})
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.SetBasicAuth(c.username, c.password)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// feed is the envelope Splunk wraps collection endpoints in.
type feed[T any] struct {
	Entry []entry[T] `json:"entry"`
}

type entry[T any] struct {
	Name string `json:"name"`
	ACL  struct {
		App   string `json:"app"`
		Owner string `json:"owner"`
	} `json:"acl"`
	Content T `json:"content"`
}

func getFeed[T any](ctx context.Context, c *Client, path string, params url.Values) ([]entry[T], error) {
	body, err := c.get(ctx, path, params)
	if err != nil {
		return nil, err
	}
	var f feed[T]
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("splunk: decode %s: %w", path, err)
	}
	return f.Entry, nil
}

// flexInt accepts numbers encoded as JSON numbers or strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	*f = flexInt(n)
	return nil
}

// flexBool accepts true/false, 1/0 and their string forms.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(strings.Trim(string(b), `"`)) {
	case "1", "true":
		*f = true
	default:
		*f = false
	}
	return nil
}

// Index describes one Splunk index.
type Index struct {
	Name               string `json:"name"`
	TotalEventCount    int64  `json:"total_event_count"`
	CurrentDBSizeMB    int64  `json:"current_db_size_mb"`
	MaxTotalDataSizeMB int64  `json:"max_total_data_size_mb"`
	Datatype           string `json:"datatype,omitempty"`
	MinTime            string `json:"min_time,omitempty"`
	MaxTime            string `json:"max_time,omitempty"`
	Disabled           bool   `json:"disabled"`
}

// Internal reports whether the index is a Splunk internal index.
func (i Index) Internal() bool {
	return strings.HasPrefix(i.Name, "_")
}

type indexContent struct {
	TotalEventCount    flexInt  `json:"totalEventCount"`
	CurrentDBSizeMB    flexInt  `json:"currentDBSizeMB"`
	MaxTotalDataSizeMB flexInt  `json:"maxTotalDataSizeMB"`
	Datatype           string   `json:"datatype"`
	MinTime            string   `json:"minTime"`
	MaxTime            string   `json:"maxTime"`
	Disabled           flexBool `json:"disabled"`
}

func (c indexContent) index(name string) Index {
	return Index{
		Name:               name,
		TotalEventCount:    int64(c.TotalEventCount),
		CurrentDBSizeMB:    int64(c.CurrentDBSizeMB),
		MaxTotalDataSizeMB: int64(c.MaxTotalDataSizeMB),
		Datatype:           c.Datatype,
		MinTime:            c.MinTime,
		MaxTime:            c.MaxTime,
		Disabled:           bool(c.Disabled),
	}
}

// ListIndexes returns every index visible to the configured user.
func (c *Client) ListIndexes(ctx context.Context) ([]Index, error) {
	entries, err := getFeed[indexContent](ctx, c, "/services/data/indexes", url.Values{"count": {"0"}})
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	out := make([]Index, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Content.index(e.Name))
	}
	return out, nil
}

// GetIndex returns a single index by name.
func (c *Client) GetIndex(ctx context.Context, name string) (*Index, error) {
	if name == "" {
		return nil, errors.New("index name is required")
	}
	entries, err := getFeed[indexContent](ctx, c, "/services/data/indexes/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, fmt.Errorf("get index %s: %w", name, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("index %s not found", name)
	}
	idx := entries[0].Content.index(entries[0].Name)
	return &idx, nil
}

// ServerInfo describes the Splunk instance.
type ServerInfo struct {
	ServerName   string   `json:"serverName"`
	Version      string   `json:"version"`
	Build        string   `json:"build"`
	OSName       string   `json:"os_name"`
	ProductType  string   `json:"product_type"`
	LicenseState string   `json:"licenseState"`
	HealthInfo   string   `json:"health_info"`
	ServerRoles  []string `json:"server_roles"`
}

// ServerInfo returns version and status information.
func (c *Client) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	entries, err := getFeed[ServerInfo](ctx, c, "/services/server/info", nil)
	if err != nil {
		return nil, fmt.Errorf("server info: %w", err)
	}
	if len(entries) == 0 {
		return nil, errors.New("server info: empty response")
	}
	info := entries[0].Content
	return &info, nil
}

// MetadataEntry is one row of the metadata search command.
type MetadataEntry struct {
	Name       string `json:"name"`
	TotalCount int64  `json:"total_count"`
	LastTime   string `json:"last_time,omitempty"`
}

// ListSourcetypes returns the sourcetypes seen in index ("*" for all).
func (c *Client) ListSourcetypes(ctx context.Context, index string) ([]MetadataEntry, error) {
	return c.metadata(ctx, "sourcetypes", "sourcetype", index)
}

// ListHosts returns the hosts seen in index ("*" for all).
func (c *Client) ListHosts(ctx context.Context, index string) ([]MetadataEntry, error) {
	return c.metadata(ctx, "hosts", "host", index)
}

func (c *Client) metadata(ctx context.Context, kind, field, index string) ([]MetadataEntry, error) {
	if index == "" {
		index = "*"
	}
	if err := ValidateIndexName(index); err != nil && index != "*" {
		return nil, err
	}
	spl := fmt.Sprintf("| metadata type=%s index=%s", kind, index)
	rows, err := c.Search(ctx, spl, "0", "now", 0)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	out := make([]MetadataEntry, 0, len(rows))
	for _, r := range rows {
		name := stringField(r, field)
		if name == "" {
			continue
		}
		count, _ := strconv.ParseInt(stringField(r, "totalCount"), 10, 64)
		out = append(out, MetadataEntry{Name: name, TotalCount: count, LastTime: stringField(r, "lastTime")})
	}
	return out, nil
}

func stringField(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// KVStoreCollection is a KV Store collection definition.
type KVStoreCollection struct {
	Name string `json:"name"`
	App  string `json:"app"`
}

// ListKVStoreCollections returns the KV Store collections across apps.
func (c *Client) ListKVStoreCollections(ctx context.Context) ([]KVStoreCollection, error) {
	entries, err := getFeed[json.RawMessage](ctx, c, "/servicesNS/nobody/-/storage/collections/config", url.Values{"count": {"0"}})
	if err != nil {
		return nil, fmt.Errorf("list kvstore collections: %w", err)
	}
	out := make([]KVStoreCollection, 0, len(entries))
	for _, e := range entries {
		out = append(out, KVStoreCollection{Name: e.Name, App: e.ACL.App})
	}
	return out, nil
}

// SavedSearch is a saved search or alert.
type SavedSearch struct {
	Name         string `json:"name"`
	App          string `json:"app"`
	Search       string `json:"search"`
	Description  string `json:"description,omitempty"`
	CronSchedule string `json:"cron_schedule,omitempty"`
	IsScheduled  bool   `json:"is_scheduled"`
	IsAlert      bool   `json:"is_alert"`
	Disabled     bool   `json:"disabled"`
}

type savedSearchContent struct {
	Search       string   `json:"search"`
	Description  string   `json:"description"`
	CronSchedule string   `json:"cron_schedule"`
	IsScheduled  flexBool `json:"is_scheduled"`
	AlertType    string   `json:"alert_type"`
	Disabled     flexBool `json:"disabled"`
}

// ListSavedSearches returns saved searches and alerts.
func (c *Client) ListSavedSearches(ctx context.Context) ([]SavedSearch, error) {
	entries, err := getFeed[savedSearchContent](ctx, c, "/servicesNS/-/-/saved/searches", url.Values{"count": {"0"}})
	if err != nil {
		return nil, fmt.Errorf("list saved searches: %w", err)
	}
	out := make([]SavedSearch, 0, len(entries))
	for _, e := range entries {
		out = append(out, SavedSearch{
			Name:         e.Name,
			App:          e.ACL.App,
			Search:       e.Content.Search,
			Description:  e.Content.Description,
			CronSchedule: e.Content.CronSchedule,
			IsScheduled:  bool(e.Content.IsScheduled),
			IsAlert:      e.Content.AlertType != "" && e.Content.AlertType != "always",
			Disabled:     bool(e.Content.Disabled),
		})
	}
	return out, nil
}

// Macro is a search macro definition.
type Macro struct {
	Name       string `json:"name"`
	App        string `json:"app"`
	Definition string `json:"definition"`
	Args       string `json:"args,omitempty"`
}

type macroContent struct {
	Definition string `json:"definition"`
	Args       string `json:"args"`
}

// ListMacros returns the search macros.
func (c *Client) ListMacros(ctx context.Context) ([]Macro, error) {
	entries, err := getFeed[macroContent](ctx, c, "/servicesNS/-/-/admin/macros", url.Values{"count": {"0"}})
	if err != nil {
		return nil, fmt.Errorf("list macros: %w", err)
	}
	out := make([]Macro, 0, len(entries))
	for _, e := range entries {
		out = append(out, Macro{Name: e.Name, App: e.ACL.App, Definition: e.Content.Definition, Args: e.Content.Args})
	}
	return out, nil
}

// Search runs spl through the export endpoint and returns the result rows.
// A limit of 0 returns every row. Searches are not retried.
func (c *Client) Search(ctx context.Context, spl, earliest, latest string, limit int) ([]map[string]any, error) {
	spl = strings.TrimSpace(spl)
	if spl == "" {
		return nil, errors.New("search: empty query")
	}
	if !strings.HasPrefix(spl, "|") && !strings.HasPrefix(spl, "search ") {
		spl = "search " + spl
	}
	form := url.Values{
		"search":      {spl},
		"output_mode": {"json"},
	}
	if earliest != "" {
		form.Set("earliest_time", earliest)
	}
	if latest != "" {
		form.Set("latest_time", latest)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/services/search/jobs/export", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	slog.Debug("splunk: running search", "spl", spl, "earliest", earliest, "latest", latest)
	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	rows, err := parseExport(body, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return rows, nil
}

// parseExport reads newline-delimited export output, keeping result rows.
// FATAL and ERROR messages in the stream are returned as a *SearchError.
func parseExport(body []byte, limit int) ([]map[string]any, error) {
	var (
		rows   []map[string]any
		failed []string
	)
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var row struct {
			Result   map[string]any `json:"result"`
			Messages []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"messages"`
		}
		if err := json.Unmarshal(line, &row); err != nil {
			continue
		}
		for _, m := range row.Messages {
			if t := strings.ToUpper(m.Type); t == "FATAL" || t == "ERROR" {
				failed = append(failed, m.Text)
			}
		}
		if row.Result == nil || (limit > 0 && len(rows) >= limit) {
			continue
		}
		rows = append(rows, row.Result)
	}
	if len(failed) > 0 {
		return nil, &SearchError{Messages: failed}
	}
	return rows, nil
}

// ValidateIndexName rejects names that could smuggle extra SPL.
func ValidateIndexName(name string) error {
	if name == "" {
		return errors.New("index name is required")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return fmt.Errorf("invalid index name %q", name)
		}
	}
	return nil
}
