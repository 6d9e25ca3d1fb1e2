// Package discovery provides agent card fetching and parsing for A2A agents.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// CardPath is where every agent publishes its card.
const CardPath = "/.well-known/agent-card.json"

const fetchTimeout = 5 * time.Second

// Agent holds the discovered agent metadata.
type Agent struct {
	Name      string
	BaseURL   string
	InvokeURL string
	Card      *a2a.AgentCard
}

// errPermanent marks card fetch failures that retrying will not fix.
var errPermanent = errors.New("permanent")

// Discover fetches agent cards from a list of base URLs and returns them in
// input order. Agents that cannot be reached are logged and skipped, as are
// agents whose name was already taken by an earlier URL.
func Discover(ctx context.Context, baseURLs []string) ([]*Agent, error) {
	client := &http.Client{Timeout: fetchTimeout}
	retry := retrypolicy.NewBuilder[*a2a.AgentCard]().
		WithMaxRetries(2).
		WithBackoff(200*time.Millisecond, time.Second).
		AbortOnErrors(errPermanent).
		ReturnLastFailure().
		Build()

	var agents []*Agent
	seen := make(map[string]bool)

	for _, raw := range baseURLs {
		baseURL := strings.TrimSuffix(strings.TrimSpace(raw), "/")
		if baseURL == "" {
			continue
		}
		cardURL := baseURL + CardPath
		slog.Info("discovering agent", "url", cardURL)

		card, err := failsafe.With[*a2a.AgentCard](retry).WithContext(ctx).Get(func() (*a2a.AgentCard, error) {
			return fetchCard(ctx, client, cardURL)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("discovery: failed to fetch agent card", "url", cardURL, "err", err)
			continue
		}
		if card.Name == "" {
			slog.Warn("discovery: agent card has no name", "url", cardURL)
			continue
		}
		if seen[card.Name] {
			slog.Warn("discovery: duplicate agent name, keeping first", "name", card.Name, "url", cardURL)
			continue
		}
		seen[card.Name] = true

		card.URL = invokeURL(baseURL, card.URL)
		agents = append(agents, &Agent{
			Name:      card.Name,
			BaseURL:   baseURL,
			InvokeURL: card.URL,
			Card:      card,
		})
		slog.Info("discovered agent", "name", card.Name, "invoke_url", card.URL)
	}

	if len(agents) == 0 {
		return nil, fmt.Errorf("no agents discovered from %d URLs", len(baseURLs))
	}
	return agents, nil
}

func fetchCard(ctx context.Context, client *http.Client, cardURL string) (*a2a.AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errPermanent, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}

	var card a2a.AgentCard
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, fmt.Errorf("%w: parse agent card: %v", errPermanent, err)
	}
	return &card, nil
}

// invokeURL returns the advertised URL when it is on the discovery host,
// otherwise base + "/invoke".
func invokeURL(baseURL, advertised string) string {
	fallback := baseURL + "/invoke"
	if advertised == "" {
		return fallback
	}
	adv, err := url.Parse(advertised)
	if err != nil {
		return fallback
	}
	base, err := url.Parse(baseURL)
	if err != nil || adv.Host != base.Host {
		return fallback
	}
	return advertised
}

// CheckHealth probes an agent's /healthz endpoint.
func CheckHealth(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check %s: status %d", baseURL, resp.StatusCode)
	}
	return nil
}
