package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RosterEntry is one statically configured agent.
type RosterEntry struct {
	// Name is informational; the routing key is the name on the agent card.
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Roster lists agent base URLs in priority order. The first reachable agent
// is the routing fallback.
type Roster struct {
	Agents []RosterEntry `yaml:"agents"`
}

// LoadRoster loads a roster YAML file. Environment variables in the file are
// expanded before parsing.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}

	var r Roster
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &r); err != nil {
		return nil, fmt.Errorf("parse roster YAML: %w", err)
	}

	seen := make(map[string]bool)
	for i, a := range r.Agents {
		u := strings.TrimSpace(a.URL)
		if u == "" {
			return nil, fmt.Errorf("roster agent %d: url is required", i)
		}
		if seen[u] {
			return nil, fmt.Errorf("roster agent %d: duplicate url %q", i, u)
		}
		seen[u] = true
		r.Agents[i].URL = u
	}
	return &r, nil
}

// URLs returns the agent base URLs in roster order.
func (r *Roster) URLs() []string {
	urls := make([]string, 0, len(r.Agents))
	for _, a := range r.Agents {
		urls = append(urls, a.URL)
	}
	return urls
}
