// Package config loads the splunkdesk configuration files: per-agent LLM
// settings and the static agent roster.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// RouterName is the settings key used by the routing agent.
const RouterName = "router"

// Defaults applied when a settings entry leaves a field unset.
const (
	DefaultRouterTemperature = 0.0
	DefaultAgentTemperature  = 0.2
	DefaultMaxOutputTokens   = 4096
	DefaultSchemaDaysBack    = 30
)

// AgentSettings holds the LLM tuning for one agent.
type AgentSettings struct {
	// Model overrides SPLUNKDESK_MODEL_NAME for this agent.
	Model           string   `yaml:"model"`
	Temperature     *float64 `yaml:"temperature"`
	MaxOutputTokens int      `yaml:"max_output_tokens"`
	// SchemaDaysBack controls how far back the query agent looks when
	// discovering index fields.
	SchemaDaysBack int `yaml:"schema_days_back"`
}

// TemperatureOr returns the configured temperature or def when unset.
func (a AgentSettings) TemperatureOr(def float64) float64 {
	if a.Temperature == nil {
		return def
	}
	return *a.Temperature
}

// Settings is the top-level agents.yaml document.
type Settings struct {
	Agents map[string]AgentSettings `yaml:"agents"`
}

// LoadSettings reads an agents.yaml file. An empty path or a missing file
// yields empty settings, so every agent falls back to the defaults.
func LoadSettings(path string) (*Settings, error) {
	s := &Settings{Agents: map[string]AgentSettings{}}
	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load settings from %q: %w", path, err)
	}
	if err := k.UnmarshalWithConf("", s, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse settings from %q: %w", path, err)
	}
	if s.Agents == nil {
		s.Agents = map[string]AgentSettings{}
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("settings %q: %w", path, err)
	}
	return s, nil
}

func (s *Settings) validate() error {
	for name, a := range s.Agents {
		if a.Temperature != nil && (*a.Temperature < 0 || *a.Temperature > 2) {
			return fmt.Errorf("agent %q: temperature %v out of range [0, 2]", name, *a.Temperature)
		}
		if a.MaxOutputTokens < 0 {
			return fmt.Errorf("agent %q: max_output_tokens must not be negative", name)
		}
		if a.SchemaDaysBack < 0 {
			return fmt.Errorf("agent %q: schema_days_back must not be negative", name)
		}
	}
	return nil
}

// For returns the settings for the named agent with defaults filled in.
func (s *Settings) For(name string) AgentSettings {
	var a AgentSettings
	if s != nil {
		a = s.Agents[name]
	}
	if a.Temperature == nil {
		def := DefaultAgentTemperature
		if name == RouterName {
			def = DefaultRouterTemperature
		}
		a.Temperature = &def
	}
	if a.MaxOutputTokens == 0 {
		a.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if a.SchemaDaysBack == 0 {
		a.SchemaDaysBack = DefaultSchemaDaysBack
	}
	return a
}

// ParseAgentURLs splits a comma-separated URL list, trimming blanks.
func ParseAgentURLs(csv string) []string {
	var urls []string
	for _, u := range strings.Split(csv, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
