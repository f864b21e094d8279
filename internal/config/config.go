package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/billie-coop/personabot/internal/character"
	"github.com/billie-coop/personabot/internal/llm/queue"
)

// Config represents the personabot configuration
type Config struct {
	// Completion backend
	APIURL           string `yaml:"api_url"`
	APIKey           string `yaml:"api_key,omitempty"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	TransportRetries int    `yaml:"transport_retries"`

	// Generation policy
	MinimumTokens int `yaml:"minimum_tokens"`
	MaxRetries    int `yaml:"max_retries"`
	MaxTokens     int `yaml:"max_tokens"`

	// Content filtering and call log
	BlockedTermsPath string `yaml:"blocked_terms_path"`
	CallLogPath      string `yaml:"call_log_path,omitempty"`

	// Discord
	DiscordToken     string   `yaml:"discord_token"`
	AnnounceChannels []string `yaml:"announce_channels"`
	ElevatedRoles    []string `yaml:"elevated_roles"`

	// Characters
	Characters                     map[string]character.Character `yaml:"characters"`
	AutoSwitchCharacters           bool                           `yaml:"auto_switch_characters"`
	CharacterChangeIntervalSeconds int                            `yaml:"character_change_interval_seconds"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		APIURL:                         "http://localhost:1234/v1",
		TimeoutSeconds:                 40,
		TransportRetries:               2,
		MinimumTokens:                  10,
		MaxRetries:                     5,
		MaxTokens:                      512,
		BlockedTermsPath:               "blocked_llm_terms.csv",
		CharacterChangeIntervalSeconds: 3600,
		Characters: map[string]character.Character{
			character.DefaultID: {
				Name:         "Assistant",
				Model:        "openai/local-model",
				Avatar:       "avatars/default.png",
				IntroMessage: "Hello! I'm back.",
			},
		},
	}
}

// Load reads the configuration file, expands environment variables, applies
// overrides and validates the result. Fields missing from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Characters = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.expandEnvVars()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.APIURL) == "" {
		errs = append(errs, errors.New("api_url is required"))
	}
	if c.TimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("timeout_seconds must be at least 1, got %d", c.TimeoutSeconds))
	}
	if c.TransportRetries < 0 {
		errs = append(errs, fmt.Errorf("transport_retries must not be negative, got %d", c.TransportRetries))
	}
	if c.MinimumTokens < 0 {
		errs = append(errs, fmt.Errorf("minimum_tokens must not be negative, got %d", c.MinimumTokens))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries))
	}
	if c.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("max_tokens must be at least 1, got %d", c.MaxTokens))
	}
	if c.AutoSwitchCharacters && c.CharacterChangeIntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("character_change_interval_seconds must be at least 1 when auto_switch_characters is on, got %d", c.CharacterChangeIntervalSeconds))
	}

	if _, ok := c.Characters[character.DefaultID]; !ok {
		errs = append(errs, fmt.Errorf("characters must include a %q entry", character.DefaultID))
	}
	for id, ch := range c.Characters {
		if strings.TrimSpace(ch.Name) == "" {
			errs = append(errs, fmt.Errorf("character %q: name is required", id))
		}
		if strings.TrimSpace(ch.Model) == "" {
			errs = append(errs, fmt.Errorf("character %q: model is required", id))
		}
	}

	return errors.Join(errs...)
}

// Roster returns the configured characters.
func (c *Config) Roster() *character.Roster {
	return character.NewRoster(c.Characters)
}

// Policy returns the generation worker policy.
func (c *Config) Policy() queue.Policy {
	return queue.Policy{
		MinimumTokens: c.MinimumTokens,
		MaxRetries:    c.MaxRetries,
		MaxTokens:     c.MaxTokens,
	}
}

// Timeout returns the per-attempt backend timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CharacterChangeInterval returns the auto-rotation period.
func (c *Config) CharacterChangeInterval() time.Duration {
	return time.Duration(c.CharacterChangeIntervalSeconds) * time.Second
}

// applyEnvOverrides replaces a few values outright from the environment.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PERSONABOT_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("PERSONABOT_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.DiscordToken = v
	}
}

// expandEnvVars expands environment variables in string values
func (c *Config) expandEnvVars() {
	c.APIURL = expandString(c.APIURL)
	c.APIKey = expandString(c.APIKey)
	c.DiscordToken = expandString(c.DiscordToken)
	c.BlockedTermsPath = expandString(c.BlockedTermsPath)
	c.CallLogPath = expandString(c.CallLogPath)
	for i, id := range c.AnnounceChannels {
		c.AnnounceChannels[i] = expandString(id)
	}
	for i, id := range c.ElevatedRoles {
		c.ElevatedRoles[i] = expandString(id)
	}
	for id, ch := range c.Characters {
		ch.Avatar = expandString(ch.Avatar)
		ch.Model = expandString(ch.Model)
		c.Characters[id] = ch
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandString expands environment variables in a string
// Supports $VAR and ${VAR} syntax
func expandString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		// Return original if env var not found
		return match
	})
}
