package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billie-coop/personabot/internal/character"
)

const sampleYAML = `
api_url: http://inference.local:5000/v1
discord_token: ${TEST_PERSONABOT_TOKEN}
minimum_tokens: 3
max_retries: 4
max_tokens: 256
blocked_terms_path: terms.csv
announce_channels: ["111", "222"]
auto_switch_characters: true
character_change_interval_seconds: 600
elevated_roles: ["999"]
characters:
  default:
    name: Assistant
    model: openai/mistral
    avatar: $TEST_PERSONABOT_AVATARS/default.png
    intro_message: Hi
  pirate:
    name: Captain
    model: openai/llama
    avatar: avatars/pirate.png
    intro_message: Arr
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_PERSONABOT_TOKEN", "tok-123")
	t.Setenv("TEST_PERSONABOT_AVATARS", "/srv/avatars")
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("PERSONABOT_API_URL", "")
	t.Setenv("PERSONABOT_API_KEY", "")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "http://inference.local:5000/v1", cfg.APIURL)
	assert.Equal(t, "tok-123", cfg.DiscordToken)
	assert.Equal(t, 3, cfg.MinimumTokens)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 256, cfg.MaxTokens)
	assert.Equal(t, []string{"111", "222"}, cfg.AnnounceChannels)
	assert.Equal(t, []string{"999"}, cfg.ElevatedRoles)
	assert.True(t, cfg.AutoSwitchCharacters)
	assert.Equal(t, 10*time.Minute, cfg.CharacterChangeInterval())

	// Unset in the file, so defaults survive
	assert.Equal(t, 40*time.Second, cfg.Timeout())
	assert.Equal(t, 2, cfg.TransportRetries)

	require.Len(t, cfg.Characters, 2)
	assert.Equal(t, "/srv/avatars/default.png", cfg.Characters["default"].Avatar)

	roster := cfg.Roster()
	pirate, ok := roster.Get("pirate")
	require.True(t, ok)
	assert.Equal(t, "pirate", pirate.ID)
	assert.Equal(t, "Captain", pirate.Name)

	policy := cfg.Policy()
	assert.Equal(t, 3, policy.MinimumTokens)
	assert.Equal(t, 4, policy.MaxRetries)
	assert.Equal(t, 256, policy.MaxTokens)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TEST_PERSONABOT_TOKEN", "from-file")
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("PERSONABOT_API_URL", "http://override:1234/v1")
	t.Setenv("PERSONABOT_API_KEY", "sk-env")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.DiscordToken)
	assert.Equal(t, "http://override:1234/v1", cfg.APIURL)
	assert.Equal(t, "sk-env", cfg.APIKey)
}

func TestLoad_RejectsMissingDefaultCharacter(t *testing.T) {
	body := `
api_url: http://localhost:1234/v1
characters:
  pirate:
    name: Captain
    model: llama
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"default"`)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "api_url: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults_ok", mutate: func(*Config) {}},
		{name: "no_api_url", mutate: func(c *Config) { c.APIURL = " " }, wantErr: "api_url"},
		{name: "zero_retries", mutate: func(c *Config) { c.MaxRetries = 0 }, wantErr: "max_retries"},
		{name: "negative_minimum", mutate: func(c *Config) { c.MinimumTokens = -1 }, wantErr: "minimum_tokens"},
		{name: "zero_max_tokens", mutate: func(c *Config) { c.MaxTokens = 0 }, wantErr: "max_tokens"},
		{name: "zero_timeout", mutate: func(c *Config) { c.TimeoutSeconds = 0 }, wantErr: "timeout_seconds"},
		{name: "negative_transport_retries", mutate: func(c *Config) { c.TransportRetries = -1 }, wantErr: "transport_retries"},
		{
			name: "auto_switch_without_interval",
			mutate: func(c *Config) {
				c.AutoSwitchCharacters = true
				c.CharacterChangeIntervalSeconds = 0
			},
			wantErr: "character_change_interval_seconds",
		},
		{
			name: "character_without_model",
			mutate: func(c *Config) {
				c.Characters["broken"] = character.Character{Name: "Broken"}
			},
			wantErr: `character "broken": model`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("PERSONABOT_API_URL", "")
	t.Setenv("PERSONABOT_API_KEY", "")

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.MaxRetries = 7
	cfg.ElevatedRoles = []string{"42"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.MaxRetries)
	assert.Equal(t, []string{"42"}, loaded.ElevatedRoles)
	assert.Equal(t, cfg.Characters["default"].Model, loaded.Characters["default"].Model)
}
