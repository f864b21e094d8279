// Package config loads and validates the personabot configuration.
//
// Configuration lives in a single YAML file (config.yaml by default), is read
// once at startup, and is treated as read-only afterwards.
//
//	api_url: http://localhost:1234/v1
//	discord_token: ${DISCORD_TOKEN}
//	minimum_tokens: 10
//	max_retries: 5
//	max_tokens: 512
//	blocked_terms_path: blocked_llm_terms.csv
//	announce_channels: ["1122334455"]
//	auto_switch_characters: true
//	character_change_interval_seconds: 3600
//	elevated_roles: ["5566778899"]
//	characters:
//	  default:
//	    name: Assistant
//	    model: openai/mistral-7b-instruct
//	    avatar: avatars/default.png
//	    intro_message: Hello again!
//
// Environment Variable Support:
//
// String values can reference environment variables using $VAR or ${VAR}
// syntax. A few values can also be overridden outright:
//
//	PERSONABOT_API_URL   overrides api_url
//	PERSONABOT_API_KEY   overrides api_key
//	DISCORD_TOKEN        overrides discord_token
//
// Example usage:
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	roster := cfg.Roster()
package config
