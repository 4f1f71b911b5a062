// Package config handles configuration loading for parlor-gateway.
//
// # Configuration File
//
// The path comes from the PARLOR_CONFIG environment variable, falling back
// to $XDG_CONFIG_HOME/parlor/gateway.yaml. Files ending in .toml are read as
// TOML; anything else is read as YAML.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	bot:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to an empty string.
//
// # Durations
//
// Durations use time.ParseDuration syntax:
//
//	sessions:
//	  write_timeout: "10s"
//	  ping_interval: "30s"
//	bot:
//	  timeout: "30s"
//	dedupe:
//	  ttl: "10m"
//
// # Sections
//
//	server:      http_addr
//	tailscale:   enabled, hostname, auth_key, state_dir, ephemeral, https, funnel
//	database:    driver (sqlite | pebble | memory), path
//	sessions:    max_name_length, max_frame_bytes, send_buffer, frame_rate,
//	             frame_burst, allowed_origins, write_timeout, ping_interval
//	bot:         identity, default_prompt, api_key, base_url, model,
//	             timeout, max_pdf_bytes
//	dedupe:      ttl, max_size
//	node:        id (0-1023, used for message ids)
//	logging:     level, format
//	metrics:     enabled, path
//
// Every field has a default applied by ApplyDefaults, so an empty file is a
// valid configuration.
package config
