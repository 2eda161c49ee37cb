// Package config handles configuration loading for helpdesk-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Defaults are applied to anything left unset, then the result is
// validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HELPDESK_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/helpdesk/gateway.yaml
//  3. ~/.config/helpdesk/gateway.yaml
//
// A file whose name ends in .toml is decoded as TOML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	matrix:
//	  access_token: "${HELPDESK_MATRIX_TOKEN}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	activity:
//	  reminder_after: "1m"
//	  close_after: "2m"
//
// # Configuration Sections
//
// Event handling:
//
//	dedupe:
//	  ttl: "5m"
//	debounce:
//	  delay: "1s"
//	cache:
//	  ttl: "10m"
//	conversation:
//	  max_turns: 10
//	  stale_after: "5m"
//	pipeline:
//	  max_concurrent: 16
//	  message_limit: 3000
//
// Shared store and queue:
//
//	backend:
//	  kind: "redis"            # memory, redis, dynamodb
//	  redis:
//	    addr: "localhost:6379"
//	queue:
//	  kind: "redis"            # none, memory, redis
//	  topic: "helpdesk.events"
//
// Language model:
//
//	llm:
//	  enabled: true
//	  model: "gpt-4o-mini"
//	  api_key_param: "/helpdesk/openai-key"   # or api_key
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
