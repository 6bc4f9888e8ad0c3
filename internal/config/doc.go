// Package config handles configuration loading for chatbot-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and duration parsing.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	agent:
//	  auth_token: "${CHATBOT_AGENT_TOKEN}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agent:
//	  timeout: "10s"
//	turns:
//	  idle_window: "30s"
//	rate_limit:
//	  window: "60s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/chatbot/gateway.db"
//
// External agent (both fields empty disables the agent and the gateway
// answers from the knowledge base alone):
//
//	agent:
//	  endpoint_url: "https://agent.example.com/webhook"
//	  auth_token: "${CHATBOT_AGENT_TOKEN}"
//	  timeout: "10s"
//
// Turn grouping and rate limiting:
//
//	turns:
//	  idle_window: "30s"
//	rate_limit:
//	  max_requests: 10
//	  window: "60s"
//
// Fallback and notifications:
//
//	fallback:
//	  contact_url: "https://example.com/contacto"
//	notifier:
//	  webhook_url: "https://hooks.example.com/turns"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/chatbot/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
