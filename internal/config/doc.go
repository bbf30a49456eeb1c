// Package config handles configuration loading for wce-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	provider:
//	  app_secret: "${WCE_APP_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	session:
//	  user_ttl: "10m"
//	  global_ttl: "30m"
//	lock:
//	  lease: "30s"
//	  wait: "5s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # Webhook and operator API
//
// Redis (optional; required when dispatch.mode is "redis"):
//
//	redis:
//	  addr: "localhost:6379"
//	  db: 0
//
// Database:
//
//	database:
//	  path: "/var/lib/wce/tickets.db"
//
// Provider credentials:
//
//	provider:
//	  verify_token: "${WCE_VERIFY_TOKEN}"
//	  app_secret: "${WCE_APP_SECRET}"
//	  access_token: "${WCE_ACCESS_TOKEN}"
//	  phone_number_id: "1234567890"
//
// Dispatch:
//
//	dispatch:
//	  mode: "inprocess"   # or "redis"
//	  redis_stream: "wce.jobs"
//	  consumer_group: "wce-gateway"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/wce/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
