// ABOUTME: Gateway orchestrator wiring stores, queue, and HTTP surface together
// ABOUTME: Owns startup order and graceful shutdown

// Package gateway assembles the service from config: key-value store
// (Redis or in-memory), session manager, per-user lock, ticket repo,
// live-mode service, outbound sender, flow engine, job executor, and
// the webhook dispatcher, all mounted on one HTTP server.
//
// The webhook endpoints authenticate with the provider's payload
// signature. The operator API uses bearer tokens and is only mounted
// when auth.token_secret is configured.
package gateway
