// ABOUTME: Webhook intake for the WhatsApp Cloud API callback
// ABOUTME: Verification, signature checking, payload parsing, and dispatch

// Package webhook receives WhatsApp Cloud API callbacks. A GET with the
// hub.* query parameters answers the platform's subscription handshake;
// a POST carries batched inbound events and must present a valid
// X-Hub-Signature-256 header before the body is even parsed.
//
// Verified messages are deduplicated, wrapped in jobs, and enqueued for
// background processing. The HTTP response never waits on a handler:
// the platform retries slow webhooks, so acknowledgement is immediate.
package webhook
