// Package outbound sends messages to end users through the messaging
// provider's HTTP API.
package outbound
