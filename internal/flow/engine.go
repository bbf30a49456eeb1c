// ABOUTME: Flow engine contract and the inbound message model handed to it
// ABOUTME: Includes an echo reference engine for out-of-the-box operation

package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatforge/wce-gateway/internal/outbound"
)

// Message kinds extracted from provider payloads.
const (
	KindText        = "text"
	KindInteractive = "interactive"
	KindButton      = "button"
	KindMedia       = "media"
	KindLocation    = "location"
	KindUnknown     = "unknown"
)

// Message is one inbound user message after payload extraction.
type Message struct {
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id"`
	UserName  string    `json:"user_name,omitempty"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Raw carries the provider envelope for engines that need fields
	// the gateway does not model.
	Raw []byte `json:"raw,omitempty"`
}

// Engine processes inbound messages while the user is in bot mode.
// Implementations own all conversational side effects (replies, state
// advances); the gateway only guarantees serialization per user.
type Engine interface {
	ProcessInbound(ctx context.Context, msg *Message) error
}

// EchoEngine replies with the user's own input. It exists so the
// gateway is runnable before a real engine is wired in.
type EchoEngine struct {
	sender outbound.Sender
	logger *slog.Logger
}

// NewEchoEngine creates the reference engine.
func NewEchoEngine(sender outbound.Sender, logger *slog.Logger) *EchoEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &EchoEngine{
		sender: sender,
		logger: logger.With("component", "flow"),
	}
}

// ProcessInbound echoes text messages back and ignores everything else.
func (e *EchoEngine) ProcessInbound(ctx context.Context, msg *Message) error {
	if msg.Kind != KindText || msg.Text == "" {
		e.logger.Debug("ignoring non-text message", "user_id", msg.UserID, "kind", msg.Kind)
		return nil
	}
	_, err := e.sender.Send(ctx, msg.UserID, outbound.Message{Text: msg.Text})
	return err
}
