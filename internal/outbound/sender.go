// ABOUTME: Sender interface and message types for outbound user messaging
// ABOUTME: Consumed by live mode (operator replies, system notices) and the flow engine

package outbound

import "context"

// Message is one outbound text message.
type Message struct {
	Text       string
	PreviewURL bool
}

// Delivery is the provider's acknowledgment of an accepted message.
type Delivery struct {
	MessageID string
	Accepted  bool
}

// Sender delivers a message to one user. Implementations must be safe
// for concurrent use.
type Sender interface {
	Send(ctx context.Context, userID string, msg Message) (*Delivery, error)
}
