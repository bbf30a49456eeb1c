// ABOUTME: Repository interface and data types for support-ticket persistence
// ABOUTME: Defines Ticket, Comment structs and the typed operations live mode consumes

package ticket

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested ticket does not exist.
var ErrNotFound = errors.New("ticket not found")

// ErrDuplicateOpen is returned when creating a ticket for a user who
// already has an open one.
var ErrDuplicateOpen = errors.New("user already has an open ticket")

// ErrTicketClosed is returned when mutating a ticket that is no longer open.
var ErrTicketClosed = errors.New("ticket is closed")

// Ticket statuses.
const (
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusResolved = "resolved"
)

// Ticket is one live-mode support conversation.
type Ticket struct {
	Ref           string     `json:"ref"`
	UserID        string     `json:"user_id"`
	Status        string     `json:"status"`
	Subject       string     `json:"subject,omitempty"`
	AssignedAgent string     `json:"assigned_agent,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Open reports whether the ticket still routes messages to an operator.
func (t *Ticket) Open() bool {
	return t.Status == StatusOpen
}

// Comment is one message attached to a ticket: an inbound user message,
// an operator reply, or a system note.
type Comment struct {
	ID        string    `json:"id"`
	TicketRef string    `json:"ticket_ref"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository defines the typed ticket operations the live-mode state
// machine consumes.
type Repository interface {
	Create(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, ref string) (*Ticket, error)

	// FindOpenByUser returns the user's open ticket, or ErrNotFound.
	FindOpenByUser(ctx context.Context, userID string) (*Ticket, error)

	// Close moves an open ticket to the given terminal status.
	Close(ctx context.Context, ref, status string) error

	// Assign sets the ticket's operator. Reassignment is allowed while open.
	Assign(ctx context.Context, ref, operator string) error

	AddComment(ctx context.Context, c *Comment) error
	ListComments(ctx context.Context, ref string, limit int) ([]*Comment, error)

	ListOpen(ctx context.Context, limit int) ([]*Ticket, error)
}
