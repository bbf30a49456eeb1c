// ABOUTME: Live-mode state machine arbitrating bot versus human-operator handling
// ABOUTME: Backed by the session store for state and the ticket repository for conversations

package livemode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatforge/wce-gateway/internal/flow"
	"github.com/chatforge/wce-gateway/internal/outbound"
	"github.com/chatforge/wce-gateway/internal/session"
	"github.com/chatforge/wce-gateway/internal/ticket"
)

// stateKey is the session key holding the live-mode record.
const stateKey = "live_mode"

// Suppression markers. A ticket comment carrying one of these is never
// echoed to the user, preventing reply loops from system notes and
// automated mirrors.
const (
	MarkerSystem    = "[System]"
	MarkerAutoReply = "[Auto-Reply]"
	MarkerInbound   = "[WhatsApp]"
)

// User-facing notices, kept verbatim across the product surface.
const (
	noticeConnecting   = "Connecting you to an agent... Please wait."
	noticeReconnecting = "Reconnecting you to your open support ticket..."
	noticeClosed       = "This support chat has been *closed*.\n\nYou are now reconnected to the automated assistant."
	greetingClaim      = "\U0001F44B Hello! I am %s, and I will be assisting you today. How can I help you?"
	greetingTakeover   = "Update: I am %s, and I am taking over this chat to assist you further."
)

// State is the per-user live-mode record.
type State struct {
	Active    bool           `json:"is_active"`
	TicketRef string         `json:"ticket_ref"`
	StartedAt time.Time      `json:"started_at"`
	Context   map[string]any `json:"context,omitempty"`
}

// StartResult reports the outcome of a Start call.
type StartResult struct {
	TicketRef string
	Resumed   bool   // true when an existing open ticket was reused
	Notice    string // user-facing connect message
}

// InboundHandler is an optional strategy invoked for each user message
// forwarded to a live conversation, after the ticket comment is
// recorded. Implementations can mirror messages into external systems.
type InboundHandler interface {
	HandleInbound(ctx context.Context, t *ticket.Ticket, msg *flow.Message) error
}

// noopInboundHandler is the default when no custom handler is configured.
type noopInboundHandler struct{}

func (noopInboundHandler) HandleInbound(context.Context, *ticket.Ticket, *flow.Message) error {
	return nil
}

// Service owns live-mode state transitions for all users.
type Service struct {
	sessions *session.Manager
	tickets  ticket.Repository
	sender   outbound.Sender
	inbound  InboundHandler
	logger   *slog.Logger
}

// New creates the live-mode service. inbound may be nil for the no-op
// default.
func New(sessions *session.Manager, tickets ticket.Repository, sender outbound.Sender, inbound InboundHandler, logger *slog.Logger) *Service {
	if inbound == nil {
		inbound = noopInboundHandler{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions: sessions,
		tickets:  tickets,
		sender:   sender,
		inbound:  inbound,
		logger:   logger.With("component", "livemode"),
	}
}

// Active reports whether the user is currently in live mode. Store
// failures propagate; they are never read as "inactive".
func (s *Service) Active(ctx context.Context, userID string) (bool, error) {
	state, err := s.State(ctx, userID)
	if err != nil {
		return false, err
	}
	return state != nil && state.Active, nil
}

// State returns the user's live-mode record, or nil when absent.
func (s *Service) State(ctx context.Context, userID string) (*State, error) {
	var state State
	ok, err := s.sessions.Session(userID).Get(ctx, stateKey, &state)
	if err != nil {
		return nil, fmt.Errorf("reading live-mode state for %s: %w", userID, err)
	}
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// Start transitions the user into live mode and sends the connect
// notice. Idempotent: an existing open ticket is reused and only the
// session record is refreshed.
func (s *Service) Start(ctx context.Context, userID string, extra map[string]any) (*StartResult, error) {
	result := &StartResult{Notice: noticeConnecting}

	existing, err := s.tickets.FindOpenByUser(ctx, userID)
	switch {
	case err == nil:
		result.TicketRef = existing.Ref
		result.Resumed = true
		result.Notice = noticeReconnecting
	case errors.Is(err, ticket.ErrNotFound):
		now := time.Now()
		created := &ticket.Ticket{
			Ref:       uuid.New().String(),
			UserID:    userID,
			Status:    ticket.StatusOpen,
			Subject:   "Support Request from " + userID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.tickets.Create(ctx, created); err != nil {
			// Lost a race with a concurrent Start; reuse the winner's ticket
			if errors.Is(err, ticket.ErrDuplicateOpen) {
				winner, findErr := s.tickets.FindOpenByUser(ctx, userID)
				if findErr != nil {
					return nil, fmt.Errorf("resolving ticket after create race: %w", findErr)
				}
				result.TicketRef = winner.Ref
				result.Resumed = true
				result.Notice = noticeReconnecting
				break
			}
			return nil, fmt.Errorf("creating ticket for %s: %w", userID, err)
		}
		result.TicketRef = created.Ref
	default:
		return nil, fmt.Errorf("looking up open ticket for %s: %w", userID, err)
	}

	state := State{
		Active:    true,
		TicketRef: result.TicketRef,
		StartedAt: time.Now(),
		Context:   extra,
	}
	if err := s.sessions.Session(userID).Save(ctx, stateKey, state); err != nil {
		return nil, fmt.Errorf("saving live-mode state for %s: %w", userID, err)
	}

	if _, err := s.sender.Send(ctx, userID, outbound.Message{Text: result.Notice}); err != nil {
		// The session record is saved; live mode holds even if the notice fails
		s.logger.Error("failed to send connect notice", "user_id", userID, "error", err)
	}

	s.logger.Info("live mode started",
		"user_id", userID,
		"ticket_ref", result.TicketRef,
		"resumed", result.Resumed)
	return result, nil
}

// Stop transitions the user back to bot mode: evicts the session record
// and sends the one-time reconnection notice. Stopping a user who is
// not live is a no-op. The ticket itself is closed by the caller (the
// operator API), not here.
func (s *Service) Stop(ctx context.Context, userID string) error {
	active, err := s.Active(ctx, userID)
	if err != nil {
		return err
	}
	if !active {
		return nil
	}

	if err := s.sessions.Session(userID).Evict(ctx, stateKey); err != nil {
		return fmt.Errorf("evicting live-mode state for %s: %w", userID, err)
	}

	if _, err := s.sender.Send(ctx, userID, outbound.Message{Text: noticeClosed}); err != nil {
		// State is already evicted; the user is back on the bot either way
		s.logger.Error("failed to send reconnection notice", "user_id", userID, "error", err)
	}

	s.logger.Info("live mode stopped", "user_id", userID)
	return nil
}

// ForwardInbound routes a user message into the live conversation:
// recorded as a ticket comment, then handed to the custom inbound
// handler if one is configured.
func (s *Service) ForwardInbound(ctx context.Context, msg *flow.Message) error {
	state, err := s.State(ctx, msg.UserID)
	if err != nil {
		return err
	}
	if state == nil || !state.Active {
		return fmt.Errorf("user %s is not in live mode", msg.UserID)
	}

	t, err := s.tickets.Get(ctx, state.TicketRef)
	if err != nil {
		return fmt.Errorf("loading ticket %s: %w", state.TicketRef, err)
	}
	if !t.Open() {
		// Ticket was closed underneath the session record; heal the state
		s.logger.Warn("live-mode state points at a closed ticket, evicting",
			"user_id", msg.UserID, "ticket_ref", t.Ref)
		return s.sessions.Session(msg.UserID).Evict(ctx, stateKey)
	}

	comment := &ticket.Comment{
		ID:        uuid.New().String(),
		TicketRef: t.Ref,
		Author:    "user:" + msg.UserID,
		Body:      MarkerInbound + " " + msg.Text,
		CreatedAt: time.Now(),
	}
	if err := s.tickets.AddComment(ctx, comment); err != nil {
		return fmt.Errorf("recording inbound comment: %w", err)
	}

	if err := s.inbound.HandleInbound(ctx, t, msg); err != nil {
		s.logger.Error("custom inbound handler failed",
			"user_id", msg.UserID, "ticket_ref", t.Ref, "error", err)
	}
	return nil
}

// HandleOperatorComment sends an operator's ticket comment to the user.
// Comments carrying a suppression marker are recorded but never echoed,
// and comments from operators other than the assignee are skipped.
func (s *Service) HandleOperatorComment(ctx context.Context, ref, author, body string) error {
	t, err := s.tickets.Get(ctx, ref)
	if err != nil {
		return err
	}
	if !t.Open() {
		return ticket.ErrTicketClosed
	}
	if t.AssignedAgent != "" && t.AssignedAgent != author {
		s.logger.Debug("skipping comment from non-assignee",
			"ticket_ref", ref, "author", author, "assignee", t.AssignedAgent)
		return nil
	}
	if err := s.tickets.AddComment(ctx, &ticket.Comment{
		ID:        uuid.New().String(),
		TicketRef: ref,
		Author:    author,
		Body:      body,
		CreatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("recording operator comment: %w", err)
	}

	if Suppressed(body) {
		return nil
	}

	if _, err := s.sender.Send(ctx, t.UserID, outbound.Message{Text: body}); err != nil {
		return fmt.Errorf("sending operator reply to %s: %w", t.UserID, err)
	}
	return nil
}

// Claim assigns (or reassigns) the ticket to an operator and greets the
// user. The live-mode session state is untouched: LIVE stays LIVE.
func (s *Service) Claim(ctx context.Context, ref, operator, operatorName string) error {
	t, err := s.tickets.Get(ctx, ref)
	if err != nil {
		return err
	}
	if !t.Open() {
		return ticket.ErrTicketClosed
	}
	if operatorName == "" {
		operatorName = "Support Agent"
	}

	reassigned := t.AssignedAgent != "" && t.AssignedAgent != operator

	if err := s.tickets.Assign(ctx, ref, operator); err != nil {
		return err
	}

	greeting := fmt.Sprintf(greetingClaim, operatorName)
	audit := fmt.Sprintf("%s Ticket claimed by %s", MarkerSystem, operator)
	if reassigned {
		greeting = fmt.Sprintf(greetingTakeover, operatorName)
		audit = fmt.Sprintf("%s Reassigned from %s to %s", MarkerSystem, t.AssignedAgent, operator)
	}

	if err := s.tickets.AddComment(ctx, &ticket.Comment{
		ID:        uuid.New().String(),
		TicketRef: ref,
		Author:    operator,
		Body:      audit,
		CreatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("recording claim comment: %w", err)
	}

	if _, err := s.sender.Send(ctx, t.UserID, outbound.Message{Text: greeting}); err != nil {
		s.logger.Error("failed to send claim greeting",
			"user_id", t.UserID, "ticket_ref", ref, "error", err)
	}

	s.logger.Info("ticket claimed", "ticket_ref", ref, "operator", operator, "reassigned", reassigned)
	return nil
}

// CloseTicket closes the ticket, records the closing system note, and
// hands the user back to the bot. This is the operator-side entry point
// for the LIVE -> BOT transition.
func (s *Service) CloseTicket(ctx context.Context, ref, operator string) error {
	t, err := s.tickets.Get(ctx, ref)
	if err != nil {
		return err
	}

	if err := s.tickets.Close(ctx, ref, ticket.StatusClosed); err != nil {
		return err
	}

	if err := s.tickets.AddComment(ctx, &ticket.Comment{
		ID:        uuid.New().String(),
		TicketRef: ref,
		Author:    operator,
		Body:      fmt.Sprintf("%s Support chat closed by %s.", MarkerSystem, operator),
		CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Error("failed to record close comment", "ticket_ref", ref, "error", err)
	}

	return s.Stop(ctx, t.UserID)
}

// Suppressed reports whether a comment body carries a marker that must
// not be echoed to the user.
func Suppressed(body string) bool {
	return strings.Contains(body, MarkerSystem) ||
		strings.Contains(body, MarkerAutoReply) ||
		strings.Contains(body, MarkerInbound)
}
