// ABOUTME: Tests for the live-mode state machine transitions and routing rules
// ABOUTME: Uses the in-memory store, the SQLite ticket repo, and a recording fake sender

package livemode

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatforge/wce-gateway/internal/flow"
	"github.com/chatforge/wce-gateway/internal/kvstore"
	"github.com/chatforge/wce-gateway/internal/outbound"
	"github.com/chatforge/wce-gateway/internal/session"
	"github.com/chatforge/wce-gateway/internal/ticket"
)

// fakeSender records every outbound message.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	UserID string
	Text   string
}

func (f *fakeSender) Send(ctx context.Context, userID string, msg outbound.Message) (*outbound.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{UserID: userID, Text: msg.Text})
	return &outbound.Delivery{MessageID: "wamid.FAKE", Accepted: true}, nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fixture struct {
	svc     *Service
	tickets ticket.Repository
	sender  *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := kvstore.NewMemoryStore()
	t.Cleanup(store.Close)

	repo, err := ticket.NewSQLiteRepository(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.CloseDB() })

	sender := &fakeSender{}
	sessions := session.NewManager(store, time.Minute, time.Minute)
	return &fixture{
		svc:     New(sessions, repo, sender, nil, nil),
		tickets: repo,
		sender:  sender,
	}
}

func TestService_InitialStateIsBot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active, err := f.svc.Active(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, active, "no record means bot mode")

	state, err := f.svc.State(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestService_Start(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Start(ctx, "u1", map[string]any{"source": "flow"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.TicketRef)
	assert.False(t, result.Resumed)

	active, err := f.svc.Active(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, active)

	state, err := f.svc.State(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, result.TicketRef, state.TicketRef)
	assert.Equal(t, "flow", state.Context["source"])
	assert.False(t, state.StartedAt.IsZero())

	// Ticket exists and is open
	tk, err := f.tickets.Get(ctx, result.TicketRef)
	require.NoError(t, err)
	assert.True(t, tk.Open())
	assert.Equal(t, "u1", tk.UserID)
}

func TestService_Start_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Start(ctx, "u1", nil)
	require.NoError(t, err)

	second, err := f.svc.Start(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, first.TicketRef, second.TicketRef, "second start must reuse the open ticket")
	assert.True(t, second.Resumed)

	open, err := f.tickets.ListOpen(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, open, 1, "no duplicate ticket may be created")
}

func TestService_Stop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, "u1", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Stop(ctx, "u1"))

	active, err := f.svc.Active(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, active, "stop must evict the live-mode key")

	msgs := f.sender.messages()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "u1", last.UserID)
	assert.Contains(t, last.Text, "reconnected to the automated assistant")
}

func TestService_Stop_NotLive(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Stop(context.Background(), "u1"))
	assert.Empty(t, f.sender.messages(), "stopping a bot-mode user sends nothing")
}

func TestService_ForwardInbound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Start(ctx, "u1", nil)
	require.NoError(t, err)

	msg := &flow.Message{UserID: "u1", MessageID: "wamid.1", Kind: flow.KindText, Text: "my order is missing"}
	require.NoError(t, f.svc.ForwardInbound(ctx, msg))

	comments, err := f.tickets.ListComments(ctx, result.TicketRef, 0)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "my order is missing")
	assert.Contains(t, comments[0].Body, MarkerInbound, "inbound comments carry the suppression marker")
	assert.Equal(t, "user:u1", comments[0].Author)
}

func TestService_ForwardInbound_NotLive(t *testing.T) {
	f := newFixture(t)

	msg := &flow.Message{UserID: "u1", MessageID: "wamid.1", Kind: flow.KindText, Text: "hi"}
	assert.Error(t, f.svc.ForwardInbound(context.Background(), msg))
}

func TestService_ForwardInbound_ClosedTicketHealsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Start(ctx, "u1", nil)
	require.NoError(t, err)

	// Ticket closed out-of-band, session record left behind
	require.NoError(t, f.tickets.Close(ctx, result.TicketRef, ticket.StatusClosed))

	msg := &flow.Message{UserID: "u1", MessageID: "wamid.1", Kind: flow.KindText, Text: "hello?"}
	require.NoError(t, f.svc.ForwardInbound(ctx, msg))

	active, err := f.svc.Active(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, active, "stale live-mode state should be evicted")
}

func TestService_HandleOperatorComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Start(ctx, "u1", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleOperatorComment(ctx, result.TicketRef, "agent@example.com", "How can I help?"))

	msgs := f.sender.messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "How can I help?", msgs[len(msgs)-1].Text)
}

func TestService_HandleOperatorComment_SuppressedMarkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Start(ctx, "u1", nil)
	require.NoError(t, err)
	before := len(f.sender.messages())

	marked := []string{
		MarkerSystem + " Ticket claimed by agent",
		MarkerAutoReply + " We received your message",
		MarkerInbound + " hello",
	}
	for _, body := range marked {
		require.NoError(t, f.svc.HandleOperatorComment(ctx, result.TicketRef, "agent@example.com", body))
	}

	assert.Len(t, f.sender.messages(), before, "marked comments must not reach the user")

	// The comments are still part of the ticket record.
	comments, err := f.tickets.ListComments(ctx, result.TicketRef, 0)
	require.NoError(t, err)
	assert.Len(t, comments, len(marked))
}

func TestService_HandleOperatorComment_NonAssignee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Start(ctx, "u1", nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.Claim(ctx, result.TicketRef, "owner@example.com", "Alice"))
	before := len(f.sender.messages())

	require.NoError(t, f.svc.HandleOperatorComment(ctx, result.TicketRef, "other@example.com", "I'll take this"))
	assert.Len(t, f.sender.messages(), before, "non-assignee comments are not forwarded")
}

func TestService_Claim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Start(ctx, "u1", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Claim(ctx, result.TicketRef, "agent@example.com", "Alice"))

	tk, err := f.tickets.Get(ctx, result.TicketRef)
	require.NoError(t, err)
	assert.Equal(t, "agent@example.com", tk.AssignedAgent)

	// User got the greeting
	msgs := f.sender.messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1].Text, "Alice")

	// Live mode survives the claim
	active, err := f.svc.Active(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, active, "claim is LIVE -> LIVE, state untouched")
}

func TestService_Claim_Reassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Start(ctx, "u1", nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.Claim(ctx, result.TicketRef, "first@example.com", "Alice"))
	require.NoError(t, f.svc.Claim(ctx, result.TicketRef, "second@example.com", "Bob"))

	tk, err := f.tickets.Get(ctx, result.TicketRef)
	require.NoError(t, err)
	assert.Equal(t, "second@example.com", tk.AssignedAgent)

	msgs := f.sender.messages()
	assert.Contains(t, msgs[len(msgs)-1].Text, "taking over", "reassignment uses the takeover greeting")
}

func TestService_CloseTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Start(ctx, "u1", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.CloseTicket(ctx, result.TicketRef, "agent@example.com"))

	tk, err := f.tickets.Get(ctx, result.TicketRef)
	require.NoError(t, err)
	assert.False(t, tk.Open())

	active, err := f.svc.Active(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, active, "closing the ticket hands the user back to the bot")

	msgs := f.sender.messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1].Text, "closed")
}

func TestSuppressed(t *testing.T) {
	assert.True(t, Suppressed(MarkerSystem+" note"))
	assert.True(t, Suppressed("prefix "+MarkerAutoReply+" suffix"))
	assert.True(t, Suppressed(MarkerInbound+" user said hi"))
	assert.False(t, Suppressed("a normal operator reply"))
}

// customHandler records inbound messages it sees.
type customHandler struct {
	mu   sync.Mutex
	seen []string
}

func (h *customHandler) HandleInbound(ctx context.Context, t *ticket.Ticket, msg *flow.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, msg.MessageID)
	return nil
}

func TestService_ForwardInbound_CustomHandler(t *testing.T) {
	store := kvstore.NewMemoryStore()
	t.Cleanup(store.Close)
	repo, err := ticket.NewSQLiteRepository(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.CloseDB() })

	handler := &customHandler{}
	svc := New(session.NewManager(store, time.Minute, time.Minute), repo, &fakeSender{}, handler, nil)
	ctx := context.Background()

	_, err = svc.Start(ctx, "u1", nil)
	require.NoError(t, err)

	msg := &flow.Message{UserID: "u1", MessageID: "wamid.42", Kind: flow.KindText, Text: "hi"}
	require.NoError(t, svc.ForwardInbound(ctx, msg))

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []string{"wamid.42"}, handler.seen)
}
