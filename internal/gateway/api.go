// ABOUTME: Operator HTTP API: ticket listing, claim, close, reply, live-mode control
// ABOUTME: Bearer-token protected; admin role required for session wipes

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/chatforge/wce-gateway/internal/auth"
	"github.com/chatforge/wce-gateway/internal/ticket"
)

// registerOperatorRoutes mounts the operator API when a token secret is
// configured. Without one the gateway serves only the webhook surface.
func (g *Gateway) registerOperatorRoutes(mux *http.ServeMux) error {
	if g.config.Auth.TokenSecret == "" {
		g.logger.Warn("operator API disabled - no auth.token_secret configured")
		return nil
	}

	verifier, err := auth.NewJWTVerifier([]byte(g.config.Auth.TokenSecret))
	if err != nil {
		return fmt.Errorf("creating token verifier: %w", err)
	}
	g.verifier = verifier

	authMiddleware := auth.Middleware(verifier)
	adminMiddleware := auth.RequireAdmin()

	mux.Handle("GET /api/tickets", authMiddleware(http.HandlerFunc(g.handleListTickets)))
	mux.Handle("POST /api/tickets/{ref}/claim", authMiddleware(http.HandlerFunc(g.handleClaimTicket)))
	mux.Handle("POST /api/tickets/{ref}/close", authMiddleware(http.HandlerFunc(g.handleCloseTicket)))
	mux.Handle("POST /api/tickets/{ref}/reply", authMiddleware(http.HandlerFunc(g.handleReplyTicket)))
	mux.Handle("POST /api/live/{user}/start", authMiddleware(http.HandlerFunc(g.handleStartLive)))
	mux.Handle("POST /api/sessions/clear", authMiddleware(adminMiddleware(http.HandlerFunc(g.handleClearSessions))))

	g.logger.Info("operator API enabled")
	return nil
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

func (g *Gateway) handleListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := g.tickets.ListOpen(r.Context(), 100)
	if err != nil {
		g.logger.Error("failed to list tickets", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list tickets")
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (g *Gateway) handleClaimTicket(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	op := auth.FromContext(r.Context())

	err := g.live.Claim(r.Context(), ref, op.ID, operatorDisplayName(op))
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "ticket not found")
	case errors.Is(err, ticket.ErrTicketClosed):
		g.sendJSONError(w, http.StatusConflict, "ticket is closed")
	case err != nil:
		g.logger.Error("failed to claim ticket", "ticket_ref", ref, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "claim failed")
	default:
		g.sendJSON(w, http.StatusOK, map[string]string{"ref": ref, "assigned_to": op.ID})
	}
}

func (g *Gateway) handleCloseTicket(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	op := auth.FromContext(r.Context())

	err := g.live.CloseTicket(r.Context(), ref, op.ID)
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "ticket not found")
	case errors.Is(err, ticket.ErrTicketClosed):
		g.sendJSONError(w, http.StatusConflict, "ticket already closed")
	case err != nil:
		g.logger.Error("failed to close ticket", "ticket_ref", ref, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "close failed")
	default:
		g.sendJSON(w, http.StatusOK, map[string]string{"ref": ref, "status": ticket.StatusClosed})
	}
}

type replyRequest struct {
	Body string `json:"body"`
}

func (g *Gateway) handleReplyTicket(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	op := auth.FromContext(r.Context())

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		g.sendJSONError(w, http.StatusBadRequest, "body is required")
		return
	}

	err := g.live.HandleOperatorComment(r.Context(), ref, op.ID, req.Body)
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "ticket not found")
	case errors.Is(err, ticket.ErrTicketClosed):
		g.sendJSONError(w, http.StatusConflict, "ticket is closed")
	case err != nil:
		g.logger.Error("failed to send reply", "ticket_ref", ref, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "reply failed")
	default:
		g.sendJSON(w, http.StatusOK, map[string]string{"ref": ref})
	}
}

func (g *Gateway) handleStartLive(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	op := auth.FromContext(r.Context())

	result, err := g.live.Start(r.Context(), userID, map[string]any{"started_by": op.ID})
	if err != nil {
		g.logger.Error("failed to start live mode", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to start live mode")
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{
		"ticket_ref": result.TicketRef,
		"resumed":    result.Resumed,
	})
}

type clearSessionsRequest struct {
	UserID string `json:"user_id"`
}

func (g *Gateway) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	var req clearSessionsRequest
	// An empty body means wipe everything.
	_ = json.NewDecoder(r.Body).Decode(&req)

	var err error
	if req.UserID != "" {
		err = g.sessions.Session(req.UserID).Clear(r.Context())
	} else {
		err = g.sessions.ClearAll(r.Context())
	}
	if err != nil {
		g.logger.Error("failed to clear sessions", "user_id", req.UserID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to clear sessions")
		return
	}

	op := auth.FromContext(r.Context())
	g.logger.Info("sessions cleared", "user_id", req.UserID, "operator", op.ID)
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// operatorDisplayName falls back to the ID when no name claim is set.
func operatorDisplayName(op *auth.Operator) string {
	if op.Name != "" {
		return op.Name
	}
	return op.ID
}
