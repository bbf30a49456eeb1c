// ABOUTME: HTTP intake: subscription handshake, signature gate, dedup, and job enqueue
// ABOUTME: Acknowledges verified posts immediately without waiting on processing

package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/chatforge/wce-gateway/internal/dedupe"
	"github.com/chatforge/wce-gateway/internal/jobs"
)

// maxBodyBytes bounds a single callback POST.
const maxBodyBytes = 1 << 20

// Dispatcher terminates the webhook endpoint.
type Dispatcher struct {
	appSecret   []byte
	verifyToken string
	tracker     *dedupe.Tracker
	exec        jobs.Executor
	logger      *slog.Logger
}

func NewDispatcher(appSecret []byte, verifyToken string, tracker *dedupe.Tracker, exec jobs.Executor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		appSecret:   appSecret,
		verifyToken: verifyToken,
		tracker:     tracker,
		exec:        exec,
		logger:      logger.With("component", "webhook"),
	}
}

// HandleVerify answers the platform's GET handshake: echo hub.challenge
// when hub.mode is "subscribe" and the verify token matches.
func (d *Dispatcher) HandleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(d.verifyToken)) != 1 {
		d.logger.Warn("webhook verification rejected", "mode", mode, "remote", r.RemoteAddr)
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	d.logger.Info("webhook verified", "remote", r.RemoteAddr)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// HandleInbound processes a callback POST. The signature is checked
// against the raw body before anything is parsed; a bad signature is a
// 403 and nothing is enqueued.
func (d *Dispatcher) HandleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	if !VerifySignature(d.appSecret, body, r.Header.Get(SignatureHeader)) {
		d.logger.Warn("webhook signature mismatch", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	payload, err := Parse(body)
	if err != nil {
		d.logger.Warn("undecodable webhook payload", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	enqueued := 0
	for _, msg := range payload.Messages() {
		if d.tracker != nil && d.tracker.Observe(msg.UserID, msg.MessageID) {
			d.logger.Debug("duplicate message skipped",
				"user_id", msg.UserID, "message_id", msg.MessageID)
			continue
		}

		encoded, err := json.Marshal(msg)
		if err != nil {
			d.logger.Error("failed to encode message for enqueue",
				"user_id", msg.UserID, "message_id", msg.MessageID, "error", err)
			continue
		}
		job := jobs.NewJob(msg.UserID, msg.MessageID, encoded)
		if err := d.exec.Enqueue(r.Context(), job); err != nil {
			// The message never made it onto the queue; the provider's
			// redelivery must not be swallowed as a duplicate.
			if d.tracker != nil {
				d.tracker.Forget(msg.UserID, msg.MessageID)
			}
			d.logger.Error("failed to enqueue job",
				"job_id", job.ID, "user_id", msg.UserID, "error", err)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		d.logger.Info("webhook accepted", "messages", enqueued)
	}

	// Always 200: the platform treats anything else as a delivery
	// failure and retries the whole batch.
	w.WriteHeader(http.StatusOK)
}
