// ABOUTME: Tests for webhook verification, signature gating, and dispatch
// ABOUTME: Exercises the Cloud API payload shapes against the HTTP handlers

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatforge/wce-gateway/internal/dedupe"
	"github.com/chatforge/wce-gateway/internal/flow"
	"github.com/chatforge/wce-gateway/internal/jobs"
)

var testSecret = []byte("app-secret")

const textPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "biz-1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "pn-1"},
        "contacts": [{"wa_id": "15551234567", "profile": {"name": "Ada"}}],
        "messages": [{
          "from": "15551234567",
          "id": "wamid.AAA",
          "timestamp": "1756500000",
          "type": "text",
          "text": {"body": "hello there"}
        }]
      }
    }]
  }]
}`

const statusPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "biz-1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "pn-1"},
        "statuses": [{"id": "wamid.AAA", "status": "delivered"}]
      }
    }]
  }]
}`

type fakeExecutor struct {
	mu       sync.Mutex
	jobs     []*jobs.Job
	failNext bool
}

func (f *fakeExecutor) Enqueue(ctx context.Context, job *jobs.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("queue unavailable")
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeExecutor) Close() error { return nil }

func (f *fakeExecutor) enqueued() []*jobs.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*jobs.Job(nil), f.jobs...)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeExecutor) {
	t.Helper()
	tracker := dedupe.NewTracker(time.Minute, 1000)
	t.Cleanup(tracker.Close)
	exec := &fakeExecutor{}
	return NewDispatcher(testSecret, "verify-me", tracker, exec, nil), exec
}

func postWebhook(d *Dispatcher, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	d.HandleInbound(rec, req)
	return rec
}

func TestVerifySignature(t *testing.T) {
	body := []byte("payload")
	sig := Sign(testSecret, body)

	assert.True(t, VerifySignature(testSecret, body, sig))
	assert.False(t, VerifySignature(testSecret, []byte("tampered"), sig))
	assert.False(t, VerifySignature([]byte("wrong-secret"), body, sig))
	assert.False(t, VerifySignature(testSecret, body, ""))
	assert.False(t, VerifySignature(testSecret, body, "sha256=zznothex"))
	assert.False(t, VerifySignature(testSecret, body, strings.TrimPrefix(sig, "sha256=")))
}

func TestHandleVerify(t *testing.T) {
	d, _ := newTestDispatcher(t)

	query := url.Values{
		"hub.mode":         {"subscribe"},
		"hub.verify_token": {"verify-me"},
		"hub.challenge":    {"challenge-123"},
	}
	req := httptest.NewRequest(http.MethodGet, "/webhook?"+query.Encode(), nil)
	rec := httptest.NewRecorder()
	d.HandleVerify(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "challenge-123", rec.Body.String())
}

func TestHandleVerify_Rejected(t *testing.T) {
	d, _ := newTestDispatcher(t)

	cases := map[string]url.Values{
		"wrong token": {
			"hub.mode": {"subscribe"}, "hub.verify_token": {"nope"}, "hub.challenge": {"c"},
		},
		"wrong mode": {
			"hub.mode": {"unsubscribe"}, "hub.verify_token": {"verify-me"}, "hub.challenge": {"c"},
		},
		"no params": {},
	}
	for name, query := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhook?"+query.Encode(), nil)
			rec := httptest.NewRecorder()
			d.HandleVerify(rec, req)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.NotContains(t, rec.Body.String(), "c")
		})
	}
}

func TestHandleInbound_EnqueuesVerifiedMessage(t *testing.T) {
	d, exec := newTestDispatcher(t)

	rec := postWebhook(d, textPayload, Sign(testSecret, []byte(textPayload)))
	require.Equal(t, http.StatusOK, rec.Code)

	enqueued := exec.enqueued()
	require.Len(t, enqueued, 1)
	assert.Equal(t, "15551234567", enqueued[0].UserID)
	assert.Equal(t, "wamid.AAA", enqueued[0].MessageID)

	var msg flow.Message
	require.NoError(t, json.Unmarshal(enqueued[0].Payload, &msg))
	assert.Equal(t, flow.KindText, msg.Kind)
	assert.Equal(t, "hello there", msg.Text)
	assert.Equal(t, "Ada", msg.UserName)
}

func TestHandleInbound_MissingSignature(t *testing.T) {
	d, exec := newTestDispatcher(t)

	rec := postWebhook(d, textPayload, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, exec.enqueued(), "unverified posts must never reach the queue")
}

func TestHandleInbound_BadSignature(t *testing.T) {
	d, exec := newTestDispatcher(t)

	rec := postWebhook(d, textPayload, Sign([]byte("other-secret"), []byte(textPayload)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, exec.enqueued())
}

func TestHandleInbound_DuplicateSkipped(t *testing.T) {
	d, exec := newTestDispatcher(t)
	sig := Sign(testSecret, []byte(textPayload))

	assert.Equal(t, http.StatusOK, postWebhook(d, textPayload, sig).Code)
	assert.Equal(t, http.StatusOK, postWebhook(d, textPayload, sig).Code)

	assert.Len(t, exec.enqueued(), 1, "redelivered message must be enqueued once")
}

func TestHandleInbound_EnqueueFailureAdmitsRedelivery(t *testing.T) {
	d, exec := newTestDispatcher(t)
	exec.failNext = true
	sig := Sign(testSecret, []byte(textPayload))

	assert.Equal(t, http.StatusOK, postWebhook(d, textPayload, sig).Code)
	require.Empty(t, exec.enqueued())

	// The provider retries the event; a failed enqueue must not have
	// recorded it as seen.
	assert.Equal(t, http.StatusOK, postWebhook(d, textPayload, sig).Code)
	assert.Len(t, exec.enqueued(), 1)
}

func TestHandleInbound_StatusOnly(t *testing.T) {
	d, exec := newTestDispatcher(t)

	rec := postWebhook(d, statusPayload, Sign(testSecret, []byte(statusPayload)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, exec.enqueued())
}

func TestHandleInbound_MalformedBody(t *testing.T) {
	d, exec := newTestDispatcher(t)
	body := `{"object": "something_else"}`

	rec := postWebhook(d, body, Sign(testSecret, []byte(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, exec.enqueued())
}
