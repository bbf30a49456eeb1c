// ABOUTME: WhatsApp Cloud API implementation of the outbound Sender
// ABOUTME: Posts text messages to the provider's /messages endpoint with bearer auth

package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultAPIBaseURL is the provider's production graph endpoint.
const DefaultAPIBaseURL = "https://graph.facebook.com/v20.0"

// WhatsAppSender sends text messages through the Cloud API.
type WhatsAppSender struct {
	baseURL       string
	accessToken   string
	phoneNumberID string
	client        *http.Client
	logger        *slog.Logger
}

// NewWhatsAppSender creates a sender for the given phone number ID.
// baseURL may be empty to use the production endpoint; tests point it
// at a local server.
func NewWhatsAppSender(baseURL, accessToken, phoneNumberID string, logger *slog.Logger) *WhatsAppSender {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsAppSender{
		baseURL:       baseURL,
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		client:        &http.Client{Timeout: 15 * time.Second},
		logger:        logger.With("component", "outbound"),
	}
}

// sendRequest is the Cloud API message envelope.
type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             sendText `json:"text"`
}

type sendText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

// sendResponse is the subset of the provider response we consume.
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send delivers one text message. Non-2xx responses are returned as
// errors carrying the provider's response body.
func (s *WhatsAppSender) Send(ctx context.Context, userID string, msg Message) (*Delivery, error) {
	body, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               userID,
		Type:             "text",
		Text:             sendText{Body: msg.Text, PreviewURL: msg.PreviewURL},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending message to %s: %w", userID, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider rejected message for %s: status %d: %s", userID, resp.StatusCode, respBody)
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding send response: %w", err)
	}

	delivery := &Delivery{Accepted: true}
	if len(parsed.Messages) > 0 {
		delivery.MessageID = parsed.Messages[0].ID
	}

	s.logger.Debug("message sent", "user_id", userID, "provider_message_id", delivery.MessageID)
	return delivery, nil
}
