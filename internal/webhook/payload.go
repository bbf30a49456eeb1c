// ABOUTME: WhatsApp Cloud API callback payload model and message extraction
// ABOUTME: Flattens the entry/changes/value nesting into flow messages

package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/chatforge/wce-gateway/internal/flow"
)

// Payload is the top-level callback envelope. One POST can batch
// several entries, each with several changes.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value holds the actual event data. Status-only deliveries carry
// Statuses and no Messages.
type Value struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         Metadata          `json:"metadata"`
	Contacts         []Contact         `json:"contacts,omitempty"`
	Messages         []InboundMessage  `json:"messages,omitempty"`
	Statuses         []json.RawMessage `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is one message inside a change value. Only the
// variants the gateway routes on are modeled; everything else rides
// along in the raw envelope.
type InboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button,omitempty"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name,omitempty"`
		Address   string  `json:"address,omitempty"`
	} `json:"location,omitempty"`
}

// Parse decodes a callback body.
func Parse(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decoding webhook payload: %w", err)
	}
	if p.Object != "whatsapp_business_account" {
		return nil, fmt.Errorf("unexpected webhook object %q", p.Object)
	}
	return &p, nil
}

// Messages flattens the payload into flow messages. Status-only
// changes contribute nothing.
func (p *Payload) Messages() []*flow.Message {
	var out []*flow.Message
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for i := range change.Value.Messages {
				out = append(out, convert(&change.Value.Messages[i], names))
			}
		}
	}
	return out
}

func convert(in *InboundMessage, names map[string]string) *flow.Message {
	msg := &flow.Message{
		UserID:    in.From,
		MessageID: in.ID,
		UserName:  names[in.From],
		Kind:      kindOf(in.Type),
		Timestamp: parseTimestamp(in.Timestamp),
	}
	switch {
	case in.Text != nil:
		msg.Text = in.Text.Body
	case in.Button != nil:
		msg.Text = in.Button.Text
	case in.Interactive != nil && in.Interactive.ButtonReply != nil:
		msg.Text = in.Interactive.ButtonReply.ID
	case in.Interactive != nil && in.Interactive.ListReply != nil:
		msg.Text = in.Interactive.ListReply.ID
	}
	if raw, err := json.Marshal(in); err == nil {
		msg.Raw = raw
	}
	return msg
}

func kindOf(t string) string {
	switch t {
	case "text":
		return flow.KindText
	case "interactive":
		return flow.KindInteractive
	case "button":
		return flow.KindButton
	case "image", "video", "audio", "document", "sticker":
		return flow.KindMedia
	case "location":
		return flow.KindLocation
	default:
		return flow.KindUnknown
	}
}

// parseTimestamp reads the provider's unix-seconds string; a bad value
// falls back to now rather than dropping the message.
func parseTimestamp(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(secs, 0)
}
