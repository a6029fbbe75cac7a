package whatsapp

import (
	"encoding/json"
	"strings"
	"time"

	"voicebridge/internal/domain"
)

// Parse classifies a raw webhook delivery body into a normalized message
// descriptor. It is total over any input: anything malformed, incomplete or
// of an unsupported type yields nil, never an error. Side-effect free.
//
// The Cloud API nests at most one message per delivery at
// entry[0].changes[0].value.messages[0].
func Parse(body []byte) *domain.Message {
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	if len(payload.Entry) == 0 || len(payload.Entry[0].Changes) == 0 {
		return nil
	}
	msgs := payload.Entry[0].Changes[0].Value.Messages
	if len(msgs) == 0 {
		return nil
	}
	msg := msgs[0]

	if msg.From == "" {
		return nil
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil || strings.TrimSpace(msg.Text.Body) == "" {
			return nil
		}
		return &domain.Message{
			Sender:     msg.From,
			Modality:   domain.ModalityText,
			Text:       msg.Text.Body,
			ReceivedAt: time.Now(),
		}
	case "audio":
		if msg.Audio == nil || msg.Audio.ID == "" {
			return nil
		}
		return &domain.Message{
			Sender:   msg.From,
			Modality: domain.ModalityAudio,
			Media: &domain.MediaRef{
				ID:       msg.Audio.ID,
				MIMEType: msg.Audio.MIMEType,
			},
			ReceivedAt: time.Now(),
		}
	default:
		// Images, documents, locations, reactions — not actionable.
		return nil
	}
}

// --- Cloud API webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From  string   `json:"from"`
	ID    string   `json:"id"`
	Type  string   `json:"type"`
	Text  *waText  `json:"text,omitempty"`
	Audio *waAudio `json:"audio,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waAudio struct {
	ID       string `json:"id"`
	MIMEType string `json:"mime_type"`
}
