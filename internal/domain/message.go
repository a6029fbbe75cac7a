package domain

import "time"

// Modality is the kind of inbound message content. It determines which
// pipeline path runs.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
)

// MediaRef identifies remote audio to fetch from the messaging platform.
// MIMEType is the declared type when the platform provides one; it may be
// empty.
type MediaRef struct {
	ID       string
	MIMEType string
}

// Message is the normalized descriptor for one actionable inbound message.
// Exactly one of Text/Media is populated, matching Modality. Instances are
// produced by the classifier and never mutated afterwards.
type Message struct {
	Sender     string
	Modality   Modality
	Text       string
	Media      *MediaRef
	ReceivedAt time.Time
}
