package domain

import (
	"strings"
	"time"
)

// Attachment is metadata about a MIME part carried by an inbound message.
// Content is never stored.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// InboundMessage is the normalized snapshot of a new mailbox message. It is
// transient in the pipeline and persisted only as a JSON column on ReplyJob.
type InboundMessage struct {
	ID              string            `json:"id"`
	ThreadID        string            `json:"thread_id"`
	From            string            `json:"from"`
	FromName        string            `json:"from_name,omitempty"`
	To              []string          `json:"to,omitempty"`
	Subject         string            `json:"subject"`
	Body            string            `json:"body"`
	MessageIDHeader string            `json:"message_id_header,omitempty"`
	InReplyTo       string            `json:"in_reply_to,omitempty"`
	References      []string          `json:"references,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	LabelIDs        []string          `json:"label_ids,omitempty"`
	Attachments     []Attachment      `json:"attachments,omitempty"`
	ReceivedAt      time.Time         `json:"received_at"`
}

// Header returns a loop-relevant header by case-insensitive name.
func (m InboundMessage) Header(name string) string {
	if len(m.Headers) == 0 {
		return ""
	}
	if v, ok := m.Headers[name]; ok {
		return v
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// HasLabel reports whether the provider tagged the message with label.
func (m InboundMessage) HasLabel(label string) bool {
	for _, l := range m.LabelIDs {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// SenderDomain returns the lower-cased domain of From, or "".
func (m InboundMessage) SenderDomain() string {
	at := strings.LastIndexByte(m.From, '@')
	if at < 0 || at == len(m.From)-1 {
		return ""
	}
	return strings.ToLower(m.From[at+1:])
}
