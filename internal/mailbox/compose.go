package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
)

// Reply is a composed auto-reply ready to hand to Provider.Send.
type Reply struct {
	Raw       []byte
	MessageID string
	Subject   string
	To        string
}

// ReplySubject prefixes "Re: " unless the subject already carries it.
func ReplySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(s), "re:") {
		return s
	}
	if s == "" {
		return "Re:"
	}
	return "Re: " + s
}

// ComposeReply builds a threaded plain-text reply from tenant to the sender
// of in. The message is marked Auto-Submitted so well-behaved responders on
// the other side do not answer it.
func ComposeReply(tenant *domain.Tenant, in domain.InboundMessage, body string, now time.Time) (Reply, error) {
	if in.From == "" {
		return Reply{}, fmt.Errorf("compose: inbound message has no sender")
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: tenant.DisplayName, Address: tenant.Email}})
	h.SetAddressList("To", []*mail.Address{{Name: in.FromName, Address: in.From}})
	subject := ReplySubject(in.Subject)
	h.SetSubject(subject)
	if in.MessageIDHeader != "" {
		h.SetMsgIDList("In-Reply-To", []string{in.MessageIDHeader})
		refs := append(append([]string(nil), in.References...), in.MessageIDHeader)
		h.SetMsgIDList("References", refs)
	}
	if err := h.GenerateMessageID(); err != nil {
		return Reply{}, fmt.Errorf("compose: message id: %w", err)
	}
	h.Set("Auto-Submitted", "auto-replied")
	h.Set("X-Auto-Response-Suppress", "All")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return Reply{}, fmt.Errorf("compose: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return Reply{}, fmt.Errorf("compose: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return Reply{}, fmt.Errorf("compose: %w", err)
	}

	id, _ := h.MessageID()
	return Reply{Raw: buf.Bytes(), MessageID: id, Subject: subject, To: in.From}, nil
}
