package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // non-UTF-8 body decoding
	"github.com/emersion/go-message/mail"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
)

// maxBodyBytes bounds the text kept in a job snapshot.
const maxBodyBytes = 64 << 10

// loopHeaders are copied into the snapshot for loop detection.
var loopHeaders = []string{
	"Auto-Submitted",
	"Precedence",
	"X-Autoreply",
	"X-Autorespond",
	"X-Auto-Response-Suppress",
	"List-Id",
	"List-Unsubscribe",
	"Return-Path",
	"X-Failed-Recipients",
}

var (
	horizontalSpace = regexp.MustCompile(`[^\S\n]+`)
	manyNewlines    = regexp.MustCompile(`\n{3,}`)
	invisibleRunes  = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{2060}-\x{2064}]+`)
)

// Parse reads an RFC 5322 message into an InboundMessage. Provider ids,
// labels and the receive time are left for the caller to fill.
func Parse(raw []byte) (domain.InboundMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return domain.InboundMessage{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	var msg domain.InboundMessage

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = domain.NormalizeEmail(from[0].Address)
		msg.FromName = from[0].Name
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			msg.To = append(msg.To, domain.NormalizeEmail(a.Address))
		}
	}
	msg.Subject, _ = h.Subject()
	msg.MessageIDHeader, _ = h.MessageID()
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		msg.InReplyTo = ids[0]
	}
	msg.References, _ = h.MsgIDList("References")
	if d, err := h.Date(); err == nil {
		msg.ReceivedAt = d.UTC()
	} else {
		msg.ReceivedAt = time.Now().UTC()
	}
	for _, name := range loopHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			if msg.Headers == nil {
				msg.Headers = make(map[string]string)
			}
			msg.Headers[name] = v
		}
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if p == nil || (err != nil && !message.IsUnknownCharset(err)) {
			// A broken part ends the walk; keep whatever was read.
			break
		}
		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			body, err := io.ReadAll(io.LimitReader(p.Body, maxBodyBytes))
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(ct, "text/plain") && plain == "":
				plain = string(body)
			case strings.HasPrefix(ct, "text/html") && html == "":
				html = string(body)
			}
		case *mail.AttachmentHeader:
			name, _ := ph.Filename()
			ct, _, _ := ph.ContentType()
			n, _ := io.Copy(io.Discard, p.Body)
			msg.Attachments = append(msg.Attachments, domain.Attachment{
				Filename:    name,
				ContentType: ct,
				Size:        int(n),
			})
		}
	}

	switch {
	case strings.TrimSpace(plain) != "":
		msg.Body = strings.TrimSpace(plain)
	case html != "":
		text, err := HTMLToText(html)
		if err != nil {
			return msg, fmt.Errorf("html body: %w", err)
		}
		msg.Body = text
	}
	return msg, nil
}

// HTMLToText converts an HTML body into readable plain text.
func HTMLToText(html string) (string, error) {
	if html == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, head, meta, link").Remove()
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := invisibleRunes.ReplaceAllString(doc.Text(), "")
	text = horizontalSpace.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	text = manyNewlines.ReplaceAllString(strings.Join(kept, "\n"), "\n\n")
	return strings.TrimSpace(text), nil
}
