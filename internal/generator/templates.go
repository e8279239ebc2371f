package generator

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/search"
)

var templates = map[Classification]string{
	ClassInquiry: "{{greeting}} {{sender_first_name}},\n\n" +
		"Thank you for your question about \"{{subject}}\". I have received your message and will get back to you with the details shortly.\n\n" +
		"{{closing}}\n{{first_name}}\n{{signature}}",
	ClassMeetingRequest: "{{greeting}} {{sender_first_name}},\n\n" +
		"Thanks for reaching out about meeting. I will check my calendar and confirm a time that works for both of us soon.\n\n" +
		"{{closing}}\n{{first_name}}\n{{signature}}",
	ClassSupport: "{{greeting}} {{sender_first_name}},\n\n" +
		"Thank you for letting me know. I have noted the issue you described and will follow up as soon as possible.\n\n" +
		"{{closing}}\n{{first_name}}\n{{signature}}",
	ClassAppreciation: "{{greeting}} {{sender_first_name}},\n\n" +
		"Thank you for your kind words, it is much appreciated. I look forward to continuing our work together.\n\n" +
		"{{closing}}\n{{first_name}}\n{{signature}}",
	ClassGeneral: "{{greeting}} {{sender_first_name}},\n\n" +
		"Thank you for your reply. I have received your message and will respond personally shortly.\n\n" +
		"{{closing}}\n{{first_name}}\n{{signature}}",
}

// Template returns the reply template for class, falling back to general.
func Template(class Classification) string {
	if t, ok := templates[class]; ok {
		return t
	}
	return templates[ClassGeneral]
}

func greeting(tone domain.Tone) string {
	switch tone {
	case domain.ToneFormal:
		return "Dear"
	case domain.ToneFriendly, domain.ToneCasual:
		return "Hi"
	}
	return "Hello"
}

func closing(tone domain.Tone) string {
	switch tone {
	case domain.ToneFormal:
		return "Kind regards,"
	case domain.ToneFriendly:
		return "Thanks again,"
	case domain.ToneCasual:
		return "Cheers,"
	}
	return "Best regards,"
}

var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

var titleCase = cases.Title(language.English)

// Variables builds the personalization map for one reply. Empty values are
// omitted so that they render as explicit placeholders.
func Variables(tenant *domain.Tenant, msg domain.InboundMessage, tone domain.Tone) map[string]string {
	vars := map[string]string{
		"greeting": greeting(tone),
		"closing":  closing(tone),
		"subject":  strings.TrimSpace(stripReplyPrefix(msg.Subject)),
	}
	if tenant != nil {
		vars["first_name"] = tenant.FirstName
		vars["display_name"] = tenant.DisplayName
		vars["company"] = tenant.Company
		vars["signature"] = tenant.Signature
	}
	vars["sender_name"] = msg.FromName
	vars["sender_first_name"] = senderFirstName(msg)
	for k, v := range vars {
		if strings.TrimSpace(v) == "" {
			delete(vars, k)
		}
	}
	return vars
}

// Personalize replaces {{var}} placeholders with vars. An unresolved
// variable is rendered as [var] rather than failing.
func Personalize(text string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return "[" + name + "]"
	})
}

// senderFirstName prefers the display name, else derives one from the local
// part of the address ("jane.doe@" -> "Jane").
func senderFirstName(msg domain.InboundMessage) string {
	if f := strings.Fields(msg.FromName); len(f) > 0 {
		if name := strings.Trim(f[0], `"',`); name != "" {
			return name
		}
	}
	local := msg.From
	if at := strings.IndexByte(local, '@'); at >= 0 {
		local = local[:at]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+' || (r >= '0' && r <= '9')
	})
	if len(parts) == 0 {
		return ""
	}
	return titleCase.String(parts[0])
}

func stripReplyPrefix(s string) string {
	for {
		t := strings.TrimSpace(s)
		low := strings.ToLower(t)
		if strings.HasPrefix(low, "re:") || strings.HasPrefix(low, "fw:") {
			s = t[3:]
			continue
		}
		if strings.HasPrefix(low, "fwd:") {
			s = t[4:]
			continue
		}
		return t
	}
}

var (
	preamble     = regexp.MustCompile(`(?i)^(sure|certainly|of course|here is|here's)[^\n]*:\s*\n+`)
	subjectLine  = regexp.MustCompile(`(?im)^subject:[^\n]*\n+`)
	closingWords = []string{"regards", "best", "thanks", "thank you", "cheers", "sincerely"}
)

// PostProcess cleans a raw completion: it strips assistant preambles,
// Subject lines and wrapping quotes, and appends a closing when the draft
// has none.
func PostProcess(text string, tone domain.Tone) string {
	text = strings.TrimSpace(text)
	text = preamble.ReplaceAllString(text, "")
	text = subjectLine.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	if len(text) >= 2 && (text[0] == '"' && text[len(text)-1] == '"') {
		text = strings.TrimSpace(text[1 : len(text)-1])
	}
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	tail := strings.ToLower(strings.Join(lines[max(0, len(lines)-3):], "\n"))
	for _, w := range closingWords {
		if strings.Contains(tail, w) {
			return text
		}
	}
	return text + "\n\n" + closing(tone) + "\n{{first_name}}"
}

// maxPromptBody bounds how much of the inbound body is sent to the provider.
const maxPromptBody = 2000

// Business context up to inlineContextRunes is sent whole; longer context is
// reduced to the contextSnippets paragraphs most related to the message.
const (
	inlineContextRunes = 600
	contextSnippets    = 3
)

func businessContext(raw string, msg domain.InboundMessage) string {
	raw = strings.TrimSpace(raw)
	if len([]rune(raw)) <= inlineContextRunes {
		return raw
	}
	hits := search.NewIndex(raw).TopK(msg.Subject+"\n"+msg.Body, contextSnippets)
	if len(hits) == 0 {
		return string([]rune(raw)[:inlineContextRunes])
	}
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.Snippet
	}
	return strings.Join(parts, "\n")
}

func buildPrompt(tenant *domain.Tenant, settings domain.ReplySettings, msg domain.InboundMessage, a Analysis) CompletionRequest {
	var sys strings.Builder
	sys.WriteString("You write short, polite email replies on behalf of the mailbox owner. ")
	sys.WriteString("Reply in a " + string(toneOrDefault(settings.Tone)) + " tone. ")
	sys.WriteString("Do not invent facts, prices, dates or commitments. Do not include a subject line. ")
	sys.WriteString("Sign off with {{first_name}}.")
	if tenant != nil && tenant.Company != "" {
		sys.WriteString(" The owner works at " + tenant.Company + ".")
	}
	if c := businessContext(settings.BusinessContext, msg); c != "" {
		sys.WriteString("\nBusiness context: " + c)
	}

	body := msg.Body
	if len(body) > maxPromptBody {
		body = body[:maxPromptBody]
	}
	var user strings.Builder
	user.WriteString("Message type: " + string(a.Classification) + "\n")
	user.WriteString("Sender sentiment: " + string(a.Sentiment) + ", urgency: " + string(a.Urgency) + "\n")
	user.WriteString("From: " + msg.FromName + " <" + msg.From + ">\n")
	user.WriteString("Subject: " + msg.Subject + "\n\n")
	user.WriteString(body)

	return CompletionRequest{System: sys.String(), User: user.String()}
}

func toneOrDefault(t domain.Tone) domain.Tone {
	if t == "" {
		return domain.ToneProfessional
	}
	return t
}
