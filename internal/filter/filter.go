package filter

import (
	"strings"
	"time"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
)

// Stage names a step of the pipeline. A rejected Decision reports the stage
// that rejected it; an accepted one reports StageAccepted.
type Stage string

const (
	StageSettings      Stage = "settings"
	StageSelf          Stage = "self"
	StageSenderPattern Stage = "sender_pattern"
	StageSenderDomain  Stage = "sender_domain"
	StageSubject       Stage = "subject_pattern"
	StageCorrelation   Stage = "correlation"
	StageReplyIntent   Stage = "reply_intent"
	StageLoop          Stage = "loop"
	StageAccepted      Stage = "accepted"
)

// History is the tenant-side state the filter needs, gathered by the caller
// before evaluation so that Evaluate itself performs no I/O.
type History struct {
	// TenantEmail is the mailbox owner's address.
	TenantEmail string
	// CorrelatedEmailID is the auto-reply-enabled tenant email the sender
	// received, or "" when there is none.
	CorrelatedEmailID string
	// LastReplyAt is when the tenant last auto-replied to the sender.
	LastReplyAt *time.Time
	// ThreadReplied reports an auto-reply already sent in the same thread.
	ThreadReplied bool
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Accept          bool
	Stage           Stage
	Reason          string
	OutboundEmailID string
}

// Input bundles the arguments of a single evaluation.
type Input struct {
	Message  domain.InboundMessage
	Settings domain.ReplySettings
	History  History
	Now      time.Time
}

type stage struct {
	name  Stage
	check func(r *Rules, in Input) (reason string)
}

// pipeline is ordered cheapest and most selective first.
var pipeline = []stage{
	{StageSettings, checkSettings},
	{StageSelf, checkSelf},
	{StageSenderPattern, checkSenderPattern},
	{StageSenderDomain, checkSenderDomain},
	{StageSubject, checkSubject},
	{StageCorrelation, checkCorrelation},
	{StageReplyIntent, checkReplyIntent},
	{StageLoop, checkLoop},
}

// Evaluate runs the pipeline and returns the first rejection, or an accepting
// Decision carrying the correlated outbound email. It is deterministic for
// identical inputs.
func Evaluate(r *Rules, in Input) Decision {
	if r == nil {
		r = DefaultRules()
	}
	for _, s := range pipeline {
		if reason := s.check(r, in); reason != "" {
			return Decision{Stage: s.name, Reason: reason}
		}
	}
	return Decision{
		Accept:          true,
		Stage:           StageAccepted,
		OutboundEmailID: in.History.CorrelatedEmailID,
	}
}

func checkSettings(_ *Rules, in Input) string {
	if !in.Settings.Enabled {
		return "auto-reply disabled"
	}
	return ""
}

func checkSelf(_ *Rules, in Input) string {
	from := domain.NormalizeEmail(in.Message.From)
	switch {
	case from == "":
		return "missing sender"
	case from == domain.NormalizeEmail(in.History.TenantEmail):
		return "sent by tenant"
	case in.Message.HasLabel("SENT") || in.Message.HasLabel("DRAFT"):
		return "outgoing message"
	}
	return ""
}

func checkSenderPattern(r *Rules, in Input) string {
	from := strings.ToLower(in.Message.From)
	if p, ok := containsAny(from, r.SenderPatterns); ok {
		return "sender matches " + p
	}
	return ""
}

func checkSenderDomain(r *Rules, in Input) string {
	d := in.Message.SenderDomain()
	for _, ex := range r.ExcludedDomains {
		if d == ex || strings.HasSuffix(d, "."+ex) {
			return "sender domain " + ex
		}
	}
	return ""
}

func checkSubject(r *Rules, in Input) string {
	subject := strings.ToLower(in.Message.Subject)
	if p, ok := containsAny(subject, r.SubjectPatterns); ok {
		return "subject matches " + p
	}
	if len(in.Settings.SkipKeywords) > 0 {
		text := subject + "\n" + strings.ToLower(in.Message.Body)
		if k, ok := containsAny(text, lowerAll(in.Settings.SkipKeywords)); ok {
			return "skip keyword " + k
		}
	}
	return ""
}

func checkCorrelation(_ *Rules, in Input) string {
	if in.History.CorrelatedEmailID == "" {
		return "sender never received an auto-reply-enabled email"
	}
	return ""
}

func checkReplyIntent(r *Rules, in Input) string {
	subject := strings.ToLower(strings.TrimSpace(in.Message.Subject))
	if strings.HasPrefix(subject, "re:") || strings.HasPrefix(subject, "aw:") || strings.HasPrefix(subject, "sv:") {
		return ""
	}
	if in.Message.InReplyTo != "" {
		return ""
	}
	text := subject + "\n" + strings.ToLower(in.Message.Body)
	if _, ok := containsAny(text, r.ReplySignals); ok {
		return ""
	}
	return "no reply signal"
}

func checkLoop(r *Rules, in Input) string {
	m := in.Message
	if v := strings.ToLower(m.Header("Auto-Submitted")); v != "" && v != "no" {
		return "auto-submitted header"
	}
	if m.Header("X-Autoreply") != "" || m.Header("X-Autorespond") != "" {
		return "autoreply header"
	}
	if p, ok := containsAny(strings.ToLower(m.Header("Precedence")), r.BulkPrecedence); ok {
		return "precedence " + p
	}
	if m.Header("List-Id") != "" || m.Header("X-Failed-Recipients") != "" {
		return "list or bounce message"
	}
	if p, ok := containsAny(strings.ToLower(m.Subject), r.AutoReplySubject); ok {
		return "auto-reply subject " + p
	}
	if h := in.History; h.LastReplyAt != nil && in.Now.Sub(*h.LastReplyAt) < r.LoopWindow {
		return "replied to sender within loop window"
	}
	if in.Settings.OncePerThread && in.History.ThreadReplied {
		return "thread already answered"
	}
	return ""
}

func containsAny(s string, needles []string) (string, bool) {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return n, true
		}
	}
	return "", false
}
