// Package generator produces the body of an automated reply. It classifies
// the inbound message with keyword heuristics, optionally asks an AI
// completion provider for a draft (globally rate limited and cached), and
// always falls back to a deterministic template so a reply can be produced
// whenever the pipeline decided one is due.
package generator

import (
	"strings"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
)

// Classification is the coarse intent of an inbound message.
type Classification string

const (
	ClassInquiry        Classification = "inquiry"
	ClassMeetingRequest Classification = "meeting_request"
	ClassSupport        Classification = "support"
	ClassAppreciation   Classification = "appreciation"
	ClassGeneral        Classification = "general"
)

// Sentiment is the estimated emotional tone of the sender.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Urgency is the estimated time pressure expressed by the sender.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Analysis is the heuristic reading of a message.
type Analysis struct {
	Classification Classification
	Sentiment      Sentiment
	Urgency        Urgency
}

// Order matters: the first class whose keywords score highest wins ties.
var classKeywords = []struct {
	class    Classification
	keywords []string
}{
	{ClassMeetingRequest, []string{"meeting", "call", "schedule", "calendar", "availability", "available", "zoom", "meet", "appointment", "slot", "catch up"}},
	{ClassSupport, []string{"issue", "problem", "error", "bug", "broken", "not working", "help", "fix", "urgent", "support", "trouble"}},
	{ClassInquiry, []string{"question", "how much", "price", "pricing", "quote", "cost", "details", "information", "could you", "can you", "wondering", "?"}},
	{ClassAppreciation, []string{"thank", "thanks", "appreciate", "grateful", "great work", "well done", "awesome", "excellent"}},
}

var (
	positiveWords = []string{"great", "thanks", "thank", "love", "excellent", "happy", "glad", "appreciate", "perfect", "awesome", "good"}
	negativeWords = []string{"disappointed", "unhappy", "problem", "issue", "angry", "frustrated", "bad", "terrible", "poor", "not working", "complaint"}
	urgentWords   = []string{"urgent", "asap", "immediately", "right away", "emergency", "critical", "today", "deadline"}
	relaxedWords  = []string{"no rush", "whenever", "when you get a chance", "no hurry", "at your convenience"}
)

// Analyze classifies msg and estimates sentiment and urgency.
func Analyze(msg domain.InboundMessage) Analysis {
	text := strings.ToLower(msg.Subject + "\n" + msg.Body)
	return Analysis{
		Classification: classify(text),
		Sentiment:      sentiment(text),
		Urgency:        urgency(text),
	}
}

func classify(text string) Classification {
	best, bestScore := ClassGeneral, 0
	for _, ck := range classKeywords {
		if s := countMatches(text, ck.keywords); s > bestScore {
			best, bestScore = ck.class, s
		}
	}
	return best
}

func sentiment(text string) Sentiment {
	pos, neg := countMatches(text, positiveWords), countMatches(text, negativeWords)
	switch {
	case pos > neg:
		return SentimentPositive
	case neg > pos:
		return SentimentNegative
	}
	return SentimentNeutral
}

func urgency(text string) Urgency {
	switch {
	case countMatches(text, urgentWords) > 0:
		return UrgencyHigh
	case countMatches(text, relaxedWords) > 0:
		return UrgencyLow
	}
	return UrgencyNormal
}

func countMatches(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}
