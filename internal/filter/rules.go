// Package filter decides whether an inbound message deserves an automated
// reply. Evaluate is a pure, short-circuiting pipeline of named stages; the
// exclusion lists it consults are versioned data loaded from YAML and
// hot-reloaded, so tuning does not require a redeploy.
package filter

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Rules is one immutable version of the filter configuration. All entries
// are stored lower-cased.
type Rules struct {
	Version          string        `mapstructure:"version"`
	SenderPatterns   []string      `mapstructure:"sender_patterns"`
	ExcludedDomains  []string      `mapstructure:"excluded_domains"`
	SubjectPatterns  []string      `mapstructure:"subject_patterns"`
	ReplySignals     []string      `mapstructure:"reply_signals"`
	AutoReplySubject []string      `mapstructure:"auto_reply_subjects"`
	BulkPrecedence   []string      `mapstructure:"bulk_precedence"`
	LoopWindow       time.Duration `mapstructure:"loop_window"`
}

// DefaultRules returns the built-in rule set used when no file is configured
// and as the fallback for keys a file omits.
func DefaultRules() *Rules {
	r := &Rules{
		Version: "builtin-1",
		SenderPatterns: []string{
			"noreply", "no-reply", "donotreply", "do-not-reply", "mailer-daemon",
			"postmaster", "bounce", "notification", "notifications", "alert",
			"newsletter", "marketing", "promo", "deals", "offers", "news@",
			"info@", "support@", "help@", "billing@", "invoice", "receipt",
			"automated", "system@", "admin@", "digest", "updates@",
		},
		ExcludedDomains: []string{
			"facebookmail.com", "linkedin.com", "twitter.com", "x.com",
			"google.com", "accounts.google.com", "apple.com", "microsoft.com",
			"amazon.com", "amazonses.com", "ebay.com", "paypal.com", "shopify.com",
			"stripe.com", "github.com", "slack.com", "zoom.us", "mailchimp.com",
			"mailchimpapp.net", "sendgrid.net", "mandrillapp.com", "mailgun.org",
			"hubspot.com", "hubspotemail.net", "constantcontact.com", "sparkpostmail.com",
		},
		SubjectPatterns: []string{
			"deal", "sale", "% off", "discount", "offer", "promotion", "coupon",
			"newsletter", "unsubscribe", "webinar", "your order", "order confirmation",
			"receipt", "invoice", "password reset", "verify your", "verification code",
			"security alert", "sign-in", "welcome to", "delivery status notification",
			"undeliverable", "mail delivery failed", "returned mail",
		},
		ReplySignals: []string{
			"thank", "thanks", "following up", "follow up", "follow-up",
			"got your", "received your", "sounds good", "appreciate", "interested",
			"let me know", "get back to you", "replying to", "in response to",
			"per your email", "as discussed", "quick question",
		},
		AutoReplySubject: []string{
			"automatic reply", "auto reply", "auto-reply", "autoreply",
			"out of office", "out of the office", "ooo:", "away from",
			"vacation", "auto:", "automatische antwort", "réponse automatique",
		},
		BulkPrecedence: []string{"bulk", "junk", "list", "auto_reply"},
		LoopWindow:     24 * time.Hour,
	}
	return r.normalize()
}

func (r *Rules) normalize() *Rules {
	r.Version = strings.TrimSpace(r.Version)
	r.SenderPatterns = lowerAll(r.SenderPatterns)
	r.ExcludedDomains = lowerAll(r.ExcludedDomains)
	r.SubjectPatterns = lowerAll(r.SubjectPatterns)
	r.ReplySignals = lowerAll(r.ReplySignals)
	r.AutoReplySubject = lowerAll(r.AutoReplySubject)
	r.BulkPrecedence = lowerAll(r.BulkPrecedence)
	return r
}

// Validate rejects rule files that would turn stages off by accident.
func (r *Rules) Validate() error {
	if r.Version == "" {
		return errors.New("filter rules: version is required")
	}
	if r.LoopWindow <= 0 {
		return errors.New("filter rules: loop_window must be > 0")
	}
	if len(r.ReplySignals) == 0 {
		return errors.New("filter rules: reply_signals must not be empty")
	}
	return nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// RuleSet holds the active Rules and swaps them atomically on reload.
type RuleSet struct {
	cur atomic.Pointer[Rules]
	v   *viper.Viper
}

// NewRuleSet returns a RuleSet fixed to r, or to the defaults when r is nil.
func NewRuleSet(r *Rules) *RuleSet {
	if r == nil {
		r = DefaultRules()
	}
	rs := &RuleSet{}
	rs.cur.Store(r)
	return rs
}

// LoadRuleSet reads rules from a YAML (or any viper-supported) file. Keys
// the file omits keep their built-in defaults. An empty path yields the
// defaults.
func LoadRuleSet(path string) (*RuleSet, error) {
	if strings.TrimSpace(path) == "" {
		return NewRuleSet(DefaultRules()), nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v, DefaultRules())

	r, err := readRules(v)
	if err != nil {
		return nil, err
	}
	rs := NewRuleSet(r)
	rs.v = v
	return rs, nil
}

func setDefaults(v *viper.Viper, d *Rules) {
	v.SetDefault("version", d.Version)
	v.SetDefault("sender_patterns", d.SenderPatterns)
	v.SetDefault("excluded_domains", d.ExcludedDomains)
	v.SetDefault("subject_patterns", d.SubjectPatterns)
	v.SetDefault("reply_signals", d.ReplySignals)
	v.SetDefault("auto_reply_subjects", d.AutoReplySubject)
	v.SetDefault("bulk_precedence", d.BulkPrecedence)
	v.SetDefault("loop_window", d.LoopWindow)
}

func readRules(v *viper.Viper) (*Rules, error) {
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("filter rules: read %s: %w", v.ConfigFileUsed(), err)
	}
	var r Rules
	if err := v.Unmarshal(&r); err != nil {
		return nil, fmt.Errorf("filter rules: decode: %w", err)
	}
	r.normalize()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Current returns the active rules.
func (rs *RuleSet) Current() *Rules { return rs.cur.Load() }

// Watch reloads the rules when the backing file changes. An invalid file is
// logged and the previous version stays active. onReload, when non-nil, is
// called after every successful swap.
func (rs *RuleSet) Watch(onReload func(*Rules)) {
	if rs.v == nil {
		return
	}
	rs.v.OnConfigChange(func(e fsnotify.Event) {
		r, err := readRules(rs.v)
		if err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("filter rules reload rejected")
			return
		}
		prev := rs.cur.Swap(r)
		log.Info().
			Str("file", e.Name).
			Str("from_version", prev.Version).
			Str("to_version", r.Version).
			Msg("filter rules reloaded")
		if onReload != nil {
			onReload(r)
		}
	})
	rs.v.WatchConfig()
}
