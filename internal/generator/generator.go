package generator

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-autoreply-backend/internal/config"
	"github.com/tbourn/go-autoreply-backend/internal/domain"
)

var tracer = otel.Tracer("generator")

// Request is one reply to produce.
type Request struct {
	Tenant   *domain.Tenant
	Settings domain.ReplySettings
	Message  domain.InboundMessage
}

// Result is the produced reply body and how it was made.
type Result struct {
	Content        string
	AIGenerated    bool
	TokensUsed     int
	Classification Classification
	Analysis       Analysis
	// FallbackReason is set when the AI path was attempted but a template
	// was used instead.
	FallbackReason string
}

// Generator produces reply bodies. The AI path is globally rate limited;
// every failure on it degrades to the deterministic template.
type Generator struct {
	completer   Completer
	limiter     *rate.Limiter
	cache       *Cache
	maxTokens   int
	temperature float64
}

// Option customizes a Generator.
type Option func(*Generator)

// WithLimiter replaces the global AI rate limiter.
func WithLimiter(l *rate.Limiter) Option { return func(g *Generator) { g.limiter = l } }

// WithCache replaces the completion cache.
func WithCache(c *Cache) Option { return func(g *Generator) { g.cache = c } }

// New builds a Generator. A nil completer disables the AI path entirely.
func New(completer Completer, cfg config.GeneratorConfig, opts ...Option) *Generator {
	perMin := cfg.RatePerMin
	if perMin < 1 {
		perMin = 1
	}
	g := &Generator{
		completer:   completer,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin),
		cache:       NewCache(cfg.CacheSize, cfg.CacheTTL),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// AIAvailable reports whether an AI provider is configured.
func (g *Generator) AIAvailable() bool { return g.completer != nil }

// Generate returns the reply content for req. It only returns an error when
// ctx is done; provider failures fall back to the template.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "Generate")
	defer span.End()

	a := Analyze(req.Message)
	vars := Variables(req.Tenant, req.Message, req.Settings.Tone)
	res := Result{Classification: a.Classification, Analysis: a}
	span.SetAttributes(attribute.String("classification", string(a.Classification)))

	if req.Settings.Mode == domain.ModeAI && g.completer != nil {
		c, err := g.complete(ctx, req, a)
		if err == nil {
			res.Content = Personalize(PostProcess(c.Text, req.Settings.Tone), vars)
			res.AIGenerated = true
			res.TokensUsed = c.TokensUsed
			span.SetAttributes(attribute.Bool("ai", true))
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		res.FallbackReason = err.Error()
		log.Ctx(ctx).Warn().Err(err).
			Str("tenant_id", tenantID(req.Tenant)).
			Str("classification", string(a.Classification)).
			Msg("ai generation failed; using template")
	}

	res.Content = Personalize(Template(a.Classification), vars)
	return res, nil
}

func (g *Generator) complete(ctx context.Context, req Request, a Analysis) (Completion, error) {
	key, keyErr := keyFor(tenantID(req.Tenant), a.Classification, string(req.Settings.Tone), req.Message.Subject, req.Message.Body)
	if keyErr == nil {
		if c, ok := g.cache.Get(key); ok {
			// Cache hits cost no tokens.
			c.TokensUsed = 0
			return c, nil
		}
	}
	if !g.limiter.Allow() {
		return Completion{}, ErrRateLimited
	}

	cr := buildPrompt(req.Tenant, req.Settings, req.Message, a)
	cr.MaxTokens = g.maxTokens
	cr.Temperature = g.temperature
	c, err := g.completer.Complete(ctx, cr)
	if err != nil {
		return Completion{}, err
	}
	if strings.TrimSpace(PostProcess(c.Text, req.Settings.Tone)) == "" {
		return Completion{}, ErrEmptyCompletion
	}
	if keyErr == nil {
		g.cache.Put(key, c)
	}
	return c, nil
}

func tenantID(t *domain.Tenant) string {
	if t == nil {
		return ""
	}
	return t.ID
}
