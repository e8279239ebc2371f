// Mailbox push webhook.
//
//   - POST /webhooks/gmail
//
// The body is a Pub/Sub push envelope whose message.data is base64 JSON
// {"emailAddress": "...", "historyId": ...}. Both layers are validated
// against JSON schemas before the notification reaches the pipeline.
package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tbourn/go-autoreply-backend/internal/http/middleware"
	"github.com/tbourn/go-autoreply-backend/internal/mailbox"
	"github.com/tbourn/go-autoreply-backend/internal/services"
)

const (
	envelopeSchemaURL = "mem://autoreply/push-envelope.json"
	payloadSchemaURL  = "mem://autoreply/push-payload.json"

	envelopeSchema = `{
  "type": "object",
  "required": ["message"],
  "properties": {
    "message": {
      "type": "object",
      "required": ["data", "messageId"],
      "properties": {
        "data":        {"type": "string", "minLength": 1},
        "messageId":   {"type": "string", "minLength": 1, "maxLength": 256},
        "publishTime": {"type": "string"},
        "attributes":  {"type": "object"}
      }
    },
    "subscription": {"type": "string"}
  }
}`

	payloadSchema = `{
  "type": "object",
  "required": ["emailAddress", "historyId"],
  "properties": {
    "emailAddress": {"type": "string", "minLength": 3, "maxLength": 320, "pattern": "^[^@\\s]+@[^@\\s]+$"},
    "historyId": {
      "oneOf": [
        {"type": "integer", "minimum": 1},
        {"type": "string", "pattern": "^[1-9][0-9]{0,19}$"}
      ]
    }
  }
}`
)

// PushEnvelope is the Pub/Sub push request body.
type PushEnvelope struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription,omitempty"`
}

type pushPayload struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// WebhookValidator validates and decodes push requests.
type WebhookValidator struct {
	envelope *jsonschema.Schema
	payload  *jsonschema.Schema
}

// NewWebhookValidator compiles the envelope and payload schemas.
func NewWebhookValidator() (*WebhookValidator, error) {
	c := jsonschema.NewCompiler()
	for url, src := range map[string]string{envelopeSchemaURL: envelopeSchema, payloadSchemaURL: payloadSchema} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("schema %s: %w", url, err)
		}
	}
	env, err := c.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, err
	}
	pl, err := c.Compile(payloadSchemaURL)
	if err != nil {
		return nil, err
	}
	return &WebhookValidator{envelope: env, payload: pl}, nil
}

// MustWebhookValidator is NewWebhookValidator for static schemas.
func MustWebhookValidator() *WebhookValidator {
	v, err := NewWebhookValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Decode validates body and returns the notification it carries. Every
// failure is a *services.ValidationError.
func (v *WebhookValidator) Decode(body []byte) (services.Notification, error) {
	var n services.Notification

	if err := validate(v.envelope, body); err != nil {
		return n, services.Invalid("envelope", err.Error())
	}
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return n, services.Invalid("envelope", "malformed JSON")
	}

	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		if data, err = base64.URLEncoding.DecodeString(env.Message.Data); err != nil {
			return n, services.Invalid("message.data", "not base64")
		}
	}
	if err := validate(v.payload, data); err != nil {
		return n, services.Invalid("message.data", err.Error())
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var p pushPayload
	if err := dec.Decode(&p); err != nil {
		return n, services.Invalid("message.data", "malformed JSON")
	}
	hid, err := strconv.ParseUint(p.HistoryID.String(), 10, 64)
	if err != nil || hid == 0 {
		return n, services.Invalid("historyId", "must be a positive integer")
	}

	n.PushID = env.Message.MessageID
	n.EmailAddress = strings.TrimSpace(p.EmailAddress)
	n.HistoryID = hid
	return n, nil
}

func validate(s *jsonschema.Schema, raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return errors.New("malformed JSON")
	}
	var ve *jsonschema.ValidationError
	if err := s.Validate(inst); err != nil {
		if errors.As(err, &ve) {
			return errors.New(firstLine(ve.Error()))
		}
		return err
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Webhook godoc
// @ID          gmailWebhook
// @Summary     Receive a mailbox push notification
// @Description Validates the Pub/Sub envelope, resolves the tenant, lists new history and enqueues reply jobs. Responds only after the chain completed.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.PushEnvelope  true  "Pub/Sub push envelope"
// @Success     200   {object}  services.IngestResult
// @Failure     400   {object}  handlers.ErrorResponse  "Malformed payload or inactive subscription"
// @Failure     404   {object}  handlers.ErrorResponse  "Unknown mailbox"
// @Failure     429   {object}  handlers.ErrorResponse  "Tenant notification rate exceeded"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /webhooks/gmail [post]
func (h *Handlers) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}
	n, err := h.webhook.Decode(body)
	if err != nil {
		failErr(c, err)
		return
	}

	lg := middleware.LoggerFrom(c)
	res, err := h.ingest.HandleNotification(c.Request.Context(), n)
	if err != nil {
		lg.Warn().Err(err).Str("push_id", n.PushID).Uint64("history_id", n.HistoryID).Msg("notification not processed")
		if mailbox.IsAuth(err) {
			// The ingest path has already deactivated the subscription.
			fail(c, http.StatusBadRequest, ErrCodeSubscriptionInactive, "mailbox watch is not active")
			return
		}
		failErr(c, err)
		return
	}
	lg.Info().
		Str("tenant_id", res.TenantID).
		Str("push_id", n.PushID).
		Bool("replayed", res.Replayed).
		Int("enqueued", res.Enqueued).
		Msg("notification processed")
	ok(c, http.StatusOK, res)
}
