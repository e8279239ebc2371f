package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/tbourn/go-autoreply-backend/internal/domain"
)

const gmailUser = "me"

// GmailFactory builds Gmail providers from tenant credential blobs. The blob
// is the JSON encoding of an oauth2.Token issued by the identity provider.
type GmailFactory struct {
	OAuth   *oauth2.Config
	Options []option.ClientOption
}

// NewGmailFactory returns a factory configured with the OAuth client the
// tokens were issued for.
func NewGmailFactory(clientID, clientSecret string, opts ...option.ClientOption) *GmailFactory {
	return &GmailFactory{
		OAuth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmail.GmailModifyScope},
		},
		Options: opts,
	}
}

// ForTenant implements Factory.
func (f *GmailFactory) ForTenant(ctx context.Context, tenant *domain.Tenant) (Provider, error) {
	if strings.TrimSpace(tenant.Credentials) == "" {
		return nil, &AuthError{Err: errors.New("tenant has no credentials")}
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(tenant.Credentials), &tok); err != nil {
		return nil, &AuthError{Err: fmt.Errorf("decode credentials: %w", err)}
	}
	// Token refreshes outlive the request that created the provider.
	ts := f.OAuth.TokenSource(context.WithoutCancel(ctx), &tok)

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, f.Options...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return &GmailProvider{svc: svc}, nil
}

// GmailProvider implements Provider over the Gmail REST API.
type GmailProvider struct {
	svc *gmail.Service
}

// NewGmailProvider wraps an existing Gmail service.
func NewGmailProvider(svc *gmail.Service) *GmailProvider {
	return &GmailProvider{svc: svc}
}

// ListHistory pages through messageAdded history on INBOX from start.
func (g *GmailProvider) ListHistory(ctx context.Context, start uint64) (HistoryPage, error) {
	var page HistoryPage
	seen := make(map[string]struct{})
	call := g.svc.Users.History.List(gmailUser).
		StartHistoryId(start).
		HistoryTypes("messageAdded").
		LabelId(LabelInbox)
	err := call.Pages(ctx, func(r *gmail.ListHistoryResponse) error {
		for _, h := range r.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil {
					continue
				}
				if _, dup := seen[added.Message.Id]; dup {
					continue
				}
				seen[added.Message.Id] = struct{}{}
				page.Messages = append(page.Messages, HistoryRef{
					MessageID: added.Message.Id,
					ThreadID:  added.Message.ThreadId,
					LabelIDs:  added.Message.LabelIds,
				})
			}
		}
		if r.HistoryId > page.LatestCursor {
			page.LatestCursor = r.HistoryId
		}
		return nil
	})
	if err != nil {
		return HistoryPage{}, classify("history.list", err, true)
	}
	return page, nil
}

// GetMessage fetches the raw RFC 5322 source and parses it.
func (g *GmailProvider) GetMessage(ctx context.Context, id string) (domain.InboundMessage, error) {
	m, err := g.svc.Users.Messages.Get(gmailUser, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return domain.InboundMessage{}, classify("messages.get", err, false)
	}
	raw, err := decodeRaw(m.Raw)
	if err != nil {
		return domain.InboundMessage{}, fmt.Errorf("decode message %s: %w", id, err)
	}
	msg, err := Parse(raw)
	if err != nil {
		return domain.InboundMessage{}, fmt.Errorf("parse message %s: %w", id, err)
	}
	msg.ID = m.Id
	msg.ThreadID = m.ThreadId
	msg.LabelIDs = m.LabelIds
	if m.InternalDate > 0 {
		msg.ReceivedAt = time.UnixMilli(m.InternalDate).UTC()
	}
	return msg, nil
}

// Send submits raw and returns the provider ids.
func (g *GmailProvider) Send(ctx context.Context, raw []byte, threadID string) (SentMessage, error) {
	out, err := g.svc.Users.Messages.Send(gmailUser, &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: threadID,
	}).Context(ctx).Do()
	if err != nil {
		return SentMessage{}, classify("messages.send", err, false)
	}
	return SentMessage{ID: out.Id, ThreadID: out.ThreadId}, nil
}

// Watch registers an INBOX push subscription on topic.
func (g *GmailProvider) Watch(ctx context.Context, topic string) (WatchResult, error) {
	resp, err := g.svc.Users.Watch(gmailUser, &gmail.WatchRequest{
		TopicName:         topic,
		LabelIds:          []string{LabelInbox},
		LabelFilterAction: "include",
	}).Context(ctx).Do()
	if err != nil {
		return WatchResult{}, classify("users.watch", err, false)
	}
	return WatchResult{
		Cursor:     resp.HistoryId,
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// Stop cancels the push subscription.
func (g *GmailProvider) Stop(ctx context.Context) error {
	if err := g.svc.Users.Stop(gmailUser).Context(ctx).Do(); err != nil {
		return classify("users.stop", err, false)
	}
	return nil
}

// decodeRaw accepts both padded and unpadded URL-safe base64.
func decodeRaw(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}
