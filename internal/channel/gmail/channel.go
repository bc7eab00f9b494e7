// Package gmail implements the Gmail ingress/egress channel: polling the
// inbox for unread messages from configured owner addresses and sending
// outbound messages through the Gmail API.
package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"agentcore/pkg/channel"
	"agentcore/pkg/logger"
)

// Config gmail 渠道配置
type Config struct {
	CredentialsFile string        `json:"credentialsFile"`
	TokenFile       string        `json:"tokenFile"`
	PollInterval    time.Duration `json:"pollInterval"`
	OwnerEmails     []string      `json:"ownerEmails"` // empty means accept from anyone
}

// TokenSource is injected so tests can supply a fake token without an
// OAuth2 round trip.
type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Channel gmail 渠道实现
type Channel struct {
	config  Config
	handler channel.MessageHandler
	mu      sync.RWMutex
	state   channel.State

	svc        *gmail.Service
	ticker     *time.Ticker
	stopCh     chan struct{}
	stopped    atomic.Bool
	seenLastID string

	// newService is overridden in tests to avoid a real OAuth2 exchange.
	newService func(ctx context.Context) (*gmail.Service, error)
}

// New 创建新的 gmail 渠道
func New(cfg Config) *Channel {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	c := &Channel{
		config: cfg,
		state:  channel.StateDisabled,
		stopCh: make(chan struct{}),
	}
	c.newService = c.defaultNewService
	return c
}

// ID 返回渠道唯一标识
func (c *Channel) ID() channel.ChannelType { return channel.ChannelTypeGmail }

// Name 返回渠道显示名称
func (c *Channel) Name() string { return "Gmail" }

// Capabilities 返回渠道能力
func (c *Channel) Capabilities() channel.ChannelCapabilities {
	return channel.ChannelCapabilities{
		CanSendText:      true,
		CanSendMedia:     false,
		CanDetectMention: false,
		CanWatch:         true,
	}
}

// State reports the channel's current lifecycle position.
func (c *Channel) State() channel.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Channel) setState(s channel.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Authenticate loads the stored OAuth2 token and builds the Gmail API
// client. It does not start polling.
func (c *Channel) Authenticate(ctx context.Context) error {
	c.setState(channel.StateAuthenticating)
	svc, err := c.newService(ctx)
	if err != nil {
		c.setState(channel.StateDisabled)
		return fmt.Errorf("gmail authenticate: %w", err)
	}
	c.mu.Lock()
	c.svc = svc
	c.mu.Unlock()
	return nil
}

func (c *Channel) defaultNewService(ctx context.Context) (*gmail.Service, error) {
	credBytes, err := os.ReadFile(c.config.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(credBytes, gmail.GmailReadonlyScope, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	tokBytes, err := os.ReadFile(c.config.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokBytes, &tok); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	client := oauthCfg.Client(ctx, &tok)
	return gmail.NewService(ctx, option.WithHTTPClient(client))
}

// Start begins polling the inbox on a ticker.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.RLock()
	svc := c.svc
	c.mu.RUnlock()
	if svc == nil {
		return fmt.Errorf("gmail: Authenticate must succeed before Start")
	}

	c.ticker = time.NewTicker(c.config.PollInterval)
	go c.pollLoop(ctx)
	c.setState(channel.StateLive)
	return nil
}

func (c *Channel) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-c.ticker.C:
			if err := c.poll(ctx); err != nil {
				logger.Warn().Err(err).Msg("gmail poll failed")
			}
		}
	}
}

func (c *Channel) poll(ctx context.Context) error {
	c.mu.RLock()
	svc := c.svc
	c.mu.RUnlock()

	resp, err := svc.Users.Messages.List("me").Q("is:unread").MaxResults(20).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	for _, ref := range resp.Messages {
		msg, err := svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			logger.Warn().Err(err).Str("id", ref.Id).Msg("gmail get message failed")
			continue
		}
		c.handleMessage(ctx, msg)
	}
	return nil
}

func headerValue(msg *gmail.Message, name string) string {
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// normalizeFrom strips a "Display Name <addr@host>" wrapper and lowercases
// the bare address so owner-gate comparisons are case-insensitive.
func normalizeFrom(from string) string {
	from = strings.TrimSpace(from)
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.Index(from[i:], ">"); j >= 0 {
			from = from[i+1 : i+j]
		}
	}
	return strings.ToLower(strings.TrimSpace(from))
}

func bodyText(msg *gmail.Message) string {
	if msg.Payload.Body != nil && msg.Payload.Body.Data != "" {
		if text, err := decodeBase64URL(msg.Payload.Body.Data); err == nil {
			return text
		}
	}
	for _, part := range msg.Payload.Parts {
		if strings.HasPrefix(part.MimeType, "text/plain") && part.Body != nil {
			if text, err := decodeBase64URL(part.Body.Data); err == nil {
				return text
			}
		}
	}
	return msg.Snippet
}

func (c *Channel) handleMessage(ctx context.Context, msg *gmail.Message) {
	from := normalizeFrom(headerValue(msg, "From"))
	if len(c.config.OwnerEmails) > 0 {
		allowed := false
		for _, owner := range c.config.OwnerEmails {
			if strings.ToLower(strings.TrimSpace(owner)) == from {
				allowed = true
				break
			}
		}
		if !allowed {
			logger.Debug().Str("from", from).Msg("gmail skipping message from non-owner sender")
			return
		}
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return
	}

	threadID := msg.ThreadId
	ts := time.UnixMilli(msg.InternalDate)

	inbound := channel.InboundMessage{
		ID:          msg.Id,
		ChannelType: channel.ChannelTypeGmail,
		MessageType: channel.MessageTypeDM,
		ChatID:      threadID,
		SenderID:    from,
		SenderName:  headerValue(msg, "From"),
		Content:     bodyText(msg),
		RawContent:  msg.Snippet,
		Timestamp:   ts,
		Metadata: map[string]any{
			"subject": headerValue(msg, "Subject"),
		},
		WasMentioned: true,
	}

	_ = handler(ctx, inbound)

	// Mark read so the next poll does not redeliver it.
	c.mu.RLock()
	svc := c.svc
	c.mu.RUnlock()
	if svc != nil {
		_, _ = svc.Users.Messages.Modify("me", msg.Id, &gmail.ModifyMessageRequest{
			RemoveLabelIds: []string{"UNREAD"},
		}).Context(ctx).Do()
	}
}

// Stop 停止渠道监听
func (c *Channel) Stop(ctx context.Context) error {
	if c.stopped.Swap(true) {
		return nil
	}
	close(c.stopCh)
	if c.ticker != nil {
		c.ticker.Stop()
	}
	c.setState(channel.StateDisabled)
	return nil
}

// SendMessage 发送消息: emails msg.Content to the address in
// msg.Metadata["to"] (subject from msg.Metadata["subject"], default
// "Re: (no subject)"), inside the Gmail thread named by msg.ChatID.
func (c *Channel) SendMessage(ctx context.Context, msg channel.OutboundMessage) error {
	c.mu.RLock()
	svc := c.svc
	c.mu.RUnlock()
	if svc == nil {
		return fmt.Errorf("gmail: not authenticated")
	}

	to, _ := msg.Metadata["to"].(string)
	subject, _ := msg.Metadata["subject"].(string)
	if subject == "" {
		subject = "Re: (no subject)"
	}

	raw := fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s", to, subject, msg.Content)
	gmsg := &gmail.Message{
		Raw:      encodeBase64URL(raw),
		ThreadId: msg.ChatID,
	}
	_, err := svc.Users.Messages.Send("me", gmsg).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("send gmail message: %w", err)
	}
	return nil
}

// OnMessage 注册消息回调
func (c *Channel) OnMessage(handler channel.MessageHandler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}
