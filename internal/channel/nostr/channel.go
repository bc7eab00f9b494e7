// Package nostr implements the Nostr relay ingress/egress channel:
// subscribing to kind-4 encrypted direct messages on one or more relays,
// decrypting with NIP-04, and replying over the same relay set.
package nostr

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip19"

	"agentcore/internal/store"
	"agentcore/pkg/channel"
	"agentcore/pkg/logger"
)

const (
	activeTickInterval = time.Second
	hibernateThreshold  = 30 * time.Second
	seenIDKeyPrefix     = "nostr:seen:"
)

// Config nostr 渠道配置
type Config struct {
	Relays       []string `json:"relays"`
	PrivateKey   string   `json:"privateKey"` // hex, no nsec prefix
	OwnerPubkeys []string `json:"ownerPubkeys"`
}

// RelayConnector abstracts the handful of *nostr.Relay methods this
// channel needs, so tests can substitute an in-memory fake.
type RelayConnector interface {
	Subscribe(ctx context.Context, filters nostr.Filters) (*nostr.Subscription, error)
	Publish(ctx context.Context, event nostr.Event) error
	Close() error
}

// Channel nostr 渠道实现
type Channel struct {
	config    Config
	handler   channel.MessageHandler
	mu        sync.RWMutex
	state     channel.State
	pubkeyHex string

	kv *store.DB

	relays  []RelayConnector
	connect func(ctx context.Context, url string) (RelayConnector, error)

	lastActive atomic.Int64 // unix nanos
	stopCh     chan struct{}
	stopped    atomic.Bool

	onReconnecting func()
	onLive         func()
}

// New 创建新的 nostr 渠道。kv is used to persist seen event ids across
// reconnects so a relay replay is not redelivered; with a nil kv no
// event ids are remembered.
func New(cfg Config, kv *store.DB) (*Channel, error) {
	_, pk, err := nip19.Decode(cfg.PrivateKey)
	var skHex string
	if err == nil {
		skHex, _ = pk.(string)
	} else {
		skHex = cfg.PrivateKey // already hex
	}
	pubkeyHex, err := nostr.GetPublicKey(skHex)
	if err != nil {
		return nil, fmt.Errorf("derive nostr public key: %w", err)
	}

	c := &Channel{
		config:    cfg,
		state:     channel.StateDisabled,
		pubkeyHex: pubkeyHex,
		kv:        kv,
		stopCh:    make(chan struct{}),
	}
	c.config.PrivateKey = skHex
	c.connect = c.defaultConnect
	c.lastActive.Store(time.Now().UnixNano())
	return c, nil
}

func (c *Channel) defaultConnect(ctx context.Context, url string) (RelayConnector, error) {
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	return relay, nil
}

// ID 返回渠道唯一标识
func (c *Channel) ID() channel.ChannelType { return channel.ChannelTypeNostr }

// Name 返回渠道显示名称
func (c *Channel) Name() string { return "Nostr" }

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

// OnStateChange registers callbacks the registry uses to mirror this
// channel's reconnecting/live transitions in its own state map, since
// those transitions happen from this channel's watchdog goroutine
// rather than from a registry-driven Start/Stop call.
func (c *Channel) OnStateChange(onReconnecting, onLive func()) {
	c.mu.Lock()
	c.onReconnecting = onReconnecting
	c.onLive = onLive
	c.mu.Unlock()
}

func (c *Channel) setState(s channel.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	switch s {
	case channel.StateReconnecting:
		if c.onReconnecting != nil {
			c.onReconnecting()
		}
	case channel.StateLive:
		if c.onLive != nil {
			c.onLive()
		}
	}
}

// Authenticate opens a connection to every configured relay. A relay
// that fails to connect is skipped; Authenticate fails only if none
// connect.
func (c *Channel) Authenticate(ctx context.Context) error {
	c.setState(channel.StateAuthenticating)

	var relays []RelayConnector
	for _, url := range c.config.Relays {
		r, err := c.connect(ctx, url)
		if err != nil {
			logger.Warn().Err(err).Str("relay", url).Msg("nostr relay connect failed")
			continue
		}
		relays = append(relays, r)
	}
	if len(relays) == 0 {
		c.setState(channel.StateDisabled)
		return fmt.Errorf("nostr: no relay connected out of %d configured", len(c.config.Relays))
	}

	c.mu.Lock()
	c.relays = relays
	c.mu.Unlock()
	return nil
}

// Start subscribes to kind-4 DMs addressed to this channel's pubkey on
// every connected relay, and launches the liveness ticker and the
// hibernation-reconnect watchdog.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.RLock()
	relays := c.relays
	c.mu.RUnlock()
	if len(relays) == 0 {
		return fmt.Errorf("nostr: Authenticate must succeed before Start")
	}

	filters := nostr.Filters{{
		Kinds: []int{nostr.KindEncryptedDirectMessage},
		Tags:  nostr.TagMap{"#p": []string{c.pubkeyHex}},
	}}

	for _, r := range relays {
		sub, err := r.Subscribe(ctx, filters)
		if err != nil {
			logger.Warn().Err(err).Msg("nostr subscribe failed")
			continue
		}
		go c.readLoop(ctx, sub)
	}

	go c.tickLoop(ctx)
	go c.watchdogLoop(ctx)

	c.setState(channel.StateLive)
	return nil
}

func (c *Channel) readLoop(ctx context.Context, sub *nostr.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			c.lastActive.Store(time.Now().UnixNano())
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Channel) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(activeTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			// watchdogLoop stamps lastActive on its own tick and
			// readLoop on every received event; nothing to do here.
		}
	}
}

// watchdogLoop stamps lastActive with the wall clock on every
// activeTickInterval tick and reconnects when the gap since the
// previous stamp exceeds hibernateThreshold — the signal a laptop just
// woke from sleep and the TCP connection is stale.
func (c *Channel) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(activeTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			last := time.Unix(0, c.lastActive.Swap(now.UnixNano()))
			if now.Sub(last) > hibernateThreshold && c.State() == channel.StateLive {
				c.setState(channel.StateReconnecting)
				if err := c.reconnect(ctx); err != nil {
					logger.Warn().Err(err).Msg("nostr reconnect failed")
					continue
				}
				c.lastActive.Store(time.Now().UnixNano())
				c.setState(channel.StateLive)
			}
		}
	}
}

func (c *Channel) reconnect(ctx context.Context) error {
	c.mu.Lock()
	for _, r := range c.relays {
		_ = r.Close()
	}
	c.relays = nil
	c.mu.Unlock()

	if err := c.Authenticate(ctx); err != nil {
		return err
	}
	c.mu.RLock()
	relays := c.relays
	c.mu.RUnlock()

	filters := nostr.Filters{{
		Kinds: []int{nostr.KindEncryptedDirectMessage},
		Tags:  nostr.TagMap{"#p": []string{c.pubkeyHex}},
	}}
	for _, r := range relays {
		sub, err := r.Subscribe(ctx, filters)
		if err != nil {
			continue
		}
		go c.readLoop(ctx, sub)
	}
	return nil
}

func (c *Channel) alreadySeen(eventID string) bool {
	if c.kv == nil {
		return false
	}
	seen, _ := c.kv.KVExists(seenIDKeyPrefix + eventID)
	return seen
}

func (c *Channel) markSeen(eventID string) {
	if c.kv == nil {
		return
	}
	_ = c.kv.KVSet(seenIDKeyPrefix+eventID, "1", 7*24*time.Hour)
}

func (c *Channel) handleEvent(ctx context.Context, ev *nostr.Event) {
	if ev.Kind != nostr.KindEncryptedDirectMessage {
		return
	}
	if c.alreadySeen(ev.ID) {
		return
	}
	c.markSeen(ev.ID)

	if len(c.config.OwnerPubkeys) > 0 {
		allowed := false
		for _, owner := range c.config.OwnerPubkeys {
			if strings.EqualFold(normalizePubkey(owner), ev.PubKey) {
				allowed = true
				break
			}
		}
		if !allowed {
			logger.Debug().Str("pubkey", ev.PubKey).Msg("nostr skipping dm from non-owner sender")
			return
		}
	}

	shared, err := nip04.ComputeSharedSecret(ev.PubKey, c.config.PrivateKey)
	if err != nil {
		logger.Warn().Err(err).Msg("nostr compute shared secret failed")
		return
	}
	plaintext, err := nip04.Decrypt(ev.Content, shared)
	if err != nil {
		logger.Warn().Err(err).Msg("nostr decrypt failed")
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return
	}

	inbound := channel.InboundMessage{
		ID:          ev.ID,
		ChannelType: channel.ChannelTypeNostr,
		MessageType: channel.MessageTypeDM,
		ChatID:      ev.PubKey,
		SenderID:    ev.PubKey,
		Content:     plaintext,
		RawContent:  ev.Content,
		Timestamp:   ev.CreatedAt.Time(),
		WasMentioned: true,
	}
	_ = handler(ctx, inbound)
}

// normalizePubkey accepts either an npub or raw hex pubkey and returns hex.
func normalizePubkey(s string) string {
	if strings.HasPrefix(s, "npub1") {
		_, v, err := nip19.Decode(s)
		if err == nil {
			if hex, ok := v.(string); ok {
				return hex
			}
		}
	}
	return s
}

// SendMessage encrypts and publishes a kind-4 DM to every connected relay.
func (c *Channel) SendMessage(ctx context.Context, msg channel.OutboundMessage) error {
	c.mu.RLock()
	relays := c.relays
	c.mu.RUnlock()
	if len(relays) == 0 {
		return fmt.Errorf("nostr: not connected")
	}

	shared, err := nip04.ComputeSharedSecret(msg.ChatID, c.config.PrivateKey)
	if err != nil {
		return fmt.Errorf("compute shared secret: %w", err)
	}
	ciphertext, err := nip04.Encrypt(msg.Content, shared)
	if err != nil {
		return fmt.Errorf("encrypt message: %w", err)
	}

	ev := nostr.Event{
		PubKey:    c.pubkeyHex,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      nostr.Tags{{"p", msg.ChatID}},
		Content:   ciphertext,
	}
	if err := ev.Sign(c.config.PrivateKey); err != nil {
		return fmt.Errorf("sign event: %w", err)
	}

	var lastErr error
	for _, r := range relays {
		if err := r.Publish(ctx, ev); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// OnMessage 注册消息回调
func (c *Channel) OnMessage(handler channel.MessageHandler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Stop 停止渠道监听
func (c *Channel) Stop(ctx context.Context) error {
	if c.stopped.Swap(true) {
		return nil
	}
	close(c.stopCh)

	c.mu.Lock()
	for _, r := range c.relays {
		_ = r.Close()
	}
	c.relays = nil
	c.mu.Unlock()

	c.setState(channel.StateDisabled)
	return nil
}
