// Package gui implements the GUI channel: an egress-only adapter that
// pushes auto-report frames to a connected desktop client over its
// websocket connection. It never ingresses — the GUI's own inbound
// requests are handled by the HTTP/WebSocket surface directly, not
// through the channel registry.
package gui

import (
	"context"
	"fmt"
	"sync"

	"agentcore/pkg/channel"
)

// Config gui 渠道配置
type Config struct {
	Enabled bool `json:"enabled"`
}

// Frame is the JSON shape pushed to a GUI client.
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Agent   string `json:"agent"`
}

// Conn is the subset of *websocket.Conn this channel needs, so the
// websocket hub can hand over whatever connection wrapper it already
// manages without this package importing the hub.
type Conn interface {
	WriteJSON(v any) error
}

// Channel gui 渠道实现。It holds no network listener of its own; the
// HTTP server that accepts GUI websocket connections registers each
// client's Conn here as it connects and removes it on disconnect.
type Channel struct {
	config  Config
	handler channel.MessageHandler
	mu      sync.RWMutex
	state   channel.State
	clients map[string]Conn
}

// New 创建新的 gui 渠道
func New(cfg Config) *Channel {
	return &Channel{
		config:  cfg,
		state:   channel.StateDisabled,
		clients: make(map[string]Conn),
	}
}

// ID 返回渠道唯一标识
func (c *Channel) ID() channel.ChannelType { return channel.ChannelTypeGUI }

// Name 返回渠道显示名称
func (c *Channel) Name() string { return "GUI" }

// Capabilities 返回渠道能力
func (c *Channel) Capabilities() channel.ChannelCapabilities {
	return channel.ChannelCapabilities{
		CanSendText:      true,
		CanSendMedia:     false,
		CanDetectMention: false,
		CanWatch:         false,
	}
}

// State reports the channel's current lifecycle position.
func (c *Channel) State() channel.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Authenticate is a no-op: the GUI channel trusts whatever already
// authenticated websocket connections the HTTP layer registers with it.
func (c *Channel) Authenticate(ctx context.Context) error { return nil }

// Start marks the channel live. There is no poll loop to launch.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	c.state = channel.StateLive
	c.mu.Unlock()
	return nil
}

// Stop marks the channel disabled and drops all registered clients.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.clients = make(map[string]Conn)
	c.state = channel.StateDisabled
	c.mu.Unlock()
	return nil
}

// RegisterClient associates a websocket connection with a client id so
// Send and SendMessage can reach it later.
func (c *Channel) RegisterClient(wsClientID string, conn Conn) {
	c.mu.Lock()
	c.clients[wsClientID] = conn
	c.mu.Unlock()
}

// DeregisterClient drops a disconnected client.
func (c *Channel) DeregisterClient(wsClientID string) {
	c.mu.Lock()
	delete(c.clients, wsClientID)
	c.mu.Unlock()
}

// Send pushes an auto_report frame to wsClientID. It is the primitive
// the auto-report engine calls directly once a root task completes and
// the requester's channel was gui.
func (c *Channel) Send(wsClientID, content, agent string) error {
	c.mu.RLock()
	conn, ok := c.clients[wsClientID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("gui: no connected client %s", wsClientID)
	}
	return conn.WriteJSON(Frame{Type: "auto_report", Content: content, Agent: agent})
}

// SendMessage adapts the generic OutboundMessage shape to Send, using
// msg.ChatID as the ws_client_id.
func (c *Channel) SendMessage(ctx context.Context, msg channel.OutboundMessage) error {
	agent, _ := msg.Metadata["agent"].(string)
	return c.Send(msg.ChatID, msg.Content, agent)
}

// OnMessage 注册消息回调 (kept for interface conformance; the GUI channel
// never calls it since it has no ingress path).
func (c *Channel) OnMessage(handler channel.MessageHandler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}
