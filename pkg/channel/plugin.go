// Package channel defines the core interfaces and types for channel plugins.
package channel

import "context"

// ChannelType 渠道类型
type ChannelType string

const (
	ChannelTypeGmail ChannelType = "gmail"
	ChannelTypeNostr ChannelType = "nostr"
	ChannelTypeGUI   ChannelType = "gui"
)

// State is a channel's position in its connection lifecycle.
type State string

const (
	StateDisabled       State = "disabled"
	StateAuthenticating State = "authenticating"
	StateLive           State = "live"
	StateReconnecting   State = "reconnecting"
)

// MessageType 消息类型
type MessageType string

const (
	MessageTypeDM    MessageType = "dm"
	MessageTypeGroup MessageType = "group"
)

// ChannelCapabilities 渠道能力
type ChannelCapabilities struct {
	CanSendText      bool `json:"canSendText"`
	CanSendMedia     bool `json:"canSendMedia"`
	CanDetectMention bool `json:"canDetectMention"`
	CanWatch         bool `json:"canWatch"`
	MaxMessageLength int  `json:"maxMessageLength,omitempty"`
}

// Channel is an ingress/egress adapter for one external surface (mail,
// relay, GUI websocket). Authenticate and the Poll/Subscribe loop behind
// Start are separate steps so the registry can report State() as
// disabled, authenticating, live, or reconnecting without guessing from
// error values.
type Channel interface {
	// ID 返回渠道唯一标识
	ID() ChannelType

	// Name 返回渠道显示名称
	Name() string

	// Capabilities 返回渠道能力
	Capabilities() ChannelCapabilities

	// Authenticate performs whatever handshake the channel needs
	// (OAuth2 token refresh, relay connect) before Start is called.
	Authenticate(ctx context.Context) error

	// Start 启动渠道监听 (Poll for gmail, Subscribe for nostr)
	Start(ctx context.Context) error

	// Stop 停止渠道监听
	Stop(ctx context.Context) error

	// SendMessage 发送消息
	SendMessage(ctx context.Context, msg OutboundMessage) error

	// OnMessage 注册消息回调
	OnMessage(handler MessageHandler)

	// State reports the channel's current lifecycle position.
	State() State
}

// MessageHandler 消息处理回调
type MessageHandler func(ctx context.Context, msg InboundMessage) error
