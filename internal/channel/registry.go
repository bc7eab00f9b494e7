// Package channel holds the registry that owns every configured ingress
// channel (gmail, nostr, gui) and tracks its disabled/authenticating/
// live/reconnecting lifecycle state.
package channel

import (
	"context"
	"fmt"
	"sync"

	"agentcore/pkg/channel"
)

// Registry 渠道注册表
type Registry struct {
	channels map[channel.ChannelType]channel.Channel
	states   map[channel.ChannelType]channel.State
	mu       sync.RWMutex
}

// NewRegistry 创建新的渠道注册表
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[channel.ChannelType]channel.Channel),
		states:   make(map[channel.ChannelType]channel.State),
	}
}

// Register 注册渠道插件
func (r *Registry) Register(ch channel.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.ID()] = ch
	r.states[ch.ID()] = channel.StateDisabled
}

// Get 获取指定渠道插件
func (r *Registry) Get(id channel.ChannelType) (channel.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[id]
	return c, ok
}

// All 获取所有渠道插件
func (r *Registry) All() []channel.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]channel.Channel, 0, len(r.channels))
	for _, c := range r.channels {
		result = append(result, c)
	}
	return result
}

// State returns the last-observed lifecycle state for a registered
// channel. Unknown ids report StateDisabled.
func (r *Registry) State(id channel.ChannelType) channel.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.states[id]; ok {
		return s
	}
	return channel.StateDisabled
}

func (r *Registry) setState(id channel.ChannelType, s channel.State) {
	r.mu.Lock()
	r.states[id] = s
	r.mu.Unlock()
}

// StartAll authenticates then starts every registered channel, moving
// each through disabled -> authenticating -> live (or back to disabled
// on failure). Channels are independent: one failing to authenticate
// does not block the others from starting.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	channels := make([]channel.Channel, 0, len(r.channels))
	for _, c := range r.channels {
		channels = append(channels, c)
	}
	r.mu.RUnlock()

	var lastErr error
	for _, c := range channels {
		r.setState(c.ID(), channel.StateAuthenticating)
		if err := c.Authenticate(ctx); err != nil {
			r.setState(c.ID(), channel.StateDisabled)
			lastErr = fmt.Errorf("authenticate channel %s: %w", c.ID(), err)
			continue
		}
		if err := c.Start(ctx); err != nil {
			r.setState(c.ID(), channel.StateDisabled)
			lastErr = fmt.Errorf("start channel %s: %w", c.ID(), err)
			continue
		}
		r.setState(c.ID(), channel.StateLive)
	}
	return lastErr
}

// StopAll 停止所有渠道插件
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	channels := make([]channel.Channel, 0, len(r.channels))
	for _, c := range r.channels {
		channels = append(channels, c)
	}
	r.mu.RUnlock()

	var lastErr error
	for _, c := range channels {
		if err := c.Stop(ctx); err != nil {
			lastErr = fmt.Errorf("stop channel %s: %w", c.ID(), err)
		}
		r.setState(c.ID(), channel.StateDisabled)
	}
	return lastErr
}

// Count 返回注册的插件数量
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// MarkReconnecting records that a live channel dropped and is retrying
// its connection. Channel implementations call this from their own
// watchdog goroutine (e.g. nostr's hibernation-reconnect heuristic) and
// call MarkLive once reconnected.
func (r *Registry) MarkReconnecting(id channel.ChannelType) {
	r.setState(id, channel.StateReconnecting)
}

// MarkLive records that a channel is back to delivering messages.
func (r *Registry) MarkLive(id channel.ChannelType) {
	r.setState(id, channel.StateLive)
}
