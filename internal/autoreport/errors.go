package autoreport

import "errors"

// ErrUnroutableChannel is returned by Report's root path when a task's
// requester_channel names a channel that is not registered for egress
// (e.g. "internal" or "system_ai", which never carry a terminal report
// out of the process).
var ErrUnroutableChannel = errors.New("autoreport: requester channel cannot receive a root report")

// ErrChannelNotLive is returned when the channel named by a task's
// requester_channel exists but is not currently registered/live.
var ErrChannelNotLive = errors.New("autoreport: destination channel is not registered")
