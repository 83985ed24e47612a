// Package notify delivers run notifications over a closed set of channels.
// Dispatch is a lookup table keyed by channel rather than open-ended dynamic
// dispatch: the channel set is small and fixed.
package notify

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-errors"

	steward "github.com/goliatone/go-steward"
)

// Priority of a notification.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Channel identifies a delivery mechanism. The set is closed.
type Channel string

const (
	ChannelSlack   Channel = "slack"
	ChannelEmail   Channel = "email"
	ChannelComment Channel = "comment"
)

// Channels lists every supported channel.
func Channels() []Channel {
	return []Channel{ChannelSlack, ChannelEmail, ChannelComment}
}

// ParseChannel validates a channel name against the closed set.
func ParseChannel(raw string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(raw)))
	switch ch {
	case ChannelSlack, ChannelEmail, ChannelComment:
		return ch, nil
	default:
		return "", errors.New("unknown notification channel", errors.CategoryBadInput).
			WithTextCode(steward.ErrCodeUnknownChannel).
			WithMetadata(map[string]any{"channel": raw})
	}
}

// Notification is one message to deliver.
type Notification struct {
	Channel   Channel  `json:"channel"`
	Recipient string   `json:"recipient"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	Priority  Priority `json:"priority"`
}

// Receipt reports the delivery outcome without raising.
type Receipt struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Sender delivers notifications for one channel.
type Sender interface {
	Send(ctx context.Context, n Notification) (Receipt, error)
}

// SenderFunc adapts a function into a Sender.
type SenderFunc func(ctx context.Context, n Notification) (Receipt, error)

func (f SenderFunc) Send(ctx context.Context, n Notification) (Receipt, error) {
	return f(ctx, n)
}

// Registry routes notifications to the sender registered for their channel.
type Registry struct {
	mu      sync.RWMutex
	senders map[Channel]Sender
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[Channel]Sender)}
}

// Register binds a sender to a channel, replacing any previous binding.
func (r *Registry) Register(ch Channel, sender Sender) error {
	if _, err := ParseChannel(string(ch)); err != nil {
		return err
	}
	if sender == nil {
		return errors.New("sender required", errors.CategoryBadInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[ch] = sender
	return nil
}

// Send dispatches through the lookup table.
func (r *Registry) Send(ctx context.Context, n Notification) (Receipt, error) {
	ch, err := ParseChannel(string(n.Channel))
	if err != nil {
		return Receipt{}, err
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}

	r.mu.RLock()
	sender := r.senders[ch]
	r.mu.RUnlock()
	if sender == nil {
		return Receipt{}, errors.New("no sender registered for channel", errors.CategoryBadInput).
			WithTextCode(steward.ErrCodeUnknownChannel).
			WithMetadata(map[string]any{"channel": string(ch)})
	}
	return sender.Send(ctx, n)
}

var _ Sender = (*Registry)(nil)
