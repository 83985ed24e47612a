package steward

import (
	"encoding/json"
	"strings"
	"time"
)

// Supervision defaults applied by SuperviseRequest.Normalize.
const (
	DefaultPollInterval      = 30 * time.Second
	DefaultMaxReviewAttempts = 3
)

// SuperviseRequest is the trigger contract for one supervised saga run. On
// the wire the poll interval travels as integer milliseconds
// (pollIntervalMs); see superviseRequestWire.
type SuperviseRequest struct {
	SagaID string         `json:"sagaId"`
	Config map[string]any `json:"config,omitempty"`

	// AutoHandleReviews defaults to true when nil.
	AutoHandleReviews *bool `json:"autoHandleReviews,omitempty"`

	PollInterval time.Duration `json:"-"`

	// MaxReviewAttempts defaults to 3 when nil. An explicit zero disables
	// automated decisions entirely.
	MaxReviewAttempts *int `json:"maxReviewAttempts,omitempty"`

	NotifyChannel   string `json:"notifyChannel,omitempty"`
	NotifyRecipient string `json:"notifyRecipient,omitempty"`
}

// superviseRequestWire is the JSON shape of the trigger contract. The poll
// interval is integer milliseconds, not a Go duration.
type superviseRequestWire struct {
	SagaID            string         `json:"sagaId"`
	Config            map[string]any `json:"config,omitempty"`
	AutoHandleReviews *bool          `json:"autoHandleReviews,omitempty"`
	PollIntervalMs    int64          `json:"pollIntervalMs,omitempty"`
	MaxReviewAttempts *int           `json:"maxReviewAttempts,omitempty"`
	NotifyChannel     string         `json:"notifyChannel,omitempty"`
	NotifyRecipient   string         `json:"notifyRecipient,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r SuperviseRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(superviseRequestWire{
		SagaID:            r.SagaID,
		Config:            r.Config,
		AutoHandleReviews: r.AutoHandleReviews,
		PollIntervalMs:    r.PollInterval.Milliseconds(),
		MaxReviewAttempts: r.MaxReviewAttempts,
		NotifyChannel:     r.NotifyChannel,
		NotifyRecipient:   r.NotifyRecipient,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *SuperviseRequest) UnmarshalJSON(data []byte) error {
	var wire superviseRequestWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = SuperviseRequest{
		SagaID:            wire.SagaID,
		Config:            wire.Config,
		AutoHandleReviews: wire.AutoHandleReviews,
		PollInterval:      time.Duration(wire.PollIntervalMs) * time.Millisecond,
		MaxReviewAttempts: wire.MaxReviewAttempts,
		NotifyChannel:     wire.NotifyChannel,
		NotifyRecipient:   wire.NotifyRecipient,
	}
	return nil
}

// Normalize returns a copy with defaults applied.
func (r SuperviseRequest) Normalize() SuperviseRequest {
	out := r
	out.SagaID = strings.TrimSpace(r.SagaID)
	out.NotifyChannel = strings.TrimSpace(r.NotifyChannel)
	out.NotifyRecipient = strings.TrimSpace(r.NotifyRecipient)
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	return out
}

// AutoReviews resolves the auto-review flag, defaulting to true.
func (r SuperviseRequest) AutoReviews() bool {
	if r.AutoHandleReviews == nil {
		return true
	}
	return *r.AutoHandleReviews
}

// ReviewLimit resolves the review-attempt ceiling, defaulting to
// DefaultMaxReviewAttempts. Negative values clamp to zero.
func (r SuperviseRequest) ReviewLimit() int {
	if r.MaxReviewAttempts == nil {
		return DefaultMaxReviewAttempts
	}
	if *r.MaxReviewAttempts < 0 {
		return 0
	}
	return *r.MaxReviewAttempts
}

// NotifyConfigured reports whether a notification target is set.
func (r SuperviseRequest) NotifyConfigured() bool {
	return r.NotifyChannel != "" && r.NotifyRecipient != ""
}

// Validate rejects configuration errors before a run enters the state
// machine.
func (r SuperviseRequest) Validate() error {
	if strings.TrimSpace(r.SagaID) == "" {
		return ErrMissingSagaID
	}
	return nil
}
