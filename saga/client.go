// Package saga talks to the external job service that orchestrates
// multi-stage sagas. The supervisor depends only on this narrow contract,
// not on the job's internal implementation.
package saga

import "context"

// Signal types accepted by the external job service.
const (
	SignalInterruptResponse = "interrupt_response"
)

// StartResult acknowledges a start call.
type StartResult struct {
	SagaID  string `json:"sagaId"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StatusResult is one status observation of a running saga.
type StatusResult struct {
	Status              string `json:"status"`
	TotalDimensions     int    `json:"totalDimensions"`
	CompletedDimensions int    `json:"completedDimensions"`
	CollapsedDimensions int    `json:"collapsedDimensions"`
	NeedsHumanReview    bool   `json:"needsHumanReview"`
	PendingInterrupt    string `json:"pendingInterrupt,omitempty"`
}

// Client is the request/response boundary to the external job service.
type Client interface {
	Start(ctx context.Context, sagaID string, config map[string]any) (StartResult, error)
	Status(ctx context.Context, sagaID string) (StatusResult, error)
	Signal(ctx context.Context, sagaID, signalType, decision string, data map[string]any) error
}
