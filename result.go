package steward

// SuperviseResult is returned when a supervised run reaches a terminal
// outcome.
type SuperviseResult struct {
	SagaID      string          `json:"sagaId"`
	FinalStatus SagaStatus      `json:"finalStatus"`
	Decisions   []DecisionEntry `json:"decisionsLog"`
	Summary     string          `json:"summary"`

	TotalDimensions     int `json:"totalDimensions"`
	CompletedDimensions int `json:"completedDimensions"`
	CollapsedDimensions int `json:"collapsedDimensions"`

	DurationMs int64 `json:"durationMs"`
}
