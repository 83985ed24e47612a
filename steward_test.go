package steward

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSagaStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want SagaStatus
		ok   bool
	}{
		{"running", StatusRunning, true},
		{" Complete ", StatusComplete, true},
		{"FAILED", StatusFailed, true},
		{"collapsed", StatusCollapsed, true},
		{"partial", StatusPartial, true},
		{"paused", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseSagaStatus(tc.raw)
		assert.Equal(t, tc.ok, ok, "raw=%q", tc.raw)
		assert.Equal(t, tc.want, got, "raw=%q", tc.raw)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, StatusRunning.Terminal())
	for _, status := range []SagaStatus{StatusComplete, StatusFailed, StatusCollapsed, StatusPartial} {
		assert.True(t, status.Terminal(), "status=%s", status)
	}
}

func TestSuperviseRequestDefaults(t *testing.T) {
	req := SuperviseRequest{SagaID: " s-1 "}.Normalize()

	assert.Equal(t, "s-1", req.SagaID)
	assert.Equal(t, DefaultPollInterval, req.PollInterval)
	assert.True(t, req.AutoReviews())
	assert.Equal(t, DefaultMaxReviewAttempts, req.ReviewLimit())
	assert.False(t, req.NotifyConfigured())
}

func TestSuperviseRequestExplicitZeroDisablesReviews(t *testing.T) {
	zero := 0
	req := SuperviseRequest{SagaID: "s-1", MaxReviewAttempts: &zero}
	assert.Equal(t, 0, req.ReviewLimit(), "explicit zero means no automated decisions")

	negative := -5
	req.MaxReviewAttempts = &negative
	assert.Equal(t, 0, req.ReviewLimit())
}

func TestSuperviseRequestPollIntervalWireFormat(t *testing.T) {
	var req SuperviseRequest
	require.NoError(t, json.Unmarshal([]byte(`{"sagaId":"s-1","pollIntervalMs":30000}`), &req))
	assert.Equal(t, 30*time.Second, req.PollInterval, "pollIntervalMs is milliseconds")
	assert.Equal(t, 30*time.Second, req.Normalize().PollInterval)

	// Omitted interval falls back to the default after Normalize.
	var bare SuperviseRequest
	require.NoError(t, json.Unmarshal([]byte(`{"sagaId":"s-1"}`), &bare))
	assert.Equal(t, DefaultPollInterval, bare.Normalize().PollInterval)

	// Submissions round-trip through JSON, so encoding must be symmetric.
	limit := 2
	in := SuperviseRequest{
		SagaID:            "s-2",
		PollInterval:      250 * time.Millisecond,
		MaxReviewAttempts: &limit,
		NotifyChannel:     "slack",
		NotifyRecipient:   "#ops",
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"pollIntervalMs":250`)

	var out SuperviseRequest
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestSuperviseRequestValidate(t *testing.T) {
	require.Error(t, SuperviseRequest{}.Validate())
	require.Error(t, SuperviseRequest{SagaID: "   "}.Validate())
	require.NoError(t, SuperviseRequest{SagaID: "s-1"}.Validate())
}

func TestRecordSamePayloadIgnoresBookkeeping(t *testing.T) {
	at := time.Now().UTC()
	a := SagaOversightRecord{
		SagaID:              "s-1",
		Status:              StatusComplete,
		StartedAt:           at,
		Summary:             "done",
		TotalDimensions:     3,
		CompletedDimensions: 3,
		Decisions:           []DecisionEntry{{Decision: DecisionRetryCollapsed, Timestamp: at}},
	}
	b := a.Clone()
	b.ID = 99
	b.CreatedAt = at.Add(time.Hour)
	assert.True(t, a.SamePayload(b))

	b.Summary = "different"
	assert.False(t, a.SamePayload(b))
}
