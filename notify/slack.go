package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const defaultSendTimeout = 15 * time.Second

// SlackWebhookSender posts messages to a Slack incoming webhook. The
// recipient field carries the channel name when set.
type SlackWebhookSender struct {
	webhookURL string
	client     *http.Client
}

var _ Sender = (*SlackWebhookSender)(nil)

// NewSlackWebhookSender builds a sender for the given webhook URL.
func NewSlackWebhookSender(webhookURL string, client *http.Client) (*SlackWebhookSender, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url required", errors.CategoryBadInput)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultSendTimeout}
	}
	return &SlackWebhookSender{webhookURL: webhookURL, client: client}, nil
}

func (s *SlackWebhookSender) Send(ctx context.Context, n Notification) (Receipt, error) {
	text := n.Body
	if n.Subject != "" {
		text = "*" + n.Subject + "*\n" + n.Body
	}
	if n.Priority == PriorityHigh {
		text = ":rotating_light: " + text
	}
	payload := map[string]any{"text": text}
	if n.Recipient != "" {
		payload["channel"] = n.Recipient
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, errors.Wrap(err, errors.CategoryBadInput, "encode slack payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, errors.Wrap(err, errors.CategoryBadInput, "build slack request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return Receipt{Error: err.Error()}, errors.Wrap(err, errors.CategoryExternal, "slack webhook request failed")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 256))
		err := errors.New(
			fmt.Sprintf("slack webhook returned %d", res.StatusCode),
			errors.CategoryExternal,
		).WithMetadata(map[string]any{
			"status": res.StatusCode,
			"body":   strings.TrimSpace(string(snippet)),
		})
		return Receipt{Error: err.Error()}, err
	}
	return Receipt{Success: true, MessageID: uuid.NewString()}, nil
}
