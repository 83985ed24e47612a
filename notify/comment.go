package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// CommentSender posts notifications as comments on a work item through a
// generic webhook endpoint. The recipient field carries the item id.
type CommentSender struct {
	endpoint string
	token    string
	client   *http.Client
}

var _ Sender = (*CommentSender)(nil)

// NewCommentSender builds a sender against the given comments endpoint.
func NewCommentSender(endpoint, token string, client *http.Client) (*CommentSender, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("comment endpoint required", errors.CategoryBadInput)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultSendTimeout}
	}
	return &CommentSender{endpoint: endpoint, token: strings.TrimSpace(token), client: client}, nil
}

func (s *CommentSender) Send(ctx context.Context, n Notification) (Receipt, error) {
	item := strings.TrimSpace(n.Recipient)
	if item == "" {
		return Receipt{}, errors.New("comment target item required", errors.CategoryBadInput)
	}

	messageID := uuid.NewString()
	payload := map[string]any{
		"itemId":    item,
		"subject":   n.Subject,
		"body":      n.Body,
		"priority":  string(n.Priority),
		"messageId": messageID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, errors.Wrap(err, errors.CategoryBadInput, "encode comment payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, errors.Wrap(err, errors.CategoryBadInput, "build comment request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return Receipt{Error: err.Error()}, errors.Wrap(err, errors.CategoryExternal, "comment request failed")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 256))
		err := errors.New(
			fmt.Sprintf("comment endpoint returned %d", res.StatusCode),
			errors.CategoryExternal,
		).WithMetadata(map[string]any{
			"status": res.StatusCode,
			"body":   strings.TrimSpace(string(snippet)),
		})
		return Receipt{Error: err.Error()}, err
	}
	return Receipt{Success: true, MessageID: messageID}, nil
}
