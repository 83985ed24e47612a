package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	steward "github.com/goliatone/go-steward"
)

func TestParseChannel(t *testing.T) {
	ch, err := ParseChannel(" Slack ")
	require.NoError(t, err)
	assert.Equal(t, ChannelSlack, ch)

	_, err = ParseChannel("pager")
	require.Error(t, err)
	assert.Equal(t, steward.ErrCodeUnknownChannel, steward.ErrorCode(err))
}

func TestRegistryRoutesByChannel(t *testing.T) {
	reg := NewRegistry()
	var got Notification
	require.NoError(t, reg.Register(ChannelSlack, SenderFunc(func(_ context.Context, n Notification) (Receipt, error) {
		got = n
		return Receipt{Success: true, MessageID: "m-1"}, nil
	})))

	receipt, err := reg.Send(context.Background(), Notification{
		Channel:   ChannelSlack,
		Recipient: "#ops",
		Subject:   "done",
		Body:      "saga finished",
	})
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, "m-1", receipt.MessageID)
	assert.Equal(t, "#ops", got.Recipient)
	assert.Equal(t, PriorityNormal, got.Priority, "priority defaults to normal")
}

func TestRegistryRejectsUnregisteredChannel(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Send(context.Background(), Notification{Channel: ChannelEmail, Recipient: "a@b.c"})
	require.Error(t, err)
	assert.Equal(t, steward.ErrCodeUnknownChannel, steward.ErrorCode(err))
}

func TestSlackSenderPostsWebhookPayload(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender, err := NewSlackWebhookSender(srv.URL, srv.Client())
	require.NoError(t, err)

	receipt, err := sender.Send(context.Background(), Notification{
		Channel:   ChannelSlack,
		Recipient: "#alerts",
		Subject:   "needs review",
		Body:      "saga s-1 stalled",
		Priority:  PriorityHigh,
	})
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.NotEmpty(t, receipt.MessageID)

	assert.Equal(t, "#alerts", payload["channel"])
	text, _ := payload["text"].(string)
	assert.True(t, strings.HasPrefix(text, ":rotating_light:"), "high priority messages are flagged")
	assert.Contains(t, text, "needs review")
	assert.Contains(t, text, "saga s-1 stalled")
}

func TestSlackSenderSurfacesHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no_service", http.StatusNotFound)
	}))
	defer srv.Close()

	sender, err := NewSlackWebhookSender(srv.URL, srv.Client())
	require.NoError(t, err)

	receipt, err := sender.Send(context.Background(), Notification{Channel: ChannelSlack, Body: "x"})
	require.Error(t, err)
	assert.False(t, receipt.Success)
	assert.Contains(t, receipt.Error, "404")
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	sender, err := NewSMTPSender("mail.local:25", "steward@local", nil)
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string
	sender.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	receipt, err := sender.Send(context.Background(), Notification{
		Channel:   ChannelEmail,
		Recipient: "lead@local",
		Subject:   "saga failed",
		Body:      "20 consecutive status checks failed",
		Priority:  PriorityHigh,
	})
	require.NoError(t, err)
	assert.True(t, receipt.Success)

	assert.Equal(t, "mail.local:25", gotAddr)
	assert.Equal(t, "steward@local", gotFrom)
	assert.Equal(t, []string{"lead@local"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: [urgent] saga failed")
	assert.Contains(t, gotMsg, "20 consecutive status checks failed")
	assert.Contains(t, gotMsg, receipt.MessageID)
}

func TestSMTPSenderRequiresRecipient(t *testing.T) {
	sender, err := NewSMTPSender("mail.local:25", "steward@local", nil)
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), Notification{Channel: ChannelEmail})
	require.Error(t, err)
}

func TestCommentSenderPostsItemComment(t *testing.T) {
	var payload map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sender, err := NewCommentSender(srv.URL, "tok-1", srv.Client())
	require.NoError(t, err)

	receipt, err := sender.Send(context.Background(), Notification{
		Channel:   ChannelComment,
		Recipient: "item-42",
		Subject:   "oversight update",
		Body:      "retrying collapsed dimensions",
	})
	require.NoError(t, err)
	assert.True(t, receipt.Success)

	assert.Equal(t, "Bearer tok-1", auth)
	assert.Equal(t, "item-42", payload["itemId"])
	assert.Equal(t, receipt.MessageID, payload["messageId"])
}
