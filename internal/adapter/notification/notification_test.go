package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSlackNotifierSend(t *testing.T) {
	var gotContentType string
	var gotPayload map[string]interface{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseForm())
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("payload")), &gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	n := NewSlackNotifier("praekelt.slack.com", "secret", "#takeoff", true, time.Second, zap.NewNop())
	n.endpoint = ts.URL

	t.Run("payload表单编码且携带固定身份", func(t *testing.T) {
		err := n.Send(context.Background(), &Message{
			Type: NotifyBuildSuccess,
			Text: "Build <http://x/1|#1> successful",
		})
		require.NoError(t, err)

		assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
		assert.Equal(t, "sideloader", gotPayload["username"])
		assert.Equal(t, ":greenrocket:", gotPayload["icon_emoji"])
		assert.Equal(t, "#takeoff", gotPayload["channel"])

		attachments := gotPayload["attachments"].([]interface{})
		require.Len(t, attachments, 1)
		first := attachments[0].(map[string]interface{})
		assert.Equal(t, "Build <http://x/1|#1> successful", first["pretext"])
		assert.Equal(t, "good", first["color"])
	})

	t.Run("消息级频道覆盖默认频道", func(t *testing.T) {
		err := n.Send(context.Background(), &Message{
			Type:    NotifyBuildFailed,
			Text:    "Build <http://x/2|#2> failed",
			Channel: "#ops",
		})
		require.NoError(t, err)

		assert.Equal(t, "#ops", gotPayload["channel"])
		first := gotPayload["attachments"].([]interface{})[0].(map[string]interface{})
		assert.Equal(t, "danger", first["color"])
	})

	t.Run("禁用时不发送", func(t *testing.T) {
		disabled := NewSlackNotifier("praekelt.slack.com", "secret", "#takeoff", false, time.Second, zap.NewNop())
		disabled.endpoint = "http://127.0.0.1:1" // 不可达, 发送会报错
		assert.NoError(t, disabled.Send(context.Background(), &Message{Type: NotifyBuildStart, Text: "x"}))
	})
}

func TestMultiNotifier(t *testing.T) {
	a := &countingNotifier{}
	b := &countingNotifier{}
	multi := NewMultiNotifier(zap.NewNop(), a, b)

	require.NoError(t, multi.Send(context.Background(), &Message{Type: NotifyBuildStart, Text: "x"}))
	assert.Equal(t, 1, a.count)
	assert.Equal(t, 1, b.count)
}

type countingNotifier struct {
	count int
}

func (c *countingNotifier) Send(context.Context, *Message) error {
	c.count++
	return nil
}
