package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

type dingtalkCapture struct {
	body      []byte
	query     map[string]string
	callCount int
}

func newDingTalkServer(t *testing.T, cap *dingtalkCapture) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cap.callCount++
		cap.body, _ = io.ReadAll(r.Body)
		cap.query = map[string]string{}
		for k := range r.URL.Query() {
			cap.query[k] = r.URL.Query().Get(k)
		}
		fmt.Fprint(w, `{"errcode":0,"errmsg":"ok"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDingTalk_TextWithMentions(t *testing.T) {
	cap := &dingtalkCapture{}
	srv := newDingTalkServer(t, cap)

	s := NewDingTalk(WebhookConfig{
		WebhookURL: srv.URL + "/robot/send?access_token=abc",
		Mentions:   []string{"13800000001", "13800000002"},
	}, srv.Client(), zap.NewNop())

	res, err := s.Send(context.Background(), &Message{Title: "disk full", Description: "host db-3"}, []string{"robot"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	var payload struct {
		MsgType string `json:"msgtype"`
		Text    struct {
			Content string `json:"content"`
		} `json:"text"`
		At struct {
			AtMobiles []string `json:"atMobiles"`
			IsAtAll   bool     `json:"isAtAll"`
		} `json:"at"`
	}
	if err := json.Unmarshal(cap.body, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload.MsgType != "text" {
		t.Errorf("expected msgtype text, got %q", payload.MsgType)
	}
	if payload.Text.Content != "disk full\nhost db-3" {
		t.Errorf("unexpected content: %q", payload.Text.Content)
	}
	if len(payload.At.AtMobiles) != 2 || payload.At.IsAtAll {
		t.Errorf("unexpected mention block: %+v", payload.At)
	}
}

func TestDingTalk_MentionAll(t *testing.T) {
	cap := &dingtalkCapture{}
	srv := newDingTalkServer(t, cap)

	s := NewDingTalk(WebhookConfig{
		WebhookURL: srv.URL + "/robot/send",
		Mentions:   []string{mentionAll, "13800000001"},
	}, srv.Client(), zap.NewNop())

	if _, err := s.Send(context.Background(), &Message{Title: "hi"}, []string{"robot"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload struct {
		At struct {
			AtMobiles []string `json:"atMobiles"`
			IsAtAll   bool     `json:"isAtAll"`
		} `json:"at"`
	}
	if err := json.Unmarshal(cap.body, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if !payload.At.IsAtAll {
		t.Error("@all must set isAtAll")
	}
	if len(payload.At.AtMobiles) != 1 || payload.At.AtMobiles[0] != "13800000001" {
		t.Errorf("@all must not appear among mobiles: %+v", payload.At.AtMobiles)
	}
}

func TestDingTalk_SignedRequest(t *testing.T) {
	cap := &dingtalkCapture{}
	srv := newDingTalkServer(t, cap)

	const secret = "SEC000abc"
	pinned := time.UnixMilli(1714000000000)

	s := NewDingTalk(WebhookConfig{
		WebhookURL: srv.URL + "/robot/send?access_token=abc",
		Secret:     secret,
	}, srv.Client(), zap.NewNop())
	s.now = func() time.Time { return pinned }

	if _, err := s.Send(context.Background(), &Message{Title: "hi"}, []string{"robot"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cap.query["access_token"] != "abc" {
		t.Error("signing must preserve existing query parameters")
	}
	if got := cap.query["timestamp"]; got != "1714000000000" {
		t.Errorf("expected pinned timestamp, got %q", got)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("1714000000000\n" + secret))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if got := cap.query["sign"]; got != want {
		t.Errorf("signature mismatch: got %q, want %q", got, want)
	}
}

func TestDingTalk_UnsignedWithoutSecret(t *testing.T) {
	cap := &dingtalkCapture{}
	srv := newDingTalkServer(t, cap)

	s := NewDingTalk(WebhookConfig{WebhookURL: srv.URL + "/robot/send"}, srv.Client(), zap.NewNop())

	if _, err := s.Send(context.Background(), &Message{Title: "hi"}, []string{"robot"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := cap.query["sign"]; ok {
		t.Error("no secret configured, request must not carry a signature")
	}
}

func TestDingTalk_Capability(t *testing.T) {
	s := NewDingTalk(WebhookConfig{WebhookURL: "http://example.invalid"}, nil, zap.NewNop())
	if s.Capability() != CapabilityWebhook {
		t.Errorf("expected %q, got %q", CapabilityWebhook, s.Capability())
	}
}
