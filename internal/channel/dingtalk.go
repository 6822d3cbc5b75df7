package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// mentionAll in a mention list @-mentions everyone in the group.
const mentionAll = "@all"

// DingTalk delivers to a group robot webhook. The text envelope carries an
// @-mention block, and when the robot has a signing secret each request is
// authenticated with a timestamped HMAC-SHA256 signature.
type DingTalk struct {
	*pipeline
	*webhookClient
	mentions []string

	// now is swapped in tests to pin the signature timestamp.
	now func() time.Time
}

// NewDingTalk creates the DingTalk group-robot strategy.
func NewDingTalk(cfg WebhookConfig, client *http.Client, logger *zap.Logger) *DingTalk {
	if client == nil {
		client = newHTTPClient(0)
	}

	s := &DingTalk{mentions: cfg.Mentions, now: time.Now}
	s.webhookClient = &webhookClient{
		provider: string(TypeDingTalk),
		url:      cfg.WebhookURL,
		client:   client,
		logger:   logger,
	}
	if cfg.Secret != "" {
		s.webhookClient.sign = func(u string) (string, error) {
			return s.signURL(u, cfg.Secret)
		}
	}
	s.pipeline = &pipeline{steps: s, capability: CapabilityWebhook}
	return s
}

type dingtalkTextMessage struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
	At struct {
		AtMobiles []string `json:"atMobiles,omitempty"`
		IsAtAll   bool     `json:"isAtAll"`
	} `json:"at"`
}

func (s *DingTalk) buildMessage(msg *Message, _ string) (wireMessage, error) {
	m := dingtalkTextMessage{MsgType: "text"}
	m.Text.Content = plainContent(msg)
	for _, mention := range s.mentions {
		if mention == mentionAll {
			m.At.IsAtAll = true
			continue
		}
		m.At.AtMobiles = append(m.At.AtMobiles, mention)
	}

	body, err := json.Marshal(m)
	if err != nil {
		return wireMessage{}, fmt.Errorf("marshal dingtalk message: %w", err)
	}
	return wireMessage{body: body}, nil
}

// signURL appends the timestamp and HMAC-SHA256 signature query parameters
// required by robots configured with a signing secret.
func (s *DingTalk) signURL(webhookURL, secret string) (string, error) {
	u, err := url.Parse(webhookURL)
	if err != nil {
		return "", fmt.Errorf("parse webhook url: %w", err)
	}

	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "\n" + secret))
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	q := u.Query()
	q.Set("timestamp", ts)
	q.Set("sign", sign)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
