package channel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Feishu delivers to a custom-bot webhook with a bare text envelope.
type Feishu struct {
	*pipeline
	*webhookClient
}

// NewFeishu creates the Feishu custom-bot strategy.
func NewFeishu(cfg WebhookConfig, client *http.Client, logger *zap.Logger) *Feishu {
	if client == nil {
		client = newHTTPClient(0)
	}

	s := &Feishu{}
	s.webhookClient = &webhookClient{
		provider: string(TypeFeishu),
		url:      cfg.WebhookURL,
		client:   client,
		logger:   logger,
	}
	s.pipeline = &pipeline{steps: s, capability: CapabilityWebhook}
	return s
}

type feishuTextMessage struct {
	MsgType string `json:"msg_type"`
	Content struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (s *Feishu) buildMessage(msg *Message, _ string) (wireMessage, error) {
	m := feishuTextMessage{MsgType: "text"}
	m.Content.Text = plainContent(msg)

	body, err := json.Marshal(m)
	if err != nil {
		return wireMessage{}, fmt.Errorf("marshal feishu message: %w", err)
	}
	return wireMessage{body: body}, nil
}
