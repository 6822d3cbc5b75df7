package channel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

const defaultWeChatBaseURL = "https://api.weixin.qq.com"

// WeChat official-account error codes meaning the access token is stale.
var wechatInvalidTokenCodes = map[int]bool{
	40001: true,
	42001: true,
}

// WeChatConfig is the channel configuration for a WeChat official account.
type WeChatConfig struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

// WeChat delivers to official-account followers, either as a template
// message bound to a pre-registered template id or as a plain text
// customer-service message. Targets are follower open ids.
type WeChat struct {
	*pipeline
	*tokenSource
	cfg     WeChatConfig
	baseURL string
}

// NewWeChat creates the official-account strategy. Credentials are
// validated lazily: a missing app id or secret surfaces as a token fetch
// failure on the first delivery.
func NewWeChat(cfg WeChatConfig, cache TokenCache, client *http.Client, logger *zap.Logger) *WeChat {
	if client == nil {
		client = newHTTPClient(0)
	}

	s := &WeChat{cfg: cfg, baseURL: defaultWeChatBaseURL}
	s.tokenSource = &tokenSource{
		provider:          string(TypeWeChat),
		cacheKey:          "wechat:" + cfg.AppID,
		cache:             cache,
		client:            client,
		logger:            logger,
		invalidTokenCodes: wechatInvalidTokenCodes,
		tokenURL: func() string {
			return fmt.Sprintf("%s/cgi-bin/token?grant_type=client_credential&appid=%s&secret=%s",
				s.baseURL, url.QueryEscape(cfg.AppID), url.QueryEscape(cfg.AppSecret))
		},
		sendURL: func(endpoint, token string) string {
			return fmt.Sprintf("%s%s?access_token=%s", s.baseURL, endpoint, url.QueryEscape(token))
		},
	}
	s.pipeline = &pipeline{steps: s, capability: CapabilityToken}
	return s
}

type wechatTemplateValue struct {
	Value string `json:"value"`
}

type wechatTemplateMessage struct {
	ToUser     string                         `json:"touser"`
	TemplateID string                         `json:"template_id"`
	Data       map[string]wechatTemplateValue `json:"data"`
}

type wechatTextMessage struct {
	ToUser  string `json:"touser"`
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

// buildMessage distinguishes template messages (message carries a template
// id) from plain text messages; the two go to different API endpoints.
func (s *WeChat) buildMessage(msg *Message, target string) (wireMessage, error) {
	if msg.TemplateID != "" {
		data := make(map[string]wechatTemplateValue, len(msg.TemplateData)+2)
		data["title"] = wechatTemplateValue{Value: msg.Title}
		if msg.Description != "" {
			data["description"] = wechatTemplateValue{Value: msg.Description}
		}
		for k, v := range msg.TemplateData {
			data[k] = wechatTemplateValue{Value: v}
		}

		body, err := json.Marshal(wechatTemplateMessage{
			ToUser:     target,
			TemplateID: msg.TemplateID,
			Data:       data,
		})
		if err != nil {
			return wireMessage{}, fmt.Errorf("marshal template message: %w", err)
		}
		return wireMessage{endpoint: "/cgi-bin/message/template/send", body: body}, nil
	}

	text := wechatTextMessage{ToUser: target, MsgType: "text"}
	text.Text.Content = plainContent(msg)

	body, err := json.Marshal(text)
	if err != nil {
		return wireMessage{}, fmt.Errorf("marshal text message: %w", err)
	}
	return wireMessage{endpoint: "/cgi-bin/message/custom/send", body: body}, nil
}

// plainContent joins title and description into the text body used by
// every non-template envelope.
func plainContent(msg *Message) string {
	if msg.Description == "" {
		return msg.Title
	}
	return msg.Title + "\n" + msg.Description
}
