package channel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const defaultWeComBaseURL = "https://qyapi.weixin.qq.com"

// departmentPrefix disambiguates department targets from user targets
// within one flat target list.
const departmentPrefix = "dept_"

// WeCom enterprise error codes meaning the access token is stale.
var wecomInvalidTokenCodes = map[int]bool{
	40014: true,
	42001: true,
}

// WeComConfig is the channel configuration for a WeCom enterprise app.
type WeComConfig struct {
	CorpID     string `json:"corp_id"`
	CorpSecret string `json:"corp_secret"`
	AgentID    int64  `json:"agent_id"`
}

// WeCom delivers enterprise app messages to users or whole departments.
// Department targets carry the dept_ prefix; everything else is a user id.
type WeCom struct {
	*pipeline
	*tokenSource
	cfg     WeComConfig
	baseURL string
}

// DepartmentTarget rewrites a department id into its prefixed target form.
func DepartmentTarget(id string) string {
	return departmentPrefix + id
}

// NewWeCom creates the enterprise strategy. Unlike the other providers,
// configuration is validated eagerly so a misconfigured channel aborts the
// push before any network activity.
func NewWeCom(cfg WeComConfig, cache TokenCache, client *http.Client, logger *zap.Logger) (*WeCom, error) {
	if cfg.CorpID == "" {
		return nil, fmt.Errorf("wecom channel config missing corp_id")
	}
	if cfg.CorpSecret == "" {
		return nil, fmt.Errorf("wecom channel config missing corp_secret")
	}
	if cfg.AgentID == 0 {
		return nil, fmt.Errorf("wecom channel config missing agent_id")
	}
	if client == nil {
		client = newHTTPClient(0)
	}

	s := &WeCom{cfg: cfg, baseURL: defaultWeComBaseURL}
	s.tokenSource = &tokenSource{
		provider:          string(TypeWeCom),
		cacheKey:          fmt.Sprintf("wecom:%s:%d", cfg.CorpID, cfg.AgentID),
		cache:             cache,
		client:            client,
		logger:            logger,
		invalidTokenCodes: wecomInvalidTokenCodes,
		tokenURL: func() string {
			return fmt.Sprintf("%s/cgi-bin/gettoken?corpid=%s&corpsecret=%s",
				s.baseURL, url.QueryEscape(cfg.CorpID), url.QueryEscape(cfg.CorpSecret))
		},
		sendURL: func(endpoint, token string) string {
			return fmt.Sprintf("%s%s?access_token=%s", s.baseURL, endpoint, url.QueryEscape(token))
		},
	}
	s.pipeline = &pipeline{steps: s, capability: CapabilityToken}
	return s, nil
}

type wecomTextMessage struct {
	ToUser  string `json:"touser,omitempty"`
	ToParty string `json:"toparty,omitempty"`
	MsgType string `json:"msgtype"`
	AgentID int64  `json:"agentid"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

func (s *WeCom) buildMessage(msg *Message, target string) (wireMessage, error) {
	m := wecomTextMessage{MsgType: "text", AgentID: s.cfg.AgentID}
	if dept, ok := strings.CutPrefix(target, departmentPrefix); ok {
		m.ToParty = dept
	} else {
		m.ToUser = target
	}
	m.Text.Content = processContent(plainContent(msg))

	body, err := json.Marshal(m)
	if err != nil {
		return wireMessage{}, fmt.Errorf("marshal wecom message: %w", err)
	}
	return wireMessage{endpoint: "/cgi-bin/message/send", body: body}, nil
}
