package channel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Factory maps a channel type and its stored configuration to a strategy.
// A fresh strategy instance is constructed per call; strategies hold no
// cross-push state beyond the shared token cache.
type Factory struct {
	cache  TokenCache
	client *http.Client
	logger *zap.Logger
}

// NewFactory creates a strategy factory. All strategies share the given
// HTTP client and token cache.
func NewFactory(cache TokenCache, client *http.Client, logger *zap.Logger) *Factory {
	if client == nil {
		client = newHTTPClient(0)
	}
	return &Factory{cache: cache, client: client, logger: logger}
}

// New constructs the strategy for typ from its JSON channel configuration.
func (f *Factory) New(typ Type, config json.RawMessage) (Strategy, error) {
	switch typ {
	case TypeWeChat:
		var cfg WeChatConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("decode wechat channel config: %w", err)
		}
		return NewWeChat(cfg, f.cache, f.client, f.logger), nil

	case TypeWeCom:
		var cfg WeComConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("decode wecom channel config: %w", err)
		}
		return NewWeCom(cfg, f.cache, f.client, f.logger)

	case TypeDingTalk:
		var cfg WebhookConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("decode dingtalk channel config: %w", err)
		}
		return NewDingTalk(cfg, f.client, f.logger), nil

	case TypeFeishu:
		var cfg WebhookConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("decode feishu channel config: %w", err)
		}
		return NewFeishu(cfg, f.client, f.logger), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, string(typ))
	}
}
