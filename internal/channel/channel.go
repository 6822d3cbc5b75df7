// Package channel implements delivery strategies for the supported push
// providers. Each provider hides its own authentication, payload format,
// and error semantics behind the Strategy interface.
package channel

import (
	"context"
	"errors"
	"time"
)

// Type identifies a push provider.
type Type string

const (
	TypeWeChat   Type = "wechat"
	TypeWeCom    Type = "wecom"
	TypeDingTalk Type = "dingtalk"
	TypeFeishu   Type = "feishu"
)

// ValidType reports whether s names a supported provider.
func ValidType(s string) bool {
	switch Type(s) {
	case TypeWeChat, TypeWeCom, TypeDingTalk, TypeFeishu:
		return true
	}
	return false
}

// Capability describes how a strategy authenticates against its provider.
type Capability string

const (
	// CapabilityToken marks providers requiring a cached bearer credential.
	CapabilityToken Capability = "token"
	// CapabilityWebhook marks providers delivering via a pre-shared URL.
	CapabilityWebhook Capability = "webhook"
)

// Message is the immutable input to a single delivery attempt.
type Message struct {
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
}

// SendResult is the delivery outcome for one target.
type SendResult struct {
	Target  string `json:"target"`
	Success bool   `json:"success"`
	MsgID   string `json:"msg_id,omitempty"`
	Error   string `json:"error,omitempty"`
	ErrCode int    `json:"err_code,omitempty"`
}

// PushResult aggregates the per-target outcomes of one fan-out.
// Results[i] always corresponds to targets[i].
type PushResult struct {
	PushID  string       `json:"push_id"`
	Total   int          `json:"total"`
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Results []SendResult `json:"results"`
}

// ErrEmptyTitle is returned by Send before any target is processed.
var ErrEmptyTitle = errors.New("message title is required")

// ErrUnsupportedType is returned by the factory for unknown channel types.
var ErrUnsupportedType = errors.New("unsupported channel type")

// Strategy is the uniform delivery contract across all providers.
type Strategy interface {
	// Send delivers msg to each target in order, isolating per-target
	// failures. A non-nil error means the batch was aborted before any
	// target was touched (invalid message or configuration).
	Send(ctx context.Context, msg *Message, targets []string) (*PushResult, error)

	// Capability reports how the strategy authenticates. Introspection
	// only; no behavior branches on it.
	Capability() Capability
}

// TokenEntry is a cached bearer credential with its absolute expiry.
type TokenEntry struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenCache stores provider access tokens keyed by provider identity.
// Get returns (nil, nil) when the key is absent.
type TokenCache interface {
	Get(ctx context.Context, key string) (*TokenEntry, error)
	Put(ctx context.Context, key string, entry *TokenEntry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
