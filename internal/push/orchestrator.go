// Package push orchestrates one push request end to end: resolve the
// application and its channel, compute the recipient targets, run the
// channel strategy, and record the outcome.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pushgate-io/pushgate/internal/channel"
	"github.com/pushgate-io/pushgate/internal/db"
	"github.com/pushgate-io/pushgate/internal/metrics"
)

// Push modes for wechat applications.
const (
	ModeSingle    = "single"
	ModeBroadcast = "broadcast"
)

// WeChatAppConfig is the delivery configuration of a wechat application:
// whether a push goes to the first bound recipient or all of them, and an
// optional default template id.
type WeChatAppConfig struct {
	Mode       string `json:"mode"`
	TemplateID string `json:"template_id,omitempty"`
}

// WeComAppConfig lists the explicit recipients of a wecom application.
type WeComAppConfig struct {
	UserIDs       []string `json:"user_ids,omitempty"`
	DepartmentIDs []string `json:"department_ids,omitempty"`
}

// WebhookAppConfig carries per-application overrides for webhook channels.
type WebhookAppConfig struct {
	WebhookURL string   `json:"webhook_url,omitempty"`
	Mentions   []string `json:"mentions,omitempty"`
}

// ValidateAppConfig checks that an application's delivery configuration
// matches the shape expected by its channel's type. Unknown fields are
// rejected so a config written for one provider cannot be bound to a
// channel of another and silently resolve to zero targets later.
func ValidateAppConfig(typ channel.Type, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}

	var out any
	switch typ {
	case channel.TypeWeChat:
		out = &WeChatAppConfig{}
	case channel.TypeWeCom:
		out = &WeComAppConfig{}
	case channel.TypeDingTalk, channel.TypeFeishu:
		out = &WebhookAppConfig{}
	default:
		return fmt.Errorf("%w: %q", channel.ErrUnsupportedType, typ)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config does not match channel type %s: %w", typ, err)
	}
	return nil
}

// Repository is the persistence surface the orchestrator needs.
type Repository interface {
	GetApplicationByKey(ctx context.Context, appKey string) (*db.Application, error)
	GetChannel(ctx context.Context, id uuid.UUID) (*db.Channel, error)
	ListRecipients(ctx context.Context, appID uuid.UUID) ([]*db.Recipient, error)
	CreateOutboundMessage(ctx context.Context, m *db.OutboundMessage) error
}

// StrategyFactory builds the delivery strategy for a channel.
type StrategyFactory interface {
	New(typ channel.Type, config json.RawMessage) (channel.Strategy, error)
}

// Orchestrator is the entry point consumed by the routing layer.
type Orchestrator struct {
	repo    Repository
	factory StrategyFactory
	logger  *zap.Logger
}

// NewOrchestrator creates a push orchestrator.
func NewOrchestrator(repo Repository, factory StrategyFactory, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		repo:    repo,
		factory: factory,
		logger:  logger,
	}
}

// Push delivers msg to every recipient configured for the application
// identified by appKey. A missing application or channel, or an empty
// target list, yields an all-zero result rather than an error. Invalid
// messages and misconfigured channels are returned as errors before any
// delivery is attempted.
func (o *Orchestrator) Push(ctx context.Context, appKey string, msg *channel.Message) (*channel.PushResult, error) {
	pushID := uuid.New()

	app, err := o.repo.GetApplicationByKey(ctx, appKey)
	if errors.Is(err, db.ErrNotFound) {
		o.logger.Warn("push for unknown application key", zap.String("app_key", appKey))
		return emptyResult(pushID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve application: %w", err)
	}

	ch, err := o.repo.GetChannel(ctx, app.ChannelID)
	if errors.Is(err, db.ErrNotFound) {
		o.logger.Warn("application bound to missing channel",
			zap.String("app_key", appKey),
			zap.String("channel_id", app.ChannelID.String()),
		)
		return emptyResult(pushID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve channel: %w", err)
	}

	// Template defaulting below works on a copy so the caller's message
	// is never mutated.
	if msg != nil {
		m := *msg
		msg = &m
	}

	targets, strategyConfig, err := o.resolveTargets(ctx, ch, app, msg)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		o.logger.Info("push with no targets",
			zap.String("app_key", appKey),
			zap.String("channel_type", ch.Type),
		)
		return emptyResult(pushID), nil
	}

	strategy, err := o.factory.New(channel.Type(ch.Type), strategyConfig)
	if err != nil {
		return nil, err
	}

	result, err := strategy.Send(ctx, msg, targets)
	if err != nil {
		return nil, err
	}

	// One id namespace for history correlation: the strategy's internal
	// id is replaced by the orchestrator's.
	result.PushID = pushID.String()

	metrics.RecordPush(ch.Type, result.Success, result.Failed)

	o.record(ctx, pushID, app, ch, msg, result)

	o.logger.Info("push completed",
		zap.String("push_id", result.PushID),
		zap.String("app_key", appKey),
		zap.String("channel_type", ch.Type),
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
	)

	return result, nil
}

// resolveTargets computes the target list from the channel type and the
// application's delivery configuration, and returns the channel config the
// strategy should be built with (webhook channels merge in per-application
// overrides).
func (o *Orchestrator) resolveTargets(ctx context.Context, ch *db.Channel, app *db.Application, msg *channel.Message) ([]string, json.RawMessage, error) {
	switch channel.Type(ch.Type) {
	case channel.TypeWeChat:
		var cfg WeChatAppConfig
		if err := unmarshalConfig(app.Config, &cfg); err != nil {
			return nil, nil, fmt.Errorf("decode wechat application config: %w", err)
		}
		if msg.TemplateID == "" {
			msg.TemplateID = cfg.TemplateID
		}

		recipients, err := o.repo.ListRecipients(ctx, app.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("list recipients: %w", err)
		}
		if len(recipients) == 0 {
			return nil, ch.Config, nil
		}
		if cfg.Mode == ModeSingle {
			return []string{recipients[0].OpenID}, ch.Config, nil
		}
		targets := make([]string, 0, len(recipients))
		for _, rec := range recipients {
			targets = append(targets, rec.OpenID)
		}
		return targets, ch.Config, nil

	case channel.TypeWeCom:
		var cfg WeComAppConfig
		if err := unmarshalConfig(app.Config, &cfg); err != nil {
			return nil, nil, fmt.Errorf("decode wecom application config: %w", err)
		}
		targets := make([]string, 0, len(cfg.UserIDs)+len(cfg.DepartmentIDs))
		targets = append(targets, cfg.UserIDs...)
		for _, dept := range cfg.DepartmentIDs {
			targets = append(targets, channel.DepartmentTarget(dept))
		}
		return targets, ch.Config, nil

	case channel.TypeDingTalk, channel.TypeFeishu:
		merged, target, err := mergeWebhookConfig(ch.Config, app.Config)
		if err != nil {
			return nil, nil, err
		}
		if target == "" {
			return nil, merged, nil
		}
		// The single target is a placeholder identity; the strategy
		// reads the real endpoint from its configuration.
		return []string{target}, merged, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", channel.ErrUnsupportedType, ch.Type)
	}
}

// mergeWebhookConfig applies an application's webhook URL override and
// mention list on top of the channel configuration. The returned target is
// the effective webhook URL.
func mergeWebhookConfig(channelConfig, appConfig json.RawMessage) (json.RawMessage, string, error) {
	var cfg channel.WebhookConfig
	if err := unmarshalConfig(channelConfig, &cfg); err != nil {
		return nil, "", fmt.Errorf("decode webhook channel config: %w", err)
	}

	var override WebhookAppConfig
	if err := unmarshalConfig(appConfig, &override); err != nil {
		return nil, "", fmt.Errorf("decode webhook application config: %w", err)
	}

	if override.WebhookURL != "" {
		cfg.WebhookURL = override.WebhookURL
	}
	if len(override.Mentions) > 0 {
		cfg.Mentions = override.Mentions
	}

	merged, err := json.Marshal(cfg)
	if err != nil {
		return nil, "", fmt.Errorf("marshal webhook config: %w", err)
	}
	return merged, cfg.WebhookURL, nil
}

func unmarshalConfig(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// record persists the outbound history row. A persistence failure is
// logged but does not fail the push: delivery already happened.
func (o *Orchestrator) record(ctx context.Context, pushID uuid.UUID, app *db.Application, ch *db.Channel, msg *channel.Message, result *channel.PushResult) {
	results, err := json.Marshal(result.Results)
	if err != nil {
		o.logger.Error("failed to marshal push results", zap.Error(err))
		return
	}

	rec := &db.OutboundMessage{
		ID:            pushID,
		ApplicationID: app.ID,
		ChannelID:     ch.ID,
		Title:         msg.Title,
		Description:   msg.Description,
		Total:         result.Total,
		Success:       result.Success,
		Failed:        result.Failed,
		Results:       results,
	}
	if err := o.repo.CreateOutboundMessage(ctx, rec); err != nil {
		o.logger.Error("failed to record outbound message",
			zap.Error(err),
			zap.String("push_id", pushID.String()),
		)
	}
}

func emptyResult(pushID uuid.UUID) *channel.PushResult {
	return &channel.PushResult{
		PushID:  pushID.String(),
		Results: []channel.SendResult{},
	}
}
