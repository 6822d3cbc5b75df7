package channel

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// WebhookConfig is the shared configuration for webhook providers. The
// optional secret enables request signing where the provider supports it.
type WebhookConfig struct {
	WebhookURL string   `json:"webhook_url"`
	Secret     string   `json:"secret,omitempty"`
	Mentions   []string `json:"mentions,omitempty"`
}

// webhookClient implements the token and post steps shared by the webhook
// providers. No credential exchange happens: the token is a constant empty
// value, and delivery is a direct POST to the configured URL. The target
// string is a placeholder identity only.
type webhookClient struct {
	provider string
	url      string
	client   *http.Client
	logger   *zap.Logger

	// sign rewrites the webhook URL with authentication parameters.
	// Nil when the provider needs none.
	sign func(url string) (string, error)
}

func (w *webhookClient) accessToken(_ context.Context) (string, error) {
	return "", nil
}

func (w *webhookClient) post(ctx context.Context, _ string, wm wireMessage, target string) SendResult {
	u := w.url
	if w.sign != nil {
		signed, err := w.sign(u)
		if err != nil {
			w.logger.Warn("webhook request signing failed",
				zap.String("provider", w.provider),
				zap.Error(err),
			)
			return SendResult{Target: target, Error: err.Error()}
		}
		u = signed
	}

	reply, err := postJSON(ctx, w.client, w.provider, u, wm.body)
	if err != nil {
		w.logger.Warn("webhook delivery failed",
			zap.String("provider", w.provider),
			zap.Error(err),
		)
		return SendResult{Target: target, Error: err.Error()}
	}

	return resultFromReply(target, reply)
}
