package channel

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pushgate-io/pushgate/internal/metrics"
)

// tokenExpirySkew is subtracted from the provider's expires_in so a token
// is refreshed before the provider actually invalidates it.
const tokenExpirySkew = 300 * time.Second

// tokenResponse is the client-credential exchange response shared by both
// token-managed providers.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
}

// tokenSource implements the token half of the pipeline for the
// token-managed providers: cache lookup, fetch-and-cache on miss or
// expiry, and the single delete-refetch-retry cycle when a send reports
// an invalid token.
type tokenSource struct {
	provider string
	cacheKey string
	cache    TokenCache
	client   *http.Client
	logger   *zap.Logger

	// tokenURL returns the full token-endpoint URL with credentials as
	// query parameters.
	tokenURL func() string
	// sendURL returns the full send-endpoint URL for the given API path
	// and bearer token.
	sendURL func(endpoint, token string) string
	// invalidTokenCodes are the provider error codes that mean the cached
	// token is stale and the send should be retried once with a fresh one.
	invalidTokenCodes map[int]bool
}

func (t *tokenSource) accessToken(ctx context.Context) (string, error) {
	entry, err := t.cache.Get(ctx, t.cacheKey)
	if err != nil {
		t.logger.Warn("token cache read failed, fetching fresh token",
			zap.String("provider", t.provider),
			zap.Error(err),
		)
	}
	if entry != nil && entry.ExpiresAt.After(time.Now()) {
		metrics.RecordTokenCache(t.provider, "hit")
		return entry.AccessToken, nil
	}

	metrics.RecordTokenCache(t.provider, "miss")
	return t.refreshToken(ctx)
}

// refreshToken calls the provider token endpoint and caches the result.
func (t *tokenSource) refreshToken(ctx context.Context) (string, error) {
	var resp tokenResponse
	if err := getJSON(ctx, t.client, t.provider, t.tokenURL(), &resp); err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}

	if resp.ErrCode != 0 {
		return "", fmt.Errorf("token endpoint rejected credentials: code=%d msg=%s", resp.ErrCode, resp.ErrMsg)
	}
	if resp.AccessToken == "" || resp.ExpiresIn <= 0 {
		return "", fmt.Errorf("token endpoint returned malformed response")
	}

	ttl := time.Duration(resp.ExpiresIn)*time.Second - tokenExpirySkew
	if ttl <= 0 {
		ttl = time.Duration(resp.ExpiresIn) * time.Second
	}

	entry := &TokenEntry{
		AccessToken: resp.AccessToken,
		ExpiresAt:   time.Now().Add(ttl),
	}
	if err := t.cache.Put(ctx, t.cacheKey, entry, ttl); err != nil {
		t.logger.Warn("token cache write failed",
			zap.String("provider", t.provider),
			zap.Error(err),
		)
	}

	t.logger.Info("access token refreshed",
		zap.String("provider", t.provider),
		zap.Time("expires_at", entry.ExpiresAt),
	)

	return resp.AccessToken, nil
}

// post sends the payload and handles provider-triggered token
// invalidation: drop the cached token, force one refresh, and retry the
// send exactly once. Any other failure is terminal for this target.
func (t *tokenSource) post(ctx context.Context, token string, wm wireMessage, target string) SendResult {
	reply, err := postJSON(ctx, t.client, t.provider, t.sendURL(wm.endpoint, token), wm.body)
	if err != nil {
		return SendResult{Target: target, Error: err.Error()}
	}

	if code := reply.statusCode(); code != 0 && t.invalidTokenCodes[code] {
		t.logger.Info("provider reported invalid token, retrying with fresh token",
			zap.String("provider", t.provider),
			zap.Int("code", code),
		)
		if err := t.cache.Delete(ctx, t.cacheKey); err != nil {
			t.logger.Warn("token cache delete failed",
				zap.String("provider", t.provider),
				zap.Error(err),
			)
		}

		fresh, err := t.refreshToken(ctx)
		if err != nil {
			return SendResult{Target: target, Error: err.Error(), ErrCode: code}
		}

		reply, err = postJSON(ctx, t.client, t.provider, t.sendURL(wm.endpoint, fresh), wm.body)
		if err != nil {
			return SendResult{Target: target, Error: err.Error()}
		}
	}

	return resultFromReply(target, reply)
}
