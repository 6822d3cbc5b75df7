package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pushgate-io/pushgate/internal/metrics"
)

const defaultProviderTimeout = 10 * time.Second

// replyBodyLimit caps how much of a provider response we read.
const replyBodyLimit = 64 * 1024

// providerReply is the tolerant response envelope shared by every provider
// send endpoint. Field names differ per provider but the shape is uniform:
// a numeric status (0 = success), an optional message, and an optional
// message id that may arrive as a string or a number.
type providerReply struct {
	ErrCode   *int            `json:"errcode"`
	Code      *int            `json:"code"`
	ErrMsg    string          `json:"errmsg"`
	Msg       string          `json:"msg"`
	MsgID     json.RawMessage `json:"msgid"`
	MessageID json.RawMessage `json:"message_id"`
}

func (r *providerReply) statusCode() int {
	if r.ErrCode != nil {
		return *r.ErrCode
	}
	if r.Code != nil {
		return *r.Code
	}
	return 0
}

func (r *providerReply) statusMessage() string {
	if r.ErrMsg != "" {
		return r.ErrMsg
	}
	return r.Msg
}

func (r *providerReply) messageID() string {
	raw := r.MsgID
	if len(raw) == 0 {
		raw = r.MessageID
	}
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return string(raw)
}

// resultFromReply maps a decoded provider reply onto a SendResult.
func resultFromReply(target string, reply *providerReply) SendResult {
	if code := reply.statusCode(); code != 0 {
		return SendResult{
			Target:  target,
			Error:   fmt.Sprintf("provider rejected message: code=%d msg=%s", code, reply.statusMessage()),
			ErrCode: code,
		}
	}
	return SendResult{Target: target, Success: true, MsgID: reply.messageID()}
}

// postJSON posts body to url and decodes the provider reply envelope.
func postJSON(ctx context.Context, client *http.Client, provider, url string, body []byte) (*providerReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	metrics.RecordProviderRequest(provider, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, replyBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(raw))
	}

	var reply providerReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}

	return &reply, nil
}

// getJSON fetches url and decodes the JSON response into out.
func getJSON(ctx context.Context, client *http.Client, provider, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	metrics.RecordProviderRequest(provider, time.Since(start))
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, replyBodyLimit))
	if err != nil {
		return fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}

	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = defaultProviderTimeout
	}
	return &http.Client{Timeout: timeout}
}
