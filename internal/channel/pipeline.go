package channel

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// wireMessage is a provider-specific payload for one target. Endpoint is
// the provider API path for token-managed sends; webhook providers ignore
// it and post to their configured URL.
type wireMessage struct {
	endpoint string
	body     []byte
}

// steps are the provider-supplied parts of the delivery pipeline.
type steps interface {
	accessToken(ctx context.Context) (string, error)
	buildMessage(msg *Message, target string) (wireMessage, error)
	post(ctx context.Context, token string, wm wireMessage, target string) SendResult
}

// pipeline runs the fixed per-target delivery sequence shared by every
// strategy: fetch token, build payload, post. Concrete strategies embed a
// pipeline and supply the steps.
type pipeline struct {
	steps      steps
	capability Capability
}

func (p *pipeline) Capability() Capability { return p.capability }

// Send validates once, then processes targets strictly in order. Failures
// inside the loop are converted to per-target results so one bad recipient
// never aborts the rest of the batch.
func (p *pipeline) Send(ctx context.Context, msg *Message, targets []string) (*PushResult, error) {
	if err := validateMessage(msg); err != nil {
		return nil, err
	}

	res := &PushResult{
		PushID:  uuid.NewString(),
		Total:   len(targets),
		Results: make([]SendResult, 0, len(targets)),
	}

	for _, target := range targets {
		sr := p.deliver(ctx, msg, target)
		if sr.Success {
			res.Success++
		} else {
			res.Failed++
		}
		res.Results = append(res.Results, sr)
	}

	return res, nil
}

// deliver runs the three pipeline steps for one target. The token is
// fetched per target, not per batch: it is cache-backed and cheap after
// the first miss, and it keeps token-invalid retries scoped to the target
// that discovered the problem.
func (p *pipeline) deliver(ctx context.Context, msg *Message, target string) SendResult {
	token, err := p.steps.accessToken(ctx)
	if err != nil {
		return SendResult{Target: target, Error: err.Error()}
	}

	wm, err := p.steps.buildMessage(msg, target)
	if err != nil {
		return SendResult{Target: target, Error: err.Error()}
	}

	return p.steps.post(ctx, token, wm, target)
}

func validateMessage(msg *Message) error {
	if msg == nil || strings.TrimSpace(msg.Title) == "" {
		return ErrEmptyTitle
	}
	return nil
}
