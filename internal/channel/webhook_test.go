package channel

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWebhook_DeliveryFailureLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	// Port 0 is never connectable, so the POST fails without a server.
	s := NewFeishu(WebhookConfig{WebhookURL: "http://127.0.0.1:0"}, nil, zap.New(core))

	res, err := s.Send(context.Background(), &Message{Title: "hi"}, []string{"bot"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("expected per-target failure, got: %+v", res)
	}
	if logs.FilterMessage("webhook delivery failed").Len() != 1 {
		t.Errorf("expected one delivery-failure log entry, got %d", logs.Len())
	}
}

func TestWebhook_SigningFailureLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	// An unparseable webhook URL makes the signing step fail.
	s := NewDingTalk(WebhookConfig{WebhookURL: "://bad", Secret: "sec"}, nil, zap.New(core))

	res, err := s.Send(context.Background(), &Message{Title: "hi"}, []string{"robot"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("expected per-target failure, got: %+v", res)
	}
	if logs.FilterMessage("webhook request signing failed").Len() != 1 {
		t.Errorf("expected one signing-failure log entry, got %d", logs.Len())
	}
}
