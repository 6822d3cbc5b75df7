package db

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Channel is a configured connection to one push provider. Config is a
// JSON document whose shape depends on Type: token-managed providers carry
// credentials, webhook providers carry a URL and optional secret.
type Channel struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Application is a tenant-facing entity owning a push key and a delivery
// configuration scoped to one channel. Config mirrors the owning channel's
// capability: push mode and template id for wechat, recipient and
// department lists for wecom, webhook URL override and mentions for the
// webhook providers.
type Application struct {
	ID        uuid.UUID       `json:"id"`
	AppKey    string          `json:"app_key"`
	ChannelID uuid.UUID       `json:"channel_id"`
	Name      string          `json:"name"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Recipient is one bound wechat follower of an application.
type Recipient struct {
	ID            uuid.UUID `json:"id"`
	ApplicationID uuid.UUID `json:"application_id"`
	OpenID        string    `json:"open_id"`
	Remark        string    `json:"remark,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// OutboundMessage is the history record of one push: the message content
// plus aggregate counts and the per-target results JSON.
type OutboundMessage struct {
	ID            uuid.UUID       `json:"id"`
	ApplicationID uuid.UUID       `json:"application_id"`
	ChannelID     uuid.UUID       `json:"channel_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	Total         int             `json:"total"`
	Success       int             `json:"success"`
	Failed        int             `json:"failed"`
	Results       json.RawMessage `json:"results"`
	CreatedAt     time.Time       `json:"created_at"`
}
