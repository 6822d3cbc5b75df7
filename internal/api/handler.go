package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pushgate-io/pushgate/internal/channel"
	"github.com/pushgate-io/pushgate/internal/db"
	"github.com/pushgate-io/pushgate/internal/push"
)

// Pusher is the orchestrator surface the routing layer consumes.
type Pusher interface {
	Push(ctx context.Context, appKey string, msg *channel.Message) (*channel.PushResult, error)
}

// Repository defines the management database operations the API needs.
type Repository interface {
	CreateChannel(ctx context.Context, ch *db.Channel) error
	GetChannel(ctx context.Context, id uuid.UUID) (*db.Channel, error)
	ListChannels(ctx context.Context) ([]*db.Channel, error)
	CreateApplication(ctx context.Context, app *db.Application) error
	GetApplication(ctx context.Context, id uuid.UUID) (*db.Application, error)
	ListApplications(ctx context.Context, limit, offset int) ([]*db.Application, error)
	CreateRecipient(ctx context.Context, rec *db.Recipient) error
	ListRecipients(ctx context.Context, appID uuid.UUID) ([]*db.Recipient, error)
	ListOutboundMessages(ctx context.Context, appID uuid.UUID, limit, offset int) ([]*db.OutboundMessage, error)
}

// PushRequest represents the incoming push request body
type PushRequest struct {
	AppKey       string            `json:"app_key"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
}

// ChannelRequest represents the incoming channel creation body
type ChannelRequest struct {
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

// ApplicationRequest represents the incoming application creation body
type ApplicationRequest struct {
	Name      string          `json:"name"`
	AppKey    string          `json:"app_key"`
	ChannelID string          `json:"channel_id"`
	Config    json.RawMessage `json:"config"`
}

// RecipientRequest represents the incoming recipient binding body
type RecipientRequest struct {
	OpenID string `json:"open_id"`
	Remark string `json:"remark,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger *zap.Logger
	repo   Repository
	pusher Pusher
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo Repository, pusher Pusher) *Handler {
	return &Handler{
		logger: logger,
		repo:   repo,
		pusher: pusher,
	}
}

// Push handles POST /v1/push
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.AppKey == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing app_key", "app_key is required")
		return
	}

	msg := &channel.Message{
		Title:        req.Title,
		Description:  req.Description,
		TemplateID:   req.TemplateID,
		TemplateData: req.TemplateData,
	}

	result, err := h.pusher.Push(ctx, req.AppKey, msg)
	if err != nil {
		if errors.Is(err, channel.ErrEmptyTitle) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid message", err.Error())
			return
		}
		if errors.Is(err, channel.ErrUnsupportedType) {
			h.writeError(w, http.StatusUnprocessableEntity, "channel_misconfigured", "Channel misconfigured", err.Error())
			return
		}
		h.logger.Error("push failed",
			zap.Error(err),
			zap.String("app_key", req.AppKey),
		)
		h.writeError(w, http.StatusUnprocessableEntity, "push_error", "Push could not be dispatched", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

// CreateChannel handles POST /v1/channels
func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Name == "" || req.Type == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "name and type are required")
		return
	}

	if !channel.ValidType(req.Type) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel type",
			"type must be wechat, wecom, dingtalk, or feishu")
		return
	}

	if len(req.Config) > 0 && !json.Valid(req.Config) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid config", "config must be valid JSON")
		return
	}

	ch := &db.Channel{
		ID:     uuid.New(),
		Name:   req.Name,
		Type:   req.Type,
		Config: req.Config,
	}

	if err := h.repo.CreateChannel(ctx, ch); err != nil {
		h.logger.Error("failed to create channel", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create channel", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ch)
}

// GetChannel handles GET /v1/channels/{id}
func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel ID", "ID must be a valid UUID")
		return
	}

	ch, err := h.repo.GetChannel(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Channel not found", "")
			return
		}
		h.logger.Error("failed to get channel", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get channel", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ch)
}

// ListChannels handles GET /v1/channels
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	channels, err := h.repo.ListChannels(ctx)
	if err != nil {
		h.logger.Error("failed to list channels", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list channels", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  channels,
		"count": len(channels),
	})
}

// CreateApplication handles POST /v1/applications
func (h *Handler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Name == "" || req.AppKey == "" || req.ChannelID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"name, app_key, and channel_id are required")
		return
	}

	channelID, err := uuid.Parse(req.ChannelID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel_id", "channel_id must be a valid UUID")
		return
	}

	if len(req.Config) > 0 && !json.Valid(req.Config) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid config", "config must be valid JSON")
		return
	}

	// The channel must exist; its type anchors the application config.
	ch, err := h.repo.GetChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Unknown channel", "channel_id does not reference an existing channel")
			return
		}
		h.logger.Error("failed to resolve channel", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to resolve channel", "")
		return
	}

	if err := push.ValidateAppConfig(channel.Type(ch.Type), req.Config); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Config does not match channel type", err.Error())
		return
	}

	app := &db.Application{
		ID:        uuid.New(),
		AppKey:    req.AppKey,
		ChannelID: channelID,
		Name:      req.Name,
		Config:    req.Config,
	}

	if err := h.repo.CreateApplication(ctx, app); err != nil {
		h.logger.Error("failed to create application", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create application", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(app)
}

// GetApplication handles GET /v1/applications/{id}
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid application ID", "ID must be a valid UUID")
		return
	}

	app, err := h.repo.GetApplication(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Application not found", "")
			return
		}
		h.logger.Error("failed to get application", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get application", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(app)
}

// ListApplications handles GET /v1/applications?limit=20&offset=0
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, offset := pagination(r)

	apps, err := h.repo.ListApplications(ctx, limit, offset)
	if err != nil {
		h.logger.Error("failed to list applications", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list applications", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   apps,
		"limit":  limit,
		"offset": offset,
		"count":  len(apps),
	})
}

// CreateRecipient handles POST /v1/applications/{id}/recipients
func (h *Handler) CreateRecipient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	appID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid application ID", "ID must be a valid UUID")
		return
	}

	var req RecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.OpenID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing open_id", "open_id is required")
		return
	}

	rec := &db.Recipient{
		ID:            uuid.New(),
		ApplicationID: appID,
		OpenID:        req.OpenID,
		Remark:        req.Remark,
	}

	if err := h.repo.CreateRecipient(ctx, rec); err != nil {
		h.logger.Error("failed to bind recipient", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to bind recipient", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(rec)
}

// ListRecipients handles GET /v1/applications/{id}/recipients
func (h *Handler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	appID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid application ID", "ID must be a valid UUID")
		return
	}

	recipients, err := h.repo.ListRecipients(ctx, appID)
	if err != nil {
		h.logger.Error("failed to list recipients", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list recipients", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  recipients,
		"count": len(recipients),
	})
}

// ListMessages handles GET /v1/messages?application_id=xxx&limit=20&offset=0
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	appIDStr := r.URL.Query().Get("application_id")
	if appIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing application_id", "application_id query parameter is required")
		return
	}

	appID, err := uuid.Parse(appIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid application_id", "application_id must be a valid UUID")
		return
	}

	limit, offset := pagination(r)

	messages, err := h.repo.ListOutboundMessages(ctx, appID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list outbound messages", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list messages", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   messages,
		"limit":  limit,
		"offset": offset,
		"count":  len(messages),
	})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
