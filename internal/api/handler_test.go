package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pushgate-io/pushgate/internal/channel"
	"github.com/pushgate-io/pushgate/internal/db"
)

var errDatabase = errors.New("database error")

// MockRepository is a fake database for testing
type MockRepository struct {
	channels     map[uuid.UUID]*db.Channel
	applications map[uuid.UUID]*db.Application
	recipients   map[uuid.UUID][]*db.Recipient
	messages     map[uuid.UUID][]*db.OutboundMessage

	shouldFail bool
}

// NewMockRepository creates a new mock repository
func NewMockRepository() *MockRepository {
	return &MockRepository{
		channels:     make(map[uuid.UUID]*db.Channel),
		applications: make(map[uuid.UUID]*db.Application),
		recipients:   make(map[uuid.UUID][]*db.Recipient),
		messages:     make(map[uuid.UUID][]*db.OutboundMessage),
	}
}

func (m *MockRepository) CreateChannel(ctx context.Context, ch *db.Channel) error {
	if m.shouldFail {
		return errDatabase
	}
	m.channels[ch.ID] = ch
	return nil
}

func (m *MockRepository) GetChannel(ctx context.Context, id uuid.UUID) (*db.Channel, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	ch, ok := m.channels[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return ch, nil
}

func (m *MockRepository) ListChannels(ctx context.Context) ([]*db.Channel, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	var result []*db.Channel
	for _, ch := range m.channels {
		result = append(result, ch)
	}
	return result, nil
}

func (m *MockRepository) CreateApplication(ctx context.Context, app *db.Application) error {
	if m.shouldFail {
		return errDatabase
	}
	m.applications[app.ID] = app
	return nil
}

func (m *MockRepository) GetApplication(ctx context.Context, id uuid.UUID) (*db.Application, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	app, ok := m.applications[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return app, nil
}

func (m *MockRepository) ListApplications(ctx context.Context, limit, offset int) ([]*db.Application, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	var result []*db.Application
	for _, app := range m.applications {
		result = append(result, app)
	}
	return result, nil
}

func (m *MockRepository) CreateRecipient(ctx context.Context, rec *db.Recipient) error {
	if m.shouldFail {
		return errDatabase
	}
	m.recipients[rec.ApplicationID] = append(m.recipients[rec.ApplicationID], rec)
	return nil
}

func (m *MockRepository) ListRecipients(ctx context.Context, appID uuid.UUID) ([]*db.Recipient, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	return m.recipients[appID], nil
}

func (m *MockRepository) ListOutboundMessages(ctx context.Context, appID uuid.UUID, limit, offset int) ([]*db.OutboundMessage, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	return m.messages[appID], nil
}

// MockPusher is a fake orchestrator for testing
type MockPusher struct {
	gotAppKey string
	gotMsg    *channel.Message
	result    *channel.PushResult
	err       error
}

func (m *MockPusher) Push(ctx context.Context, appKey string, msg *channel.Message) (*channel.PushResult, error) {
	m.gotAppKey = appKey
	m.gotMsg = msg
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &channel.PushResult{PushID: uuid.NewString(), Results: []channel.SendResult{}}, nil
}

func newTestHandler() (*Handler, *MockRepository, *MockPusher) {
	repo := NewMockRepository()
	pusher := &MockPusher{}
	return NewHandler(zap.NewNop(), repo, pusher), repo, pusher
}

// withURLParam injects a chi route parameter into the request context.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestPushHandler_Success(t *testing.T) {
	h, _, pusher := newTestHandler()
	pusher.result = &channel.PushResult{
		PushID:  "p-1",
		Total:   2,
		Success: 2,
		Results: []channel.SendResult{
			{Target: "a", Success: true},
			{Target: "b", Success: true},
		},
	}

	body := `{"app_key":"key-1","title":"deploy","description":"v2"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/push", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Push(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if pusher.gotAppKey != "key-1" {
		t.Errorf("expected app key key-1, got %q", pusher.gotAppKey)
	}
	if pusher.gotMsg.Title != "deploy" || pusher.gotMsg.Description != "v2" {
		t.Errorf("unexpected message: %+v", pusher.gotMsg)
	}

	var res channel.PushResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if res.PushID != "p-1" || res.Success != 2 {
		t.Errorf("unexpected response: %+v", res)
	}
}

func TestPushHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{not json`},
		{"missing app_key", `{"title":"hi"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandler()
			req := httptest.NewRequest(http.MethodPost, "/v1/push", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()

			h.Push(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("expected problem+json, got %q", ct)
			}
		})
	}
}

func TestPushHandler_EmptyTitle(t *testing.T) {
	h, _, pusher := newTestHandler()
	pusher.err = channel.ErrEmptyTitle

	req := httptest.NewRequest(http.MethodPost, "/v1/push", bytes.NewBufferString(`{"app_key":"k","title":""}`))
	w := httptest.NewRecorder()

	h.Push(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty title, got %d", w.Code)
	}
}

func TestPushHandler_ChannelMisconfigured(t *testing.T) {
	h, _, pusher := newTestHandler()
	pusher.err = channel.ErrUnsupportedType

	req := httptest.NewRequest(http.MethodPost, "/v1/push", bytes.NewBufferString(`{"app_key":"k","title":"hi"}`))
	w := httptest.NewRecorder()

	h.Push(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for misconfigured channel, got %d", w.Code)
	}
}

func TestCreateChannel(t *testing.T) {
	h, repo, _ := newTestHandler()

	body := `{"name":"alerts","type":"dingtalk","config":{"webhook_url":"https://example.com/hook"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/channels", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.CreateChannel(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(repo.channels) != 1 {
		t.Fatalf("expected channel to be persisted, got %d", len(repo.channels))
	}
	for _, ch := range repo.channels {
		if ch.Name != "alerts" || ch.Type != "dingtalk" {
			t.Errorf("unexpected stored channel: %+v", ch)
		}
	}
}

func TestCreateChannel_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"type":"wechat"}`},
		{"missing type", `{"name":"x"}`},
		{"unknown type", `{"name":"x","type":"sms"}`},
		{"invalid config json", `{"name":"x","type":"wechat","config":"oops`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, repo, _ := newTestHandler()
			req := httptest.NewRequest(http.MethodPost, "/v1/channels", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()

			h.CreateChannel(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
			if len(repo.channels) != 0 {
				t.Error("invalid request must not persist a channel")
			}
		})
	}
}

func TestGetChannel_NotFound(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/v1/channels/x", nil)
	req = withURLParam(req, "id", uuid.NewString())
	w := httptest.NewRecorder()

	h.GetChannel(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetChannel_BadID(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/v1/channels/nope", nil)
	req = withURLParam(req, "id", "nope")
	w := httptest.NewRecorder()

	h.GetChannel(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCreateApplication(t *testing.T) {
	h, repo, _ := newTestHandler()

	chID := uuid.New()
	repo.channels[chID] = &db.Channel{ID: chID, Name: "c", Type: "wechat"}

	body := `{"name":"ci-bot","app_key":"key-1","channel_id":"` + chID.String() + `","config":{"mode":"broadcast"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/applications", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.CreateApplication(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(repo.applications) != 1 {
		t.Fatal("expected application to be persisted")
	}
}

func TestCreateApplication_ConfigTypeMismatch(t *testing.T) {
	h, repo, _ := newTestHandler()

	chID := uuid.New()
	repo.channels[chID] = &db.Channel{ID: chID, Name: "c", Type: "wechat"}

	// A wecom-shaped config bound to a wechat channel must be rejected.
	body := `{"name":"ci-bot","app_key":"key-1","channel_id":"` + chID.String() + `","config":{"user_ids":["u1"]}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/applications", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.CreateApplication(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for mismatched config, got %d: %s", w.Code, w.Body.String())
	}
	if len(repo.applications) != 0 {
		t.Error("mismatched application must not be persisted")
	}
}

func TestCreateApplication_UnknownChannel(t *testing.T) {
	h, repo, _ := newTestHandler()

	body := `{"name":"ci-bot","app_key":"key-1","channel_id":"` + uuid.NewString() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/applications", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.CreateApplication(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown channel, got %d", w.Code)
	}
	if len(repo.applications) != 0 {
		t.Error("application must not be persisted without its channel")
	}
}

func TestCreateRecipient(t *testing.T) {
	h, repo, _ := newTestHandler()
	appID := uuid.New()

	body := `{"open_id":"open-1","remark":"oncall"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/applications/x/recipients", bytes.NewBufferString(body))
	req = withURLParam(req, "id", appID.String())
	w := httptest.NewRecorder()

	h.CreateRecipient(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	recs := repo.recipients[appID]
	if len(recs) != 1 || recs[0].OpenID != "open-1" {
		t.Errorf("unexpected stored recipients: %+v", recs)
	}
}

func TestCreateRecipient_MissingOpenID(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/applications/x/recipients", bytes.NewBufferString(`{}`))
	req = withURLParam(req, "id", uuid.NewString())
	w := httptest.NewRecorder()

	h.CreateRecipient(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestListMessages_RequiresApplicationID(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/v1/messages", nil)
	w := httptest.NewRecorder()

	h.ListMessages(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without application_id, got %d", w.Code)
	}
}

func TestListMessages(t *testing.T) {
	h, repo, _ := newTestHandler()
	appID := uuid.New()
	repo.messages[appID] = []*db.OutboundMessage{
		{ID: uuid.New(), ApplicationID: appID, Title: "t1"},
		{ID: uuid.New(), ApplicationID: appID, Title: "t2"},
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/messages?application_id="+appID.String(), nil)
	w := httptest.NewRecorder()

	h.ListMessages(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("expected 2 messages, got %d", resp.Count)
	}
}

func TestListChannels_DatabaseError(t *testing.T) {
	h, repo, _ := newTestHandler()
	repo.shouldFail = true

	req := httptest.NewRequest(http.MethodGet, "/v1/channels", nil)
	w := httptest.NewRecorder()

	h.ListChannels(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestPagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 20, 0},
		{"explicit", "limit=50&offset=10", 50, 10},
		{"limit capped", "limit=500", 20, 0},
		{"negative ignored", "limit=-1&offset=-5", 20, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/applications?"+tt.query, nil)
			limit, offset := pagination(req)
			if limit != tt.wantLimit || offset != tt.wantOffset {
				t.Errorf("pagination() = (%d, %d), want (%d, %d)", limit, offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}
