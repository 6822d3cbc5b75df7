package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for channels, applications,
// recipient bindings, and the outbound message history.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateChannel inserts a new channel
func (r *Repository) CreateChannel(ctx context.Context, ch *Channel) error {
	query := `
		INSERT INTO channels (id, name, type, config)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query, ch.ID, ch.Name, ch.Type, ch.Config).
		Scan(&ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create channel",
			zap.Error(err),
			zap.String("channel_id", ch.ID.String()),
		)
		return fmt.Errorf("insert channel: %w", err)
	}

	r.logger.Info("channel created",
		zap.String("channel_id", ch.ID.String()),
		zap.String("type", ch.Type),
	)

	return nil
}

// GetChannel retrieves a channel by ID
func (r *Repository) GetChannel(ctx context.Context, id uuid.UUID) (*Channel, error) {
	query := `
		SELECT id, name, type, config, created_at, updated_at
		FROM channels
		WHERE id = $1
	`

	var ch Channel
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&ch.ID,
		&ch.Name,
		&ch.Type,
		&ch.Config,
		&ch.CreatedAt,
		&ch.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query channel: %w", err)
	}

	return &ch, nil
}

// ListChannels retrieves all channels
func (r *Repository) ListChannels(ctx context.Context) ([]*Channel, error) {
	query := `
		SELECT id, name, type, config, created_at, updated_at
		FROM channels
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		var ch Channel
		err := rows.Scan(
			&ch.ID,
			&ch.Name,
			&ch.Type,
			&ch.Config,
			&ch.CreatedAt,
			&ch.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, &ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return channels, nil
}

// CreateApplication inserts a new application
func (r *Repository) CreateApplication(ctx context.Context, app *Application) error {
	query := `
		INSERT INTO applications (id, app_key, channel_id, name, config)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query, app.ID, app.AppKey, app.ChannelID, app.Name, app.Config).
		Scan(&app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create application",
			zap.Error(err),
			zap.String("application_id", app.ID.String()),
		)
		return fmt.Errorf("insert application: %w", err)
	}

	r.logger.Info("application created",
		zap.String("application_id", app.ID.String()),
		zap.String("channel_id", app.ChannelID.String()),
	)

	return nil
}

// GetApplication retrieves an application by ID
func (r *Repository) GetApplication(ctx context.Context, id uuid.UUID) (*Application, error) {
	query := `
		SELECT id, app_key, channel_id, name, config, created_at, updated_at
		FROM applications
		WHERE id = $1
	`

	var app Application
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&app.ID,
		&app.AppKey,
		&app.ChannelID,
		&app.Name,
		&app.Config,
		&app.CreatedAt,
		&app.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query application: %w", err)
	}

	return &app, nil
}

// GetApplicationByKey retrieves an application by its push key
func (r *Repository) GetApplicationByKey(ctx context.Context, appKey string) (*Application, error) {
	query := `
		SELECT id, app_key, channel_id, name, config, created_at, updated_at
		FROM applications
		WHERE app_key = $1
	`

	var app Application
	err := r.db.Pool().QueryRow(ctx, query, appKey).Scan(
		&app.ID,
		&app.AppKey,
		&app.ChannelID,
		&app.Name,
		&app.Config,
		&app.CreatedAt,
		&app.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("application key %s: %w", appKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query application by key: %w", err)
	}

	return &app, nil
}

// ListApplications retrieves applications with pagination
func (r *Repository) ListApplications(ctx context.Context, limit, offset int) ([]*Application, error) {
	query := `
		SELECT id, app_key, channel_id, name, config, created_at, updated_at
		FROM applications
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool().Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query applications: %w", err)
	}
	defer rows.Close()

	var apps []*Application
	for rows.Next() {
		var app Application
		err := rows.Scan(
			&app.ID,
			&app.AppKey,
			&app.ChannelID,
			&app.Name,
			&app.Config,
			&app.CreatedAt,
			&app.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, &app)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return apps, nil
}

// CreateRecipient binds one wechat follower to an application
func (r *Repository) CreateRecipient(ctx context.Context, rec *Recipient) error {
	query := `
		INSERT INTO recipients (id, application_id, open_id, remark)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query, rec.ID, rec.ApplicationID, rec.OpenID, rec.Remark).
		Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert recipient: %w", err)
	}

	r.logger.Info("recipient bound",
		zap.String("application_id", rec.ApplicationID.String()),
		zap.String("open_id", rec.OpenID),
	)

	return nil
}

// ListRecipients retrieves the bound recipients of an application in
// binding order.
func (r *Repository) ListRecipients(ctx context.Context, appID uuid.UUID) ([]*Recipient, error) {
	query := `
		SELECT id, application_id, open_id, remark, created_at
		FROM recipients
		WHERE application_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var recipients []*Recipient
	for rows.Next() {
		var rec Recipient
		err := rows.Scan(
			&rec.ID,
			&rec.ApplicationID,
			&rec.OpenID,
			&rec.Remark,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return recipients, nil
}

// CreateOutboundMessage persists the history record of one push
func (r *Repository) CreateOutboundMessage(ctx context.Context, m *OutboundMessage) error {
	query := `
		INSERT INTO outbound_messages (
			id, application_id, channel_id, title, description,
			total, success, failed, results
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		m.ID,
		m.ApplicationID,
		m.ChannelID,
		m.Title,
		m.Description,
		m.Total,
		m.Success,
		m.Failed,
		m.Results,
	).Scan(&m.CreatedAt)

	if err != nil {
		r.logger.Error("failed to record outbound message",
			zap.Error(err),
			zap.String("push_id", m.ID.String()),
		)
		return fmt.Errorf("insert outbound message: %w", err)
	}

	return nil
}

// ListOutboundMessages retrieves the push history of an application with
// pagination, newest first.
func (r *Repository) ListOutboundMessages(ctx context.Context, appID uuid.UUID, limit, offset int) ([]*OutboundMessage, error) {
	query := `
		SELECT id, application_id, channel_id, title, description,
			total, success, failed, results, created_at
		FROM outbound_messages
		WHERE application_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, appID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query outbound messages: %w", err)
	}
	defer rows.Close()

	var messages []*OutboundMessage
	for rows.Next() {
		var m OutboundMessage
		err := rows.Scan(
			&m.ID,
			&m.ApplicationID,
			&m.ChannelID,
			&m.Title,
			&m.Description,
			&m.Total,
			&m.Success,
			&m.Failed,
			&m.Results,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbound message: %w", err)
		}
		messages = append(messages, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return messages, nil
}
