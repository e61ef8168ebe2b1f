package click

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"primetrack/pkg/task"
	"primetrack/services/antifraud"
)

// TaskHandler consumes the background effects scheduled by the click pipeline.
type TaskHandler struct {
	fraud  *antifraud.Service
	logger *zap.Logger
}

// TaskHandlerParams defines dependencies for TaskHandler construction.
type TaskHandlerParams struct {
	fx.In

	Fraud  *antifraud.Service
	Logger *zap.Logger
}

// NewTaskHandler constructs a new TaskHandler instance.
func NewTaskHandler(p TaskHandlerParams) *TaskHandler {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{fraud: p.Fraud, logger: logger}
}

// Register attaches the click task handlers to the worker mux.
func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(task.AntifraudLogTask, h.HandleAntifraudLog)
	mux.HandleFunc(task.NotifySuspiciousTask, h.HandleNotifySuspicious)
	mux.HandleFunc(task.ClickMetricTask, h.HandleClickMetric)
}

// HandleAntifraudLog writes the audit record and folds the click into the
// publisher's rolling stats.
func (h *TaskHandler) HandleAntifraudLog(ctx context.Context, t *asynq.Task) error {
	var payload task.AntifraudLogPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal antifraud log payload: %w", err)
	}

	if err := h.fraud.WriteAuditLog(ctx, payload); err != nil {
		return fmt.Errorf("failed to write antifraud log: %w", err)
	}

	if _, err := h.fraud.UpdatePublisherStats(ctx, payload.PublisherID, payload.AdvertiserID, payload.OfferID, antifraud.StatsEventClick); err != nil {
		// Stats are best-effort, the audit row is already durable.
		h.logger.Warn("failed to update publisher stats", zap.String("click_id", payload.ClickID), zap.Error(err))
	}
	return nil
}

// HandleNotifySuspicious creates the advertiser-facing alert row.
func (h *TaskHandler) HandleNotifySuspicious(ctx context.Context, t *asynq.Task) error {
	var payload task.NotifySuspiciousPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal notification payload: %w", err)
	}
	if err := h.fraud.NotifySuspicious(ctx, payload); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// HandleClickMetric upserts the coarse per-day click metric.
func (h *TaskHandler) HandleClickMetric(ctx context.Context, t *asynq.Task) error {
	var payload task.ClickMetricPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal metric payload: %w", err)
	}
	if err := h.fraud.RecordClickMetric(ctx, payload.OfferID, payload.Blocked); err != nil {
		return fmt.Errorf("failed to upsert click metric: %w", err)
	}
	return nil
}
