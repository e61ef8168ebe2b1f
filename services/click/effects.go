package click

import (
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"primetrack/pkg/task"
	"primetrack/services/antifraud"
)

// Effects schedules the fire-and-forget side effects of a processed click.
// Everything here runs after the response-determining work, a failed enqueue
// is logged and swallowed.
type Effects struct {
	enqueuer task.Enqueuer
	logger   *zap.Logger
}

// EffectsParams defines dependencies for Effects construction.
type EffectsParams struct {
	fx.In

	Enqueuer task.Enqueuer
	Logger   *zap.Logger
}

// NewEffects constructs a new Effects instance.
func NewEffects(p EffectsParams) *Effects {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Effects{enqueuer: p.Enqueuer, logger: logger}
}

// Schedule enqueues the metric sample for every click, plus the audit log and
// the suspicious-traffic notification when a fraud evaluation ran.
func (e *Effects) Schedule(row *Click, eval *antifraud.Evaluation) {
	if e == nil || e.enqueuer == nil {
		return
	}

	e.enqueue(task.ClickMetricTask, task.ClickMetricPayload{
		OfferID: row.OfferID,
		Status:  string(row.Status),
		Blocked: row.Status == StatusBlocked,
	}, asynq.Queue("low"))

	if eval == nil {
		return
	}

	e.enqueue(task.AntifraudLogTask, task.AntifraudLogPayload{
		ClickID:      row.ClickID,
		OfferID:      row.OfferID,
		AdvertiserID: row.AdvertiserID,
		PublisherID:  row.PublisherID,
		Action:       string(eval.Action),
		FraudScore:   eval.FraudScore,
		MatchedRules: eval.MatchedRules,
		Signals:      eval.Signals,
	}, asynq.Queue("default"))

	if eval.Action.Priority() >= antifraud.ActionFlag.Priority() {
		e.enqueue(task.NotifySuspiciousTask, task.NotifySuspiciousPayload{
			AdvertiserID: row.AdvertiserID,
			OfferID:      row.OfferID,
			PublisherID:  row.PublisherID,
			ClickID:      row.ClickID,
			FraudScore:   eval.FraudScore,
			Action:       string(eval.Action),
		}, asynq.Queue("critical"))
	}
}

func (e *Effects) enqueue(name string, payload any, opts ...asynq.Option) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("failed to marshal task payload", zap.String("task", name), zap.Error(err))
		return
	}
	if _, err := e.enqueuer.Enqueue(asynq.NewTask(name, data), opts...); err != nil {
		e.logger.Error("failed to enqueue task", zap.String("task", name), zap.Error(err))
	}
}
