package antifraud

import (
	"context"
	"fmt"

	"primetrack/pkg/task"
)

// WriteAuditLog persists the append-only record of one fraud evaluation.
func (s *Service) WriteAuditLog(ctx context.Context, p task.AntifraudLogPayload) error {
	return s.repo.CreateAntifraudLog(ctx, &AntifraudLog{
		ID:           s.nextID(),
		ClickID:      p.ClickID,
		OfferID:      p.OfferID,
		AdvertiserID: p.AdvertiserID,
		PublisherID:  p.PublisherID,
		Action:       p.Action,
		FraudScore:   p.FraudScore,
		MatchedRules: p.MatchedRules,
		Signals:      p.Signals,
		CreatedAt:    s.clock.Now(),
	})
}

// NotifySuspicious creates the advertiser-facing suspicious-traffic alert.
func (s *Service) NotifySuspicious(ctx context.Context, p task.NotifySuspiciousPayload) error {
	return s.repo.CreateNotification(ctx, &Notification{
		ID:           s.nextID(),
		AdvertiserID: p.AdvertiserID,
		Type:         "suspicious_traffic",
		Subject:      fmt.Sprintf("Suspicious traffic on offer %s", p.OfferID),
		Body: fmt.Sprintf("Click %s from publisher %s scored %d and was marked %s.",
			p.ClickID, p.PublisherID, p.FraudScore, p.Action),
		CreatedAt: s.clock.Now(),
	})
}

// RecordClickMetric folds one click into the per-day offer metric.
func (s *Service) RecordClickMetric(ctx context.Context, offerID string, blocked bool) error {
	day := s.clock.Now().Format("2006-01-02")
	return s.repo.UpsertMetric(ctx, day, offerID, blocked)
}
