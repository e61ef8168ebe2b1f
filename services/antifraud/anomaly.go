package antifraud

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// StatsEvent is one observed pipeline event attributed to a publisher.
type StatsEvent string

const (
	StatsEventClick      StatsEvent = "click"
	StatsEventConversion StatsEvent = "conversion"
	StatsEventApproved   StatsEvent = "approved"
	StatsEventRejected   StatsEvent = "rejected"
)

// Baselines are learned once, from the first window with enough volume, and
// then frozen. Anomaly flags additionally require a minimum current volume so
// a handful of clicks cannot trip them.
const (
	baselineCrMinClicks      = 100
	baselineArMinConversions = 20

	crAnomalyMinClicks      = 50
	arAnomalyMinConversions = 10

	crAnomalyDeviation = 0.5
	arAnomalyDeviation = 0.3
)

// UpdatePublisherStats folds one event into the publisher's rolling totals,
// recomputes the derived rates and anomaly flags, and persists the row. The
// stats row is created on first sight.
func (s *Service) UpdatePublisherStats(ctx context.Context, publisherID, advertiserID, offerID string, event StatsEvent) (*PublisherStats, error) {
	stats, err := s.repo.GetPublisherStats(ctx, publisherID, advertiserID, offerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		stats = &PublisherStats{
			ID:           s.nextID(),
			PublisherID:  publisherID,
			AdvertiserID: advertiserID,
			OfferID:      offerID,
			CreatedAt:    s.clock.Now(),
		}
	} else if err != nil {
		return nil, err
	}

	switch event {
	case StatsEventClick:
		stats.Clicks++
	case StatsEventConversion:
		stats.Conversions++
	case StatsEventApproved:
		stats.Approved++
	case StatsEventRejected:
		stats.Rejected++
	default:
		return nil, errors.New("unknown stats event: " + string(event))
	}

	s.recalculateAnomalies(stats)
	stats.UpdatedAt = s.clock.Now()

	if err := s.repo.SavePublisherStats(ctx, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// CheckPublisherAnomaly reports the stored anomaly flags. A publisher with no
// stats row yet is not anomalous.
func (s *Service) CheckPublisherAnomaly(ctx context.Context, publisherID, advertiserID, offerID string) (crAnomaly, arAnomaly bool, err error) {
	stats, err := s.repo.GetPublisherStats(ctx, publisherID, advertiserID, offerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return stats.IsCrAnomaly, stats.IsArAnomaly, nil
}

func (s *Service) recalculateAnomalies(stats *PublisherStats) {
	if stats.Clicks > 0 {
		stats.CurrentCr = float64(stats.Conversions) / float64(stats.Clicks)
	}
	if stats.Conversions > 0 {
		stats.CurrentAr = float64(stats.Approved) / float64(stats.Conversions)
	}

	if stats.BaselineCr == nil && stats.Clicks >= baselineCrMinClicks {
		cr := stats.CurrentCr
		stats.BaselineCr = &cr
	}
	if stats.BaselineAr == nil && stats.Conversions >= baselineArMinConversions {
		ar := stats.CurrentAr
		stats.BaselineAr = &ar
	}

	stats.IsCrAnomaly = stats.BaselineCr != nil && *stats.BaselineCr > 0 &&
		stats.Clicks >= crAnomalyMinClicks &&
		relativeDeviation(stats.CurrentCr, *stats.BaselineCr) > crAnomalyDeviation

	stats.IsArAnomaly = stats.BaselineAr != nil && *stats.BaselineAr > 0 &&
		stats.Conversions >= arAnomalyMinConversions &&
		relativeDeviation(stats.CurrentAr, *stats.BaselineAr) > arAnomalyDeviation
}

func relativeDeviation(current, baseline float64) float64 {
	dev := (current - baseline) / baseline
	if dev < 0 {
		dev = -dev
	}
	return dev
}
