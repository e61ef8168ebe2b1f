package antifraud

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository describes the durable reads and writes the fraud evaluation
// needs. Velocity read and increment are deliberately two separate calls, see
// Service.EvaluateClick.
type Repository interface {
	CreateRule(ctx context.Context, rule *Rule) error
	ListActiveRules(ctx context.Context, advertiserID string) ([]Rule, error)

	GetVelocityCounter(ctx context.Context, counterType, counterKey, advertiserID string) (*VelocityCounter, error)
	SaveVelocityCounter(ctx context.Context, counter *VelocityCounter) error

	FindConversionByTransactionID(ctx context.Context, offerID, transactionID string) (*ConversionFingerprint, error)
	FindConversionByEmailHash(ctx context.Context, offerID, emailHash string) (*ConversionFingerprint, error)
	FindConversionByPhoneHash(ctx context.Context, offerID, phoneHash string) (*ConversionFingerprint, error)
	FindConversionByFingerprintSince(ctx context.Context, offerID, fingerprint string, since time.Time) (*ConversionFingerprint, error)
	CreateConversionFingerprint(ctx context.Context, fp *ConversionFingerprint) error

	GetPublisherStats(ctx context.Context, publisherID, advertiserID, offerID string) (*PublisherStats, error)
	SavePublisherStats(ctx context.Context, stats *PublisherStats) error

	CreateAntifraudLog(ctx context.Context, log *AntifraudLog) error
	CreateNotification(ctx context.Context, n *Notification) error
	UpsertMetric(ctx context.Context, day, offerID string, blocked bool) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateRule(ctx context.Context, rule *Rule) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(rule).Error
}

// ListActiveRules loads the advertiser's active rules ordered by priority,
// falling back to global rules (empty advertiser id) when the advertiser has
// none of its own.
func (r *gormRepository) ListActiveRules(ctx context.Context, advertiserID string) ([]Rule, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var rules []Rule
	if advertiserID != "" {
		err := r.db.WithContext(ctx).
			Where("advertiser_id = ? AND is_active = ?", advertiserID, true).
			Order("priority DESC").Order("rule_id ASC").
			Find(&rules).Error
		if err != nil {
			return nil, err
		}
		if len(rules) > 0 {
			return rules, nil
		}
	}

	err := r.db.WithContext(ctx).
		Where("advertiser_id = ? AND is_active = ?", "", true).
		Order("priority DESC").Order("rule_id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *gormRepository) GetVelocityCounter(ctx context.Context, counterType, counterKey, advertiserID string) (*VelocityCounter, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var counter VelocityCounter
	err := r.db.WithContext(ctx).
		Where("counter_type = ? AND counter_key = ? AND advertiser_id = ?", counterType, counterKey, advertiserID).
		First(&counter).Error
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

func (r *gormRepository) SaveVelocityCounter(ctx context.Context, counter *VelocityCounter) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "counter_type"}, {Name: "counter_key"}, {Name: "advertiser_id"}},
			UpdateAll: true,
		}).
		Create(counter).Error
}

func (r *gormRepository) FindConversionByTransactionID(ctx context.Context, offerID, transactionID string) (*ConversionFingerprint, error) {
	return r.findConversion(ctx, "offer_id = ? AND transaction_id = ?", offerID, transactionID)
}

func (r *gormRepository) FindConversionByEmailHash(ctx context.Context, offerID, emailHash string) (*ConversionFingerprint, error) {
	return r.findConversion(ctx, "offer_id = ? AND email_hash = ?", offerID, emailHash)
}

func (r *gormRepository) FindConversionByPhoneHash(ctx context.Context, offerID, phoneHash string) (*ConversionFingerprint, error) {
	return r.findConversion(ctx, "offer_id = ? AND phone_hash = ?", offerID, phoneHash)
}

func (r *gormRepository) FindConversionByFingerprintSince(ctx context.Context, offerID, fingerprint string, since time.Time) (*ConversionFingerprint, error) {
	return r.findConversion(ctx, "offer_id = ? AND device_fingerprint = ? AND created_at >= ?", offerID, fingerprint, since)
}

func (r *gormRepository) findConversion(ctx context.Context, query string, args ...any) (*ConversionFingerprint, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var fp ConversionFingerprint
	err := r.db.WithContext(ctx).Where(query, args...).First(&fp).Error
	if err != nil {
		return nil, err
	}
	return &fp, nil
}

func (r *gormRepository) CreateConversionFingerprint(ctx context.Context, fp *ConversionFingerprint) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(fp).Error
}

func (r *gormRepository) GetPublisherStats(ctx context.Context, publisherID, advertiserID, offerID string) (*PublisherStats, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var stats PublisherStats
	err := r.db.WithContext(ctx).
		Where("publisher_id = ? AND advertiser_id = ? AND offer_id = ?", publisherID, advertiserID, offerID).
		First(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *gormRepository) SavePublisherStats(ctx context.Context, stats *PublisherStats) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Save(stats).Error
}

func (r *gormRepository) CreateAntifraudLog(ctx context.Context, log *AntifraudLog) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *gormRepository) CreateNotification(ctx context.Context, n *Notification) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *gormRepository) UpsertMetric(ctx context.Context, day, offerID string, blocked bool) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	var blockedInc int64
	if blocked {
		blockedInc = 1
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "day"}, {Name: "offer_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"clicks":  gorm.Expr("antifraud_metrics.clicks + 1"),
				"blocked": gorm.Expr("antifraud_metrics.blocked + ?", blockedInc),
			}),
		}).
		Create(&Metric{Day: day, OfferID: offerID, Clicks: 1, Blocked: blockedInc}).Error
}
