package click

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Repository is the durable click ledger. Create is the one write this
// subsystem treats as fatal when it fails.
type Repository interface {
	Create(ctx context.Context, click *Click) error
	FindByClickID(ctx context.Context, clickID string) (*Click, error)
	HasClickSince(ctx context.Context, ip, offerID, publisherID string, since time.Time) (bool, error)
	CountSince(ctx context.Context, offerID string, since time.Time) (int64, error)
	CountTotal(ctx context.Context, offerID string) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, click *Click) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(click).Error
}

func (r *gormRepository) FindByClickID(ctx context.Context, clickID string) (*Click, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var click Click
	err := r.db.WithContext(ctx).
		Where("click_id = ?", clickID).
		First(&click).Error
	if err != nil {
		return nil, err
	}
	return &click, nil
}

// HasClickSince reports whether this IP already clicked this offer+publisher
// pair since the given instant, used for the daily uniqueness flag.
func (r *gormRepository) HasClickSince(ctx context.Context, ip, offerID, publisherID string, since time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	var click Click
	err := r.db.WithContext(ctx).
		Select("id").
		Where("ip = ? AND offer_id = ? AND publisher_id = ? AND created_at >= ?", ip, offerID, publisherID, since).
		First(&click).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *gormRepository) CountSince(ctx context.Context, offerID string, since time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&Click{}).
		Where("offer_id = ? AND created_at >= ?", offerID, since).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CountTotal(ctx context.Context, offerID string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&Click{}).
		Where("offer_id = ?", offerID).
		Count(&count).Error
	return count, err
}
