package offer

import (
	"context"

	"gorm.io/gorm"
)

// Repository describes the durable reads the click pipeline needs for offers.
type Repository interface {
	GetOffer(ctx context.Context, offerID string) (*Offer, error)
	GetOfferLandings(ctx context.Context, offerID string) ([]Landing, error)
	GetPublisherOffer(ctx context.Context, publisherID, offerID string) (*PublisherOffer, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOffer(ctx context.Context, offerID string) (*Offer, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var offer Offer
	err := r.db.WithContext(ctx).
		Where("offer_id = ?", offerID).
		First(&offer).Error
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *gormRepository) GetOfferLandings(ctx context.Context, offerID string) ([]Landing, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var landings []Landing
	err := r.db.WithContext(ctx).
		Where("offer_id = ?", offerID).
		Order("landing_id ASC").
		Find(&landings).Error
	if err != nil {
		return nil, err
	}
	return landings, nil
}

func (r *gormRepository) GetPublisherOffer(ctx context.Context, publisherID, offerID string) (*PublisherOffer, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var po PublisherOffer
	err := r.db.WithContext(ctx).
		Where("publisher_id = ? AND offer_id = ?", publisherID, offerID).
		First(&po).Error
	if err != nil {
		return nil, err
	}
	return &po, nil
}
