package offer

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// CapAction controls what happens to a click once an offer cap is reached.
type CapAction string

const (
	CapActionBlock CapAction = "block"
	CapActionAllow CapAction = "allow"
)

// Offer is read-only to the click pipeline. Cap counters live on the clicks
// table, the offer only carries the limits.
type Offer struct {
	OfferID        string                      `gorm:"column:offer_id;primaryKey"`
	AdvertiserID   string                      `gorm:"column:advertiser_id;index"`
	Name           string                      `gorm:"column:name"`
	Status         Status                      `gorm:"column:status"`
	GeoTargets     datatypes.JSONSlice[string] `gorm:"column:geo_targets"`
	Language       string                      `gorm:"column:language"`
	DailyCap       int64                       `gorm:"column:daily_cap"`
	MonthlyCap     int64                       `gorm:"column:monthly_cap"`
	TotalCap       int64                       `gorm:"column:total_cap"`
	CapRedirectURL string                      `gorm:"column:cap_redirect_url"`
	CapAction      CapAction                   `gorm:"column:cap_action"`
	CreatedAt      time.Time                   `gorm:"column:created_at"`
	UpdatedAt      time.Time                   `gorm:"column:updated_at"`
}

func (Offer) TableName() string { return "offers" }

// Landing is one destination page of an offer, optionally scoped to a GEO.
type Landing struct {
	LandingID    string    `gorm:"column:landing_id;primaryKey"`
	OfferID      string    `gorm:"column:offer_id;index"`
	Geo          string    `gorm:"column:geo"`
	LandingURL   string    `gorm:"column:landing_url"`
	ClickIDParam string    `gorm:"column:click_id_param"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (Landing) TableName() string { return "landings" }

// PublisherOffer associates a publisher with an offer and optionally narrows
// the approved GEO set.
type PublisherOffer struct {
	ID           string                      `gorm:"column:id;primaryKey"`
	PublisherID  string                      `gorm:"column:publisher_id;index:idx_publisher_offer,unique"`
	OfferID      string                      `gorm:"column:offer_id;index:idx_publisher_offer,unique"`
	ApprovedGeos datatypes.JSONSlice[string] `gorm:"column:approved_geos"`
	CreatedAt    time.Time                   `gorm:"column:created_at"`
}

func (PublisherOffer) TableName() string { return "publisher_offers" }
