package click

import (
	"time"

	"gorm.io/datatypes"
)

// Status is the terminal disposition of one click.
type Status string

const (
	StatusValid    Status = "valid"
	StatusBlocked  Status = "blocked"
	StatusRejected Status = "rejected"
	StatusError    Status = "error"
)

// ErrorReason is the closed set of terminal reasons a click can carry.
// geo_mismatch is recorded on the row via IsGeoMatch but is not terminal.
type ErrorReason string

const (
	ReasonOfferNotFound ErrorReason = "offer_not_found"
	ReasonOfferInactive ErrorReason = "offer_inactive"
	ReasonNoLanding     ErrorReason = "no_landing"
	ReasonFraudBlock    ErrorReason = "fraud_block"
	ReasonCapReached    ErrorReason = "cap_reached"
	ReasonGeoMismatch   ErrorReason = "geo_mismatch"
)

// Click is the durable record created exactly once per request. This
// subsystem never updates it afterward, downstream conversion matching and
// billing read it.
type Click struct {
	ID           string `gorm:"column:id;primaryKey"`
	ClickID      string `gorm:"column:click_id;uniqueIndex"`
	OfferID      string `gorm:"column:offer_id;index:idx_clicks_dedupe"`
	AdvertiserID string `gorm:"column:advertiser_id;index"`
	PublisherID  string `gorm:"column:publisher_id;index:idx_clicks_dedupe"`
	LandingID    string `gorm:"column:landing_id"`

	IP                    string  `gorm:"column:ip;index:idx_clicks_dedupe"`
	UserAgent             string  `gorm:"column:user_agent"`
	Referer               string  `gorm:"column:referer"`
	Geo                   string  `gorm:"column:geo"`
	City                  string  `gorm:"column:city"`
	Region                string  `gorm:"column:region"`
	ISP                   string  `gorm:"column:isp"`
	ASN                   string  `gorm:"column:asn"`
	Language              string  `gorm:"column:language"`
	VisitorID             string  `gorm:"column:visitor_id"`
	FingerprintConfidence float64 `gorm:"column:fingerprint_confidence"`

	Sub1  string `gorm:"column:sub1"`
	Sub2  string `gorm:"column:sub2"`
	Sub3  string `gorm:"column:sub3"`
	Sub4  string `gorm:"column:sub4"`
	Sub5  string `gorm:"column:sub5"`
	Sub6  string `gorm:"column:sub6"`
	Sub7  string `gorm:"column:sub7"`
	Sub8  string `gorm:"column:sub8"`
	Sub9  string `gorm:"column:sub9"`
	Sub10 string `gorm:"column:sub10"`

	FraudScore   int                         `gorm:"column:fraud_score"`
	IsProxy      bool                        `gorm:"column:is_proxy"`
	IsVpn        bool                        `gorm:"column:is_vpn"`
	IsTor        bool                        `gorm:"column:is_tor"`
	IsDatacenter bool                        `gorm:"column:is_datacenter"`
	IsBot        bool                        `gorm:"column:is_bot"`
	IsUnique     bool                        `gorm:"column:is_unique"`
	IsGeoMatch   bool                        `gorm:"column:is_geo_match"`
	Action       string                      `gorm:"column:action"`
	MatchedRules datatypes.JSONSlice[string] `gorm:"column:matched_rules"`

	RedirectURL string      `gorm:"column:redirect_url"`
	Status      Status      `gorm:"column:status"`
	ErrorReason ErrorReason `gorm:"column:error_reason"`
	CapReached  bool        `gorm:"column:cap_reached"`

	CreatedAt time.Time `gorm:"column:created_at;index"`
}

func (Click) TableName() string { return "clicks" }
