package antifraud

import (
	"time"

	"gorm.io/datatypes"
)

// Action is what a matched rule asks the pipeline to do with a click or
// conversion. Actions form a strict severity order, the highest matched one
// wins regardless of rule evaluation order.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionFlag   Action = "flag"
	ActionHold   Action = "hold"
	ActionReject Action = "reject"
	ActionBlock  Action = "block"
)

var actionPriority = map[Action]int{
	ActionAllow:  0,
	ActionFlag:   1,
	ActionHold:   2,
	ActionReject: 3,
	ActionBlock:  4,
}

// Priority returns the severity rank of the action, unknown actions rank lowest.
func (a Action) Priority() int {
	return actionPriority[a]
}

// RuleKind is the closed set of rule kinds the evaluator understands. Rows
// carrying a kind outside this set are skipped with a warning instead of
// silently matching.
type RuleKind string

const (
	KindFraudScore          RuleKind = "fraud_score"
	KindProxyVPN            RuleKind = "proxy_vpn"
	KindBot                 RuleKind = "bot"
	KindDatacenter          RuleKind = "datacenter"
	KindDuplicateClick      RuleKind = "duplicate_click"
	KindDuplicateConversion RuleKind = "duplicate_conversion"
	KindGeoMismatch         RuleKind = "geo_mismatch"
	KindDeviceFingerprint   RuleKind = "device_fingerprint"
	KindCrAnomaly           RuleKind = "cr_anomaly"
	KindArAnomaly           RuleKind = "ar_anomaly"
	KindVelocityIPMinute    RuleKind = "velocity_ip_minute"
	KindVelocityIPHour      RuleKind = "velocity_ip_hour"
	KindVelocityIPDay       RuleKind = "velocity_ip_day"
	KindVelocityFpHour      RuleKind = "velocity_fingerprint_hour"
	KindVelocityPubHour     RuleKind = "velocity_publisher_hour"
	KindExpression          RuleKind = "expression"
)

// Rule is an advertiser-scoped (or global, empty advertiser id) declarative
// antifraud rule. Read-only to the pipeline, cached per advertiser.
type Rule struct {
	RuleID       string    `gorm:"column:rule_id;primaryKey"`
	AdvertiserID string    `gorm:"column:advertiser_id;index"`
	Kind         RuleKind  `gorm:"column:kind"`
	Threshold    *float64  `gorm:"column:threshold"`
	Expression   string    `gorm:"column:expression"`
	Action       Action    `gorm:"column:action"`
	Priority     int32     `gorm:"column:priority"`
	IsActive     bool      `gorm:"column:is_active"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (Rule) TableName() string { return "antifraud_rules" }

// VelocityCounter holds rolling minute/hour/day counts for one
// (type, key, advertiser) triple. Each window resets independently once its
// span has elapsed.
type VelocityCounter struct {
	CounterType   string    `gorm:"column:counter_type;primaryKey"`
	CounterKey    string    `gorm:"column:counter_key;primaryKey"`
	AdvertiserID  string    `gorm:"column:advertiser_id;primaryKey"`
	MinuteCount   int64     `gorm:"column:minute_count"`
	HourCount     int64     `gorm:"column:hour_count"`
	DayCount      int64     `gorm:"column:day_count"`
	MinuteResetAt time.Time `gorm:"column:minute_reset_at"`
	HourResetAt   time.Time `gorm:"column:hour_reset_at"`
	DayResetAt    time.Time `gorm:"column:day_reset_at"`
}

func (VelocityCounter) TableName() string { return "velocity_counters" }

const (
	CounterTypeIP          = "ip"
	CounterTypeFingerprint = "fingerprint"
	CounterTypePublisher   = "publisher"
)

// ConversionFingerprint is written once per conversion and read by duplicate
// detection for all later conversions on the same offer. Email and phone are
// stored as one-way hashes of normalized input.
type ConversionFingerprint struct {
	ID                string    `gorm:"column:id;primaryKey"`
	OfferID           string    `gorm:"column:offer_id;index"`
	TransactionID     string    `gorm:"column:transaction_id;index"`
	EmailHash         string    `gorm:"column:email_hash;index"`
	PhoneHash         string    `gorm:"column:phone_hash;index"`
	DeviceFingerprint string    `gorm:"column:device_fingerprint;index"`
	CreatedAt         time.Time `gorm:"column:created_at"`
}

func (ConversionFingerprint) TableName() string { return "conversion_fingerprints" }

// PublisherStats accumulates rolling totals per (publisher, advertiser, offer)
// plus the learned baselines. Baselines, once set, are never recomputed: they
// represent "normal" behavior learned once.
type PublisherStats struct {
	ID           string     `gorm:"column:id;primaryKey"`
	PublisherID  string     `gorm:"column:publisher_id;index:idx_pub_adv_offer,unique"`
	AdvertiserID string     `gorm:"column:advertiser_id;index:idx_pub_adv_offer,unique"`
	OfferID      string     `gorm:"column:offer_id;index:idx_pub_adv_offer,unique"`
	Clicks       int64      `gorm:"column:clicks"`
	Conversions  int64      `gorm:"column:conversions"`
	Approved     int64      `gorm:"column:approved"`
	Rejected     int64      `gorm:"column:rejected"`
	CurrentCr    float64    `gorm:"column:current_cr"`
	CurrentAr    float64    `gorm:"column:current_ar"`
	BaselineCr   *float64   `gorm:"column:baseline_cr"`
	BaselineAr   *float64   `gorm:"column:baseline_ar"`
	IsCrAnomaly  bool       `gorm:"column:is_cr_anomaly"`
	IsArAnomaly  bool       `gorm:"column:is_ar_anomaly"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
}

func (PublisherStats) TableName() string { return "publisher_stats" }

// AntifraudLog is the append-only audit record of one fraud evaluation,
// written asynchronously off the request path.
type AntifraudLog struct {
	ID           string                      `gorm:"column:id;primaryKey"`
	ClickID      string                      `gorm:"column:click_id;index"`
	OfferID      string                      `gorm:"column:offer_id;index"`
	AdvertiserID string                      `gorm:"column:advertiser_id;index"`
	PublisherID  string                      `gorm:"column:publisher_id;index"`
	Action       string                      `gorm:"column:action"`
	FraudScore   int                         `gorm:"column:fraud_score"`
	MatchedRules datatypes.JSONSlice[string] `gorm:"column:matched_rules"`
	Signals      datatypes.JSONSlice[string] `gorm:"column:signals"`
	CreatedAt    time.Time                   `gorm:"column:created_at"`
}

func (AntifraudLog) TableName() string { return "antifraud_logs" }

// Notification is a suspicious-traffic alert row for the advertiser, consumed
// by the notification delivery subsystem outside this pipeline.
type Notification struct {
	ID           string    `gorm:"column:id;primaryKey"`
	AdvertiserID string    `gorm:"column:advertiser_id;index"`
	Type         string    `gorm:"column:type"`
	Subject      string    `gorm:"column:subject"`
	Body         string    `gorm:"column:body"`
	IsRead       bool      `gorm:"column:is_read"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (Notification) TableName() string { return "notifications" }

// Metric is the coarse per-day click metric, upserted from the background
// metric task.
type Metric struct {
	Day     string `gorm:"column:day;primaryKey"`
	OfferID string `gorm:"column:offer_id;primaryKey"`
	Clicks  int64  `gorm:"column:clicks"`
	Blocked int64  `gorm:"column:blocked"`
}

func (Metric) TableName() string { return "antifraud_metrics" }
