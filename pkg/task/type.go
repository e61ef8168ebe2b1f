package task

const (
	AntifraudLogTask     = "click:antifraud_log"
	NotifySuspiciousTask = "click:notify_suspicious"
	ClickMetricTask      = "click:metric"
)

// AntifraudLogPayload carries a finished fraud evaluation to the audit writer.
type AntifraudLogPayload struct {
	ClickID      string   `json:"click_id"`
	OfferID      string   `json:"offer_id"`
	AdvertiserID string   `json:"advertiser_id"`
	PublisherID  string   `json:"publisher_id"`
	Action       string   `json:"action"`
	FraudScore   int      `json:"fraud_score"`
	MatchedRules []string `json:"matched_rules"`
	Signals      []string `json:"signals"`
}

// NotifySuspiciousPayload describes a suspicious-traffic alert for the advertiser.
type NotifySuspiciousPayload struct {
	AdvertiserID string `json:"advertiser_id"`
	OfferID      string `json:"offer_id"`
	PublisherID  string `json:"publisher_id"`
	ClickID      string `json:"click_id"`
	FraudScore   int    `json:"fraud_score"`
	Action       string `json:"action"`
}

// ClickMetricPayload is the coarse per-click metric sample.
type ClickMetricPayload struct {
	OfferID string `json:"offer_id"`
	Status  string `json:"status"`
	Blocked bool   `json:"blocked"`
}
