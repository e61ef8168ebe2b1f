package antifraud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"primetrack/pkg/clock"
)

// Service evaluates clicks and conversions against the advertiser's active
// rule set, velocity counters and publisher anomaly baselines.
type Service struct {
	repo   Repository
	rules  *RuleCache
	clock  clock.Clock
	node   *snowflake.Node
	logger *zap.Logger
}

// ServiceParams defines dependencies for Service construction.
type ServiceParams struct {
	fx.In

	Repository Repository
	RuleCache  *RuleCache
	Clock      clock.Clock
	Node       *snowflake.Node
	Logger     *zap.Logger
}

// NewService constructs a new Service instance.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if p.Repository == nil {
		panic("antifraud service requires repository dependency")
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	rules := p.RuleCache
	if rules == nil {
		rules = NewRuleCache(clk, 60*time.Second)
	}
	return &Service{
		repo:   p.Repository,
		rules:  rules,
		clock:  clk,
		node:   p.Node,
		logger: logger,
	}
}

// ClickSignals is the merged heuristic + IP-intelligence view of one click.
type ClickSignals struct {
	IP                    string
	DeviceFingerprint     string
	Country               string
	FingerprintConfidence float64
	FraudScore            int
	IsProxy               bool
	IsVpn                 bool
	IsTor                 bool
	IsDatacenter          bool
	IsBot                 bool
	IsUnique              bool
	IsGeoMatch            bool
}

// EvaluateInput identifies the click being scored plus its signals.
type EvaluateInput struct {
	OfferID      string
	AdvertiserID string
	PublisherID  string
	Signals      ClickSignals
}

// VelocityData is the evaluation-time view of the velocity counters. Windows
// whose reset timestamp is older than the window span read as zero.
type VelocityData struct {
	IPMinute        int64
	IPHour          int64
	IPDay           int64
	FingerprintHour int64
	PublisherHour   int64
}

// Evaluation is the outcome of scoring one click.
type Evaluation struct {
	Action       Action
	FraudScore   int
	MatchedRules []string
	Signals      []string
	Velocity     VelocityData
}

// Per-kind defaults used when a rule carries no threshold of its own, and the
// fixed score weights velocity signals contribute. Faster windows are worse
// signals and weigh more.
var velocityThresholds = map[RuleKind]float64{
	KindVelocityIPMinute: 10,
	KindVelocityIPHour:   60,
	KindVelocityIPDay:    300,
	KindVelocityFpHour:   30,
	KindVelocityPubHour:  1000,
}

var velocityWeights = map[RuleKind]int{
	KindVelocityIPMinute: 25,
	KindVelocityFpHour:   20,
	KindVelocityIPHour:   15,
	KindVelocityIPDay:    10,
	KindVelocityPubHour:  10,
}

var defaultThresholds = map[RuleKind]float64{
	KindFraudScore:        70,
	KindDeviceFingerprint: 0.3,
}

// EvaluateClick scores a click against the advertiser's active rules and
// returns the single highest-priority action among all matches. The velocity
// read used for evaluation and the increment afterwards are two separate,
// unsynchronized storage operations: concurrent clicks on the same key may
// both observe a pre-increment count. Accepted for latency.
func (s *Service) EvaluateClick(ctx context.Context, in EvaluateInput) (*Evaluation, error) {
	rules, err := s.rules.Load(in.AdvertiserID, func() ([]Rule, error) {
		return s.repo.ListActiveRules(ctx, in.AdvertiserID)
	})
	if err != nil {
		// Fail open: a rules outage must not take down the redirect path.
		s.logger.Warn("failed to load antifraud rules", zap.String("advertiser_id", in.AdvertiserID), zap.Error(err))
		rules = nil
	}

	velocity := s.readVelocity(ctx, in)
	stats := s.publisherStats(ctx, in)

	score := in.Signals.FraudScore
	signals := baseSignals(in.Signals)

	for kind, value := range map[RuleKind]int64{
		KindVelocityIPMinute: velocity.IPMinute,
		KindVelocityIPHour:   velocity.IPHour,
		KindVelocityIPDay:    velocity.IPDay,
		KindVelocityFpHour:   velocity.FingerprintHour,
		KindVelocityPubHour:  velocity.PublisherHour,
	} {
		if float64(value) >= velocityThresholds[kind] {
			signals = append(signals, fmt.Sprintf("%s=%d", kind, value))
			score += velocityWeights[kind]
		}
	}
	score = clampScore(score)

	evaluation := &Evaluation{
		Action:       ActionAllow,
		FraudScore:   score,
		MatchedRules: make([]string, 0),
		Signals:      signals,
		Velocity:     velocity,
	}

	for _, rule := range rules {
		matched, err := s.matchRule(rule, in.Signals, velocity, stats, score)
		if err != nil {
			s.logger.Warn("rule evaluation failed", zap.String("rule_id", rule.RuleID), zap.Error(err))
			continue
		}
		if !matched {
			continue
		}

		evaluation.MatchedRules = append(evaluation.MatchedRules, rule.RuleID)
		if rule.Action.Priority() > evaluation.Action.Priority() {
			evaluation.Action = rule.Action
		}
	}

	s.incrementVelocity(ctx, in)

	return evaluation, nil
}

func (s *Service) matchRule(rule Rule, signals ClickSignals, velocity VelocityData, stats *PublisherStats, score int) (bool, error) {
	threshold := defaultThresholds[rule.Kind]
	if v, ok := velocityThresholds[rule.Kind]; ok {
		threshold = v
	}
	if rule.Threshold != nil {
		threshold = *rule.Threshold
	}

	switch rule.Kind {
	case KindFraudScore:
		return float64(score) >= threshold, nil
	case KindProxyVPN:
		return signals.IsProxy || signals.IsVpn, nil
	case KindBot:
		return signals.IsBot, nil
	case KindDatacenter:
		return signals.IsDatacenter, nil
	case KindDuplicateClick:
		return !signals.IsUnique, nil
	case KindDuplicateConversion:
		// Conversion-scoped, never matches on the click path.
		return false, nil
	case KindGeoMismatch:
		return !signals.IsGeoMatch, nil
	case KindDeviceFingerprint:
		return signals.DeviceFingerprint != "" && signals.FingerprintConfidence < threshold, nil
	case KindCrAnomaly:
		return stats != nil && stats.IsCrAnomaly, nil
	case KindArAnomaly:
		return stats != nil && stats.IsArAnomaly, nil
	case KindVelocityIPMinute:
		return float64(velocity.IPMinute) >= threshold, nil
	case KindVelocityIPHour:
		return float64(velocity.IPHour) >= threshold, nil
	case KindVelocityIPDay:
		return float64(velocity.IPDay) >= threshold, nil
	case KindVelocityFpHour:
		return float64(velocity.FingerprintHour) >= threshold, nil
	case KindVelocityPubHour:
		return float64(velocity.PublisherHour) >= threshold, nil
	case KindExpression:
		compiled, err := compileExpression(rule)
		if err != nil {
			return false, err
		}
		return compiled.evaluate(expressionAttrs(signals, velocity, score))
	default:
		return false, fmt.Errorf("unknown rule kind %q", rule.Kind)
	}
}

func baseSignals(s ClickSignals) []string {
	signals := make([]string, 0, 8)
	if s.IsProxy {
		signals = append(signals, "proxy")
	}
	if s.IsVpn {
		signals = append(signals, "vpn")
	}
	if s.IsTor {
		signals = append(signals, "tor")
	}
	if s.IsDatacenter {
		signals = append(signals, "datacenter")
	}
	if s.IsBot {
		signals = append(signals, "bot")
	}
	if !s.IsUnique {
		signals = append(signals, "duplicate_click")
	}
	if !s.IsGeoMatch {
		signals = append(signals, "geo_mismatch")
	}
	return signals
}

func expressionAttrs(s ClickSignals, velocity VelocityData, score int) map[string]any {
	return map[string]any{
		"fraud_score":               score,
		"is_proxy":                  s.IsProxy,
		"is_vpn":                    s.IsVpn,
		"is_tor":                    s.IsTor,
		"is_datacenter":             s.IsDatacenter,
		"is_bot":                    s.IsBot,
		"is_unique":                 s.IsUnique,
		"is_geo_match":              s.IsGeoMatch,
		"country":                   s.Country,
		"fingerprint_confidence":    s.FingerprintConfidence,
		"velocity_ip_minute":        velocity.IPMinute,
		"velocity_ip_hour":          velocity.IPHour,
		"velocity_ip_day":           velocity.IPDay,
		"velocity_fingerprint_hour": velocity.FingerprintHour,
		"velocity_publisher_hour":   velocity.PublisherHour,
	}
}

func clampScore(score int) int {
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

func (s *Service) publisherStats(ctx context.Context, in EvaluateInput) *PublisherStats {
	stats, err := s.repo.GetPublisherStats(ctx, in.PublisherID, in.AdvertiserID, in.OfferID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("failed to load publisher stats", zap.String("publisher_id", in.PublisherID), zap.Error(err))
		return nil
	}
	return stats
}

func (s *Service) readVelocity(ctx context.Context, in EvaluateInput) VelocityData {
	var velocity VelocityData
	now := s.clock.Now()

	if counter := s.getCounter(ctx, CounterTypeIP, in.Signals.IP, in.AdvertiserID); counter != nil {
		velocity.IPMinute = windowValue(counter.MinuteCount, counter.MinuteResetAt, time.Minute, now)
		velocity.IPHour = windowValue(counter.HourCount, counter.HourResetAt, time.Hour, now)
		velocity.IPDay = windowValue(counter.DayCount, counter.DayResetAt, 24*time.Hour, now)
	}
	if in.Signals.DeviceFingerprint != "" {
		if counter := s.getCounter(ctx, CounterTypeFingerprint, in.Signals.DeviceFingerprint, in.AdvertiserID); counter != nil {
			velocity.FingerprintHour = windowValue(counter.HourCount, counter.HourResetAt, time.Hour, now)
		}
	}
	if counter := s.getCounter(ctx, CounterTypePublisher, in.PublisherID, in.AdvertiserID); counter != nil {
		velocity.PublisherHour = windowValue(counter.HourCount, counter.HourResetAt, time.Hour, now)
	}

	return velocity
}

func (s *Service) getCounter(ctx context.Context, counterType, counterKey, advertiserID string) *VelocityCounter {
	if counterKey == "" {
		return nil
	}
	counter, err := s.repo.GetVelocityCounter(ctx, counterType, counterKey, advertiserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("failed to read velocity counter",
			zap.String("counter_type", counterType),
			zap.String("counter_key", counterKey),
			zap.Error(err))
		return nil
	}
	return counter
}

func windowValue(count int64, resetAt time.Time, window time.Duration, now time.Time) int64 {
	if now.Sub(resetAt) > window {
		return 0
	}
	return count
}

// incrementVelocity bumps all counters for this click. Errors are logged and
// swallowed, a counter outage must not affect the redirect.
func (s *Service) incrementVelocity(ctx context.Context, in EvaluateInput) {
	s.bumpCounter(ctx, CounterTypeIP, in.Signals.IP, in.AdvertiserID)
	if in.Signals.DeviceFingerprint != "" {
		s.bumpCounter(ctx, CounterTypeFingerprint, in.Signals.DeviceFingerprint, in.AdvertiserID)
	}
	s.bumpCounter(ctx, CounterTypePublisher, in.PublisherID, in.AdvertiserID)
}

func (s *Service) bumpCounter(ctx context.Context, counterType, counterKey, advertiserID string) {
	if counterKey == "" {
		return
	}

	now := s.clock.Now()
	counter, err := s.repo.GetVelocityCounter(ctx, counterType, counterKey, advertiserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = &VelocityCounter{
			CounterType:   counterType,
			CounterKey:    counterKey,
			AdvertiserID:  advertiserID,
			MinuteResetAt: now,
			HourResetAt:   now,
			DayResetAt:    now,
		}
	} else if err != nil {
		s.logger.Warn("failed to load velocity counter for increment", zap.Error(err))
		return
	}

	bumpWindow(&counter.MinuteCount, &counter.MinuteResetAt, time.Minute, now)
	bumpWindow(&counter.HourCount, &counter.HourResetAt, time.Hour, now)
	bumpWindow(&counter.DayCount, &counter.DayResetAt, 24*time.Hour, now)

	if err := s.repo.SaveVelocityCounter(ctx, counter); err != nil {
		s.logger.Warn("failed to save velocity counter", zap.Error(err))
	}
}

func bumpWindow(count *int64, resetAt *time.Time, window time.Duration, now time.Time) {
	if now.Sub(*resetAt) > window {
		*count = 1
		*resetAt = now
		return
	}
	*count++
}

func (s *Service) nextID() string {
	if s.node == nil {
		return fmt.Sprintf("%d", s.clock.Now().UnixNano())
	}
	return s.node.Generate().String()
}
