package click

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"primetrack/pkg/clock"
	"primetrack/pkg/config"
	"primetrack/pkg/geolang"
	"primetrack/services/antifraud"
	"primetrack/services/ipintel"
	"primetrack/services/offer"
)

// ClickParams is the raw tracking request.
type ClickParams struct {
	OfferID   string
	PartnerID string
	LandingID string

	Sub1  string
	Sub2  string
	Sub3  string
	Sub4  string
	Sub5  string
	Sub6  string
	Sub7  string
	Sub8  string
	Sub9  string
	Sub10 string

	IP                    string
	UserAgent             string
	Referer               string
	Geo                   string
	VisitorID             string
	FingerprintConfidence float64
}

// ClickResult is what the HTTP layer redirects on.
type ClickResult struct {
	ID          string
	ClickID     string
	RedirectURL string
	FraudScore  int
	IsBlocked   bool
	Status      Status
	ErrorReason ErrorReason
	CapReached  bool
}

// Service orchestrates the click pipeline: offer resolution, parallel context
// gathering, fraud evaluation, redirect construction, the synchronous ledger
// write, and fire-and-forget side effects.
type Service struct {
	offers  offer.Repository
	cache   *offer.Cache
	clicks  Repository
	fraud   *antifraud.Service
	intel   ipintel.Client
	effects *Effects
	cfg     *config.Config
	clock   clock.Clock
	node    *snowflake.Node
	logger  *zap.Logger
}

// ServiceParams defines dependencies for Service construction.
type ServiceParams struct {
	fx.In

	Offers     offer.Repository
	OfferCache *offer.Cache
	Clicks     Repository
	Fraud      *antifraud.Service
	Intel      ipintel.Client
	Effects    *Effects
	Config     *config.Config
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
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		offers:  p.Offers,
		cache:   p.OfferCache,
		clicks:  p.Clicks,
		fraud:   p.Fraud,
		intel:   p.Intel,
		effects: p.Effects,
		cfg:     p.Config,
		clock:   clk,
		node:    p.Node,
		logger:  logger,
	}
}

// gatherResult is everything phase two produces.
type gatherResult struct {
	capReached bool
	landings   []offer.Landing
	pubOffer   *offer.PublisherOffer
	unique     bool
	intel      *ipintel.Intelligence
}

// ProcessClick runs the six-phase pipeline. Every path, terminal errors
// included, persists a click row and yields a redirect, the visitor is never
// shown a raw failure. Only the ledger write itself can fail the call.
func (s *Service) ProcessClick(ctx context.Context, params ClickParams) (*ClickResult, error) {
	now := s.clock.Now()
	row := &Click{
		ID:          s.nextID(),
		ClickID:     uuid.NewString(),
		OfferID:     params.OfferID,
		PublisherID: params.PartnerID,

		IP:                    params.IP,
		UserAgent:             params.UserAgent,
		Referer:               params.Referer,
		VisitorID:             params.VisitorID,
		FingerprintConfidence: params.FingerprintConfidence,

		Sub1: params.Sub1, Sub2: params.Sub2, Sub3: params.Sub3, Sub4: params.Sub4, Sub5: params.Sub5,
		Sub6: params.Sub6, Sub7: params.Sub7, Sub8: params.Sub8, Sub9: params.Sub9, Sub10: params.Sub10,

		IsUnique:   true,
		IsGeoMatch: true,
		Status:     StatusValid,
		Action:     string(antifraud.ActionAllow),
		CreatedAt:  now,
	}

	// Phase 1: offer resolution.
	off := s.resolveOffer(ctx, params.OfferID)
	if off == nil {
		row.Language = geolang.Resolve("", params.Geo)
		return s.finishTerminal(ctx, row, StatusError, ReasonOfferNotFound, s.unavailableURL(row.Language), nil)
	}
	row.AdvertiserID = off.AdvertiserID
	if off.Status != offer.StatusActive {
		row.Language = geolang.Resolve(off.Language, params.Geo)
		return s.finishTerminal(ctx, row, StatusRejected, ReasonOfferInactive, s.unavailableURL(row.Language), nil)
	}

	// Phase 2: parallel context gathering. The local GEO guess is cheap and
	// runs inline, everything else fans out.
	localGeo := localGeoGuess(params.IP)
	gathered := s.gather(ctx, off, params, now)

	geo := params.Geo
	if geo == "" {
		geo = localGeo
	}
	if gathered.intel != nil && gathered.intel.Country != "" {
		geo = gathered.intel.Country
	}
	row.Geo = geo
	row.Language = geolang.Resolve(off.Language, geo)
	row.IsUnique = gathered.unique
	if gathered.intel != nil {
		row.City = gathered.intel.City
		row.Region = gathered.intel.Region
		row.ISP = gathered.intel.ISP
		row.ASN = gathered.intel.ASN
	}

	// Phase 3: caps, landing selection, GEO matching.
	row.IsGeoMatch = geoMatches(geo, off.GeoTargets, gathered.pubOffer)
	if !row.IsGeoMatch {
		row.ErrorReason = ReasonGeoMismatch
	}

	if gathered.capReached {
		row.CapReached = true
		if off.CapAction == offer.CapActionBlock {
			return s.finishTerminal(ctx, row, StatusRejected, ReasonCapReached, s.unavailableURL(row.Language), nil)
		}
	}

	var landing *offer.Landing
	if !gathered.capReached {
		landing = selectLanding(gathered.landings, params.LandingID, geo)
		if landing == nil {
			return s.finishTerminal(ctx, row, StatusError, ReasonNoLanding, s.unavailableURL(row.Language), nil)
		}
		row.LandingID = landing.LandingID
	}

	// Phase 4: fraud evaluation, heuristics merged with IP intelligence.
	heuristics := evaluateHeuristics(params.IP, params.UserAgent)
	signals := mergeSignals(params, gathered, heuristics, geo, row.IsGeoMatch)
	row.IsProxy = signals.IsProxy
	row.IsVpn = signals.IsVpn
	row.IsTor = signals.IsTor
	row.IsDatacenter = signals.IsDatacenter
	row.IsBot = signals.IsBot

	eval, err := s.fraud.EvaluateClick(ctx, antifraud.EvaluateInput{
		OfferID:      off.OfferID,
		AdvertiserID: off.AdvertiserID,
		PublisherID:  params.PartnerID,
		Signals:      signals,
	})
	if err != nil {
		s.logger.Error("fraud evaluation failed, allowing click", zap.String("click_id", row.ClickID), zap.Error(err))
		eval = &antifraud.Evaluation{Action: antifraud.ActionAllow, FraudScore: signals.FraudScore}
	}
	eval.Signals = append(heuristics.Signals, eval.Signals...)

	row.FraudScore = eval.FraudScore
	row.Action = string(eval.Action)
	row.MatchedRules = eval.MatchedRules

	if eval.Action == antifraud.ActionBlock || eval.FraudScore >= s.blockScore() {
		return s.finishTerminal(ctx, row, StatusBlocked, ReasonFraudBlock, s.unavailableURL(row.Language), eval)
	}

	// Phase 5: redirect construction.
	if gathered.capReached {
		row.Status = StatusRejected
		row.ErrorReason = ReasonCapReached
		row.RedirectURL = off.CapRedirectURL
		if row.RedirectURL == "" {
			row.RedirectURL = s.unavailableURL(row.Language)
		}
	} else {
		row.RedirectURL = buildRedirectURL(landing.LandingURL, landing.ClickIDParam, row.ClickID, subsMap(params))
	}

	// Phase 6: synchronous ledger write, then fire-and-forget effects.
	if err := s.clicks.Create(ctx, row); err != nil {
		return nil, err
	}
	observeClick(row)
	s.effects.Schedule(row, eval)

	return resultFromRow(row, false), nil
}

// finishTerminal stamps a terminal outcome, persists the row and schedules
// whatever effects apply. The ledger write is never skipped.
func (s *Service) finishTerminal(ctx context.Context, row *Click, status Status, reason ErrorReason, redirectURL string, eval *antifraud.Evaluation) (*ClickResult, error) {
	row.Status = status
	row.ErrorReason = reason
	row.RedirectURL = redirectURL
	if eval != nil {
		row.FraudScore = eval.FraudScore
		row.Action = string(eval.Action)
		row.MatchedRules = eval.MatchedRules
	}

	if err := s.clicks.Create(ctx, row); err != nil {
		return nil, err
	}
	observeClick(row)
	s.effects.Schedule(row, eval)

	return resultFromRow(row, true), nil
}

func resultFromRow(row *Click, blocked bool) *ClickResult {
	return &ClickResult{
		ID:          row.ID,
		ClickID:     row.ClickID,
		RedirectURL: row.RedirectURL,
		FraudScore:  row.FraudScore,
		IsBlocked:   blocked,
		Status:      row.Status,
		ErrorReason: row.ErrorReason,
		CapReached:  row.CapReached,
	}
}

// gather fans out the independent lookups. Each goroutine degrades to a safe
// default on failure, only the IP intelligence call carries its own deadline.
func (s *Service) gather(ctx context.Context, off *offer.Offer, params ClickParams, now time.Time) gatherResult {
	result := gatherResult{unique: true}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		result.capReached = s.capsReached(gctx, off, now)
		return nil
	})
	g.Go(func() error {
		result.landings = s.resolveLandings(gctx, off.OfferID)
		return nil
	})
	g.Go(func() error {
		result.pubOffer = s.resolvePublisherOffer(gctx, params.PartnerID, off.OfferID)
		return nil
	})
	g.Go(func() error {
		seen, err := s.clicks.HasClickSince(gctx, params.IP, off.OfferID, params.PartnerID, startOfDay(now))
		if err != nil {
			s.logger.Warn("uniqueness check failed", zap.Error(err))
			return nil
		}
		result.unique = !seen
		return nil
	})
	g.Go(func() error {
		timeout := s.cfg.IPIntel.Timeout
		if timeout <= 0 {
			timeout = 200 * time.Millisecond
		}
		ictx, cancel := context.WithTimeout(gctx, timeout)
		defer cancel()

		intel, err := s.intel.GetIPIntelligence(ictx, params.IP)
		if err != nil {
			// Slow or failing provider is absent data, not an error.
			s.logger.Debug("ip intelligence unavailable", zap.String("ip", params.IP), zap.Error(err))
			return nil
		}
		result.intel = intel
		return nil
	})

	_ = g.Wait()
	return result
}

func mergeSignals(params ClickParams, gathered gatherResult, h heuristicResult, geo string, geoMatch bool) antifraud.ClickSignals {
	signals := antifraud.ClickSignals{
		IP:                    params.IP,
		DeviceFingerprint:     params.VisitorID,
		Country:               geo,
		FingerprintConfidence: params.FingerprintConfidence,
		IsBot:                 h.IsBot,
		IsUnique:              gathered.unique,
		IsGeoMatch:            geoMatch,
	}

	score := h.Score
	if gathered.intel != nil {
		score += int(gathered.intel.FraudScore)
		signals.IsProxy = gathered.intel.IsProxy
		signals.IsVpn = gathered.intel.IsVpn
		signals.IsTor = gathered.intel.IsTor
		signals.IsDatacenter = gathered.intel.IsDatacenter
	}
	if score > 100 {
		score = 100
	}
	signals.FraudScore = score

	return signals
}

func (s *Service) resolveOffer(ctx context.Context, offerID string) *offer.Offer {
	if off, state := s.cache.GetOffer(offerID); state == offer.StateFound {
		return off
	} else if state == offer.StateNotFound {
		return nil
	}

	off, err := s.offers.GetOffer(ctx, offerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.cache.SetOffer(offerID, nil)
		return nil
	}
	if err != nil {
		s.logger.Warn("offer lookup failed", zap.String("offer_id", offerID), zap.Error(err))
		return nil
	}

	s.cache.SetOffer(offerID, off)
	return off
}

func (s *Service) resolveLandings(ctx context.Context, offerID string) []offer.Landing {
	if landings, ok := s.cache.GetLandings(offerID); ok {
		return landings
	}

	landings, err := s.offers.GetOfferLandings(ctx, offerID)
	if err != nil {
		s.logger.Warn("landing lookup failed", zap.String("offer_id", offerID), zap.Error(err))
		return nil
	}

	s.cache.SetLandings(offerID, landings)
	return landings
}

func (s *Service) resolvePublisherOffer(ctx context.Context, publisherID, offerID string) *offer.PublisherOffer {
	if po, state := s.cache.GetPublisherOffer(publisherID, offerID); state == offer.StateFound {
		return po
	} else if state == offer.StateNotFound {
		return nil
	}

	po, err := s.offers.GetPublisherOffer(ctx, publisherID, offerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.cache.SetPublisherOffer(publisherID, offerID, nil)
		return nil
	}
	if err != nil {
		s.logger.Warn("publisher offer lookup failed", zap.String("publisher_id", publisherID), zap.Error(err))
		return nil
	}

	s.cache.SetPublisherOffer(publisherID, offerID, po)
	return po
}

// capsReached checks daily, monthly and total caps against the click ledger.
// A failed count degrades to "not reached" so a storage hiccup cannot stop
// traffic on its own.
func (s *Service) capsReached(ctx context.Context, off *offer.Offer, now time.Time) bool {
	type capCheck struct {
		limit int64
		count func() (int64, error)
	}

	checks := []capCheck{
		{off.DailyCap, func() (int64, error) { return s.clicks.CountSince(ctx, off.OfferID, startOfDay(now)) }},
		{off.MonthlyCap, func() (int64, error) { return s.clicks.CountSince(ctx, off.OfferID, startOfMonth(now)) }},
		{off.TotalCap, func() (int64, error) { return s.clicks.CountTotal(ctx, off.OfferID) }},
	}

	for _, check := range checks {
		if check.limit <= 0 {
			continue
		}
		count, err := check.count()
		if err != nil {
			s.logger.Warn("cap check failed", zap.String("offer_id", off.OfferID), zap.Error(err))
			continue
		}
		if count >= check.limit {
			return true
		}
	}
	return false
}

// geoMatches applies the offer-level allow-list AND the publisher-level
// allow-list, empty lists meaning unrestricted. An unknown GEO fails a
// restriction but passes an unrestricted list.
func geoMatches(geo string, offerGeos []string, po *offer.PublisherOffer) bool {
	if !geoInList(geo, offerGeos) {
		return false
	}
	if po != nil && !geoInList(geo, po.ApprovedGeos) {
		return false
	}
	return true
}

func geoInList(geo string, list []string) bool {
	if len(list) == 0 {
		return true
	}
	for _, allowed := range list {
		if strings.EqualFold(geo, allowed) {
			return true
		}
	}
	return false
}

// selectLanding picks the explicit landing first, then the best GEO match,
// then the first available.
func selectLanding(landings []offer.Landing, landingID, geo string) *offer.Landing {
	if len(landings) == 0 {
		return nil
	}

	if landingID != "" {
		for i := range landings {
			if landings[i].LandingID == landingID {
				return &landings[i]
			}
		}
	}
	if geo != "" {
		for i := range landings {
			if strings.EqualFold(landings[i].Geo, geo) {
				return &landings[i]
			}
		}
	}
	return &landings[0]
}

func subsMap(p ClickParams) map[string]string {
	return map[string]string{
		"sub1": p.Sub1, "sub2": p.Sub2, "sub3": p.Sub3, "sub4": p.Sub4, "sub5": p.Sub5,
		"sub6": p.Sub6, "sub7": p.Sub7, "sub8": p.Sub8, "sub9": p.Sub9, "sub10": p.Sub10,
	}
}

func (s *Service) unavailableURL(lang string) string {
	base := s.cfg.Pages.UnavailableURL
	if lang == "" {
		return base
	}
	return appendQueryParam(base, "lang", lang)
}

func (s *Service) blockScore() int {
	if s.cfg.Antifraud.BlockScore > 0 {
		return s.cfg.Antifraud.BlockScore
	}
	return 80
}

func (s *Service) nextID() string {
	if s.node == nil {
		return uuid.NewString()
	}
	return s.node.Generate().String()
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
