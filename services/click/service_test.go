package click

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"primetrack/pkg/clock"
	"primetrack/pkg/config"
	"primetrack/pkg/task"
	"primetrack/services/antifraud"
	"primetrack/services/ipintel"
	"primetrack/services/offer"
	"primetrack/services/testutil"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{}, nil
}

func (f *fakeEnqueuer) taskNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.tasks))
	for _, t := range f.tasks {
		names = append(names, t.Type())
	}
	return names
}

type fakeIntel struct {
	intel *ipintel.Intelligence
	delay time.Duration
}

func (f *fakeIntel) GetIPIntelligence(ctx context.Context, ip string) (*ipintel.Intelligence, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.intel == nil {
		return nil, errors.New("no intelligence available")
	}
	return f.intel, nil
}

type clickTestEnv struct {
	svc      *Service
	db       *gorm.DB
	enqueuer *fakeEnqueuer
	clk      *clock.Fixed
}

func newTestEnv(t *testing.T, intel ipintel.Client) *clickTestEnv {
	t.Helper()

	db := testutil.NewTestDB(t,
		&Click{},
		&offer.Offer{}, &offer.Landing{}, &offer.PublisherOffer{},
		&antifraud.Rule{}, &antifraud.VelocityCounter{}, &antifraud.ConversionFingerprint{},
		&antifraud.PublisherStats{}, &antifraud.AntifraudLog{}, &antifraud.Notification{}, &antifraud.Metric{},
	)

	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	logger := zap.NewNop()

	cfg := &config.Config{}
	cfg.Pages.UnavailableURL = "https://tracker.test/unavailable"
	cfg.IPIntel.Timeout = 200 * time.Millisecond
	cfg.Antifraud.BlockScore = 80
	cfg.Cache.PositiveTTL = 60 * time.Second
	cfg.Cache.NegativeTTL = 10 * time.Second

	fraud := antifraud.NewService(antifraud.ServiceParams{
		Repository: antifraud.NewRepository(db),
		RuleCache:  antifraud.NewRuleCache(clk, time.Minute),
		Clock:      clk,
		Node:       node,
		Logger:     logger,
	})

	enqueuer := &fakeEnqueuer{}
	svc := NewService(ServiceParams{
		Offers:     offer.NewRepository(db),
		OfferCache: offer.NewCache(clk, cfg.Cache.PositiveTTL, cfg.Cache.NegativeTTL),
		Clicks:     NewRepository(db),
		Fraud:      fraud,
		Intel:      intel,
		Effects:    NewEffects(EffectsParams{Enqueuer: enqueuer, Logger: logger}),
		Config:     cfg,
		Clock:      clk,
		Node:       node,
		Logger:     logger,
	})

	return &clickTestEnv{svc: svc, db: db, enqueuer: enqueuer, clk: clk}
}

func (e *clickTestEnv) seedOffer(t *testing.T, off *offer.Offer, landings ...*offer.Landing) {
	t.Helper()
	require.NoError(t, e.db.Create(off).Error)
	for _, l := range landings {
		require.NoError(t, e.db.Create(l).Error)
	}
}

func (e *clickTestEnv) clickCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&Click{}).Count(&count).Error)
	return count
}

const cleanUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

func baseParams() ClickParams {
	return ClickParams{
		OfferID:   "o1",
		PartnerID: "pub1",
		IP:        "198.51.100.9",
		UserAgent: cleanUA,
		Geo:       "US",
	}
}

func TestProcessClick_OfferNotFound(t *testing.T) {
	env := newTestEnv(t, &fakeIntel{})

	result, err := env.svc.ProcessClick(context.Background(), baseParams())
	require.NoError(t, err)

	require.Equal(t, StatusError, result.Status)
	require.Equal(t, ReasonOfferNotFound, result.ErrorReason)
	require.True(t, result.IsBlocked)
	require.Contains(t, result.RedirectURL, "https://tracker.test/unavailable")

	// A click row is persisted even for terminal errors.
	require.Equal(t, int64(1), env.clickCount(t))
}

func TestProcessClick_OfferInactive(t *testing.T) {
	env := newTestEnv(t, &fakeIntel{})
	env.seedOffer(t, &offer.Offer{OfferID: "o1", AdvertiserID: "adv1", Status: offer.StatusPaused})

	result, err := env.svc.ProcessClick(context.Background(), baseParams())
	require.NoError(t, err)

	require.Equal(t, StatusRejected, result.Status)
	require.Equal(t, ReasonOfferInactive, result.ErrorReason)
	require.True(t, result.IsBlocked)
	require.Equal(t, int64(1), env.clickCount(t))
}

func TestProcessClick_EndToEndWithSlowProvider(t *testing.T) {
	env := newTestEnv(t, &fakeIntel{
		delay: time.Second,
		intel: &ipintel.Intelligence{Country: "DE", ISP: "should-not-arrive", FraudScore: 90},
	})
	env.seedOffer(t,
		&offer.Offer{OfferID: "o1", AdvertiserID: "adv1", Status: offer.StatusActive},
		&offer.Landing{LandingID: "l1", OfferID: "o1", Geo: "US", LandingURL: "https://shop.example/go", ClickIDParam: "click_id"},
	)

	result, err := env.svc.ProcessClick(context.Background(), baseParams())
	require.NoError(t, err)

	require.Equal(t, StatusValid, result.Status)
	require.False(t, result.IsBlocked)
	require.Contains(t, result.RedirectURL, "click_id="+result.ClickID)

	// The provider was abandoned after the timeout, its fields never landed.
	var row Click
	require.NoError(t, env.db.Where("click_id = ?", result.ClickID).First(&row).Error)
	require.Empty(t, row.ISP)
	require.Equal(t, "US", row.Geo)
	require.Zero(t, row.FraudScore)
	require.True(t, row.IsUnique)

	require.Contains(t, env.enqueuer.taskNames(), task.ClickMetricTask)
	require.Contains(t, env.enqueuer.taskNames(), task.AntifraudLogTask)
}

func TestProcessClick_ProviderGeoTakesPrecedence(t *testing.T) {
	env := newTestEnv(t, &fakeIntel{
		intel: &ipintel.Intelligence{Country: "DE", City: "Berlin", ISP: "ExampleNet"},
	})
	env.seedOffer(t,
		&offer.Offer{OfferID: "o1", AdvertiserID: "adv1", Status: offer.StatusActive},
		&offer.Landing{LandingID: "l1", OfferID: "o1", Geo: "DE", LandingURL: "https://shop.example/de", ClickIDParam: "click_id"},
		&offer.Landing{LandingID: "l2", OfferID: "o1", Geo: "US", LandingURL: "https://shop.example/us", ClickIDParam: "click_id"},
	)

	params := baseParams()
	params.Geo = "US"

	result, err := env.svc.ProcessClick(context.Background(), params)
	require.NoError(t, err)

	require.Equal(t, StatusValid, result.Status)
	require.Contains(t, result.RedirectURL, "https://shop.example/de")

	var row Click
	require.NoError(t, env.db.Where("click_id = ?", result.ClickID).First(&row).Error)
	require.Equal(t, "DE", row.Geo)
	require.Equal(t, "Berlin", row.City)
}

func TestProcessClick_SecondClickNotUnique(t *testing.T) {
	env := newTestEnv(t, &fakeIntel{})
	env.seedOffer(t,
		&offer.Offer{OfferID: "o1", AdvertiserID: "adv1", Status: offer.StatusActive},
		&offer.Landing{LandingID: "l1", OfferID: "o1", LandingURL: "https://shop.example/go", ClickIDParam: "click_id"},
	)

	first, err := env.svc.ProcessClick(context.Background(), baseParams())
	require.NoError(t, err)
	second, err := env.svc.ProcessClick(context.Background(), baseParams())
	require.NoError(t, err)

	var firstRow, secondRow Click
	require.NoError(t, env.db.Where("click_id = ?", first.ClickID).First(&firstRow).Error)
	require.NoError(t, env.db.Where("click_id = ?", second.ClickID).First(&secondRow).Error)
	require.True(t, firstRow.IsUnique)
	require.False(t, secondRow.IsUnique)
}

func TestProcessClick_FraudBlockOnHighScore(t *testing.T) {
	env := newTestEnv(t, &fakeIntel{
		intel: &ipintel.Intelligence{Country: "US", IsProxy: true, FraudScore: 95},
	})
	env.seedOffer(t,
		&offer.Offer{OfferID: "o1", AdvertiserID: "adv1", Status: offer.StatusActive},
		&offer.Landing{LandingID: "l1", OfferID: "o1", LandingURL: "https://shop.example/go", ClickIDParam: "click_id"},
	)

	result, err := env.svc.ProcessClick(context.Background(), baseParams())
	require.NoError(t, err)

	require.Equal(t, StatusBlocked, result.Status)
	require.Equal(t, ReasonFraudBlock, result.ErrorReason)
	require.True(t, result.IsBlocked)
	require.Contains(t, result.RedirectURL, "https://tracker.test/unavailable")

	var row Click
	require.NoError(t, env.db.Where("click_id = ?", result.ClickID).First(&row).Error)
	require.True(t, row.IsProxy)
	require.GreaterOrEqual(t, row.FraudScore, 80)

	// Blocked clicks still hit the ledger and the audit queue.
	require.Contains(t, env.enqueuer.taskNames(), task.AntifraudLogTask)
}

func TestProcessClick_BlockRuleWins(t *testing.T) {
	env := newTestEnv(t, &fakeIntel{
		intel: &ipintel.Intelligence{Country: "US", IsVpn: true},
	})
	env.seedOffer(t,
		&offer.Offer{OfferID: "o1", AdvertiserID: "adv1", Status: offer.StatusActive},
		&offer.Landing{LandingID: "l1", OfferID: "o1", LandingURL: "https://shop.example/go", ClickIDParam: "click_id"},
	)
	require.NoError(t, env.db.Create(&antifraud.Rule{
		RuleID: "r1", AdvertiserID: "adv1", Kind: antifraud.KindProxyVPN,
		Action: antifraud.ActionBlock, IsActive: true,
	}).Error)

	result, err := env.svc.ProcessClick(context.Background(), baseParams())
	require.NoError(t, err)

	require.Equal(t, StatusBlocked, result.Status)
	require.Equal(t, ReasonFraudBlock, result.ErrorReason)

	var row Click
	require.NoError(t, env.db.Where("click_id = ?", result.ClickID).First(&row).Error)
	require.Equal(t, []string{"r1"}, []string(row.MatchedRules))
	require.Equal(t, string(antifraud.ActionBlock), row.Action)
}

func TestProcessClick_CapReachedBlocks(t *testing.T) {
	env := newTestEnv(t, &fakeIntel{})
	env.seedOffer(t,
		&offer.Offer{
			OfferID: "o1", AdvertiserID: "adv1", Status: offer.StatusActive,
			DailyCap: 1, CapAction: offer.CapActionBlock,
		},
		&offer.Landing{LandingID: "l1", OfferID: "o1", LandingURL: "https://shop.example/go", ClickIDParam: "click_id"},
	)

	first, err := env.svc.ProcessClick(context.Background(), baseParams())
	require.NoError(t, err)
	require.Equal(t, StatusValid, first.Status)

	second, err := env.svc.ProcessClick(context.Background(), baseParams())
	require.NoError(t, err)
	require.Equal(t, StatusRejected, second.Status)
	require.Equal(t, ReasonCapReached, second.ErrorReason)
	require.True(t, second.CapReached)
	require.True(t, second.IsBlocked)
	require.Contains(t, second.RedirectURL, "https://tracker.test/unavailable")
}

func TestProcessClick_CapReachedProceedsToCapURL(t *testing.T) {
	env := newTestEnv(t, &fakeIntel{})
	env.seedOffer(t,
		&offer.Offer{
			OfferID: "o1", AdvertiserID: "adv1", Status: offer.StatusActive,
			DailyCap: 1, CapAction: offer.CapActionAllow, CapRedirectURL: "https://shop.example/capped",
		},
		&offer.Landing{LandingID: "l1", OfferID: "o1", LandingURL: "https://shop.example/go", ClickIDParam: "click_id"},
	)

	_, err := env.svc.ProcessClick(context.Background(), baseParams())
	require.NoError(t, err)

	second, err := env.svc.ProcessClick(context.Background(), baseParams())
	require.NoError(t, err)
	require.Equal(t, StatusRejected, second.Status)
	require.Equal(t, ReasonCapReached, second.ErrorReason)
	require.True(t, second.CapReached)
	require.False(t, second.IsBlocked)
	require.Equal(t, "https://shop.example/capped", second.RedirectURL)
}

func TestProcessClick_NoLanding(t *testing.T) {
	env := newTestEnv(t, &fakeIntel{})
	env.seedOffer(t, &offer.Offer{OfferID: "o1", AdvertiserID: "adv1", Status: offer.StatusActive})

	result, err := env.svc.ProcessClick(context.Background(), baseParams())
	require.NoError(t, err)

	require.Equal(t, StatusError, result.Status)
	require.Equal(t, ReasonNoLanding, result.ErrorReason)
	require.True(t, result.IsBlocked)
	require.Equal(t, int64(1), env.clickCount(t))
}

func TestProcessClick_GeoMismatchRecordedNotTerminal(t *testing.T) {
	env := newTestEnv(t, &fakeIntel{})
	env.seedOffer(t,
		&offer.Offer{
			OfferID: "o1", AdvertiserID: "adv1", Status: offer.StatusActive,
			GeoTargets: []string{"DE"},
		},
		&offer.Landing{LandingID: "l1", OfferID: "o1", LandingURL: "https://shop.example/go", ClickIDParam: "click_id"},
	)

	result, err := env.svc.ProcessClick(context.Background(), baseParams())
	require.NoError(t, err)

	require.Equal(t, StatusValid, result.Status)
	require.False(t, result.IsBlocked)

	var row Click
	require.NoError(t, env.db.Where("click_id = ?", result.ClickID).First(&row).Error)
	require.False(t, row.IsGeoMatch)
}

func TestProcessClick_SubsFlowIntoRedirect(t *testing.T) {
	env := newTestEnv(t, &fakeIntel{})
	env.seedOffer(t,
		&offer.Offer{OfferID: "o1", AdvertiserID: "adv1", Status: offer.StatusActive},
		&offer.Landing{LandingID: "l1", OfferID: "o1", LandingURL: "https://shop.example/go?src={sub1}", ClickIDParam: "click_id"},
	)

	params := baseParams()
	params.Sub1 = "newsletter"
	params.Sub2 = "june"

	result, err := env.svc.ProcessClick(context.Background(), params)
	require.NoError(t, err)

	require.Contains(t, result.RedirectURL, "src=newsletter")
	require.Contains(t, result.RedirectURL, "sub2=june")
	require.NotContains(t, result.RedirectURL, "sub1=")
}
