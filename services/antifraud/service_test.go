package antifraud

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"primetrack/pkg/clock"
	"primetrack/services/testutil"
)

func newTestService(t *testing.T) (*Service, Repository, *clock.Fixed) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&Rule{}, &VelocityCounter{}, &ConversionFingerprint{},
		&PublisherStats{}, &AntifraudLog{}, &Notification{}, &Metric{},
	)
	repo := NewRepository(db)

	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParams{
		Repository: repo,
		RuleCache:  NewRuleCache(clk, time.Minute),
		Clock:      clk,
		Node:       node,
		Logger:     zap.NewNop(),
	})
	return svc, repo, clk
}

func floatPtr(v float64) *float64 { return &v }

func TestEvaluateClick_HighestPriorityActionWins(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateRule(ctx, &Rule{
		RuleID: "r-proxy", AdvertiserID: "adv1", Kind: KindProxyVPN, Action: ActionFlag, IsActive: true,
	}))
	require.NoError(t, repo.CreateRule(ctx, &Rule{
		RuleID: "r-bot", AdvertiserID: "adv1", Kind: KindBot, Action: ActionBlock, IsActive: true,
	}))

	eval, err := svc.EvaluateClick(ctx, EvaluateInput{
		OfferID:      "o1",
		AdvertiserID: "adv1",
		PublisherID:  "pub1",
		Signals: ClickSignals{
			IP: "203.0.113.7", IsProxy: true, IsBot: true, IsUnique: true, IsGeoMatch: true,
		},
	})
	require.NoError(t, err)

	require.Equal(t, ActionBlock, eval.Action)
	require.ElementsMatch(t, []string{"r-proxy", "r-bot"}, eval.MatchedRules)
	require.Contains(t, eval.Signals, "proxy")
	require.Contains(t, eval.Signals, "bot")
}

func TestEvaluateClick_UnknownRuleKindIsSkipped(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateRule(ctx, &Rule{
		RuleID: "r-weird", AdvertiserID: "adv1", Kind: RuleKind("hologram"), Action: ActionBlock, IsActive: true,
	}))

	eval, err := svc.EvaluateClick(ctx, EvaluateInput{
		OfferID:      "o1",
		AdvertiserID: "adv1",
		PublisherID:  "pub1",
		Signals:      ClickSignals{IP: "203.0.113.7", IsUnique: true, IsGeoMatch: true},
	})
	require.NoError(t, err)

	require.Equal(t, ActionAllow, eval.Action)
	require.Empty(t, eval.MatchedRules)
}

func TestEvaluateClick_FallsBackToGlobalRules(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateRule(ctx, &Rule{
		RuleID: "r-global", AdvertiserID: "", Kind: KindDatacenter, Action: ActionReject, IsActive: true,
	}))

	eval, err := svc.EvaluateClick(ctx, EvaluateInput{
		OfferID:      "o1",
		AdvertiserID: "adv-without-rules",
		PublisherID:  "pub1",
		Signals:      ClickSignals{IP: "203.0.113.7", IsDatacenter: true, IsUnique: true, IsGeoMatch: true},
	})
	require.NoError(t, err)

	require.Equal(t, ActionReject, eval.Action)
	require.Equal(t, []string{"r-global"}, eval.MatchedRules)
}

func TestEvaluateClick_VelocityBumpAndScoreClamp(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	in := EvaluateInput{
		OfferID:      "o1",
		AdvertiserID: "adv1",
		PublisherID:  "pub1",
		Signals:      ClickSignals{IP: "203.0.113.7", FraudScore: 95, IsUnique: true, IsGeoMatch: true},
	}

	// Ten clicks prime the minute counter, the eleventh observes count 10.
	for i := 0; i < 10; i++ {
		_, err := svc.EvaluateClick(ctx, in)
		require.NoError(t, err)
	}

	eval, err := svc.EvaluateClick(ctx, in)
	require.NoError(t, err)

	require.Equal(t, int64(10), eval.Velocity.IPMinute)
	require.Contains(t, eval.Signals, "velocity_ip_minute=10")
	require.Equal(t, 100, eval.FraudScore)
}

func TestEvaluateClick_ElapsedWindowResetsToOne(t *testing.T) {
	svc, repo, clk := newTestService(t)
	ctx := context.Background()

	in := EvaluateInput{
		OfferID:      "o1",
		AdvertiserID: "adv1",
		PublisherID:  "pub1",
		Signals:      ClickSignals{IP: "203.0.113.7", IsUnique: true, IsGeoMatch: true},
	}

	for i := 0; i < 5; i++ {
		_, err := svc.EvaluateClick(ctx, in)
		require.NoError(t, err)
	}

	clk.Advance(61 * time.Second)

	eval, err := svc.EvaluateClick(ctx, in)
	require.NoError(t, err)

	// The minute window elapsed, so the read sees zero and the increment
	// starts the window over at one. The hour window keeps counting.
	require.Equal(t, int64(0), eval.Velocity.IPMinute)
	require.Equal(t, int64(5), eval.Velocity.IPHour)

	counter, err := repo.GetVelocityCounter(ctx, CounterTypeIP, "203.0.113.7", "adv1")
	require.NoError(t, err)
	require.Equal(t, int64(1), counter.MinuteCount)
	require.Equal(t, int64(6), counter.HourCount)
}

func TestEvaluateClick_ExpressionRule(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateRule(ctx, &Rule{
		RuleID:       "r-expr",
		AdvertiserID: "adv1",
		Kind:         KindExpression,
		Expression:   `is_proxy && fraud_score >= 50`,
		Action:       ActionHold,
		IsActive:     true,
	}))

	eval, err := svc.EvaluateClick(ctx, EvaluateInput{
		OfferID:      "o1",
		AdvertiserID: "adv1",
		PublisherID:  "pub1",
		Signals:      ClickSignals{IP: "203.0.113.7", IsProxy: true, FraudScore: 60, IsUnique: true, IsGeoMatch: true},
	})
	require.NoError(t, err)
	require.Equal(t, ActionHold, eval.Action)
	require.Equal(t, []string{"r-expr"}, eval.MatchedRules)

	eval, err = svc.EvaluateClick(ctx, EvaluateInput{
		OfferID:      "o1",
		AdvertiserID: "adv1",
		PublisherID:  "pub1",
		Signals:      ClickSignals{IP: "203.0.113.8", IsProxy: true, FraudScore: 10, IsUnique: true, IsGeoMatch: true},
	})
	require.NoError(t, err)
	require.Equal(t, ActionAllow, eval.Action)
}

func TestEvaluateClick_FraudScoreRuleUsesCustomThreshold(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateRule(ctx, &Rule{
		RuleID: "r-score", AdvertiserID: "adv1", Kind: KindFraudScore,
		Threshold: floatPtr(40), Action: ActionReject, IsActive: true,
	}))

	eval, err := svc.EvaluateClick(ctx, EvaluateInput{
		OfferID:      "o1",
		AdvertiserID: "adv1",
		PublisherID:  "pub1",
		Signals:      ClickSignals{IP: "203.0.113.7", FraudScore: 45, IsUnique: true, IsGeoMatch: true},
	})
	require.NoError(t, err)
	require.Equal(t, ActionReject, eval.Action)
}

func TestCheckDuplicateConversion_IdentifierPriority(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordConversion(ctx, ConversionInput{
		OfferID:           "o1",
		TransactionID:     "tx-1",
		Email:             "User@Example.com ",
		Phone:             "+1 (555) 010-2030",
		DeviceFingerprint: "fp-1",
	}))

	res, err := svc.CheckDuplicateConversion(ctx, ConversionInput{
		OfferID: "o1", TransactionID: "tx-1", Email: "other@example.com",
	})
	require.NoError(t, err)
	require.True(t, res.IsDuplicate)
	require.Equal(t, DuplicateByTransactionID, res.DuplicateType)

	// Normalization collapses case, whitespace and phone formatting.
	res, err = svc.CheckDuplicateConversion(ctx, ConversionInput{
		OfferID: "o1", TransactionID: "tx-2", Email: "user@example.com",
	})
	require.NoError(t, err)
	require.True(t, res.IsDuplicate)
	require.Equal(t, DuplicateByEmail, res.DuplicateType)

	res, err = svc.CheckDuplicateConversion(ctx, ConversionInput{
		OfferID: "o1", TransactionID: "tx-3", Phone: "15550102030",
	})
	require.NoError(t, err)
	require.True(t, res.IsDuplicate)
	require.Equal(t, DuplicateByPhone, res.DuplicateType)

	// Same identifiers on a different offer are not duplicates.
	res, err = svc.CheckDuplicateConversion(ctx, ConversionInput{
		OfferID: "o2", TransactionID: "tx-1", Email: "user@example.com",
	})
	require.NoError(t, err)
	require.False(t, res.IsDuplicate)
}

func TestCheckDuplicateConversion_FingerprintWindow(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordConversion(ctx, ConversionInput{
		OfferID:           "o1",
		TransactionID:     "tx-1",
		DeviceFingerprint: "fp-1",
	}))

	res, err := svc.CheckDuplicateConversion(ctx, ConversionInput{
		OfferID: "o1", TransactionID: "tx-2", DeviceFingerprint: "fp-1",
	})
	require.NoError(t, err)
	require.True(t, res.IsDuplicate)
	require.Equal(t, DuplicateByFingerprint, res.DuplicateType)

	clk.Advance(25 * time.Hour)

	res, err = svc.CheckDuplicateConversion(ctx, ConversionInput{
		OfferID: "o1", TransactionID: "tx-3", DeviceFingerprint: "fp-1",
	})
	require.NoError(t, err)
	require.False(t, res.IsDuplicate)
}

func TestUpdatePublisherStats_CrBaselineSetOnceThenAnomaly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// 100 clicks with a conversion every tenth, CR settles at 0.1 by the
	// time the hundredth click locks the baseline.
	for i := 0; i < 100; i++ {
		if i%10 == 0 {
			_, err := svc.UpdatePublisherStats(ctx, "pub1", "adv1", "o1", StatsEventConversion)
			require.NoError(t, err)
		}
		_, err := svc.UpdatePublisherStats(ctx, "pub1", "adv1", "o1", StatsEventClick)
		require.NoError(t, err)
	}

	crAnomaly, _, err := svc.CheckPublisherAnomaly(ctx, "pub1", "adv1", "o1")
	require.NoError(t, err)
	require.False(t, crAnomaly)

	// 150 conversion-free clicks drag the CR far enough below baseline.
	var stats *PublisherStats
	for i := 0; i < 150; i++ {
		stats, err = svc.UpdatePublisherStats(ctx, "pub1", "adv1", "o1", StatsEventClick)
		require.NoError(t, err)
	}

	require.NotNil(t, stats.BaselineCr)
	require.InDelta(t, 0.1, *stats.BaselineCr, 1e-9)
	require.True(t, stats.IsCrAnomaly)

	crAnomaly, _, err = svc.CheckPublisherAnomaly(ctx, "pub1", "adv1", "o1")
	require.NoError(t, err)
	require.True(t, crAnomaly)
}

func TestUpdatePublisherStats_ArAnomaly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// 20 fully approved conversions lock the AR baseline at 1.0.
	for i := 0; i < 20; i++ {
		_, err := svc.UpdatePublisherStats(ctx, "pub1", "adv1", "o1", StatsEventConversion)
		require.NoError(t, err)
		_, err = svc.UpdatePublisherStats(ctx, "pub1", "adv1", "o1", StatsEventApproved)
		require.NoError(t, err)
	}

	var stats *PublisherStats
	var err error
	for i := 0; i < 10; i++ {
		stats, err = svc.UpdatePublisherStats(ctx, "pub1", "adv1", "o1", StatsEventConversion)
		require.NoError(t, err)
		stats, err = svc.UpdatePublisherStats(ctx, "pub1", "adv1", "o1", StatsEventRejected)
		require.NoError(t, err)
	}

	require.NotNil(t, stats.BaselineAr)
	require.InDelta(t, 1.0, *stats.BaselineAr, 1e-9)
	require.True(t, stats.IsArAnomaly)
}

func TestCheckPublisherAnomaly_NoStatsRow(t *testing.T) {
	svc, _, _ := newTestService(t)

	crAnomaly, arAnomaly, err := svc.CheckPublisherAnomaly(context.Background(), "ghost", "adv1", "o1")
	require.NoError(t, err)
	require.False(t, crAnomaly)
	require.False(t, arAnomaly)
}
