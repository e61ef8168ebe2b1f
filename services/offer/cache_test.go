package offer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"primetrack/pkg/clock"
)

func newTestCache(t *testing.T) (*Cache, *clock.Fixed) {
	t.Helper()
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewCache(clk, 60*time.Second, 10*time.Second), clk
}

func TestCache_PositiveEntryExpires(t *testing.T) {
	cache, clk := newTestCache(t)

	cache.SetOffer("o1", &Offer{OfferID: "o1", Status: StatusActive})

	got, state := cache.GetOffer("o1")
	require.Equal(t, StateFound, state)
	require.Equal(t, "o1", got.OfferID)

	clk.Advance(59 * time.Second)
	_, state = cache.GetOffer("o1")
	require.Equal(t, StateFound, state)

	clk.Advance(2 * time.Second)
	got, state = cache.GetOffer("o1")
	require.Equal(t, StateMiss, state)
	require.Nil(t, got)
}

func TestCache_NegativeEntryDistinctFromMiss(t *testing.T) {
	cache, clk := newTestCache(t)

	_, state := cache.GetOffer("ghost")
	require.Equal(t, StateMiss, state)

	cache.SetOffer("ghost", nil)

	got, state := cache.GetOffer("ghost")
	require.Equal(t, StateNotFound, state)
	require.Nil(t, got)

	// Negative entries live only for the short negative TTL.
	clk.Advance(11 * time.Second)
	_, state = cache.GetOffer("ghost")
	require.Equal(t, StateMiss, state)
}

func TestCache_EmptyLandingListNotCached(t *testing.T) {
	cache, _ := newTestCache(t)

	cache.SetLandings("o1", nil)
	_, ok := cache.GetLandings("o1")
	require.False(t, ok)

	cache.SetLandings("o1", []Landing{{LandingID: "l1", OfferID: "o1"}})
	landings, ok := cache.GetLandings("o1")
	require.True(t, ok)
	require.Len(t, landings, 1)
}

func TestCache_PublisherOfferNegative(t *testing.T) {
	cache, _ := newTestCache(t)

	cache.SetPublisherOffer("p1", "o1", nil)
	po, state := cache.GetPublisherOffer("p1", "o1")
	require.Equal(t, StateNotFound, state)
	require.Nil(t, po)

	cache.SetPublisherOffer("p1", "o1", &PublisherOffer{ID: "po1", PublisherID: "p1", OfferID: "o1"})
	po, state = cache.GetPublisherOffer("p1", "o1")
	require.Equal(t, StateFound, state)
	require.Equal(t, "po1", po.ID)
}

func TestCache_InvalidateOffer(t *testing.T) {
	cache, _ := newTestCache(t)

	cache.SetOffer("o1", &Offer{OfferID: "o1"})
	cache.SetLandings("o1", []Landing{{LandingID: "l1", OfferID: "o1"}})

	cache.InvalidateOffer("o1")

	_, state := cache.GetOffer("o1")
	require.Equal(t, StateMiss, state)
	_, ok := cache.GetLandings("o1")
	require.False(t, ok)
}
