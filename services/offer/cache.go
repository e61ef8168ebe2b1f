package offer

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"primetrack/pkg/clock"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "offer_cache_hits_total"})
	cacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "offer_cache_miss_total"})
)

// EntryState is the outcome of a cache lookup. A cached "confirmed absent"
// entry is distinct from a plain miss so callers can skip the storage fetch
// for lookups that recently came back empty.
type EntryState int

const (
	StateMiss EntryState = iota
	StateFound
	StateNotFound
)

type offerEntry struct {
	state     EntryState
	offer     *Offer
	expiresAt time.Time
}

type landingEntry struct {
	landings  []Landing
	expiresAt time.Time
}

type publisherOfferEntry struct {
	state     EntryState
	po        *PublisherOffer
	expiresAt time.Time
}

// Cache is a process-local read-through cache in front of offer storage.
// Positive entries live for positiveTTL, negative (confirmed absent) entries
// for the shorter negativeTTL. There is no eviction besides TTL expiry: the
// offer corpus is assumed small relative to click volume.
type Cache struct {
	mu    sync.RWMutex
	clock clock.Clock

	positiveTTL time.Duration
	negativeTTL time.Duration

	offers          map[string]offerEntry
	landings        map[string]landingEntry
	publisherOffers map[string]publisherOfferEntry
}

func NewCache(clk clock.Clock, positiveTTL, negativeTTL time.Duration) *Cache {
	if clk == nil {
		clk = clock.System()
	}
	return &Cache{
		clock:           clk,
		positiveTTL:     positiveTTL,
		negativeTTL:     negativeTTL,
		offers:          make(map[string]offerEntry),
		landings:        make(map[string]landingEntry),
		publisherOffers: make(map[string]publisherOfferEntry),
	}
}

// GetOffer returns the cached offer. StateFound carries data, StateNotFound
// means a recent lookup confirmed the offer does not exist, StateMiss means
// the caller has to hit storage.
func (c *Cache) GetOffer(offerID string) (*Offer, EntryState) {
	c.mu.RLock()
	entry, ok := c.offers[offerID]
	c.mu.RUnlock()

	if !ok || c.clock.Now().After(entry.expiresAt) {
		cacheMiss.Inc()
		return nil, StateMiss
	}
	cacheHits.Inc()
	return entry.offer, entry.state
}

// SetOffer caches an offer. A nil offer records "confirmed absent" with the
// negative TTL.
func (c *Cache) SetOffer(offerID string, offer *Offer) {
	entry := offerEntry{state: StateFound, offer: offer}
	ttl := c.positiveTTL
	if offer == nil {
		entry.state = StateNotFound
		ttl = c.negativeTTL
	}
	entry.expiresAt = c.clock.Now().Add(ttl)

	c.mu.Lock()
	c.offers[offerID] = entry
	c.mu.Unlock()
}

// GetLandings returns the cached landing list for an offer. Landing lists are
// only ever cached non-empty, so there is no negative state here.
func (c *Cache) GetLandings(offerID string) ([]Landing, bool) {
	c.mu.RLock()
	entry, ok := c.landings[offerID]
	c.mu.RUnlock()

	if !ok || c.clock.Now().After(entry.expiresAt) {
		cacheMiss.Inc()
		return nil, false
	}
	cacheHits.Inc()
	return entry.landings, true
}

// SetLandings caches a landing list. Empty lists are not cached: an empty
// landing set is more likely a transient provisioning state than a permanent
// fact, so it is always re-fetched.
func (c *Cache) SetLandings(offerID string, landings []Landing) {
	if len(landings) == 0 {
		return
	}

	c.mu.Lock()
	c.landings[offerID] = landingEntry{
		landings:  landings,
		expiresAt: c.clock.Now().Add(c.positiveTTL),
	}
	c.mu.Unlock()
}

func publisherOfferKey(publisherID, offerID string) string {
	return publisherID + ":" + offerID
}

// GetPublisherOffer mirrors GetOffer for publisher-offer associations.
func (c *Cache) GetPublisherOffer(publisherID, offerID string) (*PublisherOffer, EntryState) {
	c.mu.RLock()
	entry, ok := c.publisherOffers[publisherOfferKey(publisherID, offerID)]
	c.mu.RUnlock()

	if !ok || c.clock.Now().After(entry.expiresAt) {
		cacheMiss.Inc()
		return nil, StateMiss
	}
	cacheHits.Inc()
	return entry.po, entry.state
}

// SetPublisherOffer caches a publisher-offer pair, nil meaning confirmed absent.
func (c *Cache) SetPublisherOffer(publisherID, offerID string, po *PublisherOffer) {
	entry := publisherOfferEntry{state: StateFound, po: po}
	ttl := c.positiveTTL
	if po == nil {
		entry.state = StateNotFound
		ttl = c.negativeTTL
	}
	entry.expiresAt = c.clock.Now().Add(ttl)

	c.mu.Lock()
	c.publisherOffers[publisherOfferKey(publisherID, offerID)] = entry
	c.mu.Unlock()
}

// InvalidateOffer drops the offer and its landing list from this process's
// cache. Other replicas are untouched, TTL is the only cross-instance
// consistency mechanism.
func (c *Cache) InvalidateOffer(offerID string) {
	c.mu.Lock()
	delete(c.offers, offerID)
	delete(c.landings, offerID)
	c.mu.Unlock()
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.offers = make(map[string]offerEntry)
	c.landings = make(map[string]landingEntry)
	c.publisherOffers = make(map[string]publisherOfferEntry)
	c.mu.Unlock()
}
