package antifraud

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"primetrack/pkg/clock"
)

var (
	ruleCacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "antifraud_rule_cache_hits_total"})
	ruleCacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "antifraud_rule_cache_miss_total"})
)

type ruleSet struct {
	rules     []Rule
	fetchedAt time.Time
}

// RuleCache holds the active rule set per advertiser for a short TTL so the
// hot click path does not query the rules table on every request.
type RuleCache struct {
	mu    sync.RWMutex
	items map[string]*ruleSet
	ttl   time.Duration
	clock clock.Clock
	group singleflight.Group
}

func NewRuleCache(clk clock.Clock, ttl time.Duration) *RuleCache {
	if clk == nil {
		clk = clock.System()
	}
	return &RuleCache{
		items: make(map[string]*ruleSet),
		ttl:   ttl,
		clock: clk,
	}
}

func (c *RuleCache) Get(advertiserID string) ([]Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[advertiserID]
	if !ok || (c.ttl > 0 && c.clock.Now().Sub(v.fetchedAt) > c.ttl) {
		ruleCacheMiss.Inc()
		return nil, false
	}
	ruleCacheHits.Inc()
	return v.rules, true
}

func (c *RuleCache) Set(advertiserID string, rules []Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[advertiserID] = &ruleSet{rules: rules, fetchedAt: c.clock.Now()}
}

func (c *RuleCache) Invalidate(advertiserID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, advertiserID)
}

// Load returns cached rules or fetches them through singleflight so
// concurrent misses for one advertiser produce a single storage query.
func (c *RuleCache) Load(advertiserID string, fetch func() ([]Rule, error)) ([]Rule, error) {
	if rules, ok := c.Get(advertiserID); ok {
		return rules, nil
	}

	v, err, _ := c.group.Do(advertiserID, func() (interface{}, error) {
		rules, err := fetch()
		if err != nil {
			return nil, err
		}
		c.Set(advertiserID, rules)
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Rule), nil
}
