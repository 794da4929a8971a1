package util

import (
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/stats"
)

// Counters is an in-memory stats.Client. Sums and averages are kept per key;
// histogram values and times are kept as averages as well.
type Counters struct {
	mu     sync.Mutex
	sums   map[string]float64
	counts map[string]int64
	avg    map[string]bool // keys holding averages
}

var _ stats.Client = &Counters{}

// NewCounters returns an empty Counters.
func NewCounters() *Counters {
	return &Counters{
		sums:   make(map[string]float64),
		counts: make(map[string]int64),
		avg:    make(map[string]bool),
	}
}

// BumpSum adds val to key.
func (c *Counters) BumpSum(key string, val float64) {
	c.mu.Lock()
	c.sums[key] += val
	c.counts[key]++
	c.mu.Unlock()
}

// BumpAvg adds val to the average for key.
func (c *Counters) BumpAvg(key string, val float64) {
	c.mu.Lock()
	c.sums[key] += val
	c.counts[key]++
	c.avg[key] = true
	c.mu.Unlock()
}

// BumpHistogram adds val to the distribution for key. Only the average is
// kept.
func (c *Counters) BumpHistogram(key string, val float64) {
	c.BumpAvg(key, val)
}

// BumpTime starts a timer for key. The elapsed seconds are averaged when End
// is called.
func (c *Counters) BumpTime(key string) interface {
	End()
} {
	return timer{c: c, key: key, start: time.Now()}
}

type timer struct {
	c     *Counters
	key   string
	start time.Time
}

func (t timer) End() {
	t.c.BumpAvg(t.key, time.Since(t.start).Seconds())
}

// Get returns the current sum or average for key.
func (c *Counters) Get(key string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.avg[key] && c.counts[key] > 0 {
		return c.sums[key] / float64(c.counts[key])
	}
	return c.sums[key]
}

// Keys returns every key seen, sorted.
func (c *Counters) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k := range c.sums {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
