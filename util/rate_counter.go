package util

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// A RateCounter limits how many bytes per second pass through the readers it
// wraps. One counter is shared by every transfer in a run, so the limit
// applies to their total.
//
// Every interval we add credits to the pool. As bytes are read we remove
// credits from the pool. If the pool is empty, readers wait until it is
// positive again. The pool holds at most one second of credits so an idle
// period does not turn into a burst.
//
// A nil *RateCounter does no limiting.
type RateCounter struct {
	c        chan struct{} // channel we use to signal credits is positive
	stop     chan struct{} // close to signal adder goroutine to exit
	stopOnce sync.Once
	amount   int64 // credits added each interval
	limit    int64 // most credits the pool may hold
	m        sync.Mutex
	credits  int64 // current credit balance
}

// Interval between adding credits to the pool. The shorter it is, the more
// waking and churning we do. The longer it is, the burstier transfers are.
const rateInterval = 100 * time.Millisecond

// NewRateCounter returns a counter where credits accumulate at the given
// number of bytes per second.
func NewRateCounter(rate float64) *RateCounter {
	return NewRateCounterClock(rate, clock.New())
}

// NewRateCounterClock is NewRateCounter with the time source given. It is
// intended for tests.
func NewRateCounterClock(rate float64, clk clock.Clock) *RateCounter {
	amount := int64(rate * rateInterval.Seconds())
	if amount < 1 {
		amount = 1
	}
	limit := int64(rate)
	if limit < amount {
		limit = amount
	}
	r := &RateCounter{
		c:       make(chan struct{}),
		stop:    make(chan struct{}),
		amount:  amount,
		limit:   limit,
		credits: amount,
	}
	// create the ticker before returning so a mock clock sees it
	tick := clk.Ticker(rateInterval)
	go r.adder(tick)
	return r
}

// Use some number of units. It is okay if it takes this counter negative.
func (r *RateCounter) Use(count int64) {
	r.m.Lock()
	r.credits -= count
	if r.credits > r.limit {
		r.credits = r.limit
	}
	r.m.Unlock()
}

// OK returns a channel to wait on. It will receive an empty struct when it is OK
// to resume reading. The channel will be closed if the RateCounter is Stopped.
func (r *RateCounter) OK() <-chan struct{} {
	return r.c
}

// Stop the background goroutine refilling the RateCounter. Readers waiting on
// it will fail with ErrStopped. It is safe to call Stop more than once.
func (r *RateCounter) Stop() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() { close(r.stop) })
}

// adder is the background goroutine that refills the rate counter based on the
// rate this RateCounter was created with.
func (r *RateCounter) adder(tick *clock.Ticker) {
	defer tick.Stop()
	for {
		var signal chan struct{}
		r.m.Lock()
		if r.credits > 0 {
			signal = r.c
		}
		r.m.Unlock()
		select {
		case <-tick.C:
			r.Use(-r.amount) // add amount to credits!
		case signal <- struct{}{}:
		case <-r.stop:
			close(r.c)
			return
		}
	}
}

// Wrap takes an io.Reader and returns a new one where reads are limited by
// this RateCounter. See WrapContext.
func (r *RateCounter) Wrap(reader io.Reader) io.Reader {
	return r.WrapContext(context.Background(), reader)
}

// WrapContext takes an io.Reader and returns a new one where reads are
// limited by this RateCounter. Reads will block until the RateCounter says
// the current usage is ok. It is okay for more than one goroutine to use the
// same RateCounter. If the RateCounter was stopped, the returned reader will
// cause an ErrStopped. If ctx is canceled, reads fail with ctx.Err().
func (r *RateCounter) WrapContext(ctx context.Context, reader io.Reader) io.Reader {
	if r == nil {
		return ctxReader{ctx: ctx, reader: reader}
	}
	return rateReader{ctx: ctx, reader: reader, rate: r}
}

// ErrStopped means a read failed because the governing rate counter was stopped.
var ErrStopped = errors.New("RateCounter stopped")

type rateReader struct {
	ctx    context.Context
	reader io.Reader
	rate   *RateCounter
}

func (r rateReader) Read(p []byte) (int, error) {
	// wait for the rate limiter
	select {
	case _, ok := <-r.rate.OK():
		if !ok {
			// our RateCounter was stopped.
			return 0, ErrStopped
		}
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	}
	// never take much more than one interval's worth at a time
	if int64(len(p)) > r.rate.amount {
		p = p[:r.rate.amount]
	}
	n, err := r.reader.Read(p)
	r.rate.Use(int64(n))
	return n, err
}

type ctxReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(p)
}
