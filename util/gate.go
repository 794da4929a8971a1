package util

import (
	"context"
	"sync"
)

// A Gate limits concurrency. Every gate has a maximum number of goroutines to
// allow through at a time. Goroutines enter the gate by calling Enter(), and
// signal that they are done by calling Leave(). Once a gate is stopped no more
// goroutines are admitted.
type Gate struct {
	c    chan struct{}
	stop chan struct{}
	once sync.Once
}

// NewGate returns a Gate which accepts at most n entries at a time.
func NewGate(n int) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{
		c:    make(chan struct{}, n),
		stop: make(chan struct{}),
	}
}

// Enter is called at the beginning of the section to be protected by the
// gate, and will block the calling goroutine until there are less than n
// goroutines inside. It returns false if the gate was stopped, in which case
// the caller must not call Leave.
// It is safe to call this from multiple goroutines.
func (g *Gate) Enter() bool {
	return g.EnterContext(context.Background())
}

// EnterContext is like Enter, but also gives up and returns false when ctx
// is done.
func (g *Gate) EnterContext(ctx context.Context) bool {
	select {
	case g.c <- struct{}{}:
	case <-g.stop:
		return false
	case <-ctx.Done():
		return false
	}
	// both cases may have been ready at once
	select {
	case <-g.stop:
		<-g.c
		return false
	default:
	}
	if ctx.Err() != nil {
		<-g.c
		return false
	}
	return true
}

// Leave marks a goroutine outside the critical section. It is important to
// balance each successful call to Enter with a call to Leave. Enter and Leave
// do not need to be called from the same goroutine, necessarily.
func (g *Gate) Leave() {
	<-g.c
}

// Stop closes the gate to new entries. Goroutines waiting in Enter return
// false. Stop then waits until everyone inside has called Leave.
func (g *Gate) Stop() {
	g.once.Do(func() { close(g.stop) })
	// filling every slot means everyone has left
	for i := 0; i < cap(g.c); i++ {
		g.c <- struct{}{}
	}
	for i := 0; i < cap(g.c); i++ {
		<-g.c
	}
}
