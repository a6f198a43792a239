package tui

import (
	"context"
	"sync"
	"time"
)

const publishDelay = 750 * time.Millisecond

// widgetPublisher republishes the widget snapshot after the list settles.
// Bursts of changes, local or pushed from another device, collapse into
// one publish.
type widgetPublisher struct {
	ctx     context.Context
	publish func(context.Context)
	delay   time.Duration

	mu      sync.Mutex
	pending bool
	timer   *time.Timer
}

func newWidgetPublisher(ctx context.Context, publish func(context.Context)) *widgetPublisher {
	return &widgetPublisher{ctx: ctx, publish: publish, delay: publishDelay}
}

// Trigger marks the snapshot stale and restarts the wait.
func (w *widgetPublisher) Trigger() {
	if w == nil || w.publish == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.fire)
}

func (w *widgetPublisher) fire() {
	w.mu.Lock()
	if !w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()
	w.publish(w.ctx)
}

// Flush publishes now if a change is still waiting.
func (w *widgetPublisher) Flush() {
	if w == nil || w.publish == nil {
		return
	}
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.fire()
}
