package widget

import (
	"context"
	"sync"
	"time"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/model"
)

// DefaultRefreshInterval matches the platform's minimum periodic job.
const DefaultRefreshInterval = 15 * time.Minute

// ActiveSource lists a user's incomplete todos. *store.Todos implements it.
type ActiveSource interface {
	ListActive(ctx context.Context, userID string) ([]model.Todo, error)
}

// SessionFunc returns the signed-in user, if any.
type SessionFunc func() (userID string, ok bool)

// Refresher republishes the snapshot periodically and on demand.
type Refresher struct {
	src      ActiveSource
	mirror   *Mirror
	session  SessionFunc
	interval time.Duration
	timeout  time.Duration

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	done      chan struct{}
	onRefresh func(Snapshot)
}

// NewRefresher returns a stopped refresher.
func NewRefresher(src ActiveSource, mirror *Mirror, session SessionFunc, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{
		src:      src,
		mirror:   mirror,
		session:  session,
		interval: interval,
		timeout:  30 * time.Second,
	}
}

// SetOnRefresh sets a callback run after every published refresh.
func (r *Refresher) SetOnRefresh(callback func(Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRefresh = callback
}

// Start runs the periodic loop in the background.
func (r *Refresher) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})
	go r.pollLoop(r.stopCh, r.done)
}

// Stop ends the loop and waits for it.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	done := r.done
	r.mu.Unlock()
	<-done
}

func (r *Refresher) pollLoop(stopCh, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := r.RefreshNow(ctx); err != nil {
				logger.Warn("Widget refresh failed", logger.F("error", err))
			}
			cancel()
		case <-stopCh:
			return
		}
	}
}

// RefreshNow fetches the active todos and publishes them once. Without a
// session an empty, logged out snapshot is published.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	userID, ok := r.session()
	var todos []model.Todo
	if ok {
		var err error
		todos, err = r.src.ListActive(ctx, userID)
		if err != nil {
			return err
		}
	}
	if err := r.mirror.Publish(todos, ok); err != nil {
		return err
	}

	r.mu.Lock()
	callback := r.onRefresh
	r.mu.Unlock()
	if callback != nil {
		callback(Read(r.mirror.Store()))
	}
	return nil
}
