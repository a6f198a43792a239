package view

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/postgrest"
	"github.com/aksanoble/hasu/internal/store"
)

// StoreCounts serves CountSource from the data layer.
type StoreCounts struct {
	Projects *store.Projects
	Todos    *store.Todos
}

func (s StoreCounts) ListWithCounts(ctx context.Context) ([]model.Project, error) {
	return s.Projects.ListWithCounts(ctx)
}

func (s StoreCounts) CountToday(ctx context.Context, userID string, now time.Time) (int, error) {
	return s.Todos.CountToday(ctx, userID, now)
}

func (s StoreCounts) CountUpcoming(ctx context.Context, userID string, now time.Time) (int, error) {
	return s.Todos.CountUpcoming(ctx, userID, now)
}

// Stream is an open change stream. Done is closed when it stops
// delivering, Err then says why (nil after Close).
type Stream interface {
	io.Closer
	Done() <-chan struct{}
	Err() error
}

// Subscriber opens a change stream.
type Subscriber func(ctx context.Context, sub postgrest.Subscription, h postgrest.Handler) (Stream, error)

// RealtimeSubscriber subscribes through rt.
func RealtimeSubscriber(rt *postgrest.Realtime) Subscriber {
	return func(ctx context.Context, sub postgrest.Subscription, h postgrest.Handler) (Stream, error) {
		ch, err := rt.Subscribe(ctx, sub, h)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

// ErrSuperseded is returned by Watch when a newer generation was handed
// out before it ran.
var ErrSuperseded = errors.New("live: superseded by a newer view")

const (
	minReconnect = time.Second
	maxReconnect = 30 * time.Second
)

// Live holds the change streams feeding one list and its counts. Watch
// always closes the previous streams before opening new ones, so a stale
// list never sees events. Dropped streams are reopened with backoff and
// the list is reloaded to catch up on what was missed.
type Live struct {
	mu        sync.Mutex
	subscribe Subscriber
	schema    string
	userID    string

	gen      uint64
	channels []Stream
	cancel   context.CancelFunc

	// OnLost is told when a stream dropped; OnRestored once it is back.
	OnLost     func(error)
	OnRestored func()

	backoff time.Duration
}

// NewLive returns a Live scoped to userID's rows in schema.
func NewLive(subscribe Subscriber, schema, userID string) *Live {
	return &Live{subscribe: subscribe, schema: schema, userID: userID, backoff: minReconnect}
}

// Next hands out a generation for the next Watch. Only the latest one is
// honoured, which keeps an out-of-order Watch from binding a list that is
// no longer on screen.
func (lv *Live) Next() uint64 {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	lv.gen++
	return lv.gen
}

// Watch streams todo changes into list and counts, and project changes
// into counts. Either may be nil. gen must come from Next; an older one
// returns ErrSuperseded and leaves the current streams alone.
func (lv *Live) Watch(ctx context.Context, gen uint64, list *List, counts *Counts) error {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	if gen != lv.gen {
		return ErrSuperseded
	}
	lv.closeLocked()

	streams, err := lv.open(ctx, list, counts)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	lv.cancel = cancel
	lv.channels = streams
	if counts != nil {
		go counts.Run(runCtx)
	}
	go lv.supervise(runCtx, list, counts, streams)

	logger.Debug("Watching changes", logger.F("view", listName(list)), logger.F("user", lv.userID))
	return nil
}

func (lv *Live) open(ctx context.Context, list *List, counts *Counts) ([]Stream, error) {
	filter := "user_id=eq." + lv.userID

	todoCh, err := lv.subscribe(ctx, postgrest.Subscription{
		Schema: lv.schema,
		Table:  store.TableTodos,
		Filter: filter,
	}, func(ev postgrest.ChangeEvent) {
		if list != nil {
			list.Apply(ev)
		}
		if counts != nil {
			counts.HandleTodo(ev)
		}
	})
	if err != nil {
		return nil, err
	}
	if counts == nil {
		return []Stream{todoCh}, nil
	}

	projCh, err := lv.subscribe(ctx, postgrest.Subscription{
		Schema: lv.schema,
		Table:  store.TableProjects,
		Filter: filter,
	}, counts.HandleProject)
	if err != nil {
		_ = todoCh.Close()
		return nil, err
	}
	return []Stream{todoCh, projCh}, nil
}

// supervise waits for a stream to drop and reopens the set until runCtx
// ends.
func (lv *Live) supervise(runCtx context.Context, list *List, counts *Counts, streams []Stream) {
	for {
		lost, ok := firstDone(runCtx, streams)
		if !ok {
			return
		}
		err := lost.Err()
		if err == nil {
			err = errors.New("live: stream closed")
		}
		logger.Warn("Change stream dropped, reconnecting", logger.F("view", listName(list)), logger.F("error", err))
		if lv.OnLost != nil {
			lv.OnLost(err)
		}

		streams, ok = lv.reconnect(runCtx, list, counts, streams)
		if !ok {
			return
		}
		if list != nil {
			if err := list.Load(runCtx); err != nil {
				logger.Warn("Failed to reload after reconnect", logger.F("error", err))
			}
		}
		if counts != nil {
			counts.Schedule()
		}
		logger.Info("Change stream restored", logger.F("view", listName(list)))
		if lv.OnRestored != nil {
			lv.OnRestored()
		}
	}
}

func (lv *Live) reconnect(runCtx context.Context, list *List, counts *Counts, old []Stream) ([]Stream, bool) {
	for _, s := range old {
		_ = s.Close()
	}
	delay := lv.backoff
	for {
		select {
		case <-runCtx.Done():
			return nil, false
		case <-time.After(delay):
		}

		lv.mu.Lock()
		if runCtx.Err() != nil {
			lv.mu.Unlock()
			return nil, false
		}
		streams, err := lv.open(runCtx, list, counts)
		if err == nil {
			lv.channels = streams
		}
		lv.mu.Unlock()
		if err == nil {
			return streams, true
		}

		logger.Debug("Reconnect failed", logger.F("error", err), logger.F("retry_in", delay.String()))
		delay *= 2
		if delay > maxReconnect {
			delay = maxReconnect
		}
	}
}

// firstDone returns the first stream to finish, or false once ctx ends.
func firstDone(ctx context.Context, streams []Stream) (Stream, bool) {
	done := make(chan Stream, len(streams))
	stop := make(chan struct{})
	defer close(stop)
	for _, s := range streams {
		go func(s Stream) {
			select {
			case <-s.Done():
				done <- s
			case <-stop:
			}
		}(s)
	}
	select {
	case s := <-done:
		// Close on the watch path cancels before closing the streams
		if ctx.Err() != nil {
			return nil, false
		}
		return s, true
	case <-ctx.Done():
		return nil, false
	}
}

func listName(l *List) string {
	if l == nil {
		return "counts"
	}
	return l.Selector().String()
}

func (lv *Live) closeLocked() error {
	if lv.cancel != nil {
		lv.cancel()
		lv.cancel = nil
	}
	var errs []error
	for _, ch := range lv.channels {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	lv.channels = nil
	return errors.Join(errs...)
}

// Close ends every stream.
func (lv *Live) Close() error {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	return lv.closeLocked()
}
