package view

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/postgrest"
)

const recountInterval = 500 * time.Millisecond

// CountSource fetches authoritative counts.
type CountSource interface {
	ListWithCounts(ctx context.Context) ([]model.Project, error)
	CountToday(ctx context.Context, userID string, now time.Time) (int, error)
	CountUpcoming(ctx context.Context, userID string, now time.Time) (int, error)
}

// Tally is a point-in-time copy of the sidebar counts.
type Tally struct {
	Projects []model.Project // TodoCount holds the active todos
	Today    int
	Upcoming int
}

// Project returns the project id from the tally.
func (t Tally) Project(id string) (model.Project, bool) {
	for _, p := range t.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return model.Project{}, false
}

// Counts keeps per-project active counts plus the today and upcoming
// totals. Change events adjust the counts at once and schedule a recount.
type Counts struct {
	mu     sync.Mutex
	tally  Tally
	src    CountSource
	userID string

	now      func() time.Time
	limiter  *rate.Limiter
	kick     chan struct{}
	OnChange func(Tally)
}

// NewCounts returns empty counts for userID.
func NewCounts(src CountSource, userID string) *Counts {
	return &Counts{
		src:     src,
		userID:  userID,
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Every(recountInterval), 1),
		kick:    make(chan struct{}, 1),
	}
}

// Tally returns a copy of the current counts.
func (c *Counts) Tally() Tally {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.tally
	out.Projects = append([]model.Project(nil), c.tally.Projects...)
	return out
}

func (c *Counts) changed() {
	if c.OnChange != nil {
		c.OnChange(c.Tally())
	}
}

// Recount replaces every count with fresh server values.
func (c *Counts) Recount(ctx context.Context) error {
	now := c.now()
	projects, err := c.src.ListWithCounts(ctx)
	if err != nil {
		return err
	}
	today, err := c.src.CountToday(ctx, c.userID, now)
	if err != nil {
		return err
	}
	upcoming, err := c.src.CountUpcoming(ctx, c.userID, now)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tally = Tally{Projects: projects, Today: today, Upcoming: upcoming}
	c.mu.Unlock()
	c.changed()
	return nil
}

// ApplyDelta adjusts the project counts for one todo change event.
func (c *Counts) ApplyDelta(ev postgrest.ChangeEvent) {
	var rec, old model.Todo
	if len(ev.New) > 0 {
		_ = json.Unmarshal(ev.New, &rec)
	}
	if len(ev.Old) > 0 {
		_ = json.Unmarshal(ev.Old, &old)
	}

	c.mu.Lock()
	changed := false
	bump := func(projectID *string, delta int) {
		if projectID == nil {
			return
		}
		for i := range c.tally.Projects {
			if c.tally.Projects[i].ID != *projectID {
				continue
			}
			n := c.tally.Projects[i].TodoCount + delta
			if n < 0 {
				n = 0
			}
			c.tally.Projects[i].TodoCount = n
			changed = true
			return
		}
	}

	switch ev.Type {
	case postgrest.EventInsert:
		if rec.Active() {
			bump(rec.ProjectID, 1)
		}
	case postgrest.EventDelete:
		if old.Active() {
			bump(old.ProjectID, -1)
		}
	case postgrest.EventUpdate:
		if old.ProjectKey() != rec.ProjectKey() {
			if old.Active() {
				bump(old.ProjectID, -1)
			}
			if rec.Active() {
				bump(rec.ProjectID, 1)
			}
		} else if old.Completed != rec.Completed {
			if rec.Completed {
				bump(rec.ProjectID, -1)
			} else {
				bump(rec.ProjectID, 1)
			}
		}
	}
	c.mu.Unlock()

	if changed {
		c.changed()
	}
}

// Schedule asks the Run loop for a recount. Requests made while one is
// pending are merged.
func (c *Counts) Schedule() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// HandleTodo applies the delta and schedules a recount.
func (c *Counts) HandleTodo(ev postgrest.ChangeEvent) {
	c.ApplyDelta(ev)
	c.Schedule()
}

// HandleProject schedules a recount for any project change.
func (c *Counts) HandleProject(postgrest.ChangeEvent) {
	c.Schedule()
}

// Run serves scheduled recounts, at most one per recountInterval, until ctx
// is done.
func (c *Counts) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		if err := c.Recount(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Failed to refresh counts", logger.F("error", err))
		}
	}
}
