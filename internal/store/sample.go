package store

import (
	"context"
	"sync"
	"time"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/postgrest"
)

const (
	sampleAttempts    = 3
	sampleProjectName = "Dev Sandbox"
)

var (
	sampleRetryDelay = 2 * time.Second

	sampleMu    sync.Mutex
	sampleInFly = map[string]bool{}
)

// withRetry retries fn while the freshly deployed schema is not yet visible.
func withRetry[T any](ctx context.Context, label string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i < sampleAttempts; i++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !postgrest.IsSchemaNotReady(err) || i == sampleAttempts-1 {
			break
		}
		logger.Debug("Retrying while schema loads", logger.F("op", label), logger.F("attempt", i+1), logger.F("error", err))
		select {
		case <-time.After(sampleRetryDelay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}

// EnsureSampleData provisions the Inbox and a small sample project on the
// first session of a user. Users that already have projects are left alone.
// Failures are logged and swallowed.
func (b *Backend) EnsureSampleData(ctx context.Context, userID string) {
	if userID == "" {
		return
	}

	sampleMu.Lock()
	if sampleInFly[userID] {
		sampleMu.Unlock()
		return
	}
	sampleInFly[userID] = true
	sampleMu.Unlock()
	defer func() {
		sampleMu.Lock()
		delete(sampleInFly, userID)
		sampleMu.Unlock()
	}()

	if err := b.seed(ctx, userID); err != nil {
		logger.Warn("Sample data setup skipped", logger.F("error", err))
	}
}

func (b *Backend) seed(ctx context.Context, userID string) error {
	projects, todos := b.Projects(), b.Todos()

	existing, err := withRetry(ctx, "get projects", func() ([]model.Project, error) {
		return projects.List(ctx)
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	inboxID, err := withRetry(ctx, "ensure inbox", func() (string, error) {
		return projects.EnsureInbox(ctx, userID)
	})
	if err != nil || inboxID == "" {
		created, cerr := withRetry(ctx, "create inbox", func() (*model.Project, error) {
			return projects.Create(ctx, model.DefaultInboxProject(userID))
		})
		if cerr != nil {
			return cerr
		}
		inboxID = created.ID
	}

	sample, err := withRetry(ctx, "create sample project", func() (*model.Project, error) {
		return projects.Create(ctx, model.Project{Name: sampleProjectName, Color: model.ColorGreen, UserID: userID})
	})
	if err != nil {
		return err
	}

	today := model.LocalDay(time.Now(), time.Local)
	seeds := []struct {
		text    string
		project string
	}{
		{"Welcome to Hasu! Quick-capture your tasks here.", inboxID},
		{"Type #project and today, tomorrow or a weekday to file and schedule as you write.", inboxID},
		{"Clone the repo and run the tests", sample.ID},
		{"Point the client at your own database", sample.ID},
		{"Ship the first PR", sample.ID},
	}

	var last *model.Todo
	for _, s := range seeds {
		s := s
		last, err = withRetry(ctx, "create sample todo", func() (*model.Todo, error) {
			return todos.Create(ctx, NewTodo{
				Text:      s.text,
				ProjectID: model.StringPtr(s.project),
				DueDate:   model.StringPtr(today),
				UserID:    userID,
			})
		})
		if err != nil {
			return err
		}
	}

	_, err = withRetry(ctx, "complete sample todo", func() (*model.Todo, error) {
		return todos.Update(ctx, last.ID, SetCompleted(true))
	})
	if err == nil {
		logger.Info("Sample data created", logger.F("user", userID))
	}
	return err
}
