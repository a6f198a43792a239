package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/aksanoble/hasu/internal/db"
	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/session"
	"github.com/aksanoble/hasu/internal/store"
	"github.com/aksanoble/hasu/internal/widget"
)

var errNotSignedIn = errors.New("not signed in, run 'hasu auth login'")

// app is a connected command: the stored session and a ready backend.
type app struct {
	sessions *session.Store
	sess     *model.Session
	backend  *store.Backend
}

func schemaName() string {
	return model.DeriveSchemaName(cfg.AppIdentifier)
}

// openSession opens the session file. Sealed sessions prompt for the
// passphrase when stdin is a terminal.
func openSession() (*session.Store, *model.Session, error) {
	st := session.Open(cfg.SessionFile, cfg.SessionPassword)
	sess, err := st.Load()
	if !errors.Is(err, session.ErrSealed) || !term.IsTerminal(int(os.Stdin.Fd())) {
		return st, sess, err
	}

	fmt.Fprint(os.Stderr, "Session passphrase: ")
	pass, rerr := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if rerr != nil {
		return st, nil, fmt.Errorf("failed to read passphrase: %w", rerr)
	}
	cfg.SessionPassword = strings.TrimSpace(string(pass))
	st = session.Open(cfg.SessionFile, cfg.SessionPassword)
	sess, err = st.Load()
	return st, sess, err
}

// connect loads the session and initializes the data client.
func connect(ctx context.Context) (*app, error) {
	st, sess, err := openSession()
	if errors.Is(err, session.ErrNoSession) {
		return nil, errNotSignedIn
	}
	if err != nil {
		return nil, err
	}

	b := store.NewBackend(cfg.RequestTimeout)
	b.TokenSink = st.UpdateTokens

	ictx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	if err := b.Init(ictx, sess, schemaName()); err != nil {
		logger.Error("Failed to initialize data client", logger.F("error", err))
		return nil, err
	}
	return &app{sessions: st, sess: sess, backend: b}, nil
}

func (a *app) close() {
	a.backend.Close()
}

// timeout derives a context bounded by the request timeout.
func timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, cfg.RequestTimeout)
}

// openWidget opens the snapshot store and the prefs database behind it.
func openWidget() (*widget.Mirror, *db.DB, error) {
	prefs, err := db.OpenIn(cfg.WidgetDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open widget prefs: %w", err)
	}
	snapshots := &widget.FallbackStore{
		Primary:   widget.NewFileStore(cfg.WidgetDir),
		Secondary: &widget.PrefsStore{Prefs: prefs},
	}
	return widget.NewMirror(snapshots), prefs, nil
}

// refresher builds a one-shot or periodic widget refresher for a.
func (a *app) refresher(mirror *widget.Mirror) *widget.Refresher {
	return widget.NewRefresher(a.backend.Todos(), mirror, func() (string, bool) {
		id, err := a.backend.UserID()
		return id, err == nil
	}, cfg.WidgetRefresh)
}

// publishWidget mirrors the active todos after a change. Failures are
// logged only.
func (a *app) publishWidget(ctx context.Context) {
	mirror, prefs, err := openWidget()
	if err != nil {
		logger.Warn("Widget update skipped", logger.F("error", err))
		return
	}
	defer prefs.Close()

	ctx, cancel := timeout(ctx)
	defer cancel()
	if err := a.refresher(mirror).RefreshNow(ctx); err != nil {
		logger.Warn("Widget update failed", logger.F("error", err))
	}
}

// findTodo resolves a full id or a unique id prefix.
func findTodo(todos []model.Todo, ref string) (*model.Todo, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("todo id must not be empty")
	}
	var match *model.Todo
	for i := range todos {
		if todos[i].ID == ref {
			return &todos[i], nil
		}
		if strings.HasPrefix(todos[i].ID, ref) {
			if match != nil {
				return nil, fmt.Errorf("id prefix %q is ambiguous", ref)
			}
			match = &todos[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("todo not found: %s", ref)
	}
	return match, nil
}

// resolveTodo finds a todo by id or prefix among the user's todos.
func (a *app) resolveTodo(ctx context.Context, ref string) (*model.Todo, error) {
	if len(ref) == 36 {
		return a.backend.Todos().Get(ctx, ref)
	}
	todos, err := a.backend.Todos().List(ctx)
	if err != nil {
		return nil, err
	}
	return findTodo(todos, ref)
}

// findProject resolves an id, an id prefix or a case-insensitive name.
func findProject(projects []model.Project, ref string) (*model.Project, error) {
	ref = strings.TrimSpace(ref)
	for i := range projects {
		if projects[i].ID == ref || strings.EqualFold(projects[i].Name, ref) {
			return &projects[i], nil
		}
	}
	var match *model.Project
	for i := range projects {
		if ref != "" && strings.HasPrefix(projects[i].ID, ref) {
			if match != nil {
				return nil, fmt.Errorf("project %q is ambiguous", ref)
			}
			match = &projects[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("project not found: %s", ref)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
