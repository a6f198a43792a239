// Package widget mirrors the todo list for the home screen widget: a JSON
// snapshot the widget renders, a per-task timer and the jobs that keep the
// snapshot fresh.
package widget

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/model"
)

// Snapshot file and key-value fallback locations.
const (
	SnapshotFile   = "widget_data.json"
	PrefsNamespace = "hasu_todo_prefs"
	keyTodos       = "todos"
	keyLoggedIn    = "is_logged_in"
)

// Prefs is a namespaced string key-value store.
type Prefs interface {
	Get(namespace, key string) (string, bool, error)
	Set(namespace, key, value string) error
	Delete(namespace, key string) error
}

// ItemProject is the project name shown next to an item.
type ItemProject struct {
	Name string `json:"name"`
}

// Item is one todo as the widget sees it.
type Item struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	Completed bool         `json:"completed"`
	CreatedAt string       `json:"created_at"`
	DueDate   *string      `json:"due_date"`
	Project   *ItemProject `json:"project,omitempty"`
}

// ItemFromTodo converts a todo.
func ItemFromTodo(t model.Todo) Item {
	it := Item{
		ID:        t.ID,
		Text:      t.Text,
		Completed: t.Completed,
		DueDate:   t.DueDate,
	}
	if !t.CreatedAt.IsZero() {
		it.CreatedAt = t.CreatedAt.Format("2006-01-02T15:04:05.999999Z07:00")
	}
	if t.Project != nil && t.Project.Name != "" {
		it.Project = &ItemProject{Name: t.Project.Name}
	}
	return it
}

// Snapshot is what the widget renders.
type Snapshot struct {
	Todos    []Item
	LoggedIn bool
}

type snapshotJSON struct {
	Todos    json.RawMessage `json:"todos"`
	LoggedIn bool            `json:"is_logged_in"`
}

// decodeTodos accepts an array or a string holding one.
func decodeTodos(raw json.RawMessage) ([]Item, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		raw = json.RawMessage(s)
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func encodeTodos(items []Item) ([]byte, error) {
	if items == nil {
		items = []Item{}
	}
	return json.Marshal(items)
}

// SnapshotStore loads and saves the snapshot.
type SnapshotStore interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}

// FileStore keeps the snapshot in widget_data.json.
type FileStore struct {
	Path string
}

// NewFileStore returns a store for dir/widget_data.json.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Path: filepath.Join(dir, SnapshotFile)}
}

func (s *FileStore) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return Snapshot{}, err
	}
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse %s: %w", s.Path, err)
	}
	items, err := decodeTodos(raw.Todos)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse todos in %s: %w", s.Path, err)
	}
	return Snapshot{Todos: items, LoggedIn: raw.LoggedIn}, nil
}

func (s *FileStore) Save(snap Snapshot) error {
	todos, err := encodeTodos(snap.Todos)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snapshotJSON{Todos: todos, LoggedIn: snap.LoggedIn})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return fmt.Errorf("failed to create widget directory: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write widget data: %w", err)
	}
	return os.Rename(tmp, s.Path)
}

// PrefsStore keeps the snapshot in the key-value store.
type PrefsStore struct {
	Prefs Prefs
}

func (s *PrefsStore) Load() (Snapshot, error) {
	rawTodos, ok, err := s.Prefs.Get(PrefsNamespace, keyTodos)
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return Snapshot{}, os.ErrNotExist
	}
	items, err := decodeTodos(json.RawMessage(rawTodos))
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse stored todos: %w", err)
	}
	rawLogged, _, err := s.Prefs.Get(PrefsNamespace, keyLoggedIn)
	if err != nil {
		return Snapshot{}, err
	}
	loggedIn, _ := strconv.ParseBool(rawLogged)
	return Snapshot{Todos: items, LoggedIn: loggedIn}, nil
}

func (s *PrefsStore) Save(snap Snapshot) error {
	todos, err := encodeTodos(snap.Todos)
	if err != nil {
		return err
	}
	if err := s.Prefs.Set(PrefsNamespace, keyTodos, string(todos)); err != nil {
		return err
	}
	return s.Prefs.Set(PrefsNamespace, keyLoggedIn, strconv.FormatBool(snap.LoggedIn))
}

// FallbackStore reads Primary and falls back to Secondary when Primary is
// absent or unreadable. Saves go to both.
type FallbackStore struct {
	Primary   SnapshotStore
	Secondary SnapshotStore
}

func (s *FallbackStore) Load() (Snapshot, error) {
	snap, err := s.Primary.Load()
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Widget snapshot unreadable, using fallback", logger.F("error", err))
	}
	return s.Secondary.Load()
}

func (s *FallbackStore) Save(snap Snapshot) error {
	if err := s.Primary.Save(snap); err != nil {
		return err
	}
	if err := s.Secondary.Save(snap); err != nil {
		logger.Warn("Failed to mirror widget snapshot", logger.F("error", err))
	}
	return nil
}

// Read loads the snapshot for rendering. Any failure reads as an empty,
// logged out snapshot.
func Read(store SnapshotStore) Snapshot {
	snap, err := store.Load()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Widget data unavailable", logger.F("error", err))
		}
		return Snapshot{}
	}
	return snap
}

// Mirror publishes the app's todo list to the widget.
type Mirror struct {
	store SnapshotStore

	// OnPublish runs after every successful write. Optional.
	OnPublish func(Snapshot)
}

// NewMirror returns a mirror writing to store.
func NewMirror(store SnapshotStore) *Mirror {
	return &Mirror{store: store}
}

// Store returns the underlying snapshot store.
func (m *Mirror) Store() SnapshotStore {
	return m.store
}

// Publish writes todos and the sign-in state.
func (m *Mirror) Publish(todos []model.Todo, loggedIn bool) error {
	snap := Snapshot{LoggedIn: loggedIn, Todos: make([]Item, 0, len(todos))}
	for _, t := range todos {
		snap.Todos = append(snap.Todos, ItemFromTodo(t))
	}
	if err := m.store.Save(snap); err != nil {
		return fmt.Errorf("failed to publish widget data: %w", err)
	}
	logger.Debug("Widget data published", logger.F("todos", len(snap.Todos)), logger.F("logged_in", loggedIn))
	if m.OnPublish != nil {
		m.OnPublish(snap)
	}
	return nil
}

// Clear publishes an empty, logged out snapshot.
func (m *Mirror) Clear() error {
	return m.Publish(nil, false)
}
