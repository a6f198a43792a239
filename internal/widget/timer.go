package widget

import (
	"fmt"
	"strconv"
	"time"
)

// Timer keys.
const (
	TimerNamespace = "hasu_todo_timers"
	keySelected    = "selected_task_id"
	keyRunningBase = "running_base"
	accumPrefix    = "accum_"
	titlePrefix    = "title_"
)

// Clock reads milliseconds from a clock that does not jump backwards
// between readings taken by different processes.
type Clock interface {
	NowMillis() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) NowMillis() int64 { return time.Now().UnixMilli() }

// TimerState is Idle or Running.
type TimerState int

const (
	TimerIdle TimerState = iota
	TimerRunning
)

func (s TimerState) String() string {
	if s == TimerRunning {
		return "running"
	}
	return "idle"
}

// Timer tracks time spent per task. At most one task runs; the selected
// task stays selected while paused.
type Timer struct {
	prefs Prefs
	clock Clock
}

// NewTimer returns a timer persisted in prefs.
func NewTimer(prefs Prefs, clock Clock) *Timer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Timer{prefs: prefs, clock: clock}
}

func (t *Timer) getInt(key string) (int64, error) {
	v, ok, err := t.prefs.Get(TimerNamespace, key)
	if err != nil || !ok || v == "" {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (t *Timer) setInt(key string, v int64) error {
	return t.prefs.Set(TimerNamespace, key, strconv.FormatInt(v, 10))
}

// Selected returns the selected task id.
func (t *Timer) Selected() (string, bool) {
	v, ok, err := t.prefs.Get(TimerNamespace, keySelected)
	if err != nil || !ok || v == "" {
		return "", false
	}
	return v, true
}

// State reports whether a task is running.
func (t *Timer) State() TimerState {
	base, _ := t.getInt(keyRunningBase)
	if base > 0 {
		return TimerRunning
	}
	return TimerIdle
}

// Title returns the title stored for taskID.
func (t *Timer) Title(taskID string) string {
	v, _, _ := t.prefs.Get(TimerNamespace, titlePrefix+taskID)
	return v
}

// bank adds the running delta to taskID's total.
func (t *Timer) bank(taskID string, base, now int64) error {
	prev, err := t.getInt(accumPrefix + taskID)
	if err != nil {
		return err
	}
	delta := now - base
	if delta < 0 {
		delta = 0
	}
	return t.setInt(accumPrefix+taskID, prev+delta)
}

// Toggle handles a tap on taskID. Tapping the running task pauses it,
// tapping the selected paused task resumes it and tapping another task
// banks the running one and starts the new one.
func (t *Timer) Toggle(taskID, title string) (TimerState, error) {
	if taskID == "" {
		return TimerIdle, fmt.Errorf("task id must not be empty")
	}
	now := t.clock.NowMillis()
	selected, _ := t.Selected()
	base, err := t.getInt(keyRunningBase)
	if err != nil {
		return TimerIdle, err
	}
	if title != "" {
		if err := t.prefs.Set(TimerNamespace, titlePrefix+taskID, title); err != nil {
			return TimerIdle, err
		}
	}

	if selected == taskID {
		if base > 0 {
			if err := t.bank(taskID, base, now); err != nil {
				return TimerIdle, err
			}
			return TimerIdle, t.prefs.Delete(TimerNamespace, keyRunningBase)
		}
		return TimerRunning, t.setInt(keyRunningBase, now)
	}

	if selected != "" && base > 0 {
		if err := t.bank(selected, base, now); err != nil {
			return TimerIdle, err
		}
	}
	if err := t.prefs.Set(TimerNamespace, keySelected, taskID); err != nil {
		return TimerIdle, err
	}
	return TimerRunning, t.setInt(keyRunningBase, now)
}

// Elapsed is the banked time of taskID plus the live delta if it runs.
func (t *Timer) Elapsed(taskID string) (time.Duration, error) {
	ms, err := t.getInt(accumPrefix + taskID)
	if err != nil {
		return 0, err
	}
	if selected, ok := t.Selected(); ok && selected == taskID {
		if base, _ := t.getInt(keyRunningBase); base > 0 {
			if d := t.clock.NowMillis() - base; d > 0 {
				ms += d
			}
		}
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// FormatElapsed renders d as HH:MM, or "" when nothing was tracked.
func FormatElapsed(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	total := int64(d / time.Minute)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
