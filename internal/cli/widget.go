package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/widget"
)

var widgetCmd = &cobra.Command{
	Use:   "widget",
	Short: "Inspect and refresh the home screen widget data",
}

var widgetShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Render the widget as it would appear",
	RunE:  runWidgetShow,
}

var widgetTimerCmd = &cobra.Command{
	Use:   "timer [todo-id]",
	Short: "Start, pause or switch the task timer",
	Long: `Tap the timer of a widget row.

Tapping the running task pauses it, tapping the selected paused task resumes
it and tapping another task banks the running one and starts the new one.`,
	Args: cobra.ExactArgs(1),
	RunE: runWidgetTimer,
}

var widgetRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Republish the widget data from the database",
	RunE:  runWidgetRefresh,
}

var widgetWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the widget data fresh and redraw on every change",
	RunE:  runWidgetWatch,
}

func init() {
	widgetCmd.AddCommand(widgetShowCmd)
	widgetCmd.AddCommand(widgetTimerCmd)
	widgetCmd.AddCommand(widgetRefreshCmd)
	widgetCmd.AddCommand(widgetWatchCmd)
}

func renderWidget(snap widget.Snapshot, timer *widget.Timer, now time.Time) {
	fmt.Println()
	if !snap.LoggedIn {
		fmt.Println("  🔒 Sign in to Hasu to see your todos")
		fmt.Println()
		return
	}

	items := widget.Visible(snap.Todos, now)
	if len(items) == 0 {
		fmt.Println("  🎉 Nothing left to do")
		fmt.Println()
		return
	}

	selected, _ := timer.Selected()
	for _, it := range items {
		mark := "  "
		if it.ID == selected {
			mark = "⏸ "
			if timer.State() == widget.TimerRunning {
				mark = "▶ "
			}
		}
		d, _ := timer.Elapsed(it.ID)
		elapsed := widget.FormatElapsed(d)
		project := ""
		if it.Project != nil {
			project = "#" + it.Project.Name
		}
		fmt.Printf("%s%-8s  %-36s  %5s  %s\n", mark, shortID(it.ID), it.Text, elapsed, project)
	}
	fmt.Println()
}

func runWidgetShow(cmd *cobra.Command, args []string) error {
	mirror, prefs, err := openWidget()
	if err != nil {
		return err
	}
	defer prefs.Close()

	renderWidget(widget.Read(mirror.Store()), widget.NewTimer(prefs, nil), time.Now())
	return nil
}

func runWidgetTimer(cmd *cobra.Command, args []string) error {
	mirror, prefs, err := openWidget()
	if err != nil {
		return err
	}
	defer prefs.Close()

	snap := widget.Read(mirror.Store())
	id, title := args[0], ""
	for _, it := range snap.Todos {
		if it.ID == args[0] || shortID(it.ID) == args[0] {
			id, title = it.ID, it.Text
			break
		}
	}

	timer := widget.NewTimer(prefs, nil)
	state, err := timer.Toggle(id, title)
	if err != nil {
		return err
	}
	elapsed, _ := timer.Elapsed(id)
	if title == "" {
		title = timer.Title(id)
	}
	if title == "" {
		title = shortID(id)
	}

	if state == widget.TimerRunning {
		fmt.Printf("▶ Timing \"%s\" (%s so far)\n", title, widget.FormatElapsed(elapsed))
	} else {
		fmt.Printf("⏸ Paused \"%s\" at %s\n", title, widget.FormatElapsed(elapsed))
	}
	return nil
}

func runWidgetRefresh(cmd *cobra.Command, args []string) error {
	mirror, prefs, err := openWidget()
	if err != nil {
		return err
	}
	defer prefs.Close()

	a, err := connect(cmd.Context())
	if errors.Is(err, errNotSignedIn) {
		if err := mirror.Clear(); err != nil {
			return err
		}
		fmt.Println("🔒 Not signed in, widget cleared")
		return nil
	}
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := timeout(cmd.Context())
	defer cancel()
	if err := a.refresher(mirror).RefreshNow(ctx); err != nil {
		return fmt.Errorf("widget refresh failed: %w", err)
	}
	snap := widget.Read(mirror.Store())
	fmt.Printf("✓ Widget updated (%d todos)\n", len(snap.Todos))
	return nil
}

func runWidgetWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirror, prefs, err := openWidget()
	if err != nil {
		return err
	}
	defer prefs.Close()
	timer := widget.NewTimer(prefs, nil)

	// seed the snapshot so the watcher has a file to follow
	if a, err := connect(ctx); err == nil {
		r := a.refresher(mirror)
		if err := r.RefreshNow(ctx); err != nil {
			logger.Warn("Initial widget refresh failed", logger.F("error", err))
		}
		r.Start()
		defer func() {
			r.Stop()
			a.close()
		}()
	} else if !errors.Is(err, errNotSignedIn) {
		return err
	} else if err := mirror.Clear(); err != nil {
		return err
	}

	w, err := widget.NewWatcher(cfg.WidgetDir)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	redraw := func() {
		fmt.Print("\033[H\033[2J")
		fmt.Printf("Hasu widget (refresh every %s, Ctrl+C to stop)\n", cfg.WidgetRefresh)
		renderWidget(widget.Read(mirror.Store()), timer, time.Now())
	}
	redraw()

	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.Reload():
			redraw()
		case <-tick.C:
			// running timers advance
			redraw()
		case err := <-w.Errors():
			logger.Warn("Widget watcher error", logger.F("error", err))
		}
	}
}
