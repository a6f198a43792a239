package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/view"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List todos",
	Long: `List the todos of one view.

Views: all (default), today, upcoming, completed, or a project name.

Examples:
  hasu list
  hasu list --view today
  hasu list --view inbox`,
	RunE: runList,
}

var listView string

func init() {
	listCmd.Flags().StringVarP(&listView, "view", "v", "all", "View: all, today, upcoming, completed or a project")
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := timeout(cmd.Context())
	defer cancel()

	sel, err := view.ParseSelector(listView)
	if err != nil {
		projects, perr := a.backend.Projects().List(ctx)
		if perr != nil {
			return fmt.Errorf("failed to load projects: %w", perr)
		}
		p, ferr := findProject(projects, listView)
		if ferr != nil {
			return err
		}
		sel = view.Project(p.ID, p.Name)
	}

	list := view.NewList(a.backend.Todos(), sel)
	if err := list.Load(ctx); err != nil {
		return fmt.Errorf("failed to list todos: %w", err)
	}

	if list.Len() == 0 {
		fmt.Printf("\n📁 %s\n\nNo todos here. Add one with: hasu add \"Your todo\"\n\n", sel.Title())
		return nil
	}
	printSections(sel.Title(), list.Sections(), time.Now())
	return nil
}

func printSections(title string, sections []view.Section, now time.Time) {
	total := 0
	for _, s := range sections {
		total += len(s.Todos)
	}
	fmt.Printf("\n📁 %s (%d)\n", title, total)
	fmt.Println(strings.Repeat("─", 60))

	for _, s := range sections {
		if s.Title != "" {
			fmt.Printf("\n  %s\n", s.Title)
		}
		for _, t := range s.Todos {
			fmt.Println(formatTodo(t, now))
		}
	}
	fmt.Println()
}

func formatTodo(t model.Todo, now time.Time) string {
	icon := "[ ]"
	if t.Completed {
		icon = "[x]"
	}

	due := ""
	if day, ok := t.DueDay(now.Location()); ok {
		if parsed, err := time.ParseInLocation(model.DayLayout, day, now.Location()); err == nil {
			due = parsed.Format("Jan 2")
		}
		if t.IsOverdue(now) && !t.Completed {
			due = "! " + due
		}
	}

	text := t.Text
	if len([]rune(text)) > 40 {
		text = string([]rune(text)[:37]) + "..."
	}

	project := ""
	if t.Project != nil {
		project = "#" + t.Project.Name
	}

	return strings.TrimRight(fmt.Sprintf("  %s  %-8s  %-40s  %-8s  %s", icon, shortID(t.ID), text, due, project), " ")
}
