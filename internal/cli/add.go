package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/quickadd"
	"github.com/aksanoble/hasu/internal/store"
)

var addCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Add a new todo",
	Long: `Add a new todo.

A #tag picks the first project whose name contains it, and words like
today, tomorrow or a weekday set the due date.

Examples:
  hasu add "Buy groceries"
  hasu add "Call mom #family tomorrow"
  hasu add "Ship release" --project work --due 2024-01-15`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

var (
	addProject string
	addDue     string
)

func init() {
	addCmd.Flags().StringVarP(&addProject, "project", "P", "", "Project name or id (default Inbox)")
	addCmd.Flags().StringVarP(&addDue, "due", "d", "", "Due date (e.g., 'tomorrow', 'fri', '2024-01-15')")
}

// parseDue reads a --due value as a calendar day.
func parseDue(value string, now time.Time) (string, error) {
	value = strings.TrimSpace(value)
	if _, err := time.Parse(model.DayLayout, value); err == nil {
		return value, nil
	}
	res := quickadd.Parse("due "+value, nil, now)
	if res.DueDate == nil {
		return "", fmt.Errorf("cannot read due date %q", value)
	}
	return *res.DueDate, nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	a, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := timeout(cmd.Context())
	defer cancel()

	projects, err := a.backend.Projects().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load projects: %w", err)
	}

	now := time.Now()
	parsed := quickadd.Parse(strings.Join(args, " "), projects, now)
	if parsed.Text == "" {
		return fmt.Errorf("todo text must not be empty")
	}

	project := parsed.Project
	if addProject != "" {
		if project, err = findProject(projects, addProject); err != nil {
			return err
		}
	}
	if project == nil {
		for i := range projects {
			if projects[i].IsInbox {
				project = &projects[i]
				break
			}
		}
	}

	due := parsed.DueDate
	if addDue != "" {
		day, err := parseDue(addDue, now)
		if err != nil {
			return err
		}
		due = &day
	}

	in := store.NewTodo{Text: parsed.Text, DueDate: due}
	if project != nil {
		in.ProjectID = &project.ID
	}
	todo, err := a.backend.Todos().Create(ctx, in)
	if err != nil {
		return fmt.Errorf("failed to create todo: %w", err)
	}
	a.publishWidget(cmd.Context())

	where := "No project"
	if project != nil {
		where = project.Name
	}
	line := fmt.Sprintf("✓ Added to [%s]: \"%s\"", where, todo.Text)
	if due != nil {
		line += " (due " + *due + ")"
	}
	fmt.Println(line)
	if parsed.ProjectQuery != "" && parsed.Project == nil && addProject == "" {
		fmt.Printf("⚠️  No project matches #%s\n", parsed.ProjectQuery)
	}
	return nil
}
