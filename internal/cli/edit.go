package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aksanoble/hasu/internal/model"
	"github.com/aksanoble/hasu/internal/store"
)

var editCmd = &cobra.Command{
	Use:   "edit [todo-id]",
	Short: "Change a todo's text, due date or project",
	Long: `Change a todo. A unique id prefix is enough.

Examples:
  hasu edit 3f9a --text "Buy oat milk"
  hasu edit 3f9a --due fri
  hasu edit 3f9a --clear-due --project work
  hasu edit 3f9a --project none`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

var (
	editText     string
	editDue      string
	editClearDue bool
	editProject  string
)

func init() {
	editCmd.Flags().StringVarP(&editText, "text", "t", "", "New todo text")
	editCmd.Flags().StringVarP(&editDue, "due", "d", "", "New due date (e.g., 'tomorrow', 'fri', '2024-01-15')")
	editCmd.Flags().BoolVar(&editClearDue, "clear-due", false, "Remove the due date")
	editCmd.Flags().StringVarP(&editProject, "project", "P", "", "Move to a project by name or id, 'none' to unassign")
}

// editOptions are the flags that were actually passed.
type editOptions struct {
	Text     *string
	Due      *string
	ClearDue bool
}

// editPatch turns the text and due flags into a patch.
func editPatch(opts editOptions, now time.Time) (store.TodoPatch, error) {
	var patch store.TodoPatch
	if opts.Text != nil {
		text := strings.TrimSpace(*opts.Text)
		if text == "" {
			return patch, errors.New("todo text must not be empty")
		}
		patch.Text = &text
	}
	if opts.Due != nil && opts.ClearDue {
		return patch, errors.New("--due and --clear-due cannot be combined")
	}
	if opts.Due != nil {
		day, err := parseDue(*opts.Due, now)
		if err != nil {
			return patch, err
		}
		patch.DueDate = &day
	}
	patch.ClearDueDate = opts.ClearDue
	return patch, nil
}

// moveTarget resolves --project. "none" unassigns and yields nil.
func moveTarget(projects []model.Project, ref string) (*model.Project, error) {
	if strings.EqualFold(strings.TrimSpace(ref), "none") {
		return nil, nil
	}
	return findProject(projects, ref)
}

func runEdit(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	var opts editOptions
	if flags.Changed("text") {
		opts.Text = &editText
	}
	if flags.Changed("due") {
		opts.Due = &editDue
	}
	opts.ClearDue = editClearDue
	move := flags.Changed("project")

	patch, err := editPatch(opts, time.Now())
	if err != nil {
		return err
	}
	if patch.Empty() && !move {
		return errors.New("nothing to change, pass --text, --due, --clear-due or --project")
	}

	a, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := timeout(cmd.Context())
	defer cancel()

	todo, err := a.resolveTodo(ctx, args[0])
	if err != nil {
		return err
	}

	todos := a.backend.Todos()
	if !patch.Empty() {
		if todo, err = todos.Update(ctx, todo.ID, patch); err != nil {
			return fmt.Errorf("failed to update todo: %w", err)
		}
	}
	if move {
		projects, err := a.backend.Projects().List(ctx)
		if err != nil {
			return fmt.Errorf("failed to load projects: %w", err)
		}
		target, err := moveTarget(projects, editProject)
		if err != nil {
			return err
		}
		var id *string
		if target != nil {
			id = &target.ID
		}
		if todo, err = todos.Move(ctx, todo.ID, id); err != nil {
			return fmt.Errorf("failed to move todo: %w", err)
		}
	}
	a.publishWidget(cmd.Context())

	line := fmt.Sprintf("✎ Updated: \"%s\"", todo.Text)
	if todo.Project != nil {
		line += " [" + todo.Project.Name + "]"
	}
	if todo.DueDate != nil {
		line += " (due " + *todo.DueDate + ")"
	}
	fmt.Println(line)
	return nil
}
